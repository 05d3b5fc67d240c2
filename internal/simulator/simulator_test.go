package simulator

import (
	"context"
	"math"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solbundle/solbundle/internal/bundle"
)

func ix(programID solana.PublicKey, writable int) bundle.Instruction {
	accounts := make([]bundle.AccountRef, writable)
	for i := range accounts {
		accounts[i] = bundle.AccountRef{PublicKey: solana.NewWallet().PublicKey(), IsWritable: true}
	}
	return bundle.Instruction{ProgramID: programID, Accounts: accounts}
}

func TestValidateRejectsEmptyInstructions(t *testing.T) {
	err := Validate(Policy{}, nil)
	assert.Error(t, err)
}

func TestValidateRejectsOversizedBundle(t *testing.T) {
	prog := solana.NewWallet().PublicKey()
	instrs := []bundle.Instruction{ix(prog, 0), ix(prog, 0), ix(prog, 0)}
	err := Validate(Policy{MaxBundleSize: 2}, instrs)
	assert.Error(t, err)
}

func TestValidateEmptyAllowlistAllowsAll(t *testing.T) {
	prog := solana.NewWallet().PublicKey()
	err := Validate(Policy{}, []bundle.Instruction{ix(prog, 0)})
	assert.NoError(t, err)
}

func TestValidateRejectsNonWhitelistedProgram(t *testing.T) {
	allowed := solana.NewWallet().PublicKey()
	other := solana.NewWallet().PublicKey()
	err := Validate(Policy{ProgramWhitelist: []string{allowed.String()}}, []bundle.Instruction{ix(other, 0)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not whitelisted")
}

func TestValidateAllowsWhitelistedProgram(t *testing.T) {
	allowed := solana.NewWallet().PublicKey()
	err := Validate(Policy{ProgramWhitelist: []string{allowed.String()}}, []bundle.Instruction{ix(allowed, 0)})
	assert.NoError(t, err)
}

func TestValidateRejectsExcessWritableAccounts(t *testing.T) {
	prog := solana.NewWallet().PublicKey()
	err := Validate(Policy{MaxWritableAccounts: 2}, []bundle.Instruction{ix(prog, 3)})
	assert.Error(t, err)
}

func u64p(v uint64) *uint64 { return &v }

func TestEstimateComputeUnitsUsesSimulatedConsumption(t *testing.T) {
	result := RunResult{ConsumedComputeUnits: u64p(10_000)}
	got := EstimateComputeUnits(result, 1)
	assert.Equal(t, uint32(12_000), got) // ceil(10000*1.2)
}

func TestEstimateComputeUnitsFallsBackToInstructionCount(t *testing.T) {
	result := RunResult{}
	got := EstimateComputeUnits(result, 3)
	assert.Equal(t, uint32(31_000), got) // 1000 + 10000*3
}

func TestEstimateComputeUnitsClampsLowerBound(t *testing.T) {
	result := RunResult{ConsumedComputeUnits: u64p(1)}
	got := EstimateComputeUnits(result, 0)
	assert.Equal(t, uint32(1_000), got)
}

func TestEstimateComputeUnitsClampsUpperBound(t *testing.T) {
	result := RunResult{ConsumedComputeUnits: u64p(10_000_000)}
	got := EstimateComputeUnits(result, 0)
	assert.Equal(t, uint32(1_400_000), got)
}

func TestPredictSuccessBaseCase(t *testing.T) {
	result := RunResult{Success: true, ConsumedComputeUnits: u64p(500_000)}
	assert.InDelta(t, 0.9, PredictSuccess(result), 1e-9)
}

func TestPredictSuccessHighComputePenalty(t *testing.T) {
	result := RunResult{Success: true, ConsumedComputeUnits: u64p(2_000_000)}
	assert.InDelta(t, 0.9*0.8, PredictSuccess(result), 1e-9)
}

func TestPredictSuccessLowComputeBonus(t *testing.T) {
	result := RunResult{Success: true, ConsumedComputeUnits: u64p(5_000)}
	assert.InDelta(t, math.Min(0.9*1.1, 1.0), PredictSuccess(result), 1e-9)
}

func TestPredictSuccessManyWritableAccountsPenalty(t *testing.T) {
	accounts := make([]solana.PublicKey, 11)
	result := RunResult{Success: true, WritableAccountsModified: accounts}
	assert.InDelta(t, 0.9*0.9, PredictSuccess(result), 1e-9)
}

func TestPredictSuccessWarningLogsPenalty(t *testing.T) {
	result := RunResult{Success: true, Logs: []string{"Program log: Warning: low balance"}}
	assert.InDelta(t, 0.9*0.95, PredictSuccess(result), 1e-9)
}

func TestPredictSuccessFailureRetryable(t *testing.T) {
	result := RunResult{Success: false, Error: "blockhash not found", Retryable: true}
	assert.Equal(t, 0.3, PredictSuccess(result))
}

func TestPredictSuccessFailureNonRetryable(t *testing.T) {
	result := RunResult{Success: false, Error: "insufficient funds", Retryable: false}
	assert.Equal(t, 0.0, PredictSuccess(result))
}

func TestPredictSuccessFailureNoErrorReported(t *testing.T) {
	result := RunResult{Success: false}
	assert.Equal(t, 0.1, PredictSuccess(result))
}

func TestSimulatorValidateDelegatesToPolicy(t *testing.T) {
	s := New(Policy{MaxBundleSize: 1}, func(ctx context.Context, tx *solana.Transaction) (RunResult, error) {
		return RunResult{Success: true}, nil
	})
	prog := solana.NewWallet().PublicKey()
	err := s.Validate([]bundle.Instruction{ix(prog, 0), ix(prog, 0)})
	assert.Error(t, err)
}

func TestSimulatorSimulateDelegatesToRunner(t *testing.T) {
	called := false
	s := New(Policy{}, func(ctx context.Context, tx *solana.Transaction) (RunResult, error) {
		called = true
		return RunResult{Success: true}, nil
	})
	result, err := s.Simulate(context.Background(), &solana.Transaction{})
	require.NoError(t, err)
	assert.True(t, called)
	assert.True(t, result.Success)
}
