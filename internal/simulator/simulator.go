// Package simulator implements pre-flight validation and success
// prediction from spec section 4.4: policy-based instruction validation
// before any RPC is issued, dispatch of a dry-run simulation through the
// endpoint pool, compute-unit estimation with a safety multiplier, and a
// heuristic success-probability score.
package simulator

import (
	"context"
	"math"
	"strings"

	"github.com/gagliardetto/solana-go"

	"github.com/solbundle/solbundle/internal/bundle"
	"github.com/solbundle/solbundle/internal/errs"
)

// Policy is the security configuration block spec section 6's
// security.* options describe.
type Policy struct {
	ProgramWhitelist    []string // empty means allow all
	MaxBundleSize       int
	MaxWritableAccounts int
	ValidateInstructions bool
	RequireSimulation    bool
}

func (p Policy) allows(programID solana.PublicKey) bool {
	if len(p.ProgramWhitelist) == 0 {
		return true
	}
	id := programID.String()
	for _, allowed := range p.ProgramWhitelist {
		if allowed == id {
			return true
		}
	}
	return false
}

// Validate enforces spec section 4.4's validate(instructions) contract:
// bundle size, program allow-list, per-instruction writable-account
// count, in that order. The first violation wins.
func Validate(policy Policy, instructions []bundle.Instruction) error {
	if len(instructions) == 0 {
		return errs.New(errs.InvalidInput, "simulator: instruction list must not be empty")
	}
	if policy.MaxBundleSize > 0 && len(instructions) > policy.MaxBundleSize {
		return errs.Newf(errs.Simulation, "bundle size %d exceeds max_bundle_size %d", len(instructions), policy.MaxBundleSize)
	}

	for i, ix := range instructions {
		if !policy.allows(ix.ProgramID) {
			return errs.Newf(errs.Simulation, "instruction %d: program %s not whitelisted", i, ix.ProgramID.String())
		}
	}
	if policy.MaxWritableAccounts > 0 {
		for i, ix := range instructions {
			writable := 0
			for _, a := range ix.Accounts {
				if a.IsWritable {
					writable++
				}
			}
			if writable > policy.MaxWritableAccounts {
				return errs.Newf(errs.Simulation, "instruction %d: writable account count %d exceeds max_writable_accounts %d", i, writable, policy.MaxWritableAccounts)
			}
		}
	}
	return nil
}

// RunResult is the SimulationResult structure spec section 4.4 names:
// the outcome of dispatching a transaction's simulation through the
// pool.
type RunResult struct {
	Success                  bool
	ConsumedComputeUnits     *uint64
	Logs                     []string
	Error                    string
	Retryable                bool
	WritableAccountsModified []solana.PublicKey
	EstimatedFee             *uint64
	ReturnData               []byte
}

// Simulator dispatches simulate_transaction through the pool and turns
// its response into estimates and scores.
type Simulator struct {
	policy Policy
	runner func(ctx context.Context, tx *solana.Transaction) (RunResult, error)
}

// New builds a Simulator bound to a policy and a transaction-simulation
// runner (internal/rpcpool-backed in production).
func New(policy Policy, runner func(ctx context.Context, tx *solana.Transaction) (RunResult, error)) *Simulator {
	return &Simulator{policy: policy, runner: runner}
}

// Validate re-exposes the package-level Validate bound to this
// Simulator's policy, so callers only need one object.
func (s *Simulator) Validate(instructions []bundle.Instruction) error {
	return Validate(s.policy, instructions)
}

// Simulate implements simulate(transaction) from spec section 4.4.
func (s *Simulator) Simulate(ctx context.Context, tx *solana.Transaction) (RunResult, error) {
	return s.runner(ctx, tx)
}

const (
	minComputeUnits = 1_000
	maxComputeUnits = 1_400_000
)

// EstimateComputeUnits implements estimate_compute_units(transaction)
// from spec section 4.4.
func EstimateComputeUnits(result RunResult, instructionCount int) uint32 {
	var raw float64
	if result.ConsumedComputeUnits != nil {
		raw = math.Ceil(float64(*result.ConsumedComputeUnits) * 1.2)
	} else {
		raw = float64(1_000 + 10_000*instructionCount)
	}
	return clampComputeUnits(raw)
}

func clampComputeUnits(v float64) uint32 {
	if v < minComputeUnits {
		return minComputeUnits
	}
	if v > maxComputeUnits {
		return maxComputeUnits
	}
	return uint32(v)
}

// PredictSuccess implements predict_success(transaction) from spec
// section 4.4.
func PredictSuccess(result RunResult) float64 {
	if !result.Success {
		switch {
		case result.Error == "":
			return 0.1
		case result.Retryable:
			return 0.3
		default:
			return 0.0
		}
	}

	score := 0.9
	if result.ConsumedComputeUnits != nil {
		switch {
		case *result.ConsumedComputeUnits > 1_000_000:
			score *= 0.8
		case *result.ConsumedComputeUnits < 10_000:
			score *= 1.1
		}
	}
	if len(result.WritableAccountsModified) > 10 {
		score *= 0.9
	}
	for _, line := range result.Logs {
		if strings.Contains(strings.ToLower(line), "warning") {
			score *= 0.95
		}
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}
