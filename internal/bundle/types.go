// Package bundle holds the data model shared across solbundle's submission
// pipeline: client-facing request/response shapes and the derived,
// orchestrator-owned transaction state.
package bundle

import (
	"time"

	"github.com/gagliardetto/solana-go"
)

// ComputeLimitPolicy selects between an automatic (simulator-estimated) and
// a client-fixed compute unit limit.
type ComputeLimitPolicy struct {
	Auto  bool
	Fixed uint32
}

// ComputePricePolicy selects between an automatic (fee-controller-derived)
// and a client-fixed compute unit price, in micro-lamports per CU.
type ComputePricePolicy struct {
	Auto  bool
	Fixed uint64
}

// CompoundBudget is the client-supplied compute policy for a bundle.
type CompoundBudget struct {
	Limit            ComputeLimitPolicy
	Price            ComputePricePolicy
	MaxPriceCeiling  uint64 // lamports per CU, 0 means "use controller default"
}

// AccountRef is one account reference within an Instruction.
type AccountRef struct {
	PublicKey  solana.PublicKey
	IsSigner   bool
	IsWritable bool
}

// Instruction is a single client-supplied instruction: a program identifier,
// an ordered list of account references, and opaque data bytes (already
// base64-decoded by the time it reaches this type — see
// orchestrator.DecodeInstructionData).
type Instruction struct {
	ProgramID solana.PublicKey
	Accounts  []AccountRef
	Data      []byte
}

// ToSolana converts Instruction into the solana.Instruction the SDK's
// transaction builder consumes.
func (ix Instruction) ToSolana() solana.Instruction {
	metas := make([]*solana.AccountMeta, len(ix.Accounts))
	for i, a := range ix.Accounts {
		metas[i] = &solana.AccountMeta{
			PublicKey:  a.PublicKey,
			IsSigner:   a.IsSigner,
			IsWritable: a.IsWritable,
		}
	}
	return solana.NewInstruction(ix.ProgramID, metas, ix.Data)
}

// BundleRequest is client input. See spec section 3 for the full invariant
// list; BundleRequest itself does not enforce them — that is the
// simulator's validate() responsibility (internal/simulator) so that
// validation stays a single, testable pure function of (instructions,
// policy snapshot).
type BundleRequest struct {
	RequestID          string
	Atomic             bool
	Budget             CompoundBudget
	AddressLookupTables []solana.PublicKey
	Instructions        []Instruction
	AdditionalSigners   []string // aliases, looked up in the signer set
	Metadata            map[string]string
}

// ConfirmationLevel orders Solana's commitment levels so results can be
// compared with <.
type ConfirmationLevel int

const (
	LevelUnprocessed ConfirmationLevel = iota
	LevelProcessed
	LevelConfirmed
	LevelFinalized
)

func (l ConfirmationLevel) String() string {
	switch l {
	case LevelProcessed:
		return "processed"
	case LevelConfirmed:
		return "confirmed"
	case LevelFinalized:
		return "finalized"
	default:
		return "unprocessed"
	}
}

// TransactionStatus is the per-transaction lifecycle state (spec section
// 3's TransactionResult.status). The orchestrator's internal stages are
// not represented here.
type TransactionStatus string

const (
	StatusPending   TransactionStatus = "pending"
	StatusProcessed TransactionStatus = "processed"
	StatusConfirmed TransactionStatus = "confirmed"
	StatusFinalized TransactionStatus = "finalized"
	StatusFailed    TransactionStatus = "failed"
)

// TransactionResult is one entry of BundleResponse.Transactions.
type TransactionResult struct {
	Signature             string
	Status                TransactionStatus
	ComputeUnitsConsumed  *uint64
	FeePaidLamports       *uint64
	Logs                  []string
	Error                 string
	RetryAttempts         int
	ConfirmationLevel     ConfirmationLevel
}

// AggregateStatus is BundleResponse's top-level outcome.
type AggregateStatus string

const (
	AggregateProcessing AggregateStatus = "processing"
	AggregateSuccess    AggregateStatus = "success"
	AggregatePartial    AggregateStatus = "partial"
	AggregateFailed     AggregateStatus = "failed"
	AggregateTimeout    AggregateStatus = "timeout"
	AggregateRejected   AggregateStatus = "rejected"
)

// StageTimings accumulates per-stage wall-clock time for a single bundle,
// reported back in BundleResponse.Metrics.
type StageTimings struct {
	SimulateMs time.Duration
	SignMs     time.Duration
	SubmitMs   time.Duration
	ConfirmMs  time.Duration
	TotalMs    time.Duration
}

// Metrics is the metrics block attached to BundleResponse. The count and
// sum fields mirror bundler.rs's BundleMetrics from the system this spec
// was distilled from; rpc_endpoints_used is deliberately not carried
// forward here (see DESIGN.md) since the original itself never populates
// that field despite declaring it.
type Metrics struct {
	Timings               StageTimings
	RetryAttempts         int
	TotalTransactions     int
	SuccessfulTransactions int
	FailedTransactions    int
	TotalComputeUnits     *uint64
	TotalFeePaidLamports  *uint64
}

// BundleResponse is the sole return value of orchestrator.ProcessBundle.
type BundleResponse struct {
	RequestID         string
	Status            AggregateStatus
	Transactions      []TransactionResult
	BundleSignature   string
	Slot              *uint64
	Blockhash         string
	ConfirmationLevel ConfirmationLevel
	Metrics           Metrics
	LogsURL           string
	CompletedAt       time.Time
}
