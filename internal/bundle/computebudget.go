package bundle

import (
	"encoding/binary"

	"github.com/gagliardetto/solana-go"
)

// computeBudgetProgramID is the cluster's well-known compute-budget
// program. No typed instruction constructor for it exists anywhere in
// this project's reference lineage, so it is hand-built here per spec
// section 9's open question on fee-rewrite layout: "rebuild the
// instruction rather than overwrite bytes when the SDK offers a typed
// constructor" — none was available, so both construction and retry
// rewrite operate on the documented byte layout directly.
var computeBudgetProgramID = solana.MustPublicKeyFromBase58("ComputeBudget111111111111111111111111111111")

const (
	computeBudgetSetLimitOpcode = byte(2)
	computeBudgetSetPriceOpcode = byte(3)
)

// computeBudgetInstruction implements solana.Instruction directly: the
// compute-budget program takes no accounts, only an opcode byte followed
// by a little-endian numeric payload.
type computeBudgetInstruction struct {
	data []byte
}

func (i computeBudgetInstruction) ProgramID() solana.PublicKey { return computeBudgetProgramID }
func (i computeBudgetInstruction) Accounts() []*solana.AccountMeta { return nil }
func (i computeBudgetInstruction) Data() ([]byte, error)       { return i.data, nil }

// NewSetComputeUnitLimitInstruction builds the set-limit compute-budget
// instruction (opcode 2, u32 limit).
func NewSetComputeUnitLimitInstruction(units uint32) solana.Instruction {
	data := make([]byte, 5)
	data[0] = computeBudgetSetLimitOpcode
	binary.LittleEndian.PutUint32(data[1:], units)
	return computeBudgetInstruction{data: data}
}

// NewSetComputeUnitPriceInstruction builds the set-price compute-budget
// instruction (opcode 3, u64 micro-lamports-per-CU price).
func NewSetComputeUnitPriceInstruction(microLamports uint64) solana.Instruction {
	data := make([]byte, 9)
	data[0] = computeBudgetSetPriceOpcode
	binary.LittleEndian.PutUint64(data[1:], microLamports)
	return computeBudgetInstruction{data: data}
}

// RewriteComputeUnitPrice overwrites bytes 1..9 of an existing set-price
// instruction's data in place with a new little-endian price, per spec
// section 4.5 step 5's documented retry rewrite. data must be a
// *solana.CompiledInstruction's raw data slice or an equivalent
// mutable []byte — callers pass the exact slice that was prepended to
// the transaction's message so the rewrite is visible at re-sign time.
func RewriteComputeUnitPrice(data []byte, microLamports uint64) bool {
	if len(data) != 9 || data[0] != computeBudgetSetPriceOpcode {
		return false
	}
	binary.LittleEndian.PutUint64(data[1:], microLamports)
	return true
}

// DecodeComputeUnitPrice reads back the u64 price from a set-price
// instruction's data bytes. The package's tests use it to check the
// encoded price; the orchestrator does not call it.
func DecodeComputeUnitPrice(data []byte) (uint64, bool) {
	if len(data) != 9 || data[0] != computeBudgetSetPriceOpcode {
		return 0, false
	}
	return binary.LittleEndian.Uint64(data[1:]), true
}
