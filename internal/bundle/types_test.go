package bundle

import (
	"testing"

	"github.com/gagliardetto/solana-go"
)

func TestInstructionToSolanaPreservesAccountFlags(t *testing.T) {
	programID := solana.NewWallet().PublicKey()
	signerKey := solana.NewWallet().PublicKey()
	writableKey := solana.NewWallet().PublicKey()

	ix := Instruction{
		ProgramID: programID,
		Accounts: []AccountRef{
			{PublicKey: signerKey, IsSigner: true, IsWritable: false},
			{PublicKey: writableKey, IsSigner: false, IsWritable: true},
		},
		Data: []byte{1, 2, 3},
	}

	converted := ix.ToSolana()
	if !converted.ProgramID().Equals(programID) {
		t.Fatal("expected program id to round-trip")
	}

	accounts := converted.Accounts()
	if len(accounts) != 2 {
		t.Fatalf("expected 2 accounts, got %d", len(accounts))
	}
	if !accounts[0].IsSigner || accounts[0].IsWritable {
		t.Fatalf("expected first account signer-only, got signer=%v writable=%v", accounts[0].IsSigner, accounts[0].IsWritable)
	}
	if accounts[1].IsSigner || !accounts[1].IsWritable {
		t.Fatalf("expected second account writable-only, got signer=%v writable=%v", accounts[1].IsSigner, accounts[1].IsWritable)
	}

	data, err := converted.Data()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(data) != 3 || data[0] != 1 {
		t.Fatalf("expected data to round-trip, got %v", data)
	}
}

func TestConfirmationLevelOrdering(t *testing.T) {
	if !(LevelFinalized > LevelConfirmed && LevelConfirmed > LevelProcessed && LevelProcessed > LevelUnprocessed) {
		t.Fatal("expected confirmation levels to be strictly ordered")
	}
}

func TestConfirmationLevelString(t *testing.T) {
	cases := map[ConfirmationLevel]string{
		LevelUnprocessed: "unprocessed",
		LevelProcessed:   "processed",
		LevelConfirmed:   "confirmed",
		LevelFinalized:   "finalized",
	}
	for level, want := range cases {
		if got := level.String(); got != want {
			t.Errorf("level %d: expected %q, got %q", level, want, got)
		}
	}
}
