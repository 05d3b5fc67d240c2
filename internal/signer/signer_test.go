package signer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileSignerLoadsAndSigns(t *testing.T) {
	wallet := solana.NewWallet()
	dir := t.TempDir()
	path := filepath.Join(dir, "key.json")
	require.NoError(t, os.WriteFile(path, []byte(wallet.PrivateKey.String()), 0o600))

	sg, err := NewFileSigner(path)
	require.NoError(t, err)
	assert.True(t, sg.PublicKey().Equals(wallet.PublicKey()))
	assert.True(t, sg.Health(context.Background()))

	sig, err := sg.Sign(context.Background(), []byte("hello"))
	require.NoError(t, err)
	assert.NotEqual(t, solana.Signature{}, sig)
}

func TestFileSignerRejectsMissingFile(t *testing.T) {
	_, err := NewFileSigner(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestEnvironmentSignerLoadsFromEnv(t *testing.T) {
	wallet := solana.NewWallet()
	t.Setenv("SOLBUNDLE_TEST_SIGNER_KEY", wallet.PrivateKey.String())

	sg, err := NewEnvironmentSigner("SOLBUNDLE_TEST_SIGNER_KEY")
	require.NoError(t, err)
	assert.True(t, sg.PublicKey().Equals(wallet.PublicKey()))
}

func TestEnvironmentSignerRejectsUnsetVar(t *testing.T) {
	_, err := NewEnvironmentSigner("SOLBUNDLE_TEST_SIGNER_DOES_NOT_EXIST")
	assert.Error(t, err)
}

func TestKMSSignerFailsCleanly(t *testing.T) {
	wallet := solana.NewWallet()
	sg := NewKMSSigner(wallet.PublicKey(), "arn:aws:kms:us-east-1:123:key/abc")

	assert.False(t, sg.Health(context.Background()))
	_, err := sg.Sign(context.Background(), []byte("hello"))
	assert.Error(t, err)
	assert.True(t, sg.PublicKey().Equals(wallet.PublicKey()))
}

func TestSetResolvesPayerAndAliases(t *testing.T) {
	payerWallet := solana.NewWallet()
	aliasWallet := solana.NewWallet()

	payer, err := newRawSigner(payerWallet.PrivateKey.String())
	require.NoError(t, err)
	aliased, err := newRawSigner(aliasWallet.PrivateKey.String())
	require.NoError(t, err)

	set := NewSet(payer, map[string]Signer{"treasury": aliased})

	assert.Equal(t, payer, set.Payer())
	got, ok := set.Lookup("treasury")
	require.True(t, ok)
	assert.True(t, got.PublicKey().Equals(aliasWallet.PublicKey()))

	_, ok = set.Lookup("nonexistent")
	assert.False(t, ok)

	resolved, ok := set.SignerFor(payerWallet.PublicKey())
	require.True(t, ok)
	assert.Equal(t, payer, resolved)
}

func TestSetHealthAggregatesAllSigners(t *testing.T) {
	payerWallet := solana.NewWallet()
	payer, err := newRawSigner(payerWallet.PrivateKey.String())
	require.NoError(t, err)

	kmsPub := solana.NewWallet().PublicKey()
	kms := NewKMSSigner(kmsPub, "ref")

	set := NewSet(payer, map[string]Signer{"kms-backed": kms})
	health := set.Health(context.Background())

	assert.True(t, health["payer"])
	assert.False(t, health["kms-backed"])
}
