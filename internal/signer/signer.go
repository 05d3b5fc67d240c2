// Package signer implements the signer set from spec section 4.2: a
// capability interface (public_key, sign, health) with interchangeable
// File, Environment, and KMS-stub backing implementations, grounded on
// the lineage's keysource.go pattern of multiple key-source variants
// behind one interface, adapted from BIP32/secp256k1 HD derivation to
// raw Ed25519 keypairs since this system is Solana-only.
package signer

import (
	"context"
	"os"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"

	"github.com/solbundle/solbundle/internal/errs"
)

// Signer is the capability set every key source implements: identify
// itself, sign a message, and report whether it is currently usable.
type Signer interface {
	PublicKey() solana.PublicKey
	Sign(ctx context.Context, message []byte) (solana.Signature, error)
	Health(ctx context.Context) bool
}

// Set is a named collection of signers, keyed by the alias a
// BundleRequest.AdditionalSigners entry refers to, plus a designated fee
// payer.
type Set struct {
	payer   Signer
	byAlias map[string]Signer
}

// NewSet builds a Set from a fee payer and zero or more aliased
// additional signers.
func NewSet(payer Signer, aliased map[string]Signer) *Set {
	byAlias := make(map[string]Signer, len(aliased))
	for alias, s := range aliased {
		byAlias[alias] = s
	}
	return &Set{payer: payer, byAlias: byAlias}
}

// Payer returns the designated fee-payer signer.
func (s *Set) Payer() Signer { return s.payer }

// Lookup resolves an alias from BundleRequest.AdditionalSigners.
func (s *Set) Lookup(alias string) (Signer, bool) {
	sg, ok := s.byAlias[alias]
	return sg, ok
}

// SignerFor returns whichever signer in the set owns pub, or false if
// none does. Used by the orchestrator to find the signer for each
// required signature slot, which it fills directly rather than through
// solana-go's Transaction.Sign callback.
func (s *Set) SignerFor(pub solana.PublicKey) (Signer, bool) {
	if s.payer != nil && s.payer.PublicKey().Equals(pub) {
		return s.payer, true
	}
	for _, sg := range s.byAlias {
		if sg.PublicKey().Equals(pub) {
			return sg, true
		}
	}
	return nil, false
}

// Health reports per-alias health, plus the payer under the "payer" key,
// composing the aggregate health() surface spec section 6 describes.
func (s *Set) Health(ctx context.Context) map[string]bool {
	out := make(map[string]bool, len(s.byAlias)+1)
	if s.payer != nil {
		out["payer"] = s.payer.Health(ctx)
	}
	for alias, sg := range s.byAlias {
		out[alias] = sg.Health(ctx)
	}
	return out
}

// fileSigner holds a raw Ed25519 keypair loaded from disk.
type fileSigner struct {
	priv solana.PrivateKey
	pub  solana.PublicKey
}

// NewFileSigner loads a base58-encoded 64-byte keypair from path. This
// is the "File" variant of spec section 4.2.
func NewFileSigner(path string) (Signer, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrap(errs.Signing, "signer: failed to read key file "+path, err)
	}
	return newRawSigner(strings.TrimSpace(string(raw)))
}

// NewEnvironmentSigner loads a base58-encoded 64-byte keypair from the
// named environment variable. This is the "Environment" variant of
// spec section 4.2.
func NewEnvironmentSigner(envVar string) (Signer, error) {
	raw, ok := os.LookupEnv(envVar)
	if !ok || strings.TrimSpace(raw) == "" {
		return nil, errs.Newf(errs.Signing, "signer: environment variable %s is not set", envVar)
	}
	return newRawSigner(strings.TrimSpace(raw))
}

func newRawSigner(base58Key string) (Signer, error) {
	priv, err := solana.PrivateKeyFromBase58(base58Key)
	if err != nil {
		return nil, errs.Wrap(errs.Signing, "signer: invalid base58 keypair", err)
	}
	if len(priv) != 64 {
		return nil, errs.Newf(errs.Signing, "signer: expected 64-byte keypair, got %d bytes", len(priv))
	}
	return &fileSigner{priv: priv, pub: priv.PublicKey()}, nil
}

func (s *fileSigner) PublicKey() solana.PublicKey { return s.pub }

func (s *fileSigner) Sign(ctx context.Context, message []byte) (solana.Signature, error) {
	sig, err := s.priv.Sign(message)
	if err != nil {
		return solana.Signature{}, errs.Wrap(errs.Signing, "signer: sign failed", err)
	}
	return sig, nil
}

func (s *fileSigner) Health(ctx context.Context) bool {
	return len(s.priv) == 64
}

// Zero overwrites the in-memory private key bytes. Callers that hold a
// concrete *fileSigner (not just the Signer interface) should call this
// on shutdown; it is not part of the Signer interface because KMS-backed
// signers never hold raw key material to begin with.
func (s *fileSigner) Zero() {
	for i := range s.priv {
		s.priv[i] = 0
	}
}

// kmsSigner is a stub for a remote KMS-backed signer (spec section 4.2's
// "KMS" variant). Real KMS wiring (AWS KMS, GCP Cloud KMS, an HSM) is out
// of scope for this system per spec section 1's non-goals around
// long-term secret custody; this stub holds a known public key and fails
// every sign/health call cleanly and classifiably rather than silently
// no-op-ing, so callers that wire one in before a real backend exists get
// a clear Signing error instead of a corrupt signature.
type kmsSigner struct {
	pub    solana.PublicKey
	keyRef string
}

// NewKMSSigner constructs a stub KMS signer bound to pub, identified by
// an opaque provider key reference (e.g. an ARN or resource name).
func NewKMSSigner(pub solana.PublicKey, keyRef string) Signer {
	return &kmsSigner{pub: pub, keyRef: keyRef}
}

func (s *kmsSigner) PublicKey() solana.PublicKey { return s.pub }

func (s *kmsSigner) Sign(ctx context.Context, message []byte) (solana.Signature, error) {
	return solana.Signature{}, errs.Newf(errs.Signing, "signer: KMS signer %s has no backend configured", s.keyRef)
}

func (s *kmsSigner) Health(ctx context.Context) bool {
	return false
}

// PublicKeyFromBase58 decodes a base58 public key string, used when
// wiring a kmsSigner from configuration. Delegates to base58.Decode
// directly to validate the checksum-free 32-byte length before handing
// off to solana-go, so a truncated or corrupt key ref fails with a
// Config error rather than a confusing panic deeper in the SDK.
func PublicKeyFromBase58(s string) (solana.PublicKey, error) {
	raw, err := base58.Decode(s)
	if err != nil {
		return solana.PublicKey{}, errs.Wrap(errs.Config, "signer: invalid base58 public key", err)
	}
	const publicKeyLength = 32
	if len(raw) != publicKeyLength {
		return solana.PublicKey{}, errs.Newf(errs.Config, "signer: expected %d-byte public key, got %d", publicKeyLength, len(raw))
	}
	return solana.PublicKeyFromBytes(raw), nil
}
