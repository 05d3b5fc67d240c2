// Package clusterrpc wraps a single gagliardetto/solana-go rpc.Client with
// the per-call timeout and rate limiting every endpoint in the pool needs,
// grounded on a reference Solana rpc-client wrapper pattern (one raw client,
// one rate.Limiter, one zerolog.Logger). Every method applies withTimeout
// and throttle before dispatch. The pool (internal/rpcpool) is the layer that adds
// cross-endpoint failover and health tracking; this package only knows
// about a single endpoint.
package clusterrpc

import (
	"context"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/solbundle/solbundle/internal/metrics"
)

// Client is a rate-limited, timeout-bounded wrapper around a single
// cluster RPC endpoint.
type Client struct {
	URL     string
	raw     *rpc.Client
	limiter *rate.Limiter
	timeout time.Duration
	log     zerolog.Logger
}

// Config controls per-endpoint client construction.
type Config struct {
	Timeout time.Duration
	// RateLimitRPS is requests-per-second; zero disables rate limiting.
	RateLimitRPS float64
	RateLimitBurst int
	Logger       zerolog.Logger
}

// New builds a Client for a single endpoint URL.
func New(url string, cfg Config) *Client {
	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		burst := cfg.RateLimitBurst
		if burst <= 0 {
			burst = int(cfg.RateLimitRPS*2) + 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), burst)
	}

	return &Client{
		URL:     url,
		raw:     rpc.New(url),
		limiter: limiter,
		timeout: cfg.Timeout,
		log:     cfg.Logger.With().Str("endpoint", url).Logger(),
	}
}

// Raw exposes the underlying solana-go client for operations this wrapper
// does not cover.
func (c *Client) Raw() *rpc.Client {
	return c.raw
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

func (c *Client) throttle(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

// observe logs and records a completed RPC call.
func (c *Client) observe(op string, start time.Time, err error) {
	elapsed := time.Since(start)
	c.log.Debug().Str("op", op).Dur("elapsed", elapsed).Err(err).Msg("rpc call")
	metrics.RecordRPCCall(op, err, elapsed)
}

// GetHealth reports whether the endpoint considers itself healthy.
func (c *Client) GetHealth(ctx context.Context) (bool, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if err := c.throttle(ctx); err != nil {
		return false, err
	}

	start := time.Now()
	status, err := c.raw.GetHealth(ctx)
	c.observe("getHealth", start, err)
	if err != nil {
		return false, err
	}
	return status == "ok", nil
}

// GetLatestBlockhash fetches a recent blockhash at the given commitment.
func (c *Client) GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (solana.Hash, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if err := c.throttle(ctx); err != nil {
		return solana.Hash{}, err
	}

	start := time.Now()
	out, err := c.raw.GetLatestBlockhash(ctx, commitment)
	c.observe("getLatestBlockhash", start, err)
	if err != nil {
		return solana.Hash{}, err
	}
	return out.Value.Blockhash, nil
}

// SendTransaction submits a fully signed transaction with the commitment
// and preflight behavior spec section 6 pins down.
func (c *Client) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if err := c.throttle(ctx); err != nil {
		return solana.Signature{}, err
	}

	maxRetries := uint(0)
	start := time.Now()
	sig, err := c.raw.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       false,
		PreflightCommitment: rpc.CommitmentProcessed,
		MaxRetries:          &maxRetries,
	})
	c.observe("sendTransaction", start, err)
	return sig, err
}

// SimulateTransaction runs a dry-run execution of tx.
func (c *Client) SimulateTransaction(ctx context.Context, tx *solana.Transaction) (*rpc.SimulateTransactionResponse, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if err := c.throttle(ctx); err != nil {
		return nil, err
	}

	start := time.Now()
	res, err := c.raw.SimulateTransactionWithOpts(ctx, tx, &rpc.SimulateTransactionOpts{
		SigVerify:              true,
		Commitment:             rpc.CommitmentProcessed,
		ReplaceRecentBlockhash: true,
	})
	c.observe("simulateTransaction", start, err)
	return res, err
}

// ConfirmTransaction reports whether sig has reached at least commitment.
func (c *Client) ConfirmTransaction(ctx context.Context, sig solana.Signature, commitment rpc.CommitmentType) (bool, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if err := c.throttle(ctx); err != nil {
		return false, err
	}

	start := time.Now()
	out, err := c.raw.GetSignatureStatuses(ctx, true, sig)
	c.observe("getSignatureStatuses", start, err)
	if err != nil {
		return false, err
	}
	if out == nil || len(out.Value) == 0 || out.Value[0] == nil {
		return false, nil
	}

	status := out.Value[0]
	if status.Err != nil {
		return false, nil
	}
	return commitmentAtLeast(status.ConfirmationStatus, commitment), nil
}

func commitmentAtLeast(have rpc.ConfirmationStatusType, want rpc.CommitmentType) bool {
	rank := map[rpc.ConfirmationStatusType]int{
		rpc.ConfirmationStatusProcessed: 1,
		rpc.ConfirmationStatusConfirmed: 2,
		rpc.ConfirmationStatusFinalized: 3,
	}
	wantRank := map[rpc.CommitmentType]int{
		rpc.CommitmentProcessed: 1,
		rpc.CommitmentConfirmed: 2,
		rpc.CommitmentFinalized: 3,
	}
	return rank[have] >= wantRank[want]
}

// GetTransaction fetches a confirmed transaction's metadata best-effort.
func (c *Client) GetTransaction(ctx context.Context, sig solana.Signature) (*rpc.GetTransactionResult, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if err := c.throttle(ctx); err != nil {
		return nil, err
	}

	maxVersion := uint64(0)
	start := time.Now()
	out, err := c.raw.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		MaxSupportedTransactionVersion: &maxVersion,
	})
	c.observe("getTransaction", start, err)
	return out, err
}

// GetRecentPrioritizationFees fetches recent per-CU prioritization fees for
// the given account set (empty means cluster-wide).
func (c *Client) GetRecentPrioritizationFees(ctx context.Context, accounts []solana.PublicKey) ([]rpc.RecentPrioritizationFee, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if err := c.throttle(ctx); err != nil {
		return nil, err
	}

	start := time.Now()
	fees, err := c.raw.GetRecentPrioritizationFees(ctx, accounts)
	c.observe("getRecentPrioritizationFees", start, err)
	return fees, err
}
