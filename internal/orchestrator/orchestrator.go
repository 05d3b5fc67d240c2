// Package orchestrator implements the bundle orchestrator from spec
// section 4.5: the end-to-end per-transaction state machine (build →
// simulate → blockhash → sign → submit-with-retry-and-bump → confirm →
// collect) plus the bundle-level atomic/best-effort policy and
// aggregate metrics. Grounded on the lineage's chainadapter service
// layer for the "one exported entrypoint, straight-line stages, each
// stage timed and logged" shape, generalized from a single-chain
// send/confirm pair to the full seven-stage machine spec section 4.5
// describes.
package orchestrator

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/rs/zerolog"

	"github.com/solbundle/solbundle/internal/bundle"
	"github.com/solbundle/solbundle/internal/errs"
	"github.com/solbundle/solbundle/internal/feecontroller"
	"github.com/solbundle/solbundle/internal/metrics"
	"github.com/solbundle/solbundle/internal/rpcpool"
	"github.com/solbundle/solbundle/internal/signer"
	"github.com/solbundle/solbundle/internal/simulator"
)

const (
	submitMaxAttempts  = 3
	confirmPollEvery   = 500 * time.Millisecond
	confirmTimeoutCap  = 60 * time.Second
)

// Config controls orchestrator-wide, non-policy behavior.
type Config struct {
	Logger zerolog.Logger
}

// Orchestrator wires together the pool, signer set, fee controller, and
// simulator into the single process_bundle(BundleRequest) entrypoint
// spec section 6 names.
type Orchestrator struct {
	pool     *rpcpool.Pool
	signers  *signer.Set
	fees     *feecontroller.Controller
	sim      *simulator.Simulator
	log      zerolog.Logger
}

// New builds an Orchestrator from its four collaborator subsystems.
func New(pool *rpcpool.Pool, signers *signer.Set, fees *feecontroller.Controller, sim *simulator.Simulator, cfg Config) *Orchestrator {
	return &Orchestrator{pool: pool, signers: signers, fees: fees, sim: sim, log: cfg.Logger}
}

// txState is the orchestrator's internal working state for one derived
// transaction across the state machine's stages.
type txState struct {
	tx              *solana.Transaction
	blockhash       string
	priceInstrIndex int // index into tx.Message.Instructions of the set-price instruction
	currentPrice    uint64
	retryAttempts   int
	timings         bundle.StageTimings
	aliases         []string
}

// ProcessBundle implements process_bundle(BundleRequest) → BundleResponse,
// spec section 4.5 and section 6's sole business entrypoint.
func (o *Orchestrator) ProcessBundle(ctx context.Context, req bundle.BundleRequest) bundle.BundleResponse {
	start := time.Now()

	if err := o.sim.Validate(req.Instructions); err != nil {
		return o.rejected(req, err)
	}

	results := make([]bundle.TransactionResult, 0, 1)
	var bundleSignature string
	var bundleSlot *uint64
	var bundleBlockhash string
	confirmLevel := bundle.LevelUnprocessed
	totalRetries := 0
	var timings bundle.StageTimings
	anyFailed := false

	// Spec section 9's open question on batching is resolved as "one
	// transaction per bundle" (see DESIGN.md); the loop below still
	// walks req.Instructions as a single-element transaction set so a
	// future batching split only touches how txInstructionSets is built.
	txInstructionSets := [][]bundle.Instruction{req.Instructions}

	for _, instrSet := range txInstructionSets {
		st, err := o.buildTransaction(ctx, req, instrSet)
		if err != nil {
			results = append(results, bundle.TransactionResult{Status: bundle.StatusFailed, Error: err.Error()})
			anyFailed = true
			if req.Atomic {
				break
			}
			continue
		}

		st.aliases = req.AdditionalSigners
		result := o.runTransaction(ctx, st)
		results = append(results, result)
		totalRetries += st.retryAttempts
		timings.SimulateMs += st.timings.SimulateMs
		timings.SignMs += st.timings.SignMs
		timings.SubmitMs += st.timings.SubmitMs
		timings.ConfirmMs += st.timings.ConfirmMs

		if result.ConfirmationLevel > confirmLevel {
			confirmLevel = result.ConfirmationLevel
		}
		if bundleBlockhash == "" {
			bundleBlockhash = st.blockhash
		}
		if result.Status == bundle.StatusFailed {
			anyFailed = true
			if req.Atomic {
				break
			}
			continue
		}
		if bundleSignature == "" && result.Signature != "" {
			bundleSignature = result.Signature
		}
	}

	timings.TotalMs = time.Since(start)

	status := bundle.AggregateSuccess
	if anyFailed {
		status = bundle.AggregateFailed
	}
	metrics.RecordBundleOutcome(string(status), timings.TotalMs, totalRetries)

	return bundle.BundleResponse{
		RequestID:         req.RequestID,
		Status:            status,
		Transactions:      results,
		BundleSignature:   bundleSignature,
		Slot:              bundleSlot,
		Blockhash:         bundleBlockhash,
		ConfirmationLevel: confirmLevel,
		Metrics:           aggregateMetrics(results, timings, totalRetries),
		LogsURL:           fmt.Sprintf("/logs/%s", req.RequestID),
		CompletedAt:       time.Now(),
	}
}

// aggregateMetrics folds per-transaction results into the bundle-level
// counts and sums bundler.rs's process_bundle computes after its
// transaction loop (total/successful/failed transactions, total compute
// units, total fee paid).
func aggregateMetrics(results []bundle.TransactionResult, timings bundle.StageTimings, totalRetries int) bundle.Metrics {
	m := bundle.Metrics{Timings: timings, RetryAttempts: totalRetries, TotalTransactions: len(results)}

	var computeSum, feeSum uint64
	var haveCompute, haveFee bool
	for _, r := range results {
		if r.Status == bundle.StatusFailed {
			m.FailedTransactions++
		} else {
			m.SuccessfulTransactions++
		}
		if r.ComputeUnitsConsumed != nil {
			computeSum += *r.ComputeUnitsConsumed
			haveCompute = true
		}
		if r.FeePaidLamports != nil {
			feeSum += *r.FeePaidLamports
			haveFee = true
		}
	}
	if haveCompute {
		m.TotalComputeUnits = &computeSum
	}
	if haveFee {
		m.TotalFeePaidLamports = &feeSum
	}
	return m
}

func (o *Orchestrator) rejected(req bundle.BundleRequest, cause error) bundle.BundleResponse {
	return bundle.BundleResponse{
		RequestID: req.RequestID,
		Status:    bundle.AggregateRejected,
		Transactions: []bundle.TransactionResult{
			{Status: bundle.StatusFailed, Error: cause.Error()},
		},
	}
}

// buildTransaction implements stage 1 (build), then immediately drives
// stage 2 (simulate) so the state machine only proceeds into blockhash
// fetch / signing with an estimate-backed compute budget. Returns an
// error tagged Simulation on simulation failure per spec section 4.5
// step 2; policy validation runs earlier, in ProcessBundle.
func (o *Orchestrator) buildTransaction(ctx context.Context, req bundle.BundleRequest, instrs []bundle.Instruction) (*txState, error) {
	payer := o.signers.Payer()
	if payer == nil {
		return nil, errs.New(errs.Config, "orchestrator: no fee payer signer configured")
	}

	limit := o.resolveComputeLimit(req, instrs)
	price, err := o.resolveComputePrice(ctx, req, instrs)
	if err != nil {
		return nil, err
	}

	ixns := make([]solana.Instruction, 0, len(instrs)+2)
	ixns = append(ixns, bundle.NewSetComputeUnitLimitInstruction(limit))
	priceIxIndex := len(ixns)
	ixns = append(ixns, bundle.NewSetComputeUnitPriceInstruction(price))
	for _, ix := range instrs {
		ixns = append(ixns, ix.ToSolana())
	}

	tx, err := solana.NewTransaction(ixns, solana.Hash{}, solana.TransactionPayer(payer.PublicKey()))
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "orchestrator: failed to assemble transaction", err)
	}

	st := &txState{tx: tx, priceInstrIndex: priceIxIndex, currentPrice: price}

	simStart := time.Now()
	simResult, err := o.sim.Simulate(ctx, tx)
	st.timings.SimulateMs = time.Since(simStart)
	if err != nil {
		return nil, errs.Wrap(errs.Simulation, "orchestrator: simulation RPC failed", err)
	}
	metrics.RecordPredictedSuccess(simulator.PredictSuccess(simResult))
	if !simResult.Success {
		return nil, errs.Newf(errs.Simulation, "simulation failed: %s", simResult.Error)
	}

	return st, nil
}

func (o *Orchestrator) resolveComputeLimit(req bundle.BundleRequest, instrs []bundle.Instruction) uint32 {
	if !req.Budget.Limit.Auto {
		return req.Budget.Limit.Fixed
	}
	// Auto mode estimates from instruction count only at build time; the
	// simulator's richer simulated-consumption estimate is available only
	// after a first simulate, so the pre-simulate build uses its
	// fallback formula directly (spec section 4.4 step 3's else branch).
	return simulator.EstimateComputeUnits(simulator.RunResult{}, len(instrs))
}

func (o *Orchestrator) resolveComputePrice(ctx context.Context, req bundle.BundleRequest, instrs []bundle.Instruction) (uint64, error) {
	if !req.Budget.Price.Auto {
		return req.Budget.Price.Fixed, nil
	}
	accounts := accountsOf(instrs)
	price, err := o.fees.PriceFor(ctx, accounts)
	if err != nil {
		return 0, err
	}
	if req.Budget.MaxPriceCeiling > 0 && price > req.Budget.MaxPriceCeiling {
		price = req.Budget.MaxPriceCeiling
	}
	return price, nil
}

func accountsOf(instrs []bundle.Instruction) []solana.PublicKey {
	seen := make(map[solana.PublicKey]bool)
	var out []solana.PublicKey
	for _, ix := range instrs {
		for _, a := range ix.Accounts {
			if !seen[a.PublicKey] {
				seen[a.PublicKey] = true
				out = append(out, a.PublicKey)
			}
		}
	}
	return out
}

// runTransaction drives stages 3 through 7 for one built-and-simulated
// transaction.
func (o *Orchestrator) runTransaction(ctx context.Context, st *txState) bundle.TransactionResult {
	if err := o.refreshBlockhashAndSign(ctx, st, st.aliases); err != nil {
		return bundle.TransactionResult{Status: bundle.StatusFailed, Error: err.Error()}
	}

	sig, err := o.submitWithRetry(ctx, st)
	if err != nil {
		return bundle.TransactionResult{
			Status:        bundle.StatusFailed,
			Error:         err.Error(),
			RetryAttempts: st.retryAttempts,
		}
	}

	level, confirmErr := o.confirm(ctx, st, sig)
	result := bundle.TransactionResult{
		Signature:         sig.String(),
		ConfirmationLevel: level,
		RetryAttempts:     st.retryAttempts,
	}
	if confirmErr != nil {
		// Confirmation timeout is not surfaced as an error string per
		// spec section 4.5 step 6 / section 7: the transaction simply
		// fails silently from the caller's perspective.
		result.Status = bundle.StatusFailed
		return result
	}
	result.Status = statusForLevel(level)

	o.collectDetails(ctx, sig, &result)
	return result
}

func statusForLevel(level bundle.ConfirmationLevel) bundle.TransactionStatus {
	switch level {
	case bundle.LevelFinalized:
		return bundle.StatusFinalized
	case bundle.LevelConfirmed:
		return bundle.StatusConfirmed
	case bundle.LevelProcessed:
		return bundle.StatusProcessed
	default:
		return bundle.StatusFailed
	}
}

// refreshBlockhashAndSign implements stages 3 and 4: fetch a blockhash,
// write it into the message, then sign with the fee payer and any
// additional-signer aliases.
func (o *Orchestrator) refreshBlockhashAndSign(ctx context.Context, st *txState, aliases []string) error {
	hash, err := rpcpool.ExecuteWithFailover(ctx, o.pool, func(ctx context.Context, ep *rpcpool.Endpoint) (solana.Hash, error) {
		return ep.Client.GetLatestBlockhash(ctx, rpc.CommitmentProcessed)
	})
	if err != nil {
		return errs.Wrap(errs.Rpc, "orchestrator: failed to fetch blockhash", err)
	}
	st.tx.Message.RecentBlockhash = hash
	st.blockhash = hash.String()

	signStart := time.Now()
	err = o.sign(ctx, st, aliases)
	st.timings.SignMs += time.Since(signStart)
	return err
}

// sign implements spec section 4.5 step 4 and section 4.2's signer-set
// operation: it reads the message bytes once, then for every account
// the message requires a signature from, looks up the matching signer
// (fee payer first, then the requested aliases) and writes the
// resulting signature into the slot at that account's index in
// AccountKeys. This writes Signatures directly rather than going
// through the SDK's Transaction.Sign callback, because that callback
// hands the signer a *solana.PrivateKey — the signer set here is a
// capability interface precisely so a KMS-backed signer never needs to
// expose raw key material.
func (o *Orchestrator) sign(ctx context.Context, st *txState, aliases []string) error {
	msg, err := st.tx.Message.MarshalBinary()
	if err != nil {
		return errs.Wrap(errs.Signing, "orchestrator: failed to serialize message for signing", err)
	}

	numRequired := int(st.tx.Message.Header.NumRequiredSignatures)
	if len(st.tx.Signatures) != numRequired {
		st.tx.Signatures = make([]solana.Signature, numRequired)
	}

	wanted := make(map[solana.PublicKey]bool, len(aliases)+1)
	wanted[o.signers.Payer().PublicKey()] = true
	for _, alias := range aliases {
		if sg, ok := o.signers.Lookup(alias); ok {
			wanted[sg.PublicKey()] = true
		} else {
			return errs.Newf(errs.Signing, "orchestrator: unknown signer alias %q", alias)
		}
	}

	for i := 0; i < numRequired; i++ {
		key := st.tx.Message.AccountKeys[i]
		if !wanted[key] {
			continue
		}
		sg, ok := o.signers.SignerFor(key)
		if !ok {
			return errs.Newf(errs.Signing, "orchestrator: no signer available for required account %s", key.String())
		}
		sig, err := sg.Sign(ctx, msg)
		if err != nil {
			return errs.Wrap(errs.Signing, "orchestrator: signer failed", err)
		}
		st.tx.Signatures[i] = sig
	}

	return nil
}

// submitWithRetry implements stage 5: up to 3 attempts, with fee bumping
// and blockhash/signature refresh between attempts on transport failure.
func (o *Orchestrator) submitWithRetry(ctx context.Context, st *txState) (solana.Signature, error) {
	var lastErr error
	for attempt := 1; attempt <= submitMaxAttempts; attempt++ {
		submitStart := time.Now()
		sig, err := rpcpool.ExecuteWithFailover(ctx, o.pool, func(ctx context.Context, ep *rpcpool.Endpoint) (solana.Signature, error) {
			return ep.Client.SendTransaction(ctx, st.tx)
		})
		st.timings.SubmitMs += time.Since(submitStart)
		if err == nil {
			return sig, nil
		}

		lastErr = err
		st.retryAttempts++
		o.log.Warn().Int("attempt", attempt).Err(err).Msg("submit attempt failed")

		if attempt == submitMaxAttempts {
			break
		}

		bumped, bumpErr := o.fees.Bump(st.currentPrice, attempt)
		if bumpErr == nil {
			st.currentPrice = bumped
			bundle.RewriteComputeUnitPrice(st.tx.Message.Instructions[st.priceInstrIndex].Data, bumped)
		}

		if err := o.refreshBlockhashAndSign(ctx, st, st.aliases); err != nil {
			lastErr = err
			break
		}

		backoff := time.Duration(100*(1<<uint(attempt-1))) * time.Millisecond
		select {
		case <-ctx.Done():
			return solana.Signature{}, errs.Wrap(errs.Timeout, "orchestrator: context canceled during submit backoff", ctx.Err())
		case <-time.After(backoff):
		}
	}

	return solana.Signature{}, errs.Wrap(errs.Transaction, "orchestrator: submit exhausted all attempts", lastErr)
}

// confirm implements stage 6: poll at "confirmed" up to the 60s cap,
// escalating to "finalized" on a positive confirm.
func (o *Orchestrator) confirm(ctx context.Context, st *txState, sig solana.Signature) (bundle.ConfirmationLevel, error) {
	confirmStart := time.Now()
	defer func() { st.timings.ConfirmMs = time.Since(confirmStart) }()

	deadline := time.Now().Add(confirmTimeoutCap)
	for time.Now().Before(deadline) {
		confirmed, err := rpcpool.ExecuteWithFailover(ctx, o.pool, func(ctx context.Context, ep *rpcpool.Endpoint) (bool, error) {
			return ep.Client.ConfirmTransaction(ctx, sig, rpc.CommitmentConfirmed)
		})
		if err == nil && confirmed {
			finalized, ferr := rpcpool.ExecuteWithFailover(ctx, o.pool, func(ctx context.Context, ep *rpcpool.Endpoint) (bool, error) {
				return ep.Client.ConfirmTransaction(ctx, sig, rpc.CommitmentFinalized)
			})
			if ferr == nil && finalized {
				return bundle.LevelFinalized, nil
			}
			return bundle.LevelConfirmed, nil
		}

		select {
		case <-ctx.Done():
			return bundle.LevelUnprocessed, ctx.Err()
		case <-time.After(confirmPollEvery):
		}
	}

	return bundle.LevelUnprocessed, errs.New(errs.Timeout, "orchestrator: confirmation deadline exceeded")
}

// collectDetails implements stage 7: best-effort enrichment from
// get_transaction. Missing fields are reported as absent, not errors.
func (o *Orchestrator) collectDetails(ctx context.Context, sig solana.Signature, result *bundle.TransactionResult) {
	txResult, err := rpcpool.ExecuteWithFailover(ctx, o.pool, func(ctx context.Context, ep *rpcpool.Endpoint) (*rpc.GetTransactionResult, error) {
		return ep.Client.GetTransaction(ctx, sig)
	})
	if err != nil || txResult == nil || txResult.Meta == nil {
		return
	}

	if txResult.Meta.Fee > 0 {
		fee := txResult.Meta.Fee
		result.FeePaidLamports = &fee
	}
	if txResult.Meta.ComputeUnitsConsumed != nil {
		result.ComputeUnitsConsumed = txResult.Meta.ComputeUnitsConsumed
	}
	result.Logs = txResult.Meta.LogMessages
}

// DecodeInstructionData base64-decodes a single client-supplied
// instruction data field, per spec section 3's invariant that the
// request's base64 data decodes cleanly.
func DecodeInstructionData(encoded string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, errs.Wrap(errs.InvalidInput, fmt.Sprintf("orchestrator: instruction data %q is not valid base64", encoded), err)
	}
	return raw, nil
}

// Health composes the health() aggregate spec section 6 names:
// component -> healthy, across {"rpc_client", "signing_manager",
// "simulator", "fee_manager"}.
func (o *Orchestrator) Health(ctx context.Context) map[string]bool {
	rpcHealthy := false
	for _, ep := range o.pool.Endpoints() {
		if ep.Healthy() {
			rpcHealthy = true
			break
		}
	}

	signingHealthy := true
	for _, ok := range o.signers.Health(ctx) {
		if !ok {
			signingHealthy = false
			break
		}
	}

	return map[string]bool{
		"rpc_client":      rpcHealthy,
		"signing_manager": signingHealthy,
		"simulator":       true,
		"fee_manager":     true,
	}
}
