// Command solbundle wires the rpcpool, signer, feecontroller, simulator
// and orchestrator packages into a runnable service: thin os.Getenv-based
// configuration (no config-file framework, per spec.md's non-goals),
// console-pretty zerolog when SOLBUNDLE_LOG_FORMAT=console and JSON
// otherwise, and an HTTP surface
// exposing /healthz and a Prometheus /metrics endpoint. Mirrors the
// lineage's own cmd/arcsign, which reads environment variables directly
// rather than through a config package.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/solbundle/solbundle/internal/feecontroller"
	"github.com/solbundle/solbundle/internal/orchestrator"
	"github.com/solbundle/solbundle/internal/rpcpool"
	"github.com/solbundle/solbundle/internal/signer"
	"github.com/solbundle/solbundle/internal/simulator"
)

func main() {
	log := newLogger()

	pool, err := buildPool(log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build rpc pool")
	}

	signers, err := buildSigners()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build signer set")
	}

	fees := feecontroller.New(feeSourceFor(pool), feeStrategyFromEnv(), log)
	sim := simulator.New(policyFromEnv(), simulateRunnerFor(pool))
	orch := orchestrator.New(pool, signers, fees, sim, orchestrator.Config{Logger: log})

	stop := startHealthSweep(pool, log)
	defer stop()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", healthzHandler(orch))

	addr := envOr("SOLBUNDLE_LISTEN_ADDR", ":8089")
	log.Info().Str("addr", addr).Msg("solbundle listening")
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatal().Err(err).Msg("http server exited")
	}
}

func newLogger() zerolog.Logger {
	out := os.Stderr
	if strings.EqualFold(os.Getenv("SOLBUNDLE_LOG_FORMAT"), "console") {
		return zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
	}
	return zerolog.New(out).With().Timestamp().Logger()
}

func healthzHandler(orch *orchestrator.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := orch.Health(r.Context())
		w.Header().Set("Content-Type", "application/json")
		healthy := true
		for _, ok := range status {
			if !ok {
				healthy = false
			}
		}
		if !healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(status)
	}
}

// buildPool reads SOLBUNDLE_RPC_ENDPOINTS, a comma-separated list of
// url[:weight] entries (weight defaults to 1), plus the pool-wide
// timeout/retry/backoff/rate-limit knobs spec section 6's rpc.* options
// name. A trailing ":<integer>" after the host is always read as the
// weight, so a URL with an explicit port must also carry a weight
// ("http://host:8899:1").
func buildPool(log zerolog.Logger) (*rpcpool.Pool, error) {
	raw := envOr("SOLBUNDLE_RPC_ENDPOINTS", "https://api.mainnet-beta.solana.com")
	var endpoints []rpcpool.EndpointConfig
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		url, weight := entry, 1
		if idx := strings.LastIndex(entry, ":"); idx > strings.Index(entry, "//")+1 {
			if w, err := strconv.Atoi(entry[idx+1:]); err == nil {
				url = entry[:idx]
				weight = w
			}
		}
		endpoints = append(endpoints, rpcpool.EndpointConfig{URL: url, Weight: weight})
	}

	return rpcpool.New(rpcpool.Config{
		Endpoints:      endpoints,
		TimeoutSeconds: envOrInt("SOLBUNDLE_RPC_TIMEOUT_SECONDS", 10),
		MaxRetries:     envOrInt("SOLBUNDLE_RPC_MAX_RETRIES", 2),
		BackoffBaseMs:  envOrInt("SOLBUNDLE_RPC_BACKOFF_BASE_MS", 250),
		BackoffMaxMs:   envOrInt("SOLBUNDLE_RPC_BACKOFF_MAX_MS", 8000),
		RateLimitRPS:   envOrFloat("SOLBUNDLE_RPC_RATE_LIMIT_RPS", 0),
		Logger:         log,
	})
}

// buildSigners constructs the fee-payer (required) and the aliased
// additional signers listed in SOLBUNDLE_ADDITIONAL_SIGNERS, each from
// SOLBUNDLE_SIGNER_<ALIAS>_PATH or _ENV (aliases have no KMS option); the
// payer itself is SOLBUNDLE_PAYER_KEYPAIR_PATH, SOLBUNDLE_PAYER_KEYPAIR_ENV,
// or a KMS stub from SOLBUNDLE_PAYER_KMS_PUBKEY (+ SOLBUNDLE_PAYER_KMS_KEY_REF).
func buildSigners() (*signer.Set, error) {
	var payer signer.Signer
	var err error
	switch {
	case os.Getenv("SOLBUNDLE_PAYER_KEYPAIR_PATH") != "":
		payer, err = signer.NewFileSigner(os.Getenv("SOLBUNDLE_PAYER_KEYPAIR_PATH"))
	case os.Getenv("SOLBUNDLE_PAYER_KEYPAIR_ENV") != "":
		payer, err = signer.NewEnvironmentSigner(os.Getenv("SOLBUNDLE_PAYER_KEYPAIR_ENV"))
	case os.Getenv("SOLBUNDLE_PAYER_KMS_PUBKEY") != "":
		var pub solana.PublicKey
		pub, err = signer.PublicKeyFromBase58(os.Getenv("SOLBUNDLE_PAYER_KMS_PUBKEY"))
		if err == nil {
			payer = signer.NewKMSSigner(pub, envOr("SOLBUNDLE_PAYER_KMS_KEY_REF", "default"))
		}
	default:
		return nil, fmt.Errorf("one of SOLBUNDLE_PAYER_KEYPAIR_PATH, SOLBUNDLE_PAYER_KEYPAIR_ENV, SOLBUNDLE_PAYER_KMS_PUBKEY must be set")
	}
	if err != nil {
		return nil, err
	}

	aliased := make(map[string]signer.Signer)
	for _, alias := range splitNonEmpty(os.Getenv("SOLBUNDLE_ADDITIONAL_SIGNERS")) {
		prefix := "SOLBUNDLE_SIGNER_" + strings.ToUpper(alias) + "_"
		var sg signer.Signer
		var sgErr error
		switch {
		case os.Getenv(prefix+"PATH") != "":
			sg, sgErr = signer.NewFileSigner(os.Getenv(prefix + "PATH"))
		case os.Getenv(prefix+"ENV") != "":
			sg, sgErr = signer.NewEnvironmentSigner(os.Getenv(prefix + "ENV"))
		default:
			sgErr = fmt.Errorf("signer alias %q has neither %sPATH nor %sENV set", alias, prefix, prefix)
		}
		if sgErr != nil {
			return nil, sgErr
		}
		aliased[alias] = sg
	}

	return signer.NewSet(payer, aliased), nil
}

func feeStrategyFromEnv() feecontroller.Strategy {
	return feecontroller.Strategy{
		BasePercentile:   envOrFloat("SOLBUNDLE_FEE_BASE_PERCENTILE", 50),
		BufferPercent:    envOrFloat("SOLBUNDLE_FEE_BUFFER_PERCENT", 10),
		Adaptive:         envOrBool("SOLBUNDLE_FEE_ADAPTIVE", true),
		EnableBump:       envOrBool("SOLBUNDLE_FEE_ENABLE_BUMP", true),
		MaxBumpAttempts:  envOrInt("SOLBUNDLE_FEE_MAX_BUMP_ATTEMPTS", 2),
		MaxPriceLamports: uint64(envOrInt("SOLBUNDLE_FEE_MAX_PRICE_LAMPORTS", 1_000_000)),
	}
}

func policyFromEnv() simulator.Policy {
	return simulator.Policy{
		ProgramWhitelist:     splitNonEmpty(os.Getenv("SOLBUNDLE_SECURITY_PROGRAM_WHITELIST")),
		MaxBundleSize:        envOrInt("SOLBUNDLE_SECURITY_MAX_BUNDLE_SIZE", 5),
		MaxWritableAccounts:  envOrInt("SOLBUNDLE_SECURITY_MAX_WRITABLE_ACCOUNTS", 20),
		ValidateInstructions: envOrBool("SOLBUNDLE_SECURITY_VALIDATE_INSTRUCTIONS", true),
		RequireSimulation:    envOrBool("SOLBUNDLE_SECURITY_REQUIRE_SIMULATION", true),
	}
}

// feeSourceFor adapts the pool's failover-aware dispatch into
// feecontroller.FeeSource.
func feeSourceFor(pool *rpcpool.Pool) feecontroller.FeeSource {
	return feeSourceFunc(func(ctx context.Context, accounts []solana.PublicKey) ([]feecontroller.RecentFee, error) {
		raw, err := rpcpool.ExecuteWithFailover(ctx, pool, func(ctx context.Context, ep *rpcpool.Endpoint) ([]rpc.RecentPrioritizationFee, error) {
			return ep.Client.GetRecentPrioritizationFees(ctx, accounts)
		})
		if err != nil {
			return nil, err
		}
		fees := make([]feecontroller.RecentFee, len(raw))
		for i, f := range raw {
			fees[i] = feecontroller.RecentFee{PrioritizationFee: f.PrioritizationFee}
		}
		return fees, nil
	})
}

type feeSourceFunc func(ctx context.Context, accounts []solana.PublicKey) ([]feecontroller.RecentFee, error)

func (f feeSourceFunc) GetRecentPrioritizationFees(ctx context.Context, accounts []solana.PublicKey) ([]feecontroller.RecentFee, error) {
	return f(ctx, accounts)
}

// simulateRunnerFor adapts the pool's failover-aware simulateTransaction
// dispatch into the simulator.Simulator's runner closure, translating the
// SDK's SimulateTransactionResponse into simulator.RunResult.
func simulateRunnerFor(pool *rpcpool.Pool) func(ctx context.Context, tx *solana.Transaction) (simulator.RunResult, error) {
	return func(ctx context.Context, tx *solana.Transaction) (simulator.RunResult, error) {
		resp, err := rpcpool.ExecuteWithFailover(ctx, pool, func(ctx context.Context, ep *rpcpool.Endpoint) (*rpc.SimulateTransactionResponse, error) {
			return ep.Client.SimulateTransaction(ctx, tx)
		})
		if err != nil {
			return simulator.RunResult{}, err
		}
		if resp == nil || resp.Value == nil {
			return simulator.RunResult{Success: false, Error: "simulateTransaction returned no result"}, nil
		}

		result := simulator.RunResult{
			Success: resp.Value.Err == nil,
			Logs:    resp.Value.Logs,
		}
		if resp.Value.UnitsConsumed != nil {
			result.ConsumedComputeUnits = resp.Value.UnitsConsumed
		}
		if resp.Value.Err != nil {
			result.Error = fmt.Sprintf("%v", resp.Value.Err)
			result.Retryable = isRetryableSimError(resp.Value.Err)
		}
		return result, nil
	}
}

// isRetryableSimError treats blockhash-related failures as retryable and
// everything else (program logic errors, account errors) as not, since a
// retry of the same instructions against the same state will fail the
// same way.
func isRetryableSimError(simErr interface{}) bool {
	msg := strings.ToLower(fmt.Sprintf("%v", simErr))
	return strings.Contains(msg, "blockhash") || strings.Contains(msg, "blockhashnotfound")
}

// startHealthSweep runs rpcpool.HealthSweep on a fixed interval until the
// returned stop function is called.
func startHealthSweep(pool *rpcpool.Pool, log zerolog.Logger) func() {
	interval := time.Duration(envOrInt("SOLBUNDLE_HEALTH_SWEEP_SECONDS", 30)) * time.Second
	ctx, cancel := context.WithCancel(context.Background())
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sweepCtx, sweepCancel := context.WithTimeout(ctx, interval)
				pool.HealthSweep(sweepCtx)
				sweepCancel()
				log.Debug().Msg("health sweep complete")
			}
		}
	}()
	return cancel
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envOrFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			return n
		}
	}
	return def
}

func envOrBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
