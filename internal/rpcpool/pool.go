// Package rpcpool implements the weighted, health-scored endpoint pool
// described in spec section 4.1, grounded on the lineage's
// src/chainadapter/rpc/health.go SimpleHealthTracker (three-strikes circuit
// breaker, rolling-mean latency) and rpc/http.go (round-robin-with-health
// endpoint selection), generalized from a generic JSON-RPC Call(method,
// params) surface to a typed closure over *clusterrpc.Client so the pool
// can front any of the six cluster operations spec section 6 names.
package rpcpool

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/solbundle/solbundle/internal/clusterrpc"
	"github.com/solbundle/solbundle/internal/errs"
	"github.com/solbundle/solbundle/internal/metrics"
)

const (
	failureThreshold = 3
)

// EndpointConfig describes one configured cluster endpoint (spec section
// 6's rpc.endpoints[] entries).
type EndpointConfig struct {
	URL          string
	Weight       int
	SupportsJito bool
}

// Config controls pool-wide behavior (spec section 6's rpc.* options).
type Config struct {
	Endpoints      []EndpointConfig
	TimeoutSeconds int
	MaxRetries     int
	BackoffBaseMs  int
	BackoffMaxMs   int
	RateLimitRPS   float64
	Logger         zerolog.Logger
}

// Endpoint is one pool member: a connected client plus its health record
// (spec section 3's EndpointRecord).
type Endpoint struct {
	URL    string
	Weight int

	Client *clusterrpc.Client

	mu                   sync.RWMutex
	healthy              bool
	lastSuccess          time.Time
	lastFailure          time.Time
	consecutiveFailures  int
	rollingLatencyMs     float64
	hasLatencySample     bool
}

// Healthy reports the endpoint's current health flag.
func (e *Endpoint) Healthy() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.healthy
}

// ConsecutiveFailures reports the endpoint's current strike count.
func (e *Endpoint) ConsecutiveFailures() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.consecutiveFailures
}

// RollingLatencyMs reports the endpoint's current moving-average latency.
func (e *Endpoint) RollingLatencyMs() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.rollingLatencyMs
}

func (e *Endpoint) recordSuccess(latency time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()

	sample := float64(latency.Milliseconds())
	if e.hasLatencySample {
		e.rollingLatencyMs = (e.rollingLatencyMs + sample) / 2
	} else {
		e.rollingLatencyMs = sample
		e.hasLatencySample = true
	}

	e.lastSuccess = time.Now()
	e.consecutiveFailures = 0
	e.healthy = true
	metrics.SetEndpointHealthy(e.URL, true)
}

func (e *Endpoint) recordFailure() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.lastFailure = time.Now()
	e.consecutiveFailures++
	if e.consecutiveFailures >= failureThreshold {
		e.healthy = false
		metrics.SetEndpointHealthy(e.URL, false)
	}
}

// Pool is the failover-aware call surface spec section 4.1 requires.
type Pool struct {
	endpoints     []*Endpoint
	maxRetries    int
	backoffBaseMs int
	backoffMaxMs  int
	log           zerolog.Logger
}

// New builds a Pool from Config. At least one endpoint is required.
func New(cfg Config) (*Pool, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, errs.New(errs.Config, "rpcpool: at least one endpoint is required")
	}

	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	endpoints := make([]*Endpoint, 0, len(cfg.Endpoints))
	for _, ec := range cfg.Endpoints {
		if ec.Weight <= 0 {
			return nil, errs.Newf(errs.Config, "rpcpool: endpoint %s has non-positive weight %d", ec.URL, ec.Weight)
		}
		client := clusterrpc.New(ec.URL, clusterrpc.Config{
			Timeout:      timeout,
			RateLimitRPS: cfg.RateLimitRPS,
			Logger:       cfg.Logger,
		})
		endpoints = append(endpoints, &Endpoint{
			URL:     ec.URL,
			Weight:  ec.Weight,
			Client:  client,
			healthy: true,
		})
	}

	backoffBase := cfg.BackoffBaseMs
	if backoffBase <= 0 {
		backoffBase = 250
	}
	backoffMax := cfg.BackoffMaxMs
	if backoffMax <= 0 {
		backoffMax = 8000
	}

	return &Pool{
		endpoints:     endpoints,
		maxRetries:    cfg.MaxRetries,
		backoffBaseMs: backoffBase,
		backoffMaxMs:  backoffMax,
		log:           cfg.Logger,
	}, nil
}

// Endpoints returns the pool's members, for tests and the health() surface.
func (p *Pool) Endpoints() []*Endpoint {
	return p.endpoints
}

// PickBest returns the highest-weight healthy endpoint; if every endpoint
// is unhealthy, it still returns the highest-weight endpoint (spec section
// 4.1: pick_best never fails).
func (p *Pool) PickBest() *Endpoint {
	var bestHealthy, bestOverall *Endpoint
	for _, e := range p.endpoints {
		if bestOverall == nil || e.Weight > bestOverall.Weight {
			bestOverall = e
		}
		if e.Healthy() && (bestHealthy == nil || e.Weight > bestHealthy.Weight) {
			bestHealthy = e
		}
	}
	if bestHealthy != nil {
		return bestHealthy
	}
	return bestOverall
}

// candidateOrder returns endpoints ordered for a failover attempt sequence:
// the current best first, then the rest by descending weight.
func (p *Pool) candidateOrder() []*Endpoint {
	best := p.PickBest()
	ordered := make([]*Endpoint, 0, len(p.endpoints))
	ordered = append(ordered, best)
	for _, e := range p.endpoints {
		if e != best {
			ordered = append(ordered, e)
		}
	}
	rest := ordered[1:]
	sort.SliceStable(rest, func(i, j int) bool { return rest[i].Weight > rest[j].Weight })
	return ordered
}

func backoffDelay(attempt, baseMs, maxMs int) time.Duration {
	delayMs := baseMs << uint(attempt)
	if delayMs > maxMs || delayMs <= 0 {
		delayMs = maxMs
	}
	jitter := 0.75 + rand.Float64()*0.5 // +/-25%
	return time.Duration(float64(delayMs)*jitter) * time.Millisecond
}

// ExecuteWithFailover runs op against successive endpoints up to
// maxRetries+1 total attempts, per spec section 4.1. Go does not allow
// generic methods, so this is a free function parameterized over the
// pool's result type.
func ExecuteWithFailover[T any](ctx context.Context, p *Pool, op func(ctx context.Context, ep *Endpoint) (T, error)) (T, error) {
	var zero T
	attempts := p.maxRetries + 1
	order := p.candidateOrder()

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		ep := order[attempt%len(order)]

		if attempt > 0 {
			delay := backoffDelay(attempt-1, p.backoffBaseMs, p.backoffMaxMs)
			select {
			case <-ctx.Done():
				return zero, errs.WrapRetryable(errs.Timeout, "rpcpool: context canceled during backoff", ctx.Err())
			case <-time.After(delay):
			}
		}

		start := time.Now()
		result, err := op(ctx, ep)
		if err == nil {
			ep.recordSuccess(time.Since(start))
			return result, nil
		}

		ep.recordFailure()
		lastErr = err
		p.log.Warn().
			Str("endpoint", ep.URL).
			Int("attempt", attempt+1).
			Int("consecutive_failures", ep.ConsecutiveFailures()).
			Err(err).
			Msg("rpc attempt failed")
	}

	return zero, errs.WrapRetryable(errs.Rpc, "rpcpool: all attempts exhausted", lastErr)
}

// HealthSweep concurrently probes every endpoint's health RPC and updates
// its record. Each probe is independently bounded by the client's own
// per-call timeout; a slow probe cannot hold up the others (spec section
// 4.1: "late responses are discarded, not joined").
func (p *Pool) HealthSweep(ctx context.Context) {
	var wg sync.WaitGroup
	for _, e := range p.endpoints {
		wg.Add(1)
		go func(ep *Endpoint) {
			defer wg.Done()
			ok, err := ep.Client.GetHealth(ctx)
			if err != nil || !ok {
				ep.recordFailure()
				return
			}
			ep.recordSuccess(0)
		}(e)
	}
	wg.Wait()
}
