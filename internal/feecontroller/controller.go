// Package feecontroller implements the adaptive fee controller from spec
// section 4.3: a percentile base fee over recently observed
// prioritization fees, adjusted by a linear-regression trend over the
// controller's own emission history, buffered, and clamped to a ceiling.
// Grounded on the lineage's ratelimit package for the "bounded ring
// buffer under one exclusive lock" shape, generalized from a sliding
// request-count window to a FIFO price-sample history.
package feecontroller

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog"

	"github.com/solbundle/solbundle/internal/errs"
	"github.com/solbundle/solbundle/internal/metrics"
)

const historyCap = 100

// RecentFee is one observation from the cluster's
// getRecentPrioritizationFees RPC, already shed of its slot field since
// the controller only needs the fee magnitude.
type RecentFee struct {
	PrioritizationFee uint64
}

// FeeSource supplies recent prioritization fee samples for a given
// account set; internal/rpcpool-backed in production, a fixture in
// tests.
type FeeSource interface {
	GetRecentPrioritizationFees(ctx context.Context, accounts []solana.PublicKey) ([]RecentFee, error)
}

// Strategy is the client/config-supplied policy block spec section 4.3
// and section 6's fees.* options describe.
type Strategy struct {
	BasePercentile   float64 // 0..100
	BufferPercent    float64
	Adaptive         bool
	EnableBump       bool
	MaxBumpAttempts  int
	MaxPriceLamports uint64
}

// Controller owns the emission history and produces prices.
type Controller struct {
	source   FeeSource
	strategy Strategy
	log      zerolog.Logger

	mu      sync.Mutex
	history []uint64 // FIFO ring, oldest first, logically capped at historyCap
}

// New builds a Controller bound to a fee source and strategy.
func New(source FeeSource, strategy Strategy, log zerolog.Logger) *Controller {
	return &Controller{source: source, strategy: strategy, log: log}
}

// PriceFor implements price_for(accounts) from spec section 4.3.
func (c *Controller) PriceFor(ctx context.Context, accounts []solana.PublicKey) (uint64, error) {
	fees, err := c.source.GetRecentPrioritizationFees(ctx, accounts)
	if err != nil {
		return 0, errs.WrapRetryable(errs.Rpc, "feecontroller: failed to fetch recent prioritization fees", err)
	}
	if len(fees) == 0 {
		return 1, nil
	}

	samples := make([]uint64, len(fees))
	for i, f := range fees {
		samples[i] = f.PrioritizationFee
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })

	n := len(samples)
	k := int(math.Ceil(float64(n)*c.strategy.BasePercentile/100)) - 1
	if k < 0 {
		k = 0
	}
	if k > n-1 {
		k = n - 1
	}
	base := float64(samples[k])

	value := base
	if c.strategy.Adaptive {
		value *= c.trendFactor()
	}
	value *= 1 + c.strategy.BufferPercent/100

	price := uint64(math.Round(value))
	if c.strategy.MaxPriceLamports > 0 && price > c.strategy.MaxPriceLamports {
		price = c.strategy.MaxPriceLamports
	}
	if price < 1 {
		price = 1
	}

	c.appendHistory(price)
	metrics.RecordFeePrice(price)
	return price, nil
}

// trendFactor computes the adjustment factor from linear regression over
// the last 10 (or fewer) previously emitted prices, per spec section 4.3
// step 3.
func (c *Controller) trendFactor() float64 {
	c.mu.Lock()
	n := len(c.history)
	start := 0
	if n > 10 {
		start = n - 10
	}
	window := append([]uint64(nil), c.history[start:]...)
	c.mu.Unlock()

	if len(window) < 2 {
		return 1
	}

	beta, rSquared := linearRegression(window)
	switch {
	case beta > 0.05:
		return 1 + math.Min(math.Abs(beta)*rSquared, 0.5)
	case beta < -0.05:
		return 1 - math.Min(math.Abs(beta)*rSquared*0.5, 0.2)
	default:
		return 1
	}
}

// linearRegression fits y = beta*x + alpha over y values indexed 0..n-1,
// returning beta and R^2.
func linearRegression(y []uint64) (beta, rSquared float64) {
	n := float64(len(y))

	var sumX, sumY, sumXY, sumXX float64
	for i, v := range y {
		x := float64(i)
		fv := float64(v)
		sumX += x
		sumY += fv
		sumXY += x * fv
		sumXX += x * x
	}

	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0, 0
	}
	beta = (n*sumXY - sumX*sumY) / denom
	alpha := (sumY - beta*sumX) / n

	meanY := sumY / n
	var ssTot, ssRes float64
	for i, v := range y {
		x := float64(i)
		fv := float64(v)
		predicted := beta*x + alpha
		ssRes += (fv - predicted) * (fv - predicted)
		ssTot += (fv - meanY) * (fv - meanY)
	}
	if ssTot == 0 {
		return beta, 0
	}
	rSquared = 1 - ssRes/ssTot
	if rSquared < 0 {
		rSquared = 0
	}
	return beta, rSquared
}

func (c *Controller) appendHistory(price uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = append(c.history, price)
	if len(c.history) > historyCap {
		c.history = c.history[len(c.history)-historyCap:]
	}
}

// History returns a snapshot of the emission history, oldest first.
func (c *Controller) History() []uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]uint64(nil), c.history...)
}

// Bump implements bump(original, attempt) from spec section 4.3.
func (c *Controller) Bump(original uint64, attempt int) (uint64, error) {
	if !c.strategy.EnableBump {
		return original, nil
	}
	if attempt > c.strategy.MaxBumpAttempts {
		return 0, errs.Newf(errs.Transaction, "feecontroller: bump attempt %d exceeds max_bump_attempts %d", attempt, c.strategy.MaxBumpAttempts)
	}

	bumped := float64(original) * math.Pow(1.5, float64(attempt))
	price := uint64(math.Ceil(bumped))
	if c.strategy.MaxPriceLamports > 0 && price > c.strategy.MaxPriceLamports {
		price = c.strategy.MaxPriceLamports
	}
	return price, nil
}
