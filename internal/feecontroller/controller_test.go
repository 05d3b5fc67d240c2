package feecontroller

import (
	"context"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedFeeSource struct {
	fees []RecentFee
	err  error
}

func (f *fixedFeeSource) GetRecentPrioritizationFees(ctx context.Context, accounts []solana.PublicKey) ([]RecentFee, error) {
	return f.fees, f.err
}

func feesOf(values ...uint64) []RecentFee {
	out := make([]RecentFee, len(values))
	for i, v := range values {
		out[i] = RecentFee{PrioritizationFee: v}
	}
	return out
}

func TestPriceForEmptyFeesReturnsOne(t *testing.T) {
	c := New(&fixedFeeSource{fees: nil}, Strategy{BasePercentile: 50}, zerolog.Nop())
	price, err := c.PriceFor(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), price)
}

func TestPriceForPicksPercentile(t *testing.T) {
	c := New(&fixedFeeSource{fees: feesOf(10, 20, 30, 40, 50)}, Strategy{BasePercentile: 50}, zerolog.Nop())
	price, err := c.PriceFor(context.Background(), nil)
	require.NoError(t, err)
	// n=5, p=50: k = ceil(5*50/100)-1 = ceil(2.5)-1 = 3-1 = 2 -> sorted[2] = 30
	assert.Equal(t, uint64(30), price)
}

func TestPriceForClampsToCeiling(t *testing.T) {
	c := New(&fixedFeeSource{fees: feesOf(1000)}, Strategy{BasePercentile: 100, MaxPriceLamports: 500}, zerolog.Nop())
	price, err := c.PriceFor(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(500), price)
}

func TestPriceForAppliesBuffer(t *testing.T) {
	c := New(&fixedFeeSource{fees: feesOf(100)}, Strategy{BasePercentile: 100, BufferPercent: 10}, zerolog.Nop())
	price, err := c.PriceFor(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(110), price)
}

func TestPriceForNeverEmitsZeroWhenFeesPresent(t *testing.T) {
	c := New(&fixedFeeSource{fees: feesOf(0, 0, 0)}, Strategy{BasePercentile: 50}, zerolog.Nop())
	price, err := c.PriceFor(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), price)
}

func TestPriceForRecordsHistoryFIFOCapped(t *testing.T) {
	c := New(&fixedFeeSource{fees: feesOf(5)}, Strategy{BasePercentile: 100}, zerolog.Nop())
	for i := 0; i < 150; i++ {
		_, err := c.PriceFor(context.Background(), nil)
		require.NoError(t, err)
	}
	assert.LessOrEqual(t, len(c.History()), historyCap)
}

func TestPriceForAdaptiveRisingTrendIncreasesPrice(t *testing.T) {
	c := New(&fixedFeeSource{fees: feesOf(100)}, Strategy{BasePercentile: 100, Adaptive: true}, zerolog.Nop())
	// seed a clearly rising history
	c.history = []uint64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100}

	price, err := c.PriceFor(context.Background(), nil)
	require.NoError(t, err)
	assert.Greater(t, price, uint64(100))
}

func TestPriceForPropagatesSourceError(t *testing.T) {
	c := New(&fixedFeeSource{err: assert.AnError}, Strategy{BasePercentile: 50}, zerolog.Nop())
	_, err := c.PriceFor(context.Background(), nil)
	assert.Error(t, err)
}

func TestBumpDisabledReturnsOriginal(t *testing.T) {
	c := New(&fixedFeeSource{}, Strategy{EnableBump: false}, zerolog.Nop())
	price, err := c.Bump(1000, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), price)
}

func TestBumpExceedsMaxAttemptsFails(t *testing.T) {
	c := New(&fixedFeeSource{}, Strategy{EnableBump: true, MaxBumpAttempts: 2}, zerolog.Nop())
	_, err := c.Bump(1000, 3)
	assert.Error(t, err)
}

func TestBumpZeroMaxAttemptsAlwaysFails(t *testing.T) {
	c := New(&fixedFeeSource{}, Strategy{EnableBump: true, MaxBumpAttempts: 0}, zerolog.Nop())
	_, err := c.Bump(1000, 1)
	assert.Error(t, err)
}

func TestBumpAppliesExponentialMultiplier(t *testing.T) {
	c := New(&fixedFeeSource{}, Strategy{EnableBump: true, MaxBumpAttempts: 5}, zerolog.Nop())
	price, err := c.Bump(1000, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(1500), price) // ceil(1000*1.5^1) = 1500
}

func TestBumpClampsToCeiling(t *testing.T) {
	c := New(&fixedFeeSource{}, Strategy{EnableBump: true, MaxBumpAttempts: 5, MaxPriceLamports: 1200}, zerolog.Nop())
	price, err := c.Bump(1000, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(1200), price)
}

func TestBumpResultNeverBelowOriginal(t *testing.T) {
	c := New(&fixedFeeSource{}, Strategy{EnableBump: true, MaxBumpAttempts: 5}, zerolog.Nop())
	price, err := c.Bump(1000, 0)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, price, uint64(1000))
}
