package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIsNonRetryable(t *testing.T) {
	err := New(Simulation, "not whitelisted")
	assert.Equal(t, Simulation, err.Kind)
	assert.False(t, err.Retryable)
	assert.Contains(t, err.Error(), "not whitelisted")
}

func TestWrapRetryablePropagatesCause(t *testing.T) {
	cause := errors.New("dial tcp: timeout")
	err := WrapRetryable(Rpc, "send_transaction failed", cause)

	require.True(t, err.Retryable)
	assert.ErrorIs(t, err, cause)
	assert.True(t, IsRetryable(err))
}

func TestIsRetryableFalseForPlainErrors(t *testing.T) {
	assert.False(t, IsRetryable(errors.New("boom")))
	assert.False(t, IsRetryable(nil))
}

func TestKindOfUnwrapsWrappedErrors(t *testing.T) {
	inner := New(Transaction, "submit exhausted")
	outer := fmt.Errorf("bundle abc123: %w", inner)

	kind, ok := KindOf(outer)
	require.True(t, ok)
	assert.Equal(t, Transaction, kind)
}

func TestKindOfFalseWhenNotOurs(t *testing.T) {
	_, ok := KindOf(errors.New("not ours"))
	assert.False(t, ok)
}
