package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordRPCCallIncrementsCounterByOutcome(t *testing.T) {
	before := testutil.ToFloat64(rpcCallsTotal.WithLabelValues("getHealth", "ok"))
	RecordRPCCall("getHealth", nil, 10*time.Millisecond)
	after := testutil.ToFloat64(rpcCallsTotal.WithLabelValues("getHealth", "ok"))
	assert.Equal(t, before+1, after)
}

func TestRecordRPCCallCountsErrorsSeparately(t *testing.T) {
	before := testutil.ToFloat64(rpcCallsTotal.WithLabelValues("sendTransaction", "error"))
	RecordRPCCall("sendTransaction", errors.New("boom"), 5*time.Millisecond)
	after := testutil.ToFloat64(rpcCallsTotal.WithLabelValues("sendTransaction", "error"))
	assert.Equal(t, before+1, after)
}

func TestSetEndpointHealthyTogglesGauge(t *testing.T) {
	SetEndpointHealthy("http://a", true)
	assert.Equal(t, 1.0, testutil.ToFloat64(endpointHealthy.WithLabelValues("http://a")))

	SetEndpointHealthy("http://a", false)
	assert.Equal(t, 0.0, testutil.ToFloat64(endpointHealthy.WithLabelValues("http://a")))
}

func TestRecordBundleOutcomeIncrementsCounter(t *testing.T) {
	before := testutil.ToFloat64(bundlesTotal.WithLabelValues("success"))
	RecordBundleOutcome("success", 250*time.Millisecond, 1)
	after := testutil.ToFloat64(bundlesTotal.WithLabelValues("success"))
	assert.Equal(t, before+1, after)
}
