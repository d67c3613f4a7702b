package datafetch

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsCollector_NilSafe(t *testing.T) {
	var mc *MetricsCollector
	mc.RecordRequest("e", "fetched", time.Second)
	mc.RecordRequestStart("e")
	mc.RecordRequestEnd("e")
	mc.RecordPayloadSize("e", 10)
	mc.RecordAttempt("e", "ok")
	mc.RecordRetry("e", 1)
	mc.RecordCacheHit("e")
	mc.RecordCacheMiss("e")
	mc.RecordCacheSize("default", 1)
	mc.RecordCacheEviction("default", "capacity")
	mc.RecordDeduplicationHit("e")
	mc.RecordError(KindTimeout, "e")
	mc.RecordAborted("e")
	assert.Nil(t, mc.GetRegistry())
}

func TestMetricsCollector_Registry(t *testing.T) {
	reg := prometheus.NewRegistry()
	mc := NewMetricsCollectorWithRegistry(reg)
	assert.Same(t, reg, mc.GetRegistry())

	wrapped := NewMetricsCollectorWithRegistry(prometheus.WrapRegistererWithPrefix("x_", prometheus.NewRegistry()))
	assert.Nil(t, wrapped.GetRegistry())
}

func TestClient_ExportsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	mc := NewMetricsCollectorWithRegistry(reg)
	c := newTestClient(t, FetcherFunc(func(ctx context.Context, req Request) (*Response, error) {
		return okResponse(`{"a":1}`), nil
	}), WithMetricsCollector(mc))

	for i := 0; i < 3; i++ {
		_, err := c.Fetch(context.Background(), "weekly_stats.json", fastConfig())
		require.NoError(t, err)
	}

	assert.Equal(t, float64(1), testutil.ToFloat64(mc.cacheMisses.WithLabelValues("weekly_stats.json")))
	assert.Equal(t, float64(2), testutil.ToFloat64(mc.cacheHits.WithLabelValues("weekly_stats.json")))
	assert.Equal(t, float64(1), testutil.ToFloat64(mc.attemptsTotal.WithLabelValues("weekly_stats.json", "ok")))
	assert.Equal(t, float64(0), testutil.ToFloat64(mc.requestsInFlight.WithLabelValues("weekly_stats.json")))
	assert.Equal(t, float64(1), testutil.ToFloat64(mc.cacheSize.WithLabelValues("default")))

	expected := `
# HELP datafetch_requests_total Total number of logical requests by outcome
# TYPE datafetch_requests_total counter
datafetch_requests_total{endpoint="weekly_stats.json",outcome="cache_hit"} 2
datafetch_requests_total{endpoint="weekly_stats.json",outcome="fetched"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "datafetch_requests_total"))
}
