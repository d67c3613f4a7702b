package datafetch

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder_BoundedHistory(t *testing.T) {
	r := NewRecorder(3)
	for i := 1; i <= 5; i++ {
		r.Record("/data/holdings.json", NetworkMetrics{ResponseTime: time.Duration(i) * time.Millisecond})
	}

	h := r.History("/data/holdings.json")
	require.Len(t, h, 3)
	assert.Equal(t, 3*time.Millisecond, h[0].ResponseTime)
	assert.Equal(t, 5*time.Millisecond, h[2].ResponseTime)
}

func TestRecorder_Summary(t *testing.T) {
	base := time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)
	r := NewRecorder(10)
	r.Record("e", NetworkMetrics{ResponseTime: 10 * time.Millisecond, CacheHit: true, Timestamp: base})
	r.Record("e", NetworkMetrics{ResponseTime: 30 * time.Millisecond, RetryCount: 2, Timestamp: base.Add(time.Second)})
	r.Record("e", NetworkMetrics{ResponseTime: 20 * time.Millisecond, RetryCount: 1, Failed: true, ErrorKind: KindExhausted, Timestamp: base.Add(2 * time.Second)})
	r.Record("e", NetworkMetrics{ResponseTime: 40 * time.Millisecond, CacheHit: true, Timestamp: base.Add(500 * time.Millisecond)})

	s := r.Summary("e")
	assert.Equal(t, "e", s.Endpoint)
	assert.Equal(t, 4, s.Count)
	assert.Equal(t, 25*time.Millisecond, s.AvgResponseTime)
	assert.Equal(t, 10*time.Millisecond, s.MinResponseTime)
	assert.Equal(t, 40*time.Millisecond, s.MaxResponseTime)
	assert.InDelta(t, 50.0, s.CacheHitRate, 1e-9)
	assert.InDelta(t, 0.75, s.AvgRetryCount, 1e-9)
	assert.Equal(t, 1, s.FailureCount)
	assert.Equal(t, base.Add(2*time.Second), s.LastTimestamp)
}

func TestRecorder_ZeroSamples(t *testing.T) {
	r := NewRecorder(10)
	s := r.Summary("never")

	assert.Equal(t, 0, s.Count)
	assert.False(t, math.IsNaN(s.CacheHitRate))
	assert.False(t, math.IsNaN(s.AvgRetryCount))
	assert.Zero(t, s.AvgResponseTime)
	assert.True(t, s.LastTimestamp.IsZero())
}

func TestRecorder_SummariesAndReset(t *testing.T) {
	r := NewRecorder(10)
	r.Record("b", NetworkMetrics{})
	r.Record("a", NetworkMetrics{})

	assert.Equal(t, []string{"a", "b"}, r.Endpoints())
	all := r.Summaries()
	assert.Len(t, all, 2)
	assert.Equal(t, 1, all["a"].Count)

	r.Reset()
	assert.Empty(t, r.Endpoints())
	assert.Nil(t, r.History("a"))
}

func TestRecorder_NilSafe(t *testing.T) {
	var r *Recorder
	r.Record("e", NetworkMetrics{})
	assert.Nil(t, r.History("e"))
	assert.Equal(t, 0, r.Summary("e").Count)
	r.Reset()
}

func TestRecorder_Concurrent(t *testing.T) {
	r := NewRecorder(50)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				r.Record("e", NetworkMetrics{ResponseTime: time.Millisecond})
				_ = r.Summary("e")
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, r.Summary("e").Count)
}
