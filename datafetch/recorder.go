package datafetch

import (
	"sort"
	"sync"
	"time"
)

// DefaultHistorySize is the number of samples kept per endpoint.
const DefaultHistorySize = 100

// Summary aggregates the recorded history of one endpoint.
type Summary struct {
	Endpoint        string        `json:"endpoint"`
	Count           int           `json:"count"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
	MinResponseTime time.Duration `json:"min_response_time"`
	MaxResponseTime time.Duration `json:"max_response_time"`
	CacheHitRate    float64       `json:"cache_hit_rate"`
	AvgRetryCount   float64       `json:"avg_retry_count"`
	FailureCount    int           `json:"failure_count"`
	LastTimestamp   time.Time     `json:"last_timestamp"`
}

// Recorder keeps a bounded history of NetworkMetrics per endpoint. It never
// influences request control flow; a nil Recorder ignores every call.
type Recorder struct {
	mu      sync.Mutex
	size    int
	history map[string]*ring
}

// ring is a fixed-capacity circular buffer; the oldest sample is overwritten
// when full.
type ring struct {
	buf   []NetworkMetrics
	start int
	n     int
}

func (r *ring) push(m NetworkMetrics) {
	if r.n < len(r.buf) {
		r.buf[(r.start+r.n)%len(r.buf)] = m
		r.n++
		return
	}
	r.buf[r.start] = m
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) snapshot() []NetworkMetrics {
	out := make([]NetworkMetrics, r.n)
	for i := 0; i < r.n; i++ {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}

// NewRecorder creates a recorder keeping size samples per endpoint.
func NewRecorder(size int) *Recorder {
	if size <= 0 {
		size = DefaultHistorySize
	}
	return &Recorder{
		size:    size,
		history: make(map[string]*ring),
	}
}

// Record appends a sample for endpoint.
func (r *Recorder) Record(endpoint string, m NetworkMetrics) {
	if r == nil {
		return
	}
	defer func() { _ = recover() }()

	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.history[endpoint]
	if !ok {
		h = &ring{buf: make([]NetworkMetrics, r.size)}
		r.history[endpoint] = h
	}
	h.push(m)
}

// History returns the samples for endpoint from oldest to newest.
func (r *Recorder) History(endpoint string) []NetworkMetrics {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.history[endpoint]; ok {
		return h.snapshot()
	}
	return nil
}

// Endpoints lists endpoints with at least one sample, sorted.
func (r *Recorder) Endpoints() []string {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, 0, len(r.history))
	for ep := range r.history {
		out = append(out, ep)
	}
	sort.Strings(out)
	return out
}

// Summary aggregates the history of endpoint. An endpoint without samples
// yields a zero Summary.
func (r *Recorder) Summary(endpoint string) Summary {
	return summarize(endpoint, r.History(endpoint))
}

// Summaries aggregates every endpoint.
func (r *Recorder) Summaries() map[string]Summary {
	out := make(map[string]Summary)
	for _, ep := range r.Endpoints() {
		out[ep] = r.Summary(ep)
	}
	return out
}

// Reset drops all history.
func (r *Recorder) Reset() {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history = make(map[string]*ring)
}

func summarize(endpoint string, samples []NetworkMetrics) Summary {
	s := Summary{Endpoint: endpoint, Count: len(samples)}
	if len(samples) == 0 {
		return s
	}

	var total time.Duration
	var hits, retries int
	s.MinResponseTime = samples[0].ResponseTime
	for _, m := range samples {
		total += m.ResponseTime
		if m.ResponseTime < s.MinResponseTime {
			s.MinResponseTime = m.ResponseTime
		}
		if m.ResponseTime > s.MaxResponseTime {
			s.MaxResponseTime = m.ResponseTime
		}
		if m.CacheHit {
			hits++
		}
		if m.Failed {
			s.FailureCount++
		}
		retries += m.RetryCount
		if m.Timestamp.After(s.LastTimestamp) {
			s.LastTimestamp = m.Timestamp
		}
	}

	n := len(samples)
	s.AvgResponseTime = total / time.Duration(n)
	s.CacheHitRate = float64(hits) / float64(n) * 100
	s.AvgRetryCount = float64(retries) / float64(n)
	return s
}
