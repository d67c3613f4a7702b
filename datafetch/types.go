package datafetch

import (
	"encoding/json"
	"time"
)

// RequestConfig controls retry and caching behaviour for one logical request.
// It is passed by value and never mutated after the call starts; the
// cancellation token is the context handed to the call.
type RequestConfig struct {
	Timeout        time.Duration `json:"timeout" yaml:"timeout"`
	MaxRetries     int           `json:"max_retries" yaml:"max_retries"`
	RetryBaseDelay time.Duration `json:"retry_base_delay" yaml:"retry_base_delay"`
	TTL            time.Duration `json:"ttl" yaml:"ttl"`
}

// DefaultRequestConfig mirrors the dashboard's defaults: 10s per attempt,
// three retries starting at one second, five minute cache lifetime.
func DefaultRequestConfig() RequestConfig {
	return RequestConfig{
		Timeout:        10 * time.Second,
		MaxRetries:     3,
		RetryBaseDelay: time.Second,
		TTL:            5 * time.Minute,
	}
}

// Normalize fills unset durations from def. MaxRetries is kept as given;
// zero is a legal budget of a single attempt.
func (rc RequestConfig) Normalize(def RequestConfig) RequestConfig {
	if rc.Timeout == 0 {
		rc.Timeout = def.Timeout
	}
	if rc.RetryBaseDelay == 0 {
		rc.RetryBaseDelay = def.RetryBaseDelay
	}
	if rc.TTL == 0 {
		rc.TTL = def.TTL
	}
	return rc
}

// Attempts is the total physical attempt budget.
func (rc RequestConfig) Attempts() int {
	if rc.MaxRetries < 0 {
		return 1
	}
	return rc.MaxRetries + 1
}

// CacheEntry is a stored payload. It is valid while now-StoredAt < TTL.
type CacheEntry struct {
	Payload  json.RawMessage `json:"payload"`
	StoredAt time.Time       `json:"stored_at"`
	TTL      time.Duration   `json:"ttl"`
	ETag     string          `json:"etag,omitempty"`
}

// Age reports how old the entry is at now.
func (e *CacheEntry) Age(now time.Time) time.Duration {
	return now.Sub(e.StoredAt)
}

// Valid reports whether the entry may still be returned at now.
func (e *CacheEntry) Valid(now time.Time) bool {
	return e.Age(now) < e.TTL
}

// Expired is the negation of Valid.
func (e *CacheEntry) Expired(now time.Time) bool {
	return !e.Valid(now)
}

// Request is what a Fetcher receives for one physical attempt.
type Request struct {
	Path    string
	ETag    string
	Attempt int
}

// Response is the outcome of one successful physical attempt. NotModified
// means the resource still matches the ETag sent with the request and
// Payload is empty.
type Response struct {
	Payload     json.RawMessage
	ETag        string
	StatusCode  int
	NotModified bool
}

// NetworkMetrics describes one completed logical request.
type NetworkMetrics struct {
	ResponseTime time.Duration `json:"response_time"`
	CacheHit     bool          `json:"cache_hit"`
	RetryCount   int           `json:"retry_count"`
	PayloadSize  int           `json:"payload_size"`
	Timestamp    time.Time     `json:"timestamp"`
	Failed       bool          `json:"failed"`
	ErrorKind    ErrorKind     `json:"error_kind,omitempty"`
	Shared       bool          `json:"shared"`
}

// AttemptRecord is handed to the attempt observer after every physical attempt.
type AttemptRecord struct {
	Path    string
	Attempt int
	Elapsed time.Duration
	Err     error
	Kind    ErrorKind
	// Backoff is the wait scheduled before the next attempt, zero when the
	// executor stops after this one.
	Backoff time.Duration
}

// AttemptObserver receives attempt records. It must not block.
type AttemptObserver func(AttemptRecord)

// Result is what the client returns for a logical request.
type Result struct {
	Data      json.RawMessage
	StoredAt  time.Time
	FromCache bool
	Shared    bool
	Attempts  int
	Metrics   NetworkMetrics
}

// Decode unmarshals the payload into v.
func (r *Result) Decode(v interface{}) error {
	if err := json.Unmarshal(r.Data, v); err != nil {
		return &FetchError{Kind: KindParse, Message: "payload does not match target type", Cause: err}
	}
	return nil
}
