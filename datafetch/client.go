package datafetch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/errgroup"

	"github.com/TONwisdomyang/crypto-stock-tracker/internal/backoff"
)

// DefaultPreloadConcurrency bounds Preload when no option overrides it.
const DefaultPreloadConcurrency = 4

// Client is the cache-first, deduplicated, retrying entry point for JSON
// documents. It is safe for concurrent use.
type Client struct {
	fetcher  Fetcher
	store    Store
	recorder *Recorder
	dedup    *Deduplicator
	retry    *RetryExecutor
	clock    clock.Clock
	metrics  *MetricsCollector
	logger   Logger
	observer AttemptObserver

	defaults           RequestConfig
	maxEntries         int
	sweepInterval      time.Duration
	maxBackoff         time.Duration
	strategy           backoff.Strategy
	jitter             float64
	historySize        int
	preloadConcurrency int

	ownStore        *MemoryStore
	closeOnce       sync.Once
	validationError error
}

// New constructs a Client. Configuration problems are kept and returned by
// every call; check IsValid or ValidationError after construction.
func New(options ...Option) *Client {
	c := &Client{
		clock:              clock.New(),
		defaults:           DefaultRequestConfig(),
		maxEntries:         DefaultMaxEntries,
		sweepInterval:      DefaultSweepInterval,
		maxBackoff:         DefaultMaxBackoff,
		strategy:           backoff.Exponential{},
		historySize:        DefaultHistorySize,
		preloadConcurrency: DefaultPreloadConcurrency,
	}

	for _, option := range options {
		option(c)
	}

	if c.logger == nil {
		c.logger = NopLogger()
	}
	if err := c.ValidateConfiguration(); err != nil {
		c.validationError = err
		return c
	}

	if c.store == nil {
		ms := NewMemoryStore(c.maxEntries,
			WithStoreClock(c.clock),
			WithStoreMetrics(c.metrics, "default"),
			WithSweepEvery(c.sweepInterval),
		)
		ms.StartSweeper()
		c.store = ms
		c.ownStore = ms
	}
	c.recorder = NewRecorder(c.historySize)
	c.dedup = NewDeduplicator(c.metrics, c.logger)
	c.retry = NewRetryExecutor(
		WithRetryClock(c.clock),
		WithRetryStrategy(c.strategy),
		WithRetryMaxBackoff(c.maxBackoff),
		WithRetryJitter(c.jitter),
		WithRetryObserver(c.observer),
		WithRetryMetrics(c.metrics),
		WithRetryLogger(c.logger),
	)
	return c
}

// IsValid reports whether configuration validation passed at construction.
func (c *Client) IsValid() bool {
	return c.validationError == nil
}

// ValidationError returns the configuration validation error, if any.
func (c *Client) ValidationError() error {
	return c.validationError
}

// Fetch returns the document at path, from the cache while the entry is
// valid, otherwise through a deduplicated, retried physical request whose
// result is stored for cfg.TTL.
func (c *Client) Fetch(ctx context.Context, path string, cfg RequestConfig) (*Result, error) {
	return c.do(ctx, path, cfg, false)
}

// Refresh ignores cache freshness and issues (or attaches to) a physical
// request. A cached ETag is sent along; a not-modified answer re-stores the
// cached payload with a fresh lifetime.
func (c *Client) Refresh(ctx context.Context, path string, cfg RequestConfig) (*Result, error) {
	return c.do(ctx, path, cfg, true)
}

func (c *Client) do(ctx context.Context, path string, cfg RequestConfig, force bool) (*Result, error) {
	if c.validationError != nil {
		return nil, c.validationError
	}

	start := c.clock.Now()
	cfg = cfg.Normalize(c.defaults)
	if problems := validateRequestConfig(cfg, ""); len(problems) > 0 {
		return nil, &FetchError{Kind: KindClient, Message: "invalid request config: " + strings.Join(problems, "; "), Path: path}
	}
	key := RequestKey(path, cfg)

	if !force {
		if entry, ok := c.store.Get(key); ok {
			return c.cacheHit(path, key, entry, start), nil
		}
		c.metrics.RecordCacheMiss(path)
		c.logger.Debug("Cache miss", "path", path, "key", key)
	}

	if err := ctx.Err(); err != nil {
		return nil, c.fail(path, start, 0, false, &FetchError{Kind: KindAborted, Message: "request cancelled", Path: path, Cause: err})
	}

	resp, attempts, shared, err := c.dedup.Run(ctx, key, path, func(runCtx context.Context) (*Response, int, error) {
		return c.load(runCtx, path, key, cfg, force)
	})
	if err != nil {
		return nil, c.fail(path, start, attempts, shared, err)
	}

	now := c.clock.Now()
	m := NetworkMetrics{
		ResponseTime: now.Sub(start),
		RetryCount:   retries(attempts),
		PayloadSize:  len(resp.Payload),
		Timestamp:    now,
		Shared:       shared,
	}
	c.recorder.Record(path, m)
	c.metrics.RecordRequest(path, "fetched", m.ResponseTime)
	c.metrics.RecordPayloadSize(path, m.PayloadSize)

	return &Result{
		Data:     resp.Payload,
		StoredAt: now,
		Shared:   shared,
		Attempts: attempts,
		Metrics:  m,
	}, nil
}

// load runs once per physical request: it performs the retried fetch and
// stores the outcome before any attached caller sees it.
func (c *Client) load(ctx context.Context, path, key string, cfg RequestConfig, conditional bool) (*Response, int, error) {
	var prev *CacheEntry
	if conditional {
		if entry, ok := c.store.Get(key); ok && entry.ETag != "" {
			prev = entry
		}
	}

	c.metrics.RecordRequestStart(path)
	defer c.metrics.RecordRequestEnd(path)

	resp, attempts, err := c.retry.Execute(ctx, path, cfg, func(actx context.Context, attempt int) (*Response, error) {
		req := Request{Path: path, Attempt: attempt}
		if prev != nil {
			req.ETag = prev.ETag
		}
		r, err := c.fetcher.Fetch(actx, req)
		if err != nil {
			return nil, err
		}
		if r == nil || (r.NotModified && prev == nil) {
			return nil, &FetchError{Kind: KindTransient, Message: "fetcher returned no payload", Path: path}
		}
		return r, nil
	})
	if err != nil {
		return nil, attempts, err
	}

	if resp.NotModified {
		c.logger.Debug("Not modified, extending cached entry", "path", path)
		resp = &Response{Payload: prev.Payload, ETag: prev.ETag, StatusCode: resp.StatusCode, NotModified: true}
	}
	c.store.Set(key, &CacheEntry{Payload: resp.Payload, ETag: resp.ETag}, cfg.TTL)
	return resp, attempts, nil
}

func (c *Client) cacheHit(path, key string, entry *CacheEntry, start time.Time) *Result {
	now := c.clock.Now()
	m := NetworkMetrics{
		ResponseTime: now.Sub(start),
		CacheHit:     true,
		PayloadSize:  len(entry.Payload),
		Timestamp:    now,
	}
	c.recorder.Record(path, m)
	c.metrics.RecordCacheHit(path)
	c.metrics.RecordRequest(path, "cache_hit", m.ResponseTime)
	c.logger.Debug("Cache hit", "path", path, "key", key, "age", entry.Age(now))

	return &Result{
		Data:      entry.Payload,
		StoredAt:  entry.StoredAt,
		FromCache: true,
		Metrics:   m,
	}
}

// fail records a failed logical request. Aborted requests are counted
// separately and never enter the history.
func (c *Client) fail(path string, start time.Time, attempts int, shared bool, err error) error {
	now := c.clock.Now()
	kind := KindOf(err)

	if kind == KindAborted {
		c.metrics.RecordAborted(path)
		c.metrics.RecordRequest(path, "aborted", now.Sub(start))
		c.logger.Debug("Request aborted", "path", path)
		return err
	}

	c.recorder.Record(path, NetworkMetrics{
		ResponseTime: now.Sub(start),
		RetryCount:   retries(attempts),
		Timestamp:    now,
		Failed:       true,
		ErrorKind:    kind,
		Shared:       shared,
	})
	c.metrics.RecordError(kind, path)
	c.metrics.RecordRequest(path, "error", now.Sub(start))
	c.logger.Debug("Request failed", "path", path, "kind", kind, "attempts", attempts, "error", err)
	return err
}

func retries(attempts int) int {
	if attempts <= 1 {
		return 0
	}
	return attempts - 1
}

// Cached returns the valid cache entry for path and cfg without fetching.
func (c *Client) Cached(path string, cfg RequestConfig) (*CacheEntry, bool) {
	if c.validationError != nil {
		return nil, false
	}
	return c.store.Get(RequestKey(path, cfg.Normalize(c.defaults)))
}

// Invalidate drops the cache entry for path and cfg.
func (c *Client) Invalidate(path string, cfg RequestConfig) {
	if c.validationError != nil {
		return
	}
	c.store.Delete(RequestKey(path, cfg.Normalize(c.defaults)))
}

// InvalidateAll empties the cache.
func (c *Client) InvalidateAll() {
	if c.validationError != nil {
		return
	}
	c.store.Clear()
}

// Preload fetches paths concurrently, at most the configured preload
// concurrency at a time. Every path is attempted; failures are joined.
func (c *Client) Preload(ctx context.Context, paths []string, cfg RequestConfig) error {
	if c.validationError != nil {
		return c.validationError
	}

	var (
		mu   sync.Mutex
		errs []error
		g    errgroup.Group
	)
	g.SetLimit(c.preloadConcurrency)

	for _, p := range paths {
		g.Go(func() error {
			if _, err := c.Fetch(ctx, p, cfg); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("preload %s: %w", p, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(errs) > 0 {
		c.logger.Warn("Preload incomplete", "failed", len(errs), "total", len(paths))
	}
	return errors.Join(errs...)
}

// Summary aggregates the recorded samples for endpoint.
func (c *Client) Summary(endpoint string) Summary {
	return c.recorder.Summary(endpoint)
}

// Summaries aggregates every endpoint with samples.
func (c *Client) Summaries() map[string]Summary {
	return c.recorder.Summaries()
}

// Recorder exposes the metrics recorder.
func (c *Client) Recorder() *Recorder {
	return c.recorder
}

// Store exposes the cache store.
func (c *Client) Store() Store {
	return c.store
}

// Defaults returns the request configuration used for unset fields.
func (c *Client) Defaults() RequestConfig {
	return c.defaults
}

// InFlight reports the number of physical requests currently running.
func (c *Client) InFlight() int {
	if c.dedup == nil {
		return 0
	}
	return c.dedup.InFlight()
}

// Close stops background work owned by the client. Stores passed in with
// WithStore are left to their owner.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		if c.ownStore != nil {
			c.ownStore.Stop()
		}
	})
	return nil
}

// FetchJSON fetches path and decodes it into a T. A payload that does not
// decode into T is a ParseError.
func FetchJSON[T any](ctx context.Context, c *Client, path string, cfg RequestConfig) (T, *Result, error) {
	var v T
	res, err := c.Fetch(ctx, path, cfg)
	if err != nil {
		return v, nil, err
	}
	if err := res.Decode(&v); err != nil {
		var fe *FetchError
		if errors.As(err, &fe) {
			fe.Path = path
		}
		return v, res, err
	}
	return v, res, nil
}
