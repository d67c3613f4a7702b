package datafetch

import (
	"context"
	"errors"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/TONwisdomyang/crypto-stock-tracker/internal/backoff"
)

// DefaultMaxBackoff caps any single wait between attempts.
const DefaultMaxBackoff = 30 * time.Second

// Operation performs one physical attempt. attempt starts at zero.
type Operation func(ctx context.Context, attempt int) (*Response, error)

// RetryExecutor runs a logical request as a bounded series of physical
// attempts with per-attempt timeouts and exponential backoff.
type RetryExecutor struct {
	clock      clock.Clock
	strategy   backoff.Strategy
	maxBackoff time.Duration
	jitter     float64
	observer   AttemptObserver
	metrics    *MetricsCollector
	logger     Logger
}

// RetryOption configures a RetryExecutor.
type RetryOption func(*RetryExecutor)

// WithRetryClock sets the time source used for timeouts and waits.
func WithRetryClock(clk clock.Clock) RetryOption {
	return func(r *RetryExecutor) { r.clock = clk }
}

// WithRetryStrategy replaces the exact exponential schedule.
func WithRetryStrategy(s backoff.Strategy) RetryOption {
	return func(r *RetryExecutor) { r.strategy = s }
}

// WithRetryMaxBackoff caps single waits.
func WithRetryMaxBackoff(d time.Duration) RetryOption {
	return func(r *RetryExecutor) { r.maxBackoff = d }
}

// WithRetryJitter sets the jitter fraction used by jittered strategies.
func WithRetryJitter(f float64) RetryOption {
	return func(r *RetryExecutor) { r.jitter = f }
}

// WithRetryObserver registers a hook called after every attempt.
func WithRetryObserver(o AttemptObserver) RetryOption {
	return func(r *RetryExecutor) { r.observer = o }
}

// WithRetryMetrics reports attempts and retries to a collector.
func WithRetryMetrics(mc *MetricsCollector) RetryOption {
	return func(r *RetryExecutor) { r.metrics = mc }
}

// WithRetryLogger sets the logger.
func WithRetryLogger(l Logger) RetryOption {
	return func(r *RetryExecutor) { r.logger = l }
}

// NewRetryExecutor creates an executor using the exact exponential schedule.
func NewRetryExecutor(opts ...RetryOption) *RetryExecutor {
	r := &RetryExecutor{
		clock:      clock.New(),
		strategy:   backoff.Exponential{},
		maxBackoff: DefaultMaxBackoff,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Backoff returns the wait before retry number retry (1 for the second
// attempt). A server-provided Retry-After on the previous failure wins.
func (r *RetryExecutor) Backoff(retry int, cfg RequestConfig, prev *FetchError) time.Duration {
	if prev != nil && prev.RetryAfter > 0 {
		if r.maxBackoff > 0 && prev.RetryAfter > r.maxBackoff {
			return r.maxBackoff
		}
		return prev.RetryAfter
	}
	return r.strategy.Delay(retry, backoff.Params{
		Base:       cfg.RetryBaseDelay,
		Max:        r.maxBackoff,
		Multiplier: 2,
		Jitter:     r.jitter,
	})
}

// Execute runs op until it succeeds, fails terminally, or the attempt budget
// of cfg.MaxRetries+1 is spent. It returns the response, the number of
// physical attempts made, and a *FetchError on failure. Exhaustion yields
// ExhaustedRetries wrapping the last attempt's error.
func (r *RetryExecutor) Execute(ctx context.Context, path string, cfg RequestConfig, op Operation) (*Response, int, error) {
	start := r.clock.Now()
	budget := cfg.Attempts()

	var (
		last  *FetchError
		delay time.Duration
	)

	for attempt := 0; attempt < budget; attempt++ {
		if attempt > 0 {
			if r.logger != nil {
				r.logger.Debug("Scheduling retry", "path", path, "attempt", attempt+1, "backoff", delay)
			}
			if err := r.sleep(ctx, delay); err != nil {
				return nil, attempt, r.aborted(path, cfg, attempt, start, err)
			}
			r.metrics.RecordRetry(path, attempt)
		}
		if err := ctx.Err(); err != nil {
			return nil, attempt, r.aborted(path, cfg, attempt, start, err)
		}

		attemptStart := r.clock.Now()
		resp, err, timedOut := r.attempt(ctx, cfg, op, attempt)
		elapsed := r.clock.Since(attemptStart)

		if err == nil {
			r.metrics.RecordAttempt(path, "ok")
			r.observe(AttemptRecord{Path: path, Attempt: attempt, Elapsed: elapsed})
			return resp, attempt + 1, nil
		}

		fe := r.classify(ctx, path, err, timedOut)
		fe.Attempts = attempt + 1
		fe.MaxRetries = cfg.MaxRetries
		fe.Timestamp = r.clock.Now()
		fe.Duration = r.clock.Since(start)
		last = fe

		delay = 0
		if fe.Retryable() && attempt+1 < budget {
			delay = r.Backoff(attempt+1, cfg, fe)
		}
		r.metrics.RecordAttempt(path, string(fe.Kind))
		r.observe(AttemptRecord{Path: path, Attempt: attempt, Elapsed: elapsed, Err: fe, Kind: fe.Kind, Backoff: delay})

		if !fe.Retryable() {
			return nil, attempt + 1, fe
		}
	}

	if r.logger != nil {
		r.logger.Warn("Retries exhausted", "path", path, "attempts", budget, "error", last)
	}
	return nil, budget, &FetchError{
		Kind:       KindExhausted,
		Message:    "all attempts failed",
		Path:       path,
		StatusCode: last.StatusCode,
		Attempts:   budget,
		MaxRetries: cfg.MaxRetries,
		Timestamp:  r.clock.Now(),
		Duration:   r.clock.Since(start),
		Cause:      last,
	}
}

func (r *RetryExecutor) attempt(ctx context.Context, cfg RequestConfig, op Operation, attempt int) (resp *Response, err error, timedOut bool) {
	var (
		attemptCtx context.Context
		cancel     context.CancelFunc
	)
	if cfg.Timeout > 0 {
		attemptCtx, cancel = r.clock.WithTimeout(ctx, cfg.Timeout)
	} else {
		attemptCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	resp, err = op(attemptCtx, attempt)
	if err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		timedOut = true
	}
	return resp, err, timedOut
}

func (r *RetryExecutor) classify(ctx context.Context, path string, err error, timedOut bool) *FetchError {
	switch {
	case ctx.Err() != nil:
		return &FetchError{Kind: KindAborted, Message: "request cancelled", Path: path, Cause: ctx.Err()}
	case timedOut:
		return &FetchError{Kind: KindTimeout, Message: "attempt timed out", Path: path, Cause: err}
	}

	fe := asFetchError(err, path)
	// Copy so the per-attempt bookkeeping never mutates an error value the
	// fetcher may reuse.
	cp := *fe
	if cp.Path == "" {
		cp.Path = path
	}
	return &cp
}

func (r *RetryExecutor) aborted(path string, cfg RequestConfig, attempts int, start time.Time, cause error) *FetchError {
	return &FetchError{
		Kind:       KindAborted,
		Message:    "request cancelled",
		Path:       path,
		Attempts:   attempts,
		MaxRetries: cfg.MaxRetries,
		Timestamp:  r.clock.Now(),
		Duration:   r.clock.Since(start),
		Cause:      cause,
	}
}

// sleep waits d or until ctx ends, whichever comes first.
func (r *RetryExecutor) sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}

	t := r.clock.Timer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (r *RetryExecutor) observe(rec AttemptRecord) {
	if r.observer == nil {
		return
	}
	defer func() { _ = recover() }()
	r.observer(rec)
}
