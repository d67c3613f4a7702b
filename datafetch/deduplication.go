package datafetch

import (
	"context"
	"errors"
	"fmt"

	"github.com/TONwisdomyang/crypto-stock-tracker/internal/singleflight"
)

// flight is what one physical request hands to every attached caller.
type flight struct {
	resp     *Response
	attempts int
}

// Deduplicator coalesces concurrent logical requests with the same key into
// a single physical request.
type Deduplicator struct {
	group   singleflight.Group[*flight]
	metrics *MetricsCollector
	logger  Logger
}

// NewDeduplicator creates a deduplicator. Both arguments may be nil.
func NewDeduplicator(metrics *MetricsCollector, logger Logger) *Deduplicator {
	return &Deduplicator{metrics: metrics, logger: logger}
}

// Run executes op for key unless a request for key is already in flight, in
// which case it attaches to that one and shared is true. op runs detached from
// ctx's cancellation; if ctx ends first this caller gets Aborted while the
// physical request keeps running for anyone still attached.
//
// attempts is the number of physical attempts the shared request made.
func (d *Deduplicator) Run(ctx context.Context, key, path string, op func(context.Context) (*Response, int, error)) (resp *Response, attempts int, shared bool, err error) {
	f, shared, err := d.group.Do(ctx, key, func(runCtx context.Context) (*flight, error) {
		r, n, err := op(runCtx)
		return &flight{resp: r, attempts: n}, err
	})

	if shared {
		d.metrics.RecordDeduplicationHit(path)
		if d.logger != nil {
			d.logger.Debug("Attached to in-flight request", "path", path, "key", key)
		}
	}

	if f != nil {
		resp, attempts = f.resp, f.attempts
	}
	if err == nil {
		return resp, attempts, shared, nil
	}

	var pe *singleflight.PanicError
	switch {
	case errors.As(err, &pe):
		err = &FetchError{Kind: KindTransient, Message: "fetch panicked", Path: path, Cause: fmt.Errorf("%v", pe.Value)}
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		err = &FetchError{Kind: KindAborted, Message: "request cancelled", Path: path, Cause: err}
	}
	if fe := asFetchError(err, path); fe.Attempts > attempts {
		attempts = fe.Attempts
	}
	return resp, attempts, shared, err
}

// InFlight reports how many keys currently have a physical request running.
func (d *Deduplicator) InFlight() int {
	return d.group.InFlight()
}

// Waiters reports how many callers are attached to the request for key.
func (d *Deduplicator) Waiters(key string) int {
	return d.group.Waiters(key)
}
