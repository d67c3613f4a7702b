package datafetch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TONwisdomyang/crypto-stock-tracker/internal/backoff"
)

type attemptLog struct {
	mu      sync.Mutex
	records []AttemptRecord
}

func (l *attemptLog) observe(r AttemptRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, r)
}

func (l *attemptLog) all() []AttemptRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]AttemptRecord(nil), l.records...)
}

func TestRetryExecutor_ExhaustsBudgetWithExactBackoff(t *testing.T) {
	log := &attemptLog{}
	exec := NewRetryExecutor(WithRetryObserver(log.observe))
	cfg := RequestConfig{Timeout: time.Second, MaxRetries: 3, RetryBaseDelay: 2 * time.Millisecond}

	var calls int32
	resp, attempts, err := exec.Execute(context.Background(), "weekly_stats.json", cfg, func(ctx context.Context, attempt int) (*Response, error) {
		atomic.AddInt32(&calls, 1)
		return nil, transientErr("weekly_stats.json")
	})

	assert.Nil(t, resp)
	assert.Equal(t, 4, attempts)
	assert.Equal(t, int32(4), atomic.LoadInt32(&calls))

	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, KindExhausted, fe.Kind)
	assert.Equal(t, 4, fe.Attempts)
	assert.True(t, errors.Is(err, ErrTransient))

	records := log.all()
	require.Len(t, records, 4)
	want := []time.Duration{2 * time.Millisecond, 4 * time.Millisecond, 8 * time.Millisecond, 0}
	for i, r := range records {
		assert.Equal(t, i, r.Attempt)
		assert.Equal(t, KindTransient, r.Kind)
		assert.Equal(t, want[i], r.Backoff, "backoff after attempt %d", i)
	}
}

func TestRetryExecutor_BackoffIsActuallyWaited(t *testing.T) {
	exec := NewRetryExecutor()
	cfg := RequestConfig{Timeout: time.Second, MaxRetries: 2, RetryBaseDelay: 20 * time.Millisecond}

	var stamps []time.Time
	_, _, err := exec.Execute(context.Background(), "p", cfg, func(ctx context.Context, attempt int) (*Response, error) {
		stamps = append(stamps, time.Now())
		return nil, transientErr("p")
	})
	require.Error(t, err)
	require.Len(t, stamps, 3)

	assert.GreaterOrEqual(t, stamps[1].Sub(stamps[0]), 20*time.Millisecond)
	assert.GreaterOrEqual(t, stamps[2].Sub(stamps[1]), 40*time.Millisecond)
}

func TestRetryExecutor_SucceedsAfterTransientFailures(t *testing.T) {
	exec := NewRetryExecutor()
	cfg := fastConfig()

	resp, attempts, err := exec.Execute(context.Background(), "p", cfg, func(ctx context.Context, attempt int) (*Response, error) {
		if attempt < 2 {
			return nil, transientErr("p")
		}
		return okResponse(`{"ok":true}`), nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.JSONEq(t, `{"ok":true}`, string(resp.Payload))
}

func TestRetryExecutor_TerminalErrorsAreNotRetried(t *testing.T) {
	for _, kind := range []ErrorKind{KindClient, KindParse} {
		t.Run(string(kind), func(t *testing.T) {
			exec := NewRetryExecutor()
			var calls int32
			_, attempts, err := exec.Execute(context.Background(), "p", fastConfig(), func(ctx context.Context, attempt int) (*Response, error) {
				atomic.AddInt32(&calls, 1)
				return nil, &FetchError{Kind: kind, Message: "nope", StatusCode: 404}
			})

			assert.Equal(t, 1, attempts)
			assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
			assert.Equal(t, kind, KindOf(err))
		})
	}
}

func TestRetryExecutor_SingleAttemptBudgetStillExhausts(t *testing.T) {
	exec := NewRetryExecutor()
	cfg := fastConfig()
	cfg.MaxRetries = 0

	_, attempts, err := exec.Execute(context.Background(), "p", cfg, func(ctx context.Context, attempt int) (*Response, error) {
		return nil, transientErr("p")
	})

	assert.Equal(t, 1, attempts)
	assert.True(t, errors.Is(err, ErrExhaustedRetries))
	assert.True(t, errors.Is(err, ErrTransient))
}

func TestRetryExecutor_AttemptTimeout(t *testing.T) {
	log := &attemptLog{}
	exec := NewRetryExecutor(WithRetryObserver(log.observe))
	cfg := RequestConfig{Timeout: 20 * time.Millisecond, MaxRetries: 1, RetryBaseDelay: time.Millisecond}

	_, attempts, err := exec.Execute(context.Background(), "slow.json", cfg, func(ctx context.Context, attempt int) (*Response, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	assert.Equal(t, 2, attempts)
	assert.True(t, errors.Is(err, ErrExhaustedRetries))
	assert.True(t, errors.Is(err, ErrTimeout))
	for _, r := range log.all() {
		assert.Equal(t, KindTimeout, r.Kind)
	}
}

func TestRetryExecutor_CancelledBeforeFirstAttempt(t *testing.T) {
	exec := NewRetryExecutor()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls int32
	_, attempts, err := exec.Execute(ctx, "p", fastConfig(), func(ctx context.Context, attempt int) (*Response, error) {
		atomic.AddInt32(&calls, 1)
		return okResponse(`1`), nil
	})

	assert.Equal(t, 0, attempts)
	assert.Zero(t, atomic.LoadInt32(&calls))
	assert.True(t, errors.Is(err, ErrAborted))
}

func TestRetryExecutor_CancelDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	exec := NewRetryExecutor(WithRetryObserver(func(AttemptRecord) { cancel() }))
	cfg := RequestConfig{Timeout: time.Second, MaxRetries: 5, RetryBaseDelay: time.Hour}

	start := time.Now()
	_, attempts, err := exec.Execute(ctx, "p", cfg, func(ctx context.Context, attempt int) (*Response, error) {
		return nil, transientErr("p")
	})

	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, KindAborted, KindOf(err))
}

func TestRetryExecutor_CancelDuringAttempt(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	_, attempts, err := NewRetryExecutor().Execute(ctx, "p", fastConfig(), func(actx context.Context, attempt int) (*Response, error) {
		cancel()
		<-actx.Done()
		return nil, actx.Err()
	})

	assert.Equal(t, 1, attempts)
	assert.Equal(t, KindAborted, KindOf(err))
}

func TestRetryExecutor_RetryAfterOverridesBackoff(t *testing.T) {
	log := &attemptLog{}
	exec := NewRetryExecutor(WithRetryObserver(log.observe), WithRetryMaxBackoff(50*time.Millisecond))
	cfg := RequestConfig{Timeout: time.Second, MaxRetries: 2, RetryBaseDelay: time.Millisecond}

	_, _, err := exec.Execute(context.Background(), "p", cfg, func(ctx context.Context, attempt int) (*Response, error) {
		switch attempt {
		case 0:
			return nil, &FetchError{Kind: KindTransient, StatusCode: 429, RetryAfter: 10 * time.Millisecond}
		case 1:
			return nil, &FetchError{Kind: KindTransient, StatusCode: 503, RetryAfter: time.Hour}
		default:
			return okResponse(`1`), nil
		}
	})
	require.NoError(t, err)

	records := log.all()
	require.Len(t, records, 3)
	assert.Equal(t, 10*time.Millisecond, records[0].Backoff)
	assert.Equal(t, 50*time.Millisecond, records[1].Backoff, "Retry-After is capped by max backoff")
}

func TestRetryExecutor_BackoffCappedAndStrategies(t *testing.T) {
	exec := NewRetryExecutor(WithRetryMaxBackoff(5 * time.Second))
	cfg := RequestConfig{RetryBaseDelay: time.Second}

	assert.Equal(t, time.Second, exec.Backoff(1, cfg, nil))
	assert.Equal(t, 2*time.Second, exec.Backoff(2, cfg, nil))
	assert.Equal(t, 4*time.Second, exec.Backoff(3, cfg, nil))
	assert.Equal(t, 5*time.Second, exec.Backoff(4, cfg, nil))

	jittered := NewRetryExecutor(WithRetryStrategy(backoff.ExponentialJitter{}), WithRetryJitter(0.5))
	for i := 0; i < 20; i++ {
		d := jittered.Backoff(2, cfg, nil)
		assert.GreaterOrEqual(t, d, time.Second)
		assert.LessOrEqual(t, d, 3*time.Second)
	}
}

func TestRetryExecutor_PlainErrorsAreTransient(t *testing.T) {
	_, attempts, err := NewRetryExecutor().Execute(context.Background(), "p", fastConfig(), func(ctx context.Context, attempt int) (*Response, error) {
		return nil, errors.New("connection refused")
	})

	assert.Equal(t, 4, attempts)
	assert.True(t, errors.Is(err, ErrTransient))
}

func TestRetryExecutor_ObserverPanicIsContained(t *testing.T) {
	exec := NewRetryExecutor(WithRetryObserver(func(AttemptRecord) { panic("observer") }))

	resp, _, err := exec.Execute(context.Background(), "p", fastConfig(), func(ctx context.Context, attempt int) (*Response, error) {
		return okResponse(`1`), nil
	})
	require.NoError(t, err)
	assert.NotNil(t, resp)
}
