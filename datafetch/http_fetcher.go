package datafetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
)

// DefaultMaxBodySize bounds how much of a response body is read.
const DefaultMaxBodySize = 10 << 20

// HTTPFetcher fetches JSON documents relative to a base URL.
type HTTPFetcher struct {
	baseURL    *url.URL
	httpClient *http.Client
	maxBody    int64
	userAgent  string
	clock      clock.Clock
	limiter    *RateLimiter
	breaker    *CircuitBreaker

	rateTokens int
	rateRefill time.Duration
	breakerCfg *CircuitBreakerConfig
}

// HTTPFetcherOption configures an HTTPFetcher.
type HTTPFetcherOption func(*HTTPFetcher)

// WithHTTPClient sets the underlying client. Attempt timeouts come from the
// request context, so the client's own Timeout is best left unset.
func WithHTTPClient(c *http.Client) HTTPFetcherOption {
	return func(f *HTTPFetcher) { f.httpClient = c }
}

// WithMaxBodySize overrides DefaultMaxBodySize.
func WithMaxBodySize(n int64) HTTPFetcherOption {
	return func(f *HTTPFetcher) { f.maxBody = n }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) HTTPFetcherOption {
	return func(f *HTTPFetcher) { f.userAgent = ua }
}

// WithFetcherClock sets the time source used for Retry-After dates and guards.
func WithFetcherClock(clk clock.Clock) HTTPFetcherOption {
	return func(f *HTTPFetcher) { f.clock = clk }
}

// WithRateLimit paces physical requests to maxTokens per burst, refilled one
// token per refillRate.
func WithRateLimit(maxTokens int, refillRate time.Duration) HTTPFetcherOption {
	return func(f *HTTPFetcher) {
		f.rateTokens = maxTokens
		f.rateRefill = refillRate
	}
}

// WithCircuitBreaker guards the origin with a circuit breaker.
func WithCircuitBreaker(config CircuitBreakerConfig) HTTPFetcherOption {
	return func(f *HTTPFetcher) { f.breakerCfg = &config }
}

// NewHTTPFetcher creates a fetcher rooted at baseURL.
func NewHTTPFetcher(baseURL string, opts ...HTTPFetcherOption) (*HTTPFetcher, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base url %q: scheme must be http or https", baseURL)
	}

	f := &HTTPFetcher{
		baseURL:    u,
		httpClient: &http.Client{},
		maxBody:    DefaultMaxBodySize,
		userAgent:  UserAgent(),
		clock:      clock.New(),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.rateTokens > 0 {
		f.limiter = NewRateLimiter(f.rateTokens, f.rateRefill, f.clock)
	}
	if f.breakerCfg != nil {
		f.breaker = NewCircuitBreaker(*f.breakerCfg, f.clock)
	}
	return f, nil
}

// Breaker returns the circuit breaker, or nil when none is configured.
func (f *HTTPFetcher) Breaker() *CircuitBreaker {
	return f.breaker
}

// Fetch performs one GET. A non-empty req.ETag makes the request conditional.
func (f *HTTPFetcher) Fetch(ctx context.Context, req Request) (*Response, error) {
	target, err := f.resolve(req.Path)
	if err != nil {
		return nil, err
	}

	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	if f.breaker != nil && !f.breaker.Allow() {
		return nil, &FetchError{Kind: KindTransient, Message: "circuit breaker open", Path: req.Path}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, &FetchError{Kind: KindClient, Message: "invalid request", Path: req.Path, Cause: err}
	}
	httpReq.Header.Set("Accept", "application/json")
	if f.userAgent != "" {
		httpReq.Header.Set("User-Agent", f.userAgent)
	}
	if req.ETag != "" {
		httpReq.Header.Set("If-None-Match", req.ETag)
	}

	resp, err := f.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		f.recordFailure()
		return nil, &FetchError{Kind: KindTransient, Message: "network error", Path: req.Path, Cause: err}
	}
	defer resp.Body.Close()

	out, err := f.classify(req, resp)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if IsRetryable(err) {
			f.recordFailure()
		} else {
			f.recordSuccess()
		}
		return nil, err
	}
	f.recordSuccess()
	return out, nil
}

func (f *HTTPFetcher) classify(req Request, resp *http.Response) (*Response, error) {
	status := resp.StatusCode
	switch {
	case status == http.StatusNotModified && req.ETag != "":
		return &Response{ETag: req.ETag, StatusCode: status, NotModified: true}, nil

	case status >= 200 && status < 300:
		body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBody+1))
		if err != nil {
			return nil, &FetchError{Kind: KindTransient, Message: "read body", Path: req.Path, StatusCode: status, Cause: err}
		}
		if int64(len(body)) > f.maxBody {
			return nil, &FetchError{Kind: KindParse, Message: fmt.Sprintf("payload exceeds %d bytes", f.maxBody), Path: req.Path, StatusCode: status}
		}
		if !json.Valid(body) {
			return nil, &FetchError{Kind: KindParse, Message: "invalid JSON payload", Path: req.Path, StatusCode: status}
		}
		return &Response{Payload: body, ETag: resp.Header.Get("ETag"), StatusCode: status}, nil

	case status == http.StatusTooManyRequests || status >= 500:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return nil, &FetchError{
			Kind:       KindTransient,
			Message:    http.StatusText(status),
			Path:       req.Path,
			StatusCode: status,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), f.clock.Now()),
		}

	case status == http.StatusRequestTimeout:
		return nil, &FetchError{Kind: KindTransient, Message: http.StatusText(status), Path: req.Path, StatusCode: status}

	default:
		return nil, &FetchError{Kind: KindClient, Message: http.StatusText(status), Path: req.Path, StatusCode: status}
	}
}

// resolve joins path onto the base URL, rejecting anything that could
// escape it.
func (f *HTTPFetcher) resolve(path string) (string, error) {
	if err := ValidatePath(path); err != nil {
		return "", err
	}
	return f.baseURL.JoinPath(strings.TrimPrefix(path, "/")).String(), nil
}

// ValidatePath rejects empty, absolute-URL and traversal paths with a
// ClientError.
func ValidatePath(path string) error {
	reject := func(msg string) error {
		return &FetchError{Kind: KindClient, Message: msg, Path: path, StatusCode: http.StatusBadRequest}
	}
	if strings.TrimSpace(path) == "" {
		return reject("empty path")
	}
	u, err := url.Parse(path)
	if err != nil {
		return reject("malformed path")
	}
	if u.Scheme != "" || u.Host != "" {
		return reject("path must be relative")
	}
	for _, seg := range strings.Split(u.Path, "/") {
		if seg == ".." {
			return reject("path escapes base")
		}
	}
	return nil
}

func (f *HTTPFetcher) recordFailure() {
	if f.breaker != nil {
		f.breaker.RecordFailure()
	}
}

func (f *HTTPFetcher) recordSuccess() {
	if f.breaker != nil {
		f.breaker.RecordSuccess()
	}
}

// parseRetryAfter reads delay-seconds or an HTTP-date, capped at an hour.
func parseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}

	var delay time.Duration
	if seconds, err := strconv.Atoi(value); err == nil {
		delay = time.Duration(seconds) * time.Second
	} else if t, err := http.ParseTime(value); err == nil {
		delay = t.Sub(now)
	}

	switch {
	case delay <= 0:
		return 0
	case delay > time.Hour:
		return time.Hour
	default:
		return delay
	}
}
