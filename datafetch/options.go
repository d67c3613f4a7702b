package datafetch

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/TONwisdomyang/crypto-stock-tracker/internal/backoff"
)

// ErrInvalidConfig is wrapped by every configuration validation failure.
var ErrInvalidConfig = errors.New("datafetch: invalid configuration")

// Option configures a Client.
type Option func(*Client)

// WithFetcher sets the collaborator that performs physical requests.
func WithFetcher(f Fetcher) Option {
	return func(c *Client) {
		c.fetcher = f
	}
}

// WithStore replaces the default in-memory store. The client does not stop
// or close stores it did not create.
func WithStore(s Store) Option {
	return func(c *Client) {
		c.store = s
	}
}

// WithMaxEntries bounds the default in-memory store.
func WithMaxEntries(n int) Option {
	return func(c *Client) {
		c.maxEntries = n
	}
}

// WithSweepInterval sets how often the default store purges expired entries.
func WithSweepInterval(d time.Duration) Option {
	return func(c *Client) {
		c.sweepInterval = d
	}
}

// WithDefaultRequestConfig sets the values used for zero RequestConfig fields.
func WithDefaultRequestConfig(rc RequestConfig) Option {
	return func(c *Client) {
		c.defaults = rc
	}
}

// WithMaxBackoff caps a single wait between attempts.
func WithMaxBackoff(d time.Duration) Option {
	return func(c *Client) {
		c.maxBackoff = d
	}
}

// WithBackoffStrategy replaces the exact exponential schedule.
func WithBackoffStrategy(s backoff.Strategy) Option {
	return func(c *Client) {
		c.strategy = s
	}
}

// WithJitter sets the jitter fraction for jittered strategies, clamped to [0,1].
func WithJitter(f float64) Option {
	return func(c *Client) {
		if f < 0 {
			f = 0
		}
		if f > 1 {
			f = 1
		}
		c.jitter = f
	}
}

// WithHistorySize sets how many samples the recorder keeps per endpoint.
func WithHistorySize(n int) Option {
	return func(c *Client) {
		c.historySize = n
	}
}

// WithMetricsCollector enables Prometheus metrics.
func WithMetricsCollector(mc *MetricsCollector) Option {
	return func(c *Client) {
		c.metrics = mc
	}
}

// WithLogger sets the logger.
func WithLogger(l Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// WithClock sets the time source for the client and everything it builds.
func WithClock(clk clock.Clock) Option {
	return func(c *Client) {
		c.clock = clk
	}
}

// WithPreloadConcurrency bounds how many documents Preload fetches at once.
func WithPreloadConcurrency(n int) Option {
	return func(c *Client) {
		c.preloadConcurrency = n
	}
}

// WithAttemptObserver registers a hook called after every physical attempt.
func WithAttemptObserver(o AttemptObserver) Option {
	return func(c *Client) {
		c.observer = o
	}
}

// ValidateConfiguration checks the client configuration and reports every
// problem found.
func (c *Client) ValidateConfiguration() error {
	var problems []string

	problems = append(problems, c.validateRequestDefaults()...)
	problems = append(problems, c.validateCacheConfig()...)
	problems = append(problems, c.validateRetryConfig()...)

	if c.fetcher == nil {
		problems = append(problems, "fetcher must be set")
	}
	if c.preloadConcurrency <= 0 {
		problems = append(problems, "preloadConcurrency must be positive")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

func (c *Client) validateRequestDefaults() []string {
	var problems []string
	problems = append(problems, validateRequestConfig(c.defaults, "default ")...)
	if c.defaults.Timeout > 10*time.Minute {
		problems = append(problems, "default timeout > 10m may cause requests to hang for too long")
	}
	if c.defaults.MaxRetries > 100 {
		problems = append(problems, "default maxRetries > 100 may cause excessive resource usage")
	}
	return problems
}

func (c *Client) validateCacheConfig() []string {
	var problems []string
	if c.store == nil && c.maxEntries <= 0 {
		problems = append(problems, "maxEntries must be positive")
	}
	if c.store == nil && c.sweepInterval <= 0 {
		problems = append(problems, "sweepInterval must be positive")
	}
	if c.historySize <= 0 {
		problems = append(problems, "historySize must be positive")
	}
	return problems
}

func (c *Client) validateRetryConfig() []string {
	var problems []string
	if c.maxBackoff <= 0 {
		problems = append(problems, "maxBackoff must be positive")
	}
	if c.maxBackoff > time.Hour {
		problems = append(problems, "maxBackoff > 1h may cause extremely long delays")
	}
	if c.jitter < 0 || c.jitter > 1 {
		problems = append(problems, "jitter must be between 0 and 1")
	}
	if c.strategy == nil {
		problems = append(problems, "backoff strategy must be set")
	}
	return problems
}

// validateRequestConfig checks a normalized per-call configuration.
func validateRequestConfig(rc RequestConfig, prefix string) []string {
	var problems []string
	if rc.Timeout <= 0 {
		problems = append(problems, prefix+"timeout must be positive")
	}
	if rc.MaxRetries < 0 {
		problems = append(problems, prefix+"maxRetries must be non-negative")
	}
	if rc.RetryBaseDelay < 0 {
		problems = append(problems, prefix+"retryBaseDelay must be non-negative")
	}
	if rc.TTL <= 0 {
		problems = append(problems, prefix+"ttl must be positive")
	}
	return problems
}
