package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/TONwisdomyang/crypto-stock-tracker/datafetch"
	"github.com/TONwisdomyang/crypto-stock-tracker/internal/backoff"
)

// EnvConfigPath names the environment variable consulted when no -config
// flag is given.
const EnvConfigPath = "DASHGATE_CONFIG"

// DefaultPreloadPaths are the documents the weekly ETL job publishes.
var DefaultPreloadPaths = []string{
	"weekly_stats.json",
	"holdings.json",
	"summary.json",
	"complete_historical_baseline.json",
}

// Config represents the gateway configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Request  RequestConfig  `yaml:"request"`
	Cache    CacheConfig    `yaml:"cache"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Preload  PreloadConfig  `yaml:"preload"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr            string        `yaml:"addr" validate:"required"`
	ReadTimeout     time.Duration `yaml:"read_timeout" validate:"gte=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" validate:"gte=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gt=0"`
}

// UpstreamConfig selects where documents come from.
type UpstreamConfig struct {
	Kind           string               `yaml:"kind" validate:"oneof=http fs"`
	BaseURL        string               `yaml:"base_url" validate:"omitempty,url"`
	Dir            string               `yaml:"dir"`
	UserAgent      string               `yaml:"user_agent"`
	MaxBodyBytes   int64                `yaml:"max_body_bytes" validate:"gte=0"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// RateLimitConfig paces upstream requests. Zero tokens disables it.
type RateLimitConfig struct {
	Tokens int           `yaml:"tokens" validate:"gte=0"`
	Refill time.Duration `yaml:"refill" validate:"gte=0"`
}

// CircuitBreakerConfig guards the upstream.
type CircuitBreakerConfig struct {
	Enabled          bool          `yaml:"enabled"`
	FailureThreshold int           `yaml:"failure_threshold" validate:"gte=0"`
	RecoveryTimeout  time.Duration `yaml:"recovery_timeout" validate:"gte=0"`
	SuccessThreshold int           `yaml:"success_threshold" validate:"gte=0"`
}

// RequestConfig holds the per-request defaults and retry schedule.
type RequestConfig struct {
	Timeout time.Duration `yaml:"timeout" validate:"gt=0"`
	// MaxRetries is a pointer so an explicit zero survives defaulting.
	MaxRetries     *int          `yaml:"max_retries" validate:"required,gte=0,lte=100"`
	RetryBaseDelay time.Duration `yaml:"retry_base_delay" validate:"gte=0"`
	TTL            time.Duration `yaml:"ttl" validate:"gt=0"`
	MaxBackoff     time.Duration `yaml:"max_backoff" validate:"gt=0"`
	Strategy       string        `yaml:"strategy" validate:"oneof=exponential exponential_jitter decorrelated_jitter"`
	Jitter         float64       `yaml:"jitter" validate:"gte=0,lte=1"`
}

// CacheConfig selects and sizes the cache backend.
type CacheConfig struct {
	Backend       string         `yaml:"backend" validate:"oneof=memory bigcache redis"`
	MaxEntries    int            `yaml:"max_entries" validate:"gt=0"`
	SweepInterval time.Duration  `yaml:"sweep_interval" validate:"gt=0"`
	HistorySize   int            `yaml:"history_size" validate:"gt=0"`
	BigCache      BigCacheConfig `yaml:"bigcache"`
	Redis         RedisConfig    `yaml:"redis"`
}

// BigCacheConfig tunes the bigcache backend.
type BigCacheConfig struct {
	Shards             int           `yaml:"shards" validate:"gt=0"`
	LifeWindow         time.Duration `yaml:"life_window" validate:"gt=0"`
	CleanWindow        time.Duration `yaml:"clean_window" validate:"gte=0"`
	HardMaxCacheSizeMB int           `yaml:"hard_max_cache_size_mb" validate:"gte=0"`
}

// RedisConfig tunes the redis backend.
type RedisConfig struct {
	URL          string        `yaml:"url" validate:"omitempty,url"`
	KeyPrefix    string        `yaml:"key_prefix"`
	DialTimeout  time.Duration `yaml:"dial_timeout" validate:"gt=0"`
	ReadTimeout  time.Duration `yaml:"read_timeout" validate:"gt=0"`
	WriteTimeout time.Duration `yaml:"write_timeout" validate:"gt=0"`
	PoolSize     int           `yaml:"pool_size" validate:"gte=0"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path" validate:"required,startswith=/"`
}

// PreloadConfig lists documents warmed at startup and, with a non-zero
// Interval, periodically afterwards.
type PreloadConfig struct {
	Paths       []string      `yaml:"paths" validate:"dive,required"`
	Concurrency int           `yaml:"concurrency" validate:"gt=0"`
	Interval    time.Duration `yaml:"interval" validate:"gte=0"`
}

// LogConfig configures zap.
type LogConfig struct {
	Level       string `yaml:"level" validate:"oneof=debug info warn error"`
	Development bool   `yaml:"development"`
}

var validate = validator.New()

// LoadConfig loads configuration from file path.
func LoadConfig(configPath string, logger *zap.Logger) (*Config, error) {
	logger.Info("Loading configuration", zap.String("path", configPath))

	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer func() { _ = file.Close() }()

	return Load(file)
}

// Load decodes, defaults and validates configuration from r. An empty
// document yields the defaults.
func Load(r io.Reader) (*Config, error) {
	var config Config
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&config); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to decode YAML config: %w", err)
	}

	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var config Config
	config.applyDefaults()
	return &config
}

// Validate checks field constraints and cross-field rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if c.Upstream.Kind == "http" && c.Upstream.BaseURL == "" {
		return errors.New("invalid config: upstream.base_url is required for the http upstream")
	}
	if c.Cache.Backend == "redis" && c.Cache.Redis.URL == "" {
		return errors.New("invalid config: cache.redis.url is required for the redis backend")
	}
	if c.Upstream.RateLimit.Tokens > 0 && c.Upstream.RateLimit.Refill <= 0 {
		return errors.New("invalid config: upstream.rate_limit.refill must be positive when tokens are set")
	}
	if c.Request.MaxBackoff < c.Request.RetryBaseDelay {
		return errors.New("invalid config: request.max_backoff must be greater than or equal to request.retry_base_delay")
	}
	return nil
}

// applyDefaults sets default values for missing configuration
func (c *Config) applyDefaults() {
	c.Server.applyDefaults()
	c.Upstream.applyDefaults()
	c.Request.applyDefaults()
	c.Cache.applyDefaults(c.Request.TTL)
	c.Metrics.applyDefaults()
	c.Preload.applyDefaults()
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

func (s *ServerConfig) applyDefaults() {
	if s.Addr == "" {
		s.Addr = ":8080"
	}
	if s.ReadTimeout == 0 {
		s.ReadTimeout = 15 * time.Second
	}
	if s.WriteTimeout == 0 {
		s.WriteTimeout = 60 * time.Second
	}
	if s.ShutdownTimeout == 0 {
		s.ShutdownTimeout = 10 * time.Second
	}
}

func (u *UpstreamConfig) applyDefaults() {
	if u.Kind == "" {
		if u.BaseURL != "" {
			u.Kind = "http"
		} else {
			u.Kind = "fs"
		}
	}
	if u.Kind == "fs" && u.Dir == "" {
		u.Dir = "public/data"
	}
	if u.MaxBodyBytes == 0 {
		u.MaxBodyBytes = datafetch.DefaultMaxBodySize
	}
}

func (r *RequestConfig) applyDefaults() {
	def := datafetch.DefaultRequestConfig()
	if r.Timeout == 0 {
		r.Timeout = def.Timeout
	}
	if r.MaxRetries == nil {
		n := def.MaxRetries
		r.MaxRetries = &n
	}
	if r.RetryBaseDelay == 0 {
		r.RetryBaseDelay = def.RetryBaseDelay
	}
	if r.TTL == 0 {
		r.TTL = def.TTL
	}
	if r.MaxBackoff == 0 {
		r.MaxBackoff = datafetch.DefaultMaxBackoff
	}
	if r.Strategy == "" {
		r.Strategy = backoff.NameExponential
	}
}

func (c *CacheConfig) applyDefaults(ttl time.Duration) {
	if c.Backend == "" {
		c.Backend = "memory"
	}
	if c.MaxEntries == 0 {
		c.MaxEntries = datafetch.DefaultMaxEntries
	}
	if c.SweepInterval == 0 {
		c.SweepInterval = datafetch.DefaultSweepInterval
	}
	if c.HistorySize == 0 {
		c.HistorySize = datafetch.DefaultHistorySize
	}

	if c.BigCache.Shards == 0 {
		c.BigCache.Shards = 64
	}
	if c.BigCache.LifeWindow == 0 {
		c.BigCache.LifeWindow = ttl
	}
	if c.BigCache.CleanWindow == 0 {
		c.BigCache.CleanWindow = time.Minute
	}

	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = "dashgate:"
	}
	if c.Redis.DialTimeout == 0 {
		c.Redis.DialTimeout = 2 * time.Second
	}
	if c.Redis.ReadTimeout == 0 {
		c.Redis.ReadTimeout = 500 * time.Millisecond
	}
	if c.Redis.WriteTimeout == 0 {
		c.Redis.WriteTimeout = 500 * time.Millisecond
	}
}

func (m *MetricsConfig) applyDefaults() {
	if m.Path == "" {
		m.Path = "/metrics"
	}
}

func (p *PreloadConfig) applyDefaults() {
	if p.Paths == nil {
		p.Paths = append([]string(nil), DefaultPreloadPaths...)
	}
	if p.Concurrency == 0 {
		p.Concurrency = datafetch.DefaultPreloadConcurrency
	}
}

// RequestDefaults converts the request section for the client.
func (r RequestConfig) RequestDefaults() datafetch.RequestConfig {
	rc := datafetch.RequestConfig{
		Timeout:        r.Timeout,
		RetryBaseDelay: r.RetryBaseDelay,
		TTL:            r.TTL,
	}
	if r.MaxRetries != nil {
		rc.MaxRetries = *r.MaxRetries
	}
	return rc
}

// BackoffStrategy resolves the configured strategy.
func (r RequestConfig) BackoffStrategy() (backoff.Strategy, error) {
	return backoff.ForName(r.Strategy)
}

// Breaker converts the circuit breaker section, or returns nil when disabled.
func (b CircuitBreakerConfig) Breaker() *datafetch.CircuitBreakerConfig {
	if !b.Enabled {
		return nil
	}
	return &datafetch.CircuitBreakerConfig{
		FailureThreshold: b.FailureThreshold,
		RecoveryTimeout:  b.RecoveryTimeout,
		SuccessThreshold: b.SuccessThreshold,
	}
}
