package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/TONwisdomyang/crypto-stock-tracker/datafetch"
	"github.com/TONwisdomyang/crypto-stock-tracker/internal/config"
	"github.com/TONwisdomyang/crypto-stock-tracker/internal/httpserver"
	"github.com/TONwisdomyang/crypto-stock-tracker/stores/bigstore"
	"github.com/TONwisdomyang/crypto-stock-tracker/stores/redisstore"
)

// closer is satisfied by the external stores.
type closer interface {
	Close() error
}

// CompositionRoot holds all application dependencies.
//
// Initialization order:
// 1. Configuration and logger
// 2. Metrics registry
// 3. Fetcher and cache store
// 4. Data client and preloader
// 5. HTTP server
type CompositionRoot struct {
	Config   *config.Config
	Logger   *zap.Logger
	Registry *prometheus.Registry
	Metrics  *datafetch.MetricsCollector

	Fetcher   datafetch.Fetcher
	Store     datafetch.Store
	Client    *datafetch.Client
	Preloader *Preloader

	HTTPServer *httpserver.Server

	storeCloser closer
}

// NewCompositionRoot creates and wires every component for configPath. An
// empty configPath runs on defaults.
func NewCompositionRoot(configPath string) (*CompositionRoot, error) {
	root := &CompositionRoot{}

	if err := root.loadConfig(configPath); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := root.initLogger(); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	root.initMetrics()

	if err := root.initFetcher(); err != nil {
		return nil, fmt.Errorf("failed to initialize fetcher: %w", err)
	}

	if err := root.initStore(); err != nil {
		return nil, fmt.Errorf("failed to initialize cache store: %w", err)
	}

	if err := root.initClient(); err != nil {
		_ = root.Cleanup()
		return nil, fmt.Errorf("failed to initialize data client: %w", err)
	}

	root.initHTTPServer()
	return root, nil
}

// loadConfig loads the application configuration with a bootstrap logger.
func (r *CompositionRoot) loadConfig(configPath string) error {
	if configPath == "" {
		r.Config = config.Default()
		return nil
	}

	bootstrap, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer func() { _ = bootstrap.Sync() }()

	cfg, err := config.LoadConfig(configPath, bootstrap)
	if err != nil {
		return err
	}
	r.Config = cfg
	return nil
}

// initLogger builds the application logger from the log section.
func (r *CompositionRoot) initLogger() error {
	level, err := zap.ParseAtomicLevel(r.Config.Log.Level)
	if err != nil {
		return err
	}

	zc := zap.NewProductionConfig()
	if r.Config.Log.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = level

	logger, err := zc.Build()
	if err != nil {
		return err
	}
	r.Logger = logger.With(zap.String("service", "dashgate"))
	return nil
}

func (r *CompositionRoot) initMetrics() {
	r.Registry = prometheus.NewRegistry()
	r.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	r.Metrics = datafetch.NewMetricsCollectorWithRegistry(r.Registry)
}

// initFetcher selects the upstream the documents are read from.
func (r *CompositionRoot) initFetcher() error {
	up := r.Config.Upstream

	switch up.Kind {
	case "http":
		opts := []datafetch.HTTPFetcherOption{
			datafetch.WithMaxBodySize(up.MaxBodyBytes),
		}
		if up.UserAgent != "" {
			opts = append(opts, datafetch.WithUserAgent(up.UserAgent))
		}
		if up.RateLimit.Tokens > 0 {
			opts = append(opts, datafetch.WithRateLimit(up.RateLimit.Tokens, up.RateLimit.Refill))
		}
		if breaker := up.CircuitBreaker.Breaker(); breaker != nil {
			opts = append(opts, datafetch.WithCircuitBreaker(*breaker))
		}

		fetcher, err := datafetch.NewHTTPFetcher(up.BaseURL, opts...)
		if err != nil {
			return err
		}
		r.Fetcher = fetcher
		r.Logger.Info("HTTP upstream initialized",
			zap.String("base_url", up.BaseURL),
			zap.Int("rate_limit_tokens", up.RateLimit.Tokens),
			zap.Bool("circuit_breaker", up.CircuitBreaker.Enabled))
	case "fs":
		if _, err := os.Stat(up.Dir); err != nil {
			return fmt.Errorf("data directory %q: %w", up.Dir, err)
		}
		r.Fetcher = datafetch.NewFSFetcher(os.DirFS(up.Dir))
		r.Logger.Info("Filesystem upstream initialized", zap.String("dir", up.Dir))
	default:
		return fmt.Errorf("unknown upstream kind %q", up.Kind)
	}
	return nil
}

// initStore selects the cache backend. The memory backend is owned by the
// client and left nil here.
func (r *CompositionRoot) initStore() error {
	cc := r.Config.Cache

	switch cc.Backend {
	case "memory":
		r.Logger.Info("Memory cache initialized", zap.Int("max_entries", cc.MaxEntries))
	case "bigcache":
		bc := bigstore.DefaultConfig(cc.BigCache.LifeWindow)
		bc.Shards = cc.BigCache.Shards
		bc.CleanWindow = cc.BigCache.CleanWindow
		bc.HardMaxCacheSizeMB = cc.BigCache.HardMaxCacheSizeMB

		store, err := bigstore.New(bc, r.Logger, bigstore.WithMetrics(r.Metrics, "bigcache"))
		if err != nil {
			return err
		}
		r.Store, r.storeCloser = store, store
		r.Logger.Info("BigCache initialized",
			zap.Int("shards", bc.Shards),
			zap.Int("size_mb", bc.HardMaxCacheSizeMB))
	case "redis":
		client, err := redisstore.Dial(context.Background(), redisstore.ClientOptions{
			URL:          cc.Redis.URL,
			DialTimeout:  cc.Redis.DialTimeout,
			ReadTimeout:  cc.Redis.ReadTimeout,
			WriteTimeout: cc.Redis.WriteTimeout,
			PoolSize:     cc.Redis.PoolSize,
		})
		if err != nil {
			return err
		}
		store := redisstore.New(client, r.Logger,
			redisstore.WithPrefix(cc.Redis.KeyPrefix),
			redisstore.WithTimeouts(cc.Redis.ReadTimeout, cc.Redis.WriteTimeout))
		r.Store, r.storeCloser = store, store
		r.Logger.Info("Redis cache initialized", zap.String("key_prefix", cc.Redis.KeyPrefix))
	default:
		return fmt.Errorf("unknown cache backend %q", cc.Backend)
	}
	return nil
}

func (r *CompositionRoot) initClient() error {
	strategy, err := r.Config.Request.BackoffStrategy()
	if err != nil {
		return err
	}

	opts := []datafetch.Option{
		datafetch.WithFetcher(r.Fetcher),
		datafetch.WithDefaultRequestConfig(r.Config.Request.RequestDefaults()),
		datafetch.WithMaxEntries(r.Config.Cache.MaxEntries),
		datafetch.WithSweepInterval(r.Config.Cache.SweepInterval),
		datafetch.WithHistorySize(r.Config.Cache.HistorySize),
		datafetch.WithMaxBackoff(r.Config.Request.MaxBackoff),
		datafetch.WithBackoffStrategy(strategy),
		datafetch.WithJitter(r.Config.Request.Jitter),
		datafetch.WithPreloadConcurrency(r.Config.Preload.Concurrency),
		datafetch.WithMetricsCollector(r.Metrics),
		datafetch.WithLogger(datafetch.NewZapLogger(r.Logger)),
	}
	if r.Store != nil {
		opts = append(opts, datafetch.WithStore(r.Store))
	}

	client := datafetch.New(opts...)
	if err := client.ValidationError(); err != nil {
		return err
	}
	r.Client = client
	r.Preloader = NewPreloader(client, r.Config.Preload.Paths, r.Config.Preload.Interval, r.Logger)
	return nil
}

func (r *CompositionRoot) initHTTPServer() {
	var metricsHandler http.Handler
	if r.Config.Metrics.Enabled {
		metricsHandler = promhttp.HandlerFor(r.Registry, promhttp.HandlerOpts{Registry: r.Registry})
	}

	r.HTTPServer = httpserver.NewServer(r.Client, httpserver.Options{
		Addr:           r.Config.Server.Addr,
		ReadTimeout:    r.Config.Server.ReadTimeout,
		WriteTimeout:   r.Config.Server.WriteTimeout,
		MetricsPath:    r.Config.Metrics.Path,
		MetricsHandler: metricsHandler,
	}, r.Logger)
}

// Cleanup releases the client and any external store.
func (r *CompositionRoot) Cleanup() error {
	if r.Preloader != nil {
		r.Preloader.Stop()
	}
	if r.Client != nil {
		_ = r.Client.Close()
	}

	var err error
	if r.storeCloser != nil {
		err = r.storeCloser.Close()
	}
	if r.Logger != nil {
		_ = r.Logger.Sync()
	}
	return err
}
