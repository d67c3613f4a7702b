// Package bigstore provides a datafetch.Store backed by bigcache. Entries are
// serialized to JSON so payloads live off the Go heap; per-entry TTLs are
// enforced on read on top of bigcache's global life window.
package bigstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/allegro/bigcache/v3"
	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/TONwisdomyang/crypto-stock-tracker/datafetch"
)

var _ datafetch.Store = (*Store)(nil)

// Config sizes the underlying cache.
type Config struct {
	Shards             int
	LifeWindow         time.Duration
	CleanWindow        time.Duration
	HardMaxCacheSizeMB int
	// MaxEntriesInWindow and MaxEntrySize only size the initial allocation.
	MaxEntriesInWindow int
	MaxEntrySize       int
}

// DefaultConfig returns a config whose life window matches ttl.
func DefaultConfig(ttl time.Duration) Config {
	return Config{
		Shards:             64,
		LifeWindow:         ttl,
		CleanWindow:        time.Minute,
		MaxEntriesInWindow: 1024,
		MaxEntrySize:       4096,
	}
}

// Store implements datafetch.Store on bigcache.
type Store struct {
	cache   *bigcache.BigCache
	clock   clock.Clock
	logger  *zap.Logger
	metrics *datafetch.MetricsCollector
	name    string
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the time source used for TTL checks.
func WithClock(clk clock.Clock) Option {
	return func(s *Store) { s.clock = clk }
}

// WithMetrics reports evictions and size under name.
func WithMetrics(mc *datafetch.MetricsCollector, name string) Option {
	return func(s *Store) {
		s.metrics = mc
		s.name = name
	}
}

// New creates a bigcache-backed store.
func New(cfg Config, logger *zap.Logger, opts ...Option) (*Store, error) {
	if cfg.LifeWindow <= 0 {
		return nil, errors.New("bigstore: life window must be positive")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Store{
		clock:  clock.New(),
		logger: logger,
		name:   "bigcache",
	}
	for _, opt := range opts {
		opt(s)
	}

	bc := bigcache.DefaultConfig(cfg.LifeWindow)
	if cfg.Shards > 0 {
		bc.Shards = cfg.Shards
	}
	bc.CleanWindow = cfg.CleanWindow
	bc.HardMaxCacheSize = cfg.HardMaxCacheSizeMB
	if cfg.MaxEntriesInWindow > 0 {
		bc.MaxEntriesInWindow = cfg.MaxEntriesInWindow
	}
	if cfg.MaxEntrySize > 0 {
		bc.MaxEntrySize = cfg.MaxEntrySize
	}
	bc.Verbose = false
	bc.OnRemoveWithReason = s.onRemove

	cache, err := bigcache.New(context.Background(), bc)
	if err != nil {
		return nil, fmt.Errorf("bigstore: %w", err)
	}
	s.cache = cache

	logger.Debug("Created bigcache store",
		zap.Int("shards", bc.Shards),
		zap.Duration("life_window", cfg.LifeWindow),
		zap.Int("hard_max_cache_size_mb", cfg.HardMaxCacheSizeMB))
	return s, nil
}

// Get returns the entry for key if present and unexpired.
func (s *Store) Get(key string) (*datafetch.CacheEntry, bool) {
	data, err := s.cache.Get(key)
	if err != nil {
		return nil, false
	}

	var entry datafetch.CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		s.logger.Warn("Failed to unmarshal cache entry", zap.String("key", key), zap.Error(err))
		_ = s.cache.Delete(key)
		return nil, false
	}

	if entry.Expired(s.clock.Now()) {
		_ = s.cache.Delete(key)
		s.recordEviction("expired")
		return nil, false
	}
	return &entry, true
}

// Set stores entry under key, stamping StoredAt and TTL on a copy.
func (s *Store) Set(key string, entry *datafetch.CacheEntry, ttl time.Duration) {
	stored := *entry
	stored.StoredAt = s.clock.Now()
	stored.TTL = ttl

	data, err := json.Marshal(&stored)
	if err != nil {
		s.logger.Error("Failed to marshal cache entry", zap.String("key", key), zap.Error(err))
		return
	}
	if err := s.cache.Set(key, data); err != nil {
		s.logger.Error("Failed to set cache entry", zap.String("key", key), zap.Error(err))
		return
	}
	s.reportSize()
}

// Delete removes key.
func (s *Store) Delete(key string) {
	if err := s.cache.Delete(key); err != nil && !errors.Is(err, bigcache.ErrEntryNotFound) {
		s.logger.Warn("Failed to delete cache entry", zap.String("key", key), zap.Error(err))
	}
	s.reportSize()
}

// Clear removes every entry.
func (s *Store) Clear() {
	if err := s.cache.Reset(); err != nil {
		s.logger.Warn("Failed to reset cache", zap.Error(err))
	}
	s.reportSize()
}

// Len returns the number of stored entries.
func (s *Store) Len() int {
	return s.cache.Len()
}

// Stats exposes bigcache hit and miss counters.
func (s *Store) Stats() bigcache.Stats {
	return s.cache.Stats()
}

// Close releases the cache.
func (s *Store) Close() error {
	return s.cache.Close()
}

func (s *Store) onRemove(key string, _ []byte, reason bigcache.RemoveReason) {
	switch reason {
	case bigcache.Expired:
		s.recordEviction("expired")
	case bigcache.NoSpace:
		s.recordEviction("capacity")
	}
}

func (s *Store) recordEviction(reason string) {
	if s.metrics != nil {
		s.metrics.RecordCacheEviction(s.name, reason)
	}
}

func (s *Store) reportSize() {
	if s.metrics != nil {
		s.metrics.RecordCacheSize(s.name, s.cache.Len())
	}
}
