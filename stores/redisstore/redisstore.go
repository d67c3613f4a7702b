// Package redisstore provides a datafetch.Store shared across processes
// through redis. Entries are JSON documents written with a server-side
// expiry equal to their TTL; reads re-check the TTL against the local clock.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/TONwisdomyang/crypto-stock-tracker/datafetch"
)

var _ datafetch.Store = (*Store)(nil)

const (
	defaultTimeout = 500 * time.Millisecond
	scanBatch      = 100
)

// Store implements datafetch.Store on a redis Client.
type Store struct {
	client       Client
	prefix       string
	readTimeout  time.Duration
	writeTimeout time.Duration
	clock        clock.Clock
	logger       *zap.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithPrefix namespaces every key.
func WithPrefix(prefix string) Option {
	return func(s *Store) { s.prefix = prefix }
}

// WithTimeouts bounds individual commands.
func WithTimeouts(read, write time.Duration) Option {
	return func(s *Store) {
		if read > 0 {
			s.readTimeout = read
		}
		if write > 0 {
			s.writeTimeout = write
		}
	}
}

// WithClock sets the time source used for TTL checks.
func WithClock(clk clock.Clock) Option {
	return func(s *Store) { s.clock = clk }
}

// New wraps client.
func New(client Client, logger *zap.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		client:       client,
		readTimeout:  defaultTimeout,
		writeTimeout: defaultTimeout,
		clock:        clock.New(),
		logger:       logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the entry for key if present and unexpired. Redis errors are
// logged and reported as a miss.
func (s *Store) Get(key string) (*datafetch.CacheEntry, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), s.readTimeout)
	defer cancel()

	data, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logger.Error("Redis cache get error", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}

	var entry datafetch.CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		s.logger.Warn("Failed to unmarshal cache entry", zap.String("key", key), zap.Error(err))
		s.Delete(key)
		return nil, false
	}

	if entry.Expired(s.clock.Now()) {
		s.Delete(key)
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

	ctx, cancel := context.WithTimeout(context.Background(), s.writeTimeout)
	defer cancel()

	if err := s.client.Set(ctx, s.prefix+key, data, ttl).Err(); err != nil {
		s.logger.Error("Failed to set cache entry", zap.String("key", key), zap.Error(err))
	}
}

// Delete removes key.
func (s *Store) Delete(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.writeTimeout)
	defer cancel()

	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		s.logger.Error("Failed to delete cache entry", zap.String("key", key), zap.Error(err))
	}
}

// Clear removes every key under the store's prefix.
func (s *Store) Clear() {
	keys, err := s.keys()
	if err != nil {
		s.logger.Error("Failed to list cache keys", zap.Error(err))
		return
	}
	if len(keys) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.writeTimeout)
	defer cancel()

	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		s.logger.Error("Failed to clear cache", zap.Int("keys", len(keys)), zap.Error(err))
	}
}

// Len counts keys under the store's prefix.
func (s *Store) Len() int {
	keys, err := s.keys()
	if err != nil {
		s.logger.Error("Failed to list cache keys", zap.Error(err))
		return 0
	}
	return len(keys)
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the client.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) keys() ([]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.readTimeout)
	defer cancel()

	var (
		keys   []string
		cursor uint64
	)
	for {
		batch, next, err := s.client.Scan(ctx, cursor, s.prefix+"*", scanBatch).Result()
		if err != nil {
			return nil, err
		}
		keys = append(keys, batch...)
		if next == 0 {
			return keys, nil
		}
		cursor = next
	}
}
