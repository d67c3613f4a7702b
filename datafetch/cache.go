package datafetch

import (
	"container/list"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

const (
	// DefaultMaxEntries bounds the in-memory store.
	DefaultMaxEntries = 100
	// DefaultSweepInterval is how often expired entries are purged proactively.
	DefaultSweepInterval = time.Minute
)

// Store holds expirable entries keyed by request identity. Implementations
// must never return an entry whose TTL has elapsed and must be safe for
// concurrent use.
type Store interface {
	Get(key string) (*CacheEntry, bool)
	Set(key string, entry *CacheEntry, ttl time.Duration)
	Delete(key string)
	Clear()
	Len() int
}

// RequestKey derives the cache and deduplication identity of a request from
// its path and configuration. Equal inputs always produce equal keys.
func RequestKey(path string, cfg RequestConfig) string {
	q := url.Values{}
	q.Set("maxRetries", strconv.Itoa(cfg.MaxRetries))
	q.Set("retryBaseDelay", cfg.RetryBaseDelay.String())
	q.Set("timeout", cfg.Timeout.String())
	q.Set("ttl", cfg.TTL.String())
	return path + "?" + q.Encode()
}

// MemoryStore is a bounded in-memory Store. When full, the entry inserted
// longest ago is evicted; reads do not affect eviction order.
type MemoryStore struct {
	mu         sync.Mutex
	entries    map[string]*list.Element
	order      *list.List
	maxEntries int
	clock      clock.Clock
	metrics    *MetricsCollector
	name       string

	sweepInterval time.Duration
	sweeper       *sweeper
}

type storeItem struct {
	key   string
	entry *CacheEntry
}

// MemoryStoreOption configures a MemoryStore.
type MemoryStoreOption func(*MemoryStore)

// WithStoreClock sets the time source.
func WithStoreClock(clk clock.Clock) MemoryStoreOption {
	return func(s *MemoryStore) {
		s.clock = clk
	}
}

// WithStoreMetrics reports size and evictions to a collector under name.
func WithStoreMetrics(mc *MetricsCollector, name string) MemoryStoreOption {
	return func(s *MemoryStore) {
		s.metrics = mc
		s.name = name
	}
}

// WithSweepEvery overrides the background sweep interval.
func WithSweepEvery(d time.Duration) MemoryStoreOption {
	return func(s *MemoryStore) {
		s.sweepInterval = d
	}
}

// NewMemoryStore creates a store holding at most maxEntries entries.
// A non-positive maxEntries selects DefaultMaxEntries.
func NewMemoryStore(maxEntries int, opts ...MemoryStoreOption) *MemoryStore {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	s := &MemoryStore{
		entries:       make(map[string]*list.Element),
		order:         list.New(),
		maxEntries:    maxEntries,
		clock:         clock.New(),
		name:          "default",
		sweepInterval: DefaultSweepInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the entry for key if present and unexpired. Expired entries
// are removed on access.
func (s *MemoryStore) Get(key string) (*CacheEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.entries[key]
	if !ok {
		return nil, false
	}

	item := el.Value.(*storeItem)
	if !item.entry.Valid(s.clock.Now()) {
		s.removeElement(el)
		s.reportSize()
		return nil, false
	}
	return item.entry, true
}

// Set stores a copy of entry under key with StoredAt and TTL stamped; the
// caller's entry is left untouched. Overwriting a key counts as a fresh
// insertion.
func (s *MemoryStore) Set(key string, entry *CacheEntry, ttl time.Duration) {
	stored := *entry
	stored.StoredAt = s.clock.Now()
	stored.TTL = ttl
	entry = &stored

	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.entries[key]; ok {
		el.Value.(*storeItem).entry = entry
		s.order.MoveToBack(el)
		return
	}

	for s.order.Len() >= s.maxEntries {
		s.removeElement(s.order.Front())
		if s.metrics != nil {
			s.metrics.RecordCacheEviction(s.name, "capacity")
		}
	}

	s.entries[key] = s.order.PushBack(&storeItem{key: key, entry: entry})
	s.reportSize()
}

// Delete removes key.
func (s *MemoryStore) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.entries[key]; ok {
		s.removeElement(el)
		s.reportSize()
	}
}

// Clear removes every entry.
func (s *MemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make(map[string]*list.Element)
	s.order.Init()
	s.reportSize()
}

// Len returns the number of stored entries, expired ones included until
// they are purged.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len()
}

// Keys returns stored keys from oldest to newest insertion.
func (s *MemoryStore) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, s.order.Len())
	for el := s.order.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Value.(*storeItem).key)
	}
	return keys
}

// Purge removes all expired entries and returns how many were dropped.
func (s *MemoryStore) Purge() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	removed := 0
	for el := s.order.Front(); el != nil; {
		next := el.Next()
		if !el.Value.(*storeItem).entry.Valid(now) {
			s.removeElement(el)
			removed++
		}
		el = next
	}

	if removed > 0 {
		if s.metrics != nil {
			for i := 0; i < removed; i++ {
				s.metrics.RecordCacheEviction(s.name, "expired")
			}
		}
		s.reportSize()
	}
	return removed
}

// StartSweeper launches the background purge loop. Calling it twice is a no-op.
func (s *MemoryStore) StartSweeper() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sweeper != nil {
		return
	}
	s.sweeper = newSweeper(s.clock, s.sweepInterval, func() { s.Purge() })
	s.sweeper.start()
}

// Stop halts the background sweep.
func (s *MemoryStore) Stop() {
	s.mu.Lock()
	sw := s.sweeper
	s.sweeper = nil
	s.mu.Unlock()

	if sw != nil {
		sw.stop()
	}
}

func (s *MemoryStore) removeElement(el *list.Element) {
	s.order.Remove(el)
	delete(s.entries, el.Value.(*storeItem).key)
}

func (s *MemoryStore) reportSize() {
	if s.metrics != nil {
		s.metrics.RecordCacheSize(s.name, s.order.Len())
	}
}

// sweeper runs a task on a fixed interval until stopped.
type sweeper struct {
	clock    clock.Clock
	interval time.Duration
	task     func()
	quit     chan struct{}
	wg       sync.WaitGroup
}

func newSweeper(clk clock.Clock, interval time.Duration, task func()) *sweeper {
	return &sweeper{clock: clk, interval: interval, task: task, quit: make(chan struct{})}
}

func (sw *sweeper) start() {
	ticker := sw.clock.Ticker(sw.interval)
	sw.wg.Add(1)
	go func() {
		defer sw.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				sw.task()
			case <-sw.quit:
				return
			}
		}
	}()
}

func (sw *sweeper) stop() {
	close(sw.quit)
	sw.wg.Wait()
}
