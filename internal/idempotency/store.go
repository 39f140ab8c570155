// Package idempotency caches final routing outcomes so that a retried request
// with the same key and body replays the stored response instead of executing
// again. Only terminal outcomes are stored; transient failures never are.
package idempotency

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

// Record is one cached routing outcome. Headers captured at store time are
// replayed with the body so a repeat request is byte-identical on both.
type Record struct {
	StatusCode int               `json:"statusCode"`
	Body       []byte            `json:"body"`
	Headers    map[string]string `json:"headers,omitempty"`
	ProviderID string            `json:"providerId,omitempty"`
	CostUSD    float64           `json:"costUsd,omitempty"`
	CreatedAt  time.Time         `json:"createdAt"`
}

// Store persists idempotency records.
type Store interface {
	// Get returns the record for the key, or ok=false on a miss.
	Get(ctx context.Context, key string) (Record, bool, error)
	// Put stores the record unless the key already holds one. The first
	// writer wins; concurrent duplicates replay the original outcome.
	Put(ctx context.Context, key string, rec Record) error
	Close() error
}

// MemoryStoreConfig holds configuration for MemoryStore.
type MemoryStoreConfig struct {
	MaxEntries      int           // default 50000
	TTL             time.Duration // default 24h
	CleanupInterval time.Duration // default 1 minute
}

func (c MemoryStoreConfig) withDefaults() MemoryStoreConfig {
	if c.MaxEntries <= 0 {
		c.MaxEntries = 50000
	}
	if c.TTL <= 0 {
		c.TTL = 24 * time.Hour
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = time.Minute
	}
	return c
}

type memoryEntry struct {
	rec       Record
	expiresAt int64 // unix nano
}

type expiryEntry struct {
	key       string
	expiresAt int64
	index     int
}

// expiryHeap orders keys by expiration so eviction can pop the oldest record
// first. Records are written once with a uniform TTL, so heap order is also
// insertion order.
type expiryHeap []*expiryEntry

func (h expiryHeap) Len() int           { return len(h) }
func (h expiryHeap) Less(i, j int) bool { return h[i].expiresAt < h[j].expiresAt }
func (h expiryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *expiryHeap) Push(x any) {
	entry := x.(*expiryEntry)
	entry.index = len(*h)
	*h = append(*h, entry)
}

func (h *expiryHeap) Pop() any {
	old := *h
	n := len(old)
	entry := old[n-1]
	old[n-1] = nil
	entry.index = -1
	*h = old[0 : n-1]
	return entry
}

// MemoryStore is a bounded in-process store with TTL expiry. When full it
// evicts the records closest to expiry.
type MemoryStore struct {
	mu     sync.Mutex
	data   map[string]*memoryEntry
	expiry expiryHeap
	cfg    MemoryStoreConfig

	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
	closeOnce     sync.Once

	now func() time.Time
}

// NewMemoryStore creates a memory store and starts its cleanup loop.
func NewMemoryStore(cfg MemoryStoreConfig) *MemoryStore {
	cfg = cfg.withDefaults()
	s := &MemoryStore{
		data:        make(map[string]*memoryEntry),
		expiry:      make(expiryHeap, 0),
		cfg:         cfg,
		stopCleanup: make(chan struct{}),
		now:         time.Now,
	}
	heap.Init(&s.expiry)

	s.cleanupTicker = time.NewTicker(cfg.CleanupInterval)
	go s.cleanupLoop()
	return s
}

func (s *MemoryStore) cleanupLoop() {
	for {
		select {
		case <-s.cleanupTicker.C:
			s.mu.Lock()
			s.evictExpired(s.now().UnixNano())
			s.mu.Unlock()
		case <-s.stopCleanup:
			return
		}
	}
}

// evictExpired pops expired heap entries. Callers hold s.mu.
func (s *MemoryStore) evictExpired(now int64) {
	for s.expiry.Len() > 0 {
		top := s.expiry[0]
		if top.expiresAt > now {
			break
		}
		heap.Pop(&s.expiry)
		if e, ok := s.data[top.key]; ok && e.expiresAt == top.expiresAt {
			delete(s.data, top.key)
		}
	}
}

// Get returns the stored record if present and unexpired.
func (s *MemoryStore) Get(_ context.Context, key string) (Record, bool, error) {
	now := s.now().UnixNano()

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.data[key]
	if !ok {
		return Record{}, false, nil
	}
	if e.expiresAt <= now {
		delete(s.data, key)
		return Record{}, false, nil
	}
	return e.rec, true, nil
}

// Put stores the record. An existing unexpired record wins over the new one.
func (s *MemoryStore) Put(_ context.Context, key string, rec Record) error {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.data[key]; ok && e.expiresAt > now.UnixNano() {
		return nil
	}

	if len(s.data) >= s.cfg.MaxEntries {
		s.evictExpired(now.UnixNano())
		// Still full: shed the records closest to expiry.
		for s.expiry.Len() > 0 && len(s.data) >= s.cfg.MaxEntries {
			top := heap.Pop(&s.expiry).(*expiryEntry)
			if e, ok := s.data[top.key]; ok && e.expiresAt == top.expiresAt {
				delete(s.data, top.key)
			}
		}
	}

	expiresAt := now.Add(s.cfg.TTL).UnixNano()
	s.data[key] = &memoryEntry{rec: rec, expiresAt: expiresAt}
	heap.Push(&s.expiry, &expiryEntry{key: key, expiresAt: expiresAt})
	return nil
}

// Len returns the number of live records.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}

// Close stops the cleanup loop.
func (s *MemoryStore) Close() error {
	s.closeOnce.Do(func() {
		s.cleanupTicker.Stop()
		close(s.stopCleanup)
	})
	return nil
}
