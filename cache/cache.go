// Package cache implements the router's multi-level response cache: an exact
// fingerprint layer, an embedding-similarity layer and a negative layer for
// known-failing requests. Expiry is strict: no entry is ever served past its
// TTL, checked lazily on every read and swept periodically.
package cache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	logging "github.com/ipfs/go-log/v2"

	"github.com/DanielWarg/AliceV2-sub003/config/adaptive"
)

var log = logging.Logger("alice/cache")

// Layer identifies one of the ordered lookup tiers.
type Layer int

const (
	// LayerExact - O(1) lookup keyed by canonicalized request fingerprint.
	LayerExact Layer = iota
	// LayerSemantic - nearest-neighbor lookup over embedding vectors.
	LayerSemantic
	// LayerNegative - fingerprints of requests that terminally failed.
	LayerNegative
)

func (l Layer) String() string {
	switch l {
	case LayerExact:
		return "exact"
	case LayerSemantic:
		return "semantic"
	case LayerNegative:
		return "negative"
	default:
		return "unknown"
	}
}

// Entry is one cached value with its expiry bookkeeping.
type Entry struct {
	Key        uint64
	Value      any
	CreatedAt  time.Time
	TTL        time.Duration
	TierOrigin string
}

func (e *Entry) expiresAt() time.Time { return e.CreatedAt.Add(e.TTL) }

func (e *Entry) expired(now time.Time) bool { return now.After(e.expiresAt()) }

// Failure is the payload of a negative-cache entry: the last known failure
// classification for a fingerprint.
type Failure struct {
	Kind       string    `json:"kind"`
	Message    string    `json:"message"`
	Tier       string    `json:"tier"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Stats holds per-layer hit/miss counters for the health surface.
type Stats struct {
	Hits    uint64 `json:"hits"`
	Misses  uint64 `json:"misses"`
	Entries int    `json:"entries"`
}

type layerCounters struct {
	hits   atomic.Uint64
	misses atomic.Uint64
}

// MultiLevel is the three-layer cache. Each layer has its own concurrency
// discipline: L1 is a bounded LRU under its own lock, L2 a scanned vector
// index, L3 a plain map. The router composes them without any shared lock.
type MultiLevel struct {
	settings func() adaptive.CacheConfig

	l1  *lru.Cache[uint64, *Entry]
	sem *semanticIndex

	negMu sync.RWMutex
	neg   map[uint64]*Entry

	counters [3]layerCounters

	runMu    sync.Mutex
	running  bool
	stopChan chan struct{}

	now func() time.Time
}

// New creates the cache; settings are re-read on every operation so TTL and
// threshold tuning applies without a restart.
func New(settings func() adaptive.CacheConfig) (*MultiLevel, error) {
	cfg := settings()
	l1, err := lru.New[uint64, *Entry](cfg.ExactCapacity)
	if err != nil {
		return nil, fmt.Errorf("create exact layer: %w", err)
	}
	return &MultiLevel{
		settings: settings,
		l1:       l1,
		sem:      newSemanticIndex(cfg.SemanticCapacity),
		neg:      make(map[uint64]*Entry),
		stopChan: make(chan struct{}),
		now:      time.Now,
	}, nil
}

// Get looks up a key in the exact or negative layer. The semantic layer is
// addressed by vector; see GetSemantic.
func (c *MultiLevel) Get(key uint64, layer Layer) (any, bool) {
	switch layer {
	case LayerExact:
		v, _, ok := c.GetExact(key)
		return v, ok
	case LayerNegative:
		f, ok := c.GetNegative(key)
		if !ok {
			return nil, false
		}
		return f, true
	default:
		return nil, false
	}
}

// Put stores a value in the exact or negative layer with the given TTL.
func (c *MultiLevel) Put(key uint64, value any, layer Layer, ttl time.Duration) {
	switch layer {
	case LayerExact:
		c.putExact(key, value, "", ttl)
	case LayerNegative:
		if f, ok := value.(Failure); ok {
			c.putNegative(key, f, ttl)
		}
	}
}

// GetExact returns the cached value and its tier of origin for a fingerprint.
func (c *MultiLevel) GetExact(key uint64) (any, string, bool) {
	e, ok := c.l1.Get(key)
	if !ok {
		c.counters[LayerExact].misses.Add(1)
		return nil, "", false
	}
	if e.expired(c.now()) {
		c.l1.Remove(key)
		c.counters[LayerExact].misses.Add(1)
		return nil, "", false
	}
	c.counters[LayerExact].hits.Add(1)
	return e.Value, e.TierOrigin, true
}

// PutExact stores a response under its request fingerprint.
func (c *MultiLevel) PutExact(key uint64, value any, tierOrigin string, ttl time.Duration) {
	c.putExact(key, value, tierOrigin, ttl)
}

func (c *MultiLevel) putExact(key uint64, value any, tierOrigin string, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.l1.Add(key, &Entry{
		Key:        key,
		Value:      value,
		CreatedAt:  c.now(),
		TTL:        ttl,
		TierOrigin: tierOrigin,
	})
}

// GetSemantic returns the nearest cached value whose cosine similarity to vec
// meets the configured threshold, together with the similarity score. The
// scan is bounded and cancellable through ctx.
func (c *MultiLevel) GetSemantic(ctx context.Context, vec []float64) (any, float64, bool) {
	threshold := c.settings().SimilarityThreshold
	e, sim, ok := c.sem.nearest(ctx, vec, threshold, c.now())
	if !ok {
		c.counters[LayerSemantic].misses.Add(1)
		return nil, 0, false
	}
	c.counters[LayerSemantic].hits.Add(1)
	return e.Value, sim, true
}

// PutSemantic stores a response under its embedding vector.
func (c *MultiLevel) PutSemantic(vec []float64, value any, tierOrigin string, ttl time.Duration) {
	if ttl <= 0 || len(vec) == 0 {
		return
	}
	c.sem.put(vec, &Entry{
		Value:      value,
		CreatedAt:  c.now(),
		TTL:        ttl,
		TierOrigin: tierOrigin,
	})
}

// GetNegative returns the recorded failure for a known-failing fingerprint.
func (c *MultiLevel) GetNegative(key uint64) (*Failure, bool) {
	c.negMu.RLock()
	e, ok := c.neg[key]
	c.negMu.RUnlock()

	if !ok {
		c.counters[LayerNegative].misses.Add(1)
		return nil, false
	}
	if e.expired(c.now()) {
		c.negMu.Lock()
		delete(c.neg, key)
		c.negMu.Unlock()
		c.counters[LayerNegative].misses.Add(1)
		return nil, false
	}
	c.counters[LayerNegative].hits.Add(1)
	f := e.Value.(Failure)
	return &f, true
}

// PutNegative records a terminally failed fingerprint so identical requests
// short-circuit instead of re-attempting a doomed call. The TTL is bounded
// by the configured negative TTL.
func (c *MultiLevel) PutNegative(key uint64, f Failure) {
	c.putNegative(key, f, c.settings().NegativeTTL)
}

func (c *MultiLevel) putNegative(key uint64, f Failure, ttl time.Duration) {
	if max := c.settings().NegativeTTL; ttl <= 0 || ttl > max {
		ttl = max
	}
	if f.RecordedAt.IsZero() {
		f.RecordedAt = c.now()
	}
	c.negMu.Lock()
	c.neg[key] = &Entry{Key: key, Value: f, CreatedAt: c.now(), TTL: ttl, TierOrigin: f.Tier}
	c.negMu.Unlock()
}

// Stats returns hit/miss counters and entry counts per layer.
func (c *MultiLevel) Stats() map[string]Stats {
	c.negMu.RLock()
	negLen := len(c.neg)
	c.negMu.RUnlock()

	return map[string]Stats{
		LayerExact.String(): {
			Hits:    c.counters[LayerExact].hits.Load(),
			Misses:  c.counters[LayerExact].misses.Load(),
			Entries: c.l1.Len(),
		},
		LayerSemantic.String(): {
			Hits:    c.counters[LayerSemantic].hits.Load(),
			Misses:  c.counters[LayerSemantic].misses.Load(),
			Entries: c.sem.len(),
		},
		LayerNegative.String(): {
			Hits:    c.counters[LayerNegative].hits.Load(),
			Misses:  c.counters[LayerNegative].misses.Load(),
			Entries: negLen,
		},
	}
}

// Start launches the periodic sweeper that evicts expired entries; reads
// already never serve expired entries, the sweep just reclaims memory.
func (c *MultiLevel) Start(ctx context.Context) error {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.running {
		return fmt.Errorf("cache sweeper already running")
	}
	c.running = true
	// The sweeper holds its own reference to the stop channel; Stop swaps
	// the field for the next Start.
	go c.sweepLoop(ctx, c.stopChan)
	return nil
}

// Stop halts the sweeper.
func (c *MultiLevel) Stop() {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if !c.running {
		return
	}
	c.running = false
	close(c.stopChan)
	c.stopChan = make(chan struct{})
}

func (c *MultiLevel) sweepLoop(ctx context.Context, stop <-chan struct{}) {
	ticker := time.NewTicker(c.settings().SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

func (c *MultiLevel) sweep() {
	now := c.now()
	removed := 0

	for _, key := range c.l1.Keys() {
		if e, ok := c.l1.Peek(key); ok && e.expired(now) {
			c.l1.Remove(key)
			removed++
		}
	}
	removed += c.sem.sweep(now)

	c.negMu.Lock()
	for key, e := range c.neg {
		if e.expired(now) {
			delete(c.neg, key)
			removed++
		}
	}
	c.negMu.Unlock()

	if removed > 0 {
		log.Debugw("swept expired entries", "removed", removed)
	}
}
