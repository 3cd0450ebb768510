package cache

import (
	"context"
	"math"
	"sync"
	"time"

	"gonum.org/v1/gonum/floats"
)

// checkEvery bounds how many vectors are scanned between context checks, so
// a cancelled caller never waits for a full scan of a large index.
const checkEvery = 256

type semEntry struct {
	vec   []float64
	norm  float64
	entry *Entry
}

// semanticIndex is a flat cosine-similarity index. A linear scan is the
// right shape at the configured capacities; the worst case is bounded by the
// capacity and the scan yields to ctx cancellation.
type semanticIndex struct {
	mu       sync.RWMutex
	entries  []semEntry
	capacity int
}

func newSemanticIndex(capacity int) *semanticIndex {
	if capacity <= 0 {
		capacity = 1024
	}
	return &semanticIndex{capacity: capacity}
}

func (s *semanticIndex) put(vec []float64, e *Entry) {
	norm := math.Sqrt(floats.Dot(vec, vec))
	if norm == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.entries) >= s.capacity {
		// Evict the oldest entry; semantic entries age out by TTL anyway,
		// so FIFO is a fine pressure valve.
		s.entries = s.entries[1:]
	}
	owned := make([]float64, len(vec))
	copy(owned, vec)
	s.entries = append(s.entries, semEntry{vec: owned, norm: norm, entry: e})
}

// nearest returns the most similar non-expired entry with similarity >=
// threshold.
func (s *semanticIndex) nearest(ctx context.Context, vec []float64, threshold float64, now time.Time) (*Entry, float64, bool) {
	norm := math.Sqrt(floats.Dot(vec, vec))
	if norm == 0 {
		return nil, 0, false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		best    *Entry
		bestSim float64
	)
	for i, cand := range s.entries {
		if i%checkEvery == 0 && ctx.Err() != nil {
			return nil, 0, false
		}
		if len(cand.vec) != len(vec) || cand.entry.expired(now) {
			continue
		}
		sim := floats.Dot(cand.vec, vec) / (cand.norm * norm)
		if sim >= threshold && sim > bestSim {
			best = cand.entry
			bestSim = sim
		}
	}
	if best == nil {
		return nil, 0, false
	}
	return best, bestSim, true
}

func (s *semanticIndex) sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.entries[:0]
	removed := 0
	for _, cand := range s.entries {
		if cand.entry.expired(now) {
			removed++
			continue
		}
		kept = append(kept, cand)
	}
	s.entries = kept
	return removed
}

func (s *semanticIndex) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
