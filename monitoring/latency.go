// Package monitoring collects the telemetry the health surface reports:
// per-tier latency percentiles, error-budget burn rate and the Prometheus
// counters the control plane emits.
package monitoring

import (
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"
)

// maxSamples bounds the per-tier sample ring.
const maxSamples = 512

// Percentiles is one tier's latency summary.
type Percentiles struct {
	P50     time.Duration `json:"p50"`
	P95     time.Duration `json:"p95"`
	Samples int           `json:"samples"`
}

// LatencyTracker keeps a bounded ring of latency samples per tier.
type LatencyTracker struct {
	mu    sync.Mutex
	rings map[string]*ring
}

type ring struct {
	samples []float64 // seconds
	next    int
	full    bool
}

// NewLatencyTracker creates an empty tracker.
func NewLatencyTracker() *LatencyTracker {
	return &LatencyTracker{rings: make(map[string]*ring)}
}

// Observe records one latency sample for a tier.
func (lt *LatencyTracker) Observe(tier string, d time.Duration) {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	r, ok := lt.rings[tier]
	if !ok {
		r = &ring{samples: make([]float64, maxSamples)}
		lt.rings[tier] = r
	}
	r.samples[r.next] = d.Seconds()
	r.next++
	if r.next == len(r.samples) {
		r.next = 0
		r.full = true
	}
}

// Snapshot returns P50/P95 per tier over the current ring contents.
func (lt *LatencyTracker) Snapshot() map[string]Percentiles {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	out := make(map[string]Percentiles, len(lt.rings))
	for tier, r := range lt.rings {
		n := r.next
		if r.full {
			n = len(r.samples)
		}
		if n == 0 {
			continue
		}
		sorted := make([]float64, n)
		copy(sorted, r.samples[:n])
		sort.Float64s(sorted)

		out[tier] = Percentiles{
			P50:     secondsToDuration(stat.Quantile(0.50, stat.Empirical, sorted, nil)),
			P95:     secondsToDuration(stat.Quantile(0.95, stat.Empirical, sorted, nil)),
			Samples: n,
		}
	}
	return out
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
