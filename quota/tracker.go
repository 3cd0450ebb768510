// Package quota enforces per-tier traffic-share caps over a trailing sliding
// window. The check-and-record step is a single atomic operation so two
// concurrent requests can never both "fit" under a cap and jointly exceed it.
package quota

import (
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/DanielWarg/AliceV2-sub003/config/adaptive"
)

var log = logging.Logger("alice/quota")

// Tracker maintains per-tier request timestamps within the trailing window.
// Window history is in-memory only; a restart resets it.
type Tracker struct {
	settings func() adaptive.QuotaConfig

	mu      sync.Mutex
	windows map[string][]time.Time
	now     func() time.Time
}

// NewTracker creates a tracker. Settings are re-read per operation so share
// adjustments from the admin surface apply immediately.
func NewTracker(settings func() adaptive.QuotaConfig) *Tracker {
	return &Tracker{
		settings: settings,
		windows:  make(map[string][]time.Time),
		now:      time.Now,
	}
}

// Record adds a routed request to the tier's window without a quota check.
// Used for fallback executions, which must be accounted even when they were
// not admitted through TryRecord.
func (t *Tracker) Record(tier string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pruneLocked(t.now())
	t.windows[tier] = append(t.windows[tier], t.now())
}

// ShareOf returns the tier's fraction of all routed requests in the window.
func (t *Tracker) ShareOf(tier string) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pruneLocked(t.now())

	total := t.totalLocked()
	if total == 0 {
		return 0
	}
	return float64(len(t.windows[tier])) / float64(total)
}

// WouldExceed reports whether routing one more request to the tier would push
// its share above the configured cap. Advisory only; the admit-and-count path
// is TryRecord.
func (t *Tracker) WouldExceed(tier string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.wouldExceedLocked(tier)
}

// TryRecord atomically checks the tier's share cap and, if admission fits,
// records the request. This is the only admission path the router uses, which
// closes the check-then-record race.
func (t *Tracker) TryRecord(tier string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.wouldExceedLocked(tier) {
		return false
	}
	t.windows[tier] = append(t.windows[tier], t.now())
	return true
}

func (t *Tracker) wouldExceedLocked(tier string) bool {
	cfg := t.settings()
	t.pruneLocked(t.now())

	maxShare, capped := cfg.MaxShare[tier]
	if !capped || maxShare >= 1 {
		return false
	}
	if maxShare <= 0 {
		return true
	}

	next := float64(len(t.windows[tier]) + 1)
	total := t.totalLocked()
	if total < cfg.MinSamples {
		// Share math on a near-empty window is noise. During cold start a
		// capped tier gets its proportional slice of the grace window
		// instead of a full waiver, so the share bound holds from the
		// first request on.
		return next > maxShare*float64(cfg.MinSamples)
	}
	return next/float64(total+1) > maxShare
}

// Counts returns the current per-tier window counts, for the health surface.
func (t *Tracker) Counts() map[string]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pruneLocked(t.now())

	out := make(map[string]int, len(t.windows))
	for tier, w := range t.windows {
		out[tier] = len(w)
	}
	return out
}

// Reset clears all window history.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.windows = make(map[string][]time.Time)
	log.Debug("quota windows reset")
}

func (t *Tracker) totalLocked() int {
	total := 0
	for _, w := range t.windows {
		total += len(w)
	}
	return total
}

func (t *Tracker) pruneLocked(now time.Time) {
	cutoff := now.Add(-t.settings().Window)
	for tier, w := range t.windows {
		i := 0
		for i < len(w) && w[i].Before(cutoff) {
			i++
		}
		if i > 0 {
			t.windows[tier] = append(w[:0:0], w[i:]...)
		}
	}
}
