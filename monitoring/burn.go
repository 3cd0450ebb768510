package monitoring

import (
	"sync"
	"time"
)

// BurnTracker computes the error-budget burn rate: the observed failure
// fraction over a trailing window divided by the budgeted fraction. A burn
// rate of 1.0 means failures are arriving exactly at budget; above 1.0 the
// budget is being consumed faster than allowed.
type BurnTracker struct {
	mu     sync.Mutex
	window time.Duration
	events []burnEvent
	now    func() time.Time
}

type burnEvent struct {
	at      time.Time
	failure bool
}

// NewBurnTracker tracks outcomes over the given trailing window.
func NewBurnTracker(window time.Duration) *BurnTracker {
	if window <= 0 {
		window = 5 * time.Minute
	}
	return &BurnTracker{window: window, now: time.Now}
}

// Record adds one request outcome.
func (b *BurnTracker) Record(failure bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pruneLocked()
	b.events = append(b.events, burnEvent{at: b.now(), failure: failure})
}

// BurnRate returns the failure fraction over the window divided by budget.
// Zero when the window is empty.
func (b *BurnTracker) BurnRate(budget float64) float64 {
	if budget <= 0 {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pruneLocked()

	if len(b.events) == 0 {
		return 0
	}
	failures := 0
	for _, ev := range b.events {
		if ev.failure {
			failures++
		}
	}
	return float64(failures) / float64(len(b.events)) / budget
}

func (b *BurnTracker) pruneLocked() {
	cutoff := b.now().Add(-b.window)
	i := 0
	for i < len(b.events) && b.events[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		b.events = append(b.events[:0:0], b.events[i:]...)
	}
}
