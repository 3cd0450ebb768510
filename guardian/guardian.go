// Package guardian implements the resource-guardian state machine that
// protects the host from exhaustion. It samples host metrics on a fixed tick,
// runs a severity ladder (NORMAL, BROWNOUT, EMERGENCY) with hysteresis, and
// publishes its state as a single atomically-swapped snapshot so request
// paths never block on a guardian lock.
package guardian

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/DanielWarg/AliceV2-sub003/config/adaptive"
)

var log = logging.Logger("alice/guardian")

// TransitionHook is invoked after every published state change.
type TransitionHook func(from, to State, trigger *Reading)

// Guardian consumes sampled readings and enforces the admission ladder.
// Transitions happen only on the ticking goroutine (or an out-of-band
// Observe); readers use CurrentState, a lock-free atomic load.
type Guardian struct {
	sampler  Sampler
	settings func() adaptive.GuardianConfig
	onChange TransitionHook

	snap atomic.Pointer[Snapshot]

	// writer-side state, guarded by mu
	mu            sync.Mutex
	metricLevel   State
	softStreak    int
	overloadSince time.Time
	belowSince    time.Time
	lockdown      bool
	shed          map[string]struct{}

	runMu    sync.Mutex
	running  bool
	stopChan chan struct{}

	now func() time.Time
}

// New creates a guardian. Until the first reading arrives the published state
// is BROWNOUT: the guardian never assumes NORMAL without evidence.
func New(sampler Sampler, settings func() adaptive.GuardianConfig) *Guardian {
	g := &Guardian{
		sampler:     sampler,
		settings:    settings,
		metricLevel: StateBrownout,
		shed:        make(map[string]struct{}),
		stopChan:    make(chan struct{}),
		now:         time.Now,
	}
	g.snap.Store(&Snapshot{State: StateBrownout, Metric: StateBrownout, Since: g.now()})
	return g
}

// SetTransitionHook registers a hook called on every state change. Must be
// set before Start.
func (g *Guardian) SetTransitionHook(hook TransitionHook) {
	g.onChange = hook
}

// CurrentState returns the published snapshot. Non-blocking: a single atomic
// load, safe from any number of request goroutines.
func (g *Guardian) CurrentState() Snapshot {
	return *g.snap.Load()
}

// Start launches the sampling tick loop.
func (g *Guardian) Start(ctx context.Context) error {
	g.runMu.Lock()
	defer g.runMu.Unlock()
	if g.running {
		return fmt.Errorf("guardian already running")
	}
	g.running = true
	// The loop holds its own reference to the stop channel; Stop swaps the
	// field for the next Start, so a restarted loop never shares a channel
	// with one that is still winding down.
	go g.loop(ctx, g.stopChan)

	cfg := g.settings()
	log.Infow("guardian started",
		"tick", cfg.Tick,
		"soft_ram_pct", cfg.SoftRAMPercent,
		"hard_ram_pct", cfg.HardRAMPercent,
		"recovery_hold", cfg.RecoveryHold,
	)
	return nil
}

// Stop halts the tick loop.
func (g *Guardian) Stop() {
	g.runMu.Lock()
	defer g.runMu.Unlock()
	if !g.running {
		return
	}
	g.running = false
	close(g.stopChan)
	g.stopChan = make(chan struct{})
}

func (g *Guardian) loop(ctx context.Context, stop <-chan struct{}) {
	ticker := time.NewTicker(g.settings().Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			g.tick(ctx)
		}
	}
}

func (g *Guardian) tick(ctx context.Context) {
	reading, err := g.sampler.Sample(ctx)
	if err != nil {
		g.failSafe(err)
		return
	}
	g.Observe(reading)
}

// Observe runs one transition step for a reading, immediately. The tick loop
// calls it on every sample; samplers that detect a hard-threshold crossing
// between ticks may also push a reading here out of band, which is what keeps
// the detection-to-state-change latency under the trigger budget.
func (g *Guardian) Observe(r Reading) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.lockdown {
		// Metric-driven transitions are frozen until lockdown is cleared.
		return
	}

	cfg := g.settings()
	now := r.Timestamp
	if now.IsZero() {
		now = g.now()
	}

	soft := r.RAMPercent >= cfg.SoftRAMPercent || r.CPUPercent >= cfg.SoftCPUPercent
	hard := r.RAMPercent >= cfg.HardRAMPercent

	switch {
	case hard:
		g.belowSince = time.Time{}
		if g.overloadSince.IsZero() {
			g.overloadSince = now
		}
		g.metricLevel = StateEmergency

	case soft:
		g.softStreak++
		g.belowSince = time.Time{}
		if g.overloadSince.IsZero() {
			g.overloadSince = now
		}
		if g.metricLevel == StateNormal && g.softStreak >= cfg.SoftStreak {
			g.metricLevel = StateBrownout
		}
		if g.metricLevel == StateBrownout && now.Sub(g.overloadSince) >= cfg.OverloadBudget {
			g.metricLevel = StateEmergency
		}

	default:
		g.softStreak = 0
		g.overloadSince = time.Time{}
		if g.metricLevel != StateNormal {
			if g.belowSince.IsZero() {
				g.belowSince = now
			}
			// Recovery only after the hold time has elapsed continuously
			// below the soft thresholds. No flapping, no premature return.
			if now.Sub(g.belowSince) >= cfg.RecoveryHold {
				g.metricLevel = StateNormal
				g.belowSince = time.Time{}
			}
		}
	}

	g.publishLocked(&r)
}

// failSafe handles a sampler failure: the guardian degrades to at least
// BROWNOUT rather than silently assuming NORMAL.
func (g *Guardian) failSafe(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	log.Warnw("sampler failed, failing safe", "error", err)
	if g.lockdown {
		return
	}
	if g.metricLevel.Severity() < StateBrownout.Severity() {
		g.metricLevel = StateBrownout
	}
	g.publishLocked(nil)
}

// SetLockdown enters or leaves the administrative override state. While in
// lockdown metric transitions are ignored; on clear the ladder resumes from
// its last metric level.
func (g *Guardian) SetLockdown(enabled bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.lockdown == enabled {
		return
	}
	g.lockdown = enabled
	log.Warnw("lockdown changed", "enabled", enabled)
	g.publishLocked(nil)
}

// ShedCapability marks a named capability shed (DEGRADED) or restores it.
func (g *Guardian) ShedCapability(name string, shed bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if shed {
		g.shed[name] = struct{}{}
	} else {
		delete(g.shed, name)
	}
	log.Infow("capability shed set changed", "capability", name, "shed", shed)
	g.publishLocked(nil)
}

// effectiveLocked composes the metric ladder with the policy states; most
// severe wins.
func (g *Guardian) effectiveLocked() State {
	if g.lockdown {
		return StateLockdown
	}
	state := g.metricLevel
	if len(g.shed) > 0 && StateDegraded.Severity() > state.Severity() {
		state = StateDegraded
	}
	return state
}

func (g *Guardian) publishLocked(trigger *Reading) {
	next := g.effectiveLocked()
	prev := g.snap.Load()

	shed := g.shedList()
	if prev.State == next && prev.Metric == g.metricLevel && equalShed(prev.Shed, shed) {
		return
	}

	snap := &Snapshot{
		State:   next,
		Metric:  g.metricLevel,
		Since:   g.now(),
		Trigger: trigger,
		Shed:    shed,
	}
	if prev.State == next {
		snap.Since = prev.Since
		snap.Trigger = prev.Trigger
	}
	g.snap.Store(snap)

	if prev.State != next {
		fields := []interface{}{"from", prev.State.String(), "to", next.String()}
		if trigger != nil {
			fields = append(fields,
				"ram_pct", trigger.RAMPercent,
				"cpu_pct", trigger.CPUPercent,
			)
		}
		log.Warnw("state transition", fields...)
		if g.onChange != nil {
			g.onChange(prev.State, next, trigger)
		}
	}
}

func equalShed(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (g *Guardian) shedList() []string {
	if len(g.shed) == 0 {
		return nil
	}
	out := make([]string, 0, len(g.shed))
	for name := range g.shed {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
