package guardian

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DanielWarg/AliceV2-sub003/config/adaptive"
)

func testSettings() adaptive.GuardianConfig {
	return adaptive.GuardianConfig{
		SoftRAMPercent: 80,
		SoftCPUPercent: 80,
		HardRAMPercent: 92,
		SoftStreak:     3,
		OverloadBudget: 100 * time.Millisecond,
		RecoveryHold:   50 * time.Millisecond,
		Tick:           10 * time.Millisecond,
	}
}

type fakeSampler struct {
	reading Reading
	err     error
}

func (f *fakeSampler) Sample(context.Context) (Reading, error) {
	return f.reading, f.err
}

func reading(at time.Time, ram, cpu float64) Reading {
	return Reading{Timestamp: at, RAMPercent: ram, CPUPercent: cpu}
}

func TestGuardian_StartsInBrownout(t *testing.T) {
	g := New(&fakeSampler{}, testSettings)
	assert.Equal(t, StateBrownout, g.CurrentState().State)
}

func TestGuardian_HardCrossingReachesEmergencyImmediately(t *testing.T) {
	g := New(&fakeSampler{}, testSettings)
	now := time.Now()

	// A single crossing sample must flip the state in the same Observe call;
	// there is no tick between detection and transition.
	before := time.Now()
	g.Observe(reading(now, 95, 10))
	latency := time.Since(before)

	snap := g.CurrentState()
	assert.Equal(t, StateEmergency, snap.State)
	assert.Less(t, latency, 150*time.Millisecond)
	require.NotNil(t, snap.Trigger)
	assert.Equal(t, 95.0, snap.Trigger.RAMPercent)
}

func TestGuardian_SoftStreakEntersBrownout(t *testing.T) {
	g := New(&fakeSampler{}, testSettings)
	now := time.Now()

	// Drain the startup brownout first.
	g.Observe(reading(now.Add(-time.Second), 10, 10))
	g.Observe(reading(now.Add(-900*time.Millisecond), 10, 10))
	require.Eventually(t, func() bool {
		g.Observe(reading(time.Now(), 10, 10))
		return g.CurrentState().State == StateNormal
	}, time.Second, 10*time.Millisecond)

	// Two soft samples are not enough.
	g.Observe(reading(now, 85, 10))
	g.Observe(reading(now.Add(10*time.Millisecond), 10, 85))
	assert.Equal(t, StateNormal, g.CurrentState().State)

	// The third consecutive soft sample trips the streak.
	g.Observe(reading(now.Add(20*time.Millisecond), 85, 10))
	assert.Equal(t, StateBrownout, g.CurrentState().State)
}

func TestGuardian_SustainedOverloadEscalates(t *testing.T) {
	g := New(&fakeSampler{}, testSettings)
	base := time.Now()

	for i := 0; i < 5; i++ {
		g.Observe(reading(base.Add(time.Duration(i)*20*time.Millisecond), 85, 85))
	}
	assert.Equal(t, StateBrownout, g.CurrentState().State)

	// Past the overload budget the brownout escalates.
	g.Observe(reading(base.Add(150*time.Millisecond), 85, 85))
	assert.Equal(t, StateEmergency, g.CurrentState().State)
}

func TestGuardian_RecoveryRequiresHoldTime(t *testing.T) {
	g := New(&fakeSampler{}, testSettings)
	base := time.Now()

	g.Observe(reading(base, 95, 10))
	require.Equal(t, StateEmergency, g.CurrentState().State)

	// Below thresholds, but not for long enough: no premature recovery.
	g.Observe(reading(base.Add(10*time.Millisecond), 10, 10))
	g.Observe(reading(base.Add(30*time.Millisecond), 10, 10))
	assert.Equal(t, StateEmergency, g.CurrentState().State)

	// A blip above soft resets the hold clock.
	g.Observe(reading(base.Add(40*time.Millisecond), 85, 10))
	g.Observe(reading(base.Add(50*time.Millisecond), 10, 10))
	g.Observe(reading(base.Add(80*time.Millisecond), 10, 10))
	assert.Equal(t, StateEmergency, g.CurrentState().State)

	// Hold time continuously below thresholds: recovered.
	g.Observe(reading(base.Add(110*time.Millisecond), 10, 10))
	assert.Equal(t, StateNormal, g.CurrentState().State)
}

func TestGuardian_SamplerFailureFailsSafe(t *testing.T) {
	sampler := &fakeSampler{err: errors.New("sensors unavailable")}
	g := New(sampler, testSettings)

	// Recover to NORMAL first so the fail-safe is observable.
	g.Observe(reading(time.Now().Add(-time.Hour), 10, 10))
	g.Observe(reading(time.Now(), 10, 10))
	require.Equal(t, StateNormal, g.CurrentState().State)

	g.failSafe(sampler.err)
	assert.Equal(t, StateBrownout, g.CurrentState().State)
}

func TestGuardian_LockdownOverridesAndFreezes(t *testing.T) {
	g := New(&fakeSampler{}, testSettings)

	g.SetLockdown(true)
	assert.Equal(t, StateLockdown, g.CurrentState().State)

	// Metric transitions are ignored while locked down.
	g.Observe(reading(time.Now(), 99, 99))
	assert.Equal(t, StateLockdown, g.CurrentState().State)

	g.SetLockdown(false)
	assert.NotEqual(t, StateLockdown, g.CurrentState().State)
}

func TestGuardian_ShedCapabilityComposes(t *testing.T) {
	g := New(&fakeSampler{}, testSettings)
	base := time.Now()

	// NORMAL + shed -> DEGRADED.
	g.Observe(reading(base.Add(-time.Hour), 10, 10))
	g.Observe(reading(base, 10, 10))
	require.Equal(t, StateNormal, g.CurrentState().State)

	g.ShedCapability("deep", true)
	snap := g.CurrentState()
	assert.Equal(t, StateDegraded, snap.State)
	assert.Equal(t, StateNormal, snap.Metric)
	assert.True(t, snap.ShedHas("deep"))

	// EMERGENCY outranks DEGRADED: most severe wins.
	g.Observe(reading(base.Add(10*time.Millisecond), 95, 10))
	assert.Equal(t, StateEmergency, g.CurrentState().State)

	g.ShedCapability("deep", false)
	assert.Equal(t, StateEmergency, g.CurrentState().State)
}

func TestGuardian_TransitionHookFires(t *testing.T) {
	g := New(&fakeSampler{}, testSettings)
	var from, to State
	fired := 0
	g.SetTransitionHook(func(f, t State, _ *Reading) {
		from, to = f, t
		fired++
	})

	g.Observe(reading(time.Now(), 95, 10))
	require.Equal(t, 1, fired)
	assert.Equal(t, StateBrownout, from)
	assert.Equal(t, StateEmergency, to)
}

func TestGuardian_TickLoopDrivesTransitions(t *testing.T) {
	sampler := &fakeSampler{reading: reading(time.Time{}, 95, 10)}
	g := New(sampler, testSettings)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, g.Start(ctx))
	defer g.Stop()

	require.Eventually(t, func() bool {
		return g.CurrentState().State == StateEmergency
	}, time.Second, 5*time.Millisecond)
}

func TestGuardian_RestartAfterStop(t *testing.T) {
	sampler := &fakeSampler{reading: reading(time.Time{}, 95, 10)}
	g := New(sampler, testSettings)
	ctx := context.Background()

	require.NoError(t, g.Start(ctx))
	g.Stop()
	g.Stop()

	// The restarted loop runs on a fresh stop channel and still drives
	// transitions.
	require.NoError(t, g.Start(ctx))
	defer g.Stop()
	require.Eventually(t, func() bool {
		return g.CurrentState().State == StateEmergency
	}, time.Second, 5*time.Millisecond)
}
