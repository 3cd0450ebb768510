package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DanielWarg/AliceV2-sub003/config/adaptive"
	"github.com/DanielWarg/AliceV2-sub003/guardian"
	"github.com/DanielWarg/AliceV2-sub003/quota"
)

func TestPermittedTiers_FollowsGuardianCeiling(t *testing.T) {
	tiers := adaptive.DefaultConfig().Tiers

	normal := guardian.Snapshot{State: guardian.StateNormal, Metric: guardian.StateNormal}
	assert.Equal(t, []Tier{TierMicro, TierPlanner, TierDeep}, permittedTiers(normal, tiers))

	brownout := guardian.Snapshot{State: guardian.StateBrownout, Metric: guardian.StateBrownout}
	assert.Equal(t, []Tier{TierMicro, TierPlanner}, permittedTiers(brownout, tiers))

	emergency := guardian.Snapshot{State: guardian.StateEmergency, Metric: guardian.StateEmergency}
	assert.Equal(t, []Tier{TierMicro}, permittedTiers(emergency, tiers))

	lockdown := guardian.Snapshot{State: guardian.StateLockdown, Metric: guardian.StateNormal}
	assert.Empty(t, permittedTiers(lockdown, tiers))
}

func TestPermittedTiers_DegradedKeepsMetricCeiling(t *testing.T) {
	tiers := adaptive.DefaultConfig().Tiers

	// Shed capabilities raise the state to DEGRADED; the tier ceiling
	// still comes from the underlying metric level.
	snap := guardian.Snapshot{
		State:  guardian.StateDegraded,
		Metric: guardian.StateBrownout,
		Shed:   []string{"planner"},
	}
	assert.Equal(t, []Tier{TierMicro}, permittedTiers(snap, tiers))
}

func TestPermittedTiers_DisabledTierIsRemoved(t *testing.T) {
	tiers := adaptive.DefaultConfig().Tiers
	tiers.Deep.Enabled = false

	normal := guardian.Snapshot{State: guardian.StateNormal, Metric: guardian.StateNormal}
	assert.Equal(t, []Tier{TierMicro, TierPlanner}, permittedTiers(normal, tiers))
}

func TestPreferredTier(t *testing.T) {
	assert.Equal(t, TierPlanner, preferredTier(Hint{Intent: "planning", Confidence: 0.9}))
	assert.Equal(t, TierDeep, preferredTier(Hint{Intent: "analysis", Confidence: 0.8}))

	// Low confidence and unknown intents bias cheap.
	assert.Equal(t, TierMicro, preferredTier(Hint{Intent: "analysis", Confidence: 0.3}))
	assert.Equal(t, TierMicro, preferredTier(Hint{Intent: "juggling", Confidence: 0.99}))
	assert.Equal(t, TierMicro, preferredTier(DefaultHint))
}

func TestSelectTier_QuotaDowngrade(t *testing.T) {
	cfg := adaptive.DefaultConfig()
	cfg.Quota.MinSamples = 0
	cfg.Quota.MaxShare = map[string]float64{"micro": 1.0, "planner": 1.0, "deep": 0}
	tr := quota.NewTracker(func() adaptive.QuotaConfig { return cfg.Quota })

	permitted := []Tier{TierMicro, TierPlanner, TierDeep}
	tier, reason, ok := selectTier(permitted, TierDeep, tr)
	require.True(t, ok)
	assert.Equal(t, TierPlanner, tier)
	assert.Equal(t, "quota downgrade", reason)
}

func TestSelectTier_CeilingClampsPreference(t *testing.T) {
	cfg := adaptive.DefaultConfig()
	tr := quota.NewTracker(func() adaptive.QuotaConfig { return cfg.Quota })

	tier, reason, ok := selectTier([]Tier{TierMicro}, TierDeep, tr)
	require.True(t, ok)
	assert.Equal(t, TierMicro, tier)
	assert.Equal(t, "guardian ceiling", reason)
}

func TestSelectTier_PreferenceBelowFloorPromotes(t *testing.T) {
	cfg := adaptive.DefaultConfig()
	tr := quota.NewTracker(func() adaptive.QuotaConfig { return cfg.Quota })

	// Cheapest permitted tier is above the preference (micro disabled):
	// the request is served there, never refused.
	tier, reason, ok := selectTier([]Tier{TierPlanner, TierDeep}, TierMicro, tr)
	require.True(t, ok)
	assert.Equal(t, TierPlanner, tier)
	assert.Equal(t, "cheapest permitted tier", reason)
}

func TestSelectTier_AllTiersOverQuota(t *testing.T) {
	cfg := adaptive.DefaultConfig()
	cfg.Quota.MinSamples = 0
	cfg.Quota.MaxShare = map[string]float64{"micro": 0, "planner": 0, "deep": 0}
	tr := quota.NewTracker(func() adaptive.QuotaConfig { return cfg.Quota })

	_, _, ok := selectTier([]Tier{TierMicro, TierPlanner, TierDeep}, TierPlanner, tr)
	assert.False(t, ok)
}

func TestNextCheaper(t *testing.T) {
	permitted := []Tier{TierMicro, TierPlanner, TierDeep}

	fb, ok := nextCheaper(permitted, TierDeep)
	require.True(t, ok)
	assert.Equal(t, TierPlanner, fb)

	fb, ok = nextCheaper(permitted, TierPlanner)
	require.True(t, ok)
	assert.Equal(t, TierMicro, fb)

	_, ok = nextCheaper(permitted, TierMicro)
	assert.False(t, ok)

	// Disabled middle tier: fallback skips to the next cheaper one.
	fb, ok = nextCheaper([]Tier{TierMicro, TierDeep}, TierDeep)
	require.True(t, ok)
	assert.Equal(t, TierMicro, fb)
}

func TestParseTier(t *testing.T) {
	for _, tier := range AllTiers() {
		parsed, err := ParseTier(tier.String())
		require.NoError(t, err)
		assert.Equal(t, tier, parsed)
	}
	_, err := ParseTier("mega")
	assert.Error(t, err)
}
