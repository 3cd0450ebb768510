package router

import (
	"github.com/DanielWarg/AliceV2-sub003/config/adaptive"
	"github.com/DanielWarg/AliceV2-sub003/guardian"
	"github.com/DanielWarg/AliceV2-sub003/quota"
)

// intentTier maps classifier intents to the tier best suited for them.
// Unknown intents fall through to MICRO.
var intentTier = map[string]Tier{
	"smalltalk":    TierMicro,
	"conversation": TierMicro,
	"lookup":       TierMicro,
	"planning":     TierPlanner,
	"tooling":      TierPlanner,
	"reasoning":    TierPlanner,
	"analysis":     TierDeep,
	"coding":       TierDeep,
	"research":     TierDeep,
}

// minHintConfidence gates how much weight a hint gets. Below it the hint
// is treated as noise and the cheap tier is preferred.
const minHintConfidence = 0.6

func preferredTier(h Hint) Tier {
	if h.Confidence < minHintConfidence {
		return TierMicro
	}
	if t, ok := intentTier[h.Intent]; ok {
		return t
	}
	return TierMicro
}

// permittedTiers derives the admissible tier set from the guardian
// snapshot and the per-tier enable flags, cheap to expensive. LOCKDOWN
// admits nothing; the metric ladder sets the ceiling (BROWNOUT forbids
// DEEP, EMERGENCY forbids everything but MICRO); shed capabilities and
// administratively disabled tiers are removed individually.
func permittedTiers(snap guardian.Snapshot, tiers adaptive.TiersConfig) []Tier {
	if snap.State == guardian.StateLockdown {
		return nil
	}

	ceiling := TierDeep
	switch snap.Metric {
	case guardian.StateEmergency:
		ceiling = TierMicro
	case guardian.StateBrownout:
		ceiling = TierPlanner
	}

	var out []Tier
	for t := TierMicro; t <= ceiling; t++ {
		if !tierEnabled(tiers, t) {
			continue
		}
		if snap.ShedHas(t.String()) {
			continue
		}
		out = append(out, t)
	}
	return out
}

func tierEnabled(tiers adaptive.TiersConfig, t Tier) bool {
	switch t {
	case TierMicro:
		return tiers.Micro.Enabled
	case TierPlanner:
		return tiers.Planner.Enabled
	case TierDeep:
		return tiers.Deep.Enabled
	default:
		return false
	}
}

func containsTier(tiers []Tier, t Tier) bool {
	for _, c := range tiers {
		if c == t {
			return true
		}
	}
	return false
}

// selectTier walks down from the preferred tier through cheaper
// permitted tiers until the quota admits one. The start is clamped into
// the permitted range from both ends: a preference above the ceiling is
// pulled down, and a preference below the cheapest permitted tier is
// pulled up so a disabled cheap tier never refuses a servable request.
// Admission check and usage recording are one atomic step inside the
// tracker, so two concurrent requests can never both slip under a cap.
// A false return always means every candidate failed its quota check.
func selectTier(permitted []Tier, pref Tier, q *quota.Tracker) (Tier, string, bool) {
	if len(permitted) == 0 {
		return 0, "", false
	}
	start := pref
	if max := permitted[len(permitted)-1]; start > max {
		start = max
	}
	floor := permitted[0]
	if start < floor {
		start = floor
	}
	for t := start; t >= floor; t-- {
		if !containsTier(permitted, t) {
			continue
		}
		if !q.TryRecord(t.String()) {
			continue
		}
		switch {
		case t == pref:
			return t, "hint", true
		case t > pref:
			return t, "cheapest permitted tier", true
		case t == start:
			return t, "guardian ceiling", true
		default:
			return t, "quota downgrade", true
		}
	}
	return 0, "", false
}
