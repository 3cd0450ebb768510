package router

import "fmt"

// Tier is one of the closed set of processing classes, cheap to expensive.
// A request is assigned exactly one tier per attempt.
type Tier int

const (
	// TierMicro - fast, cheap, always the fallback floor.
	TierMicro Tier = iota
	// TierPlanner - mid-cost multi-step processing.
	TierPlanner
	// TierDeep - the expensive tier, first to be shed under pressure.
	TierDeep
)

func (t Tier) String() string {
	switch t {
	case TierMicro:
		return "micro"
	case TierPlanner:
		return "planner"
	case TierDeep:
		return "deep"
	default:
		return "unknown"
	}
}

// ParseTier converts a tier name into a Tier.
func ParseTier(s string) (Tier, error) {
	switch s {
	case "micro":
		return TierMicro, nil
	case "planner":
		return TierPlanner, nil
	case "deep":
		return TierDeep, nil
	default:
		return TierMicro, fmt.Errorf("unknown tier %q", s)
	}
}

// AllTiers returns the closed tier set, cheap to expensive.
func AllTiers() []Tier {
	return []Tier{TierMicro, TierPlanner, TierDeep}
}
