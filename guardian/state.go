package guardian

import "time"

// State is the guardian's protection level, ordered by severity. The router
// reads it on every request to derive the admissible tier ceiling.
type State int

const (
	// StateNormal - all tiers admissible.
	StateNormal State = iota
	// StateBrownout - expensive tiers disabled to protect the host.
	StateBrownout
	// StateDegraded - operator has shed named capabilities; composes with
	// the metric ladder, most severe wins.
	StateDegraded
	// StateEmergency - only the cheapest tier is admissible.
	StateEmergency
	// StateLockdown - administrative override; nothing non-essential runs
	// and metric-driven transitions are ignored until cleared.
	StateLockdown
)

func (s State) String() string {
	switch s {
	case StateNormal:
		return "NORMAL"
	case StateBrownout:
		return "BROWNOUT"
	case StateDegraded:
		return "DEGRADED"
	case StateEmergency:
		return "EMERGENCY"
	case StateLockdown:
		return "LOCKDOWN"
	default:
		return "UNKNOWN"
	}
}

// Severity orders states for "most severe wins" composition.
func (s State) Severity() int { return int(s) }

// Snapshot is the immutable published view of the guardian. Readers get it
// through a single atomic load; the ticking task publishes a fresh value on
// every transition.
type Snapshot struct {
	State State `json:"state"`

	// Metric is the metric-ladder component of State (NORMAL, BROWNOUT or
	// EMERGENCY). When shed capabilities raise State to DEGRADED the router
	// still needs the underlying metric level to pick the tier ceiling.
	Metric State `json:"metric"`

	// Since is when the current state was entered.
	Since time.Time `json:"since"`

	// Trigger is the reading that caused the last transition, nil for the
	// startup snapshot.
	Trigger *Reading `json:"trigger,omitempty"`

	// Shed lists capabilities an operator has taken out of service. Non-empty
	// Shed raises the state to at least DEGRADED.
	Shed []string `json:"shed,omitempty"`
}

// ShedHas reports whether the named capability is shed in this snapshot.
func (s *Snapshot) ShedHas(name string) bool {
	for _, c := range s.Shed {
		if c == name {
			return true
		}
	}
	return false
}
