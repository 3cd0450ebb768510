package router

import (
	"errors"
	"fmt"
	"time"

	"github.com/DanielWarg/AliceV2-sub003/guardian"
)

// Kind classifies a routing failure. The set is closed; every error
// surfaced by Route carries exactly one Kind.
type Kind int

const (
	// KindResourceExhausted - the guardian refused admission outright.
	KindResourceExhausted Kind = iota
	// KindDependencyUnavailable - a breaker is open or a backend is down.
	KindDependencyUnavailable
	// KindQuotaExceeded - every admissible tier is over its share cap.
	KindQuotaExceeded
	// KindTierTimeout - the tier budget elapsed before the backend answered.
	KindTierTimeout
	// KindNoCapacity - no tier is admissible at all under the current state.
	KindNoCapacity
)

func (k Kind) String() string {
	switch k {
	case KindResourceExhausted:
		return "resource_exhausted"
	case KindDependencyUnavailable:
		return "dependency_unavailable"
	case KindQuotaExceeded:
		return "quota_exceeded"
	case KindTierTimeout:
		return "tier_timeout"
	case KindNoCapacity:
		return "no_capacity"
	default:
		return "unknown"
	}
}

// ParseKind is the inverse of Kind.String. Unknown names map to
// KindDependencyUnavailable, the most generic retryable failure.
func ParseKind(s string) Kind {
	for _, k := range []Kind{KindResourceExhausted, KindDependencyUnavailable, KindQuotaExceeded, KindTierTimeout, KindNoCapacity} {
		if k.String() == s {
			return k
		}
	}
	return KindDependencyUnavailable
}

// Retryable reports whether a later retry may plausibly succeed.
func (k Kind) Retryable() bool {
	switch k {
	case KindDependencyUnavailable, KindQuotaExceeded, KindResourceExhausted:
		return true
	default:
		return false
	}
}

// Error is the routing failure surfaced to callers. It carries the
// decision trail and the guardian state at the time of the failure so
// the API layer can render an actionable response.
type Error struct {
	Kind       Kind
	Decision   Decision
	State      guardian.State
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("route: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("route: %s", e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// IsKind reports whether err is a routing Error of the given kind.
func IsKind(err error, k Kind) bool {
	var re *Error
	return errors.As(err, &re) && re.Kind == k
}

// AsError extracts the routing Error from err, if any.
func AsError(err error) (*Error, bool) {
	var re *Error
	ok := errors.As(err, &re)
	return re, ok
}
