// Package coreerr defines the error taxonomy the Coordinator, Executor, and
// Deployment Gate use to classify and propagate failures. Most kinds map to
// one of the three propagation policies named in spec: local (terminal for
// the intent only), retried (bounded, then counted against the circuit
// breaker), or fatal (graceful shutdown). CircuitBreakerTripped,
// IdempotencyConflict, ComponentFailure, ShutdownInProgress and
// UnprocessableEntity map to none of the three; their callers handle them
// case by case.
package coreerr

import "fmt"

// Kind is the taxonomy of error kinds a gate or executor call can fail with.
type Kind string

const (
	Validation           Kind = "validation"
	Auth                 Kind = "auth"
	CircuitBreakerTripped Kind = "circuit_breaker_tripped"
	RiskLimitExceeded    Kind = "risk_limit_exceeded"
	GovernanceBlocked    Kind = "governance_blocked"
	AllocatorBlocked     Kind = "allocator_blocked"
	DuplicateIntent      Kind = "duplicate_intent"
	VenueRejected        Kind = "venue_rejected" // 4xx
	VenueUnavailable     Kind = "venue_unavailable" // 5xx / network
	IdempotencyConflict  Kind = "idempotency_conflict"
	Timeout              Kind = "timeout"
	PersistenceFailure   Kind = "persistence_failure"
	ComponentFailure     Kind = "component_failure"
	ShutdownInProgress   Kind = "shutdown_in_progress"
	UnprocessableEntity  Kind = "unprocessable_entity"
)

// Error is a typed, classified error carrying a stable reason string
// alongside its Kind so callers can branch without string matching.
type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a classified error with no wrapped cause.
func New(kind Kind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}

// Wrap builds a classified error wrapping an underlying cause.
func Wrap(kind Kind, reason string, err error) *Error {
	return &Error{Kind: kind, Reason: reason, Err: err}
}

// IsFatal reports whether this kind must trigger a fatal startup abort or a
// graceful shutdown in steady state (Auth, PersistenceFailure).
func (k Kind) IsFatal() bool {
	return k == Auth || k == PersistenceFailure
}

// IsLocal reports whether this kind is terminal for the intent only — the
// agent gets an OrderUpdate with the reason and the system continues.
func (k Kind) IsLocal() bool {
	switch k {
	case Validation, GovernanceBlocked, RiskLimitExceeded, AllocatorBlocked, DuplicateIntent, VenueRejected:
		return true
	default:
		return false
	}
}

// IsRetried reports whether this kind should be retried up to a bound before
// counting against the circuit breaker (VenueUnavailable, Timeout).
func (k Kind) IsRetried() bool {
	return k == VenueUnavailable || k == Timeout
}
