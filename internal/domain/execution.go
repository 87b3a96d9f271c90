package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderRequest is what the Order Executor submits to the Exchange port.
// Derived from an Intent that survived the gate chain (and any Kelly resize).
type OrderRequest struct {
	AccountID      string
	IdempotencyKey string
	MarketKey      string
	TokenID        string
	Side           Side
	IsBuy          bool
	Shares         uint64
	LimitPrice     decimal.Decimal
}

// OrderResult is the Executor's normalized projection of a venue response.
type OrderResult struct {
	OrderID        string
	Status         IntentStatus
	FilledShares   uint64
	AvgFillPrice   decimal.Decimal
	ElapsedMS      int64
	Error          string
}

// ExecutorErrorKind classifies a failure from the Exchange port for retry
// and circuit-breaker purposes.
type ExecutorErrorKind string

const (
	ErrTransient   ExecutorErrorKind = "transient"
	ErrVenue4xx    ExecutorErrorKind = "venue_4xx"
	ErrVenue5xx    ExecutorErrorKind = "venue_5xx"
	ErrAuth        ExecutorErrorKind = "auth"
	ErrValidation  ExecutorErrorKind = "validation"
	ErrIdempotencyConflict ExecutorErrorKind = "idempotency_conflict"
	// ErrFatal marks a failure that must not simply count against the
	// circuit breaker: the dispatch loop triggers a graceful shutdown
	// instead (an Auth rejection at the venue, or a persistence failure
	// bridged in from coreerr.Kind.IsFatal).
	ErrFatal ExecutorErrorKind = "fatal"
)

// IsRetryable reports whether the Order Executor's submitWithRetry retries
// a submission that failed with this error kind.
func (k ExecutorErrorKind) IsRetryable() bool {
	return k == ErrTransient || k == ErrVenue5xx
}

// CountsAgainstBreaker reports whether a failure of this kind should be
// counted toward the circuit breaker's consecutive-failure tally.
func (k ExecutorErrorKind) CountsAgainstBreaker() bool {
	return k == ErrTransient || k == ErrVenue5xx
}

// IsFatal reports whether this kind must trigger a graceful shutdown of the
// owning account's Coordinator rather than a local rejection or a breaker
// count (Auth, and persistence failures bridged from coreerr).
func (k ExecutorErrorKind) IsFatal() bool {
	return k == ErrAuth || k == ErrFatal
}

// ExecutionLogRow is the one-row-per-terminal-intent audit record replayed
// on restart to reconstruct exposure and daily PnL.
type ExecutionLogRow struct {
	IntentID     string
	AgentID      string
	AccountID    string
	Domain       Domain
	MarketSlug   string
	TokenID      string
	Side         Side
	IsBuy        bool
	Shares       uint64
	LimitPrice   decimal.Decimal
	OrderID      string
	Status       IntentStatus
	FilledShares uint64
	AvgFillPrice decimal.Decimal
	ElapsedMS    int64
	DryRun       bool
	Error        string
	Metadata     map[string]string
	ExecutedAt   time.Time
}

// MergeResult is the outcome of an on-chain CTF merge transaction that
// combines a complete YES+NO pair back into collateral.
type MergeResult struct {
	ConditionID  string
	TxHash       string
	GasCostUSD   float64
	Received     decimal.Decimal
	Profit       decimal.Decimal
	Success      bool
	Error        string
	ExecutedAt   time.Time
}

// OrderUpdate is pushed to a registered agent's update channel whenever one
// of its submitted intents reaches a terminal dispatch outcome — the only
// way an agent learns the fate of an intent it handed to the Coordinator.
type OrderUpdate struct {
	IntentID     string
	Status       IntentStatus
	OrderID      string
	FilledShares uint64
	AvgFillPrice decimal.Decimal
	Error        string
	At           time.Time
}

// Notional returns the signed notional this row contributes to domain
// exposure: positive for a buy, negative for a sell, zero unless filled.
func (r ExecutionLogRow) Notional() decimal.Decimal {
	if r.Status != IntentFilled && r.Status != IntentPartiallyFilled {
		return decimal.Zero
	}
	n := r.AvgFillPrice.Mul(decimal.NewFromInt(int64(r.FilledShares)))
	if !r.IsBuy {
		return n.Neg()
	}
	return n
}
