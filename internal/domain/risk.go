package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// RiskRuntimeState is the persisted per-account risk accounting the
// Coordinator relies on to survive restarts. Mutated only by the Coordinator.
type RiskRuntimeState struct {
	AccountID          string
	RiskState          RiskState
	DailyDate          time.Time // date boundary; DailyPnL resets when this rolls over
	DailyPnL           decimal.Decimal
	DailyLossLimit     decimal.Decimal
	CurrentEquity      decimal.Decimal
	EquityPeak         decimal.Decimal
	CurrentDrawdown    decimal.Decimal
	MaxDrawdownObserved decimal.Decimal
	UpdatedAt          time.Time
}

// RollDailyIfNeeded resets DailyPnL when now crosses the stored date boundary.
func (r *RiskRuntimeState) RollDailyIfNeeded(now time.Time) {
	y1, m1, d1 := r.DailyDate.Date()
	y2, m2, d2 := now.Date()
	if y1 != y2 || m1 != m2 || d1 != d2 {
		r.DailyDate = now
		r.DailyPnL = decimal.Zero
	}
}

// ApplyEquity updates equity, peak, and drawdown, preserving the invariant
// equity_peak >= current_equity at all times.
func (r *RiskRuntimeState) ApplyEquity(newEquity decimal.Decimal) {
	r.CurrentEquity = newEquity
	if newEquity.GreaterThan(r.EquityPeak) {
		r.EquityPeak = newEquity
	}
	r.CurrentDrawdown = r.EquityPeak.Sub(r.CurrentEquity)
	if r.CurrentDrawdown.GreaterThan(r.MaxDrawdownObserved) {
		r.MaxDrawdownObserved = r.CurrentDrawdown
	}
}

// WouldBreachDailyLoss reports whether recording an additional loss of
// lossBound (a non-negative magnitude) would push today's PnL past the
// account's daily loss limit.
func (r RiskRuntimeState) WouldBreachDailyLoss(lossBound decimal.Decimal) bool {
	projected := r.DailyPnL.Sub(lossBound)
	return projected.LessThan(r.DailyLossLimit.Neg())
}

// WouldBreachDrawdown reports whether the current drawdown already exceeds
// the given global limit.
func (r RiskRuntimeState) WouldBreachDrawdown(maxDrawdownLimit decimal.Decimal) bool {
	return r.CurrentDrawdown.GreaterThan(maxDrawdownLimit)
}

// CircuitBreaker is the per-account kill switch (one per Coordinator)
// tripped by consecutive executor failures. Shared across domains, matching
// the single counter the teacher implementation used (see DESIGN.md for the
// open-question decision to not split this per domain).
type CircuitBreaker struct {
	ConsecutiveFailures int
	MaxConsecutiveFailures int
	Tripped             bool
	TrippedReason       string
	CooldownUntil       time.Time
	CooldownDuration    time.Duration
	AutoRecover         bool
}

// IsOpen reports whether new intents may be dispatched.
func (cb *CircuitBreaker) IsOpen() bool {
	if !cb.Tripped {
		return true
	}
	if cb.AutoRecover && time.Now().After(cb.CooldownUntil) {
		return true
	}
	return false
}

// RecordFailure increments the consecutive-failure counter and trips the
// breaker once it reaches MaxConsecutiveFailures.
func (cb *CircuitBreaker) RecordFailure(now time.Time) {
	cb.ConsecutiveFailures++
	if cb.ConsecutiveFailures >= cb.MaxConsecutiveFailures {
		cb.Tripped = true
		cb.TrippedReason = fmt.Sprintf("%d consecutive failures", cb.ConsecutiveFailures)
		cb.CooldownUntil = now.Add(cb.CooldownDuration)
		cb.ConsecutiveFailures = 0
	}
}

// RecordSuccess resets the consecutive-failure counter.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.ConsecutiveFailures = 0
}

// Reset clears a tripped breaker — the operator action exposed on the admin surface.
func (cb *CircuitBreaker) Reset() {
	cb.Tripped = false
	cb.TrippedReason = ""
	cb.ConsecutiveFailures = 0
	cb.CooldownUntil = time.Time{}
}
