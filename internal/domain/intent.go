package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Intent is a trade request emitted by a strategy agent, pre-gate.
type Intent struct {
	IntentID        string
	AgentID         string
	Domain          Domain
	AccountID       string
	MarketKey       string // opaque venue-level market identifier
	TokenID         string // the specific outcome share
	Side            Side
	IsBuy           bool
	Shares          uint64
	LimitPrice      decimal.Decimal // in [0,1]
	Priority        uint8
	SignalFairValue *decimal.Decimal // optional, in [0,1]; nil means "skip Kelly resizing"
	CreatedAt       time.Time

	// Coin and Horizon classify a crypto-domain intent for the allocator's
	// per-coin/per-horizon sub-budgets. Empty for non-crypto domains.
	Coin    string
	Horizon string

	// DeploymentID names the deployment that produced the intent. The
	// duplicate guard keys on it only under the deployment scope, and the
	// dispatch loop skips the intent if the deployment was disabled since
	// enqueue.
	DeploymentID string
}

// Notional returns shares × limit_price.
func (i Intent) Notional() decimal.Decimal {
	return i.LimitPrice.Mul(decimal.NewFromInt(int64(i.Shares)))
}

// Validate enforces the venue-independent invariants on an intent:
// shares >= minShares, notional >= minNotional, limit_price in [0,1].
func (i Intent) Validate(minShares uint64, minNotional decimal.Decimal) error {
	if i.Shares < minShares {
		return fmt.Errorf("intent %s: shares %d below minimum %d", i.IntentID, i.Shares, minShares)
	}
	if i.Notional().LessThan(minNotional) {
		return fmt.Errorf("intent %s: notional %s below minimum %s", i.IntentID, i.Notional(), minNotional)
	}
	if i.LimitPrice.LessThan(decimal.Zero) || i.LimitPrice.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("intent %s: limit_price %s out of [0,1]", i.IntentID, i.LimitPrice)
	}
	return nil
}

// DuplicateKey returns the tuple used by the duplicate guard for the given scope.
func (i Intent) DuplicateKey(scope DuplicateGuardScope) string {
	if scope == DuplicateScopeDeployment {
		return fmt.Sprintf("%s|%s|%s|%v", i.DeploymentID, i.MarketKey, i.Side, i.IsBuy)
	}
	return fmt.Sprintf("%s|%s|%v", i.MarketKey, i.Side, i.IsBuy)
}

// IntentOutcome is returned synchronously from SubmitIntent.
type IntentOutcome struct {
	Accepted bool
	Reason   string
	Code     RejectReasonCode
	// WindowMS is populated only for ReasonDuplicateIntent.
	WindowMS int64
}

// Accept builds an accepted outcome.
func Accept() IntentOutcome { return IntentOutcome{Accepted: true} }

// Reject builds a rejected outcome with a stable reason code.
func Reject(code RejectReasonCode, reason string) IntentOutcome {
	return IntentOutcome{Accepted: false, Code: code, Reason: reason}
}

// RejectDuplicate builds a duplicate-guard rejection carrying the window used.
func RejectDuplicate(windowMS int64) IntentOutcome {
	return IntentOutcome{
		Accepted: false,
		Code:     ReasonDuplicateIntent,
		Reason:   fmt.Sprintf("duplicate intent within %dms window", windowMS),
		WindowMS: windowMS,
	}
}
