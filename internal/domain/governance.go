package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// GovernancePolicy is the per-account governance configuration. It survives
// restart; every mutation appends a row to the history table.
type GovernancePolicy struct {
	AccountID            string
	BlockNewIntents      bool
	BlockedDomains       map[Domain]bool
	MaxIntentNotionalUSD decimal.Decimal
	MaxTotalNotionalUSD  decimal.Decimal
	UpdatedBy            string
	Reason               string
	UpdatedAt            time.Time
}

// IsDomainBlocked reports whether the given domain is in the blocked set.
func (p GovernancePolicy) IsDomainBlocked(d Domain) bool {
	return p.BlockedDomains[d]
}

// GovernancePolicyHistoryRow is an immutable append-only record of a policy
// mutation, written on every SetGovernance call.
type GovernancePolicyHistoryRow struct {
	ID                   int64
	AccountID            string
	BlockNewIntents      bool
	BlockedDomains       []Domain
	MaxIntentNotionalUSD decimal.Decimal
	MaxTotalNotionalUSD  decimal.Decimal
	UpdatedBy            string
	Reason               string
	UpdatedAt            time.Time
}
