package persistence_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/coordinator-core/internal/domain"
)

func TestStore_Bootstrap_Idempotent(t *testing.T) {
	s := openTestStore(t)
	// Bootstrap already ran once in openTestStore; applying again must not error.
	require.NoError(t, s.Bootstrap(context.Background()))
}

func TestStore_RestoreAccounts_UpsertAccount(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	ids, err := s.RestoreAccounts(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)

	require.NoError(t, s.UpsertAccount(ctx, "acct-b", []string{"crypto"}, "any"))
	require.NoError(t, s.UpsertAccount(ctx, "acct-a", []string{"sports", "politics"}, "live_only"))

	ids, err = s.RestoreAccounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"acct-a", "acct-b"}, ids, "ordered by account_id")
}

func TestStore_UpsertAccount_UpdatesExisting(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertAccount(ctx, "acct-1", []string{"crypto"}, "any"))
	require.NoError(t, s.UpsertAccount(ctx, "acct-1", []string{"crypto", "sports"}, "dry_run_only"))

	ids, err := s.RestoreAccounts(ctx)
	require.NoError(t, err)
	require.Len(t, ids, 1, "upsert must not duplicate the row")
}

func TestStore_RestoreGovernance_DefaultsWhenMissing(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	policy, err := s.RestoreGovernance(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, "acct-1", policy.AccountID)
	assert.False(t, policy.BlockNewIntents)
	assert.Empty(t, policy.BlockedDomains)
}

func TestStore_SaveGovernance_RoundTripsAndAppendsHistory(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	policy := domain.GovernancePolicy{
		AccountID:            "acct-1",
		BlockNewIntents:      true,
		BlockedDomains:       map[domain.Domain]bool{domain.DomainSports: true},
		MaxIntentNotionalUSD: decimal.NewFromInt(500),
		MaxTotalNotionalUSD:  decimal.NewFromInt(5000),
	}
	require.NoError(t, s.SaveGovernance(ctx, "acct-1", policy, "risk breach", "ops-alice"))

	got, err := s.RestoreGovernance(ctx, "acct-1")
	require.NoError(t, err)
	assert.True(t, got.BlockNewIntents)
	assert.True(t, got.IsDomainBlocked(domain.DomainSports))
	assert.True(t, got.MaxIntentNotionalUSD.Equal(decimal.NewFromInt(500)))
	assert.Equal(t, "ops-alice", got.UpdatedBy)

	// A second write appends a new history row rather than overwriting it;
	// the current-state row still reflects only the latest values.
	policy.BlockNewIntents = false
	require.NoError(t, s.SaveGovernance(ctx, "acct-1", policy, "resumed", "ops-bob"))

	got, err = s.RestoreGovernance(ctx, "acct-1")
	require.NoError(t, err)
	assert.False(t, got.BlockNewIntents)
	assert.Equal(t, "ops-bob", got.UpdatedBy)
}

func TestStore_RiskState_RestoreDefaultsThenSaveRoundTrips(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	defaults, err := s.RestoreRiskState(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, domain.RiskStateNormal, defaults.RiskState)
	assert.True(t, defaults.DailyPnL.IsZero())

	state := domain.RiskRuntimeState{
		AccountID:           "acct-1",
		RiskState:           domain.RiskStateWarning,
		DailyDate:           time.Now().UTC(),
		DailyPnL:            decimal.NewFromFloat(-120.50),
		DailyLossLimit:      decimal.NewFromInt(500),
		CurrentEquity:       decimal.NewFromInt(9800),
		EquityPeak:          decimal.NewFromInt(10000),
		CurrentDrawdown:     decimal.NewFromInt(200),
		MaxDrawdownObserved: decimal.NewFromInt(300),
	}
	require.NoError(t, s.SaveRiskState(ctx, "acct-1", state))

	got, err := s.RestoreRiskState(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, domain.RiskStateWarning, got.RiskState)
	assert.True(t, got.DailyPnL.Equal(decimal.NewFromFloat(-120.50)))
	assert.True(t, got.EquityPeak.Equal(decimal.NewFromInt(10000)))
}

func TestStore_CircuitBreaker_RestoreDefaultThenSaveRequiresRiskStateRow(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	cb, err := s.RestoreCircuitBreaker(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, 5, cb.MaxConsecutiveFailures, "unseeded account gets the schema default")

	// SaveCircuitBreaker requires a risk_runtime_state row to already exist.
	err = s.SaveCircuitBreaker(ctx, "acct-1", domain.CircuitBreaker{MaxConsecutiveFailures: 3, Tripped: true})
	assert.Error(t, err, "no risk_runtime_state row yet")

	require.NoError(t, s.SaveRiskState(ctx, "acct-1", domain.RiskRuntimeState{AccountID: "acct-1"}))
	require.NoError(t, s.SaveCircuitBreaker(ctx, "acct-1", domain.CircuitBreaker{
		ConsecutiveFailures:    2,
		MaxConsecutiveFailures: 3,
		Tripped:                true,
		TrippedReason:          "3 consecutive failures",
		CooldownUntil:          time.Now().UTC().Add(time.Minute).Truncate(time.Second),
		CooldownDuration:       time.Minute,
		AutoRecover:            true,
	}))

	got, err := s.RestoreCircuitBreaker(ctx, "acct-1")
	require.NoError(t, err)
	assert.True(t, got.Tripped)
	assert.Equal(t, "3 consecutive failures", got.TrippedReason)
	assert.True(t, got.AutoRecover)
}
