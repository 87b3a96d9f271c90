package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/coordinator-core/internal/domain"
)

// RestoreRiskState loads risk_runtime_state (restore step 4). Returns a
// zero-value state seeded to today if no row exists yet.
func (s *Store) RestoreRiskState(ctx context.Context, accountID string) (domain.RiskRuntimeState, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT risk_state, daily_date, daily_pnl, daily_loss_limit, current_equity,
		       equity_peak, current_drawdown, max_drawdown_observed, updated_at
		FROM risk_runtime_state WHERE account_id = ?
	`, accountID)

	var (
		riskState                                                        string
		dailyDate, updatedAt                                              time.Time
		dailyPnL, dailyLoss, equity, equityPeak, drawdown, maxDrawdown string
	)
	err := row.Scan(&riskState, &dailyDate, &dailyPnL, &dailyLoss, &equity, &equityPeak, &drawdown, &maxDrawdown, &updatedAt)
	if err == sql.ErrNoRows {
		return domain.RiskRuntimeState{
			AccountID:           accountID,
			RiskState:           domain.RiskStateNormal,
			DailyDate:           time.Now().UTC(),
			DailyPnL:            decimal.Zero,
			DailyLossLimit:      decimal.Zero,
			CurrentEquity:       decimal.Zero,
			EquityPeak:          decimal.Zero,
			CurrentDrawdown:     decimal.Zero,
			MaxDrawdownObserved: decimal.Zero,
		}, nil
	}
	if err != nil {
		return domain.RiskRuntimeState{}, fmt.Errorf("persistence.RestoreRiskState: %w", err)
	}

	parse := func(v string) (decimal.Decimal, error) { return decimal.NewFromString(v) }
	pnl, err := parse(dailyPnL)
	if err != nil {
		return domain.RiskRuntimeState{}, err
	}
	lossLimit, err := parse(dailyLoss)
	if err != nil {
		return domain.RiskRuntimeState{}, err
	}
	eq, err := parse(equity)
	if err != nil {
		return domain.RiskRuntimeState{}, err
	}
	peak, err := parse(equityPeak)
	if err != nil {
		return domain.RiskRuntimeState{}, err
	}
	dd, err := parse(drawdown)
	if err != nil {
		return domain.RiskRuntimeState{}, err
	}
	maxDD, err := parse(maxDrawdown)
	if err != nil {
		return domain.RiskRuntimeState{}, err
	}

	return domain.RiskRuntimeState{
		AccountID:           accountID,
		RiskState:           domain.RiskState(riskState),
		DailyDate:           dailyDate,
		DailyPnL:            pnl,
		DailyLossLimit:      lossLimit,
		CurrentEquity:       eq,
		EquityPeak:          peak,
		CurrentDrawdown:     dd,
		MaxDrawdownObserved: maxDD,
		UpdatedAt:           updatedAt,
	}, nil
}

// SaveRiskState upserts risk_runtime_state without touching the
// circuit-breaker columns — SaveCircuitBreaker owns those.
func (s *Store) SaveRiskState(ctx context.Context, accountID string, state domain.RiskRuntimeState) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO risk_runtime_state
			(account_id, risk_state, daily_date, daily_pnl, daily_loss_limit,
			 current_equity, equity_peak, current_drawdown, max_drawdown_observed, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account_id) DO UPDATE SET
			risk_state            = excluded.risk_state,
			daily_date             = excluded.daily_date,
			daily_pnl              = excluded.daily_pnl,
			daily_loss_limit       = excluded.daily_loss_limit,
			current_equity         = excluded.current_equity,
			equity_peak            = excluded.equity_peak,
			current_drawdown       = excluded.current_drawdown,
			max_drawdown_observed  = excluded.max_drawdown_observed,
			updated_at             = excluded.updated_at
	`, accountID, string(state.RiskState), state.DailyDate, state.DailyPnL.String(),
		state.DailyLossLimit.String(), state.CurrentEquity.String(), state.EquityPeak.String(),
		state.CurrentDrawdown.String(), state.MaxDrawdownObserved.String(), now)
	if err != nil {
		return fmt.Errorf("persistence.SaveRiskState: %w", err)
	}
	return nil
}

// RestoreCircuitBreaker loads the breaker's persisted trip state so a
// restart does not silently clear an open trip (supplemented feature,
// see SPEC_FULL.md §6).
func (s *Store) RestoreCircuitBreaker(ctx context.Context, accountID string) (domain.CircuitBreaker, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT cb_consecutive_failures, cb_max_consecutive_failures, cb_tripped,
		       cb_tripped_reason, cb_cooldown_until, cb_cooldown_duration_ns, cb_auto_recover
		FROM risk_runtime_state WHERE account_id = ?
	`, accountID)

	var (
		consecutive, maxConsecutive int
		tripped, autoRecover        bool
		reason                      string
		cooldownUntil               sql.NullTime
		cooldownDurationNS          int64
	)
	err := row.Scan(&consecutive, &maxConsecutive, &tripped, &reason, &cooldownUntil, &cooldownDurationNS, &autoRecover)
	if err == sql.ErrNoRows {
		return domain.CircuitBreaker{MaxConsecutiveFailures: 5}, nil
	}
	if err != nil {
		return domain.CircuitBreaker{}, fmt.Errorf("persistence.RestoreCircuitBreaker: %w", err)
	}

	cb := domain.CircuitBreaker{
		ConsecutiveFailures:    consecutive,
		MaxConsecutiveFailures: maxConsecutive,
		Tripped:                tripped,
		TrippedReason:          reason,
		CooldownDuration:       time.Duration(cooldownDurationNS),
		AutoRecover:            autoRecover,
	}
	if cooldownUntil.Valid {
		cb.CooldownUntil = cooldownUntil.Time
	}
	return cb, nil
}

// SaveCircuitBreaker persists the breaker's trip state. It requires a
// risk_runtime_state row to already exist; the Coordinator calls
// SaveRiskState (an upsert) before each SaveCircuitBreaker call.
func (s *Store) SaveCircuitBreaker(ctx context.Context, accountID string, cb domain.CircuitBreaker) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE risk_runtime_state SET
			cb_consecutive_failures     = ?,
			cb_max_consecutive_failures = ?,
			cb_tripped                  = ?,
			cb_tripped_reason           = ?,
			cb_cooldown_until           = ?,
			cb_cooldown_duration_ns     = ?,
			cb_auto_recover             = ?
		WHERE account_id = ?
	`, cb.ConsecutiveFailures, cb.MaxConsecutiveFailures, cb.Tripped, cb.TrippedReason,
		nullableTime(cb.CooldownUntil), int64(cb.CooldownDuration), cb.AutoRecover, accountID)
	if err != nil {
		return fmt.Errorf("persistence.SaveCircuitBreaker: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("persistence.SaveCircuitBreaker: no risk_runtime_state row for account %q", accountID)
	}
	return nil
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
