package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/coordinator-core/internal/domain"
)

// RecordSettlement upserts a token's terminal payout, recorded from an
// external settlement collector (spec.md's non-goals exclude this module
// resolving settlement itself).
func (s *Store) RecordSettlement(ctx context.Context, tokenID string, payout decimal.Decimal, settledAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pm_token_settlements (token_id, payout, settled_at)
		VALUES (?, ?, ?)
		ON CONFLICT(token_id) DO UPDATE SET payout = excluded.payout, settled_at = excluded.settled_at
	`, tokenID, payout.String(), settledAt)
	if err != nil {
		return fmt.Errorf("persistence.RecordSettlement: %w", err)
	}
	return nil
}

// RecordSystemEvent appends one row to the event-sourced audit trail:
// operator actions, lifecycle transitions, and the emergency-stop
// trigger/reset pair (SPEC_FULL.md §6, grounded on
// src/persistence/event_store.rs and src/coordination/emergency_stop.rs).
func (s *Store) RecordSystemEvent(ctx context.Context, eventType, severity, message, correlationID string, metadata map[string]any) error {
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO system_events (event_type, severity, message, correlation_id, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, eventType, severity, message, correlationID, string(metaJSON), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("persistence.RecordSystemEvent: %w", err)
	}
	return nil
}

// LatestSystemEvent returns the most recent row of the given event type,
// used on startup to check for an unresolved emergency-stop trigger.
func (s *Store) LatestSystemEvent(ctx context.Context, eventType string) (domain.SystemEvent, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, event_type, severity, message, correlation_id, metadata, created_at
		FROM system_events WHERE event_type = ? ORDER BY created_at DESC LIMIT 1
	`, eventType)

	var ev domain.SystemEvent
	var metaJSON string
	err := row.Scan(&ev.ID, &ev.EventType, &ev.Severity, &ev.Message, &ev.CorrelationID, &metaJSON, &ev.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.SystemEvent{}, false, nil
	}
	if err != nil {
		return domain.SystemEvent{}, false, fmt.Errorf("persistence.LatestSystemEvent: %w", err)
	}
	if err := json.Unmarshal([]byte(metaJSON), &ev.Metadata); err != nil {
		return domain.SystemEvent{}, false, err
	}
	return ev, true, nil
}

// CountSystemEvents counts events of the given severities since a cutoff —
// the health snapshot's trailing error count.
func (s *Store) CountSystemEvents(ctx context.Context, severities []string, since time.Time) (int64, error) {
	if len(severities) == 0 {
		return 0, nil
	}
	query := `SELECT COUNT(*) FROM system_events WHERE created_at > ? AND severity IN (`
	args := []any{since}
	for i, sev := range severities {
		if i > 0 {
			query += ", "
		}
		query += "?"
		args = append(args, sev)
	}
	query += ")"

	var count int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("persistence.CountSystemEvents: %w", err)
	}
	return count, nil
}

// DailyStats aggregates today's trade count, win rate, volume, PnL, and
// average fill latency from the execution log (SPEC_FULL.md §6, grounded
// on src/api/handlers/stats.rs's get_today_stats).
func (s *Store) DailyStats(ctx context.Context, accountID string, since time.Time) (domain.DailyStats, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status IN ('filled', 'partially_filled')),
			COUNT(*) FILTER (WHERE status IN ('failed', 'rejected')),
			COALESCE(SUM(CAST(shares AS REAL) * CAST(avg_fill_price AS REAL)), 0),
			COALESCE(AVG(elapsed_ms), 0)
		FROM agent_order_executions
		WHERE account_id = ? AND executed_at >= ?
	`, accountID, since)

	var (
		total, successful, failed int64
		volume, avgLatency        float64
	)
	if err := row.Scan(&total, &successful, &failed, &volume, &avgLatency); err != nil {
		return domain.DailyStats{}, fmt.Errorf("persistence.DailyStats: %w", err)
	}

	var activePositions int64
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM agent_order_executions
		WHERE account_id = ? AND status IN ('accepted', 'partially_filled')
	`, accountID).Scan(&activePositions); err != nil {
		return domain.DailyStats{}, fmt.Errorf("persistence.DailyStats: active positions: %w", err)
	}

	winRate := 0.0
	if total > 0 {
		winRate = float64(successful) / float64(total)
	}

	risk, err := s.RestoreRiskState(ctx, accountID)
	if err != nil {
		return domain.DailyStats{}, err
	}

	return domain.DailyStats{
		AccountID:        accountID,
		TotalTrades:      total,
		SuccessfulTrades: successful,
		FailedTrades:     failed,
		TotalVolume:      decimal.NewFromFloat(volume),
		PnL:              risk.DailyPnL,
		WinRate:          winRate,
		AvgFillLatencyMS: int64(avgLatency),
		ActivePositions:  activePositions,
	}, nil
}
