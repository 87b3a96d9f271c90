package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/coordinator-core/internal/domain"
)

// AppendExecution writes one terminal-intent audit row. This is the sole
// replay-authoritative record of order state (spec.md §4.4); system_events
// never duplicates it.
func (s *Store) AppendExecution(ctx context.Context, row domain.ExecutionLogRow) error {
	metaJSON, err := json.Marshal(row.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO agent_order_executions
			(intent_id, agent_id, account_id, domain, market_slug, token_id, side, is_buy,
			 shares, limit_price, order_id, status, filled_shares, avg_fill_price,
			 elapsed_ms, dry_run, error, metadata, executed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(intent_id) DO UPDATE SET
			order_id       = excluded.order_id,
			status         = excluded.status,
			filled_shares  = excluded.filled_shares,
			avg_fill_price = excluded.avg_fill_price,
			elapsed_ms     = excluded.elapsed_ms,
			error          = excluded.error
	`, row.IntentID, row.AgentID, row.AccountID, string(row.Domain), row.MarketSlug, row.TokenID,
		string(row.Side), row.IsBuy, row.Shares, row.LimitPrice.String(), row.OrderID,
		string(row.Status), row.FilledShares, row.AvgFillPrice.String(), row.ElapsedMS,
		row.DryRun, row.Error, string(metaJSON), row.ExecutedAt)
	if err != nil {
		return fmt.Errorf("persistence.AppendExecution: %w", err)
	}
	return nil
}

// LatestExecutionAt reports the platform's most recent trade timestamp,
// surfaced by the admin report handle's health snapshot.
func (s *Store) LatestExecutionAt(ctx context.Context) (time.Time, bool, error) {
	var executedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `SELECT MAX(executed_at) FROM agent_order_executions`).Scan(&executedAt)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("persistence.LatestExecutionAt: %w", err)
	}
	if !executedAt.Valid {
		return time.Time{}, false, nil
	}
	return executedAt.Time, true, nil
}

// ReplayExecutionLog reconstructs per-domain exposure and daily PnL
// (restore step 3). Rows are returned oldest-first so the caller can fold
// them in order.
func (s *Store) ReplayExecutionLog(ctx context.Context, accountID string, since time.Time) ([]domain.ExecutionLogRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT intent_id, agent_id, account_id, domain, market_slug, token_id, side, is_buy,
		       shares, limit_price, order_id, status, filled_shares, avg_fill_price,
		       elapsed_ms, dry_run, error, metadata, executed_at
		FROM agent_order_executions
		WHERE account_id = ? AND executed_at >= ?
		ORDER BY executed_at ASC
	`, accountID, since)
	if err != nil {
		return nil, fmt.Errorf("persistence.ReplayExecutionLog: %w", err)
	}
	defer rows.Close()

	var out []domain.ExecutionLogRow
	for rows.Next() {
		var (
			r                                        domain.ExecutionLogRow
			domainStr, sideStr, statusStr            string
			limitPriceStr, avgFillStr                string
			metaJSON                                 string
		)
		if err := rows.Scan(&r.IntentID, &r.AgentID, &r.AccountID, &domainStr, &r.MarketSlug,
			&r.TokenID, &sideStr, &r.IsBuy, &r.Shares, &limitPriceStr, &r.OrderID, &statusStr,
			&r.FilledShares, &avgFillStr, &r.ElapsedMS, &r.DryRun, &r.Error, &metaJSON, &r.ExecutedAt); err != nil {
			return nil, err
		}
		r.Domain = domain.Domain(domainStr)
		r.Side = domain.Side(sideStr)
		r.Status = domain.IntentStatus(statusStr)
		if r.LimitPrice, err = decimal.NewFromString(limitPriceStr); err != nil {
			return nil, err
		}
		if r.AvgFillPrice, err = decimal.NewFromString(avgFillStr); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(metaJSON), &r.Metadata); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetIdempotency looks up an idempotency record by (account_id, key).
func (s *Store) GetIdempotency(ctx context.Context, accountID, key string) (domain.IdempotencyRecord, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT request_hash, status, response_data, expires_at, created_at
		FROM order_idempotency WHERE account_id = ? AND idempotency_key = ?
	`, accountID, key)

	var rec domain.IdempotencyRecord
	var statusStr string
	var response []byte
	err := row.Scan(&rec.RequestHash, &statusStr, &response, &rec.ExpiresAt, &rec.CreatedAt)
	if err == sql.ErrNoRows {
		return domain.IdempotencyRecord{}, false, nil
	}
	if err != nil {
		return domain.IdempotencyRecord{}, false, fmt.Errorf("persistence.GetIdempotency: %w", err)
	}
	rec.AccountID = accountID
	rec.IdempotencyKey = key
	rec.Status = domain.IdempotencyStatus(statusStr)
	rec.ResponseData = response
	return rec, true, nil
}

// PutIdempotencyPending inserts a new Pending lease, or takes over an
// existing row that is Failed or whose Pending lease expired before
// rec.CreatedAt. Any other existing row is left untouched and an error is
// returned, which the executor reports as coreerr.PersistenceFailure.
func (s *Store) PutIdempotencyPending(ctx context.Context, rec domain.IdempotencyRecord) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO order_idempotency
			(account_id, idempotency_key, request_hash, status, response_data, expires_at, created_at)
		VALUES (?, ?, ?, ?, NULL, ?, ?)
		ON CONFLICT(account_id, idempotency_key) DO UPDATE SET
			request_hash  = excluded.request_hash,
			status        = excluded.status,
			response_data = NULL,
			expires_at    = excluded.expires_at,
			created_at    = excluded.created_at
		WHERE order_idempotency.status = ?
			OR (order_idempotency.status = ? AND order_idempotency.expires_at < excluded.created_at)
	`, rec.AccountID, rec.IdempotencyKey, rec.RequestHash, string(domain.IdempotencyPending),
		rec.ExpiresAt, rec.CreatedAt, string(domain.IdempotencyFailed), string(domain.IdempotencyPending))
	if err != nil {
		return fmt.Errorf("persistence.PutIdempotencyPending: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("persistence.PutIdempotencyPending: key %q is held by a live lease or a succeeded record", rec.IdempotencyKey)
	}
	return nil
}

// CompleteIdempotency transitions a Pending lease to its terminal status and
// stores the serialized result for future duplicate replay.
func (s *Store) CompleteIdempotency(ctx context.Context, accountID, key string, status domain.IdempotencyStatus, orderID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE order_idempotency SET status = ?, response_data = ?
		WHERE account_id = ? AND idempotency_key = ?
	`, string(status), []byte(orderID), accountID, key)
	if err != nil {
		return fmt.Errorf("persistence.CompleteIdempotency: %w", err)
	}
	return nil
}
