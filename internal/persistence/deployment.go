package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/alejandrodnm/coordinator-core/internal/domain"
)

// LoadDeployments returns every deployment row, matched against accounts and
// execution mode by the caller (internal/gate).
func (s *Store) LoadDeployments(ctx context.Context) ([]domain.Deployment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, strategy, strategy_version, domain, selector_kind, selector_symbol,
		       selector_series_id, selector_market_slug, selector_query, timeframe, enabled,
		       allocator_profile, risk_profile, priority, cooldown_secs, account_ids,
		       execution_mode, lifecycle_stage, product_type, last_evaluated_at, last_evaluation_score
		FROM deployments
	`)
	if err != nil {
		return nil, fmt.Errorf("persistence.LoadDeployments: %w", err)
	}
	defer rows.Close()

	var out []domain.Deployment
	for rows.Next() {
		var (
			d                                       domain.Deployment
			domainStr, selectorKind, executionMode  string
			accountIDsJSON                          string
			lastEvaluatedAt                          *time.Time
		)
		if err := rows.Scan(&d.ID, &d.Strategy, &d.StrategyVersion, &domainStr, &selectorKind,
			&d.MarketSelector.Symbol, &d.MarketSelector.SeriesID, &d.MarketSelector.MarketSlug,
			&d.MarketSelector.Query, &d.Timeframe, &d.Enabled, &d.AllocatorProfile, &d.RiskProfile,
			&d.Priority, &d.CooldownSecs, &accountIDsJSON, &executionMode, &d.LifecycleStage,
			&d.ProductType, &lastEvaluatedAt, &d.LastEvaluationScore); err != nil {
			return nil, err
		}
		d.Domain = domain.Domain(domainStr)
		d.MarketSelector.Kind = domain.MarketSelectorKind(selectorKind)
		d.ExecutionMode = domain.ExecutionMode(executionMode)
		if lastEvaluatedAt != nil {
			d.LastEvaluatedAt = *lastEvaluatedAt
		}
		if err := json.Unmarshal([]byte(accountIDsJSON), &d.AccountIDs); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// PutDeployments replaces or merges the deployment set. merge=false deletes
// every row not present in the incoming set first.
func (s *Store) PutDeployments(ctx context.Context, merge bool, deployments []domain.Deployment) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("persistence.PutDeployments: begin tx: %w", err)
	}
	defer tx.Rollback()

	if !merge {
		if _, err := tx.ExecContext(ctx, `DELETE FROM deployments`); err != nil {
			return fmt.Errorf("persistence.PutDeployments: clear: %w", err)
		}
	}

	for _, d := range deployments {
		accountIDsJSON, err := json.Marshal(d.AccountIDs)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO deployments
				(id, strategy, strategy_version, domain, selector_kind, selector_symbol,
				 selector_series_id, selector_market_slug, selector_query, timeframe, enabled,
				 allocator_profile, risk_profile, priority, cooldown_secs, account_ids,
				 execution_mode, lifecycle_stage, product_type, last_evaluated_at, last_evaluation_score)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				strategy              = excluded.strategy,
				strategy_version      = excluded.strategy_version,
				domain                = excluded.domain,
				selector_kind         = excluded.selector_kind,
				selector_symbol       = excluded.selector_symbol,
				selector_series_id    = excluded.selector_series_id,
				selector_market_slug  = excluded.selector_market_slug,
				selector_query        = excluded.selector_query,
				timeframe             = excluded.timeframe,
				enabled               = excluded.enabled,
				allocator_profile     = excluded.allocator_profile,
				risk_profile          = excluded.risk_profile,
				priority              = excluded.priority,
				cooldown_secs         = excluded.cooldown_secs,
				account_ids           = excluded.account_ids,
				execution_mode        = excluded.execution_mode,
				lifecycle_stage       = excluded.lifecycle_stage,
				product_type          = excluded.product_type,
				last_evaluated_at     = excluded.last_evaluated_at,
				last_evaluation_score = excluded.last_evaluation_score
		`, d.ID, d.Strategy, d.StrategyVersion, string(d.Domain), string(d.MarketSelector.Kind),
			d.MarketSelector.Symbol, d.MarketSelector.SeriesID, d.MarketSelector.MarketSlug,
			d.MarketSelector.Query, d.Timeframe, d.Enabled, d.AllocatorProfile, d.RiskProfile,
			d.Priority, d.CooldownSecs, string(accountIDsJSON), string(d.ExecutionMode),
			d.LifecycleStage, d.ProductType, nullableTime(d.LastEvaluatedAt), d.LastEvaluationScore); err != nil {
			return fmt.Errorf("persistence.PutDeployments: upsert %s: %w", d.ID, err)
		}
	}

	return tx.Commit()
}

// SetDeploymentEnabled flips a single deployment's enabled flag — the
// Deployment Gate's enable_deployment/disable_deployment operations, still
// subject to the evidence-freshness rule evaluated by internal/gate before
// this is called.
func (s *Store) SetDeploymentEnabled(ctx context.Context, deploymentID string, enabled bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE deployments SET enabled = ? WHERE id = ?`, enabled, deploymentID)
	if err != nil {
		return fmt.Errorf("persistence.SetDeploymentEnabled: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("persistence.SetDeploymentEnabled: no deployment %q", deploymentID)
	}
	return nil
}

// LatestEvaluations returns the most recent evaluation record per requested
// stage for (account_id, strategy_id).
func (s *Store) LatestEvaluations(ctx context.Context, accountID, strategyID string, stages []domain.EvaluationStage) ([]domain.EvaluationRecord, error) {
	var out []domain.EvaluationRecord
	for _, stage := range stages {
		row := s.db.QueryRowContext(ctx, `
			SELECT status, score, evidence_kind, evidence_ref, evidence_hash, evaluated_at
			FROM strategy_evaluations
			WHERE account_id = ? AND strategy_id = ? AND stage = ?
			ORDER BY evaluated_at DESC LIMIT 1
		`, accountID, strategyID, string(stage))

		var rec domain.EvaluationRecord
		var statusStr string
		if err := row.Scan(&statusStr, &rec.Score, &rec.EvidenceKind, &rec.EvidenceRef, &rec.EvidenceHash, &rec.EvaluatedAt); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				continue
			}
			return nil, fmt.Errorf("persistence.LatestEvaluations: stage %s: %w", stage, err)
		}
		rec.AccountID = accountID
		rec.StrategyID = strategyID
		rec.Stage = stage
		rec.Status = domain.EvaluationStatus(statusStr)
		out = append(out, rec)
	}
	return out, nil
}

// RecordEvaluation inserts one evidence row. The unique index on
// (account_id, strategy_id, stage, evidence_hash) makes re-recording the
// same evidence a no-op via INSERT OR IGNORE.
func (s *Store) RecordEvaluation(ctx context.Context, rec domain.EvaluationRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO strategy_evaluations
			(account_id, strategy_id, stage, status, score, evidence_kind, evidence_ref, evidence_hash, evaluated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.AccountID, rec.StrategyID, string(rec.Stage), string(rec.Status), rec.Score,
		rec.EvidenceKind, rec.EvidenceRef, rec.EvidenceHash, rec.EvaluatedAt)
	if err != nil {
		return fmt.Errorf("persistence.RecordEvaluation: %w", err)
	}
	return nil
}
