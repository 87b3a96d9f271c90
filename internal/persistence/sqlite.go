// Package persistence implements ports.Store against SQLite (pure Go, no
// cgo, single-writer) the way the teacher's internal/adapters/storage does:
// schema-as-constant and one *sql.DB with MaxOpenConns(1). Queries run
// through ExecContext/QueryContext directly; no statements are prepared.
package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/alejandrodnm/coordinator-core/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
    account_id      TEXT PRIMARY KEY,
    allowed_domains TEXT NOT NULL DEFAULT '[]',
    execution_mode  TEXT NOT NULL DEFAULT 'any',
    created_at      DATETIME NOT NULL,
    updated_at      DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS agent_order_executions (
    intent_id      TEXT PRIMARY KEY,
    agent_id       TEXT NOT NULL,
    account_id     TEXT NOT NULL,
    domain         TEXT NOT NULL,
    market_slug    TEXT NOT NULL,
    token_id       TEXT NOT NULL,
    side           TEXT NOT NULL,
    is_buy         INTEGER NOT NULL,
    shares         INTEGER NOT NULL,
    limit_price    TEXT NOT NULL,
    order_id       TEXT NOT NULL DEFAULT '',
    status         TEXT NOT NULL,
    filled_shares  INTEGER NOT NULL DEFAULT 0,
    avg_fill_price TEXT NOT NULL DEFAULT '0',
    elapsed_ms     INTEGER NOT NULL DEFAULT 0,
    dry_run        INTEGER NOT NULL DEFAULT 0,
    error          TEXT NOT NULL DEFAULT '',
    metadata       TEXT NOT NULL DEFAULT '{}',
    executed_at    DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_executions_account_time ON agent_order_executions(account_id, executed_at DESC);

CREATE TABLE IF NOT EXISTS coordinator_governance_policies (
    account_id              TEXT PRIMARY KEY,
    block_new_intents       INTEGER NOT NULL DEFAULT 0,
    blocked_domains         TEXT NOT NULL DEFAULT '[]',
    max_intent_notional_usd TEXT NOT NULL DEFAULT '0',
    max_total_notional_usd  TEXT NOT NULL DEFAULT '0',
    updated_by              TEXT NOT NULL DEFAULT '',
    reason                  TEXT NOT NULL DEFAULT '',
    updated_at              DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS coordinator_governance_policy_history (
    id                      INTEGER PRIMARY KEY AUTOINCREMENT,
    account_id              TEXT NOT NULL,
    block_new_intents       INTEGER NOT NULL DEFAULT 0,
    blocked_domains         TEXT NOT NULL DEFAULT '[]',
    max_intent_notional_usd TEXT NOT NULL DEFAULT '0',
    max_total_notional_usd  TEXT NOT NULL DEFAULT '0',
    updated_by              TEXT NOT NULL DEFAULT '',
    reason                  TEXT NOT NULL DEFAULT '',
    updated_at              DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_governance_history_account ON coordinator_governance_policy_history(account_id, updated_at DESC);

CREATE TABLE IF NOT EXISTS risk_runtime_state (
    account_id            TEXT PRIMARY KEY,
    risk_state            TEXT NOT NULL DEFAULT 'normal',
    daily_date            DATETIME NOT NULL,
    daily_pnl             TEXT NOT NULL DEFAULT '0',
    daily_loss_limit      TEXT NOT NULL DEFAULT '0',
    current_equity        TEXT NOT NULL DEFAULT '0',
    equity_peak           TEXT NOT NULL DEFAULT '0',
    current_drawdown      TEXT NOT NULL DEFAULT '0',
    max_drawdown_observed TEXT NOT NULL DEFAULT '0',
    cb_consecutive_failures INTEGER NOT NULL DEFAULT 0,
    cb_max_consecutive_failures INTEGER NOT NULL DEFAULT 5,
    cb_tripped            INTEGER NOT NULL DEFAULT 0,
    cb_tripped_reason     TEXT NOT NULL DEFAULT '',
    cb_cooldown_until     DATETIME,
    cb_cooldown_duration_ns INTEGER NOT NULL DEFAULT 0,
    cb_auto_recover       INTEGER NOT NULL DEFAULT 0,
    updated_at            DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS pm_token_settlements (
    token_id    TEXT PRIMARY KEY,
    payout      TEXT NOT NULL,
    settled_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS pm_market_metadata (
    token_id     TEXT PRIMARY KEY,
    condition_id TEXT NOT NULL,
    market_slug  TEXT NOT NULL,
    neg_risk     INTEGER NOT NULL DEFAULT 0,
    end_date     DATETIME,
    updated_at   DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS signal_history (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    account_id  TEXT NOT NULL,
    strategy_id TEXT NOT NULL,
    market_key  TEXT NOT NULL,
    fair_value  TEXT NOT NULL DEFAULT '0',
    recorded_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_signal_history_strategy ON signal_history(account_id, strategy_id, recorded_at DESC);

CREATE TABLE IF NOT EXISTS risk_gate_decisions (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    intent_id   TEXT NOT NULL,
    gate        TEXT NOT NULL,
    outcome     TEXT NOT NULL,
    reason      TEXT NOT NULL DEFAULT '',
    decided_at  DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_risk_gate_decisions_intent ON risk_gate_decisions(intent_id);

CREATE TABLE IF NOT EXISTS exit_reasons (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    intent_id   TEXT NOT NULL,
    reason_code TEXT NOT NULL,
    detail      TEXT NOT NULL DEFAULT '',
    recorded_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS execution_analysis (
    intent_id        TEXT PRIMARY KEY,
    slippage_bps     REAL NOT NULL DEFAULT 0,
    fee_usd          TEXT NOT NULL DEFAULT '0',
    venue_latency_ms INTEGER NOT NULL DEFAULT 0,
    recorded_at      DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS strategy_evaluations (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    account_id    TEXT NOT NULL,
    strategy_id   TEXT NOT NULL,
    stage         TEXT NOT NULL,
    status        TEXT NOT NULL,
    score         REAL NOT NULL DEFAULT 0,
    evidence_kind TEXT NOT NULL DEFAULT '',
    evidence_ref  TEXT NOT NULL DEFAULT '',
    evidence_hash TEXT NOT NULL DEFAULT '',
    evaluated_at  DATETIME NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_strategy_evaluations_hash
    ON strategy_evaluations(account_id, strategy_id, stage, evidence_hash)
    WHERE evidence_hash != '';
CREATE INDEX IF NOT EXISTS idx_strategy_evaluations_lookup
    ON strategy_evaluations(account_id, strategy_id, stage, evaluated_at DESC);

CREATE TABLE IF NOT EXISTS order_idempotency (
    account_id      TEXT NOT NULL,
    idempotency_key TEXT NOT NULL,
    request_hash    TEXT NOT NULL,
    status          TEXT NOT NULL,
    response_data   BLOB,
    expires_at      DATETIME NOT NULL,
    created_at      DATETIME NOT NULL,
    PRIMARY KEY (account_id, idempotency_key)
);

CREATE TABLE IF NOT EXISTS deployments (
    id                  TEXT PRIMARY KEY,
    strategy            TEXT NOT NULL,
    strategy_version    TEXT NOT NULL DEFAULT '',
    domain              TEXT NOT NULL,
    selector_kind       TEXT NOT NULL,
    selector_symbol     TEXT NOT NULL DEFAULT '',
    selector_series_id  TEXT NOT NULL DEFAULT '',
    selector_market_slug TEXT NOT NULL DEFAULT '',
    selector_query      TEXT NOT NULL DEFAULT '',
    timeframe           TEXT NOT NULL DEFAULT '',
    enabled             INTEGER NOT NULL DEFAULT 1,
    allocator_profile   TEXT NOT NULL DEFAULT '',
    risk_profile        TEXT NOT NULL DEFAULT '',
    priority            INTEGER NOT NULL DEFAULT 0,
    cooldown_secs       INTEGER NOT NULL DEFAULT 0,
    account_ids         TEXT NOT NULL DEFAULT '[]',
    execution_mode      TEXT NOT NULL DEFAULT 'any',
    lifecycle_stage     TEXT NOT NULL DEFAULT '',
    product_type        TEXT NOT NULL DEFAULT '',
    last_evaluated_at   DATETIME,
    last_evaluation_score REAL NOT NULL DEFAULT 0
);

-- Event-sourced audit trail: operator actions and lifecycle transitions,
-- distinct from agent_order_executions which stays replay-authoritative
-- for order state.
CREATE TABLE IF NOT EXISTS system_events (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    event_type     TEXT NOT NULL,
    severity       TEXT NOT NULL DEFAULT 'INFO',
    message        TEXT NOT NULL,
    correlation_id TEXT NOT NULL DEFAULT '',
    metadata       TEXT NOT NULL DEFAULT '{}',
    created_at     DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_system_events_type_time ON system_events(event_type, created_at DESC);
`

// Store implements ports.Store against a single-writer SQLite connection.
type Store struct {
	db *sql.DB
}

// Open creates (or opens) the SQLite database at dsn. It does not apply the
// schema — call Bootstrap for that, so the caller controls when
// require_startup_schema failures abort the process.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("persistence.Open: open %q: %w", dsn, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return &Store{db: db}, nil
}

// Bootstrap asserts every table and index named in the persistence layout.
func (s *Store) Bootstrap(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("persistence.Bootstrap: apply schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

// UpsertAccount inserts or refreshes an account row, step 1 of the restore
// sequence (spec.md §4.4).
func (s *Store) UpsertAccount(ctx context.Context, accountID string, allowedDomains []string, executionMode string) error {
	domainsJSON, err := json.Marshal(allowedDomains)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO accounts (account_id, allowed_domains, execution_mode, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(account_id) DO UPDATE SET
			allowed_domains = excluded.allowed_domains,
			execution_mode  = excluded.execution_mode,
			updated_at      = excluded.updated_at
	`, accountID, string(domainsJSON), executionMode, now, now)
	return err
}

// RestoreAccounts returns every known account_id.
func (s *Store) RestoreAccounts(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT account_id FROM accounts ORDER BY account_id`)
	if err != nil {
		return nil, fmt.Errorf("persistence.RestoreAccounts: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// RestoreGovernance loads the current governance policy (step 2). Returns a
// zero-value, non-blocking policy if no row exists yet.
func (s *Store) RestoreGovernance(ctx context.Context, accountID string) (domain.GovernancePolicy, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT block_new_intents, blocked_domains, max_intent_notional_usd,
		       max_total_notional_usd, updated_by, reason, updated_at
		FROM coordinator_governance_policies WHERE account_id = ?
	`, accountID)

	var (
		blockNew         bool
		blockedJSON      string
		maxIntentStr     string
		maxTotalStr      string
		updatedBy        string
		reason           string
		updatedAt        time.Time
	)
	err := row.Scan(&blockNew, &blockedJSON, &maxIntentStr, &maxTotalStr, &updatedBy, &reason, &updatedAt)
	if err == sql.ErrNoRows {
		return domain.GovernancePolicy{AccountID: accountID, BlockedDomains: map[domain.Domain]bool{}}, nil
	}
	if err != nil {
		return domain.GovernancePolicy{}, fmt.Errorf("persistence.RestoreGovernance: %w", err)
	}

	var blockedList []domain.Domain
	if err := json.Unmarshal([]byte(blockedJSON), &blockedList); err != nil {
		return domain.GovernancePolicy{}, err
	}
	blocked := make(map[domain.Domain]bool, len(blockedList))
	for _, d := range blockedList {
		blocked[d] = true
	}

	maxIntent, err := decimal.NewFromString(maxIntentStr)
	if err != nil {
		return domain.GovernancePolicy{}, err
	}
	maxTotal, err := decimal.NewFromString(maxTotalStr)
	if err != nil {
		return domain.GovernancePolicy{}, err
	}

	return domain.GovernancePolicy{
		AccountID:            accountID,
		BlockNewIntents:      blockNew,
		BlockedDomains:       blocked,
		MaxIntentNotionalUSD: maxIntent,
		MaxTotalNotionalUSD:  maxTotal,
		UpdatedBy:            updatedBy,
		Reason:               reason,
		UpdatedAt:            updatedAt,
	}, nil
}

// SaveGovernance writes the current policy and appends a history row in the
// same transaction — the teacher's SaveScan/tx-then-prepare pattern.
func (s *Store) SaveGovernance(ctx context.Context, accountID string, policy domain.GovernancePolicy, reason, operator string) error {
	blockedList := make([]domain.Domain, 0, len(policy.BlockedDomains))
	for d, on := range policy.BlockedDomains {
		if on {
			blockedList = append(blockedList, d)
		}
	}
	blockedJSON, err := json.Marshal(blockedList)
	if err != nil {
		return err
	}
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("persistence.SaveGovernance: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO coordinator_governance_policies
			(account_id, block_new_intents, blocked_domains, max_intent_notional_usd,
			 max_total_notional_usd, updated_by, reason, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account_id) DO UPDATE SET
			block_new_intents       = excluded.block_new_intents,
			blocked_domains         = excluded.blocked_domains,
			max_intent_notional_usd = excluded.max_intent_notional_usd,
			max_total_notional_usd  = excluded.max_total_notional_usd,
			updated_by              = excluded.updated_by,
			reason                  = excluded.reason,
			updated_at              = excluded.updated_at
	`, accountID, policy.BlockNewIntents, string(blockedJSON),
		policy.MaxIntentNotionalUSD.String(), policy.MaxTotalNotionalUSD.String(),
		operator, reason, now); err != nil {
		return fmt.Errorf("persistence.SaveGovernance: upsert: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO coordinator_governance_policy_history
			(account_id, block_new_intents, blocked_domains, max_intent_notional_usd,
			 max_total_notional_usd, updated_by, reason, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, accountID, policy.BlockNewIntents, string(blockedJSON),
		policy.MaxIntentNotionalUSD.String(), policy.MaxTotalNotionalUSD.String(),
		operator, reason, now); err != nil {
		return fmt.Errorf("persistence.SaveGovernance: history insert: %w", err)
	}

	return tx.Commit()
}
