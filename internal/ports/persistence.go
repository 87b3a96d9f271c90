package ports

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/coordinator-core/internal/domain"
)

// Store is the persistence capability the Coordinator, Executor, and
// Deployment Gate depend on. The concrete implementation lives in
// internal/persistence against SQLite.
type Store interface {
	// Bootstrap applies schema assertions (CREATE TABLE IF NOT EXISTS, plus
	// the unique indexes named in the persistence layout) and must be
	// idempotent across restarts.
	Bootstrap(ctx context.Context) error

	// Restore replays accounts, governance, risk state, and the execution
	// log in the order the Coordinator's bootstrap sequence requires.
	RestoreAccounts(ctx context.Context) ([]string, error)
	RestoreGovernance(ctx context.Context, accountID string) (domain.GovernancePolicy, error)
	RestoreRiskState(ctx context.Context, accountID string) (domain.RiskRuntimeState, error)
	RestoreCircuitBreaker(ctx context.Context, accountID string) (domain.CircuitBreaker, error)
	ReplayExecutionLog(ctx context.Context, accountID string, since time.Time) ([]domain.ExecutionLogRow, error)

	// AppendExecution writes one terminal-intent audit row.
	AppendExecution(ctx context.Context, row domain.ExecutionLogRow) error

	// LatestExecutionAt returns the most recent executed_at timestamp across
	// every account, or false if no execution has ever been recorded.
	LatestExecutionAt(ctx context.Context) (time.Time, bool, error)

	// SaveRiskState and SaveCircuitBreaker persist the runtime state a
	// restart must not silently lose.
	SaveRiskState(ctx context.Context, accountID string, state domain.RiskRuntimeState) error
	SaveCircuitBreaker(ctx context.Context, accountID string, cb domain.CircuitBreaker) error

	// SaveGovernance appends a new governance policy row and a matching
	// history row in the same transaction.
	SaveGovernance(ctx context.Context, accountID string, policy domain.GovernancePolicy, reason, operator string) error

	// Idempotency records.
	GetIdempotency(ctx context.Context, accountID, key string) (domain.IdempotencyRecord, bool, error)
	PutIdempotencyPending(ctx context.Context, rec domain.IdempotencyRecord) error
	CompleteIdempotency(ctx context.Context, accountID, key string, status domain.IdempotencyStatus, orderID string) error

	// Deployment gate + evaluation ledger.
	LoadDeployments(ctx context.Context) ([]domain.Deployment, error)
	PutDeployments(ctx context.Context, merge bool, deployments []domain.Deployment) error
	SetDeploymentEnabled(ctx context.Context, deploymentID string, enabled bool) error
	LatestEvaluations(ctx context.Context, accountID, strategyID string, stages []domain.EvaluationStage) ([]domain.EvaluationRecord, error)
	RecordEvaluation(ctx context.Context, rec domain.EvaluationRecord) error

	// Settlement + market metadata recorded from an external collector.
	RecordSettlement(ctx context.Context, tokenID string, payout decimal.Decimal, settledAt time.Time) error

	// System events back the event-sourced audit trail: operator actions,
	// lifecycle transitions, and the emergency-stop trigger/reset pair.
	RecordSystemEvent(ctx context.Context, eventType, severity, message, correlationID string, metadata map[string]any) error
	LatestSystemEvent(ctx context.Context, eventType string) (domain.SystemEvent, bool, error)
	CountSystemEvents(ctx context.Context, severities []string, since time.Time) (int64, error)
	DailyStats(ctx context.Context, accountID string, since time.Time) (domain.DailyStats, error)

	Close() error
}
