package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// SystemEvent is one append-only row in the operator-action / lifecycle-
// transition audit trail: PauseAll, ResumeAll, ForceClose trigger/reset,
// deployment gate flips, and the emergency-stop pair. Distinct from
// ExecutionLogRow, which stays the sole replay-authoritative record of
// order state.
type SystemEvent struct {
	ID            int64
	EventType     string
	Severity      string
	Message       string
	CorrelationID string
	Metadata      map[string]any
	CreatedAt     time.Time
}

// EmergencyReason is why an operator or the system itself reached for
// ForceClose. Carried as ForceClose transition metadata and in the
// corresponding SystemEvent row.
type EmergencyReason string

const (
	EmergencyManual               EmergencyReason = "manual"
	EmergencyCircuitBreaker       EmergencyReason = "circuit_breaker"
	EmergencyPositionDiscrepancy  EmergencyReason = "position_discrepancy"
	EmergencyExchangeConnectivity EmergencyReason = "exchange_connectivity"
	EmergencyRiskLimitExceeded    EmergencyReason = "risk_limit_exceeded"
	EmergencyDatabaseFailure      EmergencyReason = "database_failure"
	EmergencyOther                EmergencyReason = "other"
)

// DailyStats is the operator-facing rollup over today's executions:
// trade counts, win rate, volume, PnL, and average fill latency, scoped to
// the risk engine's rolling day window.
type DailyStats struct {
	AccountID       string
	TotalTrades     int64
	SuccessfulTrades int64
	FailedTrades    int64
	TotalVolume     decimal.Decimal
	PnL             decimal.Decimal
	WinRate         float64
	AvgFillLatencyMS int64
	ActivePositions int64
}

// SystemStatus is the in-process health snapshot assembled for the admin
// control surface's HealthCheck call: lifecycle state, uptime, storage and
// data-feed connectivity, and a trailing error count.
type SystemStatus struct {
	LifecycleState     LifecycleState
	UptimeSeconds      int64
	DBConnected        bool
	DataFeedConnected  bool
	ErrorCount1h       int64
	LastTradeAt        *time.Time
	EmergencyStopActive bool
}
