package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// RiskParams are the per-agent risk limits supplied at registration.
type RiskParams struct {
	MaxOrderValue       decimal.Decimal
	MaxTotalExposure    decimal.Decimal
	MaxDailyLoss        decimal.Decimal
	MaxUnhedgedPositions int
}

// AgentDescriptor is the Coordinator's registry entry for a strategy agent.
// Agents get a coordinator.AgentHandle rather than this descriptor; the
// handle wraps a pointer to the Coordinator and exposes only SubmitIntent,
// Heartbeat and Updates.
type AgentDescriptor struct {
	AgentID        string
	Name           string
	Domain         Domain
	RiskParams     RiskParams
	LastHeartbeat  time.Time
	Status         AgentStatus
	OrdersSubmitted uint64
	OrdersFilled    uint64
	// ExternalIngressOnly marks an agent registered via AuthorizeExternalAgent:
	// it submits intents over an RPC surface and never runs its own command loop.
	ExternalIngressOnly bool
}

// Heartbeat is emitted periodically by an agent's run loop.
type Heartbeat struct {
	AgentID string
	At      time.Time
	Status  AgentStatus
}

// CommandKind enumerates the lifecycle commands the Coordinator may send
// an agent over its command channel.
type CommandKind string

const (
	CmdPause       CommandKind = "pause"
	CmdResume      CommandKind = "resume"
	CmdForceClose  CommandKind = "force_close"
	CmdShutdown    CommandKind = "shutdown"
	CmdHealthCheck CommandKind = "health_check"
)

// Command is sent to an agent's command channel. ReplyTo is populated only
// for CmdHealthCheck, and the agent must send exactly one AgentHealthResponse
// on it before returning to its main loop.
type Command struct {
	Kind    CommandKind
	ReplyTo chan AgentHealthResponse
}

// AgentHealthResponse is the snapshot an agent reports back on a health check.
type AgentHealthResponse struct {
	AgentID         string
	Status          AgentStatus
	LastHeartbeat   time.Time
	OrdersSubmitted uint64
	OrdersFilled    uint64
	Paused          bool
}
