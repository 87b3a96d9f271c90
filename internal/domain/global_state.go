package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// AgentSnapshot is the aggregated view of one registered agent, refreshed by
// the dispatch loop's single writer.
type AgentSnapshot struct {
	AgentID         string
	Domain          Domain
	Status          AgentStatus
	OrdersSubmitted uint64
	OrdersFilled    uint64
	LastHeartbeat   time.Time
}

// DomainExposure is the current open notional and PnL for one domain.
type DomainExposure struct {
	Domain          Domain
	CurrentExposure decimal.Decimal
	RealizedPnL     decimal.Decimal
	UnrealizedPnL   decimal.Decimal
}

// QueueStats describes the current state of the dispatch queue.
type QueueStats struct {
	Pending   int
	Dispatched uint64
	Rejected   uint64
}

// GlobalState is the Coordinator's single-writer aggregated view, read by
// the (out-of-process) admin/stats surface through an in-process handle.
type GlobalState struct {
	Lifecycle     LifecycleState
	Agents        map[string]AgentSnapshot
	DomainExposures map[Domain]DomainExposure
	TotalRealizedPnL   decimal.Decimal
	TotalUnrealizedPnL decimal.Decimal
	Queue         QueueStats
	RiskState     RiskState
	LastRefresh   time.Time
}

// Snapshot returns a deep-enough copy for safe concurrent reads. The maps
// are copied; the decimal.Decimal values are immutable by construction.
func (g *GlobalState) Snapshot() GlobalState {
	out := *g
	out.Agents = make(map[string]AgentSnapshot, len(g.Agents))
	for k, v := range g.Agents {
		out.Agents[k] = v
	}
	out.DomainExposures = make(map[Domain]DomainExposure, len(g.DomainExposures))
	for k, v := range g.DomainExposures {
		out.DomainExposures[k] = v
	}
	return out
}
