// Package coordinator implements the Coordinator: the pull/queue/dispatch
// state machine that arbitrates intents from many agents under global risk
// caps, per-domain allocator caps, duplicate-suppression windows,
// governance policies, circuit breakers, and a lifecycle state machine.
package coordinator

import (
	"context"

	"github.com/alejandrodnm/coordinator-core/internal/domain"
)

// AgentHandle is what an agent holds back to the Coordinator: its own agent
// ID plus a pointer to the Coordinator, used only through the SubmitIntent,
// Heartbeat and Updates methods below. It has no intent channel of its own:
// SubmitIntent calls the Coordinator's gate chain directly.
type AgentHandle struct {
	agentID string
	coord   *Coordinator
}

// AgentID returns the handle's owning agent ID.
func (h *AgentHandle) AgentID() string { return h.agentID }

// SubmitIntent forwards to the Coordinator's gate chain on the agent's behalf.
func (h *AgentHandle) SubmitIntent(ctx context.Context, intent domain.Intent) (domain.IntentOutcome, error) {
	intent.AgentID = h.agentID
	return h.coord.SubmitIntent(ctx, intent)
}

// Heartbeat records a liveness beat for the owning agent.
func (h *AgentHandle) Heartbeat(status domain.AgentStatus) {
	h.coord.recordHeartbeat(h.agentID, status)
}

// Updates returns the channel the Coordinator pushes this agent's intents'
// terminal outcomes to — the only way an agent learns what happened to an
// intent once it crosses SubmitIntent. Nil if the agent is not registered.
// An intent the dispatch loop skips because its deployment was disabled or
// its agent paused after enqueue produces no update and no execution-log
// row.
func (h *AgentHandle) Updates() <-chan domain.OrderUpdate {
	return h.coord.updatesChanFor(h.agentID)
}
