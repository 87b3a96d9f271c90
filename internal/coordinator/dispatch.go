package coordinator

import (
	"container/heap"
	"context"
	"log/slog"
	"time"

	"github.com/alejandrodnm/coordinator-core/internal/domain"
	"github.com/alejandrodnm/coordinator-core/internal/executor"
)

// dispatchTick is how often the loop polls the queue when it finds nothing
// to dispatch — avoids a hot spin while staying responsive to new intents.
const dispatchTick = 50 * time.Millisecond

// Run is the dispatch loop: single writer to global state. It returns once
// shutdown is signaled (via Shutdown, or ctx being cancelled) and the queue
// has drained or the drain timeout has elapsed. ctx cancellation never
// bypasses the drain: it only detaches the drain from the (now-dead) parent
// context, since the caller's own deadline is gone once ctx.Err() is set.
func (c *Coordinator) Run(ctx context.Context, exec *executor.Executor) error {
	ticker := time.NewTicker(dispatchTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.signalShutdown()
			c.drainQueue(context.Background(), exec)
			close(c.doneCh)
			return ctx.Err()
		case <-c.shutdownCh:
			c.drainQueue(ctx, exec)
			close(c.doneCh)
			return nil
		case <-ticker.C:
			c.dispatchOne(ctx, exec)
		}
	}
}

// Shutdown signals the dispatch loop to drain the queue and stop. Safe to
// call more than once, and safe to race with ctx cancellation reaching Run
// first.
func (c *Coordinator) Shutdown() {
	c.signalShutdown()
}

func (c *Coordinator) signalShutdown() {
	c.shutdownOnce.Do(func() {
		c.mu.Lock()
		c.lifecycle = domain.LifecycleStopping
		c.mu.Unlock()
		close(c.shutdownCh)
	})
}

// Done reports when the dispatch loop has fully drained and stopped.
func (c *Coordinator) Done() <-chan struct{} { return c.doneCh }

// drainQueue dispatches every queued intent until the queue empties or
// order_drain_timeout_secs elapses, whichever comes first. A zero or unset
// timeout means wait indefinitely for the drain, matching config.Load's
// documented default of 30s applying only when the config was actually
// loaded from YAML. Anything still queued when the deadline passes is
// marked Cancelled rather than dispatched.
func (c *Coordinator) drainQueue(ctx context.Context, exec *executor.Executor) {
	var deadline time.Time
	if d := c.cfg.Shutdown.DrainTimeout(); d > 0 {
		deadline = time.Now().Add(d)
	}
	for {
		c.mu.Lock()
		empty := c.queue.Len() == 0
		c.mu.Unlock()
		if empty {
			c.mu.Lock()
			c.lifecycle = domain.LifecycleStopped
			c.mu.Unlock()
			return
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			c.cancelRemaining(ctx, "shutdown drain timeout")
			c.mu.Lock()
			c.lifecycle = domain.LifecycleStopped
			c.mu.Unlock()
			return
		}
		c.dispatchOne(ctx, exec)
	}
}

// cancelRemaining pops every intent still queued and marks it Cancelled,
// per spec's shutdown-drain-timeout behavior, without ever submitting it to
// the executor.
func (c *Coordinator) cancelRemaining(ctx context.Context, reason string) {
	c.mu.Lock()
	var rows []domain.ExecutionLogRow
	for c.queue.Len() > 0 {
		item := heap.Pop(c.queue).(queuedIntent)
		intent := item.intent
		rows = append(rows, domain.ExecutionLogRow{
			IntentID:   intent.IntentID,
			AgentID:    intent.AgentID,
			AccountID:  intent.AccountID,
			Domain:     intent.Domain,
			MarketSlug: intent.MarketKey,
			TokenID:    intent.TokenID,
			Side:       intent.Side,
			IsBuy:      intent.IsBuy,
			Shares:     intent.Shares,
			LimitPrice: intent.LimitPrice,
			Status:     domain.IntentCancelled,
			Error:      reason,
			ExecutedAt: time.Now().UTC(),
		})
		c.pushUpdateLocked(intent.AgentID, domain.OrderUpdate{
			IntentID: intent.IntentID,
			Status:   domain.IntentCancelled,
			Error:    reason,
			At:       time.Now().UTC(),
		})
	}
	c.mu.Unlock()

	for _, row := range rows {
		if err := c.store.AppendExecution(ctx, row); err != nil {
			slog.Error("failed to append cancelled execution log row", "err", err, "intent_id", row.IntentID)
		}
	}
}

// dispatchOne pops the next intent (if any) and runs it through the
// executor, per spec.md §4.1's dispatch loop steps 2-5.
func (c *Coordinator) dispatchOne(ctx context.Context, exec *executor.Executor) {
	c.mu.Lock()
	if c.queue.Len() == 0 {
		c.mu.Unlock()
		return
	}
	item := heap.Pop(c.queue).(queuedIntent)
	intent := item.intent

	if c.gate != nil && intent.DeploymentID != "" && !c.gate.IsEnabled(intent.DeploymentID) {
		c.mu.Unlock()
		slog.Info("skipping intent: deployment disabled since enqueue", "intent_id", intent.IntentID, "deployment_id", intent.DeploymentID)
		return
	}
	if agent, ok := c.agents[intent.AgentID]; ok && agent.paused {
		c.mu.Unlock()
		slog.Info("skipping intent: agent paused since enqueue", "intent_id", intent.IntentID, "agent_id", intent.AgentID)
		return
	}
	c.mu.Unlock()

	dctx, cancel := context.WithTimeout(ctx, dispatchTimeout)
	result, execErr := exec.Execute(dctx, intent)
	cancel()

	c.mu.Lock()

	var fatal bool
	var tripped bool
	if execErr != nil {
		fatal, tripped = c.recordFailureLocked(execErr)
	} else {
		c.breaker.RecordSuccess()
	}

	row := domain.ExecutionLogRow{
		IntentID:     intent.IntentID,
		AgentID:      intent.AgentID,
		AccountID:    intent.AccountID,
		Domain:       intent.Domain,
		MarketSlug:   intent.MarketKey,
		TokenID:      intent.TokenID,
		Side:         intent.Side,
		IsBuy:        intent.IsBuy,
		Shares:       intent.Shares,
		LimitPrice:   intent.LimitPrice,
		OrderID:      result.OrderID,
		Status:       result.Status,
		FilledShares: result.FilledShares,
		AvgFillPrice: result.AvgFillPrice,
		ElapsedMS:    result.ElapsedMS,
		Error:        result.Error,
		ExecutedAt:   time.Now().UTC(),
	}
	c.applyExecutionLocked(row)

	filled := result.Status == domain.IntentFilled || result.Status == domain.IntentPartiallyFilled
	if agent, ok := c.agents[intent.AgentID]; ok {
		agent.desc.OrdersSubmitted++
		if filled {
			agent.desc.OrdersFilled++
		}
	}
	c.pushUpdateLocked(intent.AgentID, domain.OrderUpdate{
		IntentID:     intent.IntentID,
		Status:       result.Status,
		OrderID:      result.OrderID,
		FilledShares: result.FilledShares,
		AvgFillPrice: result.AvgFillPrice,
		Error:        result.Error,
		At:           row.ExecutedAt,
	})

	risk := c.risk
	breaker := c.breaker
	mergeCandidate := mergeAttempt{marketKey: intent.MarketKey, shares: result.FilledShares}
	c.mu.Unlock()

	if err := c.store.AppendExecution(ctx, row); err != nil {
		slog.Error("failed to append execution log row", "err", err, "intent_id", intent.IntentID)
	}
	// SaveRiskState upserts (creating the row if this account has never
	// persisted risk state yet); SaveCircuitBreaker only updates an existing
	// row, so it must run after.
	if execErr != nil || filled {
		if err := c.store.SaveRiskState(ctx, c.accountID, risk); err != nil {
			slog.Error("failed to persist risk state", "err", err)
		}
	}
	if tripped {
		if err := c.store.SaveCircuitBreaker(ctx, c.accountID, breaker); err != nil {
			slog.Error("failed to persist tripped circuit breaker", "err", err)
		}
	}
	if fatal {
		slog.Error("fatal executor error, initiating graceful shutdown", "intent_id", intent.IntentID, "err", execErr)
		c.Shutdown()
	}
	if filled && result.FilledShares > 0 {
		c.tryMerge(ctx, mergeCandidate)
	}
}

// recordFailureLocked classifies an executor error and, per spec.md §4.1's
// failure semantics, counts it against the circuit breaker when its kind
// says to, and reports whether the kind demands a graceful shutdown rather
// than a mere breaker count (an Auth rejection or a persistence failure
// bridged in from coreerr). Caller must hold c.mu.
func (c *Coordinator) recordFailureLocked(err error) (fatal bool, tripped bool) {
	kind := executor.ClassifyError(err)
	if kind.CountsAgainstBreaker() {
		wasTripped := c.breaker.Tripped
		c.breaker.RecordFailure(time.Now().UTC())
		tripped = !wasTripped && c.breaker.Tripped
	}
	fatal = kind.IsFatal()
	return fatal, tripped
}
