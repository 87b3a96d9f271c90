package coordinator

import (
	"container/heap"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alejandrodnm/coordinator-core/internal/config"
	"github.com/alejandrodnm/coordinator-core/internal/coreerr"
	"github.com/alejandrodnm/coordinator-core/internal/domain"
	"github.com/alejandrodnm/coordinator-core/internal/ports"
)

// dispatchTimeout bounds how long the dispatch loop waits on a single
// Executor.Execute call before counting it as a Timeout failure.
const dispatchTimeout = 15 * time.Second

// healthCheckTimeout bounds HealthCheck's round trip on an agent's command channel.
const healthCheckTimeout = 2 * time.Second

type agentEntry struct {
	desc     domain.AgentDescriptor
	cmdCh    chan domain.Command
	updateCh chan domain.OrderUpdate
	paused   bool
}

// Coordinator owns the registry, gate chain, dispatch queue, and lifecycle
// state machine. One Coordinator per account.
type Coordinator struct {
	accountID string
	cfg       config.Config
	store     ports.Store
	executor  ports.ExchangePort
	merge     ports.MergeExecutor
	gate      DeploymentLookup

	mu       sync.Mutex
	lifecycle domain.LifecycleState
	agents    map[string]*agentEntry
	queue     *intentQueue
	governance domain.GovernancePolicy
	risk       domain.RiskRuntimeState
	breaker    domain.CircuitBreaker
	exposures  map[domain.Domain]domain.DomainExposure
	dupWindow  map[string]time.Time
	allocated  map[string]float64 // allocator bucket key -> running USD total

	shutdownCh   chan struct{}
	shutdownOnce sync.Once
	doneCh       chan struct{}
}

// DeploymentLookup is the narrow slice of the Deployment Gate the
// Coordinator needs during dispatch: whether a deployment is currently enabled.
type DeploymentLookup interface {
	IsEnabled(deploymentID string) bool
}

// New constructs a Coordinator in the Starting state. Call Bootstrap before Run.
func New(accountID string, cfg config.Config, store ports.Store, executor ports.ExchangePort, merge ports.MergeExecutor, gate DeploymentLookup) *Coordinator {
	return &Coordinator{
		accountID:  accountID,
		cfg:        cfg,
		store:      store,
		executor:   executor,
		merge:      merge,
		gate:       gate,
		lifecycle:  domain.LifecycleStarting,
		agents:     make(map[string]*agentEntry),
		queue:      newIntentQueue(),
		exposures:  make(map[domain.Domain]domain.DomainExposure),
		dupWindow:  make(map[string]time.Time),
		allocated:  make(map[string]float64),
		shutdownCh: make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// Bootstrap runs the restore sequence: load governance, load risk state
// (rolling DailyPnL over if the date changed) and the circuit breaker,
// replay the execution log from the day before the risk state's daily date
// to reconstruct exposure/PnL, then check for an unresolved emergency-stop
// event.
func (c *Coordinator) Bootstrap(ctx context.Context) error {
	gov, err := c.store.RestoreGovernance(ctx, c.accountID)
	if err != nil {
		return coreerr.Wrap(coreerr.PersistenceFailure, "restore governance", err)
	}
	risk, err := c.store.RestoreRiskState(ctx, c.accountID)
	if err != nil {
		return coreerr.Wrap(coreerr.PersistenceFailure, "restore risk state", err)
	}
	risk.RollDailyIfNeeded(time.Now().UTC())
	breaker, err := c.store.RestoreCircuitBreaker(ctx, c.accountID)
	if err != nil {
		return coreerr.Wrap(coreerr.PersistenceFailure, "restore circuit breaker", err)
	}

	since := risk.DailyDate.AddDate(0, 0, -1)
	rows, err := c.store.ReplayExecutionLog(ctx, c.accountID, since)
	if err != nil {
		return coreerr.Wrap(coreerr.PersistenceFailure, "replay execution log", err)
	}

	c.mu.Lock()
	c.governance = gov
	c.risk = risk
	c.breaker = breaker
	for _, row := range rows {
		c.applyExecutionLocked(row)
	}
	c.mu.Unlock()

	stopEvent, stopFound, err := c.store.LatestSystemEvent(ctx, "emergency_stop")
	if err != nil {
		return coreerr.Wrap(coreerr.PersistenceFailure, "check emergency stop", err)
	}
	if stopFound {
		resetEvent, resetFound, err := c.store.LatestSystemEvent(ctx, "emergency_stop_reset")
		if err != nil {
			return coreerr.Wrap(coreerr.PersistenceFailure, "check emergency stop reset", err)
		}
		unresolved := !resetFound || resetEvent.CreatedAt.Before(stopEvent.CreatedAt)
		if unresolved {
			slog.Warn("unresolved emergency stop from previous session, staying in ForceClose",
				"account_id", c.accountID, "triggered_at", stopEvent.CreatedAt)
			c.mu.Lock()
			c.lifecycle = domain.LifecycleForceClose
			c.mu.Unlock()
			return nil
		}
	}

	c.mu.Lock()
	c.lifecycle = domain.LifecycleRunning
	c.mu.Unlock()
	return nil
}

// applyExecutionLocked folds one terminal execution row into exposure and
// daily PnL. It is the single path both live dispatch and restart replay use,
// so the round-trip law (replay reproduces live accumulation) holds by
// construction rather than by keeping two update sites in sync.
func (c *Coordinator) applyExecutionLocked(row domain.ExecutionLogRow) {
	notional := row.Notional()
	exp := c.exposures[row.Domain]
	exp.Domain = row.Domain
	exp.CurrentExposure = exp.CurrentExposure.Add(notional)
	c.exposures[row.Domain] = exp
	c.risk.DailyPnL = c.risk.DailyPnL.Add(notional.Neg())
}

// RegisterAgent inserts a new agent and returns a handle plus the receive
// end of its command channel.
func (c *Coordinator) RegisterAgent(agentID string, dom domain.Domain, riskParams domain.RiskParams, allowedDomains map[domain.Domain]bool) (*AgentHandle, <-chan domain.Command, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.agents[agentID]; exists {
		return nil, nil, coreerr.New(coreerr.Validation, fmt.Sprintf("agent %q already registered", agentID))
	}
	if allowedDomains != nil && !allowedDomains[dom] {
		return nil, nil, coreerr.New(coreerr.Validation, fmt.Sprintf("domain %q not allowed for this account", dom))
	}

	cmdCh := make(chan domain.Command, 4)
	c.agents[agentID] = &agentEntry{
		desc: domain.AgentDescriptor{
			AgentID:       agentID,
			Domain:        dom,
			RiskParams:    riskParams,
			LastHeartbeat: time.Now().UTC(),
			Status:        domain.AgentRunning,
		},
		cmdCh:    cmdCh,
		updateCh: make(chan domain.OrderUpdate, 16),
	}
	return &AgentHandle{agentID: agentID, coord: c}, cmdCh, nil
}

// AuthorizeExternalAgent registers an ingress-only agent: no command loop,
// only an RPC surface that calls SubmitIntent directly.
func (c *Coordinator) AuthorizeExternalAgent(agentID string, dom domain.Domain, riskParams domain.RiskParams) (*AgentHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.agents[agentID]; exists {
		return nil, coreerr.New(coreerr.Validation, fmt.Sprintf("agent %q already registered", agentID))
	}
	c.agents[agentID] = &agentEntry{
		desc: domain.AgentDescriptor{
			AgentID:             agentID,
			Domain:              dom,
			RiskParams:          riskParams,
			LastHeartbeat:       time.Now().UTC(),
			Status:              domain.AgentRunning,
			ExternalIngressOnly: true,
		},
		updateCh: make(chan domain.OrderUpdate, 16),
	}
	return &AgentHandle{agentID: agentID, coord: c}, nil
}

// updatesChanFor returns the named agent's outbound order-update channel, or
// nil if the agent is unknown.
func (c *Coordinator) updatesChanFor(agentID string) <-chan domain.OrderUpdate {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.agents[agentID]
	if !ok {
		return nil
	}
	return e.updateCh
}

// pushUpdateLocked delivers a terminal order outcome to the owning agent's
// update channel, non-blocking — a slow or absent consumer never stalls the
// dispatch loop. Caller must hold c.mu.
func (c *Coordinator) pushUpdateLocked(agentID string, update domain.OrderUpdate) {
	e, ok := c.agents[agentID]
	if !ok || e.updateCh == nil {
		return
	}
	select {
	case e.updateCh <- update:
	default:
		slog.Warn("order update channel full, dropping update", "agent_id", agentID, "intent_id", update.IntentID)
	}
}

func (c *Coordinator) recordHeartbeat(agentID string, status domain.AgentStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.agents[agentID]; ok {
		e.desc.LastHeartbeat = time.Now().UTC()
		e.desc.Status = status
	}
}

// LastHeartbeat satisfies runtime.HeartbeatSource, letting the restart-budget
// supervisor watch every registered agent without owning agent state itself.
func (c *Coordinator) LastHeartbeat(agentID string) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.agents[agentID]
	if !ok {
		return time.Time{}, false
	}
	return e.desc.LastHeartbeat, true
}

// SubmitIntent runs the gate chain (spec.md §4.1 step order is semantically
// meaningful) and enqueues survivors. Never blocks longer than a bounded
// constant: every gate is a pure, lock-held check against in-memory state.
func (c *Coordinator) SubmitIntent(ctx context.Context, intent domain.Intent) (domain.IntentOutcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if outcome, ok := c.gateShutdown(); !ok {
		return outcome, nil
	}
	if outcome, ok := c.gateCircuitBreaker(); !ok {
		return outcome, nil
	}
	if outcome, ok := c.gateGovernance(intent); !ok {
		return outcome, nil
	}
	if outcome, ok := c.gateVenueMinimums(intent); !ok {
		return outcome, nil
	}
	if outcome, ok := c.gateRiskEnvelope(intent); !ok {
		return outcome, nil
	}
	if outcome, ok := c.gateAllocator(intent); !ok {
		return outcome, nil
	}
	if outcome, ok := c.gateDuplicate(intent); !ok {
		return outcome, nil
	}
	intent = c.applyKellyResize(intent)

	heap.Push(c.queue, queuedIntent{intent: intent, enqueuedAt: time.Now().UTC()})
	c.dupWindow[intent.DuplicateKey(domain.DuplicateGuardScope(c.cfg.Duplicate.Scope))] = time.Now().UTC()
	return domain.Accept(), nil
}

// PauseAll transitions Running -> Paused and broadcasts Pause to every agent
// with a command loop. SubmitIntent and the dispatch loop do not check for
// Paused: intents submitted while paused still pass the gate chain and are
// queued, and queued intents keep dispatching.
func (c *Coordinator) PauseAll(ctx context.Context, operator, reason string) error {
	c.mu.Lock()
	if c.lifecycle != domain.LifecycleRunning {
		c.mu.Unlock()
		return coreerr.New(coreerr.Validation, fmt.Sprintf("cannot pause from state %q", c.lifecycle))
	}
	c.lifecycle = domain.LifecyclePaused
	c.mu.Unlock()

	c.broadcastCommand(domain.Command{Kind: domain.CmdPause})
	return c.store.RecordSystemEvent(ctx, "pause_all", "INFO", reason, "", map[string]any{"operator": operator})
}

// ResumeAll transitions Paused -> Running.
func (c *Coordinator) ResumeAll(ctx context.Context, operator, reason string) error {
	c.mu.Lock()
	if c.lifecycle != domain.LifecyclePaused {
		c.mu.Unlock()
		return coreerr.New(coreerr.Validation, fmt.Sprintf("cannot resume from state %q", c.lifecycle))
	}
	c.lifecycle = domain.LifecycleRunning
	c.mu.Unlock()

	c.broadcastCommand(domain.Command{Kind: domain.CmdResume})
	return c.store.RecordSystemEvent(ctx, "resume_all", "INFO", reason, "", map[string]any{"operator": operator})
}

// ForceCloseAll transitions to ForceClose, broadcasts ForceClose to every
// agent with a command loop, attempts a merge for each domain with open
// exposure, and records an emergency_stop event. It submits no exit orders
// itself and does not move on to Stopping: the state stays ForceClose until
// ResetEmergencyStop. SubmitIntent does not check for ForceClose, so new
// intents are still gated and queued. reason classifies why (supplemented
// feature, SPEC_FULL.md §6).
func (c *Coordinator) ForceCloseAll(ctx context.Context, reason domain.EmergencyReason, operator, note string) error {
	c.mu.Lock()
	c.lifecycle = domain.LifecycleForceClose
	c.mu.Unlock()

	c.broadcastCommand(domain.Command{Kind: domain.CmdForceClose})
	c.mergeOpenPositions(ctx)
	return c.store.RecordSystemEvent(ctx, "emergency_stop", "CRITICAL",
		fmt.Sprintf("force close triggered: %s", reason), "",
		map[string]any{"reason": string(reason), "operator": operator, "note": note})
}

// mergeAttempt is the pure-data shape produced under c.mu and consumed by
// tryMerge once the lock is released, so an on-chain RPC call never blocks
// the dispatch loop.
type mergeAttempt struct {
	marketKey string
	shares    uint64
}

// tryMerge recombines a complete YES+NO pair into USDC collateral via the
// configured MergeExecutor, gated by min_merge_profit_usd against the gas
// estimate. marketKey doubles as the on-chain condition ID, matching how
// polymarket's venue adapter already treats it as the opaque market handle.
func (c *Coordinator) tryMerge(ctx context.Context, m mergeAttempt) {
	if c.merge == nil || m.shares == 0 {
		return
	}
	gasCostUSD, err := c.merge.EstimateGasCostUSD(ctx)
	if err != nil {
		slog.Warn("merge: gas estimate failed, skipping merge attempt", "err", err, "market_key", m.marketKey)
		return
	}
	amount := float64(m.shares)
	if amount-gasCostUSD < c.cfg.Executor.MinMergeProfitUSD {
		return
	}
	result, err := c.merge.MergePositions(ctx, m.marketKey, amount, false)
	if err != nil {
		slog.Warn("merge: on-chain merge failed", "err", err, "market_key", m.marketKey)
		return
	}
	slog.Info("merge: recombined matched pair into collateral", "market_key", m.marketKey, "tx_hash", result.TxHash, "amount", amount, "gas_cost_usd", gasCostUSD)
}

// mergeOpenPositions sweeps every domain carrying open exposure and attempts
// a merge, the way ForceClose recombines outstanding hedge pairs back into
// collateral instead of leaving them open across the stop.
func (c *Coordinator) mergeOpenPositions(ctx context.Context) {
	if c.merge == nil {
		return
	}
	c.mu.Lock()
	exposures := make(map[domain.Domain]domain.DomainExposure, len(c.exposures))
	for d, e := range c.exposures {
		exposures[d] = e
	}
	c.mu.Unlock()

	for dom, exp := range exposures {
		if !exp.CurrentExposure.IsPositive() {
			continue
		}
		c.tryMerge(ctx, mergeAttempt{marketKey: string(dom), shares: uint64(exp.CurrentExposure.IntPart())})
	}
}

// ResetEmergencyStop clears a ForceClose triggered by the circuit breaker
// or another automatic cause, requiring an explicit operator action
// (SPEC_FULL.md §6; mirrors EmergencyStopManager::reset).
func (c *Coordinator) ResetEmergencyStop(ctx context.Context, operator string) error {
	c.mu.Lock()
	c.lifecycle = domain.LifecycleRunning
	c.breaker.Reset()
	cb := c.breaker
	risk := c.risk
	c.mu.Unlock()

	// SaveCircuitBreaker only updates an existing risk_runtime_state row; an
	// account that force-closed before its first dispatch never got one, so
	// SaveRiskState's upsert must run first to guarantee it exists.
	if err := c.store.SaveRiskState(ctx, c.accountID, risk); err != nil {
		return coreerr.Wrap(coreerr.PersistenceFailure, "save risk state", err)
	}
	if err := c.store.SaveCircuitBreaker(ctx, c.accountID, cb); err != nil {
		return coreerr.Wrap(coreerr.PersistenceFailure, "save circuit breaker", err)
	}
	return c.store.RecordSystemEvent(ctx, "emergency_stop_reset", "INFO", "emergency stop reset", "", map[string]any{"operator": operator})
}

// SetGovernance persists a new governance policy and swaps it in for
// subsequent intent gating, the way PauseAll/ResumeAll swap lifecycle state.
func (c *Coordinator) SetGovernance(ctx context.Context, policy domain.GovernancePolicy, reason, operator string) error {
	if err := c.store.SaveGovernance(ctx, c.accountID, policy, reason, operator); err != nil {
		return coreerr.Wrap(coreerr.PersistenceFailure, "save governance", err)
	}
	c.mu.Lock()
	c.governance = policy
	c.mu.Unlock()
	return nil
}

// AccountID returns the account this Coordinator instance manages.
func (c *Coordinator) AccountID() string {
	return c.accountID
}

// SendCommand delivers a command to one agent's channel, non-blocking.
func (c *Coordinator) SendCommand(agentID string, cmd domain.Command) error {
	c.mu.Lock()
	e, ok := c.agents[agentID]
	c.mu.Unlock()
	if !ok {
		return coreerr.New(coreerr.Validation, fmt.Sprintf("unknown agent %q", agentID))
	}
	if e.cmdCh == nil {
		return coreerr.New(coreerr.Validation, fmt.Sprintf("agent %q is ingress-only, has no command loop", agentID))
	}
	select {
	case e.cmdCh <- cmd:
		return nil
	default:
		return coreerr.New(coreerr.Timeout, fmt.Sprintf("command channel for %q is full", agentID))
	}
}

// HealthCheck round-trips a health request on the agent's command channel
// with a bounded timeout.
func (c *Coordinator) HealthCheck(ctx context.Context, agentID string) (domain.AgentHealthResponse, error) {
	c.mu.Lock()
	e, ok := c.agents[agentID]
	c.mu.Unlock()
	if !ok {
		return domain.AgentHealthResponse{}, coreerr.New(coreerr.Validation, fmt.Sprintf("unknown agent %q", agentID))
	}
	if e.cmdCh == nil {
		return domain.AgentHealthResponse{
			AgentID:       e.desc.AgentID,
			Status:        e.desc.Status,
			LastHeartbeat: e.desc.LastHeartbeat,
		}, nil
	}

	reply := make(chan domain.AgentHealthResponse, 1)
	select {
	case e.cmdCh <- domain.Command{Kind: domain.CmdHealthCheck, ReplyTo: reply}:
	case <-time.After(healthCheckTimeout):
		return domain.AgentHealthResponse{}, coreerr.New(coreerr.Timeout, "health check command channel full")
	}

	select {
	case resp := <-reply:
		return resp, nil
	case <-time.After(healthCheckTimeout):
		return domain.AgentHealthResponse{}, coreerr.New(coreerr.Timeout, "agent did not reply to health check")
	case <-ctx.Done():
		return domain.AgentHealthResponse{}, ctx.Err()
	}
}

func (c *Coordinator) broadcastCommand(cmd domain.Command) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.agents {
		if e.cmdCh == nil {
			continue
		}
		select {
		case e.cmdCh <- cmd:
		default:
			slog.Warn("command channel full, skipping agent", "agent_id", e.desc.AgentID, "cmd", cmd.Kind)
		}
	}
}

// Snapshot returns a read-only view of global state for the admin/report surface.
func (c *Coordinator) Snapshot() domain.GlobalState {
	c.mu.Lock()
	defer c.mu.Unlock()

	agents := make(map[string]domain.AgentSnapshot, len(c.agents))
	for id, e := range c.agents {
		agents[id] = domain.AgentSnapshot{
			AgentID:         id,
			Domain:          e.desc.Domain,
			Status:          e.desc.Status,
			OrdersSubmitted: e.desc.OrdersSubmitted,
			OrdersFilled:    e.desc.OrdersFilled,
			LastHeartbeat:   e.desc.LastHeartbeat,
		}
	}
	exposures := make(map[domain.Domain]domain.DomainExposure, len(c.exposures))
	for d, e := range c.exposures {
		exposures[d] = e
	}

	gs := domain.GlobalState{
		Lifecycle:       c.lifecycle,
		Agents:          agents,
		DomainExposures: exposures,
		RiskState:       c.risk.RiskState,
		Queue:           domain.QueueStats{Pending: c.queue.Len()},
		LastRefresh:     time.Now().UTC(),
	}
	return gs.Snapshot()
}
