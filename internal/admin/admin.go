// Package admin assembles the in-process control surface (spec.md §6) over
// the per-account Coordinators and the shared Deployment Gate. Nothing in
// this module serves it over a network; an out-of-scope HTTP/CLI layer
// would hold a Handle and call straight through.
package admin

import (
	"context"
	"fmt"
	"time"

	"github.com/alejandrodnm/coordinator-core/internal/coordinator"
	"github.com/alejandrodnm/coordinator-core/internal/coreerr"
	"github.com/alejandrodnm/coordinator-core/internal/domain"
	"github.com/alejandrodnm/coordinator-core/internal/gate"
	"github.com/alejandrodnm/coordinator-core/internal/ports"
)

// feedHealth is the narrow liveness probe a concrete feed adapter may
// satisfy; SystemStatus degrades gracefully when it doesn't.
type feedHealth interface {
	Healthy() bool
}

// Handle implements ports.AdminHandle over every account's Coordinator plus
// the shared Gate and Store.
type Handle struct {
	store     ports.Store
	gate      *gate.Gate
	feed      ports.FeedPort
	coords    map[string]*coordinator.Coordinator
	startedAt time.Time
}

// New builds a Handle. feed may be nil; DataFeedConnected then reports false.
func New(store ports.Store, g *gate.Gate, feed ports.FeedPort, coords []*coordinator.Coordinator) *Handle {
	byAccount := make(map[string]*coordinator.Coordinator, len(coords))
	for _, c := range coords {
		byAccount[c.AccountID()] = c
	}
	return &Handle{store: store, gate: g, feed: feed, coords: byAccount, startedAt: time.Now().UTC()}
}

// PauseAll pauses every managed account's Coordinator.
func (h *Handle) PauseAll(ctx context.Context, operator, reason string) error {
	for accountID, c := range h.coords {
		if err := c.PauseAll(ctx, operator, reason); err != nil {
			return fmt.Errorf("pause account %s: %w", accountID, err)
		}
	}
	return nil
}

// ResumeAll resumes every managed account's Coordinator.
func (h *Handle) ResumeAll(ctx context.Context, operator, reason string) error {
	for accountID, c := range h.coords {
		if err := c.ResumeAll(ctx, operator, reason); err != nil {
			return fmt.Errorf("resume account %s: %w", accountID, err)
		}
	}
	return nil
}

// ForceCloseAll force-closes every managed account's Coordinator.
func (h *Handle) ForceCloseAll(ctx context.Context, reason domain.EmergencyReason, operator, note string) error {
	for accountID, c := range h.coords {
		if err := c.ForceCloseAll(ctx, reason, operator, note); err != nil {
			return fmt.Errorf("force close account %s: %w", accountID, err)
		}
	}
	return nil
}

// ResetEmergencyStop clears the named account's ForceClose state and resets
// its circuit breaker — the explicit operator escape hatch SPEC_FULL.md §6
// requires when auto_recover is off.
func (h *Handle) ResetEmergencyStop(ctx context.Context, accountID, operator string) error {
	c, ok := h.coords[accountID]
	if !ok {
		return coreerr.New(coreerr.Validation, fmt.Sprintf("unknown account %q", accountID))
	}
	return c.ResetEmergencyStop(ctx, operator)
}

// SetGovernance updates the named account's governance policy.
func (h *Handle) SetGovernance(ctx context.Context, accountID string, policy domain.GovernancePolicy, reason, operator string) error {
	c, ok := h.coords[accountID]
	if !ok {
		return coreerr.New(coreerr.Validation, fmt.Sprintf("unknown account %q", accountID))
	}
	return c.SetGovernance(ctx, policy, reason, operator)
}

// PutDeployments upserts (or replaces) the platform deployment set.
func (h *Handle) PutDeployments(ctx context.Context, merge bool, deployments []domain.Deployment) error {
	return h.gate.Put(ctx, merge, deployments)
}

// EnableDeployment flips one deployment's enabled flag on.
func (h *Handle) EnableDeployment(ctx context.Context, deploymentID string) error {
	return h.gate.SetEnabled(ctx, deploymentID, true)
}

// DisableDeployment flips one deployment's enabled flag off.
func (h *Handle) DisableDeployment(ctx context.Context, deploymentID string) error {
	return h.gate.SetEnabled(ctx, deploymentID, false)
}

// HealthCheck assembles a platform-wide liveness snapshot: DB reachability
// (a cheap system_events count), data-feed freshness, trailing error
// volume, and whether an emergency stop is active: the latest emergency_stop
// system event has no later emergency_stop_reset event. It reads the event
// log, not any Coordinator's lifecycle state.
func (h *Handle) HealthCheck(ctx context.Context) (domain.SystemStatus, error) {
	since := time.Now().Add(-time.Hour)
	errCount, err := h.store.CountSystemEvents(ctx, []string{"ERROR", "CRITICAL"}, since)
	dbConnected := err == nil

	dataFeedConnected := false
	if fh, ok := h.feed.(feedHealth); ok {
		dataFeedConnected = fh.Healthy()
	}

	lifecycle := domain.LifecycleRunning
	emergencyStop := false
	stopEvent, found, serr := h.store.LatestSystemEvent(ctx, "emergency_stop")
	if serr == nil && found {
		resetEvent, resetFound, rerr := h.store.LatestSystemEvent(ctx, "emergency_stop_reset")
		if rerr == nil && (!resetFound || resetEvent.CreatedAt.Before(stopEvent.CreatedAt)) {
			emergencyStop = true
			lifecycle = domain.LifecycleForceClose
		}
	}

	var lastTradeAt *time.Time
	if t, found, lerr := h.store.LatestExecutionAt(ctx); lerr == nil && found {
		lastTradeAt = &t
	}

	return domain.SystemStatus{
		LifecycleState:      lifecycle,
		UptimeSeconds:       int64(time.Since(h.startedAt).Seconds()),
		DBConnected:         dbConnected,
		DataFeedConnected:   dataFeedConnected,
		ErrorCount1h:        errCount,
		LastTradeAt:         lastTradeAt,
		EmergencyStopActive: emergencyStop,
	}, nil
}

// DailyStats returns the named account's rolling-day execution rollup.
func (h *Handle) DailyStats(ctx context.Context, accountID string) (domain.DailyStats, error) {
	since := startOfUTCDay(time.Now())
	return h.store.DailyStats(ctx, accountID, since)
}

func startOfUTCDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
