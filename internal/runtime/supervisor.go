// Package runtime implements the Agent Runtime contract: the shape a
// strategy agent is registered, driven, and watched under — and the
// supervisor/watchdog that detects stale heartbeats and restarts a failed
// agent's loop under a bounded budget.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Config governs the supervisor's staleness and restart-budget thresholds.
type Config struct {
	HeartbeatStaleWarnCooldown time.Duration
	MaxRestartAttempts         int
	RestartDelay               time.Duration
	SweepInterval              time.Duration
}

// DefaultConfig returns sane defaults grounded on
// src/coordination/lifecycle.rs's LifecycleConfig.
func DefaultConfig() Config {
	return Config{
		HeartbeatStaleWarnCooldown: 30 * time.Second,
		MaxRestartAttempts:         3,
		RestartDelay:               time.Second,
		SweepInterval:              5 * time.Second,
	}
}

// AgentLoop is the function a Supervisor runs (and restarts) per agent.
// It must return when ctx is cancelled or its command channel yields
// CmdShutdown.
type AgentLoop func(ctx context.Context) error

type watchedAgent struct {
	agentID       string
	loop          AgentLoop
	lastHeartbeat time.Time
	restartCount  int
	degraded      bool
	cancel        context.CancelFunc
}

// HeartbeatSource reports the last-known heartbeat time for an agent; the
// Coordinator's registry satisfies this.
type HeartbeatSource interface {
	LastHeartbeat(agentID string) (time.Time, bool)
}

// Supervisor watches registered agent loops for staleness and unexpected
// exit, restarting under a bounded attempt budget (spec.md §4.3;
// src/coordination/lifecycle.rs's record_restart/can_restart).
type Supervisor struct {
	cfg     Config
	hb      HeartbeatSource
	mu      sync.Mutex
	agents  map[string]*watchedAgent
}

// New constructs a Supervisor.
func New(cfg Config, hb HeartbeatSource) *Supervisor {
	return &Supervisor{cfg: cfg, hb: hb, agents: make(map[string]*watchedAgent)}
}

// Watch registers loop under agentID and starts it. The supervisor restarts
// it on unexpected return, up to cfg.MaxRestartAttempts, with the same
// agentID (and therefore the same command-channel identity upstream).
func (s *Supervisor) Watch(ctx context.Context, agentID string, loop AgentLoop) {
	s.mu.Lock()
	defer s.mu.Unlock()

	loopCtx, cancel := context.WithCancel(ctx)
	w := &watchedAgent{agentID: agentID, loop: loop, lastHeartbeat: time.Now().UTC(), cancel: cancel}
	s.agents[agentID] = w
	go s.runLoop(loopCtx, w)
}

func (s *Supervisor) runLoop(ctx context.Context, w *watchedAgent) {
	for {
		err := func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("agent loop panicked", "agent_id", w.agentID, "panic", r)
					err = fmt.Errorf("agent loop panicked: %v", r)
				}
			}()
			return w.loop(ctx)
		}()

		if ctx.Err() != nil {
			return // context cancelled: graceful stop, not a failure
		}
		if err == nil {
			return // loop returned cleanly on its own terms
		}

		s.mu.Lock()
		w.restartCount++
		canRestart := w.restartCount <= s.cfg.MaxRestartAttempts
		s.mu.Unlock()

		if !canRestart {
			slog.Error("agent exceeded restart budget, giving up", "agent_id", w.agentID, "err", err, "attempts", w.restartCount)
			return
		}

		slog.Warn("agent loop exited unexpectedly, restarting", "agent_id", w.agentID, "err", err, "attempt", w.restartCount)
		select {
		case <-time.After(s.cfg.RestartDelay):
		case <-ctx.Done():
			return
		}
	}
}

// StopAll cancels every watched agent's loop context.
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range s.agents {
		w.cancel()
	}
}

// Sweep runs one staleness pass: any agent whose last heartbeat is older
// than HeartbeatStaleWarnCooldown is marked Degraded (observability only —
// never a rejection trigger).
func (s *Supervisor) Sweep() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	var degraded []string
	for id, w := range s.agents {
		last, ok := s.hb.LastHeartbeat(id)
		if !ok {
			continue
		}
		w.lastHeartbeat = last
		stale := now.Sub(last) > s.cfg.HeartbeatStaleWarnCooldown
		if stale && !w.degraded {
			w.degraded = true
			degraded = append(degraded, id)
		} else if !stale && w.degraded {
			w.degraded = false
		}
	}
	return degraded
}

// Run periodically sweeps for staleness until ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if degraded := s.Sweep(); len(degraded) > 0 {
				slog.Warn("agents marked degraded: stale heartbeat", "agent_ids", degraded)
			}
		}
	}
}
