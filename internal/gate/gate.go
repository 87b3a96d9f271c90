// Package gate implements the Deployment Gate: the registry of deployment
// records that decides, for a given (account, strategy, domain), whether an
// agent is allowed to run at all, and aggregates every enabled deployment
// into the per-domain/per-family PlatformBootstrapConfig the runtime wires
// agents from.
package gate

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/alejandrodnm/coordinator-core/internal/config"
	"github.com/alejandrodnm/coordinator-core/internal/coreerr"
	"github.com/alejandrodnm/coordinator-core/internal/domain"
	"github.com/alejandrodnm/coordinator-core/internal/ports"
)

// Gate holds the in-memory deployment registry, refreshed from the store on
// load and re-checked for evidence freshness on a cron sweep. It satisfies
// coordinator.DeploymentLookup.
type Gate struct {
	store ports.Store
	cfg   config.GateConfig

	mu          sync.RWMutex
	deployments map[string]domain.Deployment
	enabled     map[string]bool // deploymentID -> currently eligible to run

	cron *cron.Cron
}

// New constructs a Gate. Call Load before use.
func New(store ports.Store, cfg config.GateConfig) *Gate {
	return &Gate{
		store:       store,
		cfg:         cfg,
		deployments: make(map[string]domain.Deployment),
		enabled:     make(map[string]bool),
	}
}

// Load reads every deployment from the store and evaluates eligibility.
func (g *Gate) Load(ctx context.Context) error {
	deployments, err := g.store.LoadDeployments(ctx)
	if err != nil {
		return coreerr.Wrap(coreerr.PersistenceFailure, "load deployments", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.deployments = make(map[string]domain.Deployment, len(deployments))
	for _, d := range deployments {
		g.deployments[d.ID] = d
	}
	g.recomputeLocked(ctx)
	return nil
}

// IsEnabled reports whether deploymentID is currently eligible to dispatch
// an order. Implements coordinator.DeploymentLookup.
func (g *Gate) IsEnabled(deploymentID string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.enabled[deploymentID]
}

// Matches returns every deployment eligible for accountID under dryRun,
// regardless of evidence freshness — used to decide which agents to start.
func (g *Gate) Matches(accountID string, dryRun bool) []domain.Deployment {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []domain.Deployment
	for _, d := range g.deployments {
		if d.Enabled && d.MatchesAccount(accountID) && d.MatchesExecutionMode(dryRun) {
			out = append(out, d)
		}
	}
	return out
}

// Bootstrap aggregates every enabled, evidence-fresh deployment into a
// PlatformBootstrapConfig, per spec.md's deployment-gate aggregation step.
func (g *Gate) Bootstrap() *domain.PlatformBootstrapConfig {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := domain.NewPlatformBootstrapConfig()
	for id, d := range g.deployments {
		if !d.Enabled || !g.enabled[id] {
			continue
		}
		out.EnabledDomains[d.Domain] = true

		fam := out.StrategyFamilies[d.Strategy]
		if fam.Coins == nil {
			fam.Coins = make(map[string]bool)
			fam.Horizons = make(map[string]bool)
			fam.Markets = make(map[string]bool)
		}
		switch d.MarketSelector.Kind {
		case domain.SelectorStatic:
			if d.MarketSelector.Symbol != "" {
				fam.Coins[d.MarketSelector.Symbol] = true
			}
			if d.MarketSelector.MarketSlug != "" {
				fam.Markets[d.MarketSelector.MarketSlug] = true
			}
		case domain.SelectorDynamic:
			fam.Markets[d.MarketSelector.Query] = true
		}
		if d.Timeframe != "" {
			fam.Horizons[d.Timeframe] = true
		}
		out.StrategyFamilies[d.Strategy] = fam
	}
	return out
}

// recomputeLocked re-evaluates each deployment's evidence-freshness
// eligibility. Caller must hold g.mu for writing.
func (g *Gate) recomputeLocked(ctx context.Context) {
	now := time.Now().UTC()
	for id, d := range g.deployments {
		if !d.Enabled {
			g.enabled[id] = false
			continue
		}
		if !g.cfg.RequireEvidence {
			g.enabled[id] = true
			continue
		}
		g.enabled[id] = g.hasRequiredEvidence(ctx, d, now)
	}
}

func (g *Gate) hasRequiredEvidence(ctx context.Context, d domain.Deployment, now time.Time) bool {
	return g.missingEvidenceStage(ctx, d, now) == ""
}

// missingEvidenceStage returns the first required stage missing fresh,
// passing evidence for d, or "" if every required stage is satisfied.
// d is a value copy, so this needs no lock of its own.
func (g *Gate) missingEvidenceStage(ctx context.Context, d domain.Deployment, now time.Time) domain.EvaluationStage {
	stages := make([]domain.EvaluationStage, 0, len(g.cfg.RequiredStages))
	for _, s := range g.cfg.RequiredStages {
		stages = append(stages, domain.EvaluationStage(s))
	}
	if len(stages) == 0 {
		return ""
	}

	for _, accountID := range g.accountsForLocked(d) {
		records, err := g.store.LatestEvaluations(ctx, accountID, d.Strategy, stages)
		if err != nil {
			slog.Error("evidence lookup failed, treating deployment as not fresh", "deployment_id", d.ID, "err", err)
			return stages[0]
		}
		seen := make(map[domain.EvaluationStage]bool, len(records))
		for _, rec := range records {
			if rec.Fresh(now, g.cfg.MaxEvidenceAge()) {
				seen[rec.Stage] = true
			}
		}
		for _, stage := range stages {
			if !seen[stage] {
				return stage
			}
		}
	}
	return ""
}

func (g *Gate) accountsForLocked(d domain.Deployment) []string {
	if len(d.AccountIDs) > 0 {
		return d.AccountIDs
	}
	return []string{""} // evidence recorded against the platform-wide account
}

// Put upserts deployments (merge=false replaces the whole set) and refreshes
// eligibility.
func (g *Gate) Put(ctx context.Context, merge bool, deployments []domain.Deployment) error {
	if err := g.store.PutDeployments(ctx, merge, deployments); err != nil {
		return coreerr.Wrap(coreerr.PersistenceFailure, "put deployments", err)
	}
	return g.Load(ctx)
}

// SetEnabled flips one deployment's enabled flag (operator action) and
// refreshes eligibility. Enabling a deployment under RequireEvidence is
// rejected synchronously with UnprocessableEntity, naming the missing
// stage, rather than silently accepted and left ineligible by
// recomputeLocked.
func (g *Gate) SetEnabled(ctx context.Context, deploymentID string, enabled bool) error {
	if enabled {
		g.mu.RLock()
		d, ok := g.deployments[deploymentID]
		requireEvidence := g.cfg.RequireEvidence
		g.mu.RUnlock()
		if !ok {
			return coreerr.New(coreerr.Validation, fmt.Sprintf("unknown deployment %q", deploymentID))
		}
		if requireEvidence {
			if missing := g.missingEvidenceStage(ctx, d, time.Now().UTC()); missing != "" {
				return coreerr.New(coreerr.UnprocessableEntity, fmt.Sprintf("missing %s evidence", missing))
			}
		}
	}
	if err := g.store.SetDeploymentEnabled(ctx, deploymentID, enabled); err != nil {
		return coreerr.Wrap(coreerr.PersistenceFailure, "set deployment enabled", err)
	}
	return g.Load(ctx)
}

// StartFreshnessSweep runs a cron job at cfg.FreshnessSweepInterval to
// re-check evidence freshness without requiring a fresh Load — a deployment
// can flip from eligible to ineligible as evidence ages out, even with no
// write against the deployments table.
func (g *Gate) StartFreshnessSweep(ctx context.Context) {
	g.cron = cron.New()
	spec := "@every " + g.cfg.FreshnessSweepInterval().String()
	_, err := g.cron.AddFunc(spec, func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		g.recomputeLocked(ctx)
	})
	if err != nil {
		slog.Error("failed to schedule evidence freshness sweep", "err", err, "spec", spec)
		return
	}
	g.cron.Start()
}

// StopFreshnessSweep stops the cron scheduler, if running.
func (g *Gate) StopFreshnessSweep() {
	if g.cron != nil {
		g.cron.Stop()
	}
}
