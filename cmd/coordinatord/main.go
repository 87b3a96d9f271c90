// Command coordinatord runs the Coordinator platform: one dispatch loop per
// configured account, a shared Polymarket exchange adapter, the Deployment
// Gate, and the restart-budget supervisor over registered agents.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/alejandrodnm/coordinator-core/internal/admin"
	"github.com/alejandrodnm/coordinator-core/internal/config"
	"github.com/alejandrodnm/coordinator-core/internal/coordinator"
	"github.com/alejandrodnm/coordinator-core/internal/executor"
	"github.com/alejandrodnm/coordinator-core/internal/gate"
	"github.com/alejandrodnm/coordinator-core/internal/persistence"
	"github.com/alejandrodnm/coordinator-core/internal/polymarket"
	"github.com/alejandrodnm/coordinator-core/internal/ports"
	"github.com/alejandrodnm/coordinator-core/internal/report"
	"github.com/alejandrodnm/coordinator-core/internal/runtime"
)

// statusReportInterval is how often coordinatord prints a health/stats
// snapshot to stdout via the admin report handle.
const statusReportInterval = 5 * time.Minute

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}
	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	setupLogger(cfg.Log)

	slog.Info("coordinatord starting", "config", *configPath, "accounts", len(cfg.Accounts))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := persistence.Open(cfg.Storage.DSN)
	if err != nil {
		slog.Error("failed to open storage", "err", err, "dsn", cfg.Storage.DSN)
		os.Exit(1)
	}
	defer store.Close()

	if err := store.Bootstrap(ctx); err != nil {
		slog.Error("failed to bootstrap schema", "err", err)
		os.Exit(1)
	}

	exchange, merger, err := buildExchangeAdapters(cfg)
	if err != nil {
		slog.Error("failed to build exchange adapters", "err", err)
		os.Exit(1)
	}
	if err := merger.EnsureApprovals(ctx); err != nil {
		slog.Warn("merge executor: token approvals not confirmed, on-chain merges may fail", "err", err)
	}

	deploymentGate := gate.New(store, cfg.Gate)
	if err := deploymentGate.Load(ctx); err != nil {
		slog.Error("failed to load deployments", "err", err)
		os.Exit(1)
	}
	deploymentGate.StartFreshnessSweep(ctx)
	defer deploymentGate.StopFreshnessSweep()

	if len(cfg.Accounts) == 0 {
		slog.Error("no accounts configured, nothing to run")
		os.Exit(1)
	}

	var wg sync.WaitGroup
	coords := make([]*coordinator.Coordinator, 0, len(cfg.Accounts))
	for _, acct := range cfg.Accounts {
		coord := coordinator.New(acct.ID, *cfg, store, exchange, merger, deploymentGate)
		if err := coord.Bootstrap(ctx); err != nil {
			slog.Error("failed to bootstrap coordinator", "account_id", acct.ID, "err", err)
			os.Exit(1)
		}
		coords = append(coords, coord)

		exec := executor.New(store, exchange, cfg.Executor)
		sup := runtime.New(runtime.DefaultConfig(), coord)
		go sup.Run(ctx)

		wg.Add(1)
		go func(c *coordinator.Coordinator, accountID string) {
			defer wg.Done()
			if err := c.Run(ctx, exec); err != nil && ctx.Err() == nil {
				slog.Error("coordinator dispatch loop exited with error", "account_id", accountID, "err", err)
			}
		}(coord, acct.ID)
	}

	adminHandle := admin.New(store, deploymentGate, nil, coords)
	go runStatusReports(ctx, adminHandle, cfg.Accounts)

	<-ctx.Done()
	slog.Info("shutdown signal received, draining in-flight intents", "drain_timeout", cfg.Shutdown.DrainTimeout())
	for _, coord := range coords {
		coord.Shutdown()
	}
	for _, coord := range coords {
		<-coord.Done()
	}
	wg.Wait()
	slog.Info("coordinatord stopped cleanly")
}

func buildExchangeAdapters(cfg config.Config) (ports.ExchangePort, ports.MergeExecutor, error) {
	privateKey := os.Getenv(cfg.API.PrivateKeyEnv)
	if privateKey == "" {
		return nil, nil, fmt.Errorf("private key env var %q is empty", cfg.API.PrivateKeyEnv)
	}

	auth, err := polymarket.NewAuthClient(cfg.API.CLOBBase, cfg.API.GammaBase, privateKey,
		cfg.Executor.ExchangeRateLimitPerSec, cfg.Executor.ExchangeRateBurst)
	if err != nil {
		return nil, nil, fmt.Errorf("auth client: %w", err)
	}

	exchange := polymarket.NewExchange(auth)

	merger, err := polymarket.NewMerger(auth, cfg.API.RPCURL)
	if err != nil {
		return nil, nil, fmt.Errorf("merge adapter: %w", err)
	}

	return exchange, merger, nil
}

// runStatusReports prints a health snapshot and per-account daily stats
// table to stdout on a fixed cadence, the way the scanner printed a scan
// summary on every poll tick.
func runStatusReports(ctx context.Context, h *admin.Handle, accounts []config.AccountConfig) {
	console := report.NewConsole()
	ticker := time.NewTicker(statusReportInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			status, err := h.HealthCheck(ctx)
			if err != nil {
				slog.Warn("status report: health check failed", "err", err)
				continue
			}
			console.PrintStatus(status)

			for _, acct := range accounts {
				stats, err := h.DailyStats(ctx, acct.ID)
				if err != nil {
					slog.Warn("status report: daily stats failed", "account_id", acct.ID, "err", err)
					continue
				}
				console.PrintDailyStats(stats)
			}
		}
	}
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
