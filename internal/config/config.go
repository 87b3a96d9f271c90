package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the coordinator's full runtime configuration.
type Config struct {
	Accounts   []AccountConfig  `yaml:"accounts"`
	Risk       RiskConfig       `yaml:"risk"`
	Duplicate  DuplicateConfig  `yaml:"duplicate_guard"`
	Allocator  AllocatorConfig  `yaml:"allocator"`
	Governance GovernanceConfig `yaml:"governance"`
	Executor   ExecutorConfig   `yaml:"executor"`
	Gate       GateConfig       `yaml:"deployment_gate"`
	API        APIConfig        `yaml:"api"`
	Storage    StorageConfig    `yaml:"storage"`
	Log        LogConfig        `yaml:"log"`
	Shutdown   ShutdownConfig   `yaml:"shutdown"`
}

// ShutdownConfig governs the graceful-shutdown drain sequence.
type ShutdownConfig struct {
	DrainTimeoutSecs int `yaml:"order_drain_timeout_secs"`
}

// AccountConfig names one trading account the Coordinator manages.
type AccountConfig struct {
	ID              string   `yaml:"id"`
	AllowedDomains  []string `yaml:"allowed_domains"`
	ExecutionMode   string   `yaml:"execution_mode"` // dry_run_only | live_only | any
	DryRun          bool     `yaml:"dry_run"`
}

// RiskConfig governs gate step 5 (spec.md §4.1).
type RiskConfig struct {
	MaxPlatformExposureUSD float64              `yaml:"max_platform_exposure_usd"`
	DailyLossLimitUSD      float64              `yaml:"daily_loss_limit_usd"`
	MaxDrawdownLimitUSD    float64              `yaml:"max_drawdown_limit_usd"`
	MaxConsecutiveFailures int                  `yaml:"max_consecutive_failures"`
	CircuitBreakerCooldownSecs int              `yaml:"circuit_breaker_cooldown_secs"`
	CircuitBreakerAutoRecover  bool             `yaml:"circuit_breaker_auto_recover"`
	PerDomain              map[string]DomainRisk `yaml:"per_domain"`
}

// DomainRisk is a per-domain override of the platform risk envelope.
type DomainRisk struct {
	MaxExposureUSD    float64 `yaml:"max_exposure_usd"`
	DailyLossLimitUSD float64 `yaml:"daily_loss_limit_usd"`
}

// DuplicateConfig governs gate step 7.
type DuplicateConfig struct {
	Enabled  bool   `yaml:"enabled"`
	WindowMS int64  `yaml:"window_ms"`
	Scope    string `yaml:"scope"` // market | deployment
}

// AllocatorConfig governs gate step 6.
type AllocatorConfig struct {
	Enabled              bool               `yaml:"enabled"`
	CryptoTotalCapUSD    float64            `yaml:"crypto_allocator_total_cap_usd"`
	CryptoCoinCapPct     map[string]float64 `yaml:"crypto_coin_cap_pct"`
	CryptoHorizonCapPct  map[string]float64 `yaml:"crypto_horizon_cap_pct"`
	DomainMarketCapPct   map[string]float64 `yaml:"domain_market_cap_pct"`
	AutoSplitActiveMarkets bool             `yaml:"auto_split_active_markets"`
}

// GovernanceConfig seeds the initial GovernancePolicy for every account.
type GovernanceConfig struct {
	BlockNewIntents      bool     `yaml:"block_new_intents"`
	BlockedDomains       []string `yaml:"blocked_domains"`
	MaxIntentNotionalUSD float64  `yaml:"max_intent_notional_usd"`
	MaxTotalNotionalUSD  float64  `yaml:"max_total_notional_usd"`
}

// ExecutorConfig governs venue minimums (gate step 4), retries, and Kelly sizing.
type ExecutorConfig struct {
	MinOrderShares      uint64  `yaml:"min_order_shares"`
	MinOrderNotionalUSD float64 `yaml:"min_order_notional_usd"`
	MaxRetries          int     `yaml:"max_retries"`
	RetryBaseDelayMS    int64   `yaml:"retry_base_delay_ms"`
	IdempotencyLeaseSecs int64  `yaml:"idempotency_lease_secs"`

	KellySizingEnabled     bool    `yaml:"kelly_sizing_enabled"`
	KellyMinEdge           float64 `yaml:"kelly_min_edge"`
	KellyFractionMultiplier float64 `yaml:"kelly_fraction_multiplier"`
	KellyMinShares         uint64  `yaml:"kelly_min_shares"`

	MinMergeProfitUSD float64 `yaml:"min_merge_profit_usd"`

	ExchangeRateLimitPerSec float64 `yaml:"exchange_rate_limit_per_sec"`
	ExchangeRateBurst       int     `yaml:"exchange_rate_burst"`
}

// GateConfig governs Deployment Gate evidence rules.
type GateConfig struct {
	RequireEvidence    bool     `yaml:"require_evidence"`
	RequiredStages     []string `yaml:"required_stages"`
	MaxEvidenceAgeHours int     `yaml:"max_evidence_age_hours"`
	FreshnessSweepSecs  int     `yaml:"freshness_sweep_secs"`
}

// APIConfig names the exchange endpoints the polymarket adapter targets.
type APIConfig struct {
	CLOBBase      string `yaml:"clob_base"`
	GammaBase     string `yaml:"gamma_base"`
	RPCURL        string `yaml:"rpc_url"`
	PrivateKeyEnv string `yaml:"private_key_env"` // name of the env var holding the signing key, never the key itself
}

// StorageConfig controls where the SQLite database lives.
type StorageConfig struct {
	DSN string `yaml:"dsn"`
}

// LogConfig controls slog's level and handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads the YAML config at path, applies .env overrides, and fills
// defaults for anything left unset.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("STORAGE_DSN"); v != "" {
		cfg.Storage.DSN = v
	}
	if v := os.Getenv("CLOB_BASE"); v != "" {
		cfg.API.CLOBBase = v
	}
	if v := os.Getenv("RPC_URL"); v != "" {
		cfg.API.RPCURL = v
	}
}

func setDefaults(cfg *Config) {
	if cfg.Risk.MaxConsecutiveFailures <= 0 {
		cfg.Risk.MaxConsecutiveFailures = 5
	}
	if cfg.Risk.CircuitBreakerCooldownSecs <= 0 {
		cfg.Risk.CircuitBreakerCooldownSecs = 300
	}
	if cfg.Duplicate.WindowMS <= 0 {
		cfg.Duplicate.WindowMS = 2000
	}
	if cfg.Duplicate.Scope == "" {
		cfg.Duplicate.Scope = "market"
	}
	if cfg.Executor.MaxRetries <= 0 {
		cfg.Executor.MaxRetries = 3
	}
	if cfg.Executor.RetryBaseDelayMS <= 0 {
		cfg.Executor.RetryBaseDelayMS = 250
	}
	if cfg.Executor.IdempotencyLeaseSecs <= 0 {
		cfg.Executor.IdempotencyLeaseSecs = 60
	}
	if cfg.Executor.ExchangeRateLimitPerSec <= 0 {
		cfg.Executor.ExchangeRateLimitPerSec = 5
	}
	if cfg.Executor.ExchangeRateBurst <= 0 {
		cfg.Executor.ExchangeRateBurst = 10
	}
	if cfg.Gate.MaxEvidenceAgeHours <= 0 {
		cfg.Gate.MaxEvidenceAgeHours = 72
	}
	if cfg.Gate.FreshnessSweepSecs <= 0 {
		cfg.Gate.FreshnessSweepSecs = 60
	}
	if cfg.Shutdown.DrainTimeoutSecs <= 0 {
		cfg.Shutdown.DrainTimeoutSecs = 30
	}
	if cfg.API.CLOBBase == "" {
		cfg.API.CLOBBase = "https://clob.polymarket.com"
	}
	if cfg.API.GammaBase == "" {
		cfg.API.GammaBase = "https://gamma-api.polymarket.com"
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "coordinator.db"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}

// IdempotencyLease returns the idempotency lease window as a Duration.
func (c ExecutorConfig) IdempotencyLease() time.Duration {
	return time.Duration(c.IdempotencyLeaseSecs) * time.Second
}

// RetryBaseDelay returns the executor's retry backoff base as a Duration.
func (c ExecutorConfig) RetryBaseDelay() time.Duration {
	return time.Duration(c.RetryBaseDelayMS) * time.Millisecond
}

// CooldownDuration returns the circuit breaker cooldown as a Duration.
func (c RiskConfig) CooldownDuration() time.Duration {
	return time.Duration(c.CircuitBreakerCooldownSecs) * time.Second
}

// MaxEvidenceAge returns the gate's evidence freshness window as a Duration.
func (c GateConfig) MaxEvidenceAge() time.Duration {
	return time.Duration(c.MaxEvidenceAgeHours) * time.Hour
}

// FreshnessSweepInterval returns the gate's evidence-freshness sweep cadence.
func (c GateConfig) FreshnessSweepInterval() time.Duration {
	return time.Duration(c.FreshnessSweepSecs) * time.Second
}

// DrainTimeout returns how long the dispatch loop waits for the queue to
// empty on shutdown before cancelling whatever remains.
func (c ShutdownConfig) DrainTimeout() time.Duration {
	return time.Duration(c.DrainTimeoutSecs) * time.Second
}
