package coordinator

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/coordinator-core/internal/domain"
)

// Gate chain (spec.md §4.1): order is semantically meaningful, never
// reorder. Each gate returns (outcome, true) to continue, or
// (rejectionOutcome, false) to stop. Callers hold c.mu for the duration.

func (c *Coordinator) gateShutdown() (domain.IntentOutcome, bool) {
	if c.lifecycle == domain.LifecycleStopped || c.lifecycle == domain.LifecycleStopping {
		return domain.Reject(domain.ReasonShutdownInProgress, "coordinator is shutting down"), false
	}
	return domain.IntentOutcome{}, true
}

func (c *Coordinator) gateCircuitBreaker() (domain.IntentOutcome, bool) {
	if c.breaker.IsOpen() {
		return domain.IntentOutcome{}, true
	}
	return domain.Reject(domain.ReasonCircuitBreaker, "circuit breaker tripped: "+c.breaker.TrippedReason), false
}

func (c *Coordinator) gateGovernance(intent domain.Intent) (domain.IntentOutcome, bool) {
	if c.governance.BlockNewIntents {
		return domain.Reject(domain.ReasonGovernanceBlocked, "governance: block_new_intents is set"), false
	}
	if c.governance.IsDomainBlocked(intent.Domain) {
		return domain.Reject(domain.ReasonGovernanceBlocked, "governance: domain is blocked"), false
	}
	notional := intent.Notional()
	if c.governance.MaxIntentNotionalUSD.IsPositive() && notional.GreaterThan(c.governance.MaxIntentNotionalUSD) {
		return domain.Reject(domain.ReasonGovernanceBlocked, "governance: intent exceeds max_intent_notional_usd"), false
	}
	if c.governance.MaxTotalNotionalUSD.IsPositive() {
		total := decimal.Zero
		for _, exp := range c.exposures {
			total = total.Add(exp.CurrentExposure)
		}
		if total.Add(notional).GreaterThan(c.governance.MaxTotalNotionalUSD) {
			return domain.Reject(domain.ReasonGovernanceBlocked, "governance: would exceed max_total_notional_usd"), false
		}
	}
	return domain.IntentOutcome{}, true
}

func (c *Coordinator) gateVenueMinimums(intent domain.Intent) (domain.IntentOutcome, bool) {
	minNotional := decimal.NewFromFloat(c.cfg.Executor.MinOrderNotionalUSD)
	if err := intent.Validate(c.cfg.Executor.MinOrderShares, minNotional); err != nil {
		return domain.Reject(domain.ReasonVenueMinimum, err.Error()), false
	}
	return domain.IntentOutcome{}, true
}

func (c *Coordinator) gateRiskEnvelope(intent domain.Intent) (domain.IntentOutcome, bool) {
	domainCfg, hasOverride := c.cfg.Risk.PerDomain[string(intent.Domain)]
	maxExposure := decimal.NewFromFloat(c.cfg.Risk.MaxPlatformExposureUSD)
	dailyLossLimit := decimal.NewFromFloat(c.cfg.Risk.DailyLossLimitUSD)
	if hasOverride {
		if domainCfg.MaxExposureUSD > 0 {
			maxExposure = decimal.NewFromFloat(domainCfg.MaxExposureUSD)
		}
		if domainCfg.DailyLossLimitUSD > 0 {
			dailyLossLimit = decimal.NewFromFloat(domainCfg.DailyLossLimitUSD)
		}
	}

	exp := c.exposures[intent.Domain]
	if maxExposure.IsPositive() && exp.CurrentExposure.Add(intent.Notional()).GreaterThan(maxExposure) {
		return domain.Reject(domain.ReasonRiskExceeded, "risk: domain exposure limit would be exceeded"), false
	}

	r := c.risk
	r.DailyLossLimit = dailyLossLimit
	if dailyLossLimit.IsPositive() && r.WouldBreachDailyLoss(intent.Notional()) {
		return domain.Reject(domain.ReasonRiskExceeded, "risk: daily loss limit would be breached"), false
	}

	maxDrawdown := decimal.NewFromFloat(c.cfg.Risk.MaxDrawdownLimitUSD)
	if maxDrawdown.IsPositive() && c.risk.WouldBreachDrawdown(maxDrawdown) {
		return domain.Reject(domain.ReasonRiskExceeded, "risk: max drawdown already exceeded"), false
	}

	return domain.IntentOutcome{}, true
}

// canonicalCoin folds an intent's coin to one of the known crypto-allocator
// buckets, or "other" for anything not separately budgeted.
func canonicalCoin(coin string) string {
	switch coin {
	case "BTC", "ETH", "SOL", "XRP":
		return coin
	default:
		return "other"
	}
}

// canonicalHorizon folds an intent's horizon to one of the known
// crypto-allocator buckets, or "other" for anything not separately budgeted.
func canonicalHorizon(horizon string) string {
	switch horizon {
	case "5m", "15m":
		return horizon
	default:
		return "other"
	}
}

// allocatorBucketKey names one of c.allocated's running-total slots.
func allocatorBucketKey(dom domain.Domain, kind, value string) string {
	return string(dom) + "|" + kind + "|" + value
}

// activeMarketCountLocked counts the distinct markets within dom that
// currently carry any allocator spend, for AutoSplitActiveMarkets. Caller
// must hold c.mu.
func (c *Coordinator) activeMarketCountLocked(dom domain.Domain) int {
	prefix := string(dom) + "|market|"
	count := 0
	for k, v := range c.allocated {
		if v > 0 && strings.HasPrefix(k, prefix) {
			count++
		}
	}
	return count
}

// gateAllocator enforces per-domain budget carve-outs (spec.md §4.1 step 6).
// Crypto splits its total cap further by coin and by horizon, each as a
// percentage sub-budget of crypto_allocator_total_cap_usd. Other domains
// split a flat per-domain percentage across markets, divided evenly across
// currently active markets when auto_split_active_markets is set.
func (c *Coordinator) gateAllocator(intent domain.Intent) (domain.IntentOutcome, bool) {
	if !c.cfg.Allocator.Enabled {
		return domain.IntentOutcome{}, true
	}

	notional, _ := intent.Notional().Float64()

	if intent.Domain == domain.DomainCrypto {
		totalCap := c.cfg.Allocator.CryptoTotalCapUSD
		totalKey := allocatorBucketKey(intent.Domain, "total", "all")
		if totalCap > 0 && c.allocated[totalKey]+notional > totalCap {
			return domain.Reject(domain.ReasonAllocatorBlocked, "allocator: crypto total cap exceeded"), false
		}

		coin := canonicalCoin(intent.Coin)
		coinKey := allocatorBucketKey(intent.Domain, "coin", coin)
		if pct, ok := c.cfg.Allocator.CryptoCoinCapPct[coin]; ok && totalCap > 0 {
			if coinCap := totalCap * pct; c.allocated[coinKey]+notional > coinCap {
				return domain.Reject(domain.ReasonAllocatorBlocked, "allocator: crypto coin cap exceeded for "+coin), false
			}
		}

		horizon := canonicalHorizon(intent.Horizon)
		horizonKey := allocatorBucketKey(intent.Domain, "horizon", horizon)
		if pct, ok := c.cfg.Allocator.CryptoHorizonCapPct[horizon]; ok && totalCap > 0 {
			if horizonCap := totalCap * pct; c.allocated[horizonKey]+notional > horizonCap {
				return domain.Reject(domain.ReasonAllocatorBlocked, "allocator: crypto horizon cap exceeded for "+horizon), false
			}
		}

		c.allocated[totalKey] += notional
		c.allocated[coinKey] += notional
		c.allocated[horizonKey] += notional
		return domain.IntentOutcome{}, true
	}

	if pct, ok := c.cfg.Allocator.DomainMarketCapPct[string(intent.Domain)]; ok {
		domainTotal := decimal.Zero
		if exp, ok := c.exposures[intent.Domain]; ok {
			domainTotal = exp.CurrentExposure
		}
		domainTotalUSD, _ := domainTotal.Float64()
		marketCap := domainTotalUSD * pct

		marketKey := allocatorBucketKey(intent.Domain, "market", intent.MarketKey)
		if c.cfg.Allocator.AutoSplitActiveMarkets {
			active := c.activeMarketCountLocked(intent.Domain)
			if c.allocated[marketKey] == 0 {
				active++ // this intent would open a new market bucket
			}
			if active > 0 {
				marketCap /= float64(active)
			}
		}

		if marketCap > 0 && c.allocated[marketKey]+notional > marketCap {
			return domain.Reject(domain.ReasonAllocatorBlocked, "allocator: per-market cap exceeded"), false
		}
		c.allocated[marketKey] += notional
	}

	return domain.IntentOutcome{}, true
}

func (c *Coordinator) gateDuplicate(intent domain.Intent) (domain.IntentOutcome, bool) {
	if !c.cfg.Duplicate.Enabled {
		return domain.IntentOutcome{}, true
	}
	key := intent.DuplicateKey(domain.DuplicateGuardScope(c.cfg.Duplicate.Scope))
	last, seen := c.dupWindow[key]
	if !seen {
		return domain.IntentOutcome{}, true
	}
	windowMS := c.cfg.Duplicate.WindowMS
	if intent.CreatedAt.Sub(last).Milliseconds() < windowMS {
		return domain.RejectDuplicate(windowMS), false
	}
	return domain.IntentOutcome{}, true
}

// applyKellyResize optionally shrinks the intent's share count when a
// signal fair value is present (spec.md §4.1 step 8). It never rejects —
// an edge below kelly_min_edge simply leaves the intent unresized, since
// Kelly is advisory sizing, not a gate.
func (c *Coordinator) applyKellyResize(intent domain.Intent) domain.Intent {
	if !c.cfg.Executor.KellySizingEnabled || intent.SignalFairValue == nil {
		return intent
	}

	fairValue := *intent.SignalFairValue
	var edge decimal.Decimal
	if intent.IsBuy {
		edge = fairValue.Sub(intent.LimitPrice)
	} else {
		edge = intent.LimitPrice.Sub(fairValue)
	}
	minEdge := decimal.NewFromFloat(c.cfg.Executor.KellyMinEdge)
	if edge.LessThan(minEdge) {
		return intent
	}

	bankroll := c.risk.CurrentEquity
	multiplier := decimal.NewFromFloat(c.cfg.Executor.KellyFractionMultiplier)
	kellyFraction := edge // simplified f*: edge as a fraction of price, scaled by multiplier below
	sizedNotional := multiplier.Mul(kellyFraction).Mul(bankroll)
	if intent.LimitPrice.IsZero() {
		return intent
	}
	sizedShares := sizedNotional.Div(intent.LimitPrice).IntPart()

	minShares := int64(c.cfg.Executor.KellyMinShares)
	if sizedShares < minShares {
		sizedShares = minShares
	}
	if sizedShares > int64(intent.Shares) {
		sizedShares = int64(intent.Shares)
	}
	if sizedShares > 0 {
		intent.Shares = uint64(sizedShares)
	}
	return intent
}
