package coordinator_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/coordinator-core/internal/config"
	"github.com/alejandrodnm/coordinator-core/internal/coordinator"
	"github.com/alejandrodnm/coordinator-core/internal/domain"
	"github.com/alejandrodnm/coordinator-core/internal/executor"
	"github.com/alejandrodnm/coordinator-core/internal/persistence"
)

// scriptedExchange lets a test drive exactly one classified failure (or
// success) per call, mirroring executor_test's fakeExchange.
type scriptedExchange struct {
	mu        sync.Mutex
	responses []scriptedResponse
	calls     int
}

type scriptedResponse struct {
	result domain.OrderResult
	err    error
}

func (f *scriptedExchange) SubmitOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls >= len(f.responses) {
		return domain.OrderResult{OrderID: "order-extra", Status: domain.IntentFilled, FilledShares: req.Shares}, nil
	}
	resp := f.responses[f.calls]
	f.calls++
	return resp.result, resp.err
}
func (f *scriptedExchange) CancelOrder(ctx context.Context, orderID string) (bool, error) { return true, nil }
func (f *scriptedExchange) GetOpenOrders(ctx context.Context) ([]domain.OrderResult, error) {
	return nil, nil
}
func (f *scriptedExchange) GetBestPrices(ctx context.Context, tokenID string) (*float64, *float64, error) {
	return nil, nil, nil
}

// classifiedErr drives executor.ClassifyError's adapter-typed branch.
type classifiedErr struct{ kind domain.ExecutorErrorKind }

func (e *classifiedErr) Error() string                         { return "scripted failure" }
func (e *classifiedErr) ExecutorKind() domain.ExecutorErrorKind { return e.kind }

func TestCoordinator_Dispatch_OrderUpdateReachesAgent(t *testing.T) {
	store, err := persistence.Open(":memory:")
	require.NoError(t, err)
	require.NoError(t, store.Bootstrap(context.Background()))
	t.Cleanup(func() { store.Close() })

	exchange := &scriptedExchange{responses: []scriptedResponse{
		{result: domain.OrderResult{OrderID: "order-1", Status: domain.IntentFilled, FilledShares: 100}},
	}}
	coord := coordinator.New("acct-1", config.Config{}, store, exchange, &fakeMerge{}, alwaysEnabledGate{enabled: true})
	require.NoError(t, coord.Bootstrap(context.Background()))

	handle, _, err := coord.RegisterAgent("agent-1", domain.DomainCrypto, domain.RiskParams{}, nil)
	require.NoError(t, err)

	exec := executor.New(store, exchange, config.ExecutorConfig{MaxRetries: 1, RetryBaseDelayMS: 1, IdempotencyLeaseSecs: 60})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go coord.Run(ctx, exec)

	intent := baseIntent()
	intent.AgentID = "agent-1"
	outcome, err := coord.SubmitIntent(context.Background(), intent)
	require.NoError(t, err)
	require.True(t, outcome.Accepted)

	select {
	case update := <-handle.Updates():
		assert.Equal(t, "intent-1", update.IntentID)
		assert.Equal(t, domain.IntentFilled, update.Status)
		assert.Equal(t, uint64(100), update.FilledShares)
	case <-time.After(2 * time.Second):
		t.Fatal("agent never received an order update")
	}
}

func TestCoordinator_Dispatch_FatalErrorTriggersShutdown(t *testing.T) {
	store, err := persistence.Open(":memory:")
	require.NoError(t, err)
	require.NoError(t, store.Bootstrap(context.Background()))
	t.Cleanup(func() { store.Close() })

	exchange := &scriptedExchange{responses: []scriptedResponse{
		{err: &classifiedErr{kind: domain.ErrAuth}},
	}}
	coord := coordinator.New("acct-1", config.Config{}, store, exchange, &fakeMerge{}, alwaysEnabledGate{enabled: true})
	require.NoError(t, coord.Bootstrap(context.Background()))

	exec := executor.New(store, exchange, config.ExecutorConfig{MaxRetries: 0, RetryBaseDelayMS: 1, IdempotencyLeaseSecs: 60})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go coord.Run(ctx, exec)

	outcome, err := coord.SubmitIntent(context.Background(), baseIntent())
	require.NoError(t, err)
	require.True(t, outcome.Accepted)

	select {
	case <-coord.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("an ErrAuth classified failure must trigger a graceful shutdown")
	}
	assert.Equal(t, domain.LifecycleStopped, coord.Snapshot().Lifecycle)
}

func TestCoordinator_Dispatch_CircuitBreakerTripPersists(t *testing.T) {
	store, err := persistence.Open(":memory:")
	require.NoError(t, err)
	require.NoError(t, store.Bootstrap(context.Background()))
	t.Cleanup(func() { store.Close() })

	// RestoreCircuitBreaker hands a fresh account the schema default of 5
	// (persistence/risk.go), so five consecutive failures are needed to trip.
	responses := make([]scriptedResponse, 5)
	for i := range responses {
		responses[i] = scriptedResponse{err: &classifiedErr{kind: domain.ErrTransient}}
	}
	exchange := &scriptedExchange{responses: responses}
	coord := coordinator.New("acct-1", config.Config{}, store, exchange, &fakeMerge{}, alwaysEnabledGate{enabled: true})
	require.NoError(t, coord.Bootstrap(context.Background()))

	exec := executor.New(store, exchange, config.ExecutorConfig{MaxRetries: 0, RetryBaseDelayMS: 1, IdempotencyLeaseSecs: 60})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go coord.Run(ctx, exec)

	for i := 0; i < 5; i++ {
		intent := baseIntent()
		intent.IntentID = fmt.Sprintf("intent-%d", i)
		outcome, err := coord.SubmitIntent(context.Background(), intent)
		require.NoError(t, err)
		require.True(t, outcome.Accepted)
	}

	require.Eventually(t, func() bool {
		cb, err := store.RestoreCircuitBreaker(context.Background(), "acct-1")
		return err == nil && cb.Tripped
	}, 2*time.Second, 10*time.Millisecond, "a trip must be persisted, not just held in memory")
}

func TestCoordinator_Bootstrap_ReplayReconstructsDailyPnL(t *testing.T) {
	store, err := persistence.Open(":memory:")
	require.NoError(t, err)
	require.NoError(t, store.Bootstrap(context.Background()))
	t.Cleanup(func() { store.Close() })

	require.NoError(t, store.AppendExecution(context.Background(), domain.ExecutionLogRow{
		IntentID:     "past-1",
		AccountID:    "acct-1",
		Domain:       domain.DomainCrypto,
		MarketSlug:   "will-btc-100k",
		Side:         domain.SideUp,
		IsBuy:        true,
		Shares:       200,
		LimitPrice:   decimal.NewFromFloat(0.5),
		Status:       domain.IntentFilled,
		FilledShares: 200,
		AvgFillPrice: decimal.NewFromFloat(0.5), // notional 100, bought
		ExecutedAt:   time.Now().UTC(),
	}))

	cfg := config.Config{Risk: config.RiskConfig{DailyLossLimitUSD: 50}}
	coord := coordinator.New("acct-1", cfg, store, &fakeExchange{}, &fakeMerge{}, alwaysEnabledGate{enabled: true})
	require.NoError(t, coord.Bootstrap(context.Background()))

	// Replay must have debited DailyPnL by the prior buy's notional (100),
	// so a fresh intent now breaches the $50 daily loss limit immediately.
	outcome, err := coord.SubmitIntent(context.Background(), baseIntent())
	require.NoError(t, err)
	assert.False(t, outcome.Accepted)
	assert.Equal(t, domain.ReasonRiskExceeded, outcome.Code)
}

func TestCoordinator_ForceCloseAll_TriggersMergeOnOpenExposure(t *testing.T) {
	store, err := persistence.Open(":memory:")
	require.NoError(t, err)
	require.NoError(t, store.Bootstrap(context.Background()))
	t.Cleanup(func() { store.Close() })

	require.NoError(t, store.AppendExecution(context.Background(), domain.ExecutionLogRow{
		IntentID:     "past-1",
		AccountID:    "acct-1",
		Domain:       domain.DomainCrypto,
		MarketSlug:   "will-btc-100k",
		Side:         domain.SideUp,
		IsBuy:        true,
		Shares:       200,
		LimitPrice:   decimal.NewFromFloat(0.5),
		Status:       domain.IntentFilled,
		FilledShares: 200,
		AvgFillPrice: decimal.NewFromFloat(0.5),
		ExecutedAt:   time.Now().UTC(),
	}))

	merge := &recordingMerge{}
	cfg := config.Config{Executor: config.ExecutorConfig{MinMergeProfitUSD: 0}}
	coord := coordinator.New("acct-1", cfg, store, &fakeExchange{}, merge, alwaysEnabledGate{enabled: true})
	require.NoError(t, coord.Bootstrap(context.Background()))

	require.NoError(t, coord.ForceCloseAll(context.Background(), domain.EmergencyManual, "ops", "test"))

	merge.mu.Lock()
	defer merge.mu.Unlock()
	assert.NotEmpty(t, merge.merged, "force close with open crypto exposure must attempt a merge")
}

// recordingMerge records every MergePositions call for assertion.
type recordingMerge struct {
	mu     sync.Mutex
	merged []string
}

func (m *recordingMerge) MergePositions(ctx context.Context, conditionID string, amount float64, negRisk bool) (domain.MergeResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.merged = append(m.merged, conditionID)
	return domain.MergeResult{ConditionID: conditionID, TxHash: "0xabc", Success: true}, nil
}
func (m *recordingMerge) EstimateGasCostUSD(ctx context.Context) (float64, error) { return 0, nil }
func (m *recordingMerge) EnsureApprovals(ctx context.Context) error              { return nil }
