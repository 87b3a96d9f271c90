package admin_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/coordinator-core/internal/admin"
	"github.com/alejandrodnm/coordinator-core/internal/config"
	"github.com/alejandrodnm/coordinator-core/internal/coordinator"
	"github.com/alejandrodnm/coordinator-core/internal/domain"
	"github.com/alejandrodnm/coordinator-core/internal/gate"
	"github.com/alejandrodnm/coordinator-core/internal/persistence"
)

type fakeExchange struct{}

func (f *fakeExchange) SubmitOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	return domain.OrderResult{OrderID: "order-1", Status: domain.IntentFilled, FilledShares: req.Shares}, nil
}
func (f *fakeExchange) CancelOrder(ctx context.Context, orderID string) (bool, error) { return true, nil }
func (f *fakeExchange) GetOpenOrders(ctx context.Context) ([]domain.OrderResult, error) {
	return nil, nil
}
func (f *fakeExchange) GetBestPrices(ctx context.Context, tokenID string) (*float64, *float64, error) {
	return nil, nil, nil
}

type fakeMerge struct{}

func (f *fakeMerge) MergePositions(ctx context.Context, conditionID string, amount float64, negRisk bool) (domain.MergeResult, error) {
	return domain.MergeResult{}, nil
}
func (f *fakeMerge) EstimateGasCostUSD(ctx context.Context) (float64, error) { return 0, nil }
func (f *fakeMerge) EnsureApprovals(ctx context.Context) error              { return nil }

type fakeFeed struct{ healthy bool }

func (f *fakeFeed) SubscribeBooks(ctx context.Context, tokenIDs []string) (<-chan domain.BookSnapshot, error) {
	return nil, nil
}
func (f *fakeFeed) SubscribeQuotes(ctx context.Context, tokenIDs []string) (<-chan domain.QuoteUpdate, error) {
	return nil, nil
}
func (f *fakeFeed) SubscribeSpot(ctx context.Context, symbols []string) (<-chan domain.QuoteUpdate, error) {
	return nil, nil
}
func (f *fakeFeed) LatestBook(tokenID string) (domain.BookSnapshot, bool) {
	return domain.BookSnapshot{}, false
}
func (f *fakeFeed) Healthy() bool { return f.healthy }

func newTestHandle(t *testing.T, accountIDs ...string) (*admin.Handle, *persistence.Store, *gate.Gate) {
	t.Helper()
	store, err := persistence.Open(":memory:")
	require.NoError(t, err)
	require.NoError(t, store.Bootstrap(context.Background()))
	t.Cleanup(func() { store.Close() })

	g := gate.New(store, config.GateConfig{})
	require.NoError(t, g.Load(context.Background()))

	coords := make([]*coordinator.Coordinator, 0, len(accountIDs))
	for _, id := range accountIDs {
		c := coordinator.New(id, config.Config{}, store, &fakeExchange{}, &fakeMerge{}, g)
		require.NoError(t, c.Bootstrap(context.Background()))
		coords = append(coords, c)
	}

	h := admin.New(store, g, &fakeFeed{healthy: true}, coords)
	return h, store, g
}

func TestHandle_PauseAll_ResumeAll_AppliesToEveryAccount(t *testing.T) {
	h, _, _ := newTestHandle(t, "acct-1", "acct-2")

	require.NoError(t, h.PauseAll(context.Background(), "op", "maintenance"))
	require.NoError(t, h.ResumeAll(context.Background(), "op", "done"))
}

func TestHandle_ForceCloseAll_SetsStatusToForceClose(t *testing.T) {
	h, _, _ := newTestHandle(t, "acct-1")

	require.NoError(t, h.ForceCloseAll(context.Background(), domain.EmergencyManual, "op", "drill"))

	status, err := h.HealthCheck(context.Background())
	require.NoError(t, err)
	assert.True(t, status.EmergencyStopActive)
	assert.Equal(t, domain.LifecycleForceClose, status.LifecycleState)
}

func TestHandle_ResetEmergencyStop_UnknownAccountFails(t *testing.T) {
	h, _, _ := newTestHandle(t, "acct-1")

	err := h.ResetEmergencyStop(context.Background(), "ghost", "op")
	require.Error(t, err)
}

func TestHandle_ResetEmergencyStop_ClearsForceClose(t *testing.T) {
	h, _, _ := newTestHandle(t, "acct-1")

	require.NoError(t, h.ForceCloseAll(context.Background(), domain.EmergencyCircuitBreaker, "op", "tripped"))
	status, err := h.HealthCheck(context.Background())
	require.NoError(t, err)
	require.True(t, status.EmergencyStopActive)

	require.NoError(t, h.ResetEmergencyStop(context.Background(), "acct-1", "op"))

	status, err = h.HealthCheck(context.Background())
	require.NoError(t, err)
	assert.False(t, status.EmergencyStopActive)
	assert.Equal(t, domain.LifecycleRunning, status.LifecycleState)
}

func TestHandle_SetGovernance_UnknownAccountFails(t *testing.T) {
	h, _, _ := newTestHandle(t, "acct-1")

	err := h.SetGovernance(context.Background(), "ghost", domain.GovernancePolicy{}, "reason", "op")
	require.Error(t, err)
}

func TestHandle_SetGovernance_KnownAccountSucceeds(t *testing.T) {
	h, _, _ := newTestHandle(t, "acct-1")

	err := h.SetGovernance(context.Background(), "acct-1", domain.GovernancePolicy{}, "tighten risk", "op")
	require.NoError(t, err)
}

func TestHandle_PutDeployments_ThenEnableDisableRoundTrips(t *testing.T) {
	h, _, g := newTestHandle(t, "acct-1")

	dep := domain.Deployment{ID: "dep-1", Strategy: "s1", Domain: domain.DomainCrypto, Enabled: false}
	require.NoError(t, h.PutDeployments(context.Background(), false, []domain.Deployment{dep}))
	assert.False(t, g.IsEnabled("dep-1"))

	require.NoError(t, h.EnableDeployment(context.Background(), "dep-1"))
	assert.True(t, g.IsEnabled("dep-1"))

	require.NoError(t, h.DisableDeployment(context.Background(), "dep-1"))
	assert.False(t, g.IsEnabled("dep-1"))
}

func TestHandle_HealthCheck_ReportsDataFeedHealthFromFeedPort(t *testing.T) {
	store, err := persistence.Open(":memory:")
	require.NoError(t, err)
	require.NoError(t, store.Bootstrap(context.Background()))
	t.Cleanup(func() { store.Close() })

	g := gate.New(store, config.GateConfig{})
	require.NoError(t, g.Load(context.Background()))

	h := admin.New(store, g, &fakeFeed{healthy: false}, nil)
	status, err := h.HealthCheck(context.Background())
	require.NoError(t, err)
	assert.False(t, status.DataFeedConnected)
	assert.True(t, status.DBConnected)
}

func TestHandle_HealthCheck_NilFeedDegradesGracefully(t *testing.T) {
	store, err := persistence.Open(":memory:")
	require.NoError(t, err)
	require.NoError(t, store.Bootstrap(context.Background()))
	t.Cleanup(func() { store.Close() })

	g := gate.New(store, config.GateConfig{})
	require.NoError(t, g.Load(context.Background()))

	h := admin.New(store, g, nil, nil)
	status, err := h.HealthCheck(context.Background())
	require.NoError(t, err)
	assert.False(t, status.DataFeedConnected)
}

func TestHandle_DailyStats_ReturnsRollupForAccount(t *testing.T) {
	h, _, _ := newTestHandle(t, "acct-1")

	stats, err := h.DailyStats(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.Equal(t, "acct-1", stats.AccountID)
	assert.Zero(t, stats.TotalTrades)
}

func TestHandle_HealthCheck_UptimeIsNonNegative(t *testing.T) {
	h, _, _ := newTestHandle(t, "acct-1")

	time.Sleep(time.Millisecond)
	status, err := h.HealthCheck(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, status.UptimeSeconds, int64(0))
}
