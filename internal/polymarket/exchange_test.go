package polymarket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/coordinator-core/internal/domain"
)

func TestFillFromAmounts_Buy(t *testing.T) {
	shares, avgPrice := fillFromAmounts("50000000", "100000000", true)
	assert.Equal(t, uint64(100), shares)
	assert.True(t, avgPrice.Equal(decimal.NewFromFloat(0.5)), "avgPrice=%s", avgPrice)
}

func TestFillFromAmounts_Sell(t *testing.T) {
	shares, avgPrice := fillFromAmounts("100000000", "50000000", false)
	assert.Equal(t, uint64(100), shares)
	assert.True(t, avgPrice.Equal(decimal.NewFromFloat(0.5)), "avgPrice=%s", avgPrice)
}

func TestFillFromAmounts_ZeroSharesReturnsZero(t *testing.T) {
	shares, avgPrice := fillFromAmounts("0", "0", true)
	assert.Zero(t, shares)
	assert.True(t, avgPrice.IsZero())
}

func TestParseDecFloat(t *testing.T) {
	f, ok := parseDecFloat("0.42")
	assert.True(t, ok)
	assert.InDelta(t, 0.42, f, 0.0001)

	_, ok = parseDecFloat("not-a-number")
	assert.False(t, ok)
}

// newTestExchange spins up an httptest server implementing the subset of
// CLOB endpoints Exchange exercises, pre-seeding L2 creds so every call
// skips the L1 derive-api-key round trip.
func newTestExchange(t *testing.T, handler http.HandlerFunc) (*Exchange, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	ac := newTestAuthClient(t, srv.URL)
	ac.creds = &apiCredentials{APIKey: "k", Secret: "c2VjcmV0", Passphrase: "p"}
	return NewExchange(ac), srv
}

func TestExchange_SubmitOrder_Success(t *testing.T) {
	ex, _ := newTestExchange(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.Contains(r.URL.Path, "neg-risk"):
			w.Write([]byte(`{"neg_risk":false}`))
		case r.Method == http.MethodPost && strings.Contains(r.URL.Path, "/order"):
			w.Write([]byte(`{"orderID":"order-1","success":true,"status":"MATCHED","makingAmount":"50000000","takingAmount":"100000000"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	result, err := ex.SubmitOrder(context.Background(), domain.OrderRequest{
		TokenID: "token-1", Shares: 100, LimitPrice: decimal.NewFromFloat(0.5), IsBuy: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "order-1", result.OrderID)
	assert.Equal(t, domain.IntentFilled, result.Status)
	assert.Equal(t, uint64(100), result.FilledShares)
}

func TestExchange_SubmitOrder_ClobRejection(t *testing.T) {
	ex, _ := newTestExchange(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.Contains(r.URL.Path, "neg-risk"):
			w.Write([]byte(`{"neg_risk":false}`))
		default:
			w.Write([]byte(`{"success":false,"errorMsg":"insufficient balance"}`))
		}
	})

	_, err := ex.SubmitOrder(context.Background(), domain.OrderRequest{
		TokenID: "token-1", Shares: 100, LimitPrice: decimal.NewFromFloat(0.5), IsBuy: true,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insufficient balance")
}

func TestExchange_CancelOrder(t *testing.T) {
	ex, _ := newTestExchange(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		w.Write([]byte(`{}`))
	})

	ok, err := ex.CancelOrder(context.Background(), "order-1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestExchange_GetOpenOrders(t *testing.T) {
	ex, _ := newTestExchange(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[
			{"id":"o-1","status":"MATCHED","size_matched":"10","price":"0.5"},
			{"id":"o-2","status":"CANCELED","size_matched":"0","price":"0.3"}
		]}`))
	})

	orders, err := ex.GetOpenOrders(context.Background())
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, domain.IntentFilled, orders[0].Status)
	assert.Equal(t, domain.IntentCancelled, orders[1].Status)
}

func TestExchange_GetBestPrices(t *testing.T) {
	ex, _ := newTestExchange(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"asset_id":"token-1","bids":[{"price":"0.48","size":"10"}],"asks":[{"price":"0.52","size":"5"}]}`))
	})

	bid, ask, err := ex.GetBestPrices(context.Background(), "token-1")
	require.NoError(t, err)
	require.NotNil(t, bid)
	require.NotNil(t, ask)
	assert.InDelta(t, 0.48, *bid, 0.0001)
	assert.InDelta(t, 0.52, *ask, 0.0001)
}

func TestExchange_GetBestPrices_EmptyBookReturnsNilPointers(t *testing.T) {
	ex, _ := newTestExchange(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"asset_id":"token-1","bids":[],"asks":[]}`))
	})

	bid, ask, err := ex.GetBestPrices(context.Background(), "token-1")
	require.NoError(t, err)
	assert.Nil(t, bid)
	assert.Nil(t, ask)
}
