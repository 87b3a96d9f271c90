package polymarket

import (
	"context"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAuthClient(t *testing.T, baseURL string) *AuthClient {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	hexKey := hex.EncodeToString(crypto.FromECDSA(key))

	ac, err := NewAuthClient(baseURL, baseURL, hexKey, 100, 10)
	require.NoError(t, err)
	return ac
}

func TestDetectPricePrecision(t *testing.T) {
	tests := []struct {
		price float64
		want  int64
	}{
		{0.60, 100},
		{0.5, 100},
		{0.673, 1000},
		{0.6789, 10000},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, detectPricePrecision(tt.price), "price=%v", tt.price)
	}
}

func TestAuthClient_EnsureCreds_DerivesAndCaches(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		assert.NotEmpty(t, r.Header.Get("POLY_ADDRESS"))
		assert.NotEmpty(t, r.Header.Get("POLY_SIGNATURE"))
		w.Write([]byte(`{"apiKey":"key-1","secret":"c2VjcmV0","passphrase":"pass-1"}`))
	}))
	defer srv.Close()

	ac := newTestAuthClient(t, srv.URL)
	require.NoError(t, ac.EnsureCreds(context.Background()))
	require.NoError(t, ac.EnsureCreds(context.Background()))
	assert.Equal(t, 1, hits, "second call must be a cache hit, not another request")
	assert.Equal(t, "key-1", ac.creds.APIKey)
}

func TestAuthClient_EnsureCreds_PropagatesHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte("bad signature"))
	}))
	defer srv.Close()

	ac := newTestAuthClient(t, srv.URL)
	err := ac.EnsureCreds(context.Background())
	require.Error(t, err)
	httpErr, ok := err.(*httpError)
	require.True(t, ok)
	assert.Equal(t, http.StatusUnauthorized, httpErr.status)
}

func TestAuthClient_L2Headers_FailsWithoutCreds(t *testing.T) {
	ac := newTestAuthClient(t, "http://example.invalid")
	_, err := ac.l2Headers(http.MethodGet, "/orders", "")
	assert.Error(t, err)
}

func TestAuthClient_L2Headers_SignsConsistently(t *testing.T) {
	ac := newTestAuthClient(t, "http://example.invalid")
	ac.creds = &apiCredentials{APIKey: "k", Secret: "c2VjcmV0", Passphrase: "p"}

	h1, err := ac.l2Headers(http.MethodGet, "/orders", "")
	require.NoError(t, err)
	assert.Equal(t, "k", h1["POLY_API_KEY"])
	assert.Equal(t, "p", h1["POLY_PASSPHRASE"])
	assert.NotEmpty(t, h1["POLY_SIGNATURE"])
}

func TestAuthClient_DoL2_SuccessRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "k", r.Header.Get("POLY_API_KEY"))
		w.Write([]byte(`{"orderID":"o-1","success":true}`))
	}))
	defer srv.Close()

	ac := newTestAuthClient(t, srv.URL)
	ac.creds = &apiCredentials{APIKey: "k", Secret: "c2VjcmV0", Passphrase: "p"}

	var resp clobOrderResponse
	require.NoError(t, ac.doL2(context.Background(), http.MethodPost, "/order", map[string]string{"a": "b"}, &resp))
	assert.Equal(t, "o-1", resp.OrderID)
	assert.True(t, resp.Success)
}

func TestAuthClient_DoL2_FourXXFailsWithoutRetry(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	ac := newTestAuthClient(t, srv.URL)
	ac.creds = &apiCredentials{APIKey: "k", Secret: "c2VjcmV0", Passphrase: "p"}

	err := ac.doL2(context.Background(), http.MethodGet, "/orders", nil, nil)
	require.Error(t, err)
	assert.Equal(t, 1, hits)
}
