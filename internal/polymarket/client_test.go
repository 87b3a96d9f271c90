package polymarket

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient_AppliesDefaults(t *testing.T) {
	c := NewClient("", "", 0, 0)
	assert.Equal(t, defaultCLOBBase, c.clobBase)
	assert.Equal(t, defaultGammaBase, c.gammaBase)
}

func TestClient_Get_DecodesSuccessResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"price":"0.42"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.URL, 100, 10)
	var out struct {
		Price string `json:"price"`
	}
	require.NoError(t, c.get(context.Background(), srv.URL, &out))
	assert.Equal(t, "0.42", out.Price)
}

func TestClient_Get_FourXXFailsWithoutRetry(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte("bad request"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.URL, 100, 10)
	err := c.get(context.Background(), srv.URL, nil)
	require.Error(t, err)
	httpErr, ok := err.(*httpError)
	require.True(t, ok)
	assert.Equal(t, http.StatusBadRequest, httpErr.status)
	assert.Equal(t, int32(1), hits.Load(), "4xx must not be retried")
}

func TestClient_Post_SendsJSONBody(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf, _ := io.ReadAll(r.Body)
		gotBody = string(buf)
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.URL, 100, 10)
	require.NoError(t, c.post(context.Background(), srv.URL, map[string]string{"token_id": "abc"}, nil))
	assert.Contains(t, gotBody, `"token_id":"abc"`)
}

func TestClient_DoWithRetry_RetriesOn5xxThenSucceeds(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"price":"1"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.URL, 100, 10)
	var out struct {
		Price string `json:"price"`
	}
	require.NoError(t, c.get(context.Background(), srv.URL, &out))
	assert.Equal(t, int32(2), hits.Load(), "first 5xx retried, second call succeeds")
}
