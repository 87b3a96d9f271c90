package polymarket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitBatches(t *testing.T) {
	batches := splitBatches([]string{"a", "b", "c", "d", "e"}, 2)
	require.Len(t, batches, 3)
	assert.Equal(t, []string{"a", "b"}, batches[0])
	assert.Equal(t, []string{"c", "d"}, batches[1])
	assert.Equal(t, []string{"e"}, batches[2])
}

func TestSplitBatches_EmptyInput(t *testing.T) {
	assert.Empty(t, splitBatches(nil, 2))
}

func TestFeed_Healthy_FalseUntilFirstSuccessfulPoll(t *testing.T) {
	f := NewFeed(NewClient("http://example.invalid", "", 100, 10))
	assert.False(t, f.Healthy())

	f.mu.Lock()
	f.lastPollOK = time.Now().UTC()
	f.mu.Unlock()
	assert.True(t, f.Healthy())
}

func TestFeed_SubscribeBooks_PublishesSnapshotAndCachesIt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "/books") {
			w.Write([]byte(`[{"asset_id":"token-1","bids":[{"price":"0.4","size":"10"}],"asks":[{"price":"0.6","size":"5"}]}]`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := NewFeed(NewClient(srv.URL, srv.URL, 100, 10))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	books, err := f.SubscribeBooks(ctx, []string{"token-1"})
	require.NoError(t, err)

	select {
	case snap := <-books:
		assert.Equal(t, "token-1", snap.TokenID)
		require.Len(t, snap.Bids, 1)
		assert.InDelta(t, 0.4, snap.Bids[0].Price, 0.0001)
	case <-time.After(2 * time.Second):
		t.Fatal("no book snapshot received")
	}

	assert.True(t, f.Healthy())
	cached, ok := f.LatestBook("token-1")
	require.True(t, ok)
	assert.Equal(t, "token-1", cached.TokenID)
}

func TestFeed_SubscribeQuotes_DerivesTopOfBook(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"asset_id":"token-1","bids":[{"price":"0.4","size":"10"}],"asks":[{"price":"0.6","size":"5"}]}]`))
	}))
	defer srv.Close()

	f := NewFeed(NewClient(srv.URL, srv.URL, 100, 10))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	quotes, err := f.SubscribeQuotes(ctx, []string{"token-1"})
	require.NoError(t, err)

	select {
	case q := <-quotes:
		require.NotNil(t, q.BestBid)
		require.NotNil(t, q.BestAsk)
		assert.InDelta(t, 0.4, q.BestBid, 0.0001)
		assert.InDelta(t, 0.6, q.BestAsk, 0.0001)
	case <-time.After(2 * time.Second):
		t.Fatal("no quote received")
	}
}

func TestFeed_LatestBook_MissingTokenReturnsFalse(t *testing.T) {
	f := NewFeed(NewClient("http://example.invalid", "", 100, 10))
	_, ok := f.LatestBook("nobody")
	assert.False(t, ok)
}
