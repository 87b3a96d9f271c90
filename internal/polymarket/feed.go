package polymarket

// feed.go implements ports.FeedPort by polling the CLOB /books endpoint in
// batches, fanning the batch requests out over goroutines the same way the
// original sampling-markets/order-book fetcher did — the rate limiter
// self-throttles each goroutine, so no extra semaphore is needed.

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alejandrodnm/coordinator-core/internal/domain"
)

const (
	booksPath    = "/books"
	spotPath     = "/price"
	feedBatchSize = 20
	pollInterval = 2 * time.Second
)

type bookLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

type booksBatchItem struct {
	AssetID string      `json:"asset_id"`
	Bids    []bookLevel `json:"bids"`
	Asks    []bookLevel `json:"asks"`
}

type bookRequestItem struct {
	TokenID string `json:"token_id"`
}

// Feed implements ports.FeedPort by polling the CLOB on a fixed interval
// and caching the latest snapshot per token.
type Feed struct {
	client *Client

	mu          sync.RWMutex
	books       map[string]domain.BookSnapshot
	lastPollOK  time.Time
}

// NewFeed builds a Feed.
func NewFeed(client *Client) *Feed {
	return &Feed{client: client, books: make(map[string]domain.BookSnapshot)}
}

// Healthy reports whether a book poll has succeeded within the last two
// polling intervals, the liveness signal the admin report handle surfaces
// as SystemStatus.DataFeedConnected.
func (f *Feed) Healthy() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return time.Since(f.lastPollOK) < 2*pollInterval
}

// SubscribeBooks starts polling tokenIDs and streams every refreshed
// snapshot on the returned channel until ctx is cancelled.
func (f *Feed) SubscribeBooks(ctx context.Context, tokenIDs []string) (<-chan domain.BookSnapshot, error) {
	out := make(chan domain.BookSnapshot, len(tokenIDs))
	go f.pollLoop(ctx, tokenIDs, out)
	return out, nil
}

// SubscribeQuotes derives top-of-book quote ticks from the same book poll.
func (f *Feed) SubscribeQuotes(ctx context.Context, tokenIDs []string) (<-chan domain.QuoteUpdate, error) {
	books, err := f.SubscribeBooks(ctx, tokenIDs)
	if err != nil {
		return nil, err
	}
	out := make(chan domain.QuoteUpdate, len(tokenIDs))
	go func() {
		defer close(out)
		for book := range books {
			out <- domain.QuoteUpdate{
				TokenID: book.TokenID,
				BestBid: book.BestBid(),
				BestAsk: book.BestAsk(),
				TS:      book.TS,
			}
		}
	}()
	return out, nil
}

// SubscribeSpot polls the CLOB's /price endpoint for each symbol.
// Polymarket has no independent spot feed; symbols here are token IDs for
// reference markets (e.g. a BTC-updown token) used as a price proxy.
func (f *Feed) SubscribeSpot(ctx context.Context, symbols []string) (<-chan domain.QuoteUpdate, error) {
	out := make(chan domain.QuoteUpdate, len(symbols))
	go func() {
		defer close(out)
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, sym := range symbols {
					price, err := f.fetchSpot(ctx, sym)
					if err != nil {
						slog.Warn("spot poll failed", "symbol", sym, "err", err)
						continue
					}
					select {
					case out <- domain.QuoteUpdate{TokenID: sym, BestBid: price, BestAsk: price, TS: time.Now().UTC()}:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	return out, nil
}

// LatestBook returns the most recently cached snapshot for tokenID.
func (f *Feed) LatestBook(tokenID string) (domain.BookSnapshot, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	b, ok := f.books[tokenID]
	return b, ok
}

func (f *Feed) pollLoop(ctx context.Context, tokenIDs []string, out chan<- domain.BookSnapshot) {
	defer close(out)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	f.pollOnce(ctx, tokenIDs, out)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.pollOnce(ctx, tokenIDs, out)
		}
	}
}

func (f *Feed) pollOnce(ctx context.Context, tokenIDs []string, out chan<- domain.BookSnapshot) {
	batches := splitBatches(tokenIDs, feedBatchSize)

	var wg sync.WaitGroup
	for _, batch := range batches {
		batch := batch
		wg.Add(1)
		go func() {
			defer wg.Done()
			books, err := f.fetchBooksBatch(ctx, batch)
			if err != nil {
				slog.Warn("book batch poll failed", "tokens", len(batch), "err", err)
				return
			}
			f.mu.Lock()
			for id, b := range books {
				f.books[id] = b
			}
			f.lastPollOK = time.Now().UTC()
			f.mu.Unlock()
			for _, b := range books {
				select {
				case out <- b:
				case <-ctx.Done():
					return
				}
			}
		}()
	}
	wg.Wait()
}

func (f *Feed) fetchBooksBatch(ctx context.Context, tokenIDs []string) (map[string]domain.BookSnapshot, error) {
	body := make([]bookRequestItem, len(tokenIDs))
	for i, id := range tokenIDs {
		body[i] = bookRequestItem{TokenID: id}
	}

	var resp []booksBatchItem
	url := f.client.clobBase + booksPath
	if err := f.client.post(ctx, url, body, &resp); err != nil {
		return nil, fmt.Errorf("post /books: %w", err)
	}

	now := time.Now().UTC()
	out := make(map[string]domain.BookSnapshot, len(resp))
	for _, item := range resp {
		out[item.AssetID] = domain.BookSnapshot{
			TokenID: item.AssetID,
			Bids:    toBookEntries(item.Bids),
			Asks:    toBookEntries(item.Asks),
			TS:      now,
		}
	}
	return out, nil
}

func (f *Feed) fetchSpot(ctx context.Context, tokenID string) (float64, error) {
	url := fmt.Sprintf("%s%s?token_id=%s", f.client.clobBase, spotPath, tokenID)
	var resp struct {
		Price string `json:"price"`
	}
	if err := f.client.get(ctx, url, &resp); err != nil {
		return 0, err
	}
	f2, ok := parseDecFloat(resp.Price)
	if !ok {
		return 0, fmt.Errorf("spot price: unparseable value %q", resp.Price)
	}
	return f2, nil
}

func toBookEntries(levels []bookLevel) []domain.BookEntry {
	out := make([]domain.BookEntry, 0, len(levels))
	for _, l := range levels {
		price, ok1 := parseDecFloat(l.Price)
		size, ok2 := parseDecFloat(l.Size)
		if !ok1 || !ok2 {
			continue
		}
		out = append(out, domain.BookEntry{Price: price, Size: size})
	}
	return out
}

func splitBatches(tokenIDs []string, size int) [][]string {
	if size <= 0 {
		size = feedBatchSize
	}
	batches := make([][]string, 0, (len(tokenIDs)+size-1)/size)
	for i := 0; i < len(tokenIDs); i += size {
		end := i + size
		if end > len(tokenIDs) {
			end = len(tokenIDs)
		}
		batches = append(batches, tokenIDs[i:end])
	}
	return batches
}
