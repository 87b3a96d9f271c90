package ports

import (
	"context"

	"github.com/alejandrodnm/coordinator-core/internal/domain"
)

// FeedPort is the abstract data-feed capability the core reads only through
// aggregated caches exposed by the feed manager — never talking to a
// websocket collector directly.
type FeedPort interface {
	SubscribeQuotes(ctx context.Context, tokenIDs []string) (<-chan domain.QuoteUpdate, error)
	SubscribeBooks(ctx context.Context, tokenIDs []string) (<-chan domain.BookSnapshot, error)
	SubscribeSpot(ctx context.Context, symbols []string) (<-chan domain.QuoteUpdate, error)

	// LatestBook returns the most recent cached snapshot for a token, or
	// false if the feed manager has not observed one yet.
	LatestBook(tokenID string) (domain.BookSnapshot, bool)
}
