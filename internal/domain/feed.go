package domain

import "time"

// QuoteUpdate is one top-of-book tick produced by the data-feed port.
// The core only ever reads these through aggregated caches exposed by the
// feed manager — it never talks to a websocket directly.
type QuoteUpdate struct {
	TokenID string
	Side    Side
	BestBid float64
	BestAsk float64
	BidSize float64
	AskSize float64
	TS      time.Time
}

// BookSnapshot is a full depth snapshot for one token.
type BookSnapshot struct {
	TokenID string
	Bids    []BookEntry
	Asks    []BookEntry
	TS      time.Time
	Hash    string
}

// BookEntry is one price level in a book snapshot.
type BookEntry struct {
	Price float64
	Size  float64
}

// BestBid returns the highest bid price, or 0 if the book is empty.
func (b BookSnapshot) BestBid() float64 {
	if len(b.Bids) == 0 {
		return 0
	}
	return b.Bids[0].Price
}

// BestAsk returns the lowest ask price, or 0 if the book is empty.
func (b BookSnapshot) BestAsk() float64 {
	if len(b.Asks) == 0 {
		return 0
	}
	return b.Asks[0].Price
}

// Midpoint returns the mean of best bid and best ask, or 0 if either side is empty.
func (b BookSnapshot) Midpoint() float64 {
	bid, ask := b.BestBid(), b.BestAsk()
	if bid == 0 || ask == 0 {
		return 0
	}
	return (bid + ask) / 2
}
