// Package executor implements the Order Executor: idempotent order
// submission against an exchange port, with a per-account idempotency log,
// retry classification, and normalized result projection.
package executor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/alejandrodnm/coordinator-core/internal/config"
	"github.com/alejandrodnm/coordinator-core/internal/coreerr"
	"github.com/alejandrodnm/coordinator-core/internal/domain"
	"github.com/alejandrodnm/coordinator-core/internal/ports"
)

// Executor submits intents to an ExchangePort, deduping on
// (account_id, idempotency_key) and retrying Transient/Venue5xx failures
// with jittered backoff.
type Executor struct {
	store    ports.Store
	exchange ports.ExchangePort
	cfg      config.ExecutorConfig
}

// New constructs an Executor.
func New(store ports.Store, exchange ports.ExchangePort, cfg config.ExecutorConfig) *Executor {
	return &Executor{store: store, exchange: exchange, cfg: cfg}
}

// IdempotencyKey derives a stable key from an intent's business-identity
// fields, rounding created_at to the second so retries within the same
// second collapse onto one lease (spec.md §4.2).
func IdempotencyKey(intent domain.Intent) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%v|%v|%d|%s|%d",
		intent.AgentID, intent.MarketKey, intent.Side, intent.IsBuy,
		intent.Shares, intent.LimitPrice.String(), intent.CreatedAt.Unix())
	return hex.EncodeToString(h.Sum(nil))
}

func requestHash(intent domain.Intent) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%d|%s", intent.IntentID, intent.Shares, intent.LimitPrice.String())
	return hex.EncodeToString(h.Sum(nil))
}

// Execute runs the idempotent-submission algorithm from spec.md §4.2.
func (e *Executor) Execute(ctx context.Context, intent domain.Intent) (domain.OrderResult, error) {
	key := IdempotencyKey(intent)
	reqHash := requestHash(intent)

	rec, found, err := e.store.GetIdempotency(ctx, intent.AccountID, key)
	if err != nil {
		return domain.OrderResult{}, coreerr.Wrap(coreerr.PersistenceFailure, "idempotency lookup", err)
	}

	if found {
		switch rec.Status {
		case domain.IdempotencySucceeded:
			if rec.RequestHash != reqHash {
				return domain.OrderResult{}, coreerr.New(coreerr.IdempotencyConflict,
					"idempotency key reused with different request payload")
			}
			return domain.OrderResult{OrderID: string(rec.ResponseData), Status: domain.IntentFilled}, nil
		case domain.IdempotencyPending:
			if !rec.Expired(time.Now().UTC()) {
				time.Sleep(200 * time.Millisecond)
				rec, found, err = e.store.GetIdempotency(ctx, intent.AccountID, key)
				if err != nil {
					return domain.OrderResult{}, coreerr.Wrap(coreerr.PersistenceFailure, "idempotency re-read", err)
				}
				if found && rec.Status == domain.IdempotencySucceeded {
					return domain.OrderResult{OrderID: string(rec.ResponseData), Status: domain.IntentFilled}, nil
				}
				return domain.OrderResult{}, coreerr.New(coreerr.Timeout, "idempotency lease still pending after wait")
			}
			// Lease expired — fall through and re-insert as a fresh Pending lease.
		}
	}

	if err := e.store.PutIdempotencyPending(ctx, domain.IdempotencyRecord{
		AccountID:      intent.AccountID,
		IdempotencyKey: key,
		RequestHash:    reqHash,
		ExpiresAt:      time.Now().UTC().Add(e.cfg.IdempotencyLease()),
		CreatedAt:      time.Now().UTC(),
	}); err != nil {
		return domain.OrderResult{}, coreerr.Wrap(coreerr.PersistenceFailure, "idempotency insert", err)
	}

	result, execErr := e.submitWithRetry(ctx, intent)

	status := domain.IdempotencySucceeded
	if execErr != nil {
		status = domain.IdempotencyFailed
	}
	if err := e.store.CompleteIdempotency(ctx, intent.AccountID, key, status, result.OrderID); err != nil {
		slog.Error("failed to complete idempotency record", "err", err, "intent_id", intent.IntentID)
	}

	return result, execErr
}

// submitWithRetry calls the exchange port, retrying kinds the error
// taxonomy marks as Transient/Venue5xx up to cfg.MaxRetries times with
// jittered exponential backoff.
func (e *Executor) submitWithRetry(ctx context.Context, intent domain.Intent) (domain.OrderResult, error) {
	req := domain.OrderRequest{
		AccountID:      intent.AccountID,
		IdempotencyKey: IdempotencyKey(intent),
		MarketKey:      intent.MarketKey,
		TokenID:        intent.TokenID,
		Side:           intent.Side,
		IsBuy:          intent.IsBuy,
		Shares:         intent.Shares,
		LimitPrice:     intent.LimitPrice,
	}

	var lastErr error
	for attempt := 0; attempt <= e.cfg.MaxRetries; attempt++ {
		result, err := e.exchange.SubmitOrder(ctx, req)
		if err == nil {
			return result, nil
		}
		lastErr = err

		kind := ClassifyError(err)
		if !kind.IsRetryable() || attempt == e.cfg.MaxRetries {
			return domain.OrderResult{Error: err.Error()}, err
		}

		backoff := e.cfg.RetryBaseDelay() * time.Duration(1<<attempt)
		jitter := time.Duration(rand.Int63n(int64(backoff) / 2))
		select {
		case <-time.After(backoff + jitter):
		case <-ctx.Done():
			return domain.OrderResult{Error: ctx.Err().Error()}, ctx.Err()
		}
	}
	return domain.OrderResult{Error: lastErr.Error()}, lastErr
}

// Cancel cancels an open order.
func (e *Executor) Cancel(ctx context.Context, orderID string) (bool, error) {
	ok, err := e.exchange.CancelOrder(ctx, orderID)
	if err != nil {
		return false, coreerr.Wrap(coreerr.VenueUnavailable, "cancel order", err)
	}
	return ok, nil
}

// classifiedError lets an ExchangePort adapter attach an ExecutorErrorKind
// to an error without the executor package depending on the adapter.
type classifiedError interface {
	ExecutorKind() domain.ExecutorErrorKind
}

// ClassifyError maps an exchange-port error to the retry taxonomy. Errors
// that implement classifiedError (e.g. the polymarket adapter's typed HTTP
// errors) are classified directly; anything else defaults to Transient so
// an unrecognized network blip still gets retried rather than silently
// dropped.
func ClassifyError(err error) domain.ExecutorErrorKind {
	if err == nil {
		return ""
	}
	var ce classifiedError
	if errors.As(err, &ce) {
		return ce.ExecutorKind()
	}
	var coreErr *coreerr.Error
	if errors.As(err, &coreErr) {
		// coreerr.Kind.IsFatal (Auth, PersistenceFailure) bridges straight
		// to ErrFatal so the dispatch loop triggers a graceful shutdown
		// instead of a local rejection or a breaker count.
		if coreErr.Kind.IsFatal() {
			return domain.ErrFatal
		}
		switch coreErr.Kind {
		case coreerr.VenueUnavailable, coreerr.Timeout:
			return domain.ErrTransient
		case coreerr.VenueRejected:
			return domain.ErrVenue4xx
		case coreerr.Validation:
			return domain.ErrValidation
		case coreerr.IdempotencyConflict:
			return domain.ErrIdempotencyConflict
		}
	}
	return domain.ErrTransient
}
