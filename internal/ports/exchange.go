package ports

import (
	"context"

	"github.com/alejandrodnm/coordinator-core/internal/domain"
)

// ExchangePort is the abstract capability the Order Executor consumes.
// Network semantics, auth, and signing are adapter details (see
// internal/polymarket for the concrete Polymarket CLOB implementation).
type ExchangePort interface {
	SubmitOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error)
	CancelOrder(ctx context.Context, orderID string) (bool, error)
	GetOpenOrders(ctx context.Context) ([]domain.OrderResult, error)
	GetBestPrices(ctx context.Context, tokenID string) (bid, ask *float64, err error)
}

// MergeExecutor executes on-chain CTF merge transactions that combine a
// complete YES+NO pair back into collateral once both legs of a hedge fill.
type MergeExecutor interface {
	MergePositions(ctx context.Context, conditionID string, amount float64, negRisk bool) (domain.MergeResult, error)
	EstimateGasCostUSD(ctx context.Context) (float64, error)
	EnsureApprovals(ctx context.Context) error
}

// MergeResult is the outcome of an on-chain merge transaction.
type MergeResult = domain.MergeResult
