package polymarket

// exchange.go adapts AuthClient's order-signing and submission machinery to
// ports.ExchangePort, translating the Order Executor's domain types into the
// CLOB's wire shapes.

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	gomodel "github.com/polymarket/go-order-utils/pkg/model"
	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/coordinator-core/internal/domain"
)

type clobOrderRequest struct {
	Order     clobOrderBody `json:"order"`
	Owner     string        `json:"owner"`
	OrderType string        `json:"orderType"`
}

type clobOrderBody struct {
	Salt          json.Number `json:"salt"`
	Maker         string      `json:"maker"`
	Signer        string      `json:"signer"`
	Taker         string      `json:"taker"`
	TokenID       string      `json:"tokenId"`
	MakerAmount   string      `json:"makerAmount"`
	TakerAmount   string      `json:"takerAmount"`
	Expiration    string      `json:"expiration"`
	Nonce         string      `json:"nonce"`
	FeeRateBps    string      `json:"feeRateBps"`
	Side          string      `json:"side"`
	SignatureType int         `json:"signatureType"`
	Signature     string      `json:"signature"`
}

type clobOrderResponse struct {
	ErrorMsg     string `json:"errorMsg"`
	OrderID      string `json:"orderID"`
	TakingAmount string `json:"takingAmount"`
	MakingAmount string `json:"makingAmount"`
	Status       string `json:"status"`
	Success      bool   `json:"success"`
}

type clobOpenOrder struct {
	ID           string `json:"id"`
	AssetID      string `json:"asset_id"`
	Market       string `json:"market"`
	Side         string `json:"side"`
	OriginalSize string `json:"original_size"`
	SizeMatched  string `json:"size_matched"`
	Price        string `json:"price"`
	Status       string `json:"status"`
	CreatedAt    string `json:"created_at"`
}

type clobOrdersResponse struct {
	Data       []clobOpenOrder `json:"data"`
	NextCursor string          `json:"next_cursor"`
}

type clobBookLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

type clobBookResponse struct {
	AssetID string          `json:"asset_id"`
	Bids    []clobBookLevel `json:"bids"`
	Asks    []clobBookLevel `json:"asks"`
}

type clobNegRiskResponse struct {
	NegRisk bool `json:"neg_risk"`
}

// Exchange implements ports.ExchangePort against the Polymarket CLOB.
// Order submission, cancellation, and book reads are all off-chain CLOB
// REST calls; it holds no RPC client of its own.
type Exchange struct {
	auth *AuthClient
}

// NewExchange builds an Exchange sharing auth's signing key and rate limiter.
func NewExchange(auth *AuthClient) *Exchange {
	return &Exchange{auth: auth}
}

// SubmitOrder signs and submits a GTC limit order for req.
func (e *Exchange) SubmitOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	start := time.Now()
	if err := e.auth.EnsureCreds(ctx); err != nil {
		return domain.OrderResult{}, fmt.Errorf("submit order: creds: %w", err)
	}

	negRisk, err := e.isNegRisk(ctx, req.TokenID)
	if err != nil {
		negRisk = false // default: standard CTF exchange contract
	}

	price, _ := req.LimitPrice.Float64()
	size := float64(req.Shares) * price

	signed, err := e.buildSignedOrder(req.TokenID, price, size, req.IsBuy, negRisk)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("submit order: sign: %w", err)
	}

	sideStr := "BUY"
	if !req.IsBuy {
		sideStr = "SELL"
	}

	body := clobOrderRequest{
		Order: clobOrderBody{
			Salt:          json.Number(signed.Order.Salt.String()),
			Maker:         signed.Order.Maker.Hex(),
			Signer:        signed.Order.Signer.Hex(),
			Taker:         signed.Order.Taker.Hex(),
			TokenID:       req.TokenID,
			MakerAmount:   signed.Order.MakerAmount.String(),
			TakerAmount:   signed.Order.TakerAmount.String(),
			Expiration:    signed.Order.Expiration.String(),
			Nonce:         signed.Order.Nonce.String(),
			FeeRateBps:    signed.Order.FeeRateBps.String(),
			Side:          sideStr,
			SignatureType: int(signed.Order.SignatureType.Int64()),
			Signature:     "0x" + hex.EncodeToString(signed.Signature),
		},
		Owner:     e.auth.creds.APIKey,
		OrderType: "GTC",
	}

	var resp clobOrderResponse
	if err := e.auth.doL2(ctx, http.MethodPost, "/order", body, &resp); err != nil {
		return domain.OrderResult{Error: err.Error()}, err
	}
	if !resp.Success || resp.ErrorMsg != "" {
		return domain.OrderResult{Error: resp.ErrorMsg}, fmt.Errorf("submit order: clob rejected: %s", resp.ErrorMsg)
	}

	filledShares, avgPrice := fillFromAmounts(resp.MakingAmount, resp.TakingAmount, req.IsBuy)
	status := domain.IntentPartiallyFilled
	switch strings.ToUpper(resp.Status) {
	case "MATCHED", "FILLED":
		status = domain.IntentFilled
	case "LIVE", "DELAYED":
		if filledShares == 0 {
			status = domain.IntentSubmitted
		}
	}

	return domain.OrderResult{
		OrderID:      resp.OrderID,
		Status:       status,
		FilledShares: filledShares,
		AvgFillPrice: avgPrice,
		ElapsedMS:    time.Since(start).Milliseconds(),
	}, nil
}

// CancelOrder cancels a single open order.
func (e *Exchange) CancelOrder(ctx context.Context, orderID string) (bool, error) {
	if err := e.auth.EnsureCreds(ctx); err != nil {
		return false, fmt.Errorf("cancel order: creds: %w", err)
	}
	if err := e.auth.doL2(ctx, http.MethodDelete, "/order/"+orderID, nil, nil); err != nil {
		return false, fmt.Errorf("cancel order %s: %w", orderID, err)
	}
	return true, nil
}

// GetOpenOrders returns every currently open order for this account.
func (e *Exchange) GetOpenOrders(ctx context.Context) ([]domain.OrderResult, error) {
	if err := e.auth.EnsureCreds(ctx); err != nil {
		return nil, fmt.Errorf("get open orders: creds: %w", err)
	}

	var resp clobOrdersResponse
	if err := e.auth.doL2(ctx, http.MethodGet, "/orders", nil, &resp); err != nil {
		return nil, fmt.Errorf("get open orders: %w", err)
	}

	out := make([]domain.OrderResult, 0, len(resp.Data))
	for _, o := range resp.Data {
		filled, _ := decimal.NewFromString(o.SizeMatched)
		price, _ := decimal.NewFromString(o.Price)
		status := domain.IntentSubmitted
		upper := strings.ToUpper(o.Status)
		switch {
		case strings.Contains(upper, "MATCHED"):
			status = domain.IntentFilled
		case strings.Contains(upper, "CANCEL") || strings.Contains(upper, "INVALID"):
			status = domain.IntentCancelled
		}
		out = append(out, domain.OrderResult{
			OrderID:      o.ID,
			Status:       status,
			FilledShares: uint64(filled.IntPart()),
			AvgFillPrice: price,
		})
	}
	return out, nil
}

// GetBestPrices returns the top bid/ask for tokenID from the CLOB order book.
func (e *Exchange) GetBestPrices(ctx context.Context, tokenID string) (*float64, *float64, error) {
	url := fmt.Sprintf("%s/book?token_id=%s", e.auth.clobBase, tokenID)
	var resp clobBookResponse
	if err := e.auth.get(ctx, url, &resp); err != nil {
		return nil, nil, fmt.Errorf("get best prices: %w", err)
	}

	var bid, ask *float64
	if len(resp.Bids) > 0 {
		if f, ok := parseDecFloat(resp.Bids[0].Price); ok {
			bid = &f
		}
	}
	if len(resp.Asks) > 0 {
		if f, ok := parseDecFloat(resp.Asks[0].Price); ok {
			ask = &f
		}
	}
	return bid, ask, nil
}

func (e *Exchange) isNegRisk(ctx context.Context, tokenID string) (bool, error) {
	url := fmt.Sprintf("%s/neg-risk?token_id=%s", e.auth.clobBase, tokenID)
	var resp clobNegRiskResponse
	if err := e.auth.get(ctx, url, &resp); err != nil {
		return false, err
	}
	return resp.NegRisk, nil
}

// buildSignedOrder builds an EIP-712 signed order. price/size are in USDC
// units. Uses integer arithmetic throughout since the CLOB verifies
// makerAmount == price * takerAmount exactly, and floats cannot guarantee
// that identity.
func (e *Exchange) buildSignedOrder(tokenID string, price, size float64, isBuy, negRisk bool) (*gomodel.SignedOrder, error) {
	pricePrecision := detectPricePrecision(price)
	priceInt := int64(price * float64(pricePrecision))
	sharesCents := int64(size / price * 100)

	amountFactor := int64(1_000_000) / (100 * pricePrecision)
	makerAmount := sharesCents * priceInt * amountFactor
	takerAmount := sharesCents * 10000
	if !isBuy {
		makerAmount, takerAmount = takerAmount, makerAmount
	}

	if makerAmount <= 0 || takerAmount <= 0 {
		return nil, fmt.Errorf("invalid amounts: maker=%d taker=%d (price=%.4f size=%.4f)", makerAmount, takerAmount, price, size)
	}

	var verifyingContract gomodel.VerifyingContract
	if negRisk {
		verifyingContract = gomodel.NegRiskCTFExchange
	} else {
		verifyingContract = gomodel.CTFExchange
	}

	side := gomodel.BUY
	if !isBuy {
		side = gomodel.SELL
	}

	orderData := &gomodel.OrderData{
		Maker:         e.auth.address.Hex(),
		Taker:         zeroAddress,
		TokenId:       tokenID,
		MakerAmount:   fmt.Sprintf("%d", makerAmount),
		TakerAmount:   fmt.Sprintf("%d", takerAmount),
		FeeRateBps:    "0",
		Nonce:         "0",
		Signer:        e.auth.address.Hex(),
		Expiration:    "0",
		Side:          side,
		SignatureType: gomodel.EOA,
	}

	return e.auth.orderBuilder.BuildSignedOrder(e.auth.privateKey, orderData, verifyingContract)
}

func fillFromAmounts(making, taking string, isBuy bool) (uint64, decimal.Decimal) {
	make, _ := decimal.NewFromString(making)
	take, _ := decimal.NewFromString(taking)
	micro := decimal.New(1, 6)

	var shares, notional decimal.Decimal
	if isBuy {
		notional, shares = make.Div(micro), take.Div(micro)
	} else {
		shares, notional = make.Div(micro), take.Div(micro)
	}
	if shares.IsZero() {
		return 0, decimal.Zero
	}
	avgPrice := notional.Div(shares)
	return uint64(shares.IntPart()), avgPrice
}

func parseDecFloat(s string) (float64, bool) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, false
	}
	f, _ := d.Float64()
	return f, true
}
