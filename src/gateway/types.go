package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"tradeflow/src/model"
)

// Order types the routing layer can ask the broker for.
const (
	OrderTypeMarket = "market"
	OrderTypeLimit  = "limit"
)

// Quote is the current market picture for one instrument.
type Quote struct {
	Instrument string
	Last       decimal.Decimal
	Bid        decimal.Decimal
	Ask        decimal.Decimal
	Time       time.Time
}

// Candle is one OHLCV bar.
type Candle struct {
	Time   time.Time
	Open   decimal.Decimal
	High   decimal.Decimal
	Low    decimal.Decimal
	Close  decimal.Decimal
	Volume decimal.Decimal
}

// InstrumentMeta carries the static trading attributes of an instrument.
type InstrumentMeta struct {
	Instrument string
	// LotSize is the minimum tradeable unit; all quantities are whole
	// multiples of it.
	LotSize  decimal.Decimal
	Currency string
	Market   string
	Leverage int
}

// OrderRequest is a single order submission.
type OrderRequest struct {
	ClientID   string
	Instrument string
	Side       model.Side
	Quantity   decimal.Decimal
	// Price is required for limit orders and ignored for market orders.
	Price     *decimal.Decimal
	OrderType string
}

// OrderResult is the broker's answer to a submission.
type OrderResult struct {
	OrderID   string
	FilledQty decimal.Decimal
	AvgPrice  decimal.Decimal
	Status    string
}

// Broker is the single boundary to the brokerage. The engine never talks to
// an exchange API directly.
type Broker interface {
	GetAccount(ctx context.Context) (*model.AccountSnapshot, error)
	GetPositions(ctx context.Context) ([]model.Position, error)
	GetQuote(ctx context.Context, instrument string) (*Quote, error)
	GetCandles(ctx context.Context, instrument string, interval string, limit int) ([]Candle, error)
	GetInstrumentMeta(ctx context.Context, instrument string) (*InstrumentMeta, error)
	SubmitOrder(ctx context.Context, req OrderRequest) (*OrderResult, error)
	CancelOrder(ctx context.Context, orderID string) error
	// EstimateMaxPurchase returns the margin-aware maximum quantity
	// purchasable at the given price. Zero means the broker reports no
	// headroom; callers fall back to a conservative cash estimate.
	EstimateMaxPurchase(ctx context.Context, instrument string, price decimal.Decimal) (decimal.Decimal, error)
}

// APIError is a gateway-level failure with its transience classified, so the
// engine can decide between retrying and dead-lettering without parsing
// broker messages.
type APIError struct {
	Op        string
	Code      int
	Message   string
	Transient bool
}

func (e *APIError) Error() string {
	return "gateway " + e.Op + ": " + e.Message
}

// IsTransient reports whether an error is worth retrying with backoff.
// Unknown errors count as transient: a flaky network path must not
// dead-letter a good signal.
func IsTransient(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Transient
	}
	return true
}
