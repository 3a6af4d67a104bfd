// REST client for the brokerage gateway.
// RESTY ONLY + INTERNAL RETRY
package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"tradeflow/src/model"
)

const (
	defaultRetryAttempts   = 5
	defaultRetryBaseDelay  = 500 * time.Millisecond
	defaultRetryMaxBackoff = 8 * time.Second
)

// apiResponse is the broker's uniform envelope.
type apiResponse struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type accountPayload struct {
	Cash      map[string]decimal.Decimal `json:"cash"`
	BuyPower  map[string]decimal.Decimal `json:"buy_power"`
	NetAssets map[string]decimal.Decimal `json:"net_assets"`
	Positions []positionPayload          `json:"positions"`
}

type positionPayload struct {
	Instrument string          `json:"instrument"`
	Quantity   decimal.Decimal `json:"quantity"`
	CostPrice  decimal.Decimal `json:"cost_price"`
	EntryTime  time.Time       `json:"entry_time"`
	Currency   string          `json:"currency"`
	Market     string          `json:"market"`
}

type quotePayload struct {
	Instrument string          `json:"instrument"`
	Last       decimal.Decimal `json:"last"`
	Bid        decimal.Decimal `json:"bid"`
	Ask        decimal.Decimal `json:"ask"`
	Timestamp  int64           `json:"timestamp"`
}

type candlePayload struct {
	Timestamp int64           `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

type instrumentPayload struct {
	Instrument string          `json:"instrument"`
	LotSize    decimal.Decimal `json:"lot_size"`
	Currency   string          `json:"currency"`
	Market     string          `json:"market"`
	Leverage   int             `json:"leverage"`
}

type orderResultPayload struct {
	OrderID   string          `json:"order_id"`
	FilledQty decimal.Decimal `json:"filled_qty"`
	AvgPrice  decimal.Decimal `json:"avg_price"`
	Status    string          `json:"status"`
}

type maxPurchasePayload struct {
	Quantity decimal.Decimal `json:"quantity"`
}

// Client talks to the broker over its signed REST API.
type Client struct {
	apiKey    string
	apiSecret string
	http      *resty.Client
}

func isRetryableResp(r *resty.Response, err error) bool {
	if err != nil {
		return true
	}
	if r == nil {
		return false
	}

	code := r.StatusCode()
	if code >= 500 && code <= 599 {
		return true
	}
	if code == 429 {
		return true
	}
	if code == 408 {
		return true
	}
	return false
}

func NewClient(cfg Config) *Client {
	retryCount := defaultRetryAttempts - 1

	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(retryCount).
		SetRetryWaitTime(defaultRetryBaseDelay).
		SetRetryMaxWaitTime(defaultRetryMaxBackoff).
		AddRetryCondition(isRetryableResp)

	return &Client{
		apiKey:    cfg.APIKey,
		apiSecret: cfg.APISecret,
		http:      httpClient,
	}
}

func signRequest(path, query, body string, expiry int64, secret string) string {
	base := path
	if query != "" {
		base += query
	}
	base += strconv.FormatInt(expiry, 10)
	base += body

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(base))
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *Client) do(ctx context.Context, method, path string, query map[string]string, body interface{}, out interface{}) error {
	expiry := time.Now().Add(time.Minute).Unix()

	bodyStr := ""
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		bodyStr = string(raw)
	}

	queryStr := ""
	req := c.http.R().SetContext(ctx)
	if len(query) > 0 {
		req.SetQueryParams(query)
		// Deterministic signing string: resty encodes in param order.
		for k, v := range query {
			if queryStr != "" {
				queryStr += "&"
			}
			queryStr += k + "=" + v
		}
	}

	req.SetHeaders(map[string]string{
		"x-api-key":       c.apiKey,
		"x-api-expiry":    strconv.FormatInt(expiry, 10),
		"x-api-signature": signRequest(path, queryStr, bodyStr, expiry, c.apiSecret),
		"Content-Type":    "application/json",
	})
	if bodyStr != "" {
		req.SetBody(bodyStr)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return &APIError{Op: path, Message: err.Error(), Transient: true}
	}

	if resp.StatusCode() >= 400 {
		return &APIError{
			Op:        path,
			Code:      resp.StatusCode(),
			Message:   resp.String(),
			Transient: isRetryableResp(resp, nil),
		}
	}

	var envelope apiResponse
	if err := json.Unmarshal(resp.Body(), &envelope); err != nil {
		return &APIError{Op: path, Message: "malformed response: " + err.Error(), Transient: true}
	}
	if envelope.Code != 0 {
		return &APIError{Op: path, Code: envelope.Code, Message: envelope.Msg, Transient: false}
	}

	if out != nil {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return &APIError{Op: path, Message: "malformed payload: " + err.Error(), Transient: true}
		}
	}
	return nil
}

func (c *Client) GetAccount(ctx context.Context) (*model.AccountSnapshot, error) {
	var payload accountPayload
	if err := c.do(ctx, resty.MethodGet, "/v1/account", nil, nil, &payload); err != nil {
		logger.WithError(err).Error("gateway: failed to fetch account")
		return nil, err
	}

	snapshot := &model.AccountSnapshot{
		CashByCurrency:      payload.Cash,
		BuyPowerByCurrency:  payload.BuyPower,
		NetAssetsByCurrency: payload.NetAssets,
		Positions:           mapPositions(payload.Positions),
		FetchedAt:           time.Now(),
	}
	return snapshot, nil
}

func (c *Client) GetPositions(ctx context.Context) ([]model.Position, error) {
	var payload []positionPayload
	if err := c.do(ctx, resty.MethodGet, "/v1/positions", nil, nil, &payload); err != nil {
		logger.WithError(err).Error("gateway: failed to fetch positions")
		return nil, err
	}
	return mapPositions(payload), nil
}

func (c *Client) GetQuote(ctx context.Context, instrument string) (*Quote, error) {
	var payload quotePayload
	err := c.do(ctx, resty.MethodGet, "/v1/quote",
		map[string]string{"instrument": instrument}, nil, &payload)
	if err != nil {
		return nil, err
	}

	return &Quote{
		Instrument: payload.Instrument,
		Last:       payload.Last,
		Bid:        payload.Bid,
		Ask:        payload.Ask,
		Time:       time.Unix(payload.Timestamp, 0).UTC(),
	}, nil
}

func (c *Client) GetCandles(ctx context.Context, instrument string, interval string, limit int) ([]Candle, error) {
	var payload []candlePayload
	err := c.do(ctx, resty.MethodGet, "/v1/candles",
		map[string]string{
			"instrument": instrument,
			"interval":   interval,
			"limit":      strconv.Itoa(limit),
		}, nil, &payload)
	if err != nil {
		return nil, err
	}

	candles := make([]Candle, 0, len(payload))
	for _, p := range payload {
		candles = append(candles, Candle{
			Time:   time.Unix(p.Timestamp, 0).UTC(),
			Open:   p.Open,
			High:   p.High,
			Low:    p.Low,
			Close:  p.Close,
			Volume: p.Volume,
		})
	}
	return candles, nil
}

func (c *Client) GetInstrumentMeta(ctx context.Context, instrument string) (*InstrumentMeta, error) {
	var payload instrumentPayload
	err := c.do(ctx, resty.MethodGet, "/v1/instruments/"+instrument, nil, nil, &payload)
	if err != nil {
		return nil, err
	}

	return &InstrumentMeta{
		Instrument: payload.Instrument,
		LotSize:    payload.LotSize,
		Currency:   payload.Currency,
		Market:     payload.Market,
		Leverage:   payload.Leverage,
	}, nil
}

func (c *Client) SubmitOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	body := map[string]interface{}{
		"client_id":  req.ClientID,
		"instrument": req.Instrument,
		"side":       req.Side,
		"quantity":   req.Quantity,
		"order_type": req.OrderType,
	}
	if req.Price != nil {
		body["price"] = *req.Price
	}

	var payload orderResultPayload
	if err := c.do(ctx, resty.MethodPost, "/v1/orders", nil, body, &payload); err != nil {
		logger.WithFields(logger.Fields{
			"instrument": req.Instrument,
			"side":       req.Side,
			"client_id":  req.ClientID,
		}).WithError(err).Error("gateway: order submission failed")
		return nil, err
	}

	return &OrderResult{
		OrderID:   payload.OrderID,
		FilledQty: payload.FilledQty,
		AvgPrice:  payload.AvgPrice,
		Status:    payload.Status,
	}, nil
}

func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	return c.do(ctx, resty.MethodDelete, "/v1/orders/"+orderID, nil, nil, nil)
}

func (c *Client) EstimateMaxPurchase(ctx context.Context, instrument string, price decimal.Decimal) (decimal.Decimal, error) {
	var payload maxPurchasePayload
	err := c.do(ctx, resty.MethodGet, "/v1/orders/max-purchase",
		map[string]string{
			"instrument": instrument,
			"price":      price.String(),
		}, nil, &payload)
	if err != nil {
		return decimal.Zero, err
	}
	return payload.Quantity, nil
}

func mapPositions(payload []positionPayload) []model.Position {
	positions := make([]model.Position, 0, len(payload))
	for _, p := range payload {
		positions = append(positions, model.Position{
			Instrument: p.Instrument,
			Quantity:   p.Quantity,
			CostPrice:  p.CostPrice,
			EntryTime:  p.EntryTime,
			Currency:   p.Currency,
			Market:     p.Market,
		})
	}
	return positions
}

var _ Broker = (*Client)(nil)
