package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"tradeflow/src/model"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := NewClient(Config{
		BaseURL:   srv.URL,
		APIKey:    "key",
		APISecret: "secret",
		Timeout:   2 * time.Second,
	})
	// The internal retry schedule would slow failure tests down.
	client.http.SetRetryCount(0)
	return client, srv
}

func TestGetAccountDecodesEnvelope(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/account", r.URL.Path)
		require.Equal(t, "key", r.Header.Get("x-api-key"))
		require.NotEmpty(t, r.Header.Get("x-api-signature"))

		w.Write([]byte(`{"code":0,"msg":"","data":{
			"cash":{"USD":"1500.50"},
			"buy_power":{"USD":"3000"},
			"net_assets":{"USD":"5000"},
			"positions":[{"instrument":"XYZ","quantity":"10","cost_price":"99.5","currency":"USD","market":"US"}]
		}}`))
	}))

	snapshot, err := client.GetAccount(context.Background())
	require.NoError(t, err)
	require.True(t, snapshot.Cash("USD").Equal(decimal.RequireFromString("1500.50")))
	require.True(t, snapshot.BuyPower("USD").Equal(decimal.NewFromInt(3000)))
	require.Equal(t, 1, snapshot.PositionCount())
	require.Equal(t, "XYZ", snapshot.Positions[0].Instrument)
}

func TestSubmitOrderSendsBodyAndDecodesFill(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/orders", r.URL.Path)
		w.Write([]byte(`{"code":0,"data":{"order_id":"b-1","filled_qty":"5","avg_price":"100.2","status":"filled"}}`))
	}))

	price := decimal.NewFromInt(100)
	result, err := client.SubmitOrder(context.Background(), OrderRequest{
		ClientID:   "c-1",
		Instrument: "XYZ",
		Side:       model.SideBuy,
		Quantity:   decimal.NewFromInt(5),
		Price:      &price,
		OrderType:  OrderTypeLimit,
	})
	require.NoError(t, err)
	require.Equal(t, "b-1", result.OrderID)
	require.True(t, result.FilledQty.Equal(decimal.NewFromInt(5)))
	require.Equal(t, "filled", result.Status)
}

func TestBusinessErrorIsNotTransient(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":4001,"msg":"instrument suspended"}`))
	}))

	_, err := client.GetQuote(context.Background(), "XYZ")
	require.Error(t, err)
	require.False(t, IsTransient(err))
}

func TestServerErrorIsTransient(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))

	_, err := client.GetQuote(context.Background(), "XYZ")
	require.Error(t, err)
	require.True(t, IsTransient(err))
}

func TestEstimateMaxPurchase(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "XYZ", r.URL.Query().Get("instrument"))
		require.Equal(t, "101.5", r.URL.Query().Get("price"))
		w.Write([]byte(`{"code":0,"data":{"quantity":"42"}}`))
	}))

	qty, err := client.EstimateMaxPurchase(context.Background(), "XYZ", decimal.RequireFromString("101.5"))
	require.NoError(t, err)
	require.True(t, qty.Equal(decimal.NewFromInt(42)))
}
