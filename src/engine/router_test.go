package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"tradeflow/src/gateway"
	"tradeflow/src/model"
)

func TestPassiveLimitRouterPricesInsideTheTouch(t *testing.T) {
	broker := newScriptedBroker()
	broker.quotes["XYZ"] = decimal.NewFromInt(100)

	r := NewPassiveLimitRouter(broker, 0.001)
	meta := &gateway.InstrumentMeta{Instrument: "XYZ", LotSize: decimal.NewFromInt(1)}

	buy := gateway.OrderRequest{
		ClientID:   "c1",
		Instrument: "XYZ",
		Side:       model.SideBuy,
		Quantity:   decimal.NewFromInt(10),
	}
	_, err := r.Route(context.Background(), &buy, meta)
	require.NoError(t, err)
	require.Equal(t, gateway.OrderTypeLimit, buy.OrderType)
	require.NotNil(t, buy.Price)
	require.True(t, buy.Price.Equal(decimal.NewFromFloat(100.1)), "buy limit %s", buy.Price)

	sell := gateway.OrderRequest{
		ClientID:   "c2",
		Instrument: "XYZ",
		Side:       model.SideSell,
		Quantity:   decimal.NewFromInt(10),
	}
	_, err = r.Route(context.Background(), &sell, meta)
	require.NoError(t, err)
	require.NotNil(t, sell.Price)
	require.True(t, sell.Price.Equal(decimal.NewFromFloat(99.9)), "sell limit %s", sell.Price)
}

func TestTimeSlicedRouterSplitsAndAggregates(t *testing.T) {
	broker := newScriptedBroker()
	broker.quotes["XYZ"] = decimal.NewFromInt(100)

	// Each later child fills a dollar higher so the average is observably
	// volume weighted.
	fills := 0
	broker.onFill = func(req gateway.OrderRequest, res *gateway.OrderResult) {
		res.AvgPrice = decimal.NewFromInt(int64(100 + fills))
		fills++
	}

	r := NewTimeSlicedRouter(broker, 4, 0)
	r.sleep = func(ctx context.Context, d time.Duration) error { return nil }

	meta := &gateway.InstrumentMeta{Instrument: "XYZ", LotSize: decimal.NewFromInt(10)}
	req := gateway.OrderRequest{
		ClientID:   "parent",
		Instrument: "XYZ",
		Side:       model.SideBuy,
		Quantity:   decimal.NewFromInt(1000),
	}

	res, err := r.Route(context.Background(), &req, meta)
	require.NoError(t, err)
	require.Len(t, broker.submitted, 4)
	for i, child := range broker.submitted {
		require.True(t, child.Quantity.Equal(decimal.NewFromInt(250)), "child %d qty %s", i, child.Quantity)
		require.Equal(t, childClientID("parent", i), child.ClientID)
	}
	require.True(t, res.FilledQty.Equal(decimal.NewFromInt(1000)))
	// 250 each at 100, 101, 102, 103 averages 101.5.
	require.True(t, res.AvgPrice.Equal(decimal.NewFromFloat(101.5)), "avg %s", res.AvgPrice)
}

func TestTimeSlicedRouterRemainderRidesLastChild(t *testing.T) {
	broker := newScriptedBroker()
	broker.quotes["XYZ"] = decimal.NewFromInt(100)

	r := NewTimeSlicedRouter(broker, 3, 0)
	r.sleep = func(ctx context.Context, d time.Duration) error { return nil }

	meta := &gateway.InstrumentMeta{Instrument: "XYZ", LotSize: decimal.NewFromInt(10)}
	req := gateway.OrderRequest{
		ClientID:   "parent",
		Instrument: "XYZ",
		Side:       model.SideBuy,
		Quantity:   decimal.NewFromInt(110),
	}

	res, err := r.Route(context.Background(), &req, meta)
	require.NoError(t, err)
	require.Len(t, broker.submitted, 3)
	require.True(t, broker.submitted[0].Quantity.Equal(decimal.NewFromInt(30)))
	require.True(t, broker.submitted[1].Quantity.Equal(decimal.NewFromInt(30)))
	require.True(t, broker.submitted[2].Quantity.Equal(decimal.NewFromInt(50)))
	require.True(t, res.FilledQty.Equal(decimal.NewFromInt(110)))
}

func TestTimeSlicedRouterReturnsPartialFillOnChildError(t *testing.T) {
	broker := newScriptedBroker()
	broker.quotes["XYZ"] = decimal.NewFromInt(100)

	boom := errors.New("boom")
	broker.onFill = func(req gateway.OrderRequest, res *gateway.OrderResult) {}
	failing := &failAfterBroker{scriptedBroker: broker, failAt: 2, err: boom}

	r := NewTimeSlicedRouter(failing, 4, 0)
	r.sleep = func(ctx context.Context, d time.Duration) error { return nil }

	meta := &gateway.InstrumentMeta{Instrument: "XYZ", LotSize: decimal.NewFromInt(1)}
	req := gateway.OrderRequest{
		ClientID:   "parent",
		Instrument: "XYZ",
		Side:       model.SideBuy,
		Quantity:   decimal.NewFromInt(100),
	}

	res, err := r.Route(context.Background(), &req, meta)
	require.ErrorIs(t, err, boom)
	require.True(t, res.FilledQty.Equal(decimal.NewFromInt(50)), "filled %s", res.FilledQty)
	require.True(t, res.AvgPrice.Equal(decimal.NewFromInt(100)))
}

// failAfterBroker fails the Nth order submission.
type failAfterBroker struct {
	*scriptedBroker
	calls  int
	failAt int
	err    error
}

func (b *failAfterBroker) SubmitOrder(ctx context.Context, req gateway.OrderRequest) (*gateway.OrderResult, error) {
	if b.calls == b.failAt {
		b.calls++
		return nil, b.err
	}
	b.calls++
	return b.scriptedBroker.SubmitOrder(ctx, req)
}
