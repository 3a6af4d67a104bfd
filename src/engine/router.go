package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"tradeflow/src/gateway"
	"tradeflow/src/model"
)

// Router turns an admitted quantity into broker submissions. A zero-fill
// result is not an error; the engine decides what failure means.
type Router interface {
	Route(ctx context.Context, req *gateway.OrderRequest, meta *gateway.InstrumentMeta) (*gateway.OrderResult, error)
}

// MarketRouter submits the whole quantity at market, used for ordinary
// entries during regular hours.
type MarketRouter struct {
	broker gateway.Broker
}

func NewMarketRouter(broker gateway.Broker) *MarketRouter {
	return &MarketRouter{broker: broker}
}

func (r *MarketRouter) Route(ctx context.Context, req *gateway.OrderRequest, meta *gateway.InstrumentMeta) (*gateway.OrderResult, error) {
	req.OrderType = gateway.OrderTypeMarket
	req.Price = nil
	return r.broker.SubmitOrder(ctx, *req)
}

// PassiveLimitRouter posts a single limit order just inside the touch to
// bound slippage. Mandatory outside regular hours and for every exit.
type PassiveLimitRouter struct {
	broker    gateway.Broker
	offsetPct decimal.Decimal
}

func NewPassiveLimitRouter(broker gateway.Broker, offsetPct float64) *PassiveLimitRouter {
	return &PassiveLimitRouter{broker: broker, offsetPct: decimal.NewFromFloat(offsetPct)}
}

func (r *PassiveLimitRouter) Route(ctx context.Context, req *gateway.OrderRequest, meta *gateway.InstrumentMeta) (*gateway.OrderResult, error) {
	quote, err := r.broker.GetQuote(ctx, req.Instrument)
	if err != nil {
		return nil, err
	}

	one := decimal.NewFromInt(1)
	var price decimal.Decimal
	if req.Side == model.SideBuy {
		price = quote.Bid.Mul(one.Add(r.offsetPct))
	} else {
		price = quote.Ask.Mul(one.Sub(r.offsetPct))
	}

	req.OrderType = gateway.OrderTypeLimit
	req.Price = &price
	return r.broker.SubmitOrder(ctx, *req)
}

// TimeSlicedRouter splits a large quantity into child market orders spaced
// across a short window to reduce impact. Child fills aggregate; an error
// mid-slice returns whatever already filled alongside the error.
type TimeSlicedRouter struct {
	broker   gateway.Broker
	children int
	interval time.Duration

	// sleep is swappable in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewTimeSlicedRouter(broker gateway.Broker, children int, interval time.Duration) *TimeSlicedRouter {
	return &TimeSlicedRouter{
		broker:   broker,
		children: children,
		interval: interval,
		sleep:    sleepCtx,
	}
}

func (r *TimeSlicedRouter) Route(ctx context.Context, req *gateway.OrderRequest, meta *gateway.InstrumentMeta) (*gateway.OrderResult, error) {
	children := r.children
	if children < 1 {
		children = 1
	}

	lot := meta.LotSize
	if !lot.IsPositive() {
		lot = decimal.NewFromInt(1)
	}

	req.OrderType = gateway.OrderTypeMarket
	req.Price = nil

	// Each child gets an equal whole-lot share; the remainder rides on the
	// last child.
	lots := req.Quantity.Div(lot).Floor()
	childLots := lots.Div(decimal.NewFromInt(int64(children))).Floor()
	if childLots.IsZero() {
		children = 1
		childLots = lots
	}

	total := &gateway.OrderResult{Status: "filled"}
	remaining := req.Quantity
	weightedCost := decimal.Zero

	for i := 0; i < children; i++ {
		qty := childLots.Mul(lot)
		if i == children-1 {
			qty = remaining
		}
		if !qty.IsPositive() {
			break
		}

		child := *req
		child.ClientID = childClientID(req.ClientID, i)
		child.Quantity = qty

		res, err := r.broker.SubmitOrder(ctx, child)
		if err != nil {
			logger.WithError(err).WithFields(logger.Fields{
				"instrument": req.Instrument,
				"child":      i,
			}).Error("Time-sliced child order failed")
			return finalize(total, weightedCost), err
		}

		total.OrderID = res.OrderID
		total.FilledQty = total.FilledQty.Add(res.FilledQty)
		weightedCost = weightedCost.Add(res.FilledQty.Mul(res.AvgPrice))
		remaining = remaining.Sub(qty)

		if i < children-1 {
			if err := r.sleep(ctx, r.interval); err != nil {
				return finalize(total, weightedCost), err
			}
		}
	}

	return finalize(total, weightedCost), nil
}

func finalize(total *gateway.OrderResult, weightedCost decimal.Decimal) *gateway.OrderResult {
	if total.FilledQty.IsPositive() {
		total.AvgPrice = weightedCost.Div(total.FilledQty)
	}
	return total
}

func childClientID(base string, i int) string {
	return fmt.Sprintf("%s-%d", base, i)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
