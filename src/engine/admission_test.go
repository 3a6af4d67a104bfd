package engine

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"tradeflow/src/gateway"
	"tradeflow/src/risk"
)

func newTestController(broker *scriptedBroker, clock *fakeClock) *Controller {
	accounts := gateway.NewAccountCache(broker, 5*time.Second).WithClock(clock.Now)
	cfg := Config{
		StalenessPct:         0.03,
		CashFallbackFraction: 0.5,
		RegimeCandleInterval: "1d",
		RegimeCandleLookback: 30,
	}
	return NewController(broker, accounts, risk.DefaultBudgetConfig(), cfg).WithClock(clock.Now)
}

func TestDecideAdmitsLotAlignedQuantity(t *testing.T) {
	broker := newScriptedBroker()
	clock := &fakeClock{t: time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC)}
	broker.account.CashByCurrency["USD"] = decimal.NewFromInt(50000)
	broker.account.BuyPowerByCurrency["USD"] = decimal.NewFromInt(50000)
	broker.account.NetAssetsByCurrency["USD"] = decimal.NewFromInt(100000)
	broker.quotes["XYZ"] = decimal.NewFromInt(100)
	broker.maxPurchase["XYZ"] = decimal.NewFromInt(400)
	broker.meta["XYZ"] = &gateway.InstrumentMeta{
		Instrument: "XYZ",
		LotSize:    decimal.NewFromInt(10),
		Currency:   "USD",
		Leverage:   1,
	}

	c := newTestController(broker, clock)
	quote, _ := broker.GetQuote(context.Background(), "XYZ")

	adm, err := c.Decide(context.Background(), buySignal("XYZ", 75, 100), quote)
	require.NoError(t, err)
	require.Equal(t, AdmissionAdmitted, adm.Status)

	// Quantity is a whole multiple of the 10-share lot and never exceeds
	// the budget at the quoted price.
	require.True(t, adm.Quantity.Mod(decimal.NewFromInt(10)).IsZero(),
		"quantity %s not lot aligned", adm.Quantity)
	require.True(t, adm.Quantity.Mul(quote.Last).LessThanOrEqual(adm.Budget))
}

func TestDecideNeverExceedsBrokerMax(t *testing.T) {
	broker := newScriptedBroker()
	clock := &fakeClock{t: time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC)}
	broker.account.CashByCurrency["USD"] = decimal.NewFromInt(50000)
	broker.account.BuyPowerByCurrency["USD"] = decimal.NewFromInt(50000)
	broker.account.NetAssetsByCurrency["USD"] = decimal.NewFromInt(100000)
	broker.quotes["XYZ"] = decimal.NewFromInt(100)
	broker.maxPurchase["XYZ"] = decimal.NewFromInt(7)

	c := newTestController(broker, clock)
	quote, _ := broker.GetQuote(context.Background(), "XYZ")

	adm, err := c.Decide(context.Background(), buySignal("XYZ", 90, 100), quote)
	require.NoError(t, err)
	require.Equal(t, AdmissionAdmitted, adm.Status)
	require.True(t, adm.Quantity.Equal(decimal.NewFromInt(7)))
}

func TestDecideFallsBackToHalfCashWhenBrokerReportsZero(t *testing.T) {
	broker := newScriptedBroker()
	clock := &fakeClock{t: time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC)}
	broker.account.CashByCurrency["USD"] = decimal.NewFromInt(2000)
	broker.account.BuyPowerByCurrency["USD"] = decimal.NewFromInt(2000)
	broker.account.NetAssetsByCurrency["USD"] = decimal.NewFromInt(100000)
	broker.quotes["XYZ"] = decimal.NewFromInt(100)
	// maxPurchase unset: the broker reports zero headroom.

	c := newTestController(broker, clock)
	quote, _ := broker.GetQuote(context.Background(), "XYZ")

	adm, err := c.Decide(context.Background(), buySignal("XYZ", 90, 100), quote)
	require.NoError(t, err)
	require.Equal(t, AdmissionAdmitted, adm.Status)
	// Half of 2000 cash at 100 caps the quantity at 10.
	require.True(t, adm.Quantity.LessThanOrEqual(decimal.NewFromInt(10)))
	require.True(t, adm.Quantity.IsPositive())
}

func TestDecideDefersWithShortfallWhenNothingFits(t *testing.T) {
	broker := newScriptedBroker()
	clock := &fakeClock{t: time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC)}
	broker.account.CashByCurrency["USD"] = decimal.NewFromInt(50)
	broker.account.BuyPowerByCurrency["USD"] = decimal.NewFromInt(50)
	broker.account.NetAssetsByCurrency["USD"] = decimal.NewFromInt(100000)
	broker.quotes["XYZ"] = decimal.NewFromInt(100)

	c := newTestController(broker, clock)
	quote, _ := broker.GetQuote(context.Background(), "XYZ")

	adm, err := c.Decide(context.Background(), buySignal("XYZ", 90, 100), quote)
	require.NoError(t, err)
	require.Equal(t, AdmissionDeferred, adm.Status)
	require.True(t, adm.Shortfall.IsPositive())
}

func TestDecideRejectsStalePrice(t *testing.T) {
	broker := newScriptedBroker()
	clock := &fakeClock{t: time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC)}
	broker.quotes["XYZ"] = decimal.NewFromInt(110)

	c := newTestController(broker, clock)
	quote, _ := broker.GetQuote(context.Background(), "XYZ")

	adm, err := c.Decide(context.Background(), buySignal("XYZ", 90, 100), quote)
	require.NoError(t, err)
	require.Equal(t, AdmissionRejected, adm.Status)
}
