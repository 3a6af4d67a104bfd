package engine

import (
	"context"
	"math"
	"time"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"tradeflow/src/gateway"
	"tradeflow/src/model"
	"tradeflow/src/risk"
)

// Admission statuses. Insufficient funds is an expected outcome with its own
// path, never an error; only Rejected discards the signal outright.
const (
	AdmissionAdmitted = "admitted"
	AdmissionDeferred = "deferred"
	AdmissionRejected = "rejected"
)

// Admission is the tagged outcome of the precheck for one buy signal.
type Admission struct {
	Status   string
	Quantity decimal.Decimal
	Budget   decimal.Decimal

	// Shortfall is the extra capital needed to admit at least one lot, set
	// on Deferred outcomes so rotation can size what it must free.
	Shortfall decimal.Decimal
	Reason    string
}

// Controller sizes buy signals against the dynamic budget and the broker's
// purchasable headroom.
type Controller struct {
	broker    gateway.Broker
	accounts  *gateway.AccountCache
	budgetCfg risk.BudgetConfig
	cfg       Config
	now       func() time.Time
}

func NewController(broker gateway.Broker, accounts *gateway.AccountCache, budgetCfg risk.BudgetConfig, cfg Config) *Controller {
	return &Controller{
		broker:    broker,
		accounts:  accounts,
		budgetCfg: budgetCfg,
		cfg:       cfg,
		now:       time.Now,
	}
}

// WithClock overrides the time source, used in tests.
func (c *Controller) WithClock(now func() time.Time) *Controller {
	c.now = now
	return c
}

// Decide runs the admission precheck. Errors are infrastructure failures
// worth retrying; every sizing outcome is expressed in the Admission itself.
func (c *Controller) Decide(ctx context.Context, sig model.Signal, quote *gateway.Quote) (Admission, error) {
	price := quote.Last

	if sig.Price.IsPositive() {
		drift, _ := price.Sub(sig.Price).Div(sig.Price).Abs().Float64()
		if drift > c.cfg.StalenessPct {
			return Admission{
				Status: AdmissionRejected,
				Reason: "price drifted from signal beyond staleness threshold",
			}, nil
		}
	}

	meta, err := c.broker.GetInstrumentMeta(ctx, sig.Instrument)
	if err != nil {
		return Admission{}, err
	}
	account, err := c.accounts.Get(ctx)
	if err != nil {
		return Admission{}, err
	}

	candles, err := c.broker.GetCandles(ctx, sig.Instrument, c.cfg.RegimeCandleInterval, c.cfg.RegimeCandleLookback)
	if err != nil {
		return Admission{}, err
	}

	cash := account.Cash(meta.Currency)
	usable := cash
	if bp := account.BuyPower(meta.Currency); bp.GreaterThan(usable) {
		usable = bp
	}

	budget := risk.ComputeBudget(risk.BudgetInput{
		Score:         sig.Score,
		Volatility:    sig.Indicators["volatility"],
		Regime:        risk.ClassifyRegime(candles),
		Now:           c.now(),
		NetAssets:     account.NetAssets(meta.Currency),
		UsableCapital: usable,
	}, c.budgetCfg)

	lot := meta.LotSize
	if !lot.IsPositive() {
		lot = decimal.NewFromInt(1)
	}
	lotCost := price.Mul(lot)

	qty := floorToLot(budget.Div(price), lot)

	maxQty, err := c.broker.EstimateMaxPurchase(ctx, sig.Instrument, price)
	if err != nil {
		return Admission{}, err
	}
	if !maxQty.IsPositive() || maxQty.LessThan(lot) {
		// The broker reports no headroom; fall back to a conservative
		// estimate from same-currency cash before declaring infeasibility.
		fallback := cash.Mul(decimal.NewFromFloat(c.cfg.CashFallbackFraction))
		maxQty = floorToLot(fallback.Div(price), lot)
		logger.WithFields(logger.Fields{
			"instrument": sig.Instrument,
			"max_qty":    maxQty,
		}).Debug("Broker reported no purchasable headroom, using cash fallback")
	} else {
		maxQty = floorToLot(maxQty, lot)
	}

	if maxQty.LessThan(qty) {
		qty = maxQty
	}

	if qty.IsPositive() {
		return Admission{Status: AdmissionAdmitted, Quantity: qty, Budget: budget}, nil
	}

	shortfall := lotCost.Sub(budget)
	if !shortfall.IsPositive() {
		// The budget covered a lot but the broker could not; one lot's
		// worth of capital must come free.
		shortfall = lotCost
	}
	return Admission{
		Status:    AdmissionDeferred,
		Budget:    budget,
		Shortfall: shortfall,
		Reason:    "insufficient funds",
	}, nil
}

func floorToLot(qty, lot decimal.Decimal) decimal.Decimal {
	if !lot.IsPositive() {
		return qty.Floor()
	}
	return qty.Div(lot).Floor().Mul(lot)
}

// notional is the order value used to pick between routing strategies.
func notional(qty, price decimal.Decimal) float64 {
	v, _ := qty.Mul(price).Float64()
	if math.IsNaN(v) {
		return 0
	}
	return v
}
