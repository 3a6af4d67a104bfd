package risk

import (
	"github.com/shopspring/decimal"

	"tradeflow/src/gateway"
)

// Regime is a coarse market-condition classification used to scale risk
// parameters: how much cash stays in reserve and how hard positions size up.
type Regime string

const (
	RegimeBull  Regime = "bull"
	RegimeRange Regime = "range"
	RegimeBear  Regime = "bear"
)

// RegimeParams are the risk knobs attached to a regime.
type RegimeParams struct {
	// ReservedCashFraction of usable capital is never committed.
	ReservedCashFraction decimal.Decimal
	// SizeMultiplier scales the score-derived position size.
	SizeMultiplier decimal.Decimal
}

var regimeParams = map[Regime]RegimeParams{
	RegimeBull:  {ReservedCashFraction: decimal.NewFromFloat(0.10), SizeMultiplier: decimal.NewFromFloat(1.2)},
	RegimeRange: {ReservedCashFraction: decimal.NewFromFloat(0.25), SizeMultiplier: decimal.NewFromFloat(1.0)},
	RegimeBear:  {ReservedCashFraction: decimal.NewFromFloat(0.45), SizeMultiplier: decimal.NewFromFloat(0.6)},
}

// Params returns the risk knobs for a regime; unknown regimes get the
// range-bound defaults.
func (r Regime) Params() RegimeParams {
	if p, ok := regimeParams[r]; ok {
		return p
	}
	return regimeParams[RegimeRange]
}

const (
	regimeShortWindow = 10
	regimeLongWindow  = 30

	// trendBand is the fractional distance between the short and long
	// moving averages beyond which the market counts as trending.
	trendBand = 0.015
)

// ClassifyRegime reads a bull/range/bear label from recent candles by
// comparing a short and a long close-price moving average. With too little
// history it reports range, the conservative middle.
func ClassifyRegime(candles []gateway.Candle) Regime {
	if len(candles) < regimeLongWindow {
		return RegimeRange
	}

	shortMA := avgClose(candles[len(candles)-regimeShortWindow:])
	longMA := avgClose(candles[len(candles)-regimeLongWindow:])
	if longMA.IsZero() {
		return RegimeRange
	}

	band := longMA.Mul(decimal.NewFromFloat(trendBand))
	switch {
	case shortMA.GreaterThan(longMA.Add(band)):
		return RegimeBull
	case shortMA.LessThan(longMA.Sub(band)):
		return RegimeBear
	default:
		return RegimeRange
	}
}

func avgClose(candles []gateway.Candle) decimal.Decimal {
	if len(candles) == 0 {
		return decimal.Zero
	}
	sum := decimal.Zero
	for _, c := range candles {
		sum = sum.Add(c.Close)
	}
	return sum.Div(decimal.NewFromInt(int64(len(candles))))
}
