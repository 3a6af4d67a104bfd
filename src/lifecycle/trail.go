package lifecycle

import (
	"github.com/shopspring/decimal"

	"tradeflow/src/gateway"
)

func isBullish(c gateway.Candle) bool { return c.Close.GreaterThan(c.Open) }

func avgLow(candles []gateway.Candle) decimal.Decimal {
	if len(candles) == 0 {
		return decimal.Zero
	}
	sum := decimal.Zero
	for _, c := range candles {
		sum = sum.Add(c.Low)
	}
	return sum.Div(decimal.NewFromInt(int64(len(candles))))
}

// NextStopLoss computes the trailing stop candidate for a long position.
//
// - gate: previous candle bullish
// - floor: avg(low) over lookback
// - clamp: candidate <= prev.Low
// - update: SL = max(SL, candidate)
func NextStopLoss(currentSL decimal.Decimal, candles []gateway.Candle, lookback int) (newSL decimal.Decimal, moved bool) {
	if len(candles) < 2 {
		return currentSL, false
	}
	if lookback <= 0 {
		lookback = 20
	}
	if lookback > len(candles) {
		lookback = len(candles)
	}

	prev := candles[len(candles)-2]
	if !isBullish(prev) {
		return currentSL, false
	}

	candidate := avgLow(candles[len(candles)-lookback:])
	if candidate.GreaterThan(prev.Low) {
		candidate = prev.Low
	}

	if candidate.GreaterThan(currentSL) {
		return candidate, true
	}
	return currentSL, false
}

// NextTakeProfit pushes the target above the current price by stepPct when a
// reached take-profit is deferred. The target only ever moves up.
func NextTakeProfit(currentTP, price decimal.Decimal, stepPct float64) (newTP decimal.Decimal, moved bool) {
	candidate := price.Mul(decimal.NewFromFloat(1 + stepPct))
	if candidate.GreaterThan(currentTP) {
		return candidate, true
	}
	return currentTP, false
}
