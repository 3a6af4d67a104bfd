package risk

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"tradeflow/src/gateway"
)

func trendCandles(n int, start, step float64) []gateway.Candle {
	candles := make([]gateway.Candle, n)
	ts := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	price := start
	for i := range candles {
		candles[i] = gateway.Candle{
			Time:  ts.Add(time.Duration(i) * time.Minute),
			Close: decimal.NewFromFloat(price),
		}
		price += step
	}
	return candles
}

func TestClassifyRegime(t *testing.T) {
	tests := []struct {
		name    string
		candles []gateway.Candle
		want    Regime
	}{
		{
			name:    "steady uptrend is bull",
			candles: trendCandles(40, 100, 1.5),
			want:    RegimeBull,
		},
		{
			name:    "steady downtrend is bear",
			candles: trendCandles(40, 200, -1.5),
			want:    RegimeBear,
		},
		{
			name:    "flat tape is range",
			candles: trendCandles(40, 100, 0),
			want:    RegimeRange,
		},
		{
			name:    "too little history defaults to range",
			candles: trendCandles(10, 100, 5),
			want:    RegimeRange,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyRegime(tt.candles); got != tt.want {
				t.Fatalf("got %s want %s", got, tt.want)
			}
		})
	}
}

func TestRegimeParamsBearReservesMoreThanBull(t *testing.T) {
	bull := RegimeBull.Params()
	bear := RegimeBear.Params()

	if !bear.ReservedCashFraction.GreaterThan(bull.ReservedCashFraction) {
		t.Fatal("bear regime must reserve more cash than bull")
	}
	if !bear.SizeMultiplier.LessThan(bull.SizeMultiplier) {
		t.Fatal("bear regime must size smaller than bull")
	}
}

func TestUnknownRegimeFallsBackToRange(t *testing.T) {
	if Regime("sideways?").Params() != RegimeRange.Params() {
		t.Fatal("unknown regime should use range params")
	}
}
