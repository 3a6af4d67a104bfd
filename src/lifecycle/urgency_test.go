package lifecycle

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"tradeflow/src/gateway"
)

func TestWeightedPolicyScore(t *testing.T) {
	policy := DefaultPolicy()

	tests := []struct {
		name string
		in   Input
		min  float64
		max  float64
	}{
		{
			name: "everything deteriorating",
			in: Input{
				TrendDown:         true,
				MomentumCrossDown: true,
				RSI:               85,
				BreakdownDown:     true,
				VolumeRatio:       2,
			},
			min: 0.8,
			max: 1.0,
		},
		{
			name: "healthy uptrend holds",
			in: Input{
				RSI:         55,
				BreakoutUp:  true,
				VolumeRatio: 1.5,
			},
			min: -1.0,
			max: -0.2,
		},
		{
			name: "neutral picture stays below partial threshold",
			in:   Input{RSI: 50, VolumeRatio: 1},
			min:  -0.2,
			max:  0.4,
		},
		{
			name: "oversold pulls toward holding",
			in: Input{
				TrendDown:   true,
				RSI:         15,
				VolumeRatio: 1,
			},
			min: -0.1,
			max: 0.25,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			u := policy.Score(tc.in)
			require.GreaterOrEqual(t, u, tc.min)
			require.LessOrEqual(t, u, tc.max)
			require.GreaterOrEqual(t, u, -1.0)
			require.LessOrEqual(t, u, 1.0)
		})
	}
}

func TestWeightedPolicyMonotoneInRSI(t *testing.T) {
	policy := DefaultPolicy()
	base := Input{TrendDown: true, VolumeRatio: 1}

	prev := -2.0
	for _, r := range []float64{20, 40, 60, 75, 90} {
		in := base
		in.RSI = r
		u := policy.Score(in)
		require.GreaterOrEqual(t, u, prev, "urgency must not drop as RSI rises (rsi=%v)", r)
		prev = u
	}
}

func flatCandles(n int, close float64) []gateway.Candle {
	candles := make([]gateway.Candle, n)
	for i := range candles {
		c := decimal.NewFromFloat(close)
		candles[i] = gateway.Candle{
			Open:   c,
			High:   c.Add(decimal.NewFromInt(1)),
			Low:    c.Sub(decimal.NewFromInt(1)),
			Close:  c,
			Volume: decimal.NewFromInt(1000),
		}
	}
	return candles
}

func TestBuildInputNeutralOnShortHistory(t *testing.T) {
	in := BuildInput(flatCandles(5, 100), decimal.NewFromInt(100))
	require.Equal(t, Input{RSI: 50, VolumeRatio: 1}, in)
}

func TestBuildInputDetectsDowntrendAndBreakdown(t *testing.T) {
	// A long flat stretch followed by a steep slide: fast MA under slow MA
	// and the last price under the prior window's low band.
	candles := flatCandles(40, 100)
	price := 100.0
	for i := 0; i < 10; i++ {
		price -= 3
		o := decimal.NewFromFloat(price + 3)
		c := decimal.NewFromFloat(price)
		candles = append(candles, gateway.Candle{
			Open:   o,
			High:   o,
			Low:    c,
			Close:  c,
			Volume: decimal.NewFromInt(3000),
		})
	}

	in := BuildInput(candles, decimal.NewFromFloat(price-5))
	require.True(t, in.TrendDown)
	require.True(t, in.BreakdownDown)
	require.False(t, in.BreakoutUp)
	require.Less(t, in.RSI, 30.0)
	require.Greater(t, in.VolumeRatio, 1.0)
}

func TestBuildInputDetectsBreakoutUp(t *testing.T) {
	candles := flatCandles(40, 100)

	in := BuildInput(candles, decimal.NewFromInt(150))
	require.True(t, in.BreakoutUp)
	require.False(t, in.BreakdownDown)
	require.False(t, in.TrendDown)
}
