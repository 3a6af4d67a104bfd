package lifecycle

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"tradeflow/src/gateway"
)

func candle(open, high, low, close float64) gateway.Candle {
	return gateway.Candle{
		Open:  decimal.NewFromFloat(open),
		High:  decimal.NewFromFloat(high),
		Low:   decimal.NewFromFloat(low),
		Close: decimal.NewFromFloat(close),
	}
}

func TestNextStopLossRaisesBehindBullishCandle(t *testing.T) {
	candles := []gateway.Candle{
		candle(100, 101, 99, 100),
		candle(100, 103, 100, 102), // bullish gate
		candle(102, 104, 101, 103),
	}

	newSL, moved := NextStopLoss(decimal.NewFromInt(95), candles, 3)
	require.True(t, moved)
	// avg(low) = (99+100+101)/3 = 100, clamped to prev.Low = 100.
	require.True(t, newSL.Equal(decimal.NewFromInt(100)), "newSL = %s", newSL)
}

func TestNextStopLossClampsToPrevLow(t *testing.T) {
	candles := []gateway.Candle{
		candle(100, 110, 108, 109),
		candle(109, 112, 105, 111), // bullish, low below the lookback average
		candle(111, 113, 110, 112),
	}

	newSL, moved := NextStopLoss(decimal.NewFromInt(95), candles, 3)
	require.True(t, moved)
	require.True(t, newSL.Equal(decimal.NewFromInt(105)), "newSL = %s", newSL)
}

func TestNextStopLossGatedOnBearishPrev(t *testing.T) {
	candles := []gateway.Candle{
		candle(100, 101, 99, 100),
		candle(102, 103, 99, 100), // bearish
		candle(100, 101, 99, 100),
	}

	newSL, moved := NextStopLoss(decimal.NewFromInt(95), candles, 3)
	require.False(t, moved)
	require.True(t, newSL.Equal(decimal.NewFromInt(95)))
}

func TestNextStopLossNeverLowers(t *testing.T) {
	candles := []gateway.Candle{
		candle(100, 101, 99, 100),
		candle(100, 103, 100, 102),
		candle(102, 104, 101, 103),
	}

	newSL, moved := NextStopLoss(decimal.NewFromInt(110), candles, 3)
	require.False(t, moved)
	require.True(t, newSL.Equal(decimal.NewFromInt(110)))
}

func TestNextStopLossNeedsHistory(t *testing.T) {
	_, moved := NextStopLoss(decimal.NewFromInt(95), []gateway.Candle{candle(100, 101, 99, 100)}, 3)
	require.False(t, moved)
}

func TestNextTakeProfitOnlyMovesUp(t *testing.T) {
	newTP, moved := NextTakeProfit(decimal.NewFromInt(120), decimal.NewFromInt(125), 0.02)
	require.True(t, moved)
	require.True(t, newTP.Equal(decimal.NewFromFloat(127.5)), "newTP = %s", newTP)

	newTP, moved = NextTakeProfit(decimal.NewFromInt(200), decimal.NewFromInt(125), 0.02)
	require.False(t, moved)
	require.True(t, newTP.Equal(decimal.NewFromInt(200)))
}
