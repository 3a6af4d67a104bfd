package lifecycle

import (
	"github.com/shopspring/decimal"

	"tradeflow/src/gateway"
)

// Input is the condensed market picture an urgency policy scores. It is
// derived from recent candles so policies stay independent of the data
// source.
type Input struct {
	TrendDown         bool
	MomentumCrossDown bool
	RSI               float64
	BreakoutUp        bool
	BreakdownDown     bool
	VolumeRatio       float64
}

// UrgencyPolicy condenses the market picture into a single scalar in
// [-1, 1]. Positive values press toward exiting, negative values argue for
// holding. The coefficients are tunable, so policies are swappable without
// touching the manager.
type UrgencyPolicy interface {
	Score(in Input) float64
}

// WeightedPolicy is the default urgency policy: a weighted sum of trend
// direction, momentum-cross state, RSI extremity and breakout context, with
// volume amplifying the breakout terms.
type WeightedPolicy struct {
	TrendWeight     float64
	MomentumWeight  float64
	ExtremityWeight float64
	BreakoutWeight  float64
}

func DefaultPolicy() *WeightedPolicy {
	return &WeightedPolicy{
		TrendWeight:     0.30,
		MomentumWeight:  0.25,
		ExtremityWeight: 0.25,
		BreakoutWeight:  0.20,
	}
}

func (p *WeightedPolicy) Score(in Input) float64 {
	u := 0.0

	if in.TrendDown {
		u += p.TrendWeight
	} else {
		// An intact uptrend argues for holding, but less strongly than a
		// broken one argues for leaving.
		u -= p.TrendWeight / 2
	}

	if in.MomentumCrossDown {
		u += p.MomentumWeight
	}

	switch {
	case in.RSI >= 70:
		u += p.ExtremityWeight * (in.RSI - 70) / 30
	case in.RSI <= 30:
		u -= p.ExtremityWeight * (30 - in.RSI) / 30
	}

	vol := in.VolumeRatio
	if vol > 2 {
		vol = 2
	}
	if vol < 0.5 {
		vol = 0.5
	}
	if in.BreakdownDown {
		u += p.BreakoutWeight * vol / 2
	}
	if in.BreakoutUp {
		u -= p.BreakoutWeight * vol / 2
	}

	if u > 1 {
		u = 1
	}
	if u < -1 {
		u = -1
	}
	return u
}

const (
	fastPeriod = 5
	slowPeriod = 20
	rsiPeriod  = 14
)

// BuildInput reduces recent candles plus the live price to policy inputs.
// With too little history it returns a neutral picture rather than guessing.
func BuildInput(candles []gateway.Candle, price decimal.Decimal) Input {
	neutral := Input{RSI: 50, VolumeRatio: 1}
	if len(candles) < slowPeriod+1 {
		return neutral
	}

	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close.InexactFloat64()
	}

	fast := sma(closes, fastPeriod)
	slow := sma(closes, slowPeriod)
	prevFast := sma(closes[:len(closes)-1], fastPeriod)
	prevSlow := sma(closes[:len(closes)-1], slowPeriod)

	in := Input{
		TrendDown:         fast < slow,
		MomentumCrossDown: prevFast >= prevSlow && fast < slow,
		RSI:               rsi(closes, rsiPeriod),
	}

	// Breakouts are judged against the window that excludes the latest bar,
	// otherwise the bar being judged would widen its own band.
	window := candles[len(candles)-slowPeriod-1 : len(candles)-1]
	high, low := window[0].High, window[0].Low
	volSum := decimal.Zero
	for _, c := range window {
		if c.High.GreaterThan(high) {
			high = c.High
		}
		if c.Low.LessThan(low) {
			low = c.Low
		}
		volSum = volSum.Add(c.Volume)
	}
	in.BreakoutUp = price.GreaterThan(high)
	in.BreakdownDown = price.LessThan(low)

	avgVol := volSum.Div(decimal.NewFromInt(int64(len(window))))
	lastVol := candles[len(candles)-1].Volume
	if avgVol.IsPositive() {
		in.VolumeRatio = lastVol.Div(avgVol).InexactFloat64()
	} else {
		in.VolumeRatio = 1
	}
	return in
}

func sma(values []float64, period int) float64 {
	if len(values) < period || period <= 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values[len(values)-period:] {
		sum += v
	}
	return sum / float64(period)
}

func rsi(closes []float64, period int) float64 {
	if len(closes) < period+1 {
		return 50
	}
	gains, losses := 0.0, 0.0
	for i := len(closes) - period; i < len(closes); i++ {
		delta := closes[i] - closes[i-1]
		if delta > 0 {
			gains += delta
		} else {
			losses -= delta
		}
	}
	if losses == 0 {
		return 100
	}
	rs := gains / losses
	return 100 - 100/(1+rs)
}
