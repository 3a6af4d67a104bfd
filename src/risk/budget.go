package risk

import (
	"time"

	"github.com/shopspring/decimal"
)

// BudgetConfig bounds the dynamic position budget.
type BudgetConfig struct {
	// MinPositionPct / MaxPositionPct bound the budget as a fraction of net
	// assets, e.g. 0.02 and 0.15.
	MinPositionPct decimal.Decimal
	MaxPositionPct decimal.Decimal

	// VolatilityDamping shrinks sizing as the volatility estimate grows:
	// multiplier = 1 / (1 + damping * volatility).
	VolatilityDamping decimal.Decimal

	Session SessionConfig
}

func DefaultBudgetConfig() BudgetConfig {
	return BudgetConfig{
		MinPositionPct:    decimal.NewFromFloat(0.02),
		MaxPositionPct:    decimal.NewFromFloat(0.15),
		VolatilityDamping: decimal.NewFromFloat(2.0),
		Session:           DefaultSessionConfig(),
	}
}

// WinRateModel is the optional historical sizing input: observed win rate
// and average payoff ratio for comparable signals.
type WinRateModel struct {
	WinRate     decimal.Decimal
	PayoffRatio decimal.Decimal
}

// kellyFraction is a half-damped Kelly criterion; negative edges return
// zero rather than a short recommendation.
func (m WinRateModel) kellyFraction() decimal.Decimal {
	if m.PayoffRatio.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	lossRate := decimal.NewFromInt(1).Sub(m.WinRate)
	f := m.WinRate.Sub(lossRate.Div(m.PayoffRatio))
	if f.IsNegative() {
		return decimal.Zero
	}
	return f.Mul(decimal.NewFromFloat(0.5))
}

// BudgetInput carries everything one admission decision sizes from.
type BudgetInput struct {
	Score      float64
	Volatility float64
	Regime     Regime
	Now        time.Time

	// NetAssets anchors the percentage bounds; UsableCapital is the largest
	// currently deployable figure (cash, buy power or margin headroom).
	NetAssets     decimal.Decimal
	UsableCapital decimal.Decimal

	// Model is optional; nil disables historical sizing.
	Model *WinRateModel
}

// ComputeBudget derives the capital budget for one buy decision. The result
// is clamped to [MinPositionPct, MaxPositionPct] of net assets and never
// exceeds usable capital minus the regime-scaled reserve. A zero budget
// means the signal should not be sized at all right now.
func ComputeBudget(in BudgetInput, cfg BudgetConfig) decimal.Decimal {
	if in.NetAssets.LessThanOrEqual(decimal.Zero) || in.UsableCapital.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}

	sessionMult, _ := SessionMultiplier(in.Now, cfg.Session)
	if sessionMult.IsZero() {
		return decimal.Zero
	}

	// Score maps linearly onto the [min, max] percentage band.
	scoreFrac := decimal.NewFromFloat(clamp01(in.Score / 100))
	pct := cfg.MinPositionPct.Add(cfg.MaxPositionPct.Sub(cfg.MinPositionPct).Mul(scoreFrac))

	params := in.Regime.Params()
	pct = pct.Mul(params.SizeMultiplier).Mul(sessionMult)

	if in.Volatility > 0 {
		vol := decimal.NewFromFloat(in.Volatility)
		damper := decimal.NewFromInt(1).Div(decimal.NewFromInt(1).Add(cfg.VolatilityDamping.Mul(vol)))
		pct = pct.Mul(damper)
	}

	if in.Model != nil {
		kelly := in.Model.kellyFraction()
		if kelly.IsZero() {
			return decimal.Zero
		}
		if kelly.LessThan(pct) {
			pct = kelly
		}
	}

	// Re-clamp after all multipliers: the band is a hard promise.
	if pct.LessThan(cfg.MinPositionPct) {
		pct = cfg.MinPositionPct
	}
	if pct.GreaterThan(cfg.MaxPositionPct) {
		pct = cfg.MaxPositionPct
	}

	budget := in.NetAssets.Mul(pct)

	reserve := in.UsableCapital.Mul(params.ReservedCashFraction)
	deployable := in.UsableCapital.Sub(reserve)
	if deployable.IsNegative() {
		return decimal.Zero
	}
	if budget.GreaterThan(deployable) {
		budget = deployable
	}
	return budget
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
