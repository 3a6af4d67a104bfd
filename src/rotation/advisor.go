// Package rotation decides which existing positions to liquidate when a
// stronger opportunity arrives and capital is short.
package rotation

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"tradeflow/src/model"
)

// Config carries the rotation policy knobs.
type Config struct {
	// Baseline is the neutral rotation score every position starts from.
	Baseline float64

	// EligibilityThreshold is the minimum new-signal score for rotation to
	// be considered at all. Below it the advisor always declines; rotation
	// must never occur automatically for mediocre signals.
	EligibilityThreshold float64

	// EligibilityMargin is how far a position's score must trail the new
	// signal's score to be a rotation candidate.
	EligibilityMargin float64

	// MaxRotations caps how many positions one decision may liquidate.
	MaxRotations int

	// FreshAge protects very recent positions; OldAge penalizes stale ones.
	FreshAge time.Duration
	OldAge   time.Duration
}

func DefaultConfig() Config {
	return Config{
		Baseline:             50,
		EligibilityThreshold: 60,
		EligibilityMargin:    15,
		MaxRotations:         3,
		FreshAge:             24 * time.Hour,
		OldAge:               30 * 24 * time.Hour,
	}
}

// Holding is one open position with the market context the advisor scores
// from.
type Holding struct {
	Position model.Position
	Price    decimal.Decimal
	// StopLoss is the position's own stop level from its plan, when one
	// exists.
	StopLoss *decimal.Decimal
}

// Candidate is a scored holding selected (or nearly selected) for rotation.
type Candidate struct {
	Holding Holding
	Score   float64
	// FreedCapital is the estimated proceeds of a full liquidation.
	FreedCapital decimal.Decimal
}

// Recommendation is the advisor's answer.
type Recommendation struct {
	// Declined is set when the new signal is below the eligibility
	// threshold; Candidates is empty in that case.
	Declined bool

	// Covered reports whether the selected candidates free enough capital.
	Covered bool

	Candidates   []Candidate
	FreedCapital decimal.Decimal

	// NearMisses are the best ineligible or unselected positions, reported
	// for manual action when coverage fails.
	NearMisses []Candidate
}

type Advisor struct {
	cfg Config
	now func() time.Time
}

func NewAdvisor(cfg Config) *Advisor {
	return &Advisor{cfg: cfg, now: time.Now}
}

// WithClock overrides the advisor clock for tests.
func (a *Advisor) WithClock(now func() time.Time) *Advisor {
	return &Advisor{cfg: a.cfg, now: now}
}

// Recommend scores every holding and greedily accumulates the weakest
// eligible ones until their estimated freed capital covers the shortfall.
func (a *Advisor) Recommend(newScore float64, shortfall decimal.Decimal, holdings []Holding) Recommendation {
	if newScore < a.cfg.EligibilityThreshold {
		logger.WithFields(logger.Fields{
			"new_score": newScore,
			"threshold": a.cfg.EligibilityThreshold,
		}).Info("rotation declined: signal below eligibility threshold")
		return Recommendation{Declined: true}
	}

	scored := make([]Candidate, 0, len(holdings))
	for _, h := range holdings {
		scored = append(scored, Candidate{
			Holding:      h,
			Score:        a.scoreHolding(h),
			FreedCapital: h.Position.MarketValue(h.Price),
		})
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score < scored[j].Score })

	cutoff := newScore - a.cfg.EligibilityMargin

	rec := Recommendation{}
	for _, c := range scored {
		if c.Score > cutoff || len(rec.Candidates) >= a.cfg.MaxRotations {
			rec.NearMisses = append(rec.NearMisses, c)
			continue
		}
		if rec.FreedCapital.GreaterThanOrEqual(shortfall) {
			// Already covered; don't liquidate more than needed.
			rec.NearMisses = append(rec.NearMisses, c)
			continue
		}
		rec.Candidates = append(rec.Candidates, c)
		rec.FreedCapital = rec.FreedCapital.Add(c.FreedCapital)
	}

	rec.Covered = rec.FreedCapital.GreaterThanOrEqual(shortfall)
	if !rec.Covered {
		logger.WithFields(logger.Fields{
			"shortfall":  shortfall,
			"freed":      rec.FreedCapital,
			"candidates": len(rec.Candidates),
		}).Info("rotation cannot cover shortfall")
	}
	return rec
}

// scoreHolding starts at the neutral baseline and adjusts for P&L, holding
// age and stop proximity. A breached stop forces the minimum: such a
// position is already condemned.
func (a *Advisor) scoreHolding(h Holding) float64 {
	if h.StopLoss != nil && !h.Price.GreaterThan(*h.StopLoss) {
		return 0
	}

	score := a.cfg.Baseline

	pnl := h.Position.PnlPct(h.Price)
	switch {
	case pnl >= 20:
		score += 30
	case pnl >= 10:
		score += 20
	case pnl >= 5:
		score += 10
	case pnl <= -15:
		score -= 30
	case pnl <= -8:
		score -= 20
	case pnl <= -3:
		score -= 10
	}

	age := a.now().Sub(h.Position.EntryTime)
	if age < a.cfg.FreshAge {
		score += 25
	} else if age > a.cfg.OldAge {
		score -= 15
	}

	if h.StopLoss != nil {
		// Within 2% of the stop counts as distressed.
		nearStop := h.StopLoss.Mul(decimal.NewFromFloat(1.02))
		if !h.Price.GreaterThan(nearStop) {
			score -= 15
		}
	}

	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
