package lifecycle

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"tradeflow/src/gateway"
	"tradeflow/src/model"
	"tradeflow/src/notify"
	"tradeflow/src/repository"
)

// publisher is the slice of the signal queue the manager needs.
type publisher interface {
	Publish(ctx context.Context, sig model.Signal) (bool, error)
}

// Manager walks every open stop plan on a fixed cadence and drives its
// transitions: stop breaches, the hard safety floor, urgency-driven full and
// partial exits, take-profit deferral with trailing, and the resolution of
// partial-exit observations. It never submits orders itself; exits travel
// through the queue as reserved-priority signals so the engine executes them
// with the same machinery as entries.
type Manager struct {
	plans        *repository.StopPlanRepository
	observations *repository.ObservationRepository
	broker       gateway.Broker
	queue        publisher
	policy       UrgencyPolicy
	notifier     notify.Notifier
	cfg          Config
	now          func() time.Time

	// floorStrikes counts consecutive checks beyond the severe-loss floor
	// per instrument. Only touched from the single check loop.
	floorStrikes map[string]int
}

func NewManager(plans *repository.StopPlanRepository, observations *repository.ObservationRepository, broker gateway.Broker, queue publisher, policy UrgencyPolicy, notifier notify.Notifier, cfg Config) *Manager {
	return &Manager{
		plans:        plans,
		observations: observations,
		broker:       broker,
		queue:        queue,
		policy:       policy,
		notifier:     notifier,
		cfg:          cfg,
		now:          time.Now,
		floorStrikes: map[string]int{},
	}
}

// WithClock overrides the time source, used in tests.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// Run executes CheckOnce on the configured cadence until the context ends.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()

	logger.WithField("interval", m.cfg.CheckInterval).Info("Stop plan manager started")
	for {
		select {
		case <-ctx.Done():
			logger.Info("Stop plan manager stopped")
			return
		case <-ticker.C:
			m.CheckOnce(ctx)
		}
	}
}

// CheckOnce resolves due observations, then evaluates every open plan.
// Failures are per-instrument: one bad quote never blocks the rest.
func (m *Manager) CheckOnce(ctx context.Context) {
	m.resolveDueObservations(ctx)

	plans, err := m.plans.ListOpen(ctx)
	if err != nil {
		logger.WithError(err).Error("Failed to list open stop plans")
		return
	}

	for i := range plans {
		if err := m.checkPlan(ctx, &plans[i]); err != nil {
			logger.WithError(err).WithField("instrument", plans[i].Instrument).
				Error("Stop plan check failed")
		}
	}
}

func (m *Manager) checkPlan(ctx context.Context, plan *model.StopPlan) error {
	quote, err := m.broker.GetQuote(ctx, plan.Instrument)
	if err != nil {
		return err
	}
	price := quote.Last

	if price.LessThanOrEqual(plan.StopLoss) {
		return m.fullExit(ctx, plan, price, model.StopPlanStatusStoppedOut, "stop loss breached")
	}

	if done, err := m.checkSafetyFloor(ctx, plan, price); done || err != nil {
		return err
	}

	candles, err := m.broker.GetCandles(ctx, plan.Instrument, m.cfg.CandleInterval, m.cfg.CandleLookback)
	if err != nil {
		return err
	}
	urgency := m.policy.Score(BuildInput(candles, price))

	log := logger.WithFields(logger.Fields{
		"instrument": plan.Instrument,
		"price":      price,
		"urgency":    urgency,
	})

	if urgency >= m.cfg.FullExitUrgency {
		// Reversal pressure trumps the raw thresholds; lock in what is left
		// before the take-profit is even reached.
		if obs, err := m.observations.FindUnresolved(ctx, plan.Instrument); err == nil && obs != nil {
			if err := m.observations.Resolve(ctx, obs.ID, model.ObservationVerdictExit); err != nil {
				log.WithError(err).Warn("Failed to resolve observation on forced exit")
			}
		}
		return m.fullExit(ctx, plan, price, terminalStatus(plan, price), "exit urgency forced full exit")
	}

	if price.GreaterThanOrEqual(plan.TakeProfit) {
		if urgency <= m.cfg.DeferUrgency {
			// Momentum argues against leaving: trail the target upward and
			// keep holding.
			if newTP, moved := NextTakeProfit(plan.TakeProfit, price, m.cfg.TakeProfitStepPct); moved {
				if err := m.plans.RaiseTakeProfit(ctx, plan.ID, newTP); err != nil {
					return err
				}
				log.WithField("take_profit", newTP).Info("Take profit deferred and trailed")
			}
		} else {
			return m.fullExit(ctx, plan, price, model.StopPlanStatusTookProfit, "take profit reached")
		}
	} else if urgency >= m.cfg.PartialExitUrgency {
		if err := m.partialExit(ctx, plan, price, urgency); err != nil {
			return err
		}
	}

	if newSL, moved := NextStopLoss(plan.StopLoss, candles, m.cfg.TrailLookback); moved {
		if err := m.plans.RaiseStopLoss(ctx, plan.ID, newSL); err != nil {
			return err
		}
		log.WithField("stop_loss", newSL).Info("Stop loss trailed")
	}
	return nil
}

// checkSafetyFloor enforces the drawdown floor that backstops the primary
// stop. It returns done=true when the plan was closed out.
func (m *Manager) checkSafetyFloor(ctx context.Context, plan *model.StopPlan, price decimal.Decimal) (bool, error) {
	if !plan.EntryPrice.IsPositive() {
		return false, nil
	}
	drawdown := plan.EntryPrice.Sub(price).Div(plan.EntryPrice)
	if drawdown.LessThan(decimal.NewFromFloat(m.cfg.SevereLossPct)) {
		delete(m.floorStrikes, plan.Instrument)
		return false, nil
	}

	m.floorStrikes[plan.Instrument]++
	required := m.cfg.SafetyConfirmations
	if plan.Leverage >= m.cfg.HighLeverageMin {
		required = m.cfg.HighLeverageConfirmations
	}
	if m.floorStrikes[plan.Instrument] < required {
		logger.WithFields(logger.Fields{
			"instrument": plan.Instrument,
			"drawdown":   drawdown,
			"strikes":    m.floorStrikes[plan.Instrument],
			"required":   required,
		}).Warn("Severe loss floor hit, awaiting confirmation")
		return true, nil
	}

	delete(m.floorStrikes, plan.Instrument)
	return true, m.fullExit(ctx, plan, price, model.StopPlanStatusStoppedOut, "severe loss safety floor")
}

func (m *Manager) partialExit(ctx context.Context, plan *model.StopPlan, price decimal.Decimal, urgency float64) error {
	pending, err := m.observations.FindUnresolved(ctx, plan.Instrument)
	if err != nil {
		return err
	}
	if pending != nil {
		// The previous partial is still under observation; its deadline
		// decides the remainder, not another sale.
		return nil
	}

	meta, err := m.broker.GetInstrumentMeta(ctx, plan.Instrument)
	if err != nil {
		return err
	}

	partialQty := plan.Quantity.Mul(decimal.NewFromFloat(m.cfg.PartialExitFraction))
	if meta.LotSize.IsPositive() {
		partialQty = partialQty.Div(meta.LotSize).Floor().Mul(meta.LotSize)
	}
	if !partialQty.IsPositive() {
		// The fraction lands below one lot; nothing routable to sell, so
		// the remainder stays on the full-exit thresholds.
		logger.WithFields(logger.Fields{
			"instrument": plan.Instrument,
			"lot_size":   meta.LotSize,
		}).Debug("Partial exit below one lot, skipping")
		return nil
	}

	accepted, err := m.publishExit(ctx, plan.Instrument, price, &partialQty, "elevated exit urgency, partial exit")
	if err != nil {
		return err
	}
	if !accepted {
		return nil
	}

	now := m.now()
	obs := &model.PartialExitObservation{
		Instrument:       plan.Instrument,
		StopPlanID:       plan.ID,
		PartialQty:       partialQty,
		RemainingQty:     plan.Quantity.Sub(partialQty),
		UrgencyAtPartial: urgency,
		Price:            price,
		OpenedAt:         now,
		Deadline:         now.Add(m.cfg.ObservationTTL),
	}
	if err := m.observations.Open(ctx, obs); err != nil {
		return err
	}

	logger.WithFields(logger.Fields{
		"instrument":  plan.Instrument,
		"partial_qty": partialQty,
		"remaining":   obs.RemainingQty,
		"deadline":    obs.Deadline,
	}).Info("Partial exit published, observation opened")
	return nil
}

// resolveDueObservations recomputes urgency for every observation past its
// deadline: continued deterioration exits the remainder, recovery holds it,
// and an ambiguous reading extends the deadline once. After the one
// extension, ambiguity resolves to exit.
func (m *Manager) resolveDueObservations(ctx context.Context) {
	due, err := m.observations.ListDue(ctx, m.now())
	if err != nil {
		logger.WithError(err).Error("Failed to list due observations")
		return
	}

	for i := range due {
		obs := &due[i]
		log := logger.WithFields(logger.Fields{
			"instrument":     obs.Instrument,
			"observation_id": obs.ID,
		})

		plan, err := m.plans.FindOpen(ctx, obs.Instrument)
		if err != nil {
			if errors.Is(err, repository.ErrDuplicateActivePlan) {
				m.notifier.Sendf("HALT %s: duplicate active stop plan, manual intervention required", obs.Instrument)
			}
			log.WithError(err).Error("Failed to load plan for due observation")
			continue
		}
		if plan == nil {
			// Position already closed elsewhere, nothing left to decide.
			if err := m.observations.Resolve(ctx, obs.ID, model.ObservationVerdictHold); err != nil {
				log.WithError(err).Warn("Failed to resolve orphaned observation")
			}
			continue
		}

		quote, err := m.broker.GetQuote(ctx, obs.Instrument)
		if err != nil {
			log.WithError(err).Error("Failed to fetch quote for due observation")
			continue
		}
		candles, err := m.broker.GetCandles(ctx, obs.Instrument, m.cfg.CandleInterval, m.cfg.CandleLookback)
		if err != nil {
			log.WithError(err).Error("Failed to fetch candles for due observation")
			continue
		}
		urgency := m.policy.Score(BuildInput(candles, quote.Last))

		switch {
		case urgency >= m.cfg.PartialExitUrgency:
			if err := m.observations.Resolve(ctx, obs.ID, model.ObservationVerdictExit); err != nil {
				log.WithError(err).Error("Failed to resolve observation")
				continue
			}
			if err := m.fullExit(ctx, plan, quote.Last, terminalStatus(plan, quote.Last), "observation deadline, deterioration continued"); err != nil {
				log.WithError(err).Error("Failed to exit observation remainder")
			}

		case urgency <= m.cfg.RecoveryUrgency:
			if err := m.observations.Resolve(ctx, obs.ID, model.ObservationVerdictHold); err != nil {
				log.WithError(err).Error("Failed to resolve observation")
				continue
			}
			log.WithField("urgency", urgency).Info("Observation resolved, holding remainder")

		default:
			extended, err := m.observations.Extend(ctx, obs.ID, m.now().Add(m.cfg.ObservationTTL))
			if err != nil {
				log.WithError(err).Error("Failed to extend observation")
				continue
			}
			if extended {
				log.WithField("urgency", urgency).Info("Observation ambiguous, deadline extended")
				continue
			}
			// Extension already used: ambiguity after a second look is
			// resolved conservatively.
			if err := m.observations.Resolve(ctx, obs.ID, model.ObservationVerdictExit); err != nil {
				log.WithError(err).Error("Failed to resolve observation")
				continue
			}
			if err := m.fullExit(ctx, plan, quote.Last, terminalStatus(plan, quote.Last), "observation still ambiguous after extension"); err != nil {
				log.WithError(err).Error("Failed to exit observation remainder")
			}
		}
	}
}

// fullExit publishes a reserved-priority exit for the whole remaining
// position, moves the plan to its terminal status and notifies once with the
// rationale.
func (m *Manager) fullExit(ctx context.Context, plan *model.StopPlan, price decimal.Decimal, status, reason string) error {
	if _, err := m.publishExit(ctx, plan.Instrument, price, nil, reason); err != nil {
		return err
	}
	if err := m.plans.Terminate(ctx, plan.ID, status); err != nil {
		return err
	}
	delete(m.floorStrikes, plan.Instrument)

	logger.WithFields(logger.Fields{
		"instrument": plan.Instrument,
		"price":      price,
		"status":     status,
		"reason":     reason,
	}).Warn("Full exit published")
	m.notifier.Sendf("EXIT %s @ %s (%s): %s", plan.Instrument, price, status, reason)
	return nil
}

func (m *Manager) publishExit(ctx context.Context, instrument string, price decimal.Decimal, qty *decimal.Decimal, reason string) (bool, error) {
	accepted, err := m.queue.Publish(ctx, model.Signal{
		Instrument: instrument,
		Side:       model.SideSell,
		Kind:       model.SignalKindExit,
		Score:      100,
		Price:      price,
		Quantity:   qty,
		Reasons:    []string{reason},
		CreatedAt:  m.now(),
	})
	if err != nil {
		return false, err
	}
	if !accepted {
		// An exit for this instrument is already in flight; the dedup key
		// makes a second publish a no-op.
		logger.WithField("instrument", instrument).Debug("Exit already queued, publish skipped")
	}
	return accepted, nil
}

// terminalStatus picks the terminal plan status for urgency-driven exits by
// which side of the entry price the exit lands on.
func terminalStatus(plan *model.StopPlan, price decimal.Decimal) string {
	if price.GreaterThanOrEqual(plan.EntryPrice) {
		return model.StopPlanStatusTookProfit
	}
	return model.StopPlanStatusStoppedOut
}
