package engine

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"tradeflow/src/gateway"
	"tradeflow/src/model"
	"tradeflow/src/notify"
	"tradeflow/src/queue"
	"tradeflow/src/repository"
	"tradeflow/src/risk"
	"tradeflow/src/rotation"
)

var errZeroFill = errors.New("order submitted but nothing filled")

// Deps wires the engine's collaborators.
type Deps struct {
	Queue     *queue.SignalQueue
	Broker    gateway.Broker
	Accounts  *gateway.AccountCache
	Admission *Controller
	Advisor   *rotation.Advisor
	Plans     *repository.StopPlanRepository
	Orders    *repository.OrderRepository
	Notifier  notify.Notifier
	Session   risk.SessionConfig
}

// Engine drains the signal queue and turns admitted signals into orders.
// Several engines may run against the same queue; correctness rests on the
// queue's lease, not on anything in here.
type Engine struct {
	deps Deps
	cfg  Config

	market  Router
	passive Router
	sliced  Router

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func New(deps Deps, cfg Config) *Engine {
	return &Engine{
		deps:    deps,
		cfg:     cfg,
		market:  NewMarketRouter(deps.Broker),
		passive: NewPassiveLimitRouter(deps.Broker, cfg.LimitOffsetPct),
		sliced:  NewTimeSlicedRouter(deps.Broker, cfg.TimeSliceChildren, cfg.TimeSliceInterval),
		now:     time.Now,
		sleep:   sleepCtx,
	}
}

// WithClock overrides the time source, used in tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Run consumes until the context ends.
func (e *Engine) Run(ctx context.Context) {
	logger.Info("Execution engine started")
	for ctx.Err() == nil {
		entry, hint, err := e.deps.Queue.Consume(ctx, e.cfg.LeaseTTL)
		if err != nil {
			logger.WithError(err).Error("Queue consume failed")
			_ = e.sleep(ctx, e.cfg.IdleSleepMax)
			continue
		}
		if entry == nil {
			d := e.cfg.IdleSleepMax
			if hint > 0 && hint < d {
				d = hint
			}
			_ = e.sleep(ctx, d)
			continue
		}

		batch := e.drainBatch(ctx, entry)
		for _, claimed := range batch {
			e.ProcessEntry(ctx, claimed)
		}
	}
	logger.Info("Execution engine stopped")
}

// drainBatch holds the first claimed entry open for a depth-scaled window,
// collecting competitors so capital goes to the best score first. Exits
// short-circuit: the first one claimed ends the drain and the sort puts it
// at the front.
func (e *Engine) drainBatch(ctx context.Context, first *model.SignalEntry) []*model.SignalEntry {
	batch := []*model.SignalEntry{first}
	if first.Kind == model.SignalKindExit {
		return batch
	}

	depth, err := e.deps.Queue.Depth(ctx)
	if err != nil {
		logger.WithError(err).Warn("Queue depth probe failed, executing immediately")
		return batch
	}

	window := decisionWindow(depth+1, e.cfg)
	deadline := e.now().Add(window)
	for window > 0 && e.now().Before(deadline) {
		next, _, err := e.deps.Queue.Consume(ctx, e.cfg.LeaseTTL)
		if err != nil || next == nil {
			break
		}
		batch = append(batch, next)
		if next.Kind == model.SignalKindExit {
			break
		}
	}

	sort.SliceStable(batch, func(i, j int) bool {
		if batch[i].Priority != batch[j].Priority {
			return batch[i].Priority > batch[j].Priority
		}
		return batch[i].ID < batch[j].ID
	})
	return batch
}

// ProcessEntry executes one leased queue entry to its outcome.
func (e *Engine) ProcessEntry(ctx context.Context, entry *model.SignalEntry) {
	sig := entry.Signal()
	if sig.Kind == model.SignalKindExit {
		e.executeExit(ctx, entry, sig)
		return
	}
	e.executeBuy(ctx, entry, sig)
}

func (e *Engine) executeBuy(ctx context.Context, entry *model.SignalEntry, sig model.Signal) {
	log := logger.WithFields(logger.Fields{
		"instrument": sig.Instrument,
		"score":      sig.Score,
	})

	quote, err := e.deps.Broker.GetQuote(ctx, sig.Instrument)
	if err != nil {
		e.nack(ctx, entry, err, gateway.IsTransient(err))
		return
	}

	adm, err := e.deps.Admission.Decide(ctx, sig, quote)
	if err != nil {
		e.nack(ctx, entry, err, gateway.IsTransient(err))
		return
	}

	if adm.Status == AdmissionDeferred {
		adm = e.tryRotation(ctx, sig, quote, adm)
	}

	switch adm.Status {
	case AdmissionAdmitted:
		e.submitBuy(ctx, entry, sig, quote, adm)

	case AdmissionDeferred:
		abandoned, err := e.deps.Queue.Defer(ctx, entry, adm.Reason)
		if err != nil {
			log.WithError(err).Error("Defer failed")
			return
		}
		if abandoned {
			e.deps.Notifier.Sendf("ABANDONED %s buy (score %.0f): %s, funds retry budget exhausted",
				sig.Instrument, sig.Score, adm.Reason)
		} else {
			log.WithField("shortfall", adm.Shortfall).Info("Signal deferred on funds")
		}

	case AdmissionRejected:
		log.WithField("reason", adm.Reason).Warn("Signal rejected at admission")
		e.nack(ctx, entry, errors.New(adm.Reason), false)
	}
}

// tryRotation attempts to free the shortfall by liquidating the weakest
// eligible holdings, then re-runs admission exactly once.
func (e *Engine) tryRotation(ctx context.Context, sig model.Signal, quote *gateway.Quote, adm Admission) Admission {
	if e.deps.Advisor == nil {
		return adm
	}

	holdings, err := e.collectHoldings(ctx)
	if err != nil {
		logger.WithError(err).Warn("Failed to collect holdings for rotation")
		return adm
	}

	rec := e.deps.Advisor.Recommend(sig.Score, adm.Shortfall, holdings)
	if rec.Declined {
		e.deps.Notifier.Sendf("Rotation for %s declined: score %.0f below eligibility, shortfall %s needs manual action",
			sig.Instrument, sig.Score, adm.Shortfall)
		return adm
	}
	if !rec.Covered {
		e.deps.Notifier.Sendf("Rotation for %s declined: shortfall %s uncovered, %d near-miss position(s) need manual review",
			sig.Instrument, adm.Shortfall, len(rec.NearMisses))
		return adm
	}

	for _, cand := range rec.Candidates {
		if !e.liquidate(ctx, cand.Holding, sig.Instrument) {
			return adm
		}
	}
	e.deps.Accounts.Invalidate()

	readm, err := e.deps.Admission.Decide(ctx, sig, quote)
	if err != nil {
		logger.WithError(err).Warn("Re-admission after rotation failed")
		return adm
	}
	return readm
}

// liquidate sells a rotated holding in full. Reports false on zero fill so
// the rotation aborts instead of half-freeing capital.
func (e *Engine) liquidate(ctx context.Context, h rotation.Holding, forInstrument string) bool {
	pos := h.Position
	meta, err := e.deps.Broker.GetInstrumentMeta(ctx, pos.Instrument)
	if err != nil {
		logger.WithError(err).WithField("instrument", pos.Instrument).Error("Rotation liquidation aborted")
		return false
	}

	req := gateway.OrderRequest{
		ClientID:   uuid.NewString(),
		Instrument: pos.Instrument,
		Side:       model.SideSell,
		Quantity:   pos.Quantity,
	}
	res, err := e.passive.Route(ctx, &req, meta)
	if err != nil || res == nil || !res.FilledQty.IsPositive() {
		logger.WithError(err).WithField("instrument", pos.Instrument).Error("Rotation liquidation got no fill")
		return false
	}

	e.recordOrder(ctx, req, res, model.OrderDirectionExit, 0, "rotated out for "+forInstrument)

	if plan, err := e.deps.Plans.FindOpen(ctx, pos.Instrument); err == nil && plan != nil {
		if err := e.deps.Plans.Terminate(ctx, plan.ID, model.StopPlanStatusCancelled); err != nil {
			logger.WithError(err).WithField("instrument", pos.Instrument).Warn("Failed to cancel plan of rotated position")
		}
	}

	e.deps.Notifier.Sendf("ROTATED OUT %s %s @ %s to fund %s",
		pos.Instrument, res.FilledQty, res.AvgPrice, forInstrument)
	return true
}

func (e *Engine) collectHoldings(ctx context.Context) ([]rotation.Holding, error) {
	positions, err := e.deps.Broker.GetPositions(ctx)
	if err != nil {
		return nil, err
	}

	holdings := make([]rotation.Holding, 0, len(positions))
	for _, pos := range positions {
		quote, err := e.deps.Broker.GetQuote(ctx, pos.Instrument)
		if err != nil {
			logger.WithError(err).WithField("instrument", pos.Instrument).Warn("Skipping holding without a quote")
			continue
		}

		h := rotation.Holding{Position: pos, Price: quote.Last}
		if plan, err := e.deps.Plans.FindOpen(ctx, pos.Instrument); err == nil && plan != nil {
			sl := plan.StopLoss
			h.StopLoss = &sl
		}
		holdings = append(holdings, h)
	}
	return holdings, nil
}

func (e *Engine) submitBuy(ctx context.Context, entry *model.SignalEntry, sig model.Signal, quote *gateway.Quote, adm Admission) {
	meta, err := e.deps.Broker.GetInstrumentMeta(ctx, sig.Instrument)
	if err != nil {
		e.nack(ctx, entry, err, gateway.IsTransient(err))
		return
	}

	req := gateway.OrderRequest{
		ClientID:   uuid.NewString(),
		Instrument: sig.Instrument,
		Side:       model.SideBuy,
		Quantity:   adm.Quantity,
	}

	res, err := e.pickRouter(sig, adm, quote).Route(ctx, &req, meta)
	if err != nil && (res == nil || !res.FilledQty.IsPositive()) {
		e.nack(ctx, entry, err, gateway.IsTransient(err))
		return
	}
	if res == nil || !res.FilledQty.IsPositive() {
		// Zero fill mutates nothing; the retry policy decides what happens
		// to the signal.
		e.nack(ctx, entry, errZeroFill, true)
		return
	}

	e.postFill(ctx, entry, sig, meta, req, res)
}

// pickRouter chooses the routing strategy: passive limit is mandatory for
// exits and outside the regular session, large notionals are time-sliced,
// everything else goes to market.
func (e *Engine) pickRouter(sig model.Signal, adm Admission, quote *gateway.Quote) Router {
	if sig.Kind == model.SignalKindExit {
		return e.passive
	}
	if risk.DetectSession(e.now(), e.deps.Session) != risk.SessionUS {
		return e.passive
	}
	if notional(adm.Quantity, quote.Last) >= e.cfg.TimeSliceMinValue {
		return e.sliced
	}
	return e.market
}

// postFill applies the post-fill unit in its fixed order: refresh the cached
// account, persist the order audit, create the stop plan (with optional
// broker-side backup), release the dedup key, notify.
func (e *Engine) postFill(ctx context.Context, entry *model.SignalEntry, sig model.Signal, meta *gateway.InstrumentMeta, req gateway.OrderRequest, res *gateway.OrderResult) {
	e.deps.Accounts.Invalidate()

	e.recordOrder(ctx, req, res, model.OrderDirectionEntry, sig.Score, "entry fill")

	plan := &model.StopPlan{
		Instrument:         sig.Instrument,
		EntryPrice:         res.AvgPrice,
		StopLoss:           exitLevel(sig.StopLoss, res.AvgPrice, -e.cfg.DefaultStopLossPct),
		TakeProfit:         exitLevel(sig.TakeProfit, res.AvgPrice, e.cfg.DefaultTakeProfitPct),
		VolatilityEstimate: sig.Indicators["volatility"],
		Quantity:           res.FilledQty,
		Leverage:           meta.Leverage,
	}
	if err := e.deps.Plans.CreateActive(ctx, plan); err != nil {
		// The fill is real even if the plan write failed; this needs eyes.
		logger.WithError(err).WithField("instrument", sig.Instrument).
			Error("Order filled but stop plan creation failed")
		e.deps.Notifier.Sendf("ATTENTION %s: filled %s but stop plan creation failed: %v",
			sig.Instrument, res.FilledQty, err)
	} else if e.cfg.PlaceBackupOrders {
		e.placeBackupOrder(ctx, plan, res.FilledQty)
	}

	if err := e.deps.Queue.Ack(ctx, entry); err != nil {
		if errors.Is(err, repository.ErrLeaseLost) {
			logger.WithField("instrument", sig.Instrument).
				Warn("Lease lost after fill; entry will be swept, order already booked")
		} else {
			logger.WithError(err).Error("Ack failed after fill")
		}
	}

	e.deps.Notifier.Sendf("FILLED buy %s %s @ %s (score %.0f)",
		sig.Instrument, res.FilledQty, res.AvgPrice, sig.Score)
}

// placeBackupOrder rests a take-profit limit at the broker so the upside
// exit survives this process dying. Failures only log; the local plan is the
// source of truth.
func (e *Engine) placeBackupOrder(ctx context.Context, plan *model.StopPlan, qty decimal.Decimal) {
	tp := plan.TakeProfit
	res, err := e.deps.Broker.SubmitOrder(ctx, gateway.OrderRequest{
		ClientID:   uuid.NewString(),
		Instrument: plan.Instrument,
		Side:       model.SideSell,
		Quantity:   qty,
		Price:      &tp,
		OrderType:  gateway.OrderTypeLimit,
	})
	if err != nil {
		logger.WithError(err).WithField("instrument", plan.Instrument).Warn("Backup take-profit order failed")
		return
	}
	if err := e.deps.Plans.SetBackupOrderRefs(ctx, plan.ID, []string{res.OrderID}); err != nil {
		logger.WithError(err).Warn("Failed to record backup order ref")
	}
}

func (e *Engine) executeExit(ctx context.Context, entry *model.SignalEntry, sig model.Signal) {
	log := logger.WithField("instrument", sig.Instrument)

	positions, err := e.deps.Broker.GetPositions(ctx)
	if err != nil {
		e.nack(ctx, entry, err, gateway.IsTransient(err))
		return
	}

	var pos *model.Position
	for i := range positions {
		if positions[i].Instrument == sig.Instrument {
			pos = &positions[i]
			break
		}
	}
	if pos == nil || !pos.Quantity.IsPositive() {
		log.Warn("Exit signal for an instrument with no position, completing")
		if err := e.deps.Queue.Ack(ctx, entry); err != nil {
			log.WithError(err).Error("Ack failed")
		}
		return
	}

	meta, err := e.deps.Broker.GetInstrumentMeta(ctx, sig.Instrument)
	if err != nil {
		e.nack(ctx, entry, err, gateway.IsTransient(err))
		return
	}

	qty := pos.Quantity
	if sig.Quantity != nil && sig.Quantity.LessThan(qty) {
		qty = floorToLot(*sig.Quantity, meta.LotSize)
		if !qty.IsPositive() {
			// A sub-lot partial rounds up to a single lot, never to the
			// whole position.
			qty = meta.LotSize
			if !qty.IsPositive() {
				qty = decimal.NewFromInt(1)
			}
		}
		if qty.GreaterThan(pos.Quantity) {
			qty = pos.Quantity
		}
	}

	req := gateway.OrderRequest{
		ClientID:   uuid.NewString(),
		Instrument: sig.Instrument,
		Side:       model.SideSell,
		Quantity:   qty,
	}
	res, err := e.passive.Route(ctx, &req, meta)
	if err != nil && (res == nil || !res.FilledQty.IsPositive()) {
		e.nack(ctx, entry, err, gateway.IsTransient(err))
		return
	}
	if res == nil || !res.FilledQty.IsPositive() {
		e.nack(ctx, entry, errZeroFill, true)
		return
	}

	e.deps.Accounts.Invalidate()
	e.recordOrder(ctx, req, res, model.OrderDirectionExit, sig.Score, exitReason(sig))

	if plan, err := e.deps.Plans.FindOpen(ctx, sig.Instrument); err == nil && plan != nil {
		if res.FilledQty.LessThan(plan.Quantity) {
			if err := e.deps.Plans.ApplyPartialExit(ctx, plan.ID, res.FilledQty); err != nil {
				log.WithError(err).Error("Failed to apply partial exit to plan")
			}
		} else {
			// The position is gone; whatever opened this plan no longer
			// governs anything.
			if err := e.deps.Plans.Terminate(ctx, plan.ID, model.StopPlanStatusCancelled); err != nil {
				log.WithError(err).Error("Failed to close plan after full exit")
			}
		}
	} else if err != nil {
		log.WithError(err).Error("Plan lookup failed after exit fill")
	}

	if err := e.deps.Queue.Ack(ctx, entry); err != nil {
		log.WithError(err).Error("Ack failed after exit fill")
	}
	e.deps.Notifier.Sendf("SOLD %s %s @ %s", sig.Instrument, res.FilledQty, res.AvgPrice)
}

// recordOrder persists the audit row plus its fill. Audit failures log and
// continue: the broker state is already real and must win.
func (e *Engine) recordOrder(ctx context.Context, req gateway.OrderRequest, res *gateway.OrderResult, dir string, score float64, reason string) *model.Order {
	order := &model.Order{
		ClientID:    req.ClientID,
		Instrument:  req.Instrument,
		Side:        req.Side,
		OrderDir:    dir,
		OrderType:   req.OrderType,
		Quantity:    req.Quantity,
		Price:       req.Price,
		SignalScore: score,
	}
	if err := e.deps.Orders.CreateWithAutoLog(ctx, order, reason); err != nil {
		logger.WithError(err).WithField("instrument", req.Instrument).Error("Order audit create failed")
		return order
	}

	status := model.OrderStatusFilled
	if res.FilledQty.LessThan(req.Quantity) {
		status = model.OrderStatusPartial
	}
	if err := e.deps.Orders.RecordFill(ctx, order.ID, res.OrderID, res.FilledQty, res.AvgPrice, status); err != nil {
		logger.WithError(err).WithField("instrument", req.Instrument).Error("Order audit fill failed")
	}
	return order
}

func (e *Engine) nack(ctx context.Context, entry *model.SignalEntry, cause error, retryable bool) {
	if err := e.deps.Queue.Nack(ctx, entry, cause, retryable); err != nil {
		logger.WithError(err).WithField("instrument", entry.Instrument).Error("Nack failed")
	}
}

func exitReason(sig model.Signal) string {
	if len(sig.Reasons) > 0 {
		return sig.Reasons[0]
	}
	return "exit signal"
}

// exitLevel picks the oracle-provided threshold or derives one from the fill
// price at the default offset.
func exitLevel(provided *decimal.Decimal, avgPrice decimal.Decimal, offsetPct float64) decimal.Decimal {
	if provided != nil && provided.IsPositive() {
		return *provided
	}
	return avgPrice.Mul(decimal.NewFromFloat(1 + offsetPct))
}
