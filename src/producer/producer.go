// Package producer runs one polling loop per watched instrument, asks the
// scoring oracle for a verdict and publishes accepted signals to the queue.
// The market-session gate lives here and nowhere else: downstream components
// assume every queued signal was produced inside a tradable window.
package producer

import (
	"context"
	"sync"
	"time"

	logger "github.com/sirupsen/logrus"

	"tradeflow/src/feed"
	"tradeflow/src/gateway"
	"tradeflow/src/model"
	"tradeflow/src/oracle"
	"tradeflow/src/risk"
)

type publisher interface {
	Publish(ctx context.Context, sig model.Signal) (bool, error)
}

type Producer struct {
	broker  gateway.Broker
	scorer  oracle.Scorer
	queue   publisher
	session risk.SessionConfig
	cfg     Config

	now func() time.Time

	mu       sync.Mutex
	cooldown map[string]time.Time
}

func NewProducer(broker gateway.Broker, scorer oracle.Scorer, queue publisher, session risk.SessionConfig, cfg Config) *Producer {
	return &Producer{
		broker:   broker,
		scorer:   scorer,
		queue:    queue,
		session:  session,
		cfg:      cfg,
		now:      time.Now,
		cooldown: map[string]time.Time{},
	}
}

func (p *Producer) WithClock(now func() time.Time) *Producer {
	p.now = now
	return p
}

// Run blocks until ctx is cancelled, polling every instrument on its own
// ticker. Instruments share nothing but the queue and the cooldown map.
func (p *Producer) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, instrument := range p.cfg.Instruments {
		wg.Add(1)
		go func(instrument string) {
			defer wg.Done()
			p.watch(ctx, instrument)
		}(instrument)
	}
	wg.Wait()
}

// tickSource is the push-feed surface RunStream consumes.
type tickSource interface {
	Subscribe(instrument string) <-chan feed.Tick
	Run(ctx context.Context)
}

// RunStream drives scoring off the push feed instead of timers. Ticks act
// only as triggers; candle history still comes from the gateway. The poll
// interval acts as a floor between scoring passes per instrument so a busy
// tape cannot flood the oracle.
func (p *Producer) RunStream(ctx context.Context, source tickSource) {
	var wg sync.WaitGroup
	for _, instrument := range p.cfg.Instruments {
		ch := source.Subscribe(instrument)
		wg.Add(1)
		go func(instrument string, ch <-chan feed.Tick) {
			defer wg.Done()
			p.stream(ctx, instrument, ch)
		}(instrument, ch)
	}
	go source.Run(ctx)
	wg.Wait()
}

func (p *Producer) stream(ctx context.Context, instrument string, ch <-chan feed.Tick) {
	log := logger.WithField("instrument", instrument)
	log.Info("Producer stream started")

	var lastPass time.Time
	for {
		select {
		case <-ctx.Done():
			log.Info("Producer stream stopped")
			return
		case <-ch:
			now := p.now()
			if now.Sub(lastPass) < p.cfg.PollInterval {
				continue
			}
			lastPass = now
			if err := p.PollOnce(ctx, instrument); err != nil {
				log.WithError(err).Error("Poll failed")
			}
		}
	}
}

func (p *Producer) watch(ctx context.Context, instrument string) {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	log := logger.WithField("instrument", instrument)
	log.Info("Producer loop started")

	for {
		select {
		case <-ctx.Done():
			log.Info("Producer loop stopped")
			return
		case <-ticker.C:
			if err := p.PollOnce(ctx, instrument); err != nil {
				log.WithError(err).Error("Poll failed")
			}
		}
	}
}

// PollOnce runs a single scoring pass for one instrument.
func (p *Producer) PollOnce(ctx context.Context, instrument string) error {
	now := p.now()
	log := logger.WithField("instrument", instrument)

	if !risk.TradingAllowed(now, p.session) {
		log.Debug("Outside tradable session, skipping")
		return nil
	}

	candles, err := p.broker.GetCandles(ctx, instrument, p.cfg.CandleInterval, p.cfg.CandleLookback)
	if err != nil {
		return err
	}

	res, err := p.scorer.Score(ctx, instrument, candles)
	if err != nil {
		return err
	}
	if res == nil {
		return nil
	}
	if res.Score < p.cfg.MinScore {
		log.WithField("score", res.Score).Debug("Score below threshold, skipping")
		return nil
	}

	kind := model.SignalKindEntry
	if res.Side == model.SideSell {
		kind = model.SignalKindExit
	}

	// Cooldown only throttles entries: a sell verdict on a held position
	// must never wait out a quiet period.
	if kind == model.SignalKindEntry && p.onCooldown(instrument, now) {
		log.Debug("Instrument on cooldown, skipping")
		return nil
	}

	quote, err := p.broker.GetQuote(ctx, instrument)
	if err != nil {
		return err
	}

	indicators := res.Indicators
	if indicators == nil {
		indicators = map[string]float64{}
	}
	indicators["volatility"] = res.Volatility

	sig := model.Signal{
		Instrument: instrument,
		Side:       res.Side,
		Kind:       kind,
		Score:      res.Score,
		Price:      quote.Last,
		StopLoss:   res.StopLoss,
		TakeProfit: res.TakeProfit,
		Indicators: indicators,
		Reasons:    res.Reasons,
		CreatedAt:  now,
	}

	accepted, err := p.queue.Publish(ctx, sig)
	if err != nil {
		return err
	}
	if !accepted {
		log.WithField("side", sig.Side).Debug("Duplicate signal suppressed by queue")
		return nil
	}

	if kind == model.SignalKindEntry {
		p.setCooldown(instrument, now.Add(p.cfg.Cooldown))
	}

	log.WithFields(logger.Fields{
		"side":  sig.Side,
		"score": sig.Score,
		"price": sig.Price,
	}).Info("Signal published")
	return nil
}

func (p *Producer) onCooldown(instrument string, now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	until, ok := p.cooldown[instrument]
	return ok && now.Before(until)
}

func (p *Producer) setCooldown(instrument string, until time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cooldown[instrument] = until
}
