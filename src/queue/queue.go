// Package queue implements the durable signal-delivery channel between the
// producer and the execution engine: priority-ordered, deduplicated per
// (instrument, side), with delayed retries, dead-lettering and crash
// recovery via lease sweeping.
package queue

import (
	"context"
	"time"

	logger "github.com/sirupsen/logrus"

	"tradeflow/src/model"
	"tradeflow/src/repository"
)

type queueRepository interface {
	Publish(ctx context.Context, entry *model.SignalEntry) (bool, error)
	Claim(ctx context.Context, leaseTTL time.Duration) (*model.SignalEntry, time.Duration, error)
	Ack(ctx context.Context, entryID uint, leaseToken string) error
	Requeue(ctx context.Context, entryID uint, leaseToken string, retryAfter time.Time, priority, retryCount, fundsRetries int, lastError string) error
	Bury(ctx context.Context, entryID uint, leaseToken string, reason string) error
	SweepZombies(ctx context.Context, staleAfter time.Duration) (int64, error)
	ExpireOverdue(ctx context.Context) (int64, error)
	PeekDelayed(ctx context.Context, limit int) ([]model.SignalEntry, error)
	PeekDead(ctx context.Context, minScore float64, maxAge time.Duration, limit int) ([]model.SignalEntry, error)
	Resurrect(ctx context.Context, entryID uint, dedupKey string, expiresAt time.Time) (bool, error)
	Depth(ctx context.Context) (int64, error)
}

// SignalQueue applies retry policy on top of the repository's atomic state
// transitions. Multiple consumers may share one queue; correctness rests on
// the repository's conditional updates, not on anything in this layer.
type SignalQueue struct {
	repo queueRepository
	cfg  Config
	now  func() time.Time
}

func NewSignalQueue(cfg Config) *SignalQueue {
	return &SignalQueue{
		repo: repository.NewQueueRepository(),
		cfg:  cfg,
		now:  time.Now,
	}
}

// WithRepository overrides the backing repository. Tests use this together
// with a sqlite-backed repository and a fake clock.
func (q *SignalQueue) WithRepository(repo queueRepository) *SignalQueue {
	return &SignalQueue{repo: repo, cfg: q.cfg, now: q.now}
}

// WithClock overrides the service clock.
func (q *SignalQueue) WithClock(now func() time.Time) *SignalQueue {
	return &SignalQueue{repo: q.repo, cfg: q.cfg, now: now}
}

// Publish enqueues a signal unless its (instrument, side) key is already
// live. Priority comes from the score, except exit signals which carry the
// reserved override priority.
func (q *SignalQueue) Publish(ctx context.Context, sig model.Signal) (bool, error) {
	now := q.now()
	key := sig.Key()
	priority := sig.Priority()

	entry := &model.SignalEntry{
		Instrument:   sig.Instrument,
		Side:         sig.Side,
		Kind:         sig.Kind,
		DedupKey:     &key,
		Score:        sig.Score,
		Price:        sig.Price,
		StopLoss:     sig.StopLoss,
		TakeProfit:   sig.TakeProfit,
		Quantity:     sig.Quantity,
		Indicators:   sig.Indicators,
		Reasons:      sig.Reasons,
		State:        model.EntryStateQueued,
		BasePriority: priority,
		Priority:     priority,
		RetryAfter:   now,
		ExpiresAt:    now.Add(q.cfg.HardTTL),
	}

	accepted, err := q.repo.Publish(ctx, entry)
	if err != nil {
		return false, err
	}

	logger.WithFields(logger.Fields{
		"instrument": sig.Instrument,
		"side":       sig.Side,
		"kind":       sig.Kind,
		"score":      sig.Score,
		"accepted":   accepted,
	}).Debug("Signal published")

	return accepted, nil
}

// Consume leases the best ready entry. When nothing is ready it returns a
// nil entry plus the minimum remaining delay of pending retries, so callers
// can sleep instead of hot-polling.
func (q *SignalQueue) Consume(ctx context.Context, leaseTTL time.Duration) (*model.SignalEntry, time.Duration, error) {
	if expired, err := q.repo.ExpireOverdue(ctx); err != nil {
		return nil, 0, err
	} else if expired > 0 {
		logger.WithField("expired", expired).Warn("Force-expired queue entries past hard TTL")
	}

	return q.repo.Claim(ctx, leaseTTL)
}

// Ack completes an entry, discarding it and freeing its dedup key.
func (q *SignalQueue) Ack(ctx context.Context, entry *model.SignalEntry) error {
	return q.repo.Ack(ctx, entry.ID, leaseToken(entry))
}

// Nack handles a failed delivery. Retryable failures within budget and TTL go
// back to queued with exponential backoff and a priority penalty; everything
// else is dead-lettered with the error recorded.
func (q *SignalQueue) Nack(ctx context.Context, entry *model.SignalEntry, cause error, retryable bool) error {
	reason := ""
	if cause != nil {
		reason = cause.Error()
	}

	if !retryable {
		return q.repo.Bury(ctx, entry.ID, leaseToken(entry), reason)
	}

	retryCount := entry.RetryCount + 1
	if retryCount > q.cfg.MaxRetries {
		logger.WithFields(logger.Fields{
			"instrument": entry.Instrument,
			"side":       entry.Side,
			"retries":    entry.RetryCount,
		}).Warn("Retry budget exhausted, dead-lettering")
		return q.repo.Bury(ctx, entry.ID, leaseToken(entry), reason)
	}

	retryAfter := q.now().Add(q.backoff(entry.RetryCount))
	if !retryAfter.Before(entry.ExpiresAt) {
		// The next attempt would land past the hard TTL anyway.
		return q.repo.Bury(ctx, entry.ID, leaseToken(entry), reason)
	}

	return q.repo.Requeue(ctx, entry.ID, leaseToken(entry), retryAfter,
		q.penalized(entry), retryCount, entry.FundsRetries, reason)
}

// Defer parks an entry whose admission failed on funds alone. This is an
// expected outcome, not a failure: it has its own budget and a gentler,
// linearly growing delay. Returns true when the budget ran out and the entry
// was abandoned to the dead letter.
func (q *SignalQueue) Defer(ctx context.Context, entry *model.SignalEntry, reason string) (bool, error) {
	fundsRetries := entry.FundsRetries + 1
	if fundsRetries > q.cfg.MaxFundsRetries {
		if err := q.repo.Bury(ctx, entry.ID, leaseToken(entry), reason); err != nil {
			return false, err
		}
		return true, nil
	}

	retryAfter := q.now().Add(q.cfg.FundsRetryBase * time.Duration(fundsRetries))
	if !retryAfter.Before(entry.ExpiresAt) {
		if err := q.repo.Bury(ctx, entry.ID, leaseToken(entry), reason); err != nil {
			return false, err
		}
		return true, nil
	}

	err := q.repo.Requeue(ctx, entry.ID, leaseToken(entry), retryAfter,
		entry.Priority, entry.RetryCount, fundsRetries, reason)
	return false, err
}

// SweepZombies recovers entries whose consumer died mid-lease.
func (q *SignalQueue) SweepZombies(ctx context.Context, staleAfter time.Duration) (int64, error) {
	return q.repo.SweepZombies(ctx, staleAfter)
}

// PeekDelayed exposes entries waiting on a retry delay.
func (q *SignalQueue) PeekDelayed(ctx context.Context, limit int) ([]model.SignalEntry, error) {
	return q.repo.PeekDelayed(ctx, limit)
}

// PeekDead exposes recent high-value dead-lettered entries.
func (q *SignalQueue) PeekDead(ctx context.Context, minScore float64, maxAge time.Duration, limit int) ([]model.SignalEntry, error) {
	return q.repo.PeekDead(ctx, minScore, maxAge, limit)
}

// Resurrect requeues a dead entry with a fresh retry budget and TTL.
func (q *SignalQueue) Resurrect(ctx context.Context, entry *model.SignalEntry) (bool, error) {
	return q.repo.Resurrect(ctx, entry.ID, entry.Signal().Key(), q.now().Add(q.cfg.HardTTL))
}

// Depth reports how many entries are ready right now; the engine sizes its
// decision window from this.
func (q *SignalQueue) Depth(ctx context.Context) (int64, error) {
	return q.repo.Depth(ctx)
}

// backoff is exponential in the number of prior retries, capped.
func (q *SignalQueue) backoff(priorRetries int) time.Duration {
	d := q.cfg.BackoffBase
	for i := 0; i < priorRetries; i++ {
		d *= 2
		if d >= q.cfg.BackoffCap {
			return q.cfg.BackoffCap
		}
	}
	if d > q.cfg.BackoffCap {
		d = q.cfg.BackoffCap
	}
	return d
}

// penalized lowers the entry's priority per failed attempt. Exit entries are
// never penalized: their override priority is a correctness property.
func (q *SignalQueue) penalized(entry *model.SignalEntry) int {
	if entry.Kind == model.SignalKindExit {
		return entry.Priority
	}
	p := entry.Priority - q.cfg.PriorityPenalty
	if p < 0 {
		p = 0
	}
	return p
}

func leaseToken(entry *model.SignalEntry) string {
	if entry.LeaseToken == nil {
		return ""
	}
	return *entry.LeaseToken
}
