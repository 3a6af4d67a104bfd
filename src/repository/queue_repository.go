package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"tradeflow/src/database"
	"tradeflow/src/model"
)

// ErrLeaseLost is returned when an ack/requeue/bury finds the entry no longer
// held under the caller's lease (zombie sweep or a competing consumer won).
var ErrLeaseLost = errors.New("queue entry lease lost")

// claimCandidates is how many ready entries a single Claim attempt inspects
// before giving up; each candidate is taken with a conditional update, so a
// losing race just moves on to the next row.
const claimCandidates = 8

// QueueRepository owns the raw transactional operations on signal_entries.
// Retry policy (backoff, penalties, budgets) lives in the queue service; this
// layer only guarantees the state transitions are atomic.
type QueueRepository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewQueueRepository creates a repository on the main database connection.
func NewQueueRepository() *QueueRepository {
	return &QueueRepository{db: database.MainDB, now: time.Now}
}

// WithDB allows overriding the underlying *gorm.DB instance.
// Useful for tests or custom sessions/transactions.
func (r *QueueRepository) WithDB(db *gorm.DB) *QueueRepository {
	return &QueueRepository{db: db, now: r.nowFunc()}
}

// WithClock overrides the repository clock. Tests use this to step time
// through lease expiry and TTL windows deterministically.
func (r *QueueRepository) WithClock(now func() time.Time) *QueueRepository {
	return &QueueRepository{db: r.db, now: now}
}

func (r *QueueRepository) nowFunc() func() time.Time {
	if r.now == nil {
		return time.Now
	}
	return r.now
}

// Publish inserts a new live entry unless one with the same dedup key is
// already queued or processing. Returns false when rejected by dedup.
func (r *QueueRepository) Publish(ctx context.Context, entry *model.SignalEntry) (bool, error) {
	accepted := false

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&model.SignalEntry{}).
			Where("dedup_key = ?", entry.DedupKey).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return nil
		}

		if err := tx.Create(entry).Error; err != nil {
			// The unique index on dedup_key backstops the check above when
			// two publishers race between count and insert.
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return nil
			}
			return err
		}

		accepted = true
		return nil
	})
	if err != nil {
		logger.WithFields(logger.Fields{
			"repo":       "QueueRepository",
			"op":         "Publish",
			"instrument": entry.Instrument,
			"side":       entry.Side,
		}).WithError(err).Error("Failed to publish queue entry")
		return false, err
	}

	return accepted, nil
}

// Claim atomically moves the highest-priority ready entry to processing and
// returns it under a fresh lease. When nothing is ready but delayed entries
// exist, it returns (nil, minRemainingDelay, nil) so callers can sleep
// instead of hot-polling.
func (r *QueueRepository) Claim(ctx context.Context, leaseTTL time.Duration) (*model.SignalEntry, time.Duration, error) {
	now := r.nowFunc()()

	var candidates []model.SignalEntry
	err := r.db.WithContext(ctx).
		Where("state = ? AND retry_after <= ? AND expires_at > ?",
			model.EntryStateQueued, now, now).
		Order("priority DESC, id ASC").
		Limit(claimCandidates).
		Find(&candidates).Error
	if err != nil {
		return nil, 0, err
	}

	for i := range candidates {
		e := candidates[i]
		token := uuid.NewString()
		leaseExpiry := now.Add(leaseTTL)

		res := r.db.WithContext(ctx).
			Model(&model.SignalEntry{}).
			Where("id = ? AND state = ?", e.ID, model.EntryStateQueued).
			Updates(map[string]interface{}{
				"state":            model.EntryStateProcessing,
				"lease_token":      token,
				"lease_expires_at": leaseExpiry,
			})
		if res.Error != nil {
			return nil, 0, res.Error
		}
		if res.RowsAffected != 1 {
			// Another consumer took this row between select and update.
			continue
		}

		e.State = model.EntryStateProcessing
		e.LeaseToken = &token
		e.LeaseExpiresAt = &leaseExpiry
		return &e, 0, nil
	}

	hint, err := r.minRemainingDelay(ctx, now)
	if err != nil {
		return nil, 0, err
	}
	return nil, hint, nil
}

func (r *QueueRepository) minRemainingDelay(ctx context.Context, now time.Time) (time.Duration, error) {
	var next model.SignalEntry
	err := r.db.WithContext(ctx).
		Where("state = ? AND retry_after > ? AND expires_at > ?",
			model.EntryStateQueued, now, now).
		Order("retry_after ASC").
		First(&next).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return next.RetryAfter.Sub(now), nil
}

// Ack discards a completed entry, releasing its dedup key (the row is the
// dedup marker). Fails with ErrLeaseLost if the lease was taken away.
func (r *QueueRepository) Ack(ctx context.Context, entryID uint, leaseToken string) error {
	res := r.db.WithContext(ctx).
		Where("id = ? AND state = ? AND lease_token = ?",
			entryID, model.EntryStateProcessing, leaseToken).
		Delete(&model.SignalEntry{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected != 1 {
		return ErrLeaseLost
	}
	return nil
}

// Requeue returns a nacked entry to the queued state with the given retry
// schedule and (possibly penalized) priority. The dedup key stays held.
func (r *QueueRepository) Requeue(
	ctx context.Context,
	entryID uint,
	leaseToken string,
	retryAfter time.Time,
	priority int,
	retryCount int,
	fundsRetries int,
	lastError string,
) error {
	updates := map[string]interface{}{
		"state":            model.EntryStateQueued,
		"lease_token":      nil,
		"lease_expires_at": nil,
		"retry_after":      retryAfter,
		"priority":         priority,
		"retry_count":      retryCount,
		"funds_retries":    fundsRetries,
	}
	if lastError != "" {
		updates["last_error"] = truncateError(lastError)
	}

	res := r.db.WithContext(ctx).
		Model(&model.SignalEntry{}).
		Where("id = ? AND state = ? AND lease_token = ?",
			entryID, model.EntryStateProcessing, leaseToken).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected != 1 {
		return ErrLeaseLost
	}
	return nil
}

// Bury dead-letters a processing entry and releases its dedup key.
func (r *QueueRepository) Bury(ctx context.Context, entryID uint, leaseToken string, reason string) error {
	res := r.db.WithContext(ctx).
		Model(&model.SignalEntry{}).
		Where("id = ? AND state = ? AND lease_token = ?",
			entryID, model.EntryStateProcessing, leaseToken).
		Updates(map[string]interface{}{
			"state":            model.EntryStateDead,
			"dedup_key":        nil,
			"lease_token":      nil,
			"lease_expires_at": nil,
			"last_error":       truncateError(reason),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected != 1 {
		return ErrLeaseLost
	}
	return nil
}

// SweepZombies returns entries stuck in processing past their lease (plus the
// given grace) to queued at their original priority. This is the sole
// recovery path for leases lost to consumer crashes. Running it again with no
// intervening activity matches nothing.
func (r *QueueRepository) SweepZombies(ctx context.Context, staleAfter time.Duration) (int64, error) {
	now := r.nowFunc()()
	cutoff := now.Add(-staleAfter)

	res := r.db.WithContext(ctx).
		Model(&model.SignalEntry{}).
		Where("state = ? AND lease_expires_at <= ?", model.EntryStateProcessing, cutoff).
		Updates(map[string]interface{}{
			"state":            model.EntryStateQueued,
			"lease_token":      nil,
			"lease_expires_at": nil,
			"retry_after":      now,
			"priority":         gorm.Expr("base_priority"),
		})
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected > 0 {
		logger.WithFields(logger.Fields{
			"repo":  "QueueRepository",
			"op":    "SweepZombies",
			"swept": res.RowsAffected,
		}).Warn("Returned zombie entries to the queue")
	}
	return res.RowsAffected, nil
}

// ExpireOverdue force-expires queued entries whose hard TTL has passed,
// regardless of remaining retry budget. Returns how many were expired.
func (r *QueueRepository) ExpireOverdue(ctx context.Context) (int64, error) {
	now := r.nowFunc()()

	res := r.db.WithContext(ctx).
		Model(&model.SignalEntry{}).
		Where("state = ? AND expires_at <= ?", model.EntryStateQueued, now).
		Updates(map[string]interface{}{
			"state":     model.EntryStateDead,
			"dedup_key": nil,
			"last_error": "signal lifetime exceeded hard TTL",
		})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

// PeekDelayed lists queued entries waiting on a retry delay, soonest first.
func (r *QueueRepository) PeekDelayed(ctx context.Context, limit int) ([]model.SignalEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	now := r.nowFunc()()

	var entries []model.SignalEntry
	err := r.db.WithContext(ctx).
		Where("state = ? AND retry_after > ? AND expires_at > ?",
			model.EntryStateQueued, now, now).
		Order("retry_after ASC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// PeekDead lists dead-lettered entries scoring at least minScore and no older
// than maxAge, best first. The engine uses this to spot abandoned high-value
// opportunities worth resurrecting.
func (r *QueueRepository) PeekDead(ctx context.Context, minScore float64, maxAge time.Duration, limit int) ([]model.SignalEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	cutoff := r.nowFunc()().Add(-maxAge)

	var entries []model.SignalEntry
	err := r.db.WithContext(ctx).
		Where("state = ? AND score >= ? AND created_at >= ?",
			model.EntryStateDead, minScore, cutoff).
		Order("score DESC, id ASC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Resurrect moves a dead entry back to queued with a fresh retry budget and
// TTL, re-acquiring its dedup key. Returns false if a live entry already
// holds the key.
func (r *QueueRepository) Resurrect(ctx context.Context, entryID uint, dedupKey string, expiresAt time.Time) (bool, error) {
	resurrected := false

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&model.SignalEntry{}).
			Where("dedup_key = ?", dedupKey).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return nil
		}

		res := tx.Model(&model.SignalEntry{}).
			Where("id = ? AND state = ?", entryID, model.EntryStateDead).
			Updates(map[string]interface{}{
				"state":       model.EntryStateQueued,
				"dedup_key":   dedupKey,
				"retry_count": 0,
				"retry_after": r.nowFunc()(),
				"expires_at":  expiresAt,
				"priority":    gorm.Expr("base_priority"),
			})
		if res.Error != nil {
			if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
				return nil
			}
			return res.Error
		}
		resurrected = res.RowsAffected == 1
		return nil
	})
	if err != nil {
		return false, err
	}
	return resurrected, nil
}

// Depth counts entries ready for immediate consumption.
func (r *QueueRepository) Depth(ctx context.Context) (int64, error) {
	now := r.nowFunc()()

	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.SignalEntry{}).
		Where("state = ? AND retry_after <= ? AND expires_at > ?",
			model.EntryStateQueued, now, now).
		Count(&count).Error
	return count, err
}

// FindLive returns the live (queued or processing) entry for a dedup key,
// or (nil, nil) when the key is free.
func (r *QueueRepository) FindLive(ctx context.Context, dedupKey string) (*model.SignalEntry, error) {
	var entry model.SignalEntry
	err := r.db.WithContext(ctx).
		Where("dedup_key = ?", dedupKey).
		First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

func truncateError(s string) string {
	if len(s) > 500 {
		return s[:500]
	}
	return s
}
