package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"tradeflow/src/database"
	"tradeflow/src/model"
)

// ObservationRepository persists partial-exit observations: the window
// between a partial exit and the re-evaluation of the remainder.
type ObservationRepository struct {
	db *gorm.DB
}

func NewObservationRepository() *ObservationRepository {
	return &ObservationRepository{db: database.MainDB}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (r *ObservationRepository) WithDB(db *gorm.DB) *ObservationRepository {
	return &ObservationRepository{db: db}
}

// Open creates a new unresolved observation.
func (r *ObservationRepository) Open(ctx context.Context, obs *model.PartialExitObservation) error {
	return r.db.WithContext(ctx).Create(obs).Error
}

// FindUnresolved returns the pending observation for an instrument, or
// (nil, nil) when none exists.
func (r *ObservationRepository) FindUnresolved(ctx context.Context, instrument string) (*model.PartialExitObservation, error) {
	var obs model.PartialExitObservation
	err := r.db.WithContext(ctx).
		Where("instrument = ? AND resolved = ?", instrument, false).
		Order("id DESC").
		First(&obs).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &obs, nil
}

// ListDue returns unresolved observations whose deadline has passed.
func (r *ObservationRepository) ListDue(ctx context.Context, now time.Time) ([]model.PartialExitObservation, error) {
	var due []model.PartialExitObservation
	err := r.db.WithContext(ctx).
		Where("resolved = ? AND deadline <= ?", false, now).
		Order("deadline ASC").
		Find(&due).Error
	if err != nil {
		return nil, err
	}
	return due, nil
}

// Resolve closes an observation with its verdict.
func (r *ObservationRepository) Resolve(ctx context.Context, obsID uint, verdict string) error {
	res := r.db.WithContext(ctx).
		Model(&model.PartialExitObservation{}).
		Where("id = ? AND resolved = ?", obsID, false).
		Updates(map[string]interface{}{
			"resolved": true,
			"verdict":  verdict,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected != 1 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// Extend pushes the deadline once. A second extension is refused, so an
// ambiguous observation cannot linger forever.
func (r *ObservationRepository) Extend(ctx context.Context, obsID uint, newDeadline time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&model.PartialExitObservation{}).
		Where("id = ? AND resolved = ? AND extended = ?", obsID, false, false).
		Updates(map[string]interface{}{
			"deadline": newDeadline,
			"extended": true,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
