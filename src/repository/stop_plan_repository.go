package repository

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"tradeflow/src/database"
	"tradeflow/src/model"
)

// ErrDuplicateActivePlan signals persisted-state corruption: more than one
// open stop plan for the same instrument. This is the one fatal condition in
// the store; processing for the affected instrument must halt.
var ErrDuplicateActivePlan = errors.New("duplicate active stop plan for instrument")

// openStatuses are the plan states that still govern a position.
var openStatuses = []string{model.StopPlanStatusActive, model.StopPlanStatusPartial}

// StopPlanRepository persists per-position exit plans.
type StopPlanRepository struct {
	db *gorm.DB
}

func NewStopPlanRepository() *StopPlanRepository {
	return &StopPlanRepository{db: database.MainDB}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (r *StopPlanRepository) WithDB(db *gorm.DB) *StopPlanRepository {
	return &StopPlanRepository{db: db}
}

// CreateActive inserts a new active plan for the instrument, demoting any
// prior open plan to cancelled in the same transaction. This is the sole way
// plans are created, which is what enforces the one-active-per-instrument
// invariant.
func (r *StopPlanRepository) CreateActive(ctx context.Context, plan *model.StopPlan) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.StopPlan{}).
			Where("instrument = ? AND status IN ?", plan.Instrument, openStatuses).
			Update("status", model.StopPlanStatusCancelled)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			logger.WithFields(logger.Fields{
				"repo":       "StopPlanRepository",
				"op":         "CreateActive",
				"instrument": plan.Instrument,
				"demoted":    res.RowsAffected,
			}).Info("Demoted prior stop plan before creating a new one")
		}

		plan.Status = model.StopPlanStatusActive
		return tx.Create(plan).Error
	})
}

// FindOpen returns the governing plan for an instrument, or (nil, nil) when
// none exists. Two open rows means corruption and returns
// ErrDuplicateActivePlan.
func (r *StopPlanRepository) FindOpen(ctx context.Context, instrument string) (*model.StopPlan, error) {
	var plans []model.StopPlan
	err := r.db.WithContext(ctx).
		Where("instrument = ? AND status IN ?", instrument, openStatuses).
		Order("id DESC").
		Limit(2).
		Find(&plans).Error
	if err != nil {
		return nil, err
	}

	switch len(plans) {
	case 0:
		return nil, nil
	case 1:
		return &plans[0], nil
	default:
		logger.WithFields(logger.Fields{
			"repo":       "StopPlanRepository",
			"op":         "FindOpen",
			"instrument": instrument,
		}).Error("Store corruption: multiple open stop plans")
		return nil, ErrDuplicateActivePlan
	}
}

// ListOpen returns every governing plan, used by the lifecycle manager loop.
func (r *StopPlanRepository) ListOpen(ctx context.Context) ([]model.StopPlan, error) {
	var plans []model.StopPlan
	err := r.db.WithContext(ctx).
		Where("status IN ?", openStatuses).
		Order("instrument ASC").
		Find(&plans).Error
	if err != nil {
		return nil, err
	}
	return plans, nil
}

// Terminate moves an open plan to a terminal status (stopped_out,
// took_profit or cancelled).
func (r *StopPlanRepository) Terminate(ctx context.Context, planID uint, status string) error {
	res := r.db.WithContext(ctx).
		Model(&model.StopPlan{}).
		Where("id = ? AND status IN ?", planID, openStatuses).
		Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected != 1 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ApplyPartialExit reduces the plan quantity after a partial fill and marks
// the plan partial.
func (r *StopPlanRepository) ApplyPartialExit(ctx context.Context, planID uint, soldQty decimal.Decimal) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var plan model.StopPlan
		if err := tx.Where("id = ? AND status IN ?", planID, openStatuses).
			First(&plan).Error; err != nil {
			return err
		}

		remaining := plan.Quantity.Sub(soldQty)
		if remaining.IsNegative() {
			remaining = decimal.Zero
		}

		return tx.Model(&plan).Updates(map[string]interface{}{
			"quantity": remaining,
			"status":   model.StopPlanStatusPartial,
		}).Error
	})
}

// RaiseTakeProfit trails the take-profit level upward. Lowering is refused;
// the plan's thresholds only ever tighten in the position's favor.
func (r *StopPlanRepository) RaiseTakeProfit(ctx context.Context, planID uint, takeProfit decimal.Decimal) error {
	res := r.db.WithContext(ctx).
		Model(&model.StopPlan{}).
		Where("id = ? AND status IN ? AND take_profit < ?", planID, openStatuses, takeProfit).
		Update("take_profit", takeProfit)
	return res.Error
}

// RaiseStopLoss trails the stop upward (long positions only in this system).
func (r *StopPlanRepository) RaiseStopLoss(ctx context.Context, planID uint, stopLoss decimal.Decimal) error {
	res := r.db.WithContext(ctx).
		Model(&model.StopPlan{}).
		Where("id = ? AND status IN ? AND stop_loss < ?", planID, openStatuses, stopLoss).
		Update("stop_loss", stopLoss)
	return res.Error
}

// SetBackupOrderRefs records broker-side protective order IDs on the plan.
func (r *StopPlanRepository) SetBackupOrderRefs(ctx context.Context, planID uint, refs []string) error {
	return r.db.WithContext(ctx).
		Model(&model.StopPlan{ID: planID}).
		Update("backup_order_refs", refs).Error
}
