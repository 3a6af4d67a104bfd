package repository

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"tradeflow/src/database"
	"tradeflow/src/model"
)

// OrderRepository persists the order audit trail. Every status change also
// writes an OrderLog row so the history of a decision survives.
type OrderRepository struct {
	db  *gorm.DB
	now func() time.Time
}

func NewOrderRepository() *OrderRepository {
	return &OrderRepository{db: database.MainDB, now: time.Now}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (r *OrderRepository) WithDB(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db, now: r.now}
}

// CreateWithAutoLog inserts the order together with its first log line.
func (r *OrderRepository) CreateWithAutoLog(ctx context.Context, order *model.Order, reason string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(order).Error; err != nil {
			return err
		}
		return tx.Create(&model.OrderLog{
			OrderID: order.ID,
			Status:  order.Status,
			Reason:  reason,
		}).Error
	})
}

// UpdateStatusWithAutoLog moves the order to a new status and appends the
// reason to its log.
func (r *OrderRepository) UpdateStatusWithAutoLog(ctx context.Context, orderID uint, newStatus string, reason string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Order{}).
			Where("id = ?", orderID).
			Update("status", newStatus)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return gorm.ErrRecordNotFound
		}
		return tx.Create(&model.OrderLog{
			OrderID: orderID,
			Status:  newStatus,
			Reason:  reason,
		}).Error
	})
}

// RecordFill stores the broker's fill result and finalizes the audit row.
func (r *OrderRepository) RecordFill(
	ctx context.Context,
	orderID uint,
	brokerOrderID string,
	filledQty decimal.Decimal,
	avgPrice decimal.Decimal,
	status string,
) error {
	executedAt := r.now()

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Order{}).
			Where("id = ?", orderID).
			Updates(map[string]interface{}{
				"broker_order_id": brokerOrderID,
				"filled_qty":      filledQty,
				"avg_price":       avgPrice,
				"status":          status,
				"executed_at":     executedAt,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return gorm.ErrRecordNotFound
		}
		return tx.Create(&model.OrderLog{
			OrderID: orderID,
			Status:  status,
			Reason:  "broker fill recorded",
		}).Error
	})
}

// FindByClientID fetches an order by its client-generated ID.
// Returns (nil, nil) if not found.
func (r *OrderRepository) FindByClientID(ctx context.Context, clientID string) (*model.Order, error) {
	var order model.Order
	err := r.db.WithContext(ctx).
		Where("client_id = ?", clientID).
		First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		logger.WithFields(logger.Fields{
			"repo":      "OrderRepository",
			"op":        "FindByClientID",
			"client_id": clientID,
		}).WithError(err).Error("Failed to fetch order")
		return nil, err
	}
	return &order, nil
}

// FindRecentByInstrument lists the latest audit rows for an instrument,
// newest first, with their logs preloaded.
func (r *OrderRepository) FindRecentByInstrument(ctx context.Context, instrument string, limit int) ([]model.Order, error) {
	if limit <= 0 {
		limit = 20
	}

	var orders []model.Order
	err := r.db.WithContext(ctx).
		Preload("Logs").
		Where("instrument = ?", instrument).
		Order("id DESC").
		Limit(limit).
		Find(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}
