package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	OrderStatusPending   = "pending"
	OrderStatusSubmitted = "submitted"
	OrderStatusFilled    = "filled"
	OrderStatusPartial   = "partial"
	OrderStatusRejected  = "rejected"
	OrderStatusCancelled = "cancelled"
)

const (
	OrderDirectionEntry = "entry"
	OrderDirectionExit  = "exit"
)

// Order is the audit record for every order the engine sends to the broker.
type Order struct {
	ID       uint   `gorm:"primaryKey" json:"id"`
	ClientID string `gorm:"size:40;uniqueIndex" json:"client_id"`

	// BrokerOrderID is assigned by the gateway once submission succeeds.
	BrokerOrderID *string `gorm:"size:60;index" json:"broker_order_id,omitempty"`

	Instrument string `gorm:"size:50;not null;index" json:"instrument"`
	Side       Side   `gorm:"size:10;not null" json:"side"`
	OrderDir   string `gorm:"size:10;not null" json:"order_dir"`
	OrderType  string `gorm:"size:20;not null" json:"order_type"`

	Quantity  decimal.Decimal  `gorm:"type:decimal(30,10)" json:"quantity"`
	Price     *decimal.Decimal `gorm:"type:decimal(30,10)" json:"price,omitempty"`
	FilledQty decimal.Decimal  `gorm:"type:decimal(30,10)" json:"filled_qty"`
	AvgPrice  *decimal.Decimal `gorm:"type:decimal(30,10)" json:"avg_price,omitempty"`

	SignalScore float64 `json:"signal_score"`

	Status     string     `gorm:"size:20;not null;default:pending" json:"status"`
	ExecutedAt *time.Time `json:"executed_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Logs []OrderLog `gorm:"foreignKey:OrderID" json:"logs,omitempty"`
}

func (Order) TableName() string {
	return "orders"
}

// OrderLog records each status change of an order with its reason.
type OrderLog struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	OrderID   uint      `gorm:"not null;index" json:"order_id"`
	Status    string    `gorm:"size:20;not null" json:"status"`
	Reason    string    `gorm:"size:500" json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

func (OrderLog) TableName() string {
	return "order_logs"
}
