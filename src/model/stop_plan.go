package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	StopPlanStatusActive     = "active"
	StopPlanStatusPartial    = "partial"
	StopPlanStatusStoppedOut = "stopped_out"
	StopPlanStatusTookProfit = "took_profit"
	StopPlanStatusCancelled  = "cancelled"
)

// StopPlan is the persisted exit-threshold record governing one position.
// Exactly one active plan may exist per instrument; creating a new plan
// demotes any prior one to cancelled.
type StopPlan struct {
	ID         uint   `gorm:"primaryKey" json:"id"`
	Instrument string `gorm:"size:50;not null;index:idx_stop_plans_instrument_status" json:"instrument"`

	EntryPrice decimal.Decimal `gorm:"type:decimal(30,10)" json:"entry_price"`
	StopLoss   decimal.Decimal `gorm:"type:decimal(30,10)" json:"stop_loss"`
	TakeProfit decimal.Decimal `gorm:"type:decimal(30,10)" json:"take_profit"`

	// VolatilityEstimate is the oracle's volatility reading at entry time,
	// kept so exit decisions can scale thresholds without refetching history.
	VolatilityEstimate float64 `json:"volatility_estimate"`

	Quantity decimal.Decimal `gorm:"type:decimal(30,10)" json:"quantity"`
	Leverage int             `gorm:"not null;default:1" json:"leverage"`

	Status string `gorm:"size:20;not null;default:active;index:idx_stop_plans_instrument_status" json:"status"`

	// BackupOrderRefs holds broker-side stop/take-profit order IDs when the
	// engine placed protective orders next to the local plan.
	BackupOrderRefs []string `gorm:"serializer:json" json:"backup_order_refs,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (StopPlan) TableName() string {
	return "stop_plans"
}

const (
	ObservationVerdictExit   = "exit"
	ObservationVerdictHold   = "hold"
	ObservationVerdictExtend = "extend"
)

// PartialExitObservation tracks the remainder of a position between a partial
// exit and its re-evaluation deadline.
type PartialExitObservation struct {
	ID         uint   `gorm:"primaryKey" json:"id"`
	Instrument string `gorm:"size:50;not null;index" json:"instrument"`
	StopPlanID uint   `gorm:"index" json:"stop_plan_id"`

	PartialQty   decimal.Decimal `gorm:"type:decimal(30,10)" json:"partial_qty"`
	RemainingQty decimal.Decimal `gorm:"type:decimal(30,10)" json:"remaining_qty"`

	UrgencyAtPartial float64         `json:"urgency_at_partial"`
	Price            decimal.Decimal `gorm:"type:decimal(30,10)" json:"price"`

	OpenedAt time.Time `gorm:"not null" json:"opened_at"`
	Deadline time.Time `gorm:"not null" json:"deadline"`

	// Extended marks that the one allowed deadline extension was used.
	Extended bool    `gorm:"not null;default:false" json:"extended"`
	Resolved bool    `gorm:"not null;default:false;index" json:"resolved"`
	Verdict  *string `gorm:"size:20" json:"verdict,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (PartialExitObservation) TableName() string {
	return "partial_exit_observations"
}
