package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// SignalKind separates ordinary entries from exit signals produced by the
// stop-plan manager. Exits carry a reserved priority that outranks any score.
type SignalKind string

const (
	SignalKindEntry SignalKind = "entry"
	SignalKindExit  SignalKind = "exit"
)

// Queue entry states. Completed entries are discarded, so only these three
// ever exist as rows.
const (
	EntryStateQueued     = "queued"
	EntryStateProcessing = "processing"
	EntryStateDead       = "dead"
)

// ExitPriority outranks every score-derived priority (scores are 0-100).
const ExitPriority = 1000

// Signal is a proposed trade action as produced by the scoring oracle and
// consumed by the execution engine.
type Signal struct {
	Instrument string
	Side       Side
	Kind       SignalKind
	Score      float64
	Price      decimal.Decimal
	StopLoss   *decimal.Decimal
	TakeProfit *decimal.Decimal
	// Quantity is set on exit signals that liquidate a fixed amount
	// (partial exits). Nil means the whole position.
	Quantity   *decimal.Decimal
	Indicators map[string]float64
	Reasons    []string
	CreatedAt  time.Time
}

// Key is the dedup key: at most one signal per (instrument, side) may be
// queued or processing at any time.
func (s Signal) Key() string {
	return fmt.Sprintf("%s|%s", s.Instrument, s.Side)
}

// Priority derives the queue priority from the score, with the reserved
// override for exits.
func (s Signal) Priority() int {
	if s.Kind == SignalKindExit {
		return ExitPriority
	}
	return int(s.Score)
}

// SignalEntry is the persisted queue row wrapping a Signal.
type SignalEntry struct {
	ID         uint       `gorm:"primaryKey" json:"id"`
	Instrument string     `gorm:"size:50;not null;index" json:"instrument"`
	Side       Side       `gorm:"size:10;not null" json:"side"`
	Kind       SignalKind `gorm:"size:10;not null;default:entry" json:"kind"`

	// DedupKey is set while the entry is alive (queued or processing) and
	// cleared when it leaves the live set, so the unique index only guards
	// live entries.
	DedupKey *string `gorm:"size:80;uniqueIndex" json:"dedup_key,omitempty"`

	Score      float64            `json:"score"`
	Price      decimal.Decimal    `gorm:"type:decimal(30,10)" json:"price"`
	StopLoss   *decimal.Decimal   `gorm:"type:decimal(30,10)" json:"stop_loss,omitempty"`
	TakeProfit *decimal.Decimal   `gorm:"type:decimal(30,10)" json:"take_profit,omitempty"`
	Quantity   *decimal.Decimal   `gorm:"type:decimal(30,10)" json:"quantity,omitempty"`
	Indicators map[string]float64 `gorm:"serializer:json" json:"indicators,omitempty"`
	Reasons    []string           `gorm:"serializer:json" json:"reasons,omitempty"`

	State string `gorm:"size:20;not null;default:queued;index:idx_signal_entries_claim" json:"state"`

	// BasePriority is the publish-time priority; Priority may drift below it
	// through nack penalties and is restored by the zombie sweep.
	BasePriority int `gorm:"not null" json:"base_priority"`
	Priority     int `gorm:"not null;index:idx_signal_entries_claim" json:"priority"`

	RetryCount   int       `gorm:"not null;default:0" json:"retry_count"`
	FundsRetries int       `gorm:"not null;default:0" json:"funds_retries"`
	RetryAfter   time.Time `gorm:"not null" json:"retry_after"`

	LeaseToken     *string    `gorm:"size:40" json:"lease_token,omitempty"`
	LeaseExpiresAt *time.Time `json:"lease_expires_at,omitempty"`

	// ExpiresAt is the hard TTL on the whole lifetime of the signal,
	// independent of the retry budget.
	ExpiresAt time.Time `gorm:"not null" json:"expires_at"`

	LastError *string `gorm:"size:500" json:"last_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (SignalEntry) TableName() string {
	return "signal_entries"
}

// Signal reconstructs the domain signal carried by the row.
func (e *SignalEntry) Signal() Signal {
	return Signal{
		Instrument: e.Instrument,
		Side:       e.Side,
		Kind:       e.Kind,
		Score:      e.Score,
		Price:      e.Price,
		StopLoss:   e.StopLoss,
		TakeProfit: e.TakeProfit,
		Quantity:   e.Quantity,
		Indicators: e.Indicators,
		Reasons:    e.Reasons,
		CreatedAt:  e.CreatedAt,
	}
}
