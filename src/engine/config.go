package engine

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	LeaseTTL     time.Duration `envconfig:"ENGINE_LEASE_TTL" default:"2m"`
	IdleSleepMax time.Duration `envconfig:"ENGINE_IDLE_SLEEP_MAX" default:"5s"`

	// The decision window: with a shallow queue a claimed signal executes
	// immediately; a deep queue is drained for up to MaxDecisionWindow so
	// the batch can be ordered by score before capital is committed. Exits
	// short-circuit the window entirely.
	MaxDecisionWindow time.Duration `envconfig:"ENGINE_MAX_DECISION_WINDOW" default:"8s"`
	DeepDepth         int           `envconfig:"ENGINE_DEEP_DEPTH" default:"6"`

	// StalenessPct skips execution when the live price has drifted this far
	// from the signal price.
	StalenessPct float64 `envconfig:"ENGINE_STALENESS_PCT" default:"0.03"`

	// CashFallbackFraction sizes the conservative estimate used when the
	// broker reports no purchasable headroom.
	CashFallbackFraction float64 `envconfig:"ENGINE_CASH_FALLBACK_FRACTION" default:"0.5"`

	// LimitOffsetPct is how far inside the touch passive limit orders post.
	LimitOffsetPct float64 `envconfig:"ENGINE_LIMIT_OFFSET_PCT" default:"0.001"`

	// Orders whose notional exceeds TimeSliceMinValue are split into
	// TimeSliceChildren child orders spaced TimeSliceInterval apart.
	TimeSliceMinValue float64       `envconfig:"ENGINE_TIME_SLICE_MIN_VALUE" default:"50000"`
	TimeSliceChildren int           `envconfig:"ENGINE_TIME_SLICE_CHILDREN" default:"4"`
	TimeSliceInterval time.Duration `envconfig:"ENGINE_TIME_SLICE_INTERVAL" default:"2s"`

	// PlaceBackupOrders posts a broker-side take-profit limit next to each
	// new stop plan, as a backstop if this process dies.
	PlaceBackupOrders bool `envconfig:"ENGINE_PLACE_BACKUP_ORDERS" default:"false"`

	// Fallback exit thresholds when the oracle supplied none.
	DefaultStopLossPct   float64 `envconfig:"ENGINE_DEFAULT_STOP_LOSS_PCT" default:"0.05"`
	DefaultTakeProfitPct float64 `envconfig:"ENGINE_DEFAULT_TAKE_PROFIT_PCT" default:"0.10"`

	RegimeCandleInterval string `envconfig:"ENGINE_REGIME_CANDLE_INTERVAL" default:"1d"`
	RegimeCandleLookback int    `envconfig:"ENGINE_REGIME_CANDLE_LOOKBACK" default:"30"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
