package lifecycle

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	CheckInterval  time.Duration `envconfig:"LIFECYCLE_CHECK_INTERVAL" default:"30s"`
	CandleInterval string        `envconfig:"LIFECYCLE_CANDLE_INTERVAL" default:"1m"`
	CandleLookback int           `envconfig:"LIFECYCLE_CANDLE_LOOKBACK" default:"60"`
	TrailLookback  int           `envconfig:"LIFECYCLE_TRAIL_LOOKBACK" default:"20"`

	// PartialExitFraction is the share of the position sold when urgency is
	// elevated but not yet decisive.
	PartialExitFraction float64       `envconfig:"LIFECYCLE_PARTIAL_EXIT_FRACTION" default:"0.35"`
	ObservationTTL      time.Duration `envconfig:"LIFECYCLE_OBSERVATION_TTL" default:"10m"`

	// The safety floor fires on raw drawdown from entry even when the primary
	// stop never triggered, for example across a gap. Confirmation over a few
	// consecutive checks filters out a single bad tick; leveraged positions
	// cannot afford to wait and exit on a lighter confirmation.
	SevereLossPct             float64 `envconfig:"LIFECYCLE_SEVERE_LOSS_PCT" default:"0.12"`
	SafetyConfirmations       int     `envconfig:"LIFECYCLE_SAFETY_CONFIRMATIONS" default:"3"`
	HighLeverageMin           int     `envconfig:"LIFECYCLE_HIGH_LEVERAGE_MIN" default:"3"`
	HighLeverageConfirmations int     `envconfig:"LIFECYCLE_HIGH_LEVERAGE_CONFIRMATIONS" default:"1"`

	// TakeProfitStepPct is how far above the current price the target is
	// pushed when a reached take-profit is deferred.
	TakeProfitStepPct float64 `envconfig:"LIFECYCLE_TAKE_PROFIT_STEP_PCT" default:"0.02"`

	// Urgency thresholds. Positive urgency presses toward exit, negative
	// urgency argues for holding.
	FullExitUrgency    float64 `envconfig:"LIFECYCLE_FULL_EXIT_URGENCY" default:"0.75"`
	PartialExitUrgency float64 `envconfig:"LIFECYCLE_PARTIAL_EXIT_URGENCY" default:"0.45"`
	DeferUrgency       float64 `envconfig:"LIFECYCLE_DEFER_URGENCY" default:"-0.5"`
	RecoveryUrgency    float64 `envconfig:"LIFECYCLE_RECOVERY_URGENCY" default:"0.0"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
