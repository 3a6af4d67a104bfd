package producer

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// Instruments is the comma-separated watch list.
	Instruments []string `envconfig:"PRODUCER_INSTRUMENTS" default:"AAPL,MSFT,NVDA"`

	PollInterval   time.Duration `envconfig:"PRODUCER_POLL_INTERVAL" default:"1m"`
	CandleInterval string        `envconfig:"PRODUCER_CANDLE_INTERVAL" default:"5m"`
	CandleLookback int           `envconfig:"PRODUCER_CANDLE_LOOKBACK" default:"120"`

	// MinScore is the weakest oracle verdict worth queueing.
	MinScore float64 `envconfig:"PRODUCER_MIN_SCORE" default:"55"`

	// Cooldown is the per-instrument quiet period after an accepted entry
	// signal. Exits are never held back.
	Cooldown time.Duration `envconfig:"PRODUCER_COOLDOWN" default:"30m"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
