package queue

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	MaxRetries      int           `envconfig:"QUEUE_MAX_RETRIES" default:"5"`
	BackoffBase     time.Duration `envconfig:"QUEUE_BACKOFF_BASE" default:"5s"`
	BackoffCap      time.Duration `envconfig:"QUEUE_BACKOFF_CAP" default:"5m"`
	PriorityPenalty int           `envconfig:"QUEUE_PRIORITY_PENALTY" default:"5"`

	// HardTTL bounds a signal's total lifetime across all retries. A stale
	// opportunity executing against a moved market is worse than dropping it.
	HardTTL time.Duration `envconfig:"QUEUE_HARD_TTL" default:"30m"`

	// Funds deferrals have their own, more patient schedule: capital coming
	// free is a slower process than a network blip clearing.
	MaxFundsRetries int           `envconfig:"QUEUE_MAX_FUNDS_RETRIES" default:"4"`
	FundsRetryBase  time.Duration `envconfig:"QUEUE_FUNDS_RETRY_BASE" default:"45s"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
