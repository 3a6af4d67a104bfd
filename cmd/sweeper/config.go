package sweeper

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Interval time.Duration `envconfig:"SWEEPER_INTERVAL" default:"1m"`

	// StaleAfter is how long a lease may sit in processing before its
	// consumer is presumed dead.
	StaleAfter time.Duration `envconfig:"SWEEPER_STALE_AFTER" default:"5m"`
}

func GetConfig() *Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return &config
}
