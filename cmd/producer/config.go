package producer

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// UseFeed switches from timer polling to push-feed triggered scoring.
	UseFeed bool `envconfig:"PRODUCER_USE_FEED" default:"false"`
}

func GetConfig() *Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return &config
}
