package feed

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	URL string `envconfig:"FEED_URL" default:"ws://localhost:9443/ticks"`

	// Buffer bounds each per-instrument channel; ticks beyond it are
	// dropped and counted rather than blocking the read loop.
	Buffer int `envconfig:"FEED_BUFFER" default:"256"`

	ReadTimeout  time.Duration `envconfig:"FEED_READ_TIMEOUT" default:"60s"`
	PingInterval time.Duration `envconfig:"FEED_PING_INTERVAL" default:"30s"`

	ReconnectBase time.Duration `envconfig:"FEED_RECONNECT_BASE" default:"1s"`
	ReconnectCap  time.Duration `envconfig:"FEED_RECONNECT_CAP" default:"1m"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
