package gateway

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	BaseURL   string `envconfig:"BROKER_BASE_URL" default:"https://sandbox-api.broker.example"`
	APIKey    string `envconfig:"BROKER_API_KEY"`
	APISecret string `envconfig:"BROKER_API_SECRET"`

	Timeout time.Duration `envconfig:"BROKER_TIMEOUT" default:"15s"`

	// AccountCacheTTL bounds both gateway call volume and snapshot staleness
	// during a single admission decision.
	AccountCacheTTL time.Duration `envconfig:"BROKER_ACCOUNT_CACHE_TTL" default:"5s"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
