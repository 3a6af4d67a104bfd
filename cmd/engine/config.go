package engine

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// RunLifecycle co-hosts the stop-plan lifecycle manager in the engine
	// process. Disable it when the manager runs as its own deployment.
	RunLifecycle bool `envconfig:"ENGINE_RUN_LIFECYCLE" default:"true"`

	// RunOpsServer exposes /healthcheck and the queue introspection routes.
	RunOpsServer bool `envconfig:"ENGINE_RUN_OPS_SERVER" default:"true"`
}

func GetConfig() *Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return &config
}
