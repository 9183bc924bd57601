package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// Init builds an EngineConfig from the environment, falling back to the
// struct-tag defaults.
func Init() (*EngineConfig, error) {
	cfg := &EngineConfig{}

	err := envconfig.Process("", cfg)
	if err != nil {
		return nil, fmt.Errorf("unable to parse engine configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine configuration: %w", err)
	}

	return cfg, nil
}
