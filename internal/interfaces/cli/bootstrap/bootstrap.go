// Package bootstrap loads configuration and logging for the CLI commands.
package bootstrap

import (
	"fmt"
	"os"

	"github.com/spf13/viper"

	"github.com/orris-inc/sidecar/internal/infrastructure/config"
	"github.com/orris-inc/sidecar/internal/shared/logger"
)

// Init loads the configuration for env, optionally from configPath, and
// initializes the process logger. An empty env falls back to $ENV.
func Init(env, configPath string) (*config.Config, logger.Interface, error) {
	if envVar := os.Getenv("ENV"); envVar != "" && env == "" {
		env = envVar
	}
	if configPath != "" {
		viper.SetConfigFile(configPath)
	}

	cfg, err := config.Load(ModeFor(env))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := logger.Init(&cfg.Logger); err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return cfg, logger.NewLogger(), nil
}

// ModeFor maps an environment name to a gin mode, or "" to keep the
// configured server.mode.
func ModeFor(environment string) string {
	switch environment {
	case "production", "prod", "release":
		return "release"
	case "development", "dev", "debug":
		return "debug"
	case "test", "testing":
		return "test"
	default:
		return ""
	}
}
