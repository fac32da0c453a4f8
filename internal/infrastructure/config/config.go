package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	sharedConfig "github.com/orris-inc/sidecar/internal/shared/config"
)

type Config struct {
	Server   sharedConfig.ServerConfig   `mapstructure:"server"`
	Logger   sharedConfig.LoggerConfig   `mapstructure:"logger"`
	Auth     sharedConfig.AuthConfig     `mapstructure:"auth"`
	Node     sharedConfig.NodeConfig     `mapstructure:"node"`
	Registry sharedConfig.RegistryConfig `mapstructure:"registry"`
	Transit  sharedConfig.TransitConfig  `mapstructure:"transit"`
	Store    sharedConfig.StoreConfig    `mapstructure:"store"`
	Database sharedConfig.DatabaseConfig `mapstructure:"database"`
	Redis    sharedConfig.RedisConfig    `mapstructure:"redis"`
	Etcd     sharedConfig.EtcdConfig     `mapstructure:"etcd"`
	PubSub   sharedConfig.PubSubConfig   `mapstructure:"pubsub"`
	Metrics  sharedConfig.MetricsConfig  `mapstructure:"metrics"`
}

var (
	appConfig   *Config
	appConfigMu sync.RWMutex
)

// Load loads configuration from an optional config file and environment variables.
func Load(env string) (*Config, error) {
	v := viper.GetViper()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath("../configs")
	v.AddConfigPath("/etc/sidecar")

	// SIDECAR_SERVER_PORT overrides server.port
	v.SetEnvPrefix("SIDECAR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Allow env parameter to override server mode if provided
	if env != "" && env != "default" {
		v.Set("server.mode", env)
	}

	config, err := decode(v)
	if err != nil {
		return nil, err
	}

	appConfigMu.Lock()
	appConfig = config
	appConfigMu.Unlock()

	return config, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := validator.New().Struct(&config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &config, nil
}

// Get returns the loaded configuration
func Get() *Config {
	appConfigMu.RLock()
	defer appConfigMu.RUnlock()
	return appConfig
}

// Watch reloads the configuration whenever the config file changes and hands
// the new value to onChange. Invalid edits are reported through onError and
// the previous configuration stays active.
func Watch(onChange func(*Config), onError func(error)) {
	v := viper.GetViper()
	if v.ConfigFileUsed() == "" {
		return
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		config, err := decode(v)
		if err != nil {
			onError(fmt.Errorf("reload %s: %w", e.Name, err))
			return
		}
		appConfigMu.Lock()
		appConfig = config
		appConfigMu.Unlock()
		onChange(config)
	})
	v.WatchConfig()
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 5103)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.root_path", "")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")

	// Logger defaults
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "text")
	v.SetDefault("logger.output_path", "stdout")
	v.SetDefault("logger.source_level", "warn")

	// Auth defaults
	v.SetDefault("auth.disabled", false)
	v.SetDefault("auth.jwt_issuer", "")

	// Registry defaults
	v.SetDefault("registry.heartbeat_interval", "10s")
	v.SetDefault("registry.heartbeat_timeout", "30s")
	v.SetDefault("registry.disable_heartbeat_checks", false)
	v.SetDefault("registry.disable_offline_node_removing", false)
	v.SetDefault("registry.clean_offline_nodes_timeout", "600s")
	v.SetDefault("registry.offline_check_interval", "60s")

	// Transit defaults
	v.SetDefault("transit.max_queue_size", 0)
	v.SetDefault("transit.serializer", "json")
	v.SetDefault("transit.http_timeout", "0s")
	v.SetDefault("transit.recent_response_size", 1024)

	// Store defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.sqlite_path", "./data/sidecar.db")
	v.SetDefault("store.key_prefix", "")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.username", "root")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "sidecar")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.conn_max_lifetime", 60)

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// Etcd defaults
	v.SetDefault("etcd.endpoints", []string{"localhost:2379"})
	v.SetDefault("etcd.dial_timeout", "5s")

	// PubSub defaults
	v.SetDefault("pubsub.enabled", false)
	v.SetDefault("pubsub.channel", "sidecar:node:events")

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}
