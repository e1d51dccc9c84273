package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the server configuration, read from config.yaml and WAITFLOW_*
// environment variables
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Store    StoreConfig    `mapstructure:"store"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Realtime RealtimeConfig `mapstructure:"realtime"`
	Sweep    SweepConfig    `mapstructure:"sweep"`
	Approval ApprovalConfig `mapstructure:"approval"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type StoreConfig struct {
	// memory or dynamodb
	Driver   string `mapstructure:"driver"`
	Table    string `mapstructure:"table"`
	Region   string `mapstructure:"region"`
	Endpoint string `mapstructure:"endpoint"`
	// Create the table on startup when missing
	CreateTable bool `mapstructure:"create_table"`
}

type EngineConfig struct {
	SweepConcurrency int `mapstructure:"sweep_concurrency"`
}

type RealtimeConfig struct {
	BufferSize        int           `mapstructure:"buffer_size"`
	ReconcileDelay    time.Duration `mapstructure:"reconcile_delay"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
}

type SweepConfig struct {
	// cron expression, descriptors such as "@every 1m" allowed; empty
	// disables the in-process trigger
	Schedule string `mapstructure:"schedule"`
}

type ApprovalConfig struct {
	// Skip the simulated review delays
	Instant bool `mapstructure:"instant"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":3000")
	v.SetDefault("server.shutdown_timeout", 5*time.Second)

	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.table", "waitflow-instances")
	v.SetDefault("store.region", "us-east-1")
	v.SetDefault("store.create_table", false)

	v.SetDefault("engine.sweep_concurrency", 4)

	v.SetDefault("realtime.buffer_size", 64)
	v.SetDefault("realtime.reconcile_delay", 500*time.Millisecond)
	v.SetDefault("realtime.heartbeat_interval", 15*time.Second)

	v.SetDefault("sweep.schedule", "@every 1m")

	v.SetDefault("approval.instant", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", true)
}

// LoadConfig reads configuration. A missing config file is not an error;
// path, when set, must exist.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix("WAITFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the settings that have no sensible fallback
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "memory":
	case "dynamodb":
		if c.Store.Table == "" {
			return fmt.Errorf("store.table is required for the dynamodb driver")
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}

	if c.Sweep.Schedule != "" {
		if _, err := scheduleParser.Parse(c.Sweep.Schedule); err != nil {
			return fmt.Errorf("invalid sweep.schedule %q: %w", c.Sweep.Schedule, err)
		}
	}
	return nil
}
