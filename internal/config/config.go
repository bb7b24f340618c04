package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix           = "COLLABD"
	defaultHTTPAddress  = "0.0.0.0:1234"
	defaultDatabasePath = "collabd.db"
	defaultLogLevel     = "info"

	defaultAuthTimeoutSeconds      = 5
	defaultFlushQuietSeconds       = 2
	defaultFlushMaxIntervalSeconds = 10
	defaultIdleEvictionSeconds     = 30
	defaultShutdownGraceSeconds    = 10
)

// AppConfig captures runtime configuration for the collaboration server.
type AppConfig struct {
	HTTPAddress       string
	AuthEndpoint      string
	AuthTimeout       time.Duration
	DatabasePath      string
	FlushQuietPeriod  time.Duration
	FlushMaxInterval  time.Duration
	IdleEvictionDelay time.Duration
	ShutdownGrace     time.Duration
	LogLevel          string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("auth.timeout_seconds", defaultAuthTimeoutSeconds)
	configViper.SetDefault("flush.quiet_seconds", defaultFlushQuietSeconds)
	configViper.SetDefault("flush.max_interval_seconds", defaultFlushMaxIntervalSeconds)
	configViper.SetDefault("room.idle_eviction_seconds", defaultIdleEvictionSeconds)
	configViper.SetDefault("shutdown.grace_seconds", defaultShutdownGraceSeconds)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:       configViper.GetString("http.address"),
		AuthEndpoint:      configViper.GetString("auth.endpoint"),
		AuthTimeout:       time.Duration(configViper.GetInt("auth.timeout_seconds")) * time.Second,
		DatabasePath:      configViper.GetString("database.path"),
		FlushQuietPeriod:  time.Duration(configViper.GetInt("flush.quiet_seconds")) * time.Second,
		FlushMaxInterval:  time.Duration(configViper.GetInt("flush.max_interval_seconds")) * time.Second,
		IdleEvictionDelay: time.Duration(configViper.GetInt("room.idle_eviction_seconds")) * time.Second,
		ShutdownGrace:     time.Duration(configViper.GetInt("shutdown.grace_seconds")) * time.Second,
		LogLevel:          configViper.GetString("log.level"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.AuthEndpoint) == "" {
		return fmt.Errorf("auth.endpoint is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.AuthTimeout <= 0 {
		return fmt.Errorf("auth.timeout_seconds must be positive")
	}
	if c.FlushQuietPeriod <= 0 {
		return fmt.Errorf("flush.quiet_seconds must be positive")
	}
	if c.FlushMaxInterval < c.FlushQuietPeriod {
		return fmt.Errorf("flush.max_interval_seconds must not be below flush.quiet_seconds")
	}
	if c.IdleEvictionDelay <= 0 {
		return fmt.Errorf("room.idle_eviction_seconds must be positive")
	}
	if c.ShutdownGrace <= 0 {
		return fmt.Errorf("shutdown.grace_seconds must be positive")
	}
	return nil
}
