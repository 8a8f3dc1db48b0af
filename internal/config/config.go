package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config holds the settings read once at startup.
type Config struct {
	ListenPort string `mapstructure:"listen_port"`
	// AppPool and ReleaseID identify this instance to the load balancer
	AppPool         string        `mapstructure:"app_pool"`
	ReleaseID       string        `mapstructure:"release_id"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	Chaos   ChaosConfig   `mapstructure:"chaos"`
	Logging LoggingConfig `mapstructure:"logging"`
	Tracing TracingConfig `mapstructure:"tracing"`
}

// ChaosConfig tunes fault injection.
type ChaosConfig struct {
	TimeoutDelay       time.Duration `mapstructure:"timeout_delay"`
	CancelOnDisconnect bool          `mapstructure:"cancel_on_disconnect"`
}

type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Environment string `mapstructure:"environment"`
}

type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
	// Endpoint is an OTLP/HTTP collector host:port
	Endpoint string `mapstructure:"endpoint"`
}

// Addr returns the listen address for the HTTP server.
func (c *Config) Addr() string {
	return ":" + c.ListenPort
}

// LoadConfig reads configuration with priority env > file > defaults.
// path may be empty, in which case only env and defaults apply.
func LoadConfig(path string) (*Config, error) {
	v := newViper()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	return decode(v)
}

// WatchConfig calls onChange with the reloaded configuration every time the
// file at path is written. Invalid reloads are reported through onError and
// otherwise ignored.
func WatchConfig(path string, onChange func(*Config), onError func(error)) error {
	if path == "" {
		return errors.New("config watch requires a file path")
	}
	v := newViper()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := decode(v)
		if err != nil {
			if onError != nil {
				onError(fmt.Errorf("reload %s: %w", e.Name, err))
			}
			return
		}
		onChange(cfg)
	})
	v.WatchConfig()
	return nil
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Deployment manifests use these names unprefixed
	_ = v.BindEnv("listen_port", "PORT")
	_ = v.BindEnv("app_pool", "APP_POOL")
	_ = v.BindEnv("release_id", "RELEASE_ID")
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	switch {
	case strings.TrimSpace(c.ListenPort) == "":
		return errors.New("listen_port must not be empty")
	case strings.TrimSpace(c.AppPool) == "":
		return errors.New("app_pool must not be empty")
	case strings.TrimSpace(c.ReleaseID) == "":
		return errors.New("release_id must not be empty")
	case c.Chaos.TimeoutDelay <= 0:
		return fmt.Errorf("chaos.timeout_delay must be positive, got %s", c.Chaos.TimeoutDelay)
	case c.ShutdownTimeout <= 0:
		return fmt.Errorf("shutdown_timeout must be positive, got %s", c.ShutdownTimeout)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	if c.Tracing.Enabled && c.Tracing.Endpoint == "" {
		return errors.New("tracing.endpoint is required when tracing is enabled")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen_port", "3000")
	v.SetDefault("app_pool", "default")
	v.SetDefault("release_id", "local-test-v1")
	v.SetDefault("shutdown_timeout", 20*time.Second)
	v.SetDefault("chaos.timeout_delay", 15*time.Second)
	v.SetDefault("chaos.cancel_on_disconnect", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.environment", "")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "chaos-backend")
	v.SetDefault("tracing.endpoint", "localhost:4318")
}
