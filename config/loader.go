package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// LoaderConfig holds optional file overrides.
type LoaderConfig struct {
	ConfigFile string // Direct config file path (optional)
	EnvFile    string // Direct env file path (optional)
}

// LoaderOption is a functional option for Load.
type LoaderOption func(*LoaderConfig)

// WithConfigFile sets an explicit config file path.
func WithConfigFile(path string) LoaderOption {
	return func(lc *LoaderConfig) { lc.ConfigFile = path }
}

// WithEnvFile sets an explicit .env file path.
func WithEnvFile(path string) LoaderOption {
	return func(lc *LoaderConfig) { lc.EnvFile = path }
}

// EnvPrefix returns the environment variable prefix for a service,
// e.g. "hub-watch" becomes "HUB_WATCH".
func EnvPrefix(serviceName string) string {
	return strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(serviceName))
}

// Load reads configuration for serviceName. Values come, lowest priority
// first, from defaults, the YAML file, and environment variables prefixed
// with EnvPrefix(serviceName). A .env file only adds variables that are not
// already set. The result has defaults applied and is validated.
func Load(serviceName string, opts ...LoaderOption) (*Config, error) {
	var lc LoaderConfig
	for _, opt := range opts {
		opt(&lc)
	}
	if lc.ConfigFile == "" && exists("./config.yml") {
		lc.ConfigFile = "./config.yml"
	}
	if lc.EnvFile == "" && exists(".env") {
		lc.EnvFile = ".env"
	}

	// 1. Load .env before viper looks at the environment
	if lc.EnvFile != "" {
		if err := godotenv.Load(lc.EnvFile); err != nil {
			return nil, fmt.Errorf("failed to load .env file %s: %w", lc.EnvFile, err)
		}
	}

	v := viper.New()
	setDefaults(v, serviceName)

	// 2. YAML config
	if lc.ConfigFile != "" {
		v.SetConfigFile(lc.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", lc.ConfigFile, err)
		}
	}

	// 3. Environment overrides
	v.SetEnvPrefix(EnvPrefix(serviceName))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config for service %s: %w", serviceName, err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper, serviceName string) {
	v.SetDefault("name", serviceName)
	v.SetDefault("environment", "development")

	v.SetDefault("realtime.url", "")
	v.SetDefault("realtime.log_level", "warning")
	v.SetDefault("realtime.reconnect", true)
	v.SetDefault("realtime.reconnect_delays", []string{})
	v.SetDefault("realtime.headers", map[string]string{})
	v.SetDefault("realtime.skip_negotiation", false)
	v.SetDefault("realtime.handshake_timeout", "15s")
	v.SetDefault("realtime.keep_alive_interval", "15s")
	v.SetDefault("realtime.server_timeout", "30s")
	v.SetDefault("realtime.stop_timeout", "10s")
	v.SetDefault("realtime.subscribe", []string{})
	v.SetDefault("realtime.invoke_on_connect", "")
	v.SetDefault("realtime.invoke_args", []string{})

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.no_color", false)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
