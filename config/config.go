// Package config loads hubwatch configuration from a YAML file, an optional
// .env file and environment variables.
package config

import (
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"gitlab.com/techviking/realtime"
	"gitlab.com/techviking/realtime/hubconn"
	"gitlab.com/techviking/realtime/logger"
)

// Config is the full configuration of a realtime client process.
type Config struct {
	Name        string         `yaml:"name" mapstructure:"name" validate:"required"`
	Environment string         `yaml:"environment" mapstructure:"environment" validate:"oneof=development staging production"`
	Realtime    RealtimeConfig `yaml:"realtime" mapstructure:"realtime"`
	Logging     logger.Config  `yaml:"logging" mapstructure:"logging"`
}

// RealtimeConfig describes the hub connection and what to do with it.
type RealtimeConfig struct {
	URL               string            `yaml:"url" mapstructure:"url" validate:"omitempty,url"`
	LogLevel          string            `yaml:"log_level" mapstructure:"log_level" validate:"loglevel"`
	Reconnect         bool              `yaml:"reconnect" mapstructure:"reconnect"`
	ReconnectDelays   []time.Duration   `yaml:"reconnect_delays" mapstructure:"reconnect_delays" validate:"dive,min=0s"`
	Headers           map[string]string `yaml:"headers" mapstructure:"headers"`
	SkipNegotiation   bool              `yaml:"skip_negotiation" mapstructure:"skip_negotiation"`
	HandshakeTimeout  time.Duration     `yaml:"handshake_timeout" mapstructure:"handshake_timeout" validate:"min=0s"`
	KeepAliveInterval time.Duration     `yaml:"keep_alive_interval" mapstructure:"keep_alive_interval" validate:"min=0s"`
	ServerTimeout     time.Duration     `yaml:"server_timeout" mapstructure:"server_timeout" validate:"min=0s"`
	StopTimeout       time.Duration     `yaml:"stop_timeout" mapstructure:"stop_timeout" validate:"min=0s"`
	Subscribe         []string          `yaml:"subscribe" mapstructure:"subscribe" validate:"dive,required"`
	InvokeOnConnect   string            `yaml:"invoke_on_connect" mapstructure:"invoke_on_connect"`
	InvokeArgs        []string          `yaml:"invoke_args" mapstructure:"invoke_args"`
}

// ApplyDefaults fills in defaults for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Environment == "" {
		c.Environment = "development"
	}
	if c.Realtime.LogLevel == "" {
		c.Realtime.LogLevel = "warning"
	}
	if c.Realtime.StopTimeout == 0 {
		c.Realtime.StopTimeout = 10 * time.Second
	}
	c.Logging.ApplyDefaults()
}

// Validate checks the struct tags and the logging section.
func (c *Config) Validate() error {
	if err := getValidator().Struct(c); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			msgs := make([]string, 0, len(verrs))
			for _, e := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", e.Namespace(), e.Tag()))
			}
			return fmt.Errorf("config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("config: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("config.logging: %w", err)
	}
	return nil
}

// ConnectionLogLevel returns the parsed hub connection log level.
func (c *RealtimeConfig) ConnectionLogLevel() realtime.LogLevel {
	level, err := realtime.ParseLogLevel(c.LogLevel)
	if err != nil {
		return realtime.LogLevelDefault
	}
	return level
}

// HubConfig converts the realtime section into a hubconn base config.
func (c *RealtimeConfig) HubConfig() hubconn.Config {
	var headers http.Header
	if len(c.Headers) > 0 {
		headers = make(http.Header, len(c.Headers))
		for k, v := range c.Headers {
			headers.Set(k, v)
		}
	}
	return hubconn.Config{
		URL:               c.URL,
		Headers:           headers,
		SkipNegotiation:   c.SkipNegotiation,
		HandshakeTimeout:  c.HandshakeTimeout,
		KeepAliveInterval: c.KeepAliveInterval,
		ServerTimeout:     c.ServerTimeout,
		LogLevel:          c.ConnectionLogLevel(),
	}
}

var (
	validate *validator.Validate
	once     sync.Once
)

func getValidator() *validator.Validate {
	once.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("mapstructure"), ",", 2)[0]
			if name == "" || name == "-" {
				return fld.Name
			}
			return name
		})
		_ = validate.RegisterValidation("loglevel", func(fl validator.FieldLevel) bool {
			_, err := realtime.ParseLogLevel(fl.Field().String())
			return err == nil
		})
	})
	return validate
}
