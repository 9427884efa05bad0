// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package driverconn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

const (
	EnvLanguage   = "DRIVERCONN_LANGUAGE"
	EnvDriverPath = "DRIVERCONN_DRIVER_PATH"
	EnvEndpoint   = "DRIVERCONN_ENDPOINT"
	EnvDelivery   = "DRIVERCONN_DELIVERY"
	EnvLogLevel   = "DRIVERCONN_LOG_LEVEL"
	EnvLogFormat  = "DRIVERCONN_LOG_FORMAT"
	EnvLogNoColor = "DRIVERCONN_LOG_NOCOLOR"
)

// Config is the file form of the connection options.
type Config struct {
	Language        string            `toml:"language"`
	DriverPath      string            `toml:"driver_path"`
	DriverArgs      []string          `toml:"driver_args"`
	Endpoint        string            `toml:"endpoint"`
	Headers         map[string]string `toml:"headers"`
	Delivery        string            `toml:"delivery"`
	StackBoundaries []string          `toml:"stack_boundaries"`
	MaxMessageSize  int               `toml:"max_message_size"`
	Log             LogConfig         `toml:"log"`
}

// DefaultConfig returns the settings used when a file leaves a key out.
func DefaultConfig() Config {
	return Config{
		Language:       defaultLanguage,
		DriverArgs:     []string{"run-driver"},
		Delivery:       DeliveryDirect.String(),
		MaxMessageSize: defaultMaxMessageSize,
		Log: LogConfig{
			Level:     "info",
			Format:    "console",
			Timestamp: true,
		},
	}
}

// LoadConfig reads a TOML file over the defaults, then applies
// DRIVERCONN_* environment overrides.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config invalid (%s): %w", path, err)
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv(EnvLanguage)); v != "" {
		cfg.Language = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvDriverPath)); v != "" {
		cfg.DriverPath = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvEndpoint)); v != "" {
		cfg.Endpoint = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvDelivery)); v != "" {
		cfg.Delivery = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		cfg.Log.Level = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogFormat)); v != "" {
		cfg.Log.Format = v
	}
	if v, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(EnvLogNoColor))); err == nil {
		cfg.Log.NoColor = v
	}
}

func (c Config) Validate() error {
	var errs []error
	if c.Language == "" {
		errs = append(errs, errors.New("language is required"))
	}
	if _, err := ParseDelivery(c.Delivery); err != nil {
		errs = append(errs, err)
	}
	if c.MaxMessageSize <= 0 {
		errs = append(errs, fmt.Errorf("max_message_size must be positive, got %d", c.MaxMessageSize))
	}
	if c.Log.Level != "" {
		if _, ok := parseLevel(c.Log.Level); !ok {
			errs = append(errs, fmt.Errorf("unknown log level %q", c.Log.Level))
		}
	}
	if c.Endpoint == "" && c.DriverPath == "" {
		errs = append(errs, errors.New("one of endpoint or driver_path is required"))
	}
	return errors.Join(errs...)
}

// Options converts the config into connection options. Logs go to logOut.
func (c Config) Options(logOut io.Writer) []Option {
	delivery, _ := ParseDelivery(c.Delivery)
	opts := []Option{
		WithLanguage(c.Language),
		WithDelivery(delivery),
		WithMaxMessageSize(c.MaxMessageSize),
		WithLogger(NewLogger(c.Log, logOut)),
	}
	if c.DriverPath != "" {
		opts = append(opts, WithDriver(c.DriverPath, c.DriverArgs...))
	}
	if len(c.StackBoundaries) > 0 {
		opts = append(opts, WithStackBoundaries(c.StackBoundaries...))
	}
	if len(c.Headers) > 0 {
		h := make(http.Header, len(c.Headers))
		for k, v := range c.Headers {
			h.Set(k, v)
		}
		opts = append(opts, WithHeaders(h))
	}
	return opts
}

// Dial dials the configured endpoint, or starts the configured driver when
// endpoint is empty. extra options apply after the config's.
func (c Config) Dial(ctx context.Context, logOut io.Writer, extra ...Option) (*Connection, error) {
	return Dial(ctx, c.Endpoint, append(c.Options(logOut), extra...)...)
}
