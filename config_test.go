// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package driverconn

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "driverconn.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
driver_path = "/opt/driver/cli"
driver_args = ["run-driver", "--verbose"]
delivery = "queued"
stack_boundaries = ["example.com/api."]

[headers]
X-Token = "secret"

[log]
level = "debug"
format = "json"
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "python", cfg.Language)
	require.Equal(t, "/opt/driver/cli", cfg.DriverPath)
	require.Equal(t, []string{"run-driver", "--verbose"}, cfg.DriverArgs)
	require.Equal(t, "queued", cfg.Delivery)
	require.Equal(t, map[string]string{"X-Token": "secret"}, cfg.Headers)
	require.Equal(t, defaultMaxMessageSize, cfg.MaxMessageSize)
	require.Equal(t, "debug", cfg.Log.Level)
	require.True(t, cfg.Log.Timestamp)

	o := newOptions(cfg.Options(&bytes.Buffer{}))
	require.Equal(t, DeliveryQueued, o.delivery)
	require.Equal(t, "/opt/driver/cli", o.driverPath)
	require.Equal(t, []string{"run-driver", "--verbose"}, o.driverArgs)
	require.Equal(t, "secret", o.headers.Get("X-Token"))
	require.Equal(t, []string{"example.com/api."}, o.boundaries)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	path := writeConfig(t, `endpoint = "ws://localhost:3000/"`)
	t.Setenv(EnvEndpoint, "grpc://localhost:4000")
	t.Setenv(EnvLanguage, "go")
	t.Setenv(EnvDelivery, "queued")
	t.Setenv(EnvLogLevel, "warn")
	t.Setenv(EnvLogNoColor, "true")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "grpc://localhost:4000", cfg.Endpoint)
	require.Equal(t, "go", cfg.Language)
	require.Equal(t, "queued", cfg.Delivery)
	require.Equal(t, "warn", cfg.Log.Level)
	require.True(t, cfg.Log.NoColor)
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	require.ErrorContains(t, err, "config load failed")

	_, err = LoadConfig(writeConfig(t, `driver_path = [`))
	require.ErrorContains(t, err, "config load failed")

	_, err = LoadConfig(writeConfig(t, `
delivery = "sometimes"
max_message_size = 0
[log]
level = "loud"
`))
	require.ErrorContains(t, err, "config invalid")
	require.ErrorContains(t, err, `unknown delivery "sometimes"`)
	require.ErrorContains(t, err, "max_message_size must be positive")
	require.ErrorContains(t, err, `unknown log level "loud"`)
	require.ErrorContains(t, err, "one of endpoint or driver_path is required")
}

func TestDefaultConfigNeedsTarget(t *testing.T) {
	cfg := DefaultConfig()
	require.Error(t, cfg.Validate())
	cfg.DriverPath = "/opt/driver/cli"
	require.NoError(t, cfg.Validate())
}

func TestConfigDial(t *testing.T) {
	var target string
	var lang string
	registerTransport("cfgtest", func(_ context.Context, endpoint string, o *options) (Transport, error) {
		target, lang = endpoint, o.language
		return newFakeTransport(), nil
	})

	cfg := DefaultConfig()
	cfg.Endpoint = "cfgtest://driver"
	cfg.Language = "go"
	require.NoError(t, cfg.Validate())

	conn, err := cfg.Dial(context.Background(), &bytes.Buffer{}, WithDelivery(DeliveryQueued))
	require.NoError(t, err)
	require.Equal(t, "driver", target)
	require.Equal(t, "go", lang)
	require.Equal(t, DeliveryQueued, conn.opts.delivery)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(LogConfig{Level: "warn", Format: "json"}, &buf)
	log.Info().Msg("hidden")
	log.Warn().Str("k", "v").Msg("shown")

	require.NotContains(t, buf.String(), "hidden")
	require.Contains(t, buf.String(), `"message":"shown"`)
	require.Contains(t, buf.String(), `"component":"driverconn"`)

	buf.Reset()
	log = NewLogger(LogConfig{Level: "bogus", NoColor: true}, &buf)
	log.Info().Msg("console line")
	require.Contains(t, buf.String(), "console line")
	require.NotContains(t, buf.String(), "{")
}

func TestParseDelivery(t *testing.T) {
	for _, d := range []Delivery{DeliveryDirect, DeliveryQueued} {
		got, err := ParseDelivery(d.String())
		require.NoError(t, err)
		require.Equal(t, d, got)
	}
	got, err := ParseDelivery("")
	require.NoError(t, err)
	require.Equal(t, DeliveryDirect, got)
	_, err = ParseDelivery("later")
	require.Error(t, err)
	require.Equal(t, "Delivery(7)", Delivery(7).String())
}
