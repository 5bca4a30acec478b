package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v3"

	"github.com/alepar/airqual/airqual/config"
)

func parseArgs(t *testing.T, args ...string) (config.Config, error) {
	t.Helper()
	var cfg config.Config
	cmd := &cli.Command{
		Name:  "airqual",
		Flags: newFlags(),
		Action: func(_ context.Context, cmd *cli.Command) error {
			var err error
			cfg, err = loadConfig(cmd)
			return err
		},
	}
	err := cmd.Run(context.Background(), append([]string{"airqual"}, args...))
	return cfg, err
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := parseArgs(t)
	require.NoError(t, err)
	assert.Equal(t, config.Defaults(), cfg)
}

func TestLoadConfigLayers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "airqual.yaml")
	require.NoError(t, os.WriteFile(path, []byte("interval: 10s\nlisten_address: \":9100\"\n"), 0o644))

	tests := []struct {
		name     string
		env      map[string]string
		args     []string
		interval time.Duration
		listen   string
		device   string
	}{
		{
			name:     "file over defaults",
			args:     []string{"--config", path},
			interval: 10 * time.Second,
			listen:   ":9100",
			device:   "ftdi",
		},
		{
			name:     "flag over file",
			args:     []string{"--config", path, "--interval", "7s"},
			interval: 7 * time.Second,
			listen:   ":9100",
			device:   "ftdi",
		},
		{
			name:     "environment over file",
			env:      map[string]string{"AIRQUAL_CONFIG": path, "AIRQUAL_BUS_DEVICE": "/dev/i2c-1"},
			interval: 10 * time.Second,
			listen:   ":9100",
			device:   "/dev/i2c-1",
		},
		{
			name:     "flag over environment",
			env:      map[string]string{"AIRQUAL_LISTEN_ADDRESS": ":9200"},
			args:     []string{"--listen-address", ":9300"},
			interval: 5 * time.Second,
			listen:   ":9300",
			device:   "ftdi",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			cfg, err := parseArgs(t, tt.args...)
			require.NoError(t, err)
			assert.Equal(t, tt.interval, cfg.Interval)
			assert.Equal(t, tt.listen, cfg.ListenAddress)
			assert.Equal(t, tt.device, cfg.Bus.Device)
		})
	}
}

func TestLoadConfigInfluxFromEnvironment(t *testing.T) {
	t.Setenv("INFLUX_URL", "http://localhost:8086")
	t.Setenv("INFLUX_TOKEN", "secret")
	t.Setenv("INFLUX_ORG", "home")
	t.Setenv("INFLUX_BUCKET", "air")

	cfg, err := parseArgs(t)
	require.NoError(t, err)
	assert.True(t, cfg.Influx.Enabled())
	assert.Equal(t, "secret", cfg.Influx.Token)
	assert.Equal(t, "air", cfg.Influx.Bucket)
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "reads do not fit the interval", args: []string{"--interval", "3s"}},
		{name: "influx without bucket", args: []string{"--influx-url", "http://localhost:8086", "--influx-org", "home"}},
		{name: "collector without config location", args: []string{"--collector-binary", "/opt/prometheus/prometheus"}},
		{name: "unknown log level", args: []string{"--log-level", "loud"}},
		{name: "missing config file", args: []string{"--config", "/nonexistent/airqual.yaml"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseArgs(t, tt.args...)
			assert.Error(t, err)
		})
	}
}
