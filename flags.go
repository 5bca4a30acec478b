package main

import (
	"github.com/urfave/cli/v3"

	"github.com/alepar/airqual/airqual/config"
)

// newFlags returns the CLI args. Each one overrides the config file and can come from the environment.
func newFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "config", Usage: "YAML config file", Sources: cli.EnvVars("AIRQUAL_CONFIG")},
		&cli.DurationFlag{Name: "interval", Usage: "time interval between sensor reads (default 5s)", Sources: cli.EnvVars("AIRQUAL_INTERVAL")},
		&cli.DurationFlag{Name: "read-timeout", Usage: "upper bound for a single sensor read (default 2s)", Sources: cli.EnvVars("AIRQUAL_READ_TIMEOUT")},
		&cli.IntFlag{Name: "max-poll-failures", Usage: "consecutive failed cycles before giving up (default 5)", Sources: cli.EnvVars("AIRQUAL_MAX_POLL_FAILURES")},
		&cli.IntFlag{Name: "max-export-failures", Usage: "consecutive failed exports before giving up (default 5)", Sources: cli.EnvVars("AIRQUAL_MAX_EXPORT_FAILURES")},
		&cli.StringFlag{Name: "listen-address", Usage: "the address to listen on for HTTP requests (default :8090)", Sources: cli.EnvVars("AIRQUAL_LISTEN_ADDRESS")},
		&cli.StringFlag{Name: "bus-device", Usage: `i2c bus: "ftdi", "ftdi:<serial>" or an OS bus such as /dev/i2c-1 (default ftdi)`, Sources: cli.EnvVars("AIRQUAL_BUS_DEVICE")},
		&cli.IntFlag{Name: "bus-speed-hz", Usage: "i2c clock, 0 keeps the bus default (default 4450)", Sources: cli.EnvVars("AIRQUAL_BUS_SPEED_HZ")},
		&cli.StringFlag{Name: "influx-url", Usage: "push measurements to this InfluxDB as well", Sources: cli.EnvVars("INFLUX_URL")},
		&cli.StringFlag{Name: "influx-token", Usage: "InfluxDB API token", Sources: cli.EnvVars("INFLUX_TOKEN")},
		&cli.StringFlag{Name: "influx-org", Usage: "InfluxDB organization", Sources: cli.EnvVars("INFLUX_ORG")},
		&cli.StringFlag{Name: "influx-bucket", Usage: "InfluxDB bucket", Sources: cli.EnvVars("INFLUX_BUCKET")},
		&cli.StringFlag{Name: "collector-binary", Usage: "path of a Prometheus executable to launch and keep running", Sources: cli.EnvVars("AIRQUAL_COLLECTOR_BINARY")},
		&cli.StringFlag{Name: "collector-config", Usage: "Prometheus config file, generated when empty", Sources: cli.EnvVars("AIRQUAL_COLLECTOR_CONFIG")},
		&cli.StringFlag{Name: "collector-data-dir", Usage: "directory for Prometheus data and the generated config", Sources: cli.EnvVars("AIRQUAL_COLLECTOR_DATA_DIR")},
		&cli.StringFlag{Name: "collector-url", Usage: "where the collector answers (default http://localhost:9090)", Sources: cli.EnvVars("AIRQUAL_COLLECTOR_URL")},
		&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn or error (default info)", Sources: cli.EnvVars("AIRQUAL_LOG_LEVEL")},
		&cli.StringFlag{Name: "log-file", Usage: "also write the log to this file", Sources: cli.EnvVars("AIRQUAL_LOG_FILE")},
	}
}

// loadConfig layers flags and environment over the config file over the defaults.
func loadConfig(cmd *cli.Command) (config.Config, error) {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return config.Config{}, err
	}

	setString := func(name string, dst *string) {
		if cmd.IsSet(name) {
			*dst = cmd.String(name)
		}
	}
	setInt := func(name string, dst *int) {
		if cmd.IsSet(name) {
			*dst = int(cmd.Int(name))
		}
	}

	if cmd.IsSet("interval") {
		cfg.Interval = cmd.Duration("interval")
	}
	if cmd.IsSet("read-timeout") {
		cfg.ReadTimeout = cmd.Duration("read-timeout")
	}
	setInt("max-poll-failures", &cfg.MaxPollFailures)
	setInt("max-export-failures", &cfg.MaxExportFailures)
	setString("listen-address", &cfg.ListenAddress)
	setString("bus-device", &cfg.Bus.Device)
	setInt("bus-speed-hz", &cfg.Bus.SpeedHz)
	setString("influx-url", &cfg.Influx.URL)
	setString("influx-token", &cfg.Influx.Token)
	setString("influx-org", &cfg.Influx.Org)
	setString("influx-bucket", &cfg.Influx.Bucket)
	setString("collector-binary", &cfg.Collector.Binary)
	setString("collector-config", &cfg.Collector.ConfigFile)
	setString("collector-data-dir", &cfg.Collector.DataDir)
	setString("collector-url", &cfg.Collector.URL)
	setString("log-level", &cfg.Log.Level)
	setString("log-file", &cfg.Log.File)

	return cfg, cfg.Validate()
}
