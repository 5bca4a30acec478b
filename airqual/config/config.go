package config

import (
	"bytes"
	"io"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/alepar/airqual/airqual"
	"github.com/alepar/airqual/airqual/adafruit"
)

// sensorCount is how many reads share one poll interval.
const sensorCount = 2

type Config struct {
	Interval          time.Duration `yaml:"interval"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	MaxPollFailures   int           `yaml:"max_poll_failures"`
	MaxExportFailures int           `yaml:"max_export_failures"`
	ListenAddress     string        `yaml:"listen_address"`

	Bus       BusConfig       `yaml:"bus"`
	SCD30     SCD30Config     `yaml:"scd30"`
	Influx    InfluxConfig    `yaml:"influx"`
	Collector CollectorConfig `yaml:"collector"`
	Log       LogConfig       `yaml:"log"`
}

type BusConfig struct {
	Device      string `yaml:"device"`
	SpeedHz     int    `yaml:"speed_hz"`
	ScanRetries int    `yaml:"scan_retries"`
}

type SCD30Config struct {
	TemperatureOffset   float64       `yaml:"temperature_offset"`
	AmbientPressure     int           `yaml:"ambient_pressure"`
	Altitude            int           `yaml:"altitude"`
	MeasurementInterval time.Duration `yaml:"measurement_interval"`
	SelfCalibration     *bool         `yaml:"self_calibration"`
}

type InfluxConfig struct {
	URL    string `yaml:"url"`
	Token  string `yaml:"token"`
	Org    string `yaml:"org"`
	Bucket string `yaml:"bucket"`
}

type CollectorConfig struct {
	Binary         string        `yaml:"binary"`
	ConfigFile     string        `yaml:"config_file"`
	DataDir        string        `yaml:"data_dir"`
	Retention      string        `yaml:"retention"`
	ListenAddress  string        `yaml:"listen_address"`
	URL            string        `yaml:"url"`
	CheckInterval  time.Duration `yaml:"check_interval"`
	ScrapeInterval time.Duration `yaml:"scrape_interval"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

func Defaults() Config {
	scd30 := adafruit.DefaultSCD30Opts
	return Config{
		Interval:          5 * time.Second,
		ReadTimeout:       2 * time.Second,
		MaxPollFailures:   airqual.DefaultMaxPollFailures,
		MaxExportFailures: airqual.DefaultMaxExportFailures,
		ListenAddress:     ":8090",
		Bus: BusConfig{
			Device: "ftdi",
			// the SCD-30 stops answering above ~4.4kHz on an FT232H
			SpeedHz:     4450,
			ScanRetries: 3,
		},
		SCD30: SCD30Config{
			TemperatureOffset:   scd30.TemperatureOffset,
			AmbientPressure:     int(scd30.AmbientPressure),
			Altitude:            int(scd30.Altitude),
			MeasurementInterval: scd30.MeasurementInterval,
		},
		Collector: CollectorConfig{
			Retention:     "60d",
			URL:           "http://localhost:9090",
			CheckInterval: 30 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads the YAML file at path over the defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "failed to read config file")
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, errors.Wrapf(err, "failed to parse %s", path)
	}
	log.Debugf("loaded config from %s", path)
	return cfg, nil
}

// Validate checks the interval fits both sensor reads and the collector's scrape interval.
func (c Config) Validate() error {
	if c.Interval <= 0 {
		return errors.New("interval must be positive")
	}
	if c.ReadTimeout <= 0 {
		return errors.New("read timeout must be positive")
	}
	if c.ReadTimeout*sensorCount >= c.Interval {
		return errors.Errorf("interval %s must be longer than %d reads of up to %s", c.Interval, sensorCount, c.ReadTimeout)
	}
	if c.MaxPollFailures < 1 || c.MaxExportFailures < 1 {
		return errors.New("failure thresholds must be at least 1")
	}
	if c.ListenAddress == "" {
		return errors.New("listen address is required")
	}
	if c.Bus.SpeedHz < 0 {
		return errors.New("bus speed cannot be negative")
	}
	// a slower sensor would leave most cycles waiting out the read timeout
	if c.SCD30.MeasurementInterval > c.Interval {
		return errors.Errorf("scd30 measurement interval %s is longer than the poll interval %s", c.SCD30.MeasurementInterval, c.Interval)
	}
	if c.SCD30.AmbientPressure < 0 || c.SCD30.AmbientPressure > 1400 || c.SCD30.Altitude < 0 || c.SCD30.Altitude > 0xffff {
		return errors.New("scd30 ambient pressure or altitude out of range")
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return errors.Wrap(err, "bad log level")
	}

	if c.Influx.Enabled() && (c.Influx.Org == "" || c.Influx.Bucket == "") {
		return errors.New("influx needs both org and bucket")
	}

	if c.Collector.Enabled() {
		if c.Collector.ConfigFile == "" && c.Collector.DataDir == "" {
			return errors.New("collector needs either a config file or a data directory to write one to")
		}
		if c.Collector.CheckInterval <= 0 {
			return errors.New("collector check interval must be positive")
		}
	}
	if s := c.Collector.ScrapeInterval; s != 0 && s < c.Interval {
		return errors.Errorf("scrape interval %s is shorter than the poll interval %s", s, c.Interval)
	}
	return nil
}

func (c InfluxConfig) Enabled() bool {
	return c.URL != ""
}

func (c CollectorConfig) Enabled() bool {
	return c.Binary != ""
}

// StaleAfter is how long a measurement stays valid once taken: a few missed cycles.
func (c Config) StaleAfter() time.Duration {
	return time.Duration(c.MaxPollFailures+1) * c.Interval
}

// ScrapeTarget is the exporter address as seen from a collector on the same host.
func (c Config) ScrapeTarget() string {
	if strings.HasPrefix(c.ListenAddress, ":") {
		return "localhost" + c.ListenAddress
	}
	return c.ListenAddress
}

func (c Config) CollectorScrapeInterval() time.Duration {
	if c.Collector.ScrapeInterval != 0 {
		return c.Collector.ScrapeInterval
	}
	return c.Interval
}

func (c SCD30Config) Opts() *adafruit.SCD30Opts {
	return &adafruit.SCD30Opts{
		TemperatureOffset:   c.TemperatureOffset,
		AmbientPressure:     uint16(c.AmbientPressure),
		Altitude:            uint16(c.Altitude),
		MeasurementInterval: c.MeasurementInterval,
		SelfCalibration:     c.SelfCalibration,
	}
}
