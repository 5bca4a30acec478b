package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
	"periph.io/x/conn/v3/physic"

	"github.com/alepar/airqual/airqual"
	"github.com/alepar/airqual/airqual/adafruit"
	"github.com/alepar/airqual/airqual/collector"
	"github.com/alepar/airqual/airqual/config"
	"github.com/alepar/airqual/airqual/influxexport"
	"github.com/alepar/airqual/airqual/promexport"
)

func main() {
	// a missing .env is fine, the environment and flags still apply
	envErr := godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	var logFile io.Closer = nopCloser{}
	cmd := &cli.Command{
		Name:  "airqual",
		Usage: "poll the PM2.5 and SCD-30 sensors and expose their readings to Prometheus",
		Flags: newFlags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if logFile, err = setupLogging(cfg.Log); err != nil {
				logFile = nopCloser{}
				return err
			}

			if envErr == nil {
				log.Debug("loaded .env")
			}
			return run(ctx, cfg, openHardware)
		},
	}

	err := cmd.Run(ctx, os.Args)
	stop()
	os.Exit(exitCode(err, logFile))
}

// exitCode logs how the process ends and releases the log file afterwards, so the last line still reaches it.
func exitCode(err error, logFile io.Closer) int {
	code := 0
	if err != nil {
		log.Errorf("fatal: %s", err)
		code = 1
	} else {
		log.Info("shut down")
	}
	if err := logFile.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to close log file: %s\n", err)
	}
	return code
}

// hardware opens the bus and brings up the sensors on it, in polling order.
type hardware func(cfg config.Config) (airqual.Bus, []airqual.Sensor, error)

func openHardware(cfg config.Config) (airqual.Bus, []airqual.Sensor, error) {
	bus, err := adafruit.OpenBus(cfg.Bus.Device, physic.Frequency(cfg.Bus.SpeedHz)*physic.Hertz)
	if err != nil {
		return nil, nil, err
	}
	scanner := &adafruit.BusScanner{
		Bus:        bus,
		SCD30:      cfg.SCD30.Opts(),
		Retries:    cfg.Bus.ScanRetries,
		RetryDelay: time.Second,
	}
	found, err := scanner.Scan()
	if err != nil {
		_ = bus.Close()
		return nil, nil, err
	}
	return bus, []airqual.Sensor{found[airqual.SensorPM25], found[airqual.SensorSCD30]}, nil
}

func run(ctx context.Context, cfg config.Config, open hardware) error {
	log.Info("Starting air quality measurements.")

	bus, sensors, err := open(cfg)
	if err != nil {
		return err
	}

	exporter := promexport.NewExporter(cfg.StaleAfter())
	registry := promexport.NewRegistry(exporter)
	poller := &airqual.Poller{
		Interval:          cfg.Interval,
		ReadTimeout:       cfg.ReadTimeout,
		MaxPollFailures:   cfg.MaxPollFailures,
		MaxExportFailures: cfg.MaxExportFailures,
		Sensors:           sensors,
		Exporters:         []airqual.Exporter{exporter},
		Bus:               bus,
		Metrics:           airqual.NewMetrics(registry),
	}
	// releases both sensors and the bus on every way out
	defer poller.Close()

	if cfg.Influx.Enabled() {
		influx := influxexport.New(influxexport.Config{
			URL:    cfg.Influx.URL,
			Token:  cfg.Influx.Token,
			Org:    cfg.Influx.Org,
			Bucket: cfg.Influx.Bucket,
		})
		defer influx.Close()
		if err := influx.Ping(ctx); err != nil {
			log.Warnf("influxdb not reachable yet: %s", err)
		}
		poller.Exporters = append(poller.Exporters, influx)
	}

	server := &promexport.Server{
		Addr:          cfg.ListenAddress,
		Exporter:      exporter,
		Gatherer:      registry,
		HealthyWithin: cfg.StaleAfter(),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Run(gctx)
	})
	if cfg.Collector.Enabled() {
		supervisor := collector.New(collector.Config{
			Binary:         cfg.Collector.Binary,
			ConfigFile:     cfg.Collector.ConfigFile,
			DataDir:        cfg.Collector.DataDir,
			Retention:      cfg.Collector.Retention,
			ListenAddress:  cfg.Collector.ListenAddress,
			URL:            cfg.Collector.URL,
			CheckInterval:  cfg.Collector.CheckInterval,
			ScrapeTarget:   cfg.ScrapeTarget(),
			ScrapeInterval: cfg.CollectorScrapeInterval(),
		})
		g.Go(func() error {
			return supervisor.Run(gctx)
		})
	}
	g.Go(func() error {
		log.Info("Entering main loop to read sensor data.")
		return poller.Run(gctx)
	})

	return g.Wait()
}
