package main

import (
	"io"
	"os"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/alepar/airqual/airqual/config"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// setupLogging configures the standard logrus logger. The returned closer releases the log file, if any.
func setupLogging(cfg config.LogConfig) (io.Closer, error) {
	formatter := &log.TextFormatter{
		FullTimestamp: true,
	}
	log.SetFormatter(formatter)

	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		return nil, errors.Wrap(err, "bad log level")
	}
	log.SetLevel(level)

	if cfg.File == "" {
		log.SetOutput(os.Stderr)
		return nopCloser{}, nil
	}
	f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open log file")
	}
	log.SetOutput(io.MultiWriter(os.Stderr, f))
	return f, nil
}
