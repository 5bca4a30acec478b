// Package collector launches a local Prometheus server at an explicitly
// configured path and keeps it running next to the exporter.
package collector

import (
	"context"
	"path/filepath"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const healthTimeout = 5 * time.Second

type Config struct {
	// Binary is the path of the Prometheus executable. Nothing is launched when it is empty.
	Binary string
	// ConfigFile is passed as --config.file. When empty a config scraping ScrapeTarget is written to DataDir.
	ConfigFile string
	DataDir    string
	Retention  string

	// ListenAddress is the collector's own web address, URL is where its health endpoint is reached.
	ListenAddress string
	URL           string

	CheckInterval  time.Duration
	ScrapeTarget   string
	ScrapeInterval time.Duration
}

type Supervisor struct {
	Config
	HTTPClient *resty.Client

	start func() (process, error)
	proc  process
}

func New(cfg Config) *Supervisor {
	s := &Supervisor{
		Config:     cfg,
		HTTPClient: resty.New().SetTimeout(healthTimeout),
	}
	s.start = func() (process, error) {
		return startProcess(s.Binary, s.Args()...)
	}
	return s
}

// Args is the collector command line.
func (s *Supervisor) Args() []string {
	args := []string{
		"--config.file=" + s.configFile(),
	}
	if s.Retention != "" {
		args = append(args, "--storage.tsdb.retention.time="+s.Retention)
	}
	if s.DataDir != "" {
		args = append(args, "--storage.tsdb.path="+filepath.Join(s.DataDir, "data"))
	}
	if s.ListenAddress != "" {
		args = append(args, "--web.listen-address="+s.ListenAddress)
	}
	return args
}

func (s *Supervisor) configFile() string {
	if s.ConfigFile != "" {
		return s.ConfigFile
	}
	return filepath.Join(s.DataDir, "prometheus.yml")
}

// Run starts the collector unless one already answers, then checks on it every
// CheckInterval until ctx is done, when it stops the process it started.
func (s *Supervisor) Run(ctx context.Context) error {
	if s.ConfigFile == "" {
		if err := WriteScrapeConfig(s.configFile(), s.ScrapeTarget, s.ScrapeInterval); err != nil {
			return err
		}
		log.Debugf("wrote scrape config %s", s.configFile())
	}

	if s.healthy(ctx, false) {
		log.Infof("collector already running at %s, not starting it", s.URL)
	} else if err := s.launch(); err != nil {
		return err
	}
	defer s.stop()

	ticker := time.NewTicker(s.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.check(ctx)
		}
	}
}

// check restarts the collector when it died or stopped answering.
func (s *Supervisor) check(ctx context.Context) {
	bad := !s.healthy(ctx, true)
	needsRestart := false

	switch {
	case s.proc == nil && bad:
		log.Error("collector appears to have died, but we didn't start it originally. Attempting to start it up.")
		needsRestart = true
	case s.proc != nil && s.proc.Exited():
		log.Error("collector died, restarting!")
		needsRestart = true
	case s.proc != nil && bad:
		log.Error("collector returned a bad response, but it is still running. Attempting to kill it and restart it.")
		s.stop()
		needsRestart = true
	}

	if needsRestart {
		if err := s.launch(); err != nil {
			log.Errorf("failed to restart collector: %s", err)
		}
	}
}

func (s *Supervisor) launch() error {
	log.Debugf("starting collector %s %v", s.Binary, s.Args())
	proc, err := s.start()
	if err != nil {
		s.proc = nil
		return errors.Wrap(err, "failed to start collector")
	}
	s.proc = proc
	log.Infof("started collector %s", s.Binary)
	return nil
}

func (s *Supervisor) stop() {
	if s.proc == nil {
		return
	}
	if err := s.proc.Stop(); err != nil {
		log.Errorf("failed to stop collector: %s", err)
	}
	s.proc = nil
}

func (s *Supervisor) healthy(ctx context.Context, logErr bool) bool {
	endpoint := s.URL + "/-/healthy"
	resp, err := s.HTTPClient.R().
		SetContext(ctx).
		Get(endpoint)
	if err != nil {
		if logErr {
			log.Errorf("failed to request %s: %s", endpoint, err)
		}
		return false
	}
	if !resp.IsSuccess() {
		log.Debugf("%s answered %s", endpoint, resp.Status())
		return false
	}
	return true
}
