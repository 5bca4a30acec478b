package collector

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

type fakeProcess struct {
	exited  bool
	stopped int
}

func (p *fakeProcess) Exited() bool { return p.exited }

func (p *fakeProcess) Stop() error {
	p.stopped++
	p.exited = true
	return nil
}

type health struct {
	status int32
}

func (h *health) set(status int) { atomic.StoreInt32(&h.status, int32(status)) }

func (h *health) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/-/healthy" {
		http.NotFound(w, r)
		return
	}
	w.WriteHeader(int(atomic.LoadInt32(&h.status)))
}

func newTestSupervisor(t *testing.T, h *health) (*Supervisor, *[]*fakeProcess) {
	t.Helper()
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)

	s := New(Config{
		Binary:         "/opt/prometheus/prometheus",
		DataDir:        t.TempDir(),
		Retention:      "60d",
		URL:            ts.URL,
		CheckInterval:  time.Hour,
		ScrapeTarget:   "localhost:8090",
		ScrapeInterval: 5 * time.Second,
	})
	started := &[]*fakeProcess{}
	s.start = func() (process, error) {
		p := &fakeProcess{}
		*started = append(*started, p)
		return p, nil
	}
	return s, started
}

func TestArgs(t *testing.T) {
	s := New(Config{
		Binary:        "/opt/prometheus/prometheus",
		ConfigFile:    "/etc/prometheus/prometheus.yml",
		DataDir:       "/var/lib/airqual",
		Retention:     "60d",
		ListenAddress: "localhost:9090",
	})
	assert.Equal(t, []string{
		"--config.file=/etc/prometheus/prometheus.yml",
		"--storage.tsdb.retention.time=60d",
		"--storage.tsdb.path=" + filepath.Join("/var/lib/airqual", "data"),
		"--web.listen-address=localhost:9090",
	}, s.Args())
}

func TestWriteScrapeConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "prometheus.yml")
	require.NoError(t, WriteScrapeConfig(path, "localhost:8090", 5*time.Second))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var cfg struct {
		Global struct {
			ScrapeInterval string `yaml:"scrape_interval"`
		} `yaml:"global"`
		ScrapeConfigs []struct {
			JobName       string `yaml:"job_name"`
			StaticConfigs []struct {
				Targets []string `yaml:"targets"`
			} `yaml:"static_configs"`
		} `yaml:"scrape_configs"`
	}
	require.NoError(t, yaml.Unmarshal(raw, &cfg))
	assert.Equal(t, "5s", cfg.Global.ScrapeInterval)
	require.Len(t, cfg.ScrapeConfigs, 1)
	assert.Equal(t, "airqual", cfg.ScrapeConfigs[0].JobName)
	assert.Equal(t, []string{"localhost:8090"}, cfg.ScrapeConfigs[0].StaticConfigs[0].Targets)
}

func TestRunDoesNotStartHealthyCollector(t *testing.T) {
	h := &health{status: http.StatusOK}
	s, started := newTestSupervisor(t, h)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	require.NoError(t, s.Run(ctx))
	assert.Empty(t, *started)
	assert.FileExists(t, filepath.Join(s.DataDir, "prometheus.yml"))
}

func TestRunStartsAndStopsCollector(t *testing.T) {
	h := &health{status: http.StatusServiceUnavailable}
	s, started := newTestSupervisor(t, h)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	require.NoError(t, s.Run(ctx))
	require.Len(t, *started, 1)
	assert.Equal(t, 1, (*started)[0].stopped)
}

func TestRunFailsWhenCollectorCannotStart(t *testing.T) {
	h := &health{status: http.StatusServiceUnavailable}
	s, _ := newTestSupervisor(t, h)
	s.start = func() (process, error) {
		return nil, errors.New("no such file or directory")
	}

	err := s.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to start collector")
}

func TestHealthy(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   bool
	}{
		{name: "ok", status: http.StatusOK, want: true},
		{name: "no content", status: http.StatusNoContent, want: true},
		{name: "unavailable", status: http.StatusServiceUnavailable},
		{name: "internal error", status: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestSupervisor(t, &health{status: int32(tt.status)})
			assert.Equal(t, tt.want, s.healthy(context.Background(), true))
		})
	}

	t.Run("unreachable", func(t *testing.T) {
		ts := httptest.NewServer(&health{status: http.StatusOK})
		ts.Close()
		s := New(Config{URL: ts.URL})
		assert.False(t, s.healthy(context.Background(), true))
	})

	t.Run("cancelled", func(t *testing.T) {
		s, _ := newTestSupervisor(t, &health{status: http.StatusOK})
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		assert.False(t, s.healthy(ctx, false))
	})
}

func TestCheck(t *testing.T) {
	ctx := context.Background()

	t.Run("healthy collector is left alone", func(t *testing.T) {
		h := &health{status: http.StatusOK}
		s, started := newTestSupervisor(t, h)
		require.NoError(t, s.launch())

		s.check(ctx)
		assert.Len(t, *started, 1)
		assert.Equal(t, 0, (*started)[0].stopped)
	})

	t.Run("exited collector is restarted", func(t *testing.T) {
		h := &health{status: http.StatusOK}
		s, started := newTestSupervisor(t, h)
		require.NoError(t, s.launch())
		(*started)[0].exited = true

		s.check(ctx)
		assert.Len(t, *started, 2)
		assert.Same(t, (*started)[1], s.proc)
	})

	t.Run("unresponsive collector is killed and restarted", func(t *testing.T) {
		h := &health{status: http.StatusOK}
		s, started := newTestSupervisor(t, h)
		require.NoError(t, s.launch())
		h.set(http.StatusInternalServerError)

		s.check(ctx)
		require.Len(t, *started, 2)
		assert.Equal(t, 1, (*started)[0].stopped)
		assert.Equal(t, 0, (*started)[1].stopped)
	})

	t.Run("foreign collector that died is started", func(t *testing.T) {
		h := &health{status: http.StatusBadGateway}
		s, started := newTestSupervisor(t, h)

		s.check(ctx)
		assert.Len(t, *started, 1)
	})
}

func TestExecProcessLogsOutput(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("no /bin/sh")
	}

	hook := logtest.NewGlobal()
	level := log.GetLevel()
	log.SetLevel(log.DebugLevel)
	defer log.SetLevel(level)

	p, err := startProcess("/bin/sh", "-c", "echo collector ready; exec sleep 30")
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		for _, entry := range hook.AllEntries() {
			if entry.Message == "collector ready" {
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)

	assert.False(t, p.Exited())
	require.NoError(t, p.Stop())
	assert.True(t, p.Exited())
}
