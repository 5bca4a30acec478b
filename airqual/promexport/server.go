package promexport

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/alepar/airqual/airqual"
)

const shutdownTimeout = 5 * time.Second

// Server serves /metrics for the collector to scrape, plus /healthz and a landing page.
type Server struct {
	Addr     string
	Exporter *Exporter
	Gatherer prometheus.Gatherer

	// HealthyWithin is how recent the last measurement must be for /healthz to pass.
	HealthyWithin time.Duration
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/", s.index)
	r.Get("/healthz", s.healthz)
	// Expose the registered metrics via HTTP.
	r.Handle("/metrics", promhttp.HandlerFor(
		s.Gatherer,
		promhttp.HandlerOpts{
			// Opt into OpenMetrics to support exemplars.
			EnableOpenMetrics: true,
			ErrorLog:          log.StandardLogger(),
		},
	))
	return r
}

// Run serves until ctx is done. Failing to bind is a persistent export error.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return &airqual.ExportError{Exporter: "prometheus", Persistent: true, Err: errors.Wrapf(err, "failed to listen on %s", s.Addr)}
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	log.Infof("serving metrics on http://%s/metrics", ln.Addr())

	select {
	case err := <-errCh:
		return &airqual.ExportError{Exporter: "prometheus", Persistent: true, Err: errors.Wrap(err, "metrics server stopped")}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "failed to shut down metrics server")
	}
	if err := <-errCh; err != nil && err != http.ErrServerClosed {
		return errors.Wrap(err, "metrics server stopped")
	}
	return nil
}

func (s *Server) index(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, `<html>
<head><title>Air Quality Exporter</title></head>
<body>
<h1>Air Quality Exporter</h1>
<p><a href="/metrics">Metrics</a></p>
<p><a href="/healthz">Health</a></p>
</body>
</html>
`)
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	m, ok := s.Exporter.Latest()
	if !ok {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprintln(w, "no measurement yet")
		return
	}
	age := s.Exporter.Now().Sub(m.Time)
	if s.HealthyWithin > 0 && age > s.HealthyWithin {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprintf(w, "last measurement %s old\n", age.Round(time.Second))
		return
	}
	fmt.Fprintf(w, "ok, last measurement %s old\n", age.Round(time.Second))
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		log.WithFields(log.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   ww.Status(),
			"duration": time.Since(start),
			"remote":   r.RemoteAddr,
		}).Debug("served request")
	})
}
