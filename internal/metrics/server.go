package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Server serves /metrics and /healthz.
type Server struct {
	server  *http.Server
	metrics *Metrics
	maxAge  time.Duration
	started time.Time
	now     func() time.Time
	logger  zerolog.Logger
}

// NewServer builds the HTTP server. /healthz turns unhealthy once no cycle
// succeeded within maxAge; zero disables that check. Until the first cycle it
// reports "starting", and goes stale only when maxAge passes without one.
func NewServer(addr string, gatherer prometheus.Gatherer, m *Metrics, maxAge time.Duration, logger zerolog.Logger) *Server {
	s := &Server{
		metrics: m,
		maxAge:  maxAge,
		started: time.Now(),
		now:     time.Now,
		logger:  logger.With().Str("component", "metrics_server").Logger(),
	}

	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	router.HandleFunc("/healthz", s.health).Methods(http.MethodGet)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler exposes the router.
func (s *Server) Handler() http.Handler { return s.server.Handler }

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.server.Addr).Msg("metrics server listening")
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	now := s.now()
	last := s.metrics.LastSuccess()
	status := http.StatusOK
	body := map[string]any{"status": "ok"}

	reference := last
	if last.IsZero() {
		body["status"] = "starting"
		reference = s.started
	} else {
		body["last_success"] = last.Format(time.RFC3339)
	}
	if s.maxAge > 0 && now.Sub(reference) > s.maxAge {
		status = http.StatusServiceUnavailable
		body["status"] = "stale"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
