// Package health serves liveness, scraper status and metrics over HTTP.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/john/unichat/internal/event"
	"github.com/john/unichat/internal/host"
)

// ScraperStatus is the last lifecycle envelope seen from a scraper.
type ScraperStatus struct {
	ScraperID string `json:"scraperId"`
	State     string `json:"state"`
	Since     int64  `json:"since"`
	LastSeen  int64  `json:"lastSeen"`
	Message   string `json:"message,omitempty"`
	Events    uint64 `json:"events"`
}

// Tracker keeps the status of every scraper from the envelope stream.
type Tracker struct {
	mu       sync.RWMutex
	scrapers map[string]*ScraperStatus
}

func NewTracker() *Tracker {
	return &Tracker{scrapers: make(map[string]*ScraperStatus)}
}

// Observe records env.
func (t *Tracker) Observe(env host.Envelope) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.scrapers[env.ScraperID]
	if !ok {
		s = &ScraperStatus{ScraperID: env.ScraperID}
		t.scrapers[env.ScraperID] = s
	}
	s.LastSeen = env.Timestamp

	state := env.Type
	switch env.Type {
	case host.TypePing:
		state = host.TypeReady
	case host.TypeIdle, host.TypeReady, host.TypeFatal:
	case host.TypeError:
		s.Message = env.String("message")
		return
	default:
		if event.IsContent(env.Type) {
			s.Events++
		}
		return
	}

	if s.State != state {
		s.State = state
		s.Since = env.Timestamp
		if state == host.TypeFatal {
			s.Message = env.String("message")
		} else {
			s.Message = ""
		}
	}
}

// Consume observes envelopes until envs closes or ctx is done.
func (t *Tracker) Consume(ctx context.Context, envs <-chan host.Envelope) {
	for {
		select {
		case env, ok := <-envs:
			if !ok {
				return
			}
			t.Observe(env)
		case <-ctx.Done():
			return
		}
	}
}

// Snapshot returns every scraper status sorted by id.
func (t *Tracker) Snapshot() []ScraperStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]ScraperStatus, 0, len(t.scrapers))
	for _, s := range t.scrapers {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScraperID < out[j].ScraperID })
	return out
}

// Server provides HTTP health check endpoint
type Server struct {
	server *http.Server
	logger *slog.Logger
}

// New creates a server on addr. gatherer backs /metrics.
func New(addr string, tracker *Tracker, gatherer prometheus.Gatherer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		server: &http.Server{
			Addr:              addr,
			Handler:           Handler(tracker, gatherer),
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger.With("component", "health"),
	}
}

// Handler routes /health, /status and /metrics.
func Handler(tracker *Tracker, gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"scrapers": tracker.Snapshot()})
	})

	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return mux
}

// Start begins serving HTTP requests
func (s *Server) Start() error {
	s.logger.Info("health check server listening", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down health check server...")
	return s.server.Shutdown(ctx)
}
