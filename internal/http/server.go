package http

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/andygrunwald/fuel-price-watcher/internal/database"
	"github.com/andygrunwald/fuel-price-watcher/internal/models"
	"github.com/andygrunwald/fuel-price-watcher/internal/scheduler"
	"github.com/andygrunwald/fuel-price-watcher/internal/views"
	"github.com/andygrunwald/fuel-price-watcher/internal/watcher"
)

// PageOptions configures the HTML price page.
type PageOptions struct {
	Title     string
	FuelTypes []string
	Location  *time.Location
}

// Server represents the HTTP server for the price page, metrics and status endpoints.
type Server struct {
	server   *http.Server
	watcher  *watcher.Watcher
	sched    *scheduler.Scheduler
	page     PageOptions
	logger   zerolog.Logger
	metrics  *Metrics
	registry *prometheus.Registry
}

// NewServer creates a new HTTP server. sched and db may be nil.
// Templates must already be loaded with views.LoadTemplates.
func NewServer(addr string, w *watcher.Watcher, sched *scheduler.Scheduler, db *database.DB, page PageOptions, logger zerolog.Logger) *Server {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if page.Title == "" {
		page.Title = "Fuel prices"
	}

	s := &Server{
		watcher:  w,
		sched:    sched,
		page:     page,
		logger:   logger.With().Str("component", "http").Logger(),
		metrics:  NewMetrics(reg),
		registry: reg,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /api/stations", s.handleStations)
	mux.HandleFunc("POST /poll", s.handlePoll)
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.Handle("GET /status", NewStatusHandler(w, sched, db))
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			panic(err)
		}
	})

	s.server = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the request multiplexer.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("starting HTTP server")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// Metrics returns the Prometheus metrics.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	data := views.NewPageData(s.page.Title, s.watcher.CurrentState(), s.page.FuelTypes, s.watcher.LastPollTimestamp(), s.page.Location)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := views.RenderIndex(w, data); err != nil {
		s.logger.Error().Err(err).Msg("failed to render index")
		http.Error(w, "failed to render page", http.StatusInternalServerError)
	}
}

// StationsResponse is the response for the /api/stations endpoint.
type StationsResponse struct {
	LastPollAt *time.Time       `json:"last_poll_at"`
	Stations   []models.Station `json:"stations"`
}

func (s *Server) handleStations(w http.ResponseWriter, r *http.Request) {
	state := s.watcher.CurrentState()

	response := StationsResponse{Stations: make([]models.Station, 0, len(state))}
	for _, st := range state {
		response.Stations = append(response.Stations, st)
	}
	sort.Slice(response.Stations, func(i, j int) bool {
		return response.Stations[i].Code < response.Stations[j].Code
	})
	if last := s.watcher.LastPollTimestamp(); !last.IsZero() {
		response.LastPollAt = &last
	}

	writeJSON(w, http.StatusOK, response)
}

func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	if s.sched == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "scheduler not configured"})
		return
	}

	res, err := s.sched.TriggerPoll(r.Context())
	if err != nil {
		code := http.StatusInternalServerError
		var fe *watcher.FetchError
		switch {
		case errors.Is(err, scheduler.ErrPollInProgress):
			code = http.StatusConflict
		case errors.As(err, &fe):
			code = http.StatusBadGateway
		}
		writeJSON(w, code, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, res)
}
