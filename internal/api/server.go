// Package api serves the stream status, feeds and live push over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/enliven17/somnia-predict/internal/feed"
	"github.com/enliven17/somnia-predict/internal/model"
	"github.com/enliven17/somnia-predict/internal/stream"
)

// Engine is the part of stream.Engine the API exposes.
type Engine interface {
	Status() stream.Status
	Events(scope string) []model.MarketEvent
	LoadHistory(ctx context.Context) (stream.HistoryResult, error)
}

// StatsReader reads market counters, seeding a market on first lookup.
type StatsReader interface {
	Lookup(ctx context.Context, marketID string) (feed.MarketStats, error)
}

// Server is the HTTP surface of the stream.
type Server struct {
	engine   Engine
	stats    StatsReader
	hub      *Hub
	gatherer prometheus.Gatherer
	logger   *zap.Logger
	router   *chi.Mux
	server   *http.Server

	// background work started by requests outlives them until Stop.
	baseCtx context.Context
	cancel  context.CancelFunc
}

// NewServer builds the router. gatherer may be nil to disable /metrics.
func NewServer(addr string, engine Engine, stats StatsReader, hub *Hub, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	baseCtx, cancel := context.WithCancel(context.Background())
	s := &Server{
		engine:   engine,
		stats:    stats,
		hub:      hub,
		gatherer: gatherer,
		logger:   logger,
		router:   chi.NewRouter(),
		baseCtx:  baseCtx,
		cancel:   cancel,
	}

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(requestLogger(logger))
	s.router.Use(middleware.Recoverer)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	if s.hub != nil {
		s.router.Get("/ws", s.hub.ServeWS)
	}
	s.router.Get("/healthz", s.handleHealth)
	s.router.Get("/status", s.handleStatus)
	s.router.Get("/events", s.handleEvents)
	s.router.Post("/history", s.handleHistory)
	s.router.Get("/markets/{id}/stats", s.handleMarketStats)
	if s.gatherer != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Status())
}

type eventsResponse struct {
	Scope  string              `json:"scope"`
	Events []model.MarketEvent `json:"events"`
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	scope := r.URL.Query().Get("market")
	if scope == "" {
		scope = model.UnscopedMarket
	}
	writeJSON(w, http.StatusOK, eventsResponse{Scope: scope, Events: s.engine.Events(scope)})
}

// handleHistory starts a backfill in the background.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	status := s.engine.Status()
	switch {
	case status.IsLoadingHistory:
		writeError(w, http.StatusConflict, stream.ErrHistoryInProgress)
		return
	case !status.IsConnected:
		writeError(w, http.StatusServiceUnavailable, stream.ErrNotConnected)
		return
	}

	go func() {
		result, err := s.engine.LoadHistory(s.baseCtx)
		if err != nil {
			if errors.Is(err, stream.ErrHistoryInProgress) || errors.Is(err, context.Canceled) {
				s.logger.Debug("history request skipped", zap.Error(err))
				return
			}
			s.logger.Warn("history request failed", zap.Error(err))
			return
		}
		s.logger.Info("history request complete", zap.Int("events", result.Events), zap.Int("failed_chunks", result.FailedChunks))
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "loading"})
}

func (s *Server) handleMarketStats(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if s.stats == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("live stats disabled"))
		return
	}
	stats, err := s.stats.Lookup(r.Context(), id)
	if err != nil {
		s.logger.Warn("seed market stats failed", zap.String("market_id", id), zap.Error(err))
	}
	writeJSON(w, http.StatusOK, stats)
}

// Start serves until Stop is called.
func (s *Server) Start() error {
	s.logger.Info("starting API server", zap.String("address", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Stop cancels background work, closes WebSocket clients and shuts down.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping API server")
	s.cancel()
	if s.hub != nil {
		s.hub.Close()
	}
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}

// Router returns the underlying chi router.
func (s *Server) Router() *chi.Mux {
	return s.router
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Debug("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}
