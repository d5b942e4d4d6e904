package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"scribe-server/pkg/config"
	"scribe-server/pkg/metrics"
	"scribe-server/pkg/ws"
)

// Server hosts the WebSocket endpoint plus health and metrics surfaces.
type Server struct {
	logger     *logrus.Logger
	config     config.HTTPConfig
	mux        *http.ServeMux
	httpServer *http.Server
	wsHandler  *ws.Handler
	startedAt  time.Time

	statsSources map[string]StatsSource
}

// StatsSource exposes read-only component statistics for the health
// surface.
type StatsSource interface {
	Stats() map[string]interface{}
}

// NewServer creates the HTTP server and registers its routes.
func NewServer(logger *logrus.Logger, cfg config.HTTPConfig, wsHandler *ws.Handler) *Server {
	s := &Server{
		logger:       logger,
		config:       cfg,
		mux:          http.NewServeMux(),
		wsHandler:    wsHandler,
		startedAt:    time.Now(),
		statsSources: make(map[string]StatsSource),
	}

	s.mux.HandleFunc("/ws", wsHandler.ServeWS)
	s.mux.HandleFunc("/health", s.HealthHandler)
	s.mux.HandleFunc("/health/live", s.LivenessHandler)
	metrics.RegisterHandler(s.mux)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s
}

// AddStatsSource registers a component whose statistics appear under the
// given name in health responses.
func (s *Server) AddStatsSource(name string, source StatsSource) {
	s.statsSources[name] = source
}

// Start begins serving. It blocks until the listener fails or Shutdown is
// called.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.httpServer.Addr).Info("HTTP server starting")

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}
