// Package server exposes the operational HTTP surface: liveness,
// readiness and runtime statistics. The enrichment pipeline itself is
// stream-driven; nothing here sits on the data path.
package server

import (
	"context"
	"net/http"
	"time"

	"bom-enricher/internal/common/logging"
)

// Server wraps the ops HTTP listener.
type Server struct {
	srv    *http.Server
	logger logging.Logger
}

// New creates a server on the given port.
func New(handler http.Handler, port string, logger logging.Logger) *Server {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Server{
		srv: &http.Server{
			Addr:         ":" + port,
			Handler:      handler,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		logger: logger,
	}
}

// Start begins serving in the background.
func (s *Server) Start() {
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Ops server terminated", err,
				logging.Field{Key: "addr", Value: s.srv.Addr},
			)
		}
	}()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
