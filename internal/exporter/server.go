package exporter

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/nmslite/engine/internal/config"
)

// Server serves the exporter router.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

func NewServer(cfg config.ExporterConfig, handler http.Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		httpServer: &http.Server{
			Addr:         cfg.Addr(),
			Handler:      handler,
			ReadTimeout:  cfg.GetReadTimeout(),
			WriteTimeout: cfg.GetWriteTimeout(),
		},
		logger: logger.With("component", "exporter_server"),
	}
}

// Start blocks serving requests until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("Exporter listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
