package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	httpSwagger "github.com/swaggo/http-swagger"

	_ "github.com/skillnet-labs/examchain-backend/internal/api/docs"
	"github.com/skillnet-labs/examchain-backend/internal/config"
	"github.com/skillnet-labs/examchain-backend/internal/logger"
	"github.com/skillnet-labs/examchain-backend/internal/metrics"
)

const shutdownTimeout = 10 * time.Second

// Server is the REST API server.
type Server struct {
	cfg     *config.APIConfig
	handler *Handler
	log     *logger.Logger
	httpSrv *http.Server
}

// NewServer creates the API server. A nil or disabled config yields a
// server whose Start is a no-op.
func NewServer(cfg *config.APIConfig, svc IndexerService, log *logger.Logger) *Server {
	return &Server{
		cfg:     cfg,
		handler: NewHandler(svc, log),
		log:     log,
	}
}

// Routes builds the route table with per-route authorization.
func (s *Server) Routes() http.Handler {
	auth := NewAuth(s.cfg.AuthToken, s.cfg.AdminToken)

	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handler.HealthCheck)
	mux.Handle("GET /swagger/", httpSwagger.Handler())

	mux.HandleFunc("GET /api/v1/indexer/status", auth.User(s.handler.GetStatus))
	mux.HandleFunc("GET /api/v1/indexer/exams", auth.User(s.handler.ListExams))
	mux.HandleFunc("GET /api/v1/indexer/registrations", auth.User(s.handler.ListRegistrations))
	mux.HandleFunc("GET /api/v1/indexer/results", auth.User(s.handler.ListResults))

	mux.HandleFunc("POST /api/v1/indexer/scan", auth.Admin(s.handler.ScanBlocks))
	mux.HandleFunc("POST /api/v1/indexer/maintenance", auth.Admin(s.handler.RunMaintenance))
	mux.HandleFunc("GET /api/v1/indexer/events", auth.Admin(s.handler.ListEvents))

	var handler http.Handler = mux
	if s.cfg.CORS.Enabled {
		handler = CORSMiddleware(s.cfg.CORS.AllowedOrigins)(handler)
	}
	handler = LoggingMiddleware(s.log)(handler)
	handler = RecoveryMiddleware(s.log)(handler)

	return handler
}

// Start serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	if s.cfg == nil || !s.cfg.Enabled {
		s.log.Info("api server disabled")
		return nil
	}

	s.httpSrv = &http.Server{
		Addr:         s.cfg.ListenAddress,
		Handler:      s.Routes(),
		ReadTimeout:  s.cfg.ReadTimeout.Duration,
		WriteTimeout: s.cfg.WriteTimeout.Duration,
		IdleTimeout:  s.cfg.IdleTimeout.Duration,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Infow("api server listening", "address", s.cfg.ListenAddress)
		metrics.ComponentHealthSet("api", true)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		metrics.ComponentHealthSet("api", false)
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err := s.httpSrv.Shutdown(shutdownCtx)
	metrics.ComponentHealthSet("api", false)
	s.log.Info("api server stopped")

	return err
}
