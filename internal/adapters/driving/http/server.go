package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/custodia-labs/callbridge/internal/core/ports/driving"
)

// Pinger is a simple health check interface
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server represents the HTTP server
type Server struct {
	httpServer *http.Server
	router     *http.ServeMux
	handler    http.Handler
	version    string
	logger     *slog.Logger

	frontendURL string

	// Services
	authService       driving.AuthService
	connectionService driving.ConnectionService
	callDataService   driving.CallDataService

	// Infrastructure
	db          Pinger // PostgreSQL health check
	redisClient Pinger // Redis health check (optional)
}

// Config holds server configuration
type Config struct {
	Host           string
	Port           int
	Version        string
	FrontendURL    string
	AllowedOrigins []string
	Logger         *slog.Logger
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Host:           "0.0.0.0",
		Port:           8080,
		Version:        "dev",
		FrontendURL:    "http://localhost:3000",
		AllowedOrigins: []string{"*"},
	}
}

// Services groups the driving ports the server exposes.
type Services struct {
	Auth       driving.AuthService
	Connection driving.ConnectionService
	CallData   driving.CallDataService
}

// NewServer creates a new HTTP server. redisClient may be nil.
func NewServer(cfg Config, svc Services, db Pinger, redisClient Pinger) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		router:            http.NewServeMux(),
		version:           cfg.Version,
		logger:            logger,
		frontendURL:       cfg.FrontendURL,
		authService:       svc.Auth,
		connectionService: svc.Connection,
		callDataService:   svc.CallData,
		db:                db,
		redisClient:       redisClient,
	}

	s.setupRoutes()

	s.handler = NewRecoveryMiddleware(logger).Handler(
		NewLoggingMiddleware(logger).Handler(
			NewCORSMiddleware(cfg.AllowedOrigins).Handler(s.router)))

	s.httpServer = &http.Server{
		Addr:         net.JoinHostPort(cfg.Host, fmt.Sprint(cfg.Port)),
		Handler:      s.handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the fully wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	authMiddleware := NewAuthMiddleware(s.authService)
	authed := func(h http.HandlerFunc) http.Handler {
		return authMiddleware.Authenticate(h)
	}
	admin := func(h http.HandlerFunc) http.Handler {
		return authMiddleware.Authenticate(authMiddleware.RequireAdmin(h))
	}

	// Health endpoints (no auth)
	s.router.HandleFunc("GET /health", s.handleHealth)
	s.router.HandleFunc("GET /ready", s.handleReady)
	s.router.HandleFunc("GET /version", s.handleVersion)

	// Connection lifecycle
	s.router.Handle("POST /api/v1/goto/connect", authed(s.handleConnect))
	s.router.Handle("GET /api/v1/goto/status", authed(s.handleStatus))
	s.router.Handle("POST /api/v1/goto/disconnect", authed(s.handleDisconnect))
	s.router.Handle("GET /api/v1/goto/token", authed(s.handleTokenCheck))

	// Callback is public - the provider redirects the browser here
	s.router.HandleFunc("GET /api/v1/goto/callback", s.handleCallback)

	// Call data
	s.router.Handle("GET /api/v1/goto/call-events/report-summaries", authed(s.handleReportSummaries))
	s.router.Handle("GET /api/v1/goto/call-queues", authed(s.handleCallQueues))
	s.router.Handle("GET /api/v1/goto/lines", authed(s.handleLines))

	// Admin
	s.router.Handle("POST /api/v1/admin/goto/reset", admin(s.handleReset))
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting http server", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	s.logger.Info("http server stopped")
	return nil
}

// Stop stops the server
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
