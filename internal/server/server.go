// Package server exposes the operator HTTP and WebSocket API.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gabikreal1/LiquiDOT-sub001/internal/domain"
	"github.com/gabikreal1/LiquiDOT-sub001/internal/server/handler"
	"github.com/gabikreal1/LiquiDOT-sub001/internal/server/middleware"
	"github.com/gabikreal1/LiquiDOT-sub001/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled

	// RateLimit caps requests per client IP per RateWindow. Zero disables
	// rate limiting.
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server registers.
type Handlers struct {
	Health    *handler.HealthHandler
	Positions *handler.PositionHandler
	Pending   *handler.PendingHandler
	Monitor   *handler.MonitorHandler
	Returns   *handler.ReturnHandler
	Registry  *handler.RegistryHandler
	Vault     *handler.VaultHandler

	// Inbound is the relayer delivery endpoint. It authenticates with its
	// own HMAC signature rather than the operator API key.
	Inbound http.Handler
}

// Server is the operator-facing HTTP + WebSocket API.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer registers all routes on a ServeMux and wires the middleware
// chain (rate limit, auth, logging, CORS). Handlers may be nil when the
// running mode does not host that surface; their routes are skipped.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health check (exempt from auth by path).
	if handlers.Health != nil {
		mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	}

	// Destination-side position surface.
	if handlers.Positions != nil {
		mux.HandleFunc("GET /api/positions", handlers.Positions.ListPositions)
		mux.HandleFunc("GET /api/positions/needs-attention", handlers.Positions.NeedsAttention)
		mux.HandleFunc("GET /api/positions/{id}", handlers.Positions.GetPosition)
		mux.HandleFunc("POST /api/positions/{id}/liquidate", handlers.Positions.Liquidate)
	}
	if handlers.Pending != nil {
		mux.HandleFunc("GET /api/pending", handlers.Pending.ListPending)
		mux.HandleFunc("POST /api/pending/{correlation_id}/cancel", handlers.Pending.CancelPending)
	}
	if handlers.Monitor != nil {
		mux.HandleFunc("GET /api/monitor/status", handlers.Monitor.Status)
		mux.HandleFunc("POST /api/monitor/pause", handlers.Monitor.Pause)
		mux.HandleFunc("POST /api/monitor/resume", handlers.Monitor.Resume)
	}
	if handlers.Returns != nil {
		mux.HandleFunc("POST /api/returns", handlers.Returns.Return)
	}

	// Registry surface.
	if handlers.Registry != nil {
		mux.HandleFunc("GET /api/settings", handlers.Registry.GetSettings)
		mux.HandleFunc("PUT /api/settings", handlers.Registry.PutSettings)
		mux.HandleFunc("GET /api/assets", handlers.Registry.ListAssets)
		mux.HandleFunc("POST /api/assets", handlers.Registry.AddAsset)
		mux.HandleFunc("DELETE /api/assets/{address}", handlers.Registry.RemoveAsset)
		mux.HandleFunc("GET /api/chains", handlers.Registry.ListChains)
		mux.HandleFunc("POST /api/chains", handlers.Registry.AddChain)
		mux.HandleFunc("PUT /api/chains/{id}", handlers.Registry.UpdateChain)
		mux.HandleFunc("POST /api/chains/{id}/freeze", handlers.Registry.FreezeChain)
	}

	// Home-side vault surface.
	if handlers.Vault != nil {
		mux.HandleFunc("GET /api/vault/balances", handlers.Vault.Balances)
		mux.HandleFunc("GET /api/vault/positions", handlers.Vault.OpenPositions)
		mux.HandleFunc("POST /api/vault/deposit", handlers.Vault.Deposit)
		mux.HandleFunc("POST /api/vault/withdraw", handlers.Vault.Withdraw)
		mux.HandleFunc("POST /api/vault/invest", handlers.Vault.Invest)
	}

	// Relayer inbound delivery.
	if handlers.Inbound != nil {
		mux.Handle("POST /v1/messages", handlers.Inbound)
	}

	// WebSocket position event stream.
	if wsHub != nil {
		mux.HandleFunc("GET /api/ws", wsHub.HandleWS)
	}

	// Build the middleware chain, innermost first.
	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey)(h)
	h = middleware.Logging(logger)(h)
	if limiter != nil && cfg.RateLimit > 0 {
		window := cfg.RateWindow
		if window <= 0 {
			window = time.Second
		}
		h = middleware.RateLimit(limiter, cfg.RateLimit, window)(h)
	}
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
