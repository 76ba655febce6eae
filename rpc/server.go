// Package rpc exposes the voucher node over HTTP: a relay endpoint for signed
// calls, read-only queries, the permissionless pokes, a websocket event
// stream and JWT-guarded operator routes.
package rpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"voucherchain/core"
	"voucherchain/observability/eventlog"
)

const (
	maxRequestBodyBytes = 1 << 20
	defaultListLimit    = 100
	maxListLimit        = 1000
	shutdownTimeout     = 10 * time.Second
)

// Config wires the optional collaborators of the HTTP server.
type Config struct {
	RateLimitPerSecond float64
	RateLimitBurst     int
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	Auth               AuthConfig
	// OriginPatterns restricts websocket origins. Empty allows any origin.
	OriginPatterns []string
	EventLog       *eventlog.Store
	Idempotency    *IdempotencyStore
	Logger         *slog.Logger
}

// Server serves the node's HTTP API.
type Server struct {
	node    *core.Node
	cfg     Config
	logger  *slog.Logger
	auth    *Authenticator
	limiter *RateLimiter
	router  chi.Router
}

// NewServer builds the router for node.
func NewServer(node *core.Node, cfg Config) (*Server, error) {
	if node == nil {
		return nil, errors.New("rpc: node required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if len(cfg.OriginPatterns) == 0 {
		cfg.OriginPatterns = []string{"*"}
	}
	s := &Server{
		node:    node,
		cfg:     cfg,
		logger:  logger.With("component", "rpc"),
		auth:    NewAuthenticator(cfg.Auth, logger),
		limiter: NewRateLimiter(cfg.RateLimitPerSecond, cfg.RateLimitBurst),
	}
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(requestID, observe(s.logger), s.limiter.Middleware)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/relay", s.handleRelay)
		r.Get("/relay/methods", s.handleRelayMethods)
		r.Get("/relay/nonces/{signer}/{nonce}", s.handleRelayNonce)

		r.Get("/sets", s.handleListSets)
		r.Get("/sets/{id}", s.handleGetSet)
		r.Get("/sets/{id}/gate", s.handleGetGate)

		r.Get("/vouchers", s.handleListVouchers)
		r.Get("/vouchers/{id}", s.handleGetVoucher)
		r.Get("/vouchers/{id}/entitlement", s.handleEntitlement)
		r.Get("/vouchers/{id}/settlement", s.handleSettlement)
		r.Post("/vouchers/{id}/expire", s.handlePoke(s.node.TriggerExpiration))
		r.Post("/vouchers/{id}/finalize", s.handlePoke(s.node.TriggerFinalize))

		r.Get("/accounts/{address}", s.handleBalances)
		r.Get("/inventory/{id}/{holder}", s.handleInventory)
		r.Get("/system", s.handleSystem)

		r.Get("/events", s.handleEvents)
		r.Get("/events/stream", s.handleEventStream)

		r.Route("/admin", func(r chi.Router) {
			r.Use(s.auth.Middleware(ScopeAdmin))
			r.Post("/fund", s.handleFund)
			r.Post("/credentials", s.handleMintCredential)
			r.Get("/events/export", s.handleExportEvents)
			r.Get("/events/verify", s.handleVerifyEvents)
		})
	})
	return r
}

// Handler returns the traced root handler.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.router, "voucherd.rpc")
}

// Serve listens on addr until ctx is cancelled, then drains in-flight
// requests.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("rpc listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("rpc: serve: %w", err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("rpc: shutdown: %w", err)
	}
	return nil
}
