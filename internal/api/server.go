// ABOUTME: HTTP server wiring for the relay API: router, middleware and listeners
// ABOUTME: Serves on a TCP address or a Tailscale node and shuts down with its context

package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"tailscale.com/tsnet"

	"github.com/2389/coven-relay/internal/auth"
	"github.com/2389/coven-relay/internal/config"
	"github.com/2389/coven-relay/internal/relay"
)

// ScopeAsk is required on tokens used for POST /api/ask.
const ScopeAsk = "ask"

// Options configures a Server.
type Options struct {
	Addr        string
	CORSOrigins []string
	Tailscale   config.TailscaleConfig

	// Verifier enables bearer auth on /api routes when set.
	Verifier auth.TokenVerifier
}

// Server is the relay's HTTP API.
type Server struct {
	session *relay.Session
	opts    Options
	logger  *slog.Logger

	router      chi.Router
	httpServer  *http.Server
	tsnetServer *tsnet.Server
}

// New creates a server. The session is shared with any other surface.
func New(session *relay.Session, opts Options, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		session: session,
		opts:    opts,
		logger:  logger.With("component", "api"),
	}
	s.router = s.routes()
	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	if len(s.opts.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.opts.CORSOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
			MaxAge:         300,
		}))
	}

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		if s.opts.Verifier != nil {
			r.Use(auth.HTTPAuthMiddleware(s.opts.Verifier, s.logger))
			r.With(auth.RequireScope(ScopeAsk)).Post("/ask", s.handleAsk)
		} else {
			r.Post("/ask", s.handleAsk)
		}
		r.Get("/threads/{id}", s.handleThread)
		r.Get("/agents", s.handleAgents)
	})
	return r
}

// requestLogger logs one line per request once the response is written.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// Run listens and serves until ctx is cancelled, then shuts down.
// Returns nil on a graceful shutdown.
func (s *Server) Run(ctx context.Context) error {
	ln, err := s.listen(ctx)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		s.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		s.logger.Error("server error", "error", serverErr)
	}

	// the parent context is already done
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	shutdownErr := s.Shutdown(shutdownCtx)
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

func (s *Server) listen(ctx context.Context) (net.Listener, error) {
	if s.opts.Tailscale.Enabled {
		if s.opts.Addr != "" {
			s.logger.Warn("server.http_addr is ignored when tailscale is enabled", "http_addr", s.opts.Addr)
		}
		return s.listenTailscale(ctx)
	}
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// Shutdown stops the HTTP server and the tailnet node, if any.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down api server")
	var errs []error
	if err := s.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
	}
	if s.tsnetServer != nil {
		if err := s.tsnetServer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("tailscale shutdown: %w", err))
		}
	}
	return errors.Join(errs...)
}
