// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-eseaccess.
//
// go-eseaccess is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package unix serves the arbiter API over a Unix domain socket.
package unix

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/jeremyhahn/go-eseaccess/pkg/adapters/audit"
	"github.com/jeremyhahn/go-eseaccess/pkg/adapters/logger"
	"github.com/jeremyhahn/go-eseaccess/pkg/arbiter"
	"github.com/jeremyhahn/go-eseaccess/pkg/client"
	"github.com/jeremyhahn/go-eseaccess/pkg/correlation"
	"github.com/jeremyhahn/go-eseaccess/pkg/health"
	"github.com/jeremyhahn/go-eseaccess/pkg/metrics"
	"github.com/jeremyhahn/go-eseaccess/pkg/notify"
	"github.com/jeremyhahn/go-eseaccess/pkg/ratelimit"
	"github.com/jeremyhahn/go-eseaccess/pkg/validation"
)

// DefaultSocketPath is the default path for the Unix socket
const DefaultSocketPath = client.DefaultSocketPath

// Config holds the Unix socket server configuration
type Config struct {
	// SocketPath is the path to the Unix socket file
	SocketPath string

	// SocketMode is the file mode for the socket (default: 0660)
	SocketMode os.FileMode

	// Arbiter is required.
	Arbiter *arbiter.Arbiter

	// Mailbox feeds the notification stream. Without it the stream
	// endpoint reports invalid.
	Mailbox *notify.Mailbox

	// Audit is optional. When set, GET /api/v1/audit serves the trail.
	Audit audit.AuditAdapter

	// Health is optional.
	Health *health.Checker

	// RateLimiter is optional.
	RateLimiter *ratelimit.Limiter

	// Logger is the logging adapter
	Logger logger.Logger

	// ReadTimeout is the maximum duration for reading requests
	ReadTimeout time.Duration

	// WriteTimeout is the maximum duration for writing responses. The
	// notification stream clears it.
	WriteTimeout time.Duration
}

// Server represents the Unix domain socket server
type Server struct {
	config   *Config
	server   *http.Server
	listener net.Listener
	router   chi.Router
	logger   logger.Logger
	mu       sync.RWMutex
}

type peerKey struct{}

// NewServer creates a new Unix socket server
func NewServer(cfg *Config) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if cfg.Arbiter == nil {
		return nil, fmt.Errorf("arbiter is required")
	}
	if cfg.SocketPath == "" {
		cfg.SocketPath = DefaultSocketPath
	}
	if cfg.SocketMode == 0 {
		cfg.SocketMode = 0660
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NoOp{}
	}

	s := &Server{
		config: cfg,
		logger: cfg.Logger.With(logger.String("component", "unix")),
		router: chi.NewRouter(),
	}
	s.setupRoutes()
	return s, nil
}

// setupRoutes configures the HTTP routes
func (s *Server) setupRoutes() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(correlation.Middleware)
	h := &HandlerContext{
		arbiter: s.config.Arbiter,
		mailbox: s.config.Mailbox,
		audit:   s.config.Audit,
		health:  s.config.Health,
		logger:  logger.Ctx(s.logger),
	}

	s.router.Use(h.callerMiddleware)
	if s.config.RateLimiter != nil {
		s.router.Use(ratelimit.Middleware(s.config.RateLimiter, callerKey))
	}
	s.router.Use(metrics.HTTPMiddleware)

	s.router.Get("/health", h.HealthHandler)
	s.router.Get("/health/live", h.LiveHandler)
	s.router.Get("/health/ready", h.ReadyHandler)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/state", h.StateHandler)

		r.Post("/wired/acquire", h.operation(s.config.Arbiter.WiredAcquire))
		r.Post("/wired/release", h.operation(s.config.Arbiter.WiredRelease))
		r.Post("/spi/acquire", h.operation(s.config.Arbiter.SpiAcquire))
		r.Post("/spi/release", h.operation(s.config.Arbiter.SpiRelease))
		r.Post("/priority/acquire", h.operation(s.config.Arbiter.SpiPriorityAcquire))
		r.Post("/priority/release", h.operation(s.config.Arbiter.SpiPriorityRelease))
		r.Post("/download/start", h.operation(s.config.Arbiter.DownloadStart))
		r.Post("/download/end", h.operation(s.config.Arbiter.DownloadEnd))
		r.Post("/jcop/start", h.operation(s.config.Arbiter.JcopDownloadStart))
		r.Post("/jcop/end", h.operation(s.config.Arbiter.JcopDownloadEnd))

		r.Post("/lock", h.LockAcquireHandler)
		r.Delete("/lock", h.LockReleaseHandler)

		r.Put("/registration", h.RegisterHandler)
		r.Delete("/registration", h.UnregisterHandler)
		r.Get("/notifications", h.NotificationsHandler)

		r.Post("/handshakes/{purpose}/release", h.ReleaseHandshakeHandler)

		r.Get("/audit", h.AuditHandler)
	})
}

// callerMiddleware attributes the request to the identity header, if
// present, or the socket peer.
func (h *HandlerContext) callerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, _ := r.Context().Value(peerKey{}).(notify.Identity)
		if v := r.Header.Get(client.IdentityHeader); v != "" {
			n, err := validation.ParseIdentity(v)
			if err != nil {
				h.writeResponse(w, r, arbiter.CodeInvalid, client.Response{
					Code:  arbiter.CodeInvalid.String(),
					Error: fmt.Sprintf("invalid %s header %q: %v", client.IdentityHeader, validation.SanitizeForLog(v), err),
				})
				return
			}
			id = n
		}
		next.ServeHTTP(w, r.WithContext(arbiter.WithCaller(r.Context(), id)))
	})
}

func callerKey(r *http.Request) string {
	return arbiter.CallerFromContext(r.Context()).String()
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Listen creates the socket. Serve must be called afterwards.
func (s *Server) Listen() error {
	socketDir := filepath.Dir(s.config.SocketPath)
	if err := os.MkdirAll(socketDir, 0750); err != nil {
		return fmt.Errorf("failed to create socket directory: %w", err)
	}

	if err := os.Remove(s.config.SocketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", s.config.SocketPath)
	if err != nil {
		return fmt.Errorf("failed to create Unix socket listener: %w", err)
	}

	if err := os.Chmod(s.config.SocketPath, s.config.SocketMode); err != nil {
		_ = listener.Close()
		return fmt.Errorf("failed to set socket permissions: %w", err)
	}

	s.mu.Lock()
	s.listener = listener
	s.server = &http.Server{
		Handler:           s.router,
		ReadTimeout:       s.config.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.config.WriteTimeout,
		IdleTimeout:       120 * time.Second,
		ConnContext: func(ctx context.Context, c net.Conn) context.Context {
			if id, ok := peerIdentity(c); ok {
				return context.WithValue(ctx, peerKey{}, id)
			}
			return ctx
		},
	}
	s.mu.Unlock()

	s.logger.Info("Unix socket created",
		logger.String("path", s.config.SocketPath),
		logger.String("mode", s.config.SocketMode.String()))
	return nil
}

// Serve blocks serving requests until Stop is called.
func (s *Server) Serve() error {
	s.mu.RLock()
	srv, listener := s.server, s.listener
	s.mu.RUnlock()
	if srv == nil {
		return fmt.Errorf("unix socket server is not listening")
	}

	s.logger.Info("Starting Unix socket server", logger.String("socket", s.config.SocketPath))
	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("unix socket server error: %w", err)
	}
	return nil
}

// Start listens and serves. It blocks.
func (s *Server) Start() error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve()
}

// Stop gracefully stops the Unix socket server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping Unix socket server...")

	s.mu.RLock()
	srv := s.server
	s.mu.RUnlock()

	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			s.logger.Error("Error shutting down Unix socket server", logger.Error(err))
			return err
		}
	}

	if err := os.Remove(s.config.SocketPath); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("Failed to remove socket file", logger.Error(err))
	}

	s.logger.Info("Unix socket server stopped")
	return nil
}

// SocketPath returns the path to the Unix socket
func (s *Server) SocketPath() string {
	return s.config.SocketPath
}
