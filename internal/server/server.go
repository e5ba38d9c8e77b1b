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

// Package server assembles the esed daemon: rail, arbiter, socket API,
// health and metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"sync"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"

	"github.com/jeremyhahn/go-eseaccess/internal/config"
	"github.com/jeremyhahn/go-eseaccess/internal/unix"
	"github.com/jeremyhahn/go-eseaccess/pkg/adapters/audit"
	"github.com/jeremyhahn/go-eseaccess/pkg/adapters/logger"
	"github.com/jeremyhahn/go-eseaccess/pkg/arbiter"
	"github.com/jeremyhahn/go-eseaccess/pkg/health"
	"github.com/jeremyhahn/go-eseaccess/pkg/metrics"
	"github.com/jeremyhahn/go-eseaccess/pkg/notify"
	"github.com/jeremyhahn/go-eseaccess/pkg/power"
	"github.com/jeremyhahn/go-eseaccess/pkg/ratelimit"
)

// Option customizes a Server.
type Option func(*Server)

// WithLines replaces the rail lines selected by the configuration.
func WithLines(lines power.Lines) Option {
	return func(s *Server) { s.lines = lines }
}

// WithLogOutput redirects log output (default: stdout).
func WithLogOutput(w io.Writer) Option {
	return func(s *Server) { s.logOutput = w }
}

// WithClock replaces the wall clock.
func WithClock(clk clock.Clock) Option {
	return func(s *Server) { s.clock = clk }
}

// Server represents the esed daemon
type Server struct {
	config    *config.Config
	mu        sync.RWMutex
	logger    *slog.Logger
	level     *slog.LevelVar
	logOutput io.Writer
	clock     clock.Clock

	lines   power.Lines
	rail    *power.Controller
	mailbox *notify.Mailbox
	audit   *audit.MemoryAuditAdapter
	arbiter *arbiter.Arbiter
	limiter *ratelimit.Limiter

	unixServer       *unix.Server
	metricsServer    *http.Server
	metricsListener  net.Listener
	healthChecker    *health.Checker
	metricsCollector *metrics.ResourceCollector

	// Lifecycle
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	errCh        chan error
	shutdownOnce sync.Once
	shutdownErr  error
	shutdownCh   chan struct{}
}

// New creates the daemon. Nothing listens until Start.
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:     cfg,
		logOutput:  os.Stdout,
		level:      new(slog.LevelVar),
		ctx:        ctx,
		cancel:     cancel,
		errCh:      make(chan error, 2),
		shutdownCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.clock == nil {
		s.clock = clock.New()
	}
	s.logger = setupLogger(cfg.Logging, s.logOutput, s.level)

	if err := s.initializeRail(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize rail: %w", err)
	}

	if err := s.initializeArbiter(); err != nil {
		cancel()
		_ = s.rail.Close()
		return nil, fmt.Errorf("failed to initialize arbiter: %w", err)
	}

	s.initializeHealth()

	if err := s.initializeUnix(); err != nil {
		cancel()
		_ = s.arbiter.Close()
		_ = s.rail.Close()
		return nil, fmt.Errorf("failed to initialize unix socket server: %w", err)
	}

	return s, nil
}

// setupLogger configures the logger based on config. The level lives in
// a LevelVar so Reload can change it.
func setupLogger(cfg config.LoggingConfig, out io.Writer, level *slog.LevelVar) *slog.Logger {
	level.Set(parseSlogLevel(cfg.Level))

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(out, opts)
	default:
		handler = slog.NewTextHandler(out, opts)
	}
	return slog.New(handler)
}

func parseSlogLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error", "fatal":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// adapter wraps the current slog logger for components.
func (s *Server) adapter() logger.Logger {
	return logger.NewSlogAdapter(&logger.SlogConfig{Logger: s.logger})
}

// getBuildVersion retrieves the version from build information
func getBuildVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "dev"
	}

	for _, setting := range info.Settings {
		if setting.Key == "vcs.version" {
			if setting.Value != "" && setting.Value != "devel" {
				return setting.Value
			}
		}
		if setting.Key == "vcs.revision" {
			if len(setting.Value) >= 7 {
				return setting.Value[:7]
			}
			return setting.Value
		}
	}

	if info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return "dev"
}

// initializeRail opens the configured lines and wraps them in a
// sequencing controller.
func (s *Server) initializeRail() error {
	rc := s.config.Rail
	if s.lines == nil {
		switch rc.Driver {
		case config.RailDriverGPIO:
			s.logger.Info("Opening GPIO rail lines",
				"chip", rc.Chip, "supply", rc.SupplyOffset, "comm_enable", rc.CommEnableOffset)
			lines, err := power.OpenGPIOLines(power.GPIOConfig{
				Chip:             rc.Chip,
				SupplyOffset:     rc.SupplyOffset,
				CommEnableOffset: rc.CommEnableOffset,
				ActiveLow:        rc.ActiveLow,
			})
			if err != nil {
				return err
			}
			s.lines = lines
		default:
			s.logger.Warn("Using in-memory rail; the secure element is not driven")
			s.lines = power.NewMemoryLines()
		}
	}

	rail, err := power.NewController(power.Config{
		Lines:       s.lines,
		Clock:       s.clock,
		SettleDelay: rc.SettleDelay,
		Logger:      s.adapter(),
	})
	if err != nil {
		_ = s.lines.Close()
		return err
	}
	s.rail = rail
	return nil
}

func (s *Server) initializeArbiter() error {
	s.mailbox = notify.NewMailbox(s.config.Arbiter.MailboxSize)
	s.audit = audit.NewMemoryAuditAdapter(s.config.Arbiter.AuditCapacity)

	arb, err := arbiter.New(arbiter.Config{
		Rail:             s.rail,
		Notifier:         notify.NewChannel(s.mailbox, s.clock),
		Logger:           s.adapter(),
		Clock:            s.clock,
		HandshakeTimeout: s.config.Arbiter.HandshakeTimeout,
		Audit:            s.audit,
	})
	if err != nil {
		return err
	}
	s.arbiter = arb
	return nil
}

// initializeHealth creates and configures the health checker.
func (s *Server) initializeHealth() {
	s.healthChecker = health.NewChecker(s.clock)
	s.healthChecker.RegisterCheck("arbiter", s.arbiter.HealthCheck())
	s.healthChecker.RegisterCheck("rail", func(ctx context.Context) health.CheckResult {
		result := health.CheckResult{Name: "rail", Status: health.StatusHealthy, Message: "off"}
		if s.rail.IsEnabled() {
			result.Message = "on"
		}
		result.Message += fmt.Sprintf(" (%s driver, %d transitions)", s.config.Rail.Driver, s.rail.Transitions())
		return result
	})
}

func (s *Server) initializeUnix() error {
	mode, err := s.config.SocketFileMode()
	if err != nil {
		return err
	}

	rl := s.config.RateLimit
	s.limiter = ratelimit.New(&ratelimit.Config{
		Enabled:           rl.Enabled,
		RequestsPerSecond: rl.RequestsPerSecond,
		Burst:             rl.Burst,
		Clock:             s.clock,
	})

	var checker *health.Checker
	if s.config.Health.Enabled {
		checker = s.healthChecker
	}
	var limiter *ratelimit.Limiter
	if rl.Enabled {
		limiter = s.limiter
	}

	s.unixServer, err = unix.NewServer(&unix.Config{
		SocketPath:  s.config.Server.SocketPath,
		SocketMode:  mode,
		Arbiter:     s.arbiter,
		Mailbox:     s.mailbox,
		Audit:       s.audit,
		Health:      checker,
		RateLimiter: limiter,
		Logger:      s.adapter(),
	})
	return err
}

// Start opens the socket and metrics endpoint and serves in the
// background. Serve failures are reported on Errors.
func (s *Server) Start() error {
	s.logger.Info("Starting esed...", "version", getBuildVersion())

	if s.config.Metrics.Enabled {
		if err := s.initializeMetrics(); err != nil {
			s.logger.Error("Failed to initialize metrics", slog.Any("error", err))
			return fmt.Errorf("failed to initialize metrics: %w", err)
		}
	} else {
		metrics.Disable()
	}

	if err := s.unixServer.Listen(); err != nil {
		return err
	}
	s.wg.Add(1)
	go s.serve("unix", s.unixServer.Serve)

	if s.metricsServer != nil {
		s.wg.Add(1)
		go s.serve("metrics", func() error {
			if err := s.metricsServer.Serve(s.metricsListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	_ = s.audit.LogEvent(s.ctx, &audit.AuditEvent{
		EventType:   audit.EventSystemStart,
		Outcome:     audit.OutcomeSuccess,
		StateBefore: s.arbiter.State().String(),
		StateAfter:  s.arbiter.State().String(),
		Metadata:    map[string]string{"version": getBuildVersion(), "rail_driver": s.config.Rail.Driver},
	})

	s.healthChecker.MarkStarted()
	s.logger.Info("esed started", "socket", s.unixServer.SocketPath())
	return nil
}

func (s *Server) serve(name string, fn func() error) {
	defer s.wg.Done()
	if err := fn(); err != nil {
		s.logger.Error("Server error", "server", name, slog.Any("error", err))
		select {
		case s.errCh <- fmt.Errorf("%s: %w", name, err):
		default:
		}
	}
}

// initializeMetrics enables collection, starts the resource collector and
// binds the Prometheus endpoint.
func (s *Server) initializeMetrics() error {
	s.logger.Info("Initializing metrics...")
	metrics.Enable()

	ln, err := net.Listen("tcp", s.config.Metrics.Address)
	if err != nil {
		return err
	}
	s.metricsListener = ln

	mux := http.NewServeMux()
	mux.Handle(s.config.Metrics.Path, promhttp.Handler())
	s.metricsServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.metricsCollector = metrics.StartResourceCollector(s.ctx, s.config.Metrics.CollectInterval, s.arbiter)

	s.logger.Info("Metrics initialized", "address", ln.Addr().String(), "path", s.config.Metrics.Path)
	return nil
}

// Errors reports background serve failures.
func (s *Server) Errors() <-chan error {
	return s.errCh
}

// Shutdown stops accepting requests, forces the arbiter back to Idle
// with the rail off, and releases the rail lines. It is idempotent.
func (s *Server) Shutdown() error {
	s.shutdownOnce.Do(func() {
		s.shutdownErr = s.shutdown()
		close(s.shutdownCh)
	})
	return s.shutdownErr
}

func (s *Server) shutdown() error {
	s.logger.Info("Shutting down esed...")
	s.healthChecker.MarkNotStarted()

	if s.metricsCollector != nil {
		s.metricsCollector.Stop()
	}
	s.cancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
	defer cancel()

	var errs error

	// Closing the arbiter also closes the mailbox, which ends open
	// notification streams so the socket server can drain.
	if err := s.arbiter.Close(); err != nil {
		s.logger.Error("Error closing arbiter", slog.Any("error", err))
		errs = multierr.Append(errs, fmt.Errorf("arbiter: %w", err))
	}

	if err := s.unixServer.Stop(shutdownCtx); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("unix: %w", err))
	}

	if s.metricsServer != nil {
		if err := s.metricsServer.Shutdown(shutdownCtx); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("metrics: %w", err))
		}
	}

	s.limiter.Stop()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Info("All servers stopped")
	case <-shutdownCtx.Done():
		s.logger.Warn("Shutdown timeout exceeded, forcing stop")
	}

	if err := s.rail.Close(); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("rail: %w", err))
	}

	s.logger.Info("esed shutdown complete")
	return errs
}

// WaitForShutdown blocks until the server is shut down
func (s *Server) WaitForShutdown() {
	<-s.shutdownCh
}

// SetupSignalHandler returns a context cancelled on SIGINT or SIGTERM.
// SIGHUP invokes onHangup, if set.
func SetupSignalHandler(onHangup func()) context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	go func() {
		for sig := range signalCh {
			if sig == syscall.SIGHUP {
				if onHangup != nil {
					onHangup()
				}
				continue
			}
			slog.Info("Received shutdown signal", "signal", sig.String())
			signal.Stop(signalCh)
			cancel()
			return
		}
	}()

	return ctx
}

// Arbiter returns the arbiter instance
func (s *Server) Arbiter() *arbiter.Arbiter {
	return s.arbiter
}

// UnixServer returns the Unix socket server instance
func (s *Server) UnixServer() *unix.Server {
	return s.unixServer
}

// HealthChecker returns the health checker
func (s *Server) HealthChecker() *health.Checker {
	return s.healthChecker
}

// Audit returns the in-memory audit trail
func (s *Server) Audit() *audit.MemoryAuditAdapter {
	return s.audit
}

// MetricsAddr returns the bound metrics address, or "" when disabled.
func (s *Server) MetricsAddr() string {
	if s.metricsListener == nil {
		return ""
	}
	return s.metricsListener.Addr().String()
}
