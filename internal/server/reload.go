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

package server

import (
	"fmt"
	"log/slog"

	"github.com/jeremyhahn/go-eseaccess/internal/config"
)

// Reload applies the parts of cfg that can change without a restart.
// Only the log level is reloaded; other changes are reported and
// ignored until the daemon restarts.
func (s *Server) Reload(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.Info("Reloading server configuration...")

	if err := s.reloadLogging(cfg); err != nil {
		return fmt.Errorf("failed to reload logging configuration: %w", err)
	}

	if cfg.Server != s.config.Server || cfg.Rail != s.config.Rail ||
		cfg.Arbiter != s.config.Arbiter || cfg.Metrics != s.config.Metrics ||
		cfg.RateLimit != s.config.RateLimit || cfg.Health != s.config.Health {
		s.logger.Warn("Configuration changes outside logging require a restart")
	}

	s.config.Logging = cfg.Logging
	s.logger.Info("Server configuration reloaded successfully")
	return nil
}

// reloadLogging updates the log level in place
func (s *Server) reloadLogging(cfg *config.Config) error {
	if cfg.Logging.Format != s.config.Logging.Format {
		s.logger.Warn("Log format changes require a restart",
			slog.String("current", s.config.Logging.Format),
			slog.String("requested", cfg.Logging.Format))
	}
	if cfg.Logging.Level == s.config.Logging.Level {
		return nil
	}

	s.logger.Info("Updating log level",
		slog.String("old_level", s.config.Logging.Level),
		slog.String("new_level", cfg.Logging.Level))
	s.level.Set(parseSlogLevel(cfg.Logging.Level))
	return nil
}
