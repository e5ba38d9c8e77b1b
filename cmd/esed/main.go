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

package main

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/jeremyhahn/go-eseaccess/internal/config"
	"github.com/jeremyhahn/go-eseaccess/internal/server"
)

var (
	// Version information (set during build)
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "/etc/esed/config.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("esed\n")
		fmt.Printf("  Version:    %s\n", version)
		fmt.Printf("  Git Commit: %s\n", commit)
		fmt.Printf("  Built:      %s\n", date)
		return 0
	}

	if envConfig := os.Getenv("ESED_CONFIG"); envConfig != "" {
		*configPath = envConfig
	}

	slog.Info("Starting esed", "config", *configPath, "version", version)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", slog.Any("error", err))
		return 1
	}

	srv, err := server.New(cfg)
	if err != nil {
		slog.Error("Failed to create server", slog.Any("error", err))
		return 1
	}

	shutdownCtx := server.SetupSignalHandler(func() {
		next, err := loadConfig(*configPath)
		if err != nil {
			slog.Error("Reload failed", slog.Any("error", err))
			return
		}
		if err := srv.Reload(next); err != nil {
			slog.Error("Reload failed", slog.Any("error", err))
		}
	})

	if err := srv.Start(); err != nil {
		slog.Error("Failed to start server", slog.Any("error", err))
		_ = srv.Shutdown()
		return 1
	}

	code := 0
	select {
	case <-shutdownCtx.Done():
	case err := <-srv.Errors():
		slog.Error("Server failed", slog.Any("error", err))
		code = 1
	}

	if err := srv.Shutdown(); err != nil {
		slog.Error("Error during shutdown", slog.Any("error", err))
		return 1
	}

	slog.Info("esed stopped")
	return code
}

// loadConfig reads path, falling back to defaults plus environment
// overrides when the file does not exist.
func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		slog.Warn("Config file not found, using defaults", "config", path)
		return config.FromEnv()
	}
	return config.Load(path)
}
