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

package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-eseaccess/pkg/health"
)

// ErrUnhealthy is returned by the health command when the daemon reports
// itself unhealthy.
var ErrUnhealthy = errors.New("daemon is unhealthy")

func newStateCommand(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "state",
		Short: "Show the current access state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := cfg.CreateClient()
			defer func() { _ = c.Close() }()

			st, err := c.State(cmd.Context())
			if err != nil {
				return err
			}
			return printerFor(cmd, cfg).PrintState(st)
		},
	}
}

func newHealthCommand(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show daemon health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := cfg.CreateClient()
			defer func() { _ = c.Close() }()

			h, err := c.Health(cmd.Context())
			if err != nil {
				return err
			}
			if err := printerFor(cmd, cfg).PrintHealth(h); err != nil {
				return err
			}
			if h.Status == health.StatusUnhealthy {
				return ErrUnhealthy
			}
			return nil
		},
	}
}

func newAuditCommand(cfg *Config) *cobra.Command {
	var (
		limit     int
		eventType string
		outcome   string
	)

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show recent audit events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := cfg.CreateClient()
			defer func() { _ = c.Close() }()

			resp, err := c.Audit(cmd.Context(), limit, eventType, outcome)
			if err != nil {
				return err
			}
			return printerFor(cmd, cfg).PrintAudit(resp)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of events")
	cmd.Flags().StringVar(&eventType, "type", "", "filter by event type (e.g. access.spi_acquire)")
	cmd.Flags().StringVar(&outcome, "outcome", "", "filter by outcome (success, busy, ...)")
	return cmd
}
