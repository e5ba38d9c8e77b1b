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
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-eseaccess/pkg/arbiter"
	"github.com/jeremyhahn/go-eseaccess/pkg/handshake"
)

func newHandshakeCommand(cfg *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "handshake",
		Short: "Handshake acknowledgements",
	}

	names := make([]string, 0, len(handshake.Purposes()))
	for _, p := range handshake.Purposes() {
		names = append(names, p.String())
	}

	release := &cobra.Command{
		Use:       "release <purpose>",
		Short:     "Acknowledge a pending handshake",
		Long:      "Acknowledge the pending handshake for a purpose: " + strings.Join(names, ", ") + ".",
		Args:      cobra.ExactArgs(1),
		ValidArgs: names,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := handshake.ParsePurpose(args[0])
			if err != nil {
				return fmt.Errorf("%w: %w", arbiter.ErrInvalid, err)
			}

			c := cfg.CreateClient()
			defer func() { _ = c.Close() }()

			released, err := c.ReleaseHandshake(cmd.Context(), p)
			if err != nil {
				return err
			}
			if released {
				return printerFor(cmd, cfg).PrintSuccess(fmt.Sprintf("Released %s", p))
			}
			return printerFor(cmd, cfg).PrintSuccess(fmt.Sprintf("No %s handshake pending", p))
		},
	}

	cmd.AddCommand(release)
	return cmd
}
