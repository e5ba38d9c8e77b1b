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

	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-eseaccess/pkg/arbiter"
	"github.com/jeremyhahn/go-eseaccess/pkg/notify"
	"github.com/jeremyhahn/go-eseaccess/pkg/validation"
)

func newRegisterCommand(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "register [identity]",
		Short: "Register the notification recipient",
		Long: `Register an identity as the single notification recipient. Without an
argument the caller (or --identity) is registered.

Registration only lasts while the daemon runs; a process that wants to
receive notifications normally uses "esectl listen --register".`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var id notify.Identity
			if len(args) == 1 {
				n, err := validation.ParseIdentity(args[0])
				if err != nil {
					return fmt.Errorf("%w: %q: %w", arbiter.ErrInvalid, validation.SanitizeForLog(args[0]), err)
				}
				id = n
			}

			c := cfg.CreateClient()
			defer func() { _ = c.Close() }()

			resp, err := c.Register(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printerFor(cmd, cfg).PrintSuccess(
				fmt.Sprintf("Registered identity %s", notify.Identity(resp.Identity)))
		},
	}
}

func newUnregisterCommand(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "unregister",
		Short: "Clear the notification recipient",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := cfg.CreateClient()
			defer func() { _ = c.Close() }()

			if _, err := c.Unregister(cmd.Context()); err != nil {
				return err
			}
			return printerFor(cmd, cfg).PrintSuccess("Recipient cleared")
		},
	}
}
