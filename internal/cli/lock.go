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
	"time"

	"github.com/spf13/cobra"
)

func newLockCommand(cfg *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lock",
		Short: "Transaction lock",
		Long: `Take or release the transaction lock that serializes multi-step
exchanges with the secure element.`,
	}

	var wait time.Duration
	get := &cobra.Command{
		Use:   "get",
		Short: "Take the transaction lock",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := cfg.CreateClient()
			defer func() { _ = c.Close() }()

			resp, err := c.LockAcquire(cmd.Context(), wait)
			if err != nil {
				return err
			}
			return printerFor(cmd, cfg).PrintResponse("lock_acquire", resp)
		},
	}
	get.Flags().DurationVar(&wait, "wait", 0, "how long the daemon waits for the lock (0 uses its handshake timeout)")

	release := &cobra.Command{
		Use:   "release",
		Short: "Release the transaction lock",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := cfg.CreateClient()
			defer func() { _ = c.Close() }()

			resp, err := c.LockRelease(cmd.Context())
			if err != nil {
				return err
			}
			return printerFor(cmd, cfg).PrintResponse("lock_release", resp)
		},
	}

	cmd.AddCommand(get, release)
	return cmd
}
