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
	"context"

	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-eseaccess/pkg/client"
)

type operationFunc func(*client.Client, context.Context) (*client.Response, error)

// accessCommands builds the wired, spi, priority, download and jcop
// command groups. Each group has a start and an end operation.
func accessCommands(cfg *Config) []*cobra.Command {
	return []*cobra.Command{
		newPairCommand(cfg, "wired", "Wired (contactless) side access",
			"acquire", "wired_acquire", (*client.Client).WiredAcquire,
			"release", "wired_release", (*client.Client).WiredRelease),
		newPairCommand(cfg, "spi", "SPI (host) side access",
			"acquire", "spi_acquire", (*client.Client).SpiAcquire,
			"release", "spi_release", (*client.Client).SpiRelease),
		newPairCommand(cfg, "priority", "Priority SPI session",
			"acquire", "spi_priority_acquire", (*client.Client).SpiPriorityAcquire,
			"release", "spi_priority_release", (*client.Client).SpiPriorityRelease),
		newPairCommand(cfg, "download", "Firmware download window",
			"start", "download_start", (*client.Client).DownloadStart,
			"end", "download_end", (*client.Client).DownloadEnd),
		newPairCommand(cfg, "jcop", "JCOP OS download window",
			"start", "jcop_download_start", (*client.Client).JcopDownloadStart,
			"end", "jcop_download_end", (*client.Client).JcopDownloadEnd),
	}
}

func newPairCommand(cfg *Config, use, short,
	startUse, startOp string, start operationFunc,
	endUse, endOp string, end operationFunc) *cobra.Command {

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
	}
	cmd.AddCommand(
		newOperationCommand(cfg, startUse, startOp, start),
		newOperationCommand(cfg, endUse, endOp, end),
	)
	return cmd
}

func newOperationCommand(cfg *Config, use, op string, fn operationFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: "Call " + op,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := cfg.CreateClient()
			defer func() { _ = c.Close() }()

			printVerbose(cmd, cfg, "%s via %s", op, c.SocketPath())
			resp, err := fn(c, cmd.Context())
			if err != nil {
				return err
			}
			return printerFor(cmd, cfg).PrintResponse(op, resp)
		},
	}
}
