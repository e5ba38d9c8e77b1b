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
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-eseaccess/pkg/arbiter"
	"github.com/jeremyhahn/go-eseaccess/pkg/notify"
)

var errStopListening = errors.New("listen: event limit reached")

func newListenCommand(cfg *Config) *cobra.Command {
	var (
		ack      bool
		register bool
		count    int
	)

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Stream notifications",
		Long: `Stream notifications addressed to the caller (or --identity) until
interrupted. With --ack each notification that opens a handshake is
acknowledged right away, which lets esectl stand in for the wired-side
process during bring-up.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			c := cfg.CreateClient()
			defer func() { _ = c.Close() }()

			printer := printerFor(cmd, cfg)
			seen := 0

			printVerbose(cmd, cfg, "listening on %s (register=%t ack=%t)", c.SocketPath(), register, ack)
			err := c.Listen(ctx, register, func(ev notify.Event) error {
				acked := ""
				if ack {
					if p, ok := arbiter.AckPurpose(ev.Reason); ok {
						released, err := c.ReleaseHandshake(ctx, p)
						if err != nil {
							return fmt.Errorf("failed to acknowledge %s: %w", ev.Name, err)
						}
						if released {
							acked = p.String()
						}
					}
				}
				if err := printer.PrintEvent(ev, acked); err != nil {
					return err
				}
				seen++
				if count > 0 && seen >= count {
					return errStopListening
				}
				return nil
			})

			switch {
			case err == nil, errors.Is(err, errStopListening), errors.Is(err, context.Canceled):
				return nil
			default:
				return err
			}
		},
	}

	cmd.Flags().BoolVar(&ack, "ack", false, "acknowledge handshakes as notifications arrive")
	cmd.Flags().BoolVar(&register, "register", false, "register as the notification recipient first")
	cmd.Flags().IntVarP(&count, "count", "n", 0, "exit after this many notifications (0 = unlimited)")
	return cmd
}
