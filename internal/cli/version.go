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
	"runtime"

	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func newVersionCommand(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Long:  `Print version information for esectl.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()
			if OutputFormat(cfg.OutputFormat) == OutputFormatJSON {
				return printerFor(cmd, cfg).printJSON(map[string]string{
					"version":    Version,
					"git_commit": GitCommit,
					"build_date": BuildDate,
					"go_version": runtime.Version(),
				})
			}
			fmt.Fprintf(w, "esectl version %s\n", Version)
			fmt.Fprintf(w, "  Git commit: %s\n", GitCommit)
			fmt.Fprintf(w, "  Build date: %s\n", BuildDate)
			fmt.Fprintf(w, "  Go version: %s\n", runtime.Version())
			return nil
		},
	}
}
