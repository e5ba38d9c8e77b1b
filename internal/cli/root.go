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

// Package cli implements esectl, the command line client for esed.
package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jeremyhahn/go-eseaccess/pkg/arbiter"
	"github.com/jeremyhahn/go-eseaccess/pkg/client"
)

// Exit codes returned by esectl. Operation failures map to the result
// code the daemon returned.
const (
	ExitSuccess   = 0
	ExitError     = 1
	ExitBusy      = 2
	ExitForbidden = 3
	ExitInvalid   = 4
	ExitTimeout   = 5
	ExitIO        = 6
	ExitClosed    = 7
)

// NewRootCommand builds the esectl command tree.
func NewRootCommand() *cobra.Command {
	cmd, _ := newRootCommand()
	return cmd
}

func newRootCommand() (*cobra.Command, *Config) {
	cfg := NewConfig()
	v := viper.New()

	rootCmd := &cobra.Command{
		Use:   "esectl",
		Short: "Secure element access arbiter CLI",
		Long: `esectl talks to esed, the daemon that arbitrates access to the shared
secure element between the wired (contactless) and SPI (host) sides.

It can drive every arbiter operation, hold the transaction lock, register
as the notification recipient and stream notifications.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return cfg.load(v)
		},
	}

	cfg.bindFlags(rootCmd.PersistentFlags(), v)

	rootCmd.AddCommand(
		newStateCommand(cfg),
		newHealthCommand(cfg),
		newAuditCommand(cfg),
		newLockCommand(cfg),
		newRegisterCommand(cfg),
		newUnregisterCommand(cfg),
		newListenCommand(cfg),
		newHandshakeCommand(cfg),
		newVersionCommand(cfg),
	)
	rootCmd.AddCommand(accessCommands(cfg)...)

	return rootCmd, cfg
}

// Execute runs esectl with the process arguments and returns the exit
// code.
func Execute() int {
	cmd, cfg := newRootCommand()
	err := cmd.Execute()
	if err != nil {
		handleError(cfg, cmd.ErrOrStderr(), err)
	}
	return ExitCode(err)
}

// ExitCode maps an error to the esectl exit status.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	if isTransportError(err) {
		return ExitError
	}
	switch arbiter.CodeOf(err) {
	case arbiter.CodeBusy:
		return ExitBusy
	case arbiter.CodeForbidden:
		return ExitForbidden
	case arbiter.CodeInvalid:
		return ExitInvalid
	case arbiter.CodeTimeout:
		return ExitTimeout
	case arbiter.CodeClosed:
		return ExitClosed
	}
	if errors.Is(err, arbiter.ErrRail) {
		return ExitIO
	}
	return ExitError
}

func isTransportError(err error) bool {
	return errors.Is(err, client.ErrConnectionFailed) || errors.Is(err, client.ErrUnexpectedResponse)
}

// resultCode names the daemon result code carried by err, or "error" for
// local and transport failures.
func resultCode(err error) string {
	switch ExitCode(err) {
	case ExitBusy:
		return arbiter.CodeBusy.String()
	case ExitForbidden:
		return arbiter.CodeForbidden.String()
	case ExitInvalid:
		return arbiter.CodeInvalid.String()
	case ExitTimeout:
		return arbiter.CodeTimeout.String()
	case ExitIO:
		return arbiter.CodeIO.String()
	case ExitClosed:
		return arbiter.CodeClosed.String()
	default:
		return "error"
	}
}

// handleError prints an error using the configured format.
func handleError(cfg *Config, w io.Writer, err error) {
	printer := NewPrinter(cfg.OutputFormat, w)
	if printErr := printer.PrintError(err); printErr != nil {
		fmt.Fprintf(w, "Error: %v\n", err)
	}
}

// printVerbose prints verbose output if enabled
func printVerbose(cmd *cobra.Command, cfg *Config, format string, args ...interface{}) {
	if cfg.Verbose {
		fmt.Fprintf(cmd.ErrOrStderr(), "[VERBOSE] "+format+"\n", args...)
	}
}

func printerFor(cmd *cobra.Command, cfg *Config) *Printer {
	return NewPrinter(cfg.OutputFormat, cmd.OutOrStdout())
}
