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
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/jeremyhahn/go-eseaccess/pkg/client"
	"github.com/jeremyhahn/go-eseaccess/pkg/notify"
)

// EnvPrefix prefixes environment overrides, e.g. ESECTL_SOCKET.
const EnvPrefix = "ESECTL"

// Config holds global CLI configuration
type Config struct {
	// ConfigFile is the path to a YAML configuration file. Defaults to
	// $HOME/.esectl.yaml when present.
	ConfigFile string

	// SocketPath is the daemon socket
	SocketPath string

	// OutputFormat controls output formatting (text, json)
	OutputFormat string

	// Timeout bounds each request
	Timeout time.Duration

	// Identity, if non-zero, is the identity requests are attributed to
	Identity int32

	// Verbose enables verbose logging
	Verbose bool
}

// NewConfig creates a new Config with default values
func NewConfig() *Config {
	return &Config{
		SocketPath:   client.DefaultSocketPath,
		OutputFormat: string(OutputFormatText),
		Timeout:      client.DefaultTimeout,
	}
}

// bindFlags registers the persistent flags on fs and binds them in v.
func (c *Config) bindFlags(fs *pflag.FlagSet, v *viper.Viper) {
	fs.StringVar(&c.ConfigFile, "config", "", "config file (YAML)")
	fs.StringVarP(&c.SocketPath, "socket", "s", c.SocketPath, "daemon socket path")
	fs.StringVarP(&c.OutputFormat, "output", "o", c.OutputFormat, "output format (text, json)")
	fs.DurationVar(&c.Timeout, "timeout", c.Timeout, "request timeout")
	fs.Int32Var(&c.Identity, "identity", 0, "act for this identity instead of the caller PID")
	fs.BoolVarP(&c.Verbose, "verbose", "v", false, "verbose output")

	for _, name := range []string{"socket", "output", "timeout", "identity", "verbose"} {
		_ = v.BindPFlag(name, fs.Lookup(name))
	}
}

// load merges the config file and environment under the flags. Flags set
// on the command line win.
func (c *Config) load(v *viper.Viper) error {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if c.ConfigFile != "" {
		v.SetConfigFile(c.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	} else if home, err := os.UserHomeDir(); err == nil {
		// $HOME/.esectl.yaml is optional.
		v.AddConfigPath(home)
		v.SetConfigName(".esectl")
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	c.SocketPath = v.GetString("socket")
	c.OutputFormat = v.GetString("output")
	c.Timeout = v.GetDuration("timeout")
	c.Identity = v.GetInt32("identity")
	c.Verbose = v.GetBool("verbose")

	return c.Validate()
}

// Validate checks the merged configuration
func (c *Config) Validate() error {
	switch OutputFormat(c.OutputFormat) {
	case OutputFormatText, OutputFormatJSON:
	default:
		return fmt.Errorf("invalid output format: %s (must be text or json)", c.OutputFormat)
	}
	if c.SocketPath == "" {
		return fmt.Errorf("socket path is required")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.Identity < 0 {
		return fmt.Errorf("identity must not be negative")
	}
	return nil
}

// CreateClient creates a client for communicating with esed.
func (c *Config) CreateClient() *client.Client {
	return client.New(&client.Config{
		SocketPath: c.SocketPath,
		Timeout:    c.Timeout,
		Identity:   notify.Identity(c.Identity),
	})
}
