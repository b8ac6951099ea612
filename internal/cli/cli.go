// Package cli implements the luam command-line interface.
//
// # Commands
//
//   - resolve: resolve a package's dependency closure against the configured store
//   - serve: run the HTTP API
//   - publish: copy a directory registry into the configured store
//   - config: print the effective configuration
//   - completion: generate shell completion scripts
//
// # Configuration
//
// Settings come from a TOML file (--config, or ~/.config/luam/config.toml)
// overridden by LUAM_* environment variables and then by flags. See
// pkg/config.
//
// # Logging
//
// All commands support --verbose (-v) for debug-level logging. The logger is
// passed through context.Context so that resolution sessions log under the
// command's logger.
package cli

import (
	"fmt"
	"io"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/matzehuels/luam/pkg/buildinfo"
	"github.com/matzehuels/luam/pkg/config"
)

const appName = "luam"

// Log levels exported for use in main.go.
const (
	LogDebug = log.DebugLevel
	LogInfo  = log.InfoLevel
)

// CLI holds shared state for all commands.
type CLI struct {
	Logger *log.Logger

	configPath string
	verbose    bool
	cfg        config.Config
}

// New creates a new CLI instance logging to w.
func New(w io.Writer, level log.Level) *CLI {
	return &CLI{
		Logger: newLogger(w, level),
		cfg:    config.Default(),
	}
}

// SetLogLevel updates the logger's level.
func (c *CLI) SetLogLevel(level log.Level) {
	c.Logger.SetLevel(level)
}

// RootCommand creates the root cobra command with all subcommands registered.
func (c *CLI) RootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          appName,
		Short:        "luam resolves package dependency closures",
		Long:         `luam is a package registry resolver: given a package, a version or range, and the versions a client already has, it returns every release the client still needs, with payloads and the exact version chosen for each dependency.`,
		Version:      buildinfo.Version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.setup(cmd)
		},
	}

	root.SetVersionTemplate(buildinfo.Template())
	root.PersistentFlags().StringVar(&c.configPath, "config", "", "config file (default ~/.config/luam/config.toml)")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "enable verbose logging")

	root.AddCommand(c.resolveCommand())
	root.AddCommand(c.serveCommand())
	root.AddCommand(c.publishCommand())
	root.AddCommand(c.configCommand())
	root.AddCommand(c.completionCommand())

	return root
}

// setup loads configuration and applies the log level before any command
// runs.
func (c *CLI) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}
	c.cfg = cfg

	level := LogInfo
	if cfg.Log.Level != "" {
		if level, err = log.ParseLevel(cfg.Log.Level); err != nil {
			return fmt.Errorf("log.level: %w", err)
		}
	}
	if c.verbose {
		level = LogDebug
	}
	c.SetLogLevel(level)
	cmd.SetContext(withLogger(cmd.Context(), c.Logger))
	return nil
}
