// Package cli implements the rpcdispatch command line.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"norelock.dev/rpcdispatch/internal/config"
	"norelock.dev/rpcdispatch/internal/utils"
)

// Execute runs the root command, handling any errors that occur during execution.
func Execute(version string) {
	if err := NewRootCommand(version).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// NewRootCommand builds the command tree.
func NewRootCommand(version string) *cobra.Command {
	var configFile string

	rootCmd := &cobra.Command{
		Use:           "rpcdispatch",
		Short:         "JSON-RPC 2.0 dispatch server",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "configuration file (default: $CONFIG_FILE, ./configs/rpcdispatch.yaml)")

	load := func() (*config.Config, error) {
		if configFile != "" {
			return config.Load(configFile)
		}
		return config.LoadConfig()
	}

	rootCmd.AddCommand(
		newServeCommand(load),
		newStdioCommand(load),
		newCallCommand(load),
		newMethodsCommand(load),
		newTokenCommand(load),
	)
	return rootCmd
}

type configLoader func() (*config.Config, error)

// newLogger creates the logger configured by cfg. Logs always go to stderr
// when stdout carries protocol traffic.
func newLogger(cfg *config.Config, forceStderr bool) (*utils.Logger, error) {
	opts := utils.LoggerOptions{
		Development: cfg.Environment == "development",
		Level:       utils.ParseLevel(cfg.Logging.Level),
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.OutputPaths,
	}
	if forceStderr {
		opts.OutputPaths = []string{"stderr"}
	}
	return utils.NewLogger(opts)
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}
