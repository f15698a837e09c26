// Package cmd defines and implements the CLI commands for the harvester executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/replica-harvester/internal/config"
	"github.com/JakeFAU/replica-harvester/internal/logging"
)

// runtimeKeyType is the key for storing the loaded runtime in the context.
type runtimeKeyType string

const runtimeKey runtimeKeyType = "runtime"

// runtime carries what PersistentPreRunE loaded to the subcommands.
type runtime struct {
	cfg    config.Config
	logger *zap.Logger
	// diag receives the per-item diagnostic lines.
	diag *zap.Logger
}

// newLogger builds the operational logger. Tests replace it to capture output.
var newLogger = logging.New

// newDiagnostic builds the diagnostic stream logger (stderr by default).
var newDiagnostic = func(development bool) *zap.Logger {
	return logging.NewDiagnostic(nil, development)
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "harvester",
		Short: "Fetch every input item from a pool of interchangeable replicas.",
		Long: `harvester reads a list of items and a list of replica base URLs, then
fetches each item from the replicas with bounded per-replica concurrency and a
retry budget, appending "<item> <payload>" lines to an output file.

The replica subcommand runs a scripted stand-in replica for local testing.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		// Runs after flag parsing, so the subcommand's flags are bound into viper.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile, cmd.Flags())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := newLogger(cfg.Logging.Development)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			rt := &runtime{
				cfg:    cfg,
				logger: logger,
				diag:   newDiagnostic(cfg.Logging.Development),
			}
			cmd.SetContext(context.WithValue(cmd.Context(), runtimeKey, rt))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if rt, err := resolveRuntime(cmd.Context()); err == nil {
				_ = rt.logger.Sync()
				_ = rt.diag.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")
	cmd.PersistentFlags().Bool("development", false, "human-friendly console logging")

	cmd.AddCommand(newHarvestCmd())
	cmd.AddCommand(newReplicaCmd())

	return cmd
}

func resolveRuntime(ctx context.Context) (*runtime, error) {
	if ctx == nil {
		return nil, errors.New("command context is nil")
	}
	rt, ok := ctx.Value(runtimeKey).(*runtime)
	if !ok || rt == nil {
		return nil, errors.New("runtime not found in context")
	}
	return rt, nil
}

// execute runs the root command with args and returns the process exit code.
func execute(ctx context.Context, args []string, stderr io.Writer) int {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetErr(stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		_, _ = fmt.Fprintf(stderr, "harvester: %v\n", err)
		return 1
	}
	return 0
}

// Execute is the main entry point. It returns 0 unless startup failed.
func Execute() int {
	return execute(context.Background(), os.Args[1:], os.Stderr)
}
