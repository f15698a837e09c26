package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/replica-harvester/internal/app"
	"github.com/JakeFAU/replica-harvester/internal/config"
	"github.com/JakeFAU/replica-harvester/internal/harvest"
)

// harvestRunner is the part of *app.App the command drives.
type harvestRunner interface {
	Run(ctx context.Context) (harvest.Summary, error)
	Close(ctx context.Context)
}

// newHarvestApp is the application factory. It's a variable so tests can
// replace it with a fake runner.
var newHarvestApp = func(ctx context.Context, cfg config.Config, paths app.Paths, logger, diag *zap.Logger) (harvestRunner, error) {
	return app.New(ctx, cfg, paths, logger, diag, app.Options{})
}

// newHarvestCmd creates the 'harvest' subcommand.
func newHarvestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "harvest <input_file> <addresses_file> <output_file>",
		Short: "Fetch every item in input_file and append results to output_file",
		Long: `Reads one item per line from input_file and one replica base URL per line
from addresses_file, then fetches GET <replica>/api/data?input=<item> for every
item. Each delivered item is appended to output_file as "<item> <payload>".

Items that keep failing are reported on stderr and left out of the output. The
command exits non-zero only when startup fails.`,
		Args: cobra.ExactArgs(3),
		RunE: runHarvestCommand,
	}

	flags := cmd.Flags()
	flags.Int("max-retries", 5, "attempts per item before giving up")
	flags.Int("concurrency-per-proxy", 30, "maximum in-flight attempts per replica")
	flags.Int("workers", 0, "number of workers (0 = concurrency-per-proxy)")
	flags.Duration("attempt-timeout", 0, "per-attempt deadline (0 = config default)")
	flags.String("selector", "random", "replica selection strategy: random or round_robin")
	flags.Uint64("seed", 0, "selector seed (0 = time-seeded)")
	flags.Float64("replica-rps", 0, "per-replica request rate cap (0 = unlimited)")
	flags.String("metrics-addr", "", "serve /metrics on this address (empty = off)")

	return cmd
}

func runHarvestCommand(cmd *cobra.Command, args []string) error {
	rt, err := resolveRuntime(cmd.Context())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	paths := app.Paths{Input: args[0], Addresses: args[1], Output: args[2]}
	h, err := newHarvestApp(ctx, rt.cfg, paths, rt.logger, rt.diag)
	if err != nil {
		return fmt.Errorf("start harvest: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		h.Close(closeCtx)
	}()

	summary, err := h.Run(ctx)
	if err != nil {
		// Every delivered item is already in the output file.
		rt.logger.Error("post-run step failed", zap.Error(err))
	}
	if ctx.Err() != nil {
		rt.logger.Warn("harvest interrupted", zap.Int64("canceled", summary.Canceled))
	}
	return nil
}
