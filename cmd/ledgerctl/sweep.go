package main

import (
	"fmt"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	appkg "github.com/xenking/paybridge/internal/app"
	"github.com/xenking/paybridge/internal/domain/reconcile"
	"github.com/xenking/paybridge/internal/storage/postgres"
)

func sweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Reconcile stale pending orders with their providers",
		Long: `Looks at pending orders older than --min-age. Orders with a provider
reference are captured or looked up and the outcome is applied to the
ledger. Orders without one, or still unpaid after --abandon-after, are
cancelled.`,
		RunE: runSweep,
	}

	cmd.Flags().Duration("min-age", 0, "Ignore pending orders younger than this (default from config)")
	cmd.Flags().Duration("abandon-after", 0, "Cancel unpaid orders older than this (default from config)")
	cmd.Flags().Int("concurrency", 0, "Orders swept in parallel (default from config)")
	cmd.Flags().Uint64("limit", 0, "Max orders to look at (default from config)")
	cmd.Flags().Bool("dry-run", false, "Report what would change without writing")

	return cmd
}

func runSweep(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	lg := zctx.From(ctx)

	cfg, err := loadConfig((*appkg.Config).Validate)
	if err != nil {
		return err
	}
	opts := cfg.Sweep.Options()
	flags := cmd.Flags()
	if flags.Changed("min-age") {
		opts.MinAge, _ = flags.GetDuration("min-age")
	}
	if flags.Changed("abandon-after") {
		opts.AbandonAfter, _ = flags.GetDuration("abandon-after")
	}
	if flags.Changed("concurrency") {
		opts.Concurrency, _ = flags.GetInt("concurrency")
	}
	if flags.Changed("limit") {
		opts.Limit, _ = flags.GetUint64("limit")
	}
	opts.DryRun, _ = flags.GetBool("dry-run")

	pool, err := appkg.OpenLedger(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer pool.Close()

	providers := appkg.NewProviders(cfg, otel.GetTracerProvider(), otel.GetMeterProvider())
	rec, err := reconcile.NewReconciler(postgres.NewOrderRepository(pool), providers.Registry, otel.GetMeterProvider())
	if err != nil {
		return errors.Wrap(err, "create reconciler")
	}

	lg.Info("Sweeping",
		zap.Duration("min_age", opts.MinAge),
		zap.Duration("abandon_after", opts.AbandonAfter),
		zap.Bool("dry_run", opts.DryRun),
	)
	report, err := reconcile.NewSweeper(rec).Run(ctx, opts)
	if err != nil {
		return errors.Wrap(err, "sweep")
	}

	fmt.Fprintf(cmd.OutOrStdout(), "checked=%d applied=%d cancelled=%d deferred=%d failed=%d\n",
		report.Checked, report.Applied, report.Cancelled, report.Deferred, report.Failed)
	if report.Failed > 0 {
		return errors.Errorf("%d orders could not be swept", report.Failed)
	}
	return nil
}
