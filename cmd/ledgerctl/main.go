// Command ledgerctl is the operator tool for the payment ledger.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	appkg "github.com/xenking/paybridge/internal/app"
)

var Version = "dev"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	lg, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = lg.Sync() }()

	rootCmd := &cobra.Command{
		Use:           "ledgerctl",
		Short:         "Operate the paybridge order ledger",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(exportCmd())

	if err := rootCmd.ExecuteContext(zctx.Base(ctx, lg)); err != nil {
		lg.Error("Command failed", zap.Error(err))
		cancel()
		os.Exit(1)
	}
}

// loadConfig reads the shared PAYBRIDGE_ configuration; command flags are
// parsed by cobra instead.
func loadConfig(validate func(*appkg.Config) error) (*appkg.Config, error) {
	cfg, err := appkg.LoadConfigNoFlags()
	if err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, errors.Wrap(err, "config")
	}
	return cfg, nil
}
