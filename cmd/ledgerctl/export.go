package main

import (
	"bufio"
	"io"
	"os"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	appkg "github.com/xenking/paybridge/internal/app"
	"github.com/xenking/paybridge/internal/domain/order"
	"github.com/xenking/paybridge/internal/export"
	"github.com/xenking/paybridge/internal/storage/postgres"
)

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Dump orders as newline delimited JSON",
		Long: `Writes one JSON object per order, oldest first. Output ending in .gz is
gzip compressed; "-" writes to stdout.`,
		RunE: runExport,
	}

	cmd.Flags().StringP("output", "o", "-", "Output file")
	cmd.Flags().StringSlice("status", nil, "Only orders in these statuses")
	cmd.Flags().String("provider", "", "Only orders of this provider")
	cmd.Flags().String("since", "", "Only orders created after this RFC 3339 time")
	cmd.Flags().String("until", "", "Only orders created before this RFC 3339 time")
	cmd.Flags().Uint64("limit", 0, "Max orders, 0 for all")
	cmd.Flags().Bool("gzip", false, "Compress output regardless of file name")

	return cmd
}

func exportFilter(cmd *cobra.Command) (order.Filter, error) {
	var f order.Filter
	flags := cmd.Flags()

	statuses, _ := flags.GetStringSlice("status")
	for _, s := range statuses {
		st := order.Status(strings.ToLower(s))
		if !st.Valid() {
			return f, errors.Errorf("unknown status %q", s)
		}
		f.Statuses = append(f.Statuses, st)
	}

	if p, _ := flags.GetString("provider"); p != "" {
		provider, ok := order.ParseProvider(strings.ToLower(p))
		if !ok {
			return f, errors.Errorf("unknown provider %q", p)
		}
		f.Provider = provider
	}

	for name, dst := range map[string]*time.Time{"since": &f.CreatedAfter, "until": &f.CreatedBefore} {
		v, _ := flags.GetString(name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, errors.Wrapf(err, "parse --%s", name)
		}
		*dst = t
	}

	f.Limit, _ = flags.GetUint64("limit")
	return f, nil
}

func runExport(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	filter, err := exportFilter(cmd)
	if err != nil {
		return err
	}
	path, _ := cmd.Flags().GetString("output")
	gz, _ := cmd.Flags().GetBool("gzip")
	gz = gz || strings.HasSuffix(path, ".gz")

	cfg, err := loadConfig((*appkg.Config).ValidateDatabase)
	if err != nil {
		return err
	}
	pool, err := appkg.OpenLedger(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer pool.Close()

	var dst io.Writer = cmd.OutOrStdout()
	if path != "-" {
		f, err := os.Create(path)
		if err != nil {
			return errors.Wrap(err, "create output")
		}
		defer func() { _ = f.Close() }()
		dst = f
	}
	bw := bufio.NewWriter(dst)

	n, err := export.Write(ctx, postgres.NewOrderRepository(pool), bw, export.Options{
		Filter: filter,
		Gzip:   gz,
	})
	if err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return errors.Wrap(err, "flush output")
	}

	zctx.From(ctx).Info("Exported orders", zap.Int("count", n), zap.String("output", path))
	return nil
}
