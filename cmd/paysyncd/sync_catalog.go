package main

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/xraph/paysync/catalog"
)

var (
	syncProvider    string
	syncConcurrency int
)

var syncCatalogCmd = &cobra.Command{
	Use:   "sync-catalog",
	Short: "Push the catalog file to a payment provider",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(envFile)
		if err != nil {
			return err
		}
		if cfg.CatalogFile == "" {
			return errors.New("PAYSYNC_CATALOG_FILE is required")
		}

		ctx := cmd.Context()
		logger := newLogger(cfg)
		engine, err := buildEngine(ctx, cfg, logger, prometheus.NewRegistry())
		if err != nil {
			return err
		}
		if err := engine.Start(ctx); err != nil {
			return err
		}
		defer func() { _ = engine.Stop(ctx) }()

		result, err := engine.SyncCatalog(ctx, syncProvider, catalog.WithConcurrency(syncConcurrency))
		if result != nil {
			for _, p := range result.Synced {
				fmt.Fprintf(cmd.OutOrStdout(), "%-12s %-24s %-4s %s\n", p.Mode, p.Key, p.Currency, p.ProviderPriceID)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "synced %d, unchanged %d\n", len(result.Synced), result.Unchanged)
		}
		return err
	},
}

func init() {
	syncCatalogCmd.Flags().StringVar(&syncProvider, "provider", "stripe", "provider to sync to")
	syncCatalogCmd.Flags().IntVar(&syncConcurrency, "concurrency", 4, "parallel provider calls")
}
