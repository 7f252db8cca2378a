package main

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/warp/reservation-core/factory"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load rooms, blackout windows and balances from a TOML file",
	Long: `Load fixtures into the configured ledger in one transaction. Seeding
the same file again is safe: rooms are upserted, blackouts are kept once and
existing balances keep the days approved leave already consumed.`,
	RunE: runSeed,
}

func init() {
	rootCmd.AddCommand(seedCmd)
	seedCmd.Flags().StringP("fixtures", "f", "", "Path to TOML fixture file")
	seedCmd.MarkFlagRequired("fixtures")
}

func runSeed(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Storage.Driver == "memory" {
		return fmt.Errorf("seed needs a persistent ledger, storage driver is %q", cfg.Storage.Driver)
	}

	path, _ := cmd.Flags().GetString("fixtures")
	fixtures, err := factory.LoadFixtures(path)
	if err != nil {
		return err
	}

	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	return a.seed(cmd.Context(), path, fixtures)
}

// seed applies fixtures through the app's manager and logs what was written.
func (a *app) seed(ctx context.Context, path string, fixtures *factory.Fixtures) error {
	sum, err := fixtures.Apply(ctx, a.manager, time.Now())
	if err != nil {
		return err
	}
	a.log.WithFields(logrus.Fields{
		"file":      path,
		"rooms":     sum.Rooms,
		"blackouts": sum.Blackouts,
		"balances":  sum.Balances,
	}).Info("fixtures loaded")
	return nil
}
