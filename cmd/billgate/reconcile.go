package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/billgate/billgate/adapters/clock"
	"github.com/billgate/billgate/adapters/metrics"
	"github.com/billgate/billgate/adapters/payment"
	"github.com/billgate/billgate/adapters/sqlite"
	"github.com/billgate/billgate/app"
	"github.com/billgate/billgate/config"
)

var reconcileTimeout time.Duration

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Run one reconciliation pass against the payment provider",
	Long: `Compare local billing state against the payment provider and report
divergences. Detection only: nothing is written, webhooks remain the
single mutation path.

Examples:
  billgate reconcile
  billgate reconcile --config /etc/billgate/config.yaml --timeout 5m`,
	RunE: runReconcile,
}

func init() {
	rootCmd.AddCommand(reconcileCmd)

	reconcileCmd.Flags().DurationVar(&reconcileTimeout, "timeout", 10*time.Minute, "run timeout")
}

func runReconcile(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadWithFallback(cfgFile)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	db, err := sqlite.Open(cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}
	store := sqlite.NewStore(db)

	provider, err := payment.NewProvider(paymentConfig(cfg))
	if err != nil {
		return fmt.Errorf("payment provider: %w", err)
	}

	svc := app.NewReconcileService(store, provider, clock.Real{}, app.ReconcileConfig{
		RenewalTolerance:       cfg.Reconcile.RenewalTolerance,
		UsageDiscrepancyPct:    cfg.Reconcile.UsageDiscrepancyPct,
		MismatchCountThreshold: cfg.Reconcile.MismatchThreshold,
		Plans:                  planMap(cfg),
	}, metrics.New(), logger)

	ctx, cancel := context.WithTimeout(context.Background(), reconcileTimeout)
	defer cancel()

	report, err := svc.Run(ctx)
	if err != nil {
		return fmt.Errorf("reconciliation failed: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}

	if len(report.Findings) > 0 {
		return fmt.Errorf("%d mismatch(es) found", len(report.Findings))
	}
	return nil
}
