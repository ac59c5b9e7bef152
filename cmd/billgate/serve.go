package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/billgate/billgate/adapters/clock"
	"github.com/billgate/billgate/adapters/idgen"
	"github.com/billgate/billgate/adapters/metrics"
	"github.com/billgate/billgate/adapters/payment"
	"github.com/billgate/billgate/adapters/sqlite"
	"github.com/billgate/billgate/app"
	"github.com/billgate/billgate/config"
	"github.com/billgate/billgate/web"
)

var (
	hotReload bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the billing and metering server",
	Long: `Start the billgate server.

The server will:
  - Load configuration from billgate.yaml (or --config)
  - Or load configuration from BILLGATE_* environment variables
  - Connect to the database and run migrations
  - Accept payment provider webhooks and meter paid work
  - Run the reconciliation job on its schedule

Environment variables (for Docker deployments):
  BILLGATE_DATABASE_DSN            - Database path (default: billgate.db)
  BILLGATE_SERVER_PORT             - Server port (default: 8080)
  BILLGATE_REDIS_ADDR              - Redis address for the cost breaker
  BILLGATE_BILLING_MODE            - none, lemonsqueezy, or stripe
  BILLGATE_BILLING_WEBHOOK_SECRET  - Webhook signing secret
  BILLGATE_LOG_LEVEL               - debug, info, warn, error

Examples:
  billgate serve
  billgate serve --config /etc/billgate/config.yaml
  billgate serve --hot-reload=false`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&hotReload, "hot-reload", true, "enable hot reload of configuration")
}

func runServe(cmd *cobra.Command, args []string) error {
	hasConfigFile := false
	if _, err := os.Stat(cfgFile); err == nil {
		hasConfigFile = true
	}

	if !hasConfigFile && !config.HasEnvConfig() {
		fmt.Println("No configuration found.")
		fmt.Println()
		fmt.Printf("Option 1: Create %s\n", cfgFile)
		fmt.Println("Option 2: Set BILLGATE_* environment variables")
		fmt.Println()
		fmt.Println("Example (env vars):")
		fmt.Println("  BILLGATE_BILLING_MODE=none billgate serve")
		return nil
	}

	var cfg *config.Config
	var holder *config.Holder

	if hasConfigFile && hotReload {
		h, err := config.NewHolder(cfgFile, setupLogger(config.LoggingConfig{Level: "info"}))
		if err != nil {
			return fmt.Errorf("error loading config: %w", err)
		}
		holder = h
		cfg = h.Get()
	} else {
		c, err := config.LoadWithFallback(cfgFile)
		if err != nil {
			return fmt.Errorf("error loading config: %w", err)
		}
		if !hasConfigFile {
			fmt.Println("Running with environment variables (no config file)")
		}
		cfg = c
	}

	logger := setupLogger(cfg.Logging)
	m := metrics.New()

	if holder != nil {
		holder.Instrument(m)
		holder.OnChange(func(next *config.Config) {
			// Only the log level takes effect without a restart; the
			// remaining reloadable fields are picked up on the next run.
			setupLogger(next.Logging)
		})
		if err := holder.WatchFile(); err != nil {
			logger.Warn().Err(err).Msg("config file watch unavailable")
		}
		holder.WatchSignals()
		defer holder.Stop()
	}

	// Storage
	db, err := sqlite.Open(cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}
	store := sqlite.NewStore(db)

	// Collaborators
	counters := buildCounters(cfg, logger)
	exec := buildExecutor(cfg.Executor)

	provider, err := payment.NewProvider(paymentConfig(cfg))
	if err != nil {
		return fmt.Errorf("payment provider: %w", err)
	}
	logger.Info().Str("provider", provider.Name()).Msg("payment provider configured")

	clk := clock.Real{}
	ids := idgen.UUID{}
	plans := planMap(cfg)

	// Services
	usageSvc := app.NewUsageService(store, quotaLimits(cfg), clk, m, logger)
	breakerSvc := app.NewBreakerService(counters, budgetCaps(cfg), clk, m, logger)
	reportingSvc := app.NewReportingService(store, provider, clk, m, logger)
	webhookSvc := app.NewWebhookService(store, clk, ids, plans, m, logger)
	workSvc := app.NewWorkService(store, usageSvc, breakerSvc, reportingSvc, exec, ids, clk, logger)
	checkoutSvc := app.NewCheckoutService(store, provider, clk, plans, logger)
	reconcileSvc := app.NewReconcileService(store, provider, clk, app.ReconcileConfig{
		RenewalTolerance:       cfg.Reconcile.RenewalTolerance,
		UsageDiscrepancyPct:    cfg.Reconcile.UsageDiscrepancyPct,
		MismatchCountThreshold: cfg.Reconcile.MismatchThreshold,
		Plans:                  plans,
	}, m, logger)

	handler := web.NewHandler(web.Deps{
		Webhooks: webhookSvc,
		Work:     workSvc,
		Breaker:  breakerSvc,
		Checkout: checkoutSvc,
		Provider: provider,
		Counters: counters,
		Metrics:  m,
		Logger:   logger,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      handler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Reconciliation schedule
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.Reconcile.Schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()

		report, err := reconcileSvc.Run(ctx)
		if err != nil {
			logger.Error().Err(err).Msg("reconciliation run failed")
			return
		}
		logger.Info().
			Int("checked", report.Checked).
			Int("findings", len(report.Findings)).
			Msg("reconciliation run complete")
	}); err != nil {
		return fmt.Errorf("reconcile schedule %q: %w", cfg.Reconcile.Schedule, err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	// Start server
	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("starting http server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for interrupt or error
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http server shutdown error")
	}

	return nil
}
