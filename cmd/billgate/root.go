package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "billgate",
	Short: "Billing-event and usage-metering server",
	Long: `Billgate meters paid work against subscription quotas, applies payment
provider webhooks exactly once, and trips a cost circuit breaker before
spend runs away.

Quick start:
  billgate serve      # Start the server
  billgate validate   # Validate configuration

Operations:
  billgate reconcile  # Run one reconciliation pass against the provider`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "billgate.yaml", "config file path")
}
