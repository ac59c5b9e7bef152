package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/billgate/billgate/adapters/sqlite"
	"github.com/billgate/billgate/config"
)

const (
	checkMark = "✓"
	crossMark = "✗"
)

var validateCheckDatabase bool

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration before deployment",
	Long: `Validate the billgate configuration file.

Checks:
  - YAML syntax is valid
  - Required fields are present
  - Database is writable (optional)

Examples:
  billgate validate
  billgate validate --config /etc/billgate/config.yaml --check-database`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().BoolVar(&validateCheckDatabase, "check-database", false, "check if database is writable")
}

func runValidate(cmd *cobra.Command, args []string) error {
	fmt.Printf("Validating %s...\n\n", cfgFile)

	if _, err := os.Stat(cfgFile); os.IsNotExist(err) {
		fmt.Printf("  %s Config file exists\n", crossMark)
		return fmt.Errorf("config file not found: %s", cfgFile)
	}
	fmt.Printf("  %s Config file exists\n", checkMark)

	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Printf("  %s Config syntax valid\n", crossMark)
		return fmt.Errorf("config error: %w", err)
	}
	fmt.Printf("  %s Config syntax valid\n", checkMark)
	fmt.Printf("  %s Billing mode: %s\n", checkMark, cfg.Billing.Mode)
	fmt.Printf("  %s Executor mode: %s\n", checkMark, cfg.Executor.Mode)

	if validateCheckDatabase {
		if err := checkDatabase(cfg.Database.DSN); err != nil {
			fmt.Printf("  %s Database writable\n", crossMark)
			return fmt.Errorf("database check: %w", err)
		}
		fmt.Printf("  %s Database writable\n", checkMark)
	}

	fmt.Println("\nConfiguration is valid.")
	return nil
}

func checkDatabase(dsn string) error {
	db, err := sqlite.Open(dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	return db.Migrate()
}
