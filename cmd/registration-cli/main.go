package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"ms-registration/internal/config"
	"ms-registration/internal/database"
	"ms-registration/internal/logger"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
)

var Version = "dev"

var verbose bool

func main() {
	rootCmd := &cobra.Command{
		Use:     "registration-cli",
		Short:   "Operational commands for the registration service",
		Version: Version,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			_ = godotenv.Load()
		},
	}
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log to the terminal")

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(announceCmd())
	rootCmd.AddCommand(resendConfirmationCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger() *logger.Logger {
	if verbose {
		return logger.NewWithWriter("registration-cli", os.Stderr)
	}
	return logger.NewWithWriter("registration-cli", io.Discard)
}

// openDB loads the config and connects to postgres.
func openDB(ctx context.Context, log *logger.Logger) (*config.Config, *bun.DB, error) {
	cfg := config.Load()
	db, err := database.Connect(ctx, cfg.Database, log)
	if err != nil {
		return nil, nil, err
	}
	return cfg, db, nil
}
