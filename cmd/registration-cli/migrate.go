package main

import (
	"fmt"

	"ms-registration/internal/database/migrations"

	"github.com/spf13/cobra"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database schema migrations",
	}

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations (all of them unless --steps is set)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRunner(cmd, func(r *migrations.Runner) error {
				if err := r.Down(steps); err != nil {
					return err
				}
				return printVersion(cmd, r)
			})
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back, 0 for all")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withRunner(cmd, func(r *migrations.Runner) error {
					if err := r.Up(); err != nil {
						return err
					}
					return printVersion(cmd, r)
				})
			},
		},
		down,
		&cobra.Command{
			Use:   "version",
			Short: "Print the current schema version",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withRunner(cmd, func(r *migrations.Runner) error {
					return printVersion(cmd, r)
				})
			},
		},
	)
	return cmd
}

func withRunner(cmd *cobra.Command, fn func(r *migrations.Runner) error) error {
	log := newLogger()
	cfg, db, err := openDB(cmd.Context(), log)
	if err != nil {
		return err
	}
	defer db.Close()

	r := migrations.NewRunner(db, migrations.Options{MigrationsDir: cfg.Database.MigrationsDir}, log)
	defer r.Close()
	return fn(r)
}

func printVersion(cmd *cobra.Command, r *migrations.Runner) error {
	version, dirty, err := r.Version()
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "schema version %d (dirty: %t)\n", version, dirty)
	return nil
}
