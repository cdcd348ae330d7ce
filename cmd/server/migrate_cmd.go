package main

import (
	"github.com/spf13/cobra"

	"github.com/rpattn/phenobatch/internal/db"
	"github.com/rpattn/phenobatch/migrations"
)

func newMigrateCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := newLogger(opts.cfg.Log)
			if err != nil {
				return err
			}
			return db.RunMigrations(migrations.FS, opts.cfg.Database, log)
		},
	})

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back applied migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := newLogger(opts.cfg.Log)
			if err != nil {
				return err
			}
			return db.RollbackMigrations(migrations.FS, opts.cfg.Database, steps, log)
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "Number of migrations to roll back")
	cmd.AddCommand(down)
	return cmd
}
