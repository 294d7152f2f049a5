package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"invoiceflow/internal/log"
	"invoiceflow/internal/storage"
)

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply every pending migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := storage.RunMigrations(opts.dbPath); err != nil {
				return err
			}
			opts.logger.InfoContext(cmd.Context(), "Migrations applied", "db_path", opts.dbPath)
			return printVersion(cmd, opts.dbPath)
		},
	})

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := storage.RollbackMigrations(opts.dbPath, steps); err != nil {
				return err
			}
			opts.logger.WarnContext(cmd.Context(), "Migrations rolled back",
				"db_path", opts.dbPath, "steps", steps, log.FieldOperation, "rollback")
			return printVersion(cmd, opts.dbPath)
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")
	cmd.AddCommand(down)

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the applied schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return printVersion(cmd, opts.dbPath)
		},
	})
	return cmd
}

func printVersion(cmd *cobra.Command, dbPath string) error {
	version, dirty, err := storage.MigrationVersion(dbPath)
	if err != nil {
		return err
	}
	suffix := ""
	if dirty {
		suffix = " (dirty)"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "schema version %d%s\n", version, suffix)
	return nil
}
