package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"invoiceflow/internal/cli"
	"invoiceflow/internal/config"
	"invoiceflow/internal/log"
	"invoiceflow/internal/storage"
)

// rootOptions holds state shared by every subcommand.
type rootOptions struct {
	dbPath string
	cfg    *config.Config
	logger *log.Logger
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "invoicectl",
		Short:         "Operate the invoiceflow ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cli.LoadEnvFile()
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			opts.cfg = cfg
			if opts.dbPath == "" {
				opts.dbPath = cfg.SQLiteDBPath
			}
			lvl, err := log.ParseLevel(cfg.LogLevel)
			if err != nil {
				return err
			}
			opts.logger = log.New(log.Config{
				Component: log.ComponentCLI,
				Handler:   slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: lvl}),
			})
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.dbPath, "db", "", "SQLite database path (default $SQLITE_DB_PATH)")

	cmd.AddCommand(newMigrateCommand(opts))
	cmd.AddCommand(newInvoicesCommand(opts))
	cmd.AddCommand(newReportCommand(opts))
	return cmd
}

func (o *rootOptions) openRepository() (*storage.SQLiteRepository, error) {
	repo, err := storage.NewSQLiteRepository(o.dbPath)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", o.dbPath, err)
	}
	return repo, nil
}
