package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"invoiceflow/internal/cache"
	"invoiceflow/internal/log"
	"invoiceflow/internal/report"
	"invoiceflow/internal/report/sheets"
	"invoiceflow/internal/services"
)

func newReportCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Export monthly invoice totals",
	}

	var (
		workspaceID string
		year        int
		format      string
		output      string
	)
	export := &cobra.Command{
		Use:   "export",
		Short: "Export one year of monthly totals as CSV or to Google Sheets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != "csv" && format != "sheets" {
				return fmt.Errorf("invalid format %q: must be csv or sheets", format)
			}
			repo, err := opts.openRepository()
			if err != nil {
				return err
			}
			defer repo.Close()

			ctx := cmd.Context()
			invoices := services.NewInvoiceService(repo, repo, opts.logger)
			analytics := services.NewAnalyticsService(invoices, cache.NewLRUCache[services.YearlyReport](1, time.Minute), opts.logger)
			rep, err := analytics.Yearly(ctx, workspaceID, year)
			if err != nil {
				return err
			}

			f := report.NewFormatter()
			title := fmt.Sprintf("Invoices %d", rep.Year)
			doc := report.MonthlyDocument(f, title, rep.Buckets, time.Now())

			if format == "csv" {
				var w io.Writer = cmd.OutOrStdout()
				if output != "" {
					file, err := os.Create(output)
					if err != nil {
						return fmt.Errorf("create %s: %w", output, err)
					}
					defer file.Close()
					w = file
				}
				return report.WriteCSV(w, f, doc)
			}

			exporter, err := sheets.New(ctx, sheets.Config{
				SpreadsheetID:   opts.cfg.GoogleSpreadsheetID,
				CredentialsJSON: opts.cfg.GoogleServiceAccountJSON,
				CredentialsFile: opts.cfg.GoogleServiceAccountFile,
			}, opts.logger)
			if err != nil {
				return err
			}
			ref, err := exporter.Export(ctx, sheets.YearlySheetName(opts.cfg.ReportSheetName, rep.Year, workspaceID), doc)
			if err != nil {
				return err
			}
			opts.logger.InfoContext(ctx, "Report exported", log.FieldWorkspaceID, workspaceID,
				log.FieldYear, rep.Year, log.FieldSheetRef, ref)
			fmt.Fprintln(cmd.OutOrStdout(), ref)
			return nil
		},
	}
	export.Flags().StringVar(&workspaceID, "workspace", "", "workspace id")
	export.Flags().IntVar(&year, "year", time.Now().Year(), "year to export; falls back to the latest year with invoices")
	export.Flags().StringVar(&format, "format", "csv", "csv|sheets")
	export.Flags().StringVarP(&output, "output", "o", "", "CSV output file (default stdout)")
	_ = export.MarkFlagRequired("workspace")
	cmd.AddCommand(export)
	return cmd
}
