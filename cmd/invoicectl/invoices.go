package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"invoiceflow/internal/core"
	"invoiceflow/internal/report"
	"invoiceflow/internal/services"
)

func newInvoicesCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "invoices",
		Short: "Inspect invoices",
	}

	var workspaceID, status string
	list := &cobra.Command{
		Use:   "list",
		Short: "List the invoices of a workspace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := core.ParseDisplayStatus(status)
			if err != nil {
				return err
			}
			repo, err := opts.openRepository()
			if err != nil {
				return err
			}
			defer repo.Close()

			invoices := services.NewInvoiceService(repo, repo, opts.logger)
			seq, err := invoices.List(cmd.Context(), workspaceID, filter)
			if err != nil {
				return err
			}

			f := report.NewFormatter()
			now := time.Now()
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tPROJECT\tCLIENT\tDUE\tSTATUS\tAMOUNT")
			for inv := range seq {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
					inv.ID, inv.ProjectName, inv.Client,
					f.Date(inv.DueDate), f.Status(inv.Display(now)), f.Money(inv.Amount))
			}
			return tw.Flush()
		},
	}
	list.Flags().StringVar(&workspaceID, "workspace", "", "workspace id")
	list.Flags().StringVar(&status, "status", "all", "pending|paid|overdue|all")
	_ = list.MarkFlagRequired("workspace")
	cmd.AddCommand(list)
	return cmd
}
