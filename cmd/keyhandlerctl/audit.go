package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"dovecot-keyhandler/internal/repository"
)

func auditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect persisted audit events",
	}

	var email string
	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List recent audit events, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit <= 0 {
				return fmt.Errorf("--limit must be positive")
			}
			db, err := openDB()
			if err != nil {
				return err
			}

			events, err := repository.NewAuditRepository(db).FindRecent(cmd.Context(), email, limit)
			if err != nil {
				return fmt.Errorf("failed to list audit events: %w", err)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "CREATED AT\tENDPOINT\tEMAIL\tOUTCOME\tFIELD\tREQUEST ID")
			for _, e := range events {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					e.CreatedAt.Format("2006-01-02 15:04:05"), e.Endpoint, orDash(e.Email), e.Outcome, orDash(e.Field), orDash(e.RequestID))
			}
			return w.Flush()
		},
	}
	list.Flags().StringVar(&email, "email", "", "Only show events for this mailbox")
	list.Flags().IntVar(&limit, "limit", 50, "Maximum number of events")

	cmd.AddCommand(list)
	return cmd
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
