package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/visitor-cli/internal/model"
	"github.com/sells-group/visitor-cli/internal/store"
)

var leadCmd = &cobra.Command{
	Use:   "lead",
	Short: "Inspect stored leads",
}

// -- lead get --

var leadGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Show a lead with its contact and media mentions",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		id, _ := cmd.Flags().GetString("id")
		visitID, _ := cmd.Flags().GetString("visit-id")
		if (id == "") == (visitID == "") {
			return eris.New("lead get: exactly one of --id or --visit-id is required")
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		var lead *model.Lead
		if id != "" {
			lead, err = st.GetLead(ctx, id)
		} else {
			lead, err = st.GetLeadByVisit(ctx, visitID)
		}
		if err != nil {
			return eris.Wrap(err, "lead get")
		}
		return writeJSON(os.Stdout, lead)
	},
}

// -- lead list --

var leadListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent leads",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		status, _ := cmd.Flags().GetString("status")
		workspace, _ := cmd.Flags().GetString("workspace-id")
		since, _ := cmd.Flags().GetDuration("since")
		limit, _ := cmd.Flags().GetInt("limit")

		filter := store.LeadFilter{
			WorkspaceID: workspace,
			Status:      model.Status(status),
			Limit:       limit,
		}
		if since > 0 {
			filter.CreatedAfter = time.Now().Add(-since)
		}

		leads, err := st.ListLeads(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "lead list")
		}
		if len(leads) == 0 {
			fmt.Fprintln(os.Stderr, "No leads found.")
			return nil
		}
		formatLeadList(os.Stdout, leads)
		return nil
	},
}

func init() {
	leadGetCmd.Flags().String("id", "", "lead ID")
	leadGetCmd.Flags().String("visit-id", "", "visit the lead was enriched from")

	leadListCmd.Flags().String("status", "", "filter by status (no_contact, email_fail, enriched)")
	leadListCmd.Flags().String("workspace-id", "", "filter by workspace")
	leadListCmd.Flags().Duration("since", 0, "only leads created within this window (e.g. 24h)")
	leadListCmd.Flags().Int("limit", 20, "max leads to show")

	leadCmd.AddCommand(leadGetCmd, leadListCmd)
	rootCmd.AddCommand(leadCmd)
}

func formatLeadList(w io.Writer, leads []model.Lead) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tCOMPANY\tQUALITY\tCONFIDENCE\tAI\tCOST\tCREATED")
	for _, l := range leads {
		ai := "-"
		if l.AIReferred {
			ai = l.AISource
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%.2f\t%s\t%d¢\t%s\n",
			shortID(l.ID), l.Status, truncate(l.CompanyName, 30), l.Quality,
			l.Confidence, ai, l.CostCents, l.CreatedAt.Format(time.RFC3339),
		)
	}
	_ = tw.Flush()
}
