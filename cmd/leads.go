package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/lead-intake/internal/intent"
	"github.com/sells-group/lead-intake/internal/lead"
)

var leadsCmd = &cobra.Command{
	Use:   "leads",
	Short: "Inspect captured leads",
	Long:  "Commands for listing and viewing leads within a tenant.",
}

// -- leads list --

var leadsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a tenant's leads",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		tenantID, _ := cmd.Flags().GetString("tenant")
		if tenantID == "" {
			return eris.New("leads list: --tenant is required")
		}
		status, _ := cmd.Flags().GetString("status")
		source, _ := cmd.Flags().GetString("source")
		minScore, _ := cmd.Flags().GetInt("min-score")
		limit, _ := cmd.Flags().GetInt("limit")

		leads, err := env.Leads.List(ctx, tenantID, lead.ListFilter{
			Status:   lead.Status(status),
			Source:   lead.Source(source),
			MinScore: minScore,
			Limit:    limit,
		})
		if err != nil {
			return eris.Wrap(err, "leads list")
		}

		if len(leads) == 0 {
			fmt.Fprintln(os.Stderr, "No leads found.")
			return nil
		}

		formatLeadsList(os.Stdout, leads)
		return nil
	},
}

// -- leads get --

var leadsGetCmd = &cobra.Command{
	Use:   "get <lead-id>",
	Short: "Show full details of a lead",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		tenantID, _ := cmd.Flags().GetString("tenant")
		if tenantID == "" {
			return eris.New("leads get: --tenant is required")
		}

		l, err := env.Leads.Get(ctx, tenantID, args[0])
		if err != nil {
			return eris.Wrap(err, "leads get")
		}
		if l == nil {
			return eris.Errorf("leads get: %s not found", args[0])
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(l)
	},
}

// -- leads import --

// importRecord is one contact in a leads import file: a JSON array exported
// from a previous CRM.
type importRecord struct {
	Name       string   `json:"name"`
	Email      string   `json:"email"`
	Phone      string   `json:"phone"`
	Message    string   `json:"message"`
	ProjectIDs []string `json:"projectIds"`
}

// bulkImporter is the optional store capability behind leads import. Only the
// Postgres store implements it.
type bulkImporter interface {
	BulkImport(ctx context.Context, leads []lead.Lead) (int64, error)
}

var leadsImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Bulk-load leads from a JSON export",
	Long: "Reads a JSON array of contacts, normalizes and scores each, and loads them " +
		"in one COPY batch. Contacts whose email or phone already belongs to a lead are skipped.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		tenantID, _ := cmd.Flags().GetString("tenant")
		if tenantID == "" {
			return eris.New("leads import: --tenant is required")
		}
		source, _ := cmd.Flags().GetString("source")
		switch lead.Source(source) {
		case lead.SourceChat, lead.SourceSite, lead.SourceCampaign, lead.SourceAgentDemo:
		default:
			return eris.Errorf("leads import: unknown source %q", source)
		}

		raw, err := os.ReadFile(args[0])
		if err != nil {
			return eris.Wrapf(err, "leads import: read %s", args[0])
		}
		var records []importRecord
		if err := json.Unmarshal(raw, &records); err != nil {
			return eris.Wrap(err, "leads import: parse file")
		}
		if len(records) == 0 {
			fmt.Fprintln(os.Stderr, "Nothing to import.")
			return nil
		}

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		importer, ok := env.Leads.(bulkImporter)
		if !ok {
			return eris.New("leads import: requires the postgres store driver")
		}

		now := time.Now().UTC()
		batch := make([]lead.Lead, 0, len(records))
		for _, rec := range records {
			emailNorm := lead.NormalizeEmail(rec.Email)
			phoneNorm := lead.NormalizePhone(rec.Phone)
			assessment := intent.Score(intent.Input{
				Text:       rec.Message,
				HasEmail:   emailNorm != "",
				HasPhone:   phoneNorm != "",
				ProjectIDs: rec.ProjectIDs,
			})
			batch = append(batch, lead.Lead{
				TenantID:        tenantID,
				Name:            rec.Name,
				Email:           rec.Email,
				EmailNormalized: emailNorm,
				Phone:           rec.Phone,
				PhoneNormalized: phoneNorm,
				Message:         rec.Message,
				Source:          lead.Source(source),
				Status:          lead.StatusNew,
				IntentScore:     assessment.Score,
				IntentFocus:     assessment.Focus,
				IntentReasoning: assessment.Reasoning,
				IntentProjects:  assessment.ProjectIDs,
				IntentAction:    assessment.NextAction,
				Touches:         1,
				LastSeenAt:      now,
				CreatedAt:       now,
				UpdatedAt:       now,
			})
		}

		n, err := importer.BulkImport(ctx, batch)
		if err != nil {
			return eris.Wrap(err, "leads import")
		}
		fmt.Printf("Imported %d of %d leads (%d skipped as existing identities).\n",
			n, len(batch), int64(len(batch))-n)
		return nil
	},
}

func formatLeadsList(w io.Writer, leads []lead.Lead) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tEMAIL\tPHONE\tSOURCE\tSCORE\tACTION\tTOUCHES\tLAST SEEN")
	for _, l := range leads {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%s\t%d\t%s\n",
			l.ID, l.Name, l.EmailNormalized, l.PhoneNormalized,
			l.Source, l.IntentScore, l.IntentAction, l.Touches,
			l.LastSeenAt.Format("2006-01-02 15:04"),
		)
	}
	_ = tw.Flush()
}

func init() {
	leadsListCmd.Flags().String("tenant", "", "tenant id (required)")
	leadsListCmd.Flags().String("status", "", "filter by status (new, contacted, interested, qualified, closed)")
	leadsListCmd.Flags().String("source", "", "filter by source (chat, site, campaign, agent_demo)")
	leadsListCmd.Flags().Int("min-score", 0, "minimum intent score")
	leadsListCmd.Flags().Int("limit", 50, "max number of leads to display")

	leadsGetCmd.Flags().String("tenant", "", "tenant id (required)")

	leadsImportCmd.Flags().String("tenant", "", "tenant id (required)")
	leadsImportCmd.Flags().String("source", "site", "source recorded on imported leads (chat, site, campaign, agent_demo)")

	leadsCmd.AddCommand(leadsListCmd)
	leadsCmd.AddCommand(leadsGetCmd)
	leadsCmd.AddCommand(leadsImportCmd)
	rootCmd.AddCommand(leadsCmd)
}
