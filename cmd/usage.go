package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/lead-intake/internal/plan"
)

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Inspect tenant usage against plan limits",
}

var usageShowCmd = &cobra.Command{
	Use:   "show <tenant-id>",
	Short: "Show a tenant's current-period usage",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		tenantID := args[0]
		res, err := env.Plans.Resolve(ctx, tenantID)
		if err != nil {
			return eris.Wrap(err, "usage show")
		}

		fmt.Printf("Tenant:  %s\nPlan:    %s (%s)\nPeriod:  %s\n\n",
			tenantID, res.Plan.Name, res.Status, env.Quotas.Period())

		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "METRIC\tUSED\tLIMIT")
		for _, metric := range []string{
			plan.MetricAIConversations,
			plan.MetricEmailSends,
			plan.MetricSMSSends,
			plan.MetricLeadCaptures,
		} {
			used, usageErr := env.Quotas.Usage(ctx, tenantID, metric)
			if usageErr != nil {
				return eris.Wrap(usageErr, "usage show")
			}
			fmt.Fprintf(tw, "%s\t%d\t%s\n", metric, used, formatLimit(res.Plan.Limit(metric)))
		}
		return tw.Flush()
	},
}

func formatLimit(lim *int64) string {
	if lim == nil {
		return "unlimited"
	}
	return fmt.Sprintf("%d", *lim)
}

func init() {
	usageCmd.AddCommand(usageShowCmd)
	rootCmd.AddCommand(usageCmd)
}
