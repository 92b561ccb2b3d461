package main

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/lead-intake/internal/jobs"
)

var campaignCmd = &cobra.Command{
	Use:   "campaign",
	Short: "Manage campaign dispatch jobs",
}

var campaignEnqueueCmd = &cobra.Command{
	Use:   "enqueue",
	Short: "Queue a campaign dispatch job",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if err := migrateStores(ctx, env); err != nil {
			return err
		}

		tenantID, _ := cmd.Flags().GetString("tenant")
		campaignID, _ := cmd.Flags().GetString("campaign")
		channel, _ := cmd.Flags().GetString("channel")
		message, _ := cmd.Flags().GetString("message")
		minScore, _ := cmd.Flags().GetInt("min-score")

		if tenantID == "" || campaignID == "" || message == "" {
			return eris.New("campaign enqueue: --tenant, --campaign, and --message are required")
		}
		if channel != "email" && channel != "sms" {
			return eris.Errorf("campaign enqueue: unknown channel %q", channel)
		}

		payload, err := json.Marshal(jobs.CampaignPayload{
			CampaignID: campaignID,
			Channel:    channel,
			Message:    message,
			MinScore:   minScore,
		})
		if err != nil {
			return eris.Wrap(err, "campaign enqueue: encode payload")
		}

		j := &jobs.Job{
			ID:       uuid.NewString(),
			TenantID: tenantID,
			Kind:     jobs.KindCampaignDispatch,
			Payload:  payload,
		}
		if err := env.Jobs.Enqueue(ctx, j); err != nil {
			return err
		}

		fmt.Printf("queued %s\n", j.ID)
		return nil
	},
}

var campaignCancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a queued campaign dispatch job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Jobs.Cancel(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("cancelled %s\n", args[0])
		return nil
	},
}

var campaignStatusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show a campaign dispatch job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		j, err := env.Jobs.Get(ctx, args[0])
		if err != nil {
			return err
		}
		if j == nil {
			return eris.Errorf("campaign status: %s not found", args[0])
		}

		fmt.Printf("ID:        %s\nTenant:    %s\nStatus:    %s\nAttempts:  %d\n",
			j.ID, j.TenantID, j.Status, j.Attempts)
		if j.LastError != "" {
			fmt.Printf("Error:     %s\n", j.LastError)
		}
		return nil
	},
}

func init() {
	campaignEnqueueCmd.Flags().String("tenant", "", "tenant id (required)")
	campaignEnqueueCmd.Flags().String("campaign", "", "campaign id (required)")
	campaignEnqueueCmd.Flags().String("channel", "email", "delivery channel (email or sms)")
	campaignEnqueueCmd.Flags().String("message", "", "message body (required)")
	campaignEnqueueCmd.Flags().Int("min-score", 0, "minimum intent score of targeted leads")

	campaignCmd.AddCommand(campaignEnqueueCmd)
	campaignCmd.AddCommand(campaignCancelCmd)
	campaignCmd.AddCommand(campaignStatusCmd)
	rootCmd.AddCommand(campaignCmd)
}
