package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/lead-intake/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "lead-intake",
	Short: "Multi-tenant inbound lead intake pipeline",
	Long:  "Ingests contact signals from chat, site forms, campaigns, and agent demos; resolves them to canonical leads, scores intent, and enforces plan quotas and rate limits.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
