package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var quotaCampaign string

var quotaCmd = &cobra.Command{
	Use:   "quota",
	Short: "Inspect or reset daily campaign quotas",
}

var quotaShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show today's counters for a campaign",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), "store")
		if err != nil {
			return err
		}
		defer env.Close()

		st, err := env.Quota.TodayStats(cmd.Context(), quotaCampaign)
		if err != nil {
			return err
		}
		return printJSON(st)
	},
}

var quotaResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Zero today's counters for a campaign",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), "store")
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Quota.Reset(cmd.Context(), quotaCampaign); err != nil {
			return err
		}
		fmt.Printf("reset counters for %s\n", quotaCampaign)
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{quotaShowCmd, quotaResetCmd} {
		c.Flags().StringVar(&quotaCampaign, "campaign", "", "campaign id (required)")
		_ = c.MarkFlagRequired("campaign")
	}
	quotaCmd.AddCommand(quotaShowCmd, quotaResetCmd)
	rootCmd.AddCommand(quotaCmd)
}
