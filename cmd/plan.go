package main

import (
	"github.com/spf13/cobra"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/plan"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Manage brands, campaigns and templates",
}

var planLoadCmd = &cobra.Command{
	Use:   "load <file>",
	Short: "Upsert brands, campaigns and templates from a YAML plan",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := plan.LoadFile(args[0])
		if err != nil {
			return err
		}

		env, err := initEnv(cmd.Context(), "store")
		if err != nil {
			return err
		}
		defer env.Close()

		sum, err := p.Apply(cmd.Context(), env.Store, model.CampaignLimits{
			DailySendLimit:     cfg.Quota.DailySendLimit,
			DailyProspectLimit: cfg.Quota.DailyProspectLimit,
			DailyEmailLimit:    cfg.Quota.DailyEmailLimit,
		})
		if err != nil {
			return err
		}
		return printJSON(sum)
	},
}

var planCheckCmd = &cobra.Command{
	Use:   "check <file>",
	Short: "Validate a plan and list unknown template placeholders",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := plan.LoadFile(args[0])
		if err != nil {
			return err
		}
		return printJSON(map[string]any{
			"brands":            len(p.Brands),
			"campaigns":         len(p.Campaigns),
			"templates":         len(p.Templates),
			"unknown_variables": p.UnknownVariables(),
		})
	},
}

func init() {
	planCmd.AddCommand(planLoadCmd, planCheckCmd)
	rootCmd.AddCommand(planCmd)
}
