package main

import (
	"time"

	"github.com/spf13/cobra"
)

var (
	followupsSince string
	followupsLead  string
)

var followupsCmd = &cobra.Command{
	Use:   "followups",
	Short: "Schedule or cancel follow-up messages",
}

var followupsSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Chain follow-ups for recently sent initial messages",
	RunE: func(cmd *cobra.Command, args []string) error {
		since, err := parseTime(followupsSince, time.Now())
		if err != nil {
			return err
		}

		env, err := initEnv(cmd.Context(), "store")
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.FollowUps.Sweep(cmd.Context(), since)
		if err != nil {
			return err
		}
		return printJSON(res)
	},
}

var followupsCancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Remove a lead's pending follow-ups",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), "store")
		if err != nil {
			return err
		}
		defer env.Close()

		n, err := env.FollowUps.CancelFollowUps(cmd.Context(), followupsLead)
		if err != nil {
			return err
		}
		return printJSON(map[string]any{"lead_id": followupsLead, "cancelled": n})
	},
}

func init() {
	followupsSweepCmd.Flags().StringVar(&followupsSince, "since", "", "window start: RFC 3339, YYYY-MM-DD or a negative duration (default from config)")
	followupsCancelCmd.Flags().StringVar(&followupsLead, "lead", "", "lead id (required)")
	_ = followupsCancelCmd.MarkFlagRequired("lead")
	followupsCmd.AddCommand(followupsSweepCmd, followupsCancelCmd)
	rootCmd.AddCommand(followupsCmd)
}
