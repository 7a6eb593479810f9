package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/sells-group/outreach-cli/internal/outreach"
)

var (
	queueLead     string
	queueEmail    string
	queueTemplate string
	queueAt       string
	queueCampaign string
	queueLimit    int
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Queue outreach messages",
}

var queueEnqueueCmd = &cobra.Command{
	Use:   "enqueue",
	Short: "Render a template for one lead and queue it",
	RunE: func(cmd *cobra.Command, args []string) error {
		at, err := parseTime(queueAt, time.Now())
		if err != nil {
			return err
		}

		env, err := initEnv(cmd.Context(), "store")
		if err != nil {
			return err
		}
		defer env.Close()

		item, err := env.Queue.Enqueue(cmd.Context(), outreach.EnqueueRequest{
			LeadID:       queueLead,
			EmailID:      queueEmail,
			TemplateID:   queueTemplate,
			ScheduledFor: at,
		})
		if err != nil {
			return err
		}
		return printJSON(item)
	},
}

var queueReadyCmd = &cobra.Command{
	Use:   "ready",
	Short: "Queue the main message for every READY lead of a campaign",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), "store")
		if err != nil {
			return err
		}
		defer env.Close()

		sum, err := env.Queue.EnqueueReady(cmd.Context(), queueCampaign, queueTemplate, queueLimit)
		if err != nil {
			return err
		}
		return printJSON(sum)
	},
}

var queueStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show queue counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), "store")
		if err != nil {
			return err
		}
		defer env.Close()

		st, err := env.Queue.Stats(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(st)
	},
}

func init() {
	queueEnqueueCmd.Flags().StringVar(&queueLead, "lead", "", "lead id (required)")
	queueEnqueueCmd.Flags().StringVar(&queueEmail, "email", "", "email id (default: best address)")
	queueEnqueueCmd.Flags().StringVar(&queueTemplate, "template", "", "template id (required)")
	queueEnqueueCmd.Flags().StringVar(&queueAt, "at", "", "send time: RFC 3339, YYYY-MM-DD or a duration from now")
	_ = queueEnqueueCmd.MarkFlagRequired("lead")
	_ = queueEnqueueCmd.MarkFlagRequired("template")

	queueReadyCmd.Flags().StringVar(&queueCampaign, "campaign", "", "campaign id (required)")
	queueReadyCmd.Flags().StringVar(&queueTemplate, "template", "", "main template id (required)")
	queueReadyCmd.Flags().IntVar(&queueLimit, "limit", 100, "max leads to queue")
	_ = queueReadyCmd.MarkFlagRequired("campaign")
	_ = queueReadyCmd.MarkFlagRequired("template")

	queueCmd.AddCommand(queueEnqueueCmd, queueReadyCmd, queueStatsCmd)
	rootCmd.AddCommand(queueCmd)
}
