package main

import (
	"slices"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/store"
)

var (
	leadsID       string
	leadsStatus   string
	leadsCampaign string
	leadsLimit    int
)

var leadsCmd = &cobra.Command{
	Use:   "leads",
	Short: "Inspect and update leads",
}

var leadsSetStatusCmd = &cobra.Command{
	Use:   "set-status",
	Short: "Move a lead along the lifecycle (e.g. REPLIED, REJECTED, BOUNCED)",
	RunE: func(cmd *cobra.Command, args []string) error {
		to, err := parseLeadStatus(leadsStatus)
		if err != nil {
			return err
		}

		env, err := initEnv(cmd.Context(), "store")
		if err != nil {
			return err
		}
		defer env.Close()

		l, err := env.Leads.Transition(cmd.Context(), leadsID, to)
		if err != nil {
			return err
		}
		return printJSON(l)
	},
}

var leadsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List leads of a campaign",
	RunE: func(cmd *cobra.Command, args []string) error {
		filter := store.LeadFilter{CampaignID: leadsCampaign, Limit: leadsLimit}
		if leadsStatus != "" {
			s, err := parseLeadStatus(leadsStatus)
			if err != nil {
				return err
			}
			filter.Status = s
		}

		env, err := initEnv(cmd.Context(), "store")
		if err != nil {
			return err
		}
		defer env.Close()

		leads, err := env.Store.ListLeads(cmd.Context(), filter)
		if err != nil {
			return err
		}
		return printJSON(leads)
	},
}

func parseLeadStatus(s string) (model.LeadStatus, error) {
	st := model.LeadStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !slices.Contains(model.AllLeadStatuses, st) {
		return "", eris.Errorf("unknown lead status %q", s)
	}
	return st, nil
}

func init() {
	leadsSetStatusCmd.Flags().StringVar(&leadsID, "lead", "", "lead id (required)")
	leadsSetStatusCmd.Flags().StringVar(&leadsStatus, "status", "", "target status (required)")
	_ = leadsSetStatusCmd.MarkFlagRequired("lead")
	_ = leadsSetStatusCmd.MarkFlagRequired("status")

	leadsListCmd.Flags().StringVar(&leadsCampaign, "campaign", "", "campaign id")
	leadsListCmd.Flags().StringVar(&leadsStatus, "status", "", "only leads in this status")
	leadsListCmd.Flags().IntVar(&leadsLimit, "limit", 100, "max leads")

	leadsCmd.AddCommand(leadsSetStatusCmd, leadsListCmd)
	rootCmd.AddCommand(leadsCmd)
}
