package main

import (
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/cost"
	"github.com/sells-group/outreach-cli/internal/discovery"
	"github.com/sells-group/outreach-cli/internal/extract"
	"github.com/sells-group/outreach-cli/internal/pipeline"
	"github.com/sells-group/outreach-cli/internal/resilience"
	"github.com/sells-group/outreach-cli/internal/scorer"
	"github.com/sells-group/outreach-cli/internal/verify"
	"github.com/sells-group/outreach-cli/pkg/anthropic"
	"github.com/sells-group/outreach-cli/pkg/jina"
)

var (
	ingestCampaign string
	ingestDomains  []string
	ingestFile     string
	ingestSearch   []string
	ingestCountry  string
	ingestLimit    int
	ingestResults  bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Run candidates through exclusion, verification and email discovery",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if len(ingestDomains) == 0 && ingestFile == "" && len(ingestSearch) == 0 {
			return eris.New("one of --domain, --file or --search is required")
		}

		env, err := initEnv(ctx, "ingest")
		if err != nil {
			return err
		}
		defer env.Close()

		campaign, err := env.Store.GetCampaign(ctx, ingestCampaign)
		if err != nil {
			return err
		}

		meter := cost.NewMeter(cost.NewCalculator(cost.DefaultRates()))
		defer meter.Log("ingest")

		reader := meter.Reader(jina.NewClient(cfg.Jina.Key,
			jina.WithBaseURL(cfg.Jina.BaseURL),
			jina.WithSearchBaseURL(cfg.Jina.SearchBaseURL),
		))

		candidates, err := gatherCandidates(cmd, reader)
		if err != nil {
			return err
		}
		if len(candidates) == 0 {
			zap.L().Info("no candidates to ingest")
			return nil
		}

		var ai anthropic.Client
		if cfg.Anthropic.Key != "" {
			ai = meter.Claude(anthropic.NewClient(cfg.Anthropic.Key))
		}
		verifier, err := verify.New(cfg.Verify, reader, ai, cfg.Anthropic.Model, campaign.Keywords)
		if err != nil {
			return err
		}

		intake := pipeline.New(pipeline.Deps{
			Store:     env.Store,
			Guard:     env.Guard,
			Leads:     env.Leads,
			Quota:     env.Quota,
			Scorer:    scorer.New(cfg.Scoring),
			Verifier:  verifier,
			Extractor: extract.New(reader, nil),
			Metrics:   env.Metrics,
		}, cfg.Pipeline)

		results, summary, err := intake.RunBatch(ctx, campaign.ID, candidates)
		if err != nil {
			return err
		}
		if ingestResults {
			return printJSON(results)
		}
		return printJSON(summary)
	},
}

func gatherCandidates(cmd *cobra.Command, reader jina.Client) ([]pipeline.Candidate, error) {
	var out []pipeline.Candidate
	for _, d := range ingestDomains {
		out = append(out, pipeline.Candidate{Domain: d, SourceType: discovery.SourceManual})
	}

	if ingestFile != "" {
		f, err := os.Open(ingestFile)
		if err != nil {
			return nil, eris.Wrapf(err, "open %s", ingestFile)
		}
		defer f.Close() //nolint:errcheck
		found, err := discovery.ReadCandidates(f, filepath.Base(ingestFile))
		if err != nil {
			return nil, err
		}
		out = append(out, found...)
	}

	if len(ingestSearch) > 0 {
		queries := make([]discovery.Query, len(ingestSearch))
		for i, q := range ingestSearch {
			queries[i] = discovery.Query{Text: q, Country: ingestCountry, Limit: ingestLimit}
		}
		search := discovery.NewSearch(reader, resilience.BreakerConfigFrom(3, 60))
		found, err := search.Find(cmd.Context(), queries)
		if err != nil {
			return nil, err
		}
		out = append(out, found...)
	}
	return out, nil
}

func init() {
	ingestCmd.Flags().StringVar(&ingestCampaign, "campaign", "", "campaign id (required)")
	ingestCmd.Flags().StringSliceVar(&ingestDomains, "domain", nil, "domain or URL to ingest (repeatable)")
	ingestCmd.Flags().StringVar(&ingestFile, "file", "", "file with one domain or URL per line")
	ingestCmd.Flags().StringArrayVar(&ingestSearch, "search", nil, "web search query (repeatable)")
	ingestCmd.Flags().StringVar(&ingestCountry, "country", "", "two-letter country code for searches")
	ingestCmd.Flags().IntVar(&ingestLimit, "limit", 0, "max new candidates per search query (0 = all)")
	ingestCmd.Flags().BoolVar(&ingestResults, "results", false, "print per-candidate results instead of the summary")
	_ = ingestCmd.MarkFlagRequired("campaign")
	rootCmd.AddCommand(ingestCmd)
}
