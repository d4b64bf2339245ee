package main

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/danielliuzy/cold-call-machine/internal/lead"
	"github.com/danielliuzy/cold-call-machine/internal/store"
)

var (
	scoreBusinessID string
	scoreLimit      int
)

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Rescore a business's leads",
	Long: `Recomputes the call-worthiness score for every stored lead of a
business and prints the ranked result. Useful after changing the business
profile or to refresh heuristic scores with the model.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		// Scoring needs no provider keys; the heuristic covers a missing
		// model key.
		env, err := initEnvStoreOnly(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		business, err := env.Store.GetBusiness(ctx, scoreBusinessID)
		if err != nil {
			return eris.Wrap(err, "load business")
		}

		leads, err := env.Store.ListLeads(ctx, store.LeadFilter{
			BusinessID: business.ID,
			Limit:      scoreLimit,
		})
		if err != nil {
			return eris.Wrap(err, "list leads")
		}

		scorer := lead.NewScorer(env.LLM, cfg.Anthropic.HaikuModel)
		for i := range leads {
			res := scorer.Score(ctx, leads[i], lead.CityMatch(leads[i], business.ServiceArea))
			if err := env.Store.UpdateLeadScore(ctx, leads[i].ID, res.Score); err != nil {
				zap.L().Warn("score write failed",
					zap.String("lead_id", leads[i].ID),
					zap.Error(err),
				)
				continue
			}
			leads[i].Score = res.Score
		}

		sort.Slice(leads, func(i, j int) bool { return leads[i].Score > leads[j].Score })

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SCORE\tNAME\tCITY\tPHONE\tSTATUS")
		for _, l := range leads {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", l.Score, l.Name, l.City, l.Phone, l.Status)
		}
		return w.Flush()
	},
}

func init() {
	scoreCmd.Flags().StringVar(&scoreBusinessID, "business-id", "", "business whose leads to rescore (required)")
	scoreCmd.Flags().IntVar(&scoreLimit, "limit", 0, "max leads to rescore (default from store)")
	_ = scoreCmd.MarkFlagRequired("business-id")
	rootCmd.AddCommand(scoreCmd)
}
