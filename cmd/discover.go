package main

import (
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/danielliuzy/cold-call-machine/internal/classify"
	"github.com/danielliuzy/cold-call-machine/internal/model"
)

var (
	discoverURL        string
	discoverBusinessID string
	discoverTarget     int
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Discover and score leads for a business",
	Long: `Finds local businesses matching the client's ideal customer profile,
dedups them against previously discovered leads, scores each one, and stores
the results.

With --url the business is first profiled from its website and created; with
--business-id an existing business is reused.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if discoverURL == "" && discoverBusinessID == "" {
			return eris.New("either --url or --business-id is required")
		}

		env, err := initEnv(ctx, "discover")
		if err != nil {
			return err
		}
		defer env.Close()

		var business *model.Business
		if discoverBusinessID != "" {
			business, err = env.Store.GetBusiness(ctx, discoverBusinessID)
			if err != nil {
				return eris.Wrap(err, "load business")
			}
		} else {
			profile := classify.New(env.LLM, cfg.Anthropic.Model).Classify(ctx, discoverURL)
			business, err = env.Store.CreateBusiness(ctx, profile)
			if err != nil {
				return eris.Wrap(err, "create business")
			}
			if err := env.Store.PutSettings(ctx, settingsFromConfig(business.ID)); err != nil {
				return eris.Wrap(err, "seed settings")
			}
			zap.L().Info("business profiled",
				zap.String("business_id", business.ID),
				zap.String("name", business.Name),
				zap.String("category", business.Category),
				zap.Strings("service_area", business.ServiceArea),
			)
		}

		if discoverTarget > 0 {
			cfg.Discovery.TargetLeads = discoverTarget
		}
		d := env.newDiscoverer()

		result, err := d.Discover(ctx, business, func(l model.Lead) {
			zap.L().Info("lead stored",
				zap.String("name", l.Name),
				zap.String("phone", l.Phone),
				zap.String("city", l.City),
				zap.Int("score", l.Score),
			)
		})
		if err != nil {
			return eris.Wrap(err, "discover")
		}

		zap.L().Info("discovery complete",
			zap.String("business_id", business.ID),
			zap.Int("stored", len(result.Leads)),
			zap.Int("found", result.TotalFound),
			zap.Int("failed", len(result.Failed)),
		)
		for _, f := range result.Failed {
			zap.L().Warn("discovery item failed",
				zap.String("provider", f.Provider),
				zap.String("query", f.Query),
				zap.String("reason", f.Reason),
			)
		}
		return nil
	},
}

func init() {
	discoverCmd.Flags().StringVar(&discoverURL, "url", "", "business website to profile and discover for")
	discoverCmd.Flags().StringVar(&discoverBusinessID, "business-id", "", "existing business id")
	discoverCmd.Flags().IntVar(&discoverTarget, "target", 0, "lead target (default from config)")
	rootCmd.AddCommand(discoverCmd)
}
