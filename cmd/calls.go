package main

import (
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/danielliuzy/cold-call-machine/internal/call"
	"github.com/danielliuzy/cold-call-machine/internal/script"
)

var callsBusinessID string

var callsCmd = &cobra.Command{
	Use:   "calls",
	Short: "Place outbound calls to the business's top-scoring leads",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "calls")
		if err != nil {
			return err
		}
		defer env.Close()

		gen := script.NewGenerator(env.LLM, cfg.Anthropic.Model)
		orch := call.NewOrchestrator(env.Store, env.Vapi, gen, call.OrchestratorConfig{
			PhoneNumberID:   cfg.Vapi.PhoneNumberID,
			AssistantModel:  cfg.Anthropic.Model,
			Voice:           cfg.Vapi.Voice,
			PacingPerMinute: cfg.Calls.PacingPerMinute,
		})

		results, err := orch.StartCalls(ctx, callsBusinessID)
		if err != nil {
			return eris.Wrap(err, "start calls")
		}

		byStatus := map[string]int{}
		for _, r := range results {
			byStatus[r.Status]++
			zap.L().Info("call result",
				zap.String("lead_id", r.LeadID),
				zap.String("provider_call_id", r.ProviderCallID),
				zap.String("status", r.Status),
			)
		}
		zap.L().Info("calling run complete",
			zap.String("business_id", callsBusinessID),
			zap.Int("leads", len(results)),
			zap.Any("by_status", byStatus),
		)
		return nil
	},
}

func init() {
	callsCmd.Flags().StringVar(&callsBusinessID, "business-id", "", "business to call for (required)")
	_ = callsCmd.MarkFlagRequired("business-id")
	rootCmd.AddCommand(callsCmd)
}
