package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/danielliuzy/cold-call-machine/internal/call"
	"github.com/danielliuzy/cold-call-machine/internal/classify"
	"github.com/danielliuzy/cold-call-machine/internal/server"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server and webhook receiver",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		machine := call.NewMachine(
			env.Store,
			call.NewOutcomeClassifier(env.LLM, cfg.Anthropic.HaikuModel),
			call.WithCostPerMinute(cfg.Calls.CostPerMinute),
		)
		classifier := classify.New(env.LLM, cfg.Anthropic.Model)

		srv := server.New(env.Store, machine, env.newDiscoverer(), classifier, env.Vapi,
			server.WithAllowedOrigins(cfg.Server.AllowedOrigins),
			server.WithWebhookSecret(cfg.Vapi.WebhookSecret),
		)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		return srv.ListenAndServe(ctx, port)
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
