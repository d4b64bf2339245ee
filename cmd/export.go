package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/danielliuzy/cold-call-machine/internal/model"
	"github.com/danielliuzy/cold-call-machine/internal/store"
	"github.com/danielliuzy/cold-call-machine/pkg/notion"
)

var (
	exportBusinessID string
	exportMinScore   int
	exportStatus     string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export leads to a Notion database",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("export"); err != nil {
			return err
		}

		env, err := initEnvStoreOnly(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		leads, err := env.Store.ListLeads(ctx, store.LeadFilter{
			BusinessID: exportBusinessID,
			MinScore:   exportMinScore,
			Status:     model.LeadStatus(exportStatus),
		})
		if err != nil {
			return eris.Wrap(err, "list leads")
		}
		if len(leads) == 0 {
			zap.L().Info("nothing to export", zap.String("business_id", exportBusinessID))
			return nil
		}

		client := notion.NewClient(cfg.Notion.Token)
		created, err := notion.ExportLeads(ctx, client, cfg.Notion.LeadDB, leads)
		if err != nil {
			return eris.Wrap(err, "export leads")
		}

		zap.L().Info("export complete",
			zap.Int("created", created),
			zap.Int("total", len(leads)),
		)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportBusinessID, "business-id", "", "business whose leads to export (required)")
	exportCmd.Flags().IntVar(&exportMinScore, "min-score", 0, "only export leads at or above this score")
	exportCmd.Flags().StringVar(&exportStatus, "status", "", "only export leads with this status")
	_ = exportCmd.MarkFlagRequired("business-id")
	rootCmd.AddCommand(exportCmd)
}
