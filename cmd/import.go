package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/danielliuzy/cold-call-machine/internal/importer"
	"github.com/danielliuzy/cold-call-machine/internal/lead"
)

var (
	importPath       string
	importBusinessID string
	importSheet      string
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import leads from an XLSX file",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		// Imports need no provider keys, only the store.
		env, err := initEnvStoreOnly(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		im := importer.New(env.Store, lead.NewScorer(env.LLM, cfg.Anthropic.HaikuModel))
		report, err := im.ImportXLSX(ctx, importPath, importBusinessID, importer.Options{
			SheetName: importSheet,
		})
		if err != nil {
			return eris.Wrap(err, "import xlsx")
		}

		zap.L().Info("import complete",
			zap.String("path", importPath),
			zap.Int("imported", report.Imported),
			zap.Int("skipped", len(report.Skipped)),
		)
		for _, sk := range report.Skipped {
			zap.L().Warn("row skipped", zap.Int("row", sk.Row), zap.String("reason", sk.Reason))
		}
		return nil
	},
}

func init() {
	importCmd.Flags().StringVar(&importPath, "file", "", "path to XLSX file (required)")
	importCmd.Flags().StringVar(&importBusinessID, "business-id", "", "business to attach leads to (required)")
	importCmd.Flags().StringVar(&importSheet, "sheet", "", "sheet name (default: first sheet)")
	_ = importCmd.MarkFlagRequired("file")
	_ = importCmd.MarkFlagRequired("business-id")
	rootCmd.AddCommand(importCmd)
}
