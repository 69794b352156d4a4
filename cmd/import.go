package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/prospector/internal/icp"
	"github.com/sells-group/prospector/internal/ingest"
)

var (
	importCampaign string
	importFile     string
	importICPFile  string
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Load prospects or ICP definitions",
}

var importProspectsCmd = &cobra.Command{
	Use:   "prospects",
	Short: "Import discovered prospects from a CSV file into a campaign",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "store")
		if err != nil {
			return err
		}
		defer env.Close()

		camp, err := env.Store.GetCampaign(ctx, importCampaign)
		if err != nil {
			return eris.Wrap(err, "load campaign")
		}
		if camp == nil {
			return eris.Errorf("campaign %s not found", importCampaign)
		}

		f, err := os.Open(importFile)
		if err != nil {
			return eris.Wrapf(err, "open %s", importFile)
		}
		defer f.Close() //nolint:errcheck

		res, err := ingest.ImportCSV(ctx, env.Store, importCampaign, f)
		if err != nil {
			return err
		}
		for _, re := range res.Rejected {
			zap.L().Warn("row rejected", zap.Int("line", re.Line), zap.String("reason", re.Reason))
		}
		zap.L().Info("prospect import complete",
			zap.String("campaign_id", importCampaign),
			zap.Int("rows", res.Rows),
			zap.Int("inserted", res.Inserted),
			zap.Int("duplicates", res.Duplicates),
			zap.Int("rejected", len(res.Rejected)),
		)
		return printJSON(cmd.OutOrStdout(), res)
	},
}

var importICPsCmd = &cobra.Command{
	Use:   "icps",
	Short: "Upsert ICPs and campaigns from a YAML file",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		f, err := icp.Load(importICPFile)
		if err != nil {
			return err
		}

		env, err := initEnv(ctx, "store")
		if err != nil {
			return err
		}
		defer env.Close()

		var cache icp.Invalidator
		if env.Cache != nil {
			cache = env.Cache
		}
		res, err := icp.Import(ctx, env.Store, f, cache)
		if err != nil {
			return err
		}
		zap.L().Info("icp import complete", zap.Int("icps", res.ICPs), zap.Int("campaigns", res.Campaigns))
		return printJSON(cmd.OutOrStdout(), res)
	},
}

func init() {
	importProspectsCmd.Flags().StringVar(&importCampaign, "campaign", "", "campaign id to import into (required)")
	importProspectsCmd.Flags().StringVar(&importFile, "file", "", "path to the prospects CSV (required)")
	_ = importProspectsCmd.MarkFlagRequired("campaign")
	_ = importProspectsCmd.MarkFlagRequired("file")

	importICPsCmd.Flags().StringVar(&importICPFile, "file", "", "path to the ICP YAML file (required)")
	_ = importICPsCmd.MarkFlagRequired("file")

	importCmd.AddCommand(importProspectsCmd, importICPsCmd)
	rootCmd.AddCommand(importCmd)
}
