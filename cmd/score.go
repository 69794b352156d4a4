package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	scoreTeam      string
	scoreProspects []string
	scoreCampaigns []string
	scoreMaxCount  int
)

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Score prospects against their campaign's ICP",
	Long:  "Scores the given prospects, or up to --max-count prospects still in status new from each given campaign through the batch optimizer.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if len(scoreProspects) == 0 && len(scoreCampaigns) == 0 {
			return eris.New("one of --prospect or --campaign is required")
		}
		if len(scoreProspects) > 0 && len(scoreCampaigns) > 0 {
			return eris.New("--prospect and --campaign are mutually exclusive")
		}

		env, err := initEnv(ctx, "score")
		if err != nil {
			return err
		}
		defer env.Close()
		if env.Engine == nil {
			return eris.New("scoring is not configured (PROSPECTOR_EMBEDDINGS_KEY and PROSPECTOR_VECTOR_INDEX_HOST)")
		}

		out := cmd.OutOrStdout()
		switch {
		case len(scoreProspects) == 1:
			res, err := env.Engine.ScoreProspect(ctx, scoreProspects[0], scoreTeam)
			if err != nil {
				return err
			}
			return printJSON(out, res)
		case len(scoreProspects) > 1:
			return printJSON(out, env.Engine.BatchScoreProspects(ctx, scoreProspects, scoreTeam))
		}

		maxCount := scoreMaxCount
		if maxCount <= 0 {
			maxCount = cfg.Scoring.BatchMaxCount
		}
		if len(scoreCampaigns) == 1 {
			res, err := env.Optimizer.ScoreBatch(ctx, scoreCampaigns[0], scoreTeam, maxCount)
			if err != nil {
				return err
			}
			return printJSON(out, res)
		}

		outcomes := env.Optimizer.ScoreCampaigns(ctx, scoreCampaigns, scoreTeam, maxCount, cfg.Scoring.MaxConcurrent)
		failed := 0
		for _, o := range outcomes {
			if o.Error != "" {
				failed++
			}
		}
		zap.L().Info("campaign scoring complete",
			zap.Int("campaigns", len(outcomes)),
			zap.Int("failed", failed),
		)
		return printJSON(out, outcomes)
	},
}

func init() {
	scoreCmd.Flags().StringVar(&scoreTeam, "team", "", "team id owning the prospects (required)")
	scoreCmd.Flags().StringSliceVar(&scoreProspects, "prospect", nil, "prospect id(s) to score")
	scoreCmd.Flags().StringSliceVar(&scoreCampaigns, "campaign", nil, "campaign id(s) to batch score")
	scoreCmd.Flags().IntVar(&scoreMaxCount, "max-count", 0, "max prospects per campaign (default from config)")
	_ = scoreCmd.MarkFlagRequired("team")
	rootCmd.AddCommand(scoreCmd)
}
