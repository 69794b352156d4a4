package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/prospector/internal/enrich"
)

var (
	enrichTeam      string
	enrichProspects []string
	enrichProvider  string
)

var enrichCmd = &cobra.Command{
	Use:   "enrich",
	Short: "Enrich prospects through Apollo or Hunter",
	Long:  "Enriches one or more prospects. High-value prospects try Apollo first; others try Hunter first, falling back to the other provider on failure. --provider forces a single provider with no fallback.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "enrich")
		if err != nil {
			return err
		}
		defer env.Close()
		if env.Enrich == nil {
			return eris.New("enrichment is not configured (PROSPECTOR_APOLLO_KEY or PROSPECTOR_HUNTER_KEY)")
		}

		opts := enrich.Options{ForceProvider: enrichProvider}
		if len(enrichProspects) == 1 {
			out, err := env.Enrich.EnrichAndSave(ctx, enrichProspects[0], enrichTeam, opts)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		}
		return printJSON(cmd.OutOrStdout(), env.Enrich.EnrichBatch(ctx, enrichProspects, enrichTeam, opts))
	},
}

func init() {
	enrichCmd.Flags().StringVar(&enrichTeam, "team", "", "team id owning the prospects (required)")
	enrichCmd.Flags().StringSliceVar(&enrichProspects, "prospect", nil, "prospect id(s) to enrich (required)")
	enrichCmd.Flags().StringVar(&enrichProvider, "provider", "", "force a provider: apollo or hunter")
	_ = enrichCmd.MarkFlagRequired("team")
	_ = enrichCmd.MarkFlagRequired("prospect")
	rootCmd.AddCommand(enrichCmd)
}
