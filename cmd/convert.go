package main

import (
	"github.com/spf13/cobra"
)

var (
	convertTeam      string
	convertProspects []string
)

var convertCmd = &cobra.Command{
	Use:   "convert",
	Short: "Convert qualified prospects into leads",
	Long:  "Converts prospects that are qualified, or enriched with an ICP match score of at least 0.75, into leads. When salesforce.sync_leads is set the leads are also pushed to Salesforce.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "store")
		if err != nil {
			return err
		}
		defer env.Close()

		if len(convertProspects) == 1 {
			res, err := env.Convert.ConvertProspectToLead(ctx, convertProspects[0], convertTeam)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		}
		return printJSON(cmd.OutOrStdout(), env.Convert.BatchConvertProspects(ctx, convertProspects, convertTeam))
	},
}

func init() {
	convertCmd.Flags().StringVar(&convertTeam, "team", "", "team id owning the prospects (required)")
	convertCmd.Flags().StringSliceVar(&convertProspects, "prospect", nil, "prospect id(s) to convert (required)")
	_ = convertCmd.MarkFlagRequired("team")
	_ = convertCmd.MarkFlagRequired("prospect")
	rootCmd.AddCommand(convertCmd)
}
