package batch

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// CampaignOutcome is the result of scoring one campaign in ScoreCampaigns.
type CampaignOutcome struct {
	CampaignID string  `json:"campaign_id"`
	Result     *Result `json:"result,omitempty"`
	Error      string  `json:"error,omitempty"`
}

// ScoreCampaigns runs ScoreBatch over several campaigns, at most concurrency
// at a time. A campaign that fails to resolve is reported, not fatal.
func (o *Optimizer) ScoreCampaigns(ctx context.Context, campaignIDs []string, teamID string, maxCount, concurrency int) []CampaignOutcome {
	if concurrency <= 0 {
		concurrency = 1
	}
	out := make([]CampaignOutcome, len(campaignIDs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, id := range campaignIDs {
		g.Go(func() error {
			res, err := o.ScoreBatch(gctx, id, teamID, maxCount)
			out[i] = CampaignOutcome{CampaignID: id, Result: res}
			if err != nil {
				zap.L().Warn("batch: campaign failed",
					zap.String("campaign_id", id),
					zap.String("team_id", teamID),
					zap.Error(err),
				)
				out[i].Error = err.Error()
			}
			return nil
		})
	}
	_ = g.Wait()
	return out
}
