// Package batch scores many prospects of a campaign at once, amortizing the
// embedding and vector-index calls, with a bounded-concurrency fallback.
package batch

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/prospector/internal/model"
	"github.com/sells-group/prospector/internal/scoring"
)

// Defaults for ScoreBatch.
const (
	DefaultMaxCount    = 100
	DefaultChunkSize   = 10
	DefaultConcurrency = 10
)

// Modes reported in Result.Mode.
const (
	ModeOptimized  = "optimized"
	ModeSequential = "sequential"
)

// Engine is the single-prospect scoring surface the optimizer builds on.
type Engine interface {
	ScoreProspect(ctx context.Context, prospectID, teamID string) (*scoring.Result, error)
	Evaluate(p *model.Prospect, icp *model.ICP, embedding, icpVector []float32) (scoring.Result, model.ScoreUpdate)
	LoadCampaign(ctx context.Context, campaignID, teamID string) (*model.Campaign, error)
	LoadICP(ctx context.Context, c *model.Campaign) (*model.ICP, error)
	ICPVector(ctx context.Context, teamID, icpID string) ([]float32, error)
}

// Store is the persistence the optimizer needs.
type Store interface {
	ListProspectsByStatus(ctx context.Context, campaignID string, status model.ProspectStatus, limit int) ([]model.Prospect, error)
	ApplyScores(ctx context.Context, campaignID string, updates []model.ScoreUpdate) (int, error)
}

// Embedder produces embeddings for many texts in one call, in input order.
type Embedder interface {
	GenerateBatchEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
}

// Breakdown counts scored prospects per tier.
type Breakdown struct {
	Hot       int `json:"hot"`
	Qualified int `json:"qualified"`
	Warm      int `json:"warm"`
	Discard   int `json:"discard"`
}

func (b *Breakdown) add(t scoring.Tier) {
	switch t {
	case scoring.TierHot:
		b.Hot++
	case scoring.TierQualified:
		b.Qualified++
	case scoring.TierWarm:
		b.Warm++
	default:
		b.Discard++
	}
}

// ItemError is one prospect that failed to score.
type ItemError struct {
	ProspectID string `json:"prospect_id"`
	Error      string `json:"error"`
}

// Result summarizes a batch run. Qualified counts prospects that persisted a
// score at or above the qualification threshold.
type Result struct {
	CampaignID string      `json:"campaign_id"`
	Processed  int         `json:"processed"`
	Qualified  int         `json:"qualified"`
	AvgScore   float64     `json:"avg_score"`
	Breakdown  Breakdown   `json:"breakdown"`
	Errors     []ItemError `json:"errors"`
	Mode       string      `json:"mode"`
}

// Option configures an Optimizer.
type Option func(*Optimizer)

// WithChunkSize sets the fallback chunk size.
func WithChunkSize(n int) Option {
	return func(o *Optimizer) {
		if n > 0 {
			o.chunkSize = n
		}
	}
}

// WithConcurrency bounds concurrent scoring within a fallback chunk.
func WithConcurrency(n int) Option {
	return func(o *Optimizer) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// Optimizer scores the new prospects of a campaign in bulk.
type Optimizer struct {
	engine      Engine
	store       Store
	embedder    Embedder
	chunkSize   int
	concurrency int
}

// NewOptimizer creates a batch optimizer.
func NewOptimizer(engine Engine, store Store, embedder Embedder, opts ...Option) *Optimizer {
	o := &Optimizer{
		engine:      engine,
		store:       store,
		embedder:    embedder,
		chunkSize:   DefaultChunkSize,
		concurrency: DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ScoreBatch scores up to maxCount new prospects of the campaign (maxCount
// <= 0 means DefaultMaxCount). It tries one embedding batch, one ICP vector
// fetch and one transaction; if any of that fails it rescores prospect by
// prospect and reports per-item errors instead of failing. Campaign
// resolution errors are returned.
func (o *Optimizer) ScoreBatch(ctx context.Context, campaignID, teamID string, maxCount int) (*Result, error) {
	if maxCount <= 0 {
		maxCount = DefaultMaxCount
	}

	campaign, err := o.engine.LoadCampaign(ctx, campaignID, teamID)
	if err != nil {
		return nil, err
	}

	prospects, err := o.store.ListProspectsByStatus(ctx, campaign.ID, model.ProspectStatusNew, maxCount)
	if err != nil {
		return nil, eris.Wrapf(err, "batch: list new prospects for campaign %s", campaign.ID)
	}
	if len(prospects) == 0 {
		return &Result{CampaignID: campaign.ID, Errors: []ItemError{}, Mode: ModeOptimized}, nil
	}

	res, err := o.scoreOptimized(ctx, campaign, teamID, prospects)
	if err == nil {
		return res, nil
	}

	zap.L().Warn("batch: optimized scoring failed, falling back to sequential",
		zap.String("campaign_id", campaign.ID),
		zap.String("team_id", teamID),
		zap.Int("prospects", len(prospects)),
		zap.Error(err),
	)

	ids := make([]string, len(prospects))
	for i := range prospects {
		ids[i] = prospects[i].ID
	}
	return o.scoreSequential(ctx, campaign.ID, teamID, ids), nil
}

func (o *Optimizer) scoreOptimized(ctx context.Context, campaign *model.Campaign, teamID string, prospects []model.Prospect) (*Result, error) {
	icp, err := o.engine.LoadICP(ctx, campaign)
	if err != nil {
		return nil, err
	}

	texts := make([]string, len(prospects))
	for i := range prospects {
		texts[i] = scoring.SemanticText(&prospects[i])
	}
	embeddings, err := o.embedder.GenerateBatchEmbeddings(ctx, texts)
	if err != nil {
		return nil, eris.Wrap(err, "batch: generate embeddings")
	}
	if len(embeddings) != len(prospects) {
		return nil, eris.Errorf("batch: got %d embeddings for %d prospects", len(embeddings), len(prospects))
	}

	icpVector, err := o.engine.ICPVector(ctx, teamID, icp.ID)
	if err != nil {
		return nil, err
	}

	results := make([]scoring.Result, len(prospects))
	updates := make([]model.ScoreUpdate, len(prospects))
	for i := range prospects {
		results[i], updates[i] = o.engine.Evaluate(&prospects[i], icp, embeddings[i], icpVector)
	}

	if _, err := o.store.ApplyScores(ctx, campaign.ID, updates); err != nil {
		return nil, eris.Wrap(err, "batch: persist scores")
	}

	out := summarize(campaign.ID, results)
	out.Mode = ModeOptimized

	zap.L().Info("batch: campaign scored",
		zap.String("campaign_id", campaign.ID),
		zap.String("mode", out.Mode),
		zap.Int("processed", out.Processed),
		zap.Int("qualified", out.Qualified),
	)
	return out, nil
}

// scoreSequential scores ids chunk by chunk, each chunk concurrently through
// the single-prospect engine.
func (o *Optimizer) scoreSequential(ctx context.Context, campaignID, teamID string, ids []string) *Result {
	var (
		mu      sync.Mutex
		results []scoring.Result
		errs    = []ItemError{}
	)

	for start := 0; start < len(ids); start += o.chunkSize {
		end := min(start+o.chunkSize, len(ids))

		var g errgroup.Group
		g.SetLimit(o.concurrency)
		for _, id := range ids[start:end] {
			g.Go(func() error {
				res, err := o.engine.ScoreProspect(ctx, id, teamID)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					errs = append(errs, ItemError{ProspectID: id, Error: err.Error()})
					return nil
				}
				results = append(results, *res)
				return nil
			})
		}
		_ = g.Wait()
	}

	out := summarize(campaignID, results)
	out.Errors = errs
	out.Mode = ModeSequential

	zap.L().Info("batch: campaign scored",
		zap.String("campaign_id", campaignID),
		zap.String("mode", out.Mode),
		zap.Int("processed", out.Processed),
		zap.Int("qualified", out.Qualified),
		zap.Int("errors", len(errs)),
	)
	return out
}

func summarize(campaignID string, results []scoring.Result) *Result {
	out := &Result{CampaignID: campaignID, Errors: []ItemError{}}
	var total float64
	for _, r := range results {
		out.Processed++
		total += r.ICPMatchScore
		out.Breakdown.add(r.Qualification)
		if r.ICPMatchScore >= scoring.ThresholdQualified {
			out.Qualified++
		}
	}
	if out.Processed > 0 {
		out.AvgScore = total / float64(out.Processed)
	}
	return out
}
