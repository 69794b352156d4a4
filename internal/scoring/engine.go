package scoring

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospector/internal/apperr"
	"github.com/sells-group/prospector/internal/model"
	"github.com/sells-group/prospector/pkg/vectorindex"
)

// Embedder turns text into vectors. Batch results are in input order.
type Embedder interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
	GenerateBatchEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorIndex reads precomputed ICP vectors. A nil vector means absent.
type VectorIndex interface {
	FetchVector(ctx context.Context, namespace, id string) (*vectorindex.Vector, error)
}

// Store is the persistence the engine needs.
type Store interface {
	GetProspectForTeam(ctx context.Context, id, teamID string) (*model.Prospect, error)
	GetCampaign(ctx context.Context, id string) (*model.Campaign, error)
	GetICP(ctx context.Context, id string) (*model.ICP, error)
	ApplyScores(ctx context.Context, campaignID string, updates []model.ScoreUpdate) (int, error)
}

// Result is the outcome of scoring one prospect.
type Result struct {
	ProspectID    string               `json:"prospect_id"`
	ICPMatchScore float64              `json:"icp_match_score"`
	QualityScore  float64              `json:"quality_score"`
	Qualification Tier                 `json:"qualification"`
	Status        model.ProspectStatus `json:"status"`
	Breakdown     Breakdown            `json:"breakdown"`
}

// Option configures an Engine.
type Option func(*Engine)

// WithActivity overrides the activity sub-score.
func WithActivity(v float64) Option {
	return func(e *Engine) {
		if v >= 0 && v <= 1 {
			e.activity = v
		}
	}
}

// Engine scores prospects against their campaign's ICP.
type Engine struct {
	store    Store
	embedder Embedder
	index    VectorIndex
	activity float64
}

// NewEngine creates a scoring engine.
func NewEngine(store Store, embedder Embedder, index VectorIndex, opts ...Option) *Engine {
	e := &Engine{store: store, embedder: embedder, index: index, activity: DefaultActivity}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Activity returns the activity sub-score the engine applies.
func (e *Engine) Activity() float64 { return e.activity }

// ScoreProspect scores one team-scoped prospect and persists the result.
// Re-scoring with unchanged inputs yields the same scores.
func (e *Engine) ScoreProspect(ctx context.Context, prospectID, teamID string) (*Result, error) {
	p, err := e.store.GetProspectForTeam(ctx, prospectID, teamID)
	if err != nil {
		return nil, eris.Wrapf(err, "scoring: load prospect %s", prospectID)
	}
	if p == nil {
		return nil, apperr.NotFound("prospect %s not found", prospectID).
			WithDetails(map[string]any{"code": "ProspectNotFound"})
	}

	campaign, err := e.LoadCampaign(ctx, p.CampaignID, teamID)
	if err != nil {
		return nil, err
	}
	icp, err := e.LoadICP(ctx, campaign)
	if err != nil {
		return nil, err
	}

	embedding, err := e.embedder.GenerateEmbedding(ctx, SemanticText(p))
	if err != nil {
		return nil, eris.Wrapf(err, "scoring: embed prospect %s", prospectID)
	}
	icpVector, err := e.ICPVector(ctx, teamID, icp.ID)
	if err != nil {
		return nil, err
	}

	res, update := e.Evaluate(p, icp, embedding, icpVector)
	if _, err := e.store.ApplyScores(ctx, campaign.ID, []model.ScoreUpdate{update}); err != nil {
		return nil, eris.Wrapf(err, "scoring: persist scores for %s", prospectID)
	}

	zap.L().Debug("scoring: prospect scored",
		zap.String("prospect_id", prospectID),
		zap.String("team_id", teamID),
		zap.Float64("icp_match_score", res.ICPMatchScore),
		zap.String("tier", string(res.Qualification)),
	)
	return &res, nil
}

// BatchScoreProspects scores ids one after another. Failures are logged and
// skipped, so the result holds only the prospects that scored.
func (e *Engine) BatchScoreProspects(ctx context.Context, ids []string, teamID string) []Result {
	out := make([]Result, 0, len(ids))
	for _, id := range ids {
		res, err := e.ScoreProspect(ctx, id, teamID)
		if err != nil {
			zap.L().Warn("scoring: prospect failed",
				zap.String("prospect_id", id),
				zap.String("team_id", teamID),
				zap.Error(err),
			)
			continue
		}
		out = append(out, *res)
	}
	return out
}

// Evaluate scores p from already-fetched vectors without persisting, and
// returns the matching store update.
func (e *Engine) Evaluate(p *model.Prospect, icp *model.ICP, embedding, icpVector []float32) (Result, model.ScoreUpdate) {
	b := Compute(p, icp, CosineSimilarity(embedding, icpVector), e.activity)
	next := NextStatus(p.Status, b.ICPMatchScore)
	res := Result{
		ProspectID:    p.ID,
		ICPMatchScore: b.ICPMatchScore,
		QualityScore:  b.QualityScore,
		Qualification: b.Tier,
		Status:        next,
		Breakdown:     b,
	}
	update := model.ScoreUpdate{
		ProspectID:    p.ID,
		ICPMatchScore: b.ICPMatchScore,
		QualityScore:  b.QualityScore,
		Breakdown:     b.Map(),
		PrevStatus:    p.Status,
		Status:        next,
	}
	return res, update
}

// LoadCampaign resolves a campaign owned by teamID. A campaign that belongs
// to another team is reported as not found.
func (e *Engine) LoadCampaign(ctx context.Context, campaignID, teamID string) (*model.Campaign, error) {
	c, err := e.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, eris.Wrapf(err, "scoring: load campaign %s", campaignID)
	}
	if c == nil || c.TeamID != teamID {
		return nil, apperr.NotFound("campaign %s not found", campaignID).
			WithDetails(map[string]any{"code": "CampaignNotFound"})
	}
	return c, nil
}

// LoadICP resolves the campaign's ICP.
func (e *Engine) LoadICP(ctx context.Context, c *model.Campaign) (*model.ICP, error) {
	if c.ICPID == "" {
		return nil, apperr.NotFound("campaign %s has no ICP defined", c.ID).
			WithDetails(map[string]any{"code": "ICPNotDefined"})
	}
	icp, err := e.store.GetICP(ctx, c.ICPID)
	if err != nil {
		return nil, eris.Wrapf(err, "scoring: load icp %s", c.ICPID)
	}
	if icp == nil {
		return nil, apperr.NotFound("ICP %s for campaign %s is not defined", c.ICPID, c.ID).
			WithDetails(map[string]any{"code": "ICPNotDefined"})
	}
	return icp, nil
}

// ICPVector fetches the ICP's precomputed vector from the team namespace.
func (e *Engine) ICPVector(ctx context.Context, teamID, icpID string) ([]float32, error) {
	v, err := e.index.FetchVector(ctx, model.ICPNamespace(teamID), icpID)
	if err != nil {
		return nil, eris.Wrapf(err, "scoring: fetch icp vector %s", icpID)
	}
	if v == nil || len(v.Values) == 0 {
		return nil, apperr.NotFound("vector for ICP %s not found", icpID).
			WithDetails(map[string]any{"code": "ICPVectorNotFound"})
	}
	return v.Values, nil
}
