package enrich

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospector/internal/apperr"
	"github.com/sells-group/prospector/internal/model"
	"github.com/sells-group/prospector/internal/phone"
)

// ProspectStore is the persistence the service needs.
type ProspectStore interface {
	GetProspectForTeam(ctx context.Context, id, teamID string) (*model.Prospect, error)
	SaveEnrichment(ctx context.Context, p *model.Prospect) error
}

// Enricher routes one prospect to a provider.
type Enricher interface {
	EnrichProspect(ctx context.Context, p model.Prospect, teamID string, opts Options) (*Result, error)
}

// Service loads a prospect, enriches it, and writes the result back.
type Service struct {
	store  ProspectStore
	router Enricher
	now    func() time.Time
}

// NewService creates an enrichment service.
func NewService(store ProspectStore, router Enricher) *Service {
	return &Service{store: store, router: router, now: time.Now}
}

// Outcome is the persisted prospect and the provider result that produced it.
type Outcome struct {
	Prospect *model.Prospect `json:"prospect"`
	Result   *Result         `json:"result"`
}

// EnrichAndSave enriches one team-scoped prospect and persists the result.
func (s *Service) EnrichAndSave(ctx context.Context, prospectID, teamID string, opts Options) (*Outcome, error) {
	p, err := s.store.GetProspectForTeam(ctx, prospectID, teamID)
	if err != nil {
		return nil, eris.Wrapf(err, "enrich: load prospect %s", prospectID)
	}
	if p == nil {
		return nil, apperr.NotFound("prospect %s not found", prospectID)
	}

	res, err := s.router.EnrichProspect(ctx, *p, teamID, opts)
	if err != nil {
		return nil, err
	}

	ApplyResult(p, res, s.now().UTC())
	if err := s.store.SaveEnrichment(ctx, p); err != nil {
		return nil, eris.Wrapf(err, "enrich: save prospect %s", prospectID)
	}

	zap.L().Info("enrich: prospect enriched",
		zap.String("prospect_id", p.ID),
		zap.String("team_id", teamID),
		zap.String("provider", res.Provider),
		zap.Float64("confidence", res.Confidence),
	)
	return &Outcome{Prospect: p, Result: res}, nil
}

// ItemError is one failed prospect in a batch.
type ItemError struct {
	ProspectID string `json:"prospect_id"`
	Error      string `json:"error"`
}

// BatchResult summarizes EnrichBatch.
type BatchResult struct {
	Enriched int         `json:"enriched"`
	Matched  int         `json:"matched"`
	Failed   []ItemError `json:"failed"`
}

// EnrichBatch enriches prospects one at a time. Per-item failures are
// collected; a cancelled context stops the batch.
func (s *Service) EnrichBatch(ctx context.Context, prospectIDs []string, teamID string, opts Options) *BatchResult {
	out := &BatchResult{Failed: []ItemError{}}
	for _, id := range prospectIDs {
		if ctx.Err() != nil {
			out.Failed = append(out.Failed, ItemError{ProspectID: id, Error: ctx.Err().Error()})
			continue
		}
		o, err := s.EnrichAndSave(ctx, id, teamID, opts)
		if err != nil {
			zap.L().Warn("enrich: prospect failed",
				zap.String("prospect_id", id),
				zap.String("team_id", teamID),
				zap.Error(err),
			)
			out.Failed = append(out.Failed, ItemError{ProspectID: id, Error: err.Error()})
			continue
		}
		out.Enriched++
		if o.Result.Matched() {
			out.Matched++
		}
	}
	return out
}

// ApplyResult merges a provider result into p. Contact fields are only
// overwritten with non-empty values. A new prospect moves to enriched; later
// statuses are left alone.
func ApplyResult(p *model.Prospect, res *Result, at time.Time) {
	if res.Email != "" {
		p.ContactInfo.Email = res.Email
	}
	if res.Phone != "" {
		p.ContactInfo.Phone = phone.NormalizeE164(res.Phone)
	}

	if p.EnrichmentData == nil {
		p.EnrichmentData = make(map[string]any)
	}
	summary := map[string]any{
		"provider":       res.Provider,
		"confidence":     res.Confidence,
		"email_verified": res.EmailVerified,
		"enriched_at":    at.Format(time.RFC3339),
	}
	p.EnrichmentData["enrichment"] = summary
	if res.JobTitle != "" {
		p.EnrichmentData["job_title"] = res.JobTitle
	}
	if ci := res.CompanyInfo; ci != nil {
		p.EnrichmentData["company_info"] = map[string]any{
			"name":     ci.Name,
			"domain":   ci.Domain,
			"size":     ci.Size,
			"industry": ci.Industry,
			"location": ci.Location,
		}
	}

	p.EnrichedAt = &at
	if p.Status == model.ProspectStatusNew {
		p.Status = model.ProspectStatusEnriched
	}
}
