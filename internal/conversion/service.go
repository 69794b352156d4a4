// Package conversion promotes qualified prospects into CRM leads.
package conversion

import (
	"context"
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospector/internal/apperr"
	"github.com/sells-group/prospector/internal/model"
)

// MinEnrichedScore is the ICP match score an enriched prospect needs to be
// convertible without first being marked qualified.
const MinEnrichedScore = 0.75

// Store is the persistence the conversion service needs.
type Store interface {
	GetProspectForTeam(ctx context.Context, id, teamID string) (*model.Prospect, error)
	ConvertProspect(ctx context.Context, lead *model.Lead) error
	SetLeadCRMID(ctx context.Context, leadID, crmID string) error
}

// CRM receives converted leads. A nil CRM disables the push.
type CRM interface {
	PushLead(ctx context.Context, lead *model.Lead) (string, error)
	PushLeads(ctx context.Context, leads []*model.Lead) ([]string, error)
}

// Result is the outcome of a single conversion.
type Result struct {
	LeadID     string `json:"lead_id"`
	ProspectID string `json:"prospect_id"`
	Message    string `json:"message"`
}

// ItemError is a failed conversion inside a batch.
type ItemError struct {
	ProspectID string `json:"prospect_id"`
	Error      string `json:"error"`
}

// BatchResult collects independent per-prospect outcomes.
type BatchResult struct {
	Succeeded []Result    `json:"succeeded"`
	Failed    []ItemError `json:"failed"`
}

// Option configures a Service.
type Option func(*Service)

// WithCRM pushes every converted lead to crm after the conversion commits.
func WithCRM(crm CRM) Option {
	return func(s *Service) { s.crm = crm }
}

// Service converts prospects into leads.
type Service struct {
	store Store
	crm   CRM
	now   func() time.Time
	newID func() string
}

// NewService creates a conversion service.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
		newID: func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ConvertProspectToLead creates exactly one lead for a qualified prospect.
// The lead insert, the prospect transition, and the campaign counter bump
// commit together; a concurrent conversion of the same prospect loses with
// a Conflict.
func (s *Service) ConvertProspectToLead(ctx context.Context, prospectID, teamID string) (*Result, error) {
	lead, err := s.convert(ctx, prospectID, teamID)
	if err != nil {
		return nil, err
	}
	if s.crm != nil {
		s.pushOne(ctx, lead)
	}
	return &Result{
		LeadID:     lead.ID,
		ProspectID: prospectID,
		Message:    "prospect converted to lead",
	}, nil
}

// BatchConvertProspects converts each prospect independently. One failure
// never blocks or rolls back the others.
func (s *Service) BatchConvertProspects(ctx context.Context, prospectIDs []string, teamID string) *BatchResult {
	out := &BatchResult{}
	var leads []*model.Lead
	for _, id := range prospectIDs {
		lead, err := s.convert(ctx, id, teamID)
		if err != nil {
			out.Failed = append(out.Failed, ItemError{ProspectID: id, Error: err.Error()})
			continue
		}
		leads = append(leads, lead)
		out.Succeeded = append(out.Succeeded, Result{
			LeadID:     lead.ID,
			ProspectID: id,
			Message:    "prospect converted to lead",
		})
	}

	if s.crm != nil && len(leads) > 0 {
		s.pushMany(ctx, leads)
	}

	zap.L().Info("batch conversion complete",
		zap.String("team_id", teamID),
		zap.Int("succeeded", len(out.Succeeded)),
		zap.Int("failed", len(out.Failed)),
	)
	return out
}

func (s *Service) convert(ctx context.Context, prospectID, teamID string) (*model.Lead, error) {
	p, err := s.store.GetProspectForTeam(ctx, prospectID, teamID)
	if err != nil {
		return nil, eris.Wrapf(err, "conversion: load prospect %s", prospectID)
	}
	if p == nil {
		return nil, apperr.NotFound("prospect %s not found or access denied", prospectID).
			WithDetails(map[string]any{"code": "ProspectNotFound"})
	}
	if err := CheckEligible(p); err != nil {
		return nil, err
	}

	lead := BuildLead(p, teamID, s.newID(), s.now())
	if err := s.store.ConvertProspect(ctx, lead); err != nil {
		if apperr.Is(err, apperr.KindConflict) {
			return nil, err
		}
		return nil, eris.Wrapf(err, "conversion: convert prospect %s", prospectID)
	}

	zap.L().Info("prospect converted",
		zap.String("prospect_id", prospectID),
		zap.String("lead_id", lead.ID),
		zap.String("team_id", teamID),
	)
	return lead, nil
}

// CheckEligible returns a Conflict for a prospect that already has a lead and
// a BadRequest naming the criteria for one that is not qualified.
func CheckEligible(p *model.Prospect) error {
	if p.ConvertedToLeadID != nil {
		return apperr.Conflict("prospect %s has already been converted to lead %s", p.ID, *p.ConvertedToLeadID)
	}
	if p.Status == model.ProspectStatusConverted {
		return apperr.Conflict("prospect %s has already been converted", p.ID)
	}
	if p.Status == model.ProspectStatusQualified {
		return nil
	}
	if p.Status == model.ProspectStatusEnriched && p.ICPMatchScore != nil && *p.ICPMatchScore >= MinEnrichedScore {
		return nil
	}

	score := "unscored"
	if p.ICPMatchScore != nil {
		score = fmt.Sprintf("%.2f", *p.ICPMatchScore)
	}
	return apperr.BadRequest(
		"prospect %s does not meet qualification criteria: status must be qualified, or enriched with an ICP match score of at least %.2f (status %s, score %s)",
		p.ID, MinEnrichedScore, p.Status, score,
	).WithDetails(map[string]any{
		"status":          string(p.Status),
		"required_score":  MinEnrichedScore,
		"required_status": []string{string(model.ProspectStatusQualified), string(model.ProspectStatusEnriched)},
	})
}

// BuildLead snapshots a prospect into a new lead.
func BuildLead(p *model.Prospect, teamID, id string, at time.Time) *model.Lead {
	first, last := model.SplitName(p.Name)

	snapshot := make(map[string]any, len(p.EnrichmentData)+1)
	maps.Copy(snapshot, p.EnrichmentData)
	prospect := map[string]any{
		"platform":            p.Platform,
		"platform_profile_id": p.PlatformProfileID,
		"headline":            p.Headline,
		"profile_url":         p.ProfileURL,
	}
	if p.QualityScore != nil {
		prospect["quality_score"] = *p.QualityScore
	}
	snapshot["prospect"] = prospect

	return &model.Lead{
		ID:                 id,
		TeamID:             teamID,
		ProspectID:         p.ID,
		CampaignID:         p.CampaignID,
		FirstName:          first,
		LastName:           last,
		Email:              p.ContactInfo.Email,
		Phone:              p.ContactInfo.Phone,
		Company:            p.CompanyName,
		CompanyURL:         p.CompanyURL,
		JobTitle:           p.JobTitle(),
		Location:           p.Location,
		Source:             p.Platform,
		QualificationScore: p.Score(),
		EnrichmentData:     snapshot,
		CreatedAt:          at,
	}
}

// pushOne runs after commit; failures are logged and leave crm_id empty.
func (s *Service) pushOne(ctx context.Context, lead *model.Lead) {
	log := zap.L().With(zap.String("lead_id", lead.ID), zap.String("prospect_id", lead.ProspectID))
	crmID, err := s.crm.PushLead(ctx, lead)
	if err != nil {
		log.Warn("crm push failed", zap.Error(err))
		return
	}
	s.saveCRMID(ctx, log, lead, crmID)
}

func (s *Service) pushMany(ctx context.Context, leads []*model.Lead) {
	ids, err := s.crm.PushLeads(ctx, leads)
	if err != nil {
		zap.L().Warn("crm bulk push failed", zap.Int("leads", len(leads)), zap.Error(err))
	}
	for i, crmID := range ids {
		if i >= len(leads) || crmID == "" {
			continue
		}
		log := zap.L().With(zap.String("lead_id", leads[i].ID), zap.String("prospect_id", leads[i].ProspectID))
		s.saveCRMID(ctx, log, leads[i], crmID)
	}
}

func (s *Service) saveCRMID(ctx context.Context, log *zap.Logger, lead *model.Lead, crmID string) {
	if crmID == "" {
		return
	}
	if err := s.store.SetLeadCRMID(context.WithoutCancel(ctx), lead.ID, crmID); err != nil {
		log.Warn("save crm id failed", zap.String("crm_id", crmID), zap.Error(err))
		return
	}
	lead.CRMID = crmID
	log.Debug("lead pushed to crm", zap.String("crm_id", crmID))
}
