package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/prospector/internal/apperr"
	"github.com/sells-group/prospector/internal/model"
)

// HighValueThreshold is the ICP match score at which the high-fidelity
// provider is tried first.
const HighValueThreshold = 0.85

// QuotaChecker gates a provider call on the team's remaining allowance.
type QuotaChecker interface {
	Check(ctx context.Context, teamID, provider string) error
}

// LogWriter appends enrichment attempts to the audit log.
type LogWriter interface {
	InsertEnrichmentLog(ctx context.Context, entry *model.EnrichmentLog) error
}

// Options controls a single routing decision.
type Options struct {
	// ForceProvider restricts the attempt to one provider with no fallback.
	ForceProvider string
}

// Router picks a provider for a prospect, enforces quota, and records every
// attempt in the enrichment log.
type Router struct {
	registry *Registry
	quota    QuotaChecker
	logs     LogWriter
	now      func() time.Time
}

// NewRouter creates a router over the registered providers.
func NewRouter(registry *Registry, quota QuotaChecker, logs LogWriter) *Router {
	return &Router{registry: registry, quota: quota, logs: logs, now: time.Now}
}

// Plan returns the providers to attempt, in order.
func (r *Router) Plan(p model.Prospect, opts Options) []string {
	if opts.ForceProvider != "" {
		return []string{opts.ForceProvider}
	}
	if p.Score() >= HighValueThreshold {
		return []string{model.ProviderApollo, model.ProviderHunter}
	}
	return []string{model.ProviderHunter, model.ProviderApollo}
}

// EnrichProspect runs the routing plan for p. A forced provider's failure is
// returned as is; in automatic mode the primary's failure falls through to
// the fallback and only both failing is an error.
func (r *Router) EnrichProspect(ctx context.Context, p model.Prospect, teamID string, opts Options) (*Result, error) {
	plan := r.Plan(p, opts)

	if opts.ForceProvider != "" {
		if r.registry.Get(opts.ForceProvider) == nil {
			return nil, apperr.BadRequest("unknown enrichment provider %q", opts.ForceProvider).
				WithDetails(map[string]any{"available": r.registry.List()})
		}
		return r.attempt(ctx, p, teamID, opts.ForceProvider)
	}

	var errs []error
	for i, name := range plan {
		res, err := r.attempt(ctx, p, teamID, name)
		if err == nil {
			return res, nil
		}
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
		if i < len(plan)-1 {
			zap.L().Warn("enrich: provider failed, trying fallback",
				zap.String("prospect_id", p.ID),
				zap.String("provider", name),
				zap.String("fallback", plan[i+1]),
				zap.Error(err),
			)
		}
	}

	return nil, apperr.Wrap(apperr.KindAllProvidersFailed, errors.Join(errs...),
		"all enrichment providers failed for prospect %s", p.ID).
		WithDetails(map[string]any{"providers": plan[:len(errs)]})
}

// attempt makes one logged provider call.
func (r *Router) attempt(ctx context.Context, p model.Prospect, teamID, name string) (*Result, error) {
	entry := &model.EnrichmentLog{
		ID:         uuid.NewString(),
		TeamID:     teamID,
		ProspectID: p.ID,
		Provider:   name,
		Status:     model.EnrichmentFailed,
		Request:    requestPayload(p),
	}

	provider := r.registry.Get(name)
	if provider == nil {
		err := apperr.BadRequest("%s: API key is not configured", name)
		r.record(ctx, entry, nil, err)
		return nil, err
	}

	if r.quota != nil {
		if err := r.quota.Check(ctx, teamID, name); err != nil {
			r.record(ctx, entry, nil, err)
			return nil, err
		}
	}

	res, err := provider.Enrich(ctx, p)
	r.record(ctx, entry, res, err)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// record writes the attempt to the log. Write failures are logged, never
// returned, and survive caller cancellation.
func (r *Router) record(ctx context.Context, entry *model.EnrichmentLog, res *Result, callErr error) {
	entry.CreatedAt = r.now().UTC()
	if callErr != nil {
		entry.Status = model.EnrichmentFailed
		entry.CreditsUsed = 0
		entry.ErrorMessage = callErr.Error()
	} else {
		entry.Status = model.EnrichmentSuccess
		entry.CreditsUsed = 1
		if raw, err := json.Marshal(res); err == nil {
			entry.Response = raw
		}
	}

	if r.logs == nil {
		return
	}
	if err := r.logs.InsertEnrichmentLog(context.WithoutCancel(ctx), entry); err != nil {
		zap.L().Error("enrich: failed to write enrichment log",
			zap.String("prospect_id", entry.ProspectID),
			zap.String("team_id", entry.TeamID),
			zap.String("provider", entry.Provider),
			zap.Error(err),
		)
	}
}

type requestLog struct {
	Name        string `json:"name"`
	CompanyName string `json:"company_name,omitempty"`
	CompanyURL  string `json:"company_url,omitempty"`
	ProfileURL  string `json:"profile_url,omitempty"`
}

func requestPayload(p model.Prospect) []byte {
	raw, err := json.Marshal(requestLog{
		Name:        p.Name,
		CompanyName: p.CompanyName,
		CompanyURL:  p.CompanyURL,
		ProfileURL:  p.ProfileURL,
	})
	if err != nil {
		return nil
	}
	return raw
}
