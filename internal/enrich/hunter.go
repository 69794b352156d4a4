package enrich

import (
	"context"
	"encoding/json"

	"github.com/sells-group/prospector/internal/apperr"
	"github.com/sells-group/prospector/internal/model"
	"github.com/sells-group/prospector/pkg/hunter"
)

// HunterProvider is the budget email-finder provider. It needs a company
// domain to search.
type HunterProvider struct {
	client hunter.Client
	policy callPolicy
}

// NewHunterProvider wraps a Hunter client. A nil client means no API key is
// configured.
func NewHunterProvider(client hunter.Client, opts ...ProviderOption) *HunterProvider {
	return &HunterProvider{client: client, policy: newCallPolicy(model.ProviderHunter, opts)}
}

// Name implements Provider.
func (h *HunterProvider) Name() string { return model.ProviderHunter }

// Enrich implements Provider.
func (h *HunterProvider) Enrich(ctx context.Context, p model.Prospect) (*Result, error) {
	if h.client == nil {
		return nil, apperr.BadRequest("hunter: API key is not configured")
	}

	domain := prospectDomain(p.CompanyURL, p.ProfileURL)
	if domain == "" {
		return nil, apperr.BadRequest("hunter: could not resolve a company domain for prospect %s", p.ID).
			WithDetails(map[string]any{"code": "DomainUnresolved"})
	}

	first, last := model.SplitName(p.Name)
	req := hunter.FindEmailRequest{Domain: domain, FirstName: first, LastName: last}
	if last == "" {
		req.FullName = p.Name
	}

	found, err := call(ctx, h.policy, func(ctx context.Context) (*hunter.EmailFinderResult, error) {
		return h.client.FindEmail(ctx, req)
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindProviderFailure, err, "hunter: email finder failed")
	}

	return normalizeHunter(found, domain), nil
}

func normalizeHunter(found *hunter.EmailFinderResult, domain string) *Result {
	res := &Result{Provider: model.ProviderHunter}
	if found == nil || found.Email == "" {
		return res
	}
	if raw, err := json.Marshal(found); err == nil {
		res.RawData = raw
	}

	res.Email = found.Email
	res.EmailVerified = found.Verified()
	res.Phone = found.PhoneNumber
	res.JobTitle = found.Position
	res.Confidence = min(max(float64(found.Score)/100, 0), 1)

	if found.Company != "" || found.Domain != "" {
		info := &CompanyInfo{Name: found.Company, Domain: found.Domain}
		if info.Domain == "" {
			info.Domain = domain
		}
		res.CompanyInfo = info
	}
	return res
}
