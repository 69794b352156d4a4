package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sells-group/prospector/internal/apperr"
	"github.com/sells-group/prospector/internal/model"
	"github.com/sells-group/prospector/pkg/apollo"
)

// Apollo match confidences. Apollo does not score its matches, so
// confidence reflects what came back.
const (
	apolloVerifiedConfidence   = 0.9
	apolloEmailConfidence      = 0.7
	apolloPersonOnlyConfidence = 0.4
)

// ApolloProvider is the high-fidelity people-match provider.
type ApolloProvider struct {
	client apollo.Client
	policy callPolicy
}

// NewApolloProvider wraps an Apollo client. A nil client means no API key is
// configured; Enrich then fails without touching the network.
func NewApolloProvider(client apollo.Client, opts ...ProviderOption) *ApolloProvider {
	return &ApolloProvider{client: client, policy: newCallPolicy(model.ProviderApollo, opts)}
}

// Name implements Provider.
func (a *ApolloProvider) Name() string { return model.ProviderApollo }

// Enrich implements Provider.
func (a *ApolloProvider) Enrich(ctx context.Context, p model.Prospect) (*Result, error) {
	if a.client == nil {
		return nil, apperr.BadRequest("apollo: API key is not configured")
	}

	req := apolloRequest(p)
	resp, err := call(ctx, a.policy, func(ctx context.Context) (*apollo.MatchResponse, error) {
		return a.client.MatchPerson(ctx, req)
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindProviderFailure, err, "apollo: people match failed")
	}

	return normalizeApollo(resp), nil
}

func apolloRequest(p model.Prospect) apollo.MatchRequest {
	first, last := model.SplitName(p.Name)
	req := apollo.MatchRequest{
		FirstName:        first,
		LastName:         last,
		Name:             strings.TrimSpace(p.Name),
		OrganizationName: strings.TrimSpace(p.CompanyName),
		Domain:           ResolveDomain(p.CompanyURL),
	}
	if strings.EqualFold(p.Platform, "linkedin") {
		req.LinkedInURL = p.ProfileURL
	}
	return req
}

func normalizeApollo(resp *apollo.MatchResponse) *Result {
	res := &Result{Provider: model.ProviderApollo}
	if resp == nil || resp.Person == nil {
		return res
	}
	if raw, err := json.Marshal(resp.Person); err == nil {
		res.RawData = raw
	}

	person := resp.Person
	res.Email = person.Email
	res.EmailVerified = person.EmailVerified()
	res.Phone = person.Phone()
	res.JobTitle = person.Title

	switch {
	case res.Email != "" && res.EmailVerified:
		res.Confidence = apolloVerifiedConfidence
	case res.Email != "":
		res.Confidence = apolloEmailConfidence
	default:
		res.Confidence = apolloPersonOnlyConfidence
	}

	if org := person.Organization; org != nil {
		info := &CompanyInfo{
			Name:     org.Name,
			Domain:   org.PrimaryDomain,
			Industry: org.Industry,
			Location: joinNonEmpty(", ", org.City, org.State, org.Country),
		}
		if info.Domain == "" {
			info.Domain = ResolveDomain(org.WebsiteURL)
		}
		if org.EstimatedNumEmployees > 0 {
			info.Size = fmt.Sprintf("%d", org.EstimatedNumEmployees)
		}
		res.CompanyInfo = info
	}
	return res
}

func joinNonEmpty(sep string, parts ...string) string {
	out := parts[:0:0]
	for _, s := range parts {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return strings.Join(out, sep)
}
