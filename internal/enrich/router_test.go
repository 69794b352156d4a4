package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/prospector/internal/apperr"
	"github.com/sells-group/prospector/internal/model"
	"github.com/sells-group/prospector/internal/quota"
)

// memLog is an in-memory enrichment log that also serves quota counts.
type memLog struct {
	mu      sync.Mutex
	entries []model.EnrichmentLog
	err     error
}

func (m *memLog) InsertEnrichmentLog(_ context.Context, e *model.EnrichmentLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.entries = append(m.entries, *e)
	return nil
}

func (m *memLog) CountSuccessfulEnrichments(_ context.Context, teamID, provider string, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.entries {
		if e.TeamID == teamID && e.Provider == provider && e.Status == model.EnrichmentSuccess && !e.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (m *memLog) seed(teamID, provider string, n int) {
	for i := 0; i < n; i++ {
		m.entries = append(m.entries, model.EnrichmentLog{
			TeamID: teamID, Provider: provider, Status: model.EnrichmentSuccess, CreditsUsed: 1, CreatedAt: time.Now().UTC(),
		})
	}
}

func (m *memLog) Entries() []model.EnrichmentLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.EnrichmentLog(nil), m.entries...)
}

func score(v float64) *float64 { return &v }

type routerFixture struct {
	apollo *stubProvider
	hunter *stubProvider
	logs   *memLog
	router *Router
}

func newRouterFixture() *routerFixture {
	f := &routerFixture{
		apollo: &stubProvider{name: model.ProviderApollo, res: &Result{Provider: model.ProviderApollo, Email: "a@acme.io", Confidence: 0.9}},
		hunter: &stubProvider{name: model.ProviderHunter, res: &Result{Provider: model.ProviderHunter, Email: "h@acme.io", Confidence: 0.8}},
		logs:   &memLog{},
	}
	tracker := quota.NewTracker(f.logs, quota.DefaultLimits())
	f.router = NewRouter(NewRegistry(f.apollo, f.hunter), tracker, f.logs)
	return f
}

func TestRouter_Plan(t *testing.T) {
	r := NewRouter(NewRegistry(), nil, nil)

	p := sampleProspect()
	assert.Equal(t, []string{"hunter", "apollo"}, r.Plan(p, Options{}))

	p.ICPMatchScore = score(0.85)
	assert.Equal(t, []string{"apollo", "hunter"}, r.Plan(p, Options{}))

	p.ICPMatchScore = score(0.8499)
	assert.Equal(t, []string{"hunter", "apollo"}, r.Plan(p, Options{}))

	assert.Equal(t, []string{"apollo"}, r.Plan(p, Options{ForceProvider: "apollo"}))
}

func TestRouter_HighValueUsesApollo(t *testing.T) {
	f := newRouterFixture()
	p := sampleProspect()
	p.ICPMatchScore = score(0.9)

	res, err := f.router.EnrichProspect(context.Background(), p, "team-1", Options{})
	require.NoError(t, err)
	assert.Equal(t, model.ProviderApollo, res.Provider)
	assert.Equal(t, 1, f.apollo.Calls())
	assert.Zero(t, f.hunter.Calls())

	entries := f.logs.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, model.EnrichmentSuccess, entries[0].Status)
	assert.Equal(t, 1, entries[0].CreditsUsed)
	assert.Equal(t, "team-1", entries[0].TeamID)
	assert.Equal(t, "p-1", entries[0].ProspectID)

	var req map[string]any
	require.NoError(t, json.Unmarshal(entries[0].Request, &req))
	assert.Equal(t, "Jane Doe", req["name"])
}

func TestRouter_FallbackOnPrimaryFailure(t *testing.T) {
	f := newRouterFixture()
	f.hunter.res, f.hunter.err = nil, apperr.Wrap(apperr.KindProviderFailure, errors.New("503"), "hunter down")

	res, err := f.router.EnrichProspect(context.Background(), sampleProspect(), "team-1", Options{})
	require.NoError(t, err)
	assert.Equal(t, model.ProviderApollo, res.Provider)

	entries := f.logs.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, model.ProviderHunter, entries[0].Provider)
	assert.Equal(t, model.EnrichmentFailed, entries[0].Status)
	assert.Zero(t, entries[0].CreditsUsed)
	assert.Contains(t, entries[0].ErrorMessage, "hunter down")
	assert.Equal(t, model.EnrichmentSuccess, entries[1].Status)
}

func TestRouter_BothFail(t *testing.T) {
	f := newRouterFixture()
	f.hunter.res, f.hunter.err = nil, errors.New("hunter boom")
	f.apollo.res, f.apollo.err = nil, errors.New("apollo boom")

	_, err := f.router.EnrichProspect(context.Background(), sampleProspect(), "team-1", Options{})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindAllProvidersFailed))
	assert.Contains(t, err.Error(), "hunter boom")
	assert.Contains(t, err.Error(), "apollo boom")
	assert.Len(t, f.logs.Entries(), 2)
}

func TestRouter_ForcedProviderNoFallback(t *testing.T) {
	f := newRouterFixture()
	f.apollo.res, f.apollo.err = nil, apperr.Wrap(apperr.KindProviderFailure, errors.New("401"), "apollo rejected")

	_, err := f.router.EnrichProspect(context.Background(), sampleProspect(), "team-1", Options{ForceProvider: "apollo"})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindProviderFailure))
	assert.Zero(t, f.hunter.Calls())
	assert.Len(t, f.logs.Entries(), 1)
}

func TestRouter_ForcedUnknownProvider(t *testing.T) {
	f := newRouterFixture()
	_, err := f.router.EnrichProspect(context.Background(), sampleProspect(), "team-1", Options{ForceProvider: "clearbit"})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindBadRequest))
	assert.Empty(t, f.logs.Entries())
}

func TestRouter_QuotaExhaustedFallsBack(t *testing.T) {
	f := newRouterFixture()
	f.logs.seed("team-1", model.ProviderHunter, 25)

	res, err := f.router.EnrichProspect(context.Background(), sampleProspect(), "team-1", Options{})
	require.NoError(t, err)
	assert.Equal(t, model.ProviderApollo, res.Provider)
	assert.Zero(t, f.hunter.Calls())

	entries := f.logs.Entries()
	require.Len(t, entries, 27)
	quotaEntry := entries[25]
	assert.Equal(t, model.ProviderHunter, quotaEntry.Provider)
	assert.Equal(t, model.EnrichmentFailed, quotaEntry.Status)
	assert.Contains(t, quotaEntry.ErrorMessage, "quota exceeded")
}

func TestRouter_QuotaIsPerTeam(t *testing.T) {
	f := newRouterFixture()
	f.logs.seed("team-other", model.ProviderHunter, 25)

	res, err := f.router.EnrichProspect(context.Background(), sampleProspect(), "team-1", Options{})
	require.NoError(t, err)
	assert.Equal(t, model.ProviderHunter, res.Provider)
}

func TestRouter_ForcedQuotaExceeded(t *testing.T) {
	f := newRouterFixture()
	f.logs.seed("team-1", model.ProviderHunter, 25)

	_, err := f.router.EnrichProspect(context.Background(), sampleProspect(), "team-1", Options{ForceProvider: "hunter"})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindQuotaExceeded))
	assert.Zero(t, f.hunter.Calls())
}

func TestRouter_UnconfiguredProviderFallsThrough(t *testing.T) {
	logs := &memLog{}
	apollo := &stubProvider{name: model.ProviderApollo, res: &Result{Provider: model.ProviderApollo, Confidence: 0.4}}
	r := NewRouter(NewRegistry(apollo), nil, logs)

	res, err := r.EnrichProspect(context.Background(), sampleProspect(), "team-1", Options{})
	require.NoError(t, err)
	assert.Equal(t, model.ProviderApollo, res.Provider)

	entries := logs.Entries()
	require.Len(t, entries, 2)
	assert.Contains(t, entries[0].ErrorMessage, "not configured")
}

func TestRouter_LogWriteFailureDoesNotMaskResult(t *testing.T) {
	f := newRouterFixture()
	f.logs.err = errors.New("disk full")
	f.router.quota = nil

	res, err := f.router.EnrichProspect(context.Background(), sampleProspect(), "team-1", Options{})
	require.NoError(t, err)
	assert.Equal(t, model.ProviderHunter, res.Provider)
}

func TestRouter_LogsWrittenAfterCancel(t *testing.T) {
	f := newRouterFixture()
	ctx, cancel := context.WithCancel(context.Background())
	f.hunter.res, f.hunter.err = nil, context.Canceled
	cancel()

	_, err := f.router.EnrichProspect(ctx, sampleProspect(), "team-1", Options{ForceProvider: "hunter"})
	require.Error(t, err)
	require.Len(t, f.logs.Entries(), 1)
	assert.Equal(t, model.EnrichmentFailed, f.logs.Entries()[0].Status)
}
