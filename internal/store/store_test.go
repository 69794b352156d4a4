package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/prospector/internal/apperr"
	"github.com/sells-group/prospector/internal/model"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() }) //nolint:errcheck
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func seedCampaign(t *testing.T, s Store, teamID string) *model.Campaign {
	t.Helper()
	ctx := context.Background()
	icp := &model.ICP{
		ID:     "icp-" + teamID,
		TeamID: teamID,
		Name:   "Fintech CFOs",
		Demographics: model.Demographics{
			Titles:    []string{"CFO", "VP Finance"},
			Locations: []string{"New York"},
		},
		Firmographics: model.Firmographics{Industries: []string{"fintech"}},
	}
	require.NoError(t, s.UpsertICP(ctx, icp))

	c := &model.Campaign{ID: "camp-" + teamID, TeamID: teamID, ICPID: icp.ID, Name: "Q4 outbound"}
	require.NoError(t, s.UpsertCampaign(ctx, c))
	return c
}

func sampleProspects() []model.Prospect {
	return []model.Prospect{
		{
			Platform:          "linkedin",
			PlatformProfileID: "jane-doe",
			Name:              "Jane Doe",
			Headline:          "CFO",
			CompanyName:       "Acme Pay",
			CompanyURL:        "https://www.acmepay.com",
			ProfileData:       map[string]any{"bio": "Finance leader"},
		},
		{
			Platform:          "linkedin",
			PlatformProfileID: "john-roe",
			Name:              "John Roe",
			Headline:          "Engineer",
		},
	}
}

func storeTestSuite(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("ICPRoundTrip", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		seedCampaign(t, s, "t1")

		icp, err := s.GetICP(ctx, "icp-t1")
		require.NoError(t, err)
		require.NotNil(t, icp)
		assert.Equal(t, []string{"CFO", "VP Finance"}, icp.Demographics.Titles)
		assert.Equal(t, []string{"fintech"}, icp.Firmographics.Industries)

		missing, err := s.GetICP(ctx, "nope")
		require.NoError(t, err)
		assert.Nil(t, missing)
	})

	t.Run("InsertProspectsSkipsDuplicates", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		c := seedCampaign(t, s, "t1")

		n, err := s.InsertProspects(ctx, c.ID, sampleProspects())
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		n, err = s.InsertProspects(ctx, c.ID, sampleProspects()[:1])
		require.NoError(t, err)
		assert.Equal(t, 0, n)

		got, err := s.GetCampaign(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, got.DiscoveredCount)
	})

	t.Run("InsertProspectsUnknownCampaign", func(t *testing.T) {
		s := newStore(t)
		_, err := s.InsertProspects(context.Background(), "missing", sampleProspects())
		require.Error(t, err)
	})

	t.Run("GetProspectForTeam", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		c := seedCampaign(t, s, "t1")
		seedCampaign(t, s, "t2")

		ps := sampleProspects()
		_, err := s.InsertProspects(ctx, c.ID, ps)
		require.NoError(t, err)

		p, err := s.GetProspectForTeam(ctx, ps[0].ID, "t1")
		require.NoError(t, err)
		require.NotNil(t, p)
		assert.Equal(t, "Jane Doe", p.Name)
		assert.Equal(t, model.ProspectStatusNew, p.Status)
		assert.Equal(t, "Finance leader", p.Bio())
		assert.Nil(t, p.ICPMatchScore)
		assert.Nil(t, p.ConvertedToLeadID)

		other, err := s.GetProspectForTeam(ctx, ps[0].ID, "t2")
		require.NoError(t, err)
		assert.Nil(t, other)
	})

	t.Run("SaveEnrichment", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		c := seedCampaign(t, s, "t1")
		ps := sampleProspects()
		_, err := s.InsertProspects(ctx, c.ID, ps)
		require.NoError(t, err)

		p := ps[0]
		now := time.Now().UTC().Truncate(time.Second)
		p.ContactInfo = model.ContactInfo{Email: "jane@acmepay.com"}
		p.EnrichmentData = map[string]any{"job_title": "Chief Financial Officer"}
		p.EnrichedAt = &now
		p.Status = model.ProspectStatusEnriched
		require.NoError(t, s.SaveEnrichment(ctx, &p))

		got, err := s.GetProspect(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, "jane@acmepay.com", got.ContactInfo.Email)
		assert.Equal(t, "Chief Financial Officer", got.JobTitle())
		assert.Equal(t, model.ProspectStatusEnriched, got.Status)
		require.NotNil(t, got.EnrichedAt)
		assert.True(t, now.Equal(*got.EnrichedAt))

		missing := model.Prospect{ID: "missing", Status: model.ProspectStatusEnriched}
		err = s.SaveEnrichment(ctx, &missing)
		assert.True(t, apperr.Is(err, apperr.KindNotFound))
	})

	t.Run("SaveEnrichmentKeepsNewerState", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		c := seedCampaign(t, s, "t1")
		ps := sampleProspects()
		_, err := s.InsertProspects(ctx, c.ID, ps)
		require.NoError(t, err)

		stale, err := s.GetProspect(ctx, ps[0].ID)
		require.NoError(t, err)

		_, err = s.ApplyScores(ctx, c.ID, []model.ScoreUpdate{{
			ProspectID: ps[0].ID, ICPMatchScore: 0.8, QualityScore: 0.6,
			Breakdown:  map[string]any{"demographics": 1.0},
			PrevStatus: model.ProspectStatusNew, Status: model.ProspectStatusQualified,
		}})
		require.NoError(t, err)
		lead := &model.Lead{TeamID: "t1", ProspectID: ps[0].ID, CampaignID: c.ID, LastName: "Doe"}
		require.NoError(t, s.ConvertProspect(ctx, lead))

		stale.ContactInfo.Email = "jane@acmepay.com"
		stale.EnrichmentData = map[string]any{"job_title": "Chief Financial Officer"}
		stale.Status = model.ProspectStatusEnriched
		require.NoError(t, s.SaveEnrichment(ctx, stale))
		assert.Equal(t, model.ProspectStatusConverted, stale.Status)

		got, err := s.GetProspect(ctx, ps[0].ID)
		require.NoError(t, err)
		assert.Equal(t, model.ProspectStatusConverted, got.Status)
		require.NotNil(t, got.ConvertedToLeadID)
		assert.Equal(t, lead.ID, *got.ConvertedToLeadID)
		assert.Equal(t, "jane@acmepay.com", got.ContactInfo.Email)
		assert.Equal(t, "Chief Financial Officer", got.JobTitle())
		assert.Equal(t, map[string]any{"demographics": 1.0}, got.EnrichmentData["score_breakdown"])
	})

	t.Run("ApplyScoresCountsQualified", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		c := seedCampaign(t, s, "t1")
		ps := sampleProspects()
		_, err := s.InsertProspects(ctx, c.ID, ps)
		require.NoError(t, err)

		n, err := s.ApplyScores(ctx, c.ID, []model.ScoreUpdate{
			{ProspectID: ps[0].ID, ICPMatchScore: 0.8, QualityScore: 0.6, Breakdown: map[string]any{"demographics": 1.0}, PrevStatus: model.ProspectStatusNew, Status: model.ProspectStatusQualified},
			{ProspectID: ps[1].ID, ICPMatchScore: 0.3, QualityScore: 0.4, Breakdown: map[string]any{"demographics": 0.0}, PrevStatus: model.ProspectStatusNew, Status: model.ProspectStatusRejected},
		})
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		got, err := s.GetProspect(ctx, ps[0].ID)
		require.NoError(t, err)
		assert.InDelta(t, 0.8, got.Score(), 1e-9)
		assert.Equal(t, model.ProspectStatusQualified, got.Status)
		assert.Contains(t, got.EnrichmentData, "score_breakdown")

		camp, err := s.GetCampaign(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, camp.QualifiedCount)

		list, err := s.ListProspectsByStatus(ctx, c.ID, model.ProspectStatusNew, 10)
		require.NoError(t, err)
		assert.Empty(t, list)
	})

	t.Run("ApplyScoresRollsBackOnStaleStatus", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		c := seedCampaign(t, s, "t1")
		ps := sampleProspects()
		_, err := s.InsertProspects(ctx, c.ID, ps)
		require.NoError(t, err)

		_, err = s.ApplyScores(ctx, c.ID, []model.ScoreUpdate{
			{ProspectID: ps[0].ID, ICPMatchScore: 0.9, PrevStatus: model.ProspectStatusNew, Status: model.ProspectStatusQualified},
			{ProspectID: ps[1].ID, ICPMatchScore: 0.9, PrevStatus: model.ProspectStatusEnriched, Status: model.ProspectStatusQualified},
		})
		require.Error(t, err)

		got, err := s.GetProspect(ctx, ps[0].ID)
		require.NoError(t, err)
		assert.Nil(t, got.ICPMatchScore)
		assert.Equal(t, model.ProspectStatusNew, got.Status)

		camp, err := s.GetCampaign(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, 0, camp.QualifiedCount)
	})

	t.Run("EnrichmentLogCounts", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

		entries := []model.EnrichmentLog{
			{TeamID: "t1", ProspectID: "p1", Provider: "hunter", Status: model.EnrichmentSuccess, CreditsUsed: 1, CreatedAt: since.Add(time.Hour)},
			{TeamID: "t1", ProspectID: "p2", Provider: "hunter", Status: model.EnrichmentSuccess, CreditsUsed: 1, CreatedAt: since.Add(2 * time.Hour), Request: []byte(`{"domain":"acme.com"}`)},
			{TeamID: "t1", ProspectID: "p3", Provider: "hunter", Status: model.EnrichmentFailed, ErrorMessage: "503", CreatedAt: since.Add(3 * time.Hour)},
			{TeamID: "t1", ProspectID: "p4", Provider: "hunter", Status: model.EnrichmentSuccess, CreditsUsed: 1, CreatedAt: since.Add(-time.Hour)},
			{TeamID: "t2", ProspectID: "p5", Provider: "hunter", Status: model.EnrichmentSuccess, CreditsUsed: 1, CreatedAt: since.Add(time.Hour)},
			{TeamID: "t1", ProspectID: "p6", Provider: "apollo", Status: model.EnrichmentSuccess, CreditsUsed: 1, CreatedAt: since.Add(time.Hour)},
		}
		for i := range entries {
			require.NoError(t, s.InsertEnrichmentLog(ctx, &entries[i]))
			assert.NotEmpty(t, entries[i].ID)
		}

		n, err := s.CountSuccessfulEnrichments(ctx, "t1", "hunter", since)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})

	t.Run("ConvertProspectOnce", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		c := seedCampaign(t, s, "t1")
		ps := sampleProspects()
		_, err := s.InsertProspects(ctx, c.ID, ps)
		require.NoError(t, err)

		lead := &model.Lead{
			TeamID: "t1", ProspectID: ps[0].ID, CampaignID: c.ID,
			FirstName: "Jane", LastName: "Doe", Source: "linkedin",
			QualificationScore: 0.8, EnrichmentData: map[string]any{"tier": "qualified"},
		}
		require.NoError(t, s.ConvertProspect(ctx, lead))
		assert.NotEmpty(t, lead.ID)

		got, err := s.GetLead(ctx, lead.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "Jane", got.FirstName)
		assert.InDelta(t, 0.8, got.QualificationScore, 1e-9)
		assert.Empty(t, got.CRMID)

		p, err := s.GetProspect(ctx, ps[0].ID)
		require.NoError(t, err)
		assert.Equal(t, model.ProspectStatusConverted, p.Status)
		require.NotNil(t, p.ConvertedToLeadID)
		assert.Equal(t, lead.ID, *p.ConvertedToLeadID)

		err = s.ConvertProspect(ctx, &model.Lead{TeamID: "t1", ProspectID: ps[0].ID, CampaignID: c.ID})
		assert.True(t, apperr.Is(err, apperr.KindConflict))

		camp, err := s.GetCampaign(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, camp.ConvertedCount)

		require.NoError(t, s.SetLeadCRMID(ctx, lead.ID, "00Q000000000001"))
		got, err = s.GetLead(ctx, lead.ID)
		require.NoError(t, err)
		assert.Equal(t, "00Q000000000001", got.CRMID)

		assert.True(t, apperr.Is(s.SetLeadCRMID(ctx, "missing", "x"), apperr.KindNotFound))
	})

	t.Run("ConcurrentConvertCreatesOneLead", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		c := seedCampaign(t, s, "t1")
		ps := sampleProspects()
		_, err := s.InsertProspects(ctx, c.ID, ps)
		require.NoError(t, err)

		var wg sync.WaitGroup
		errs := make([]error, 5)
		for i := range errs {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs[i] = s.ConvertProspect(ctx, &model.Lead{TeamID: "t1", ProspectID: ps[1].ID, CampaignID: c.ID})
			}(i)
		}
		wg.Wait()

		succeeded := 0
		for _, err := range errs {
			if err == nil {
				succeeded++
				continue
			}
			assert.True(t, apperr.Is(err, apperr.KindConflict), err.Error())
		}
		assert.Equal(t, 1, succeeded)

		camp, err := s.GetCampaign(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, camp.ConvertedCount)
	})
}

func TestSQLiteStore(t *testing.T) {
	storeTestSuite(t, func(t *testing.T) Store {
		return newTestSQLite(t)
	})
}

func TestSQLiteStore_Ping(t *testing.T) {
	s := newTestSQLite(t)
	assert.NoError(t, s.Ping(context.Background()))
}
