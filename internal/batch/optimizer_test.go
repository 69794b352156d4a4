package batch

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/prospector/internal/apperr"
	"github.com/sells-group/prospector/internal/model"
	"github.com/sells-group/prospector/internal/scoring"
	"github.com/sells-group/prospector/internal/store"
	"github.com/sells-group/prospector/pkg/vectorindex"
)

type fakeEmbedder struct {
	mu         sync.Mutex
	calls      int
	batchCalls int
	batchErr   error
	failText   string
}

func vectorFor(text string) []float32 {
	if strings.Contains(text, "CFO") {
		return []float32{1, 0}
	}
	return []float32{0, 1}
}

func (f *fakeEmbedder) GenerateEmbedding(_ context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failText != "" && strings.Contains(text, f.failText) {
		return nil, errors.New("embedding rejected")
	}
	return vectorFor(text), nil
}

func (f *fakeEmbedder) GenerateBatchEmbeddings(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batchCalls++
	if f.batchErr != nil {
		return nil, f.batchErr
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = vectorFor(t)
	}
	return out, nil
}

type countingIndex struct {
	mu      sync.Mutex
	fetches int
}

func (c *countingIndex) FetchVector(_ context.Context, namespace, id string) (*vectorindex.Vector, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fetches++
	if namespace != model.ICPNamespace("team-1") || id != "icp-1" {
		return nil, nil
	}
	return &vectorindex.Vector{ID: id, Values: []float32{1, 0}}, nil
}

// bulkFailStore rejects multi-prospect score transactions.
type bulkFailStore struct {
	*store.SQLiteStore
}

func (b *bulkFailStore) ApplyScores(ctx context.Context, campaignID string, updates []model.ScoreUpdate) (int, error) {
	if len(updates) > 1 {
		return 0, errors.New("transaction aborted")
	}
	return b.SQLiteStore.ApplyScores(ctx, campaignID, updates)
}

type fixture struct {
	db       *store.SQLiteStore
	embedder *fakeEmbedder
	index    *countingIndex
}

func newFixture(t *testing.T, qualifying, discard int) *fixture {
	t.Helper()
	ctx := context.Background()

	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "batch.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() }) //nolint:errcheck
	require.NoError(t, s.Migrate(ctx))

	require.NoError(t, s.UpsertICP(ctx, &model.ICP{
		ID: "icp-1", TeamID: "team-1", Name: "Fintech finance leaders",
		Demographics:  model.Demographics{Titles: []string{"CFO"}, Locations: []string{"New York"}},
		Firmographics: model.Firmographics{Industries: []string{"fintech"}},
	}))
	require.NoError(t, s.UpsertCampaign(ctx, &model.Campaign{ID: "camp-1", TeamID: "team-1", ICPID: "icp-1", Name: "Q4"}))

	var prospects []model.Prospect
	for i := 0; i < qualifying; i++ {
		prospects = append(prospects, model.Prospect{
			ID: fmt.Sprintf("q-%d", i), Platform: "linkedin", PlatformProfileID: fmt.Sprintf("q-%d", i),
			Name: fmt.Sprintf("Finance Lead %d", i), Headline: "CFO", Location: "New York",
			CompanyName: fmt.Sprintf("Fintech Co %d", i),
		})
	}
	for i := 0; i < discard; i++ {
		prospects = append(prospects, model.Prospect{
			ID: fmt.Sprintf("d-%d", i), Platform: "linkedin", PlatformProfileID: fmt.Sprintf("d-%d", i),
			Name: fmt.Sprintf("Engineer %d", i), Headline: "Engineer",
		})
	}
	_, err = s.InsertProspects(ctx, "camp-1", prospects)
	require.NoError(t, err)

	return &fixture{db: s, embedder: &fakeEmbedder{}, index: &countingIndex{}}
}

func (f *fixture) optimizer(st interface {
	scoring.Store
	Store
}) *Optimizer {
	engine := scoring.NewEngine(st, f.embedder, f.index)
	return NewOptimizer(engine, st, f.embedder)
}

func (f *fixture) qualifiedCount(t *testing.T) int {
	t.Helper()
	c, err := f.db.GetCampaign(context.Background(), "camp-1")
	require.NoError(t, err)
	return c.QualifiedCount
}

func TestScoreBatch_Optimized(t *testing.T) {
	f := newFixture(t, 3, 2)

	res, err := f.optimizer(f.db).ScoreBatch(context.Background(), "camp-1", "team-1", 0)
	require.NoError(t, err)

	assert.Equal(t, ModeOptimized, res.Mode)
	assert.Equal(t, 5, res.Processed)
	assert.Equal(t, 3, res.Qualified)
	assert.Equal(t, Breakdown{Hot: 3, Discard: 2}, res.Breakdown)
	assert.Empty(t, res.Errors)
	assert.Equal(t, 1, f.embedder.batchCalls)
	assert.Zero(t, f.embedder.calls)
	assert.Equal(t, 1, f.index.fetches)
	assert.Equal(t, 3, f.qualifiedCount(t))

	want := (3*0.85 + 2*0.2) / 5
	assert.InDelta(t, want, res.AvgScore, 1e-9)
}

func TestScoreBatch_MatchesSingleProspectScores(t *testing.T) {
	batchFix := newFixture(t, 2, 2)
	singleFix := newFixture(t, 2, 2)

	res, err := batchFix.optimizer(batchFix.db).ScoreBatch(context.Background(), "camp-1", "team-1", 10)
	require.NoError(t, err)
	require.Equal(t, ModeOptimized, res.Mode)

	engine := scoring.NewEngine(singleFix.db, singleFix.embedder, singleFix.index)
	for _, id := range []string{"q-0", "q-1", "d-0", "d-1"} {
		single, err := engine.ScoreProspect(context.Background(), id, "team-1")
		require.NoError(t, err)

		p, err := batchFix.db.GetProspect(context.Background(), id)
		require.NoError(t, err)
		require.NotNil(t, p.ICPMatchScore)
		assert.Equal(t, single.ICPMatchScore, *p.ICPMatchScore, id)
		assert.Equal(t, single.QualityScore, *p.QualityScore, id)
		assert.Equal(t, single.Status, p.Status, id)
	}
}

func TestScoreBatch_TransactionFailureFallsBack(t *testing.T) {
	f := newFixture(t, 6, 4)

	res, err := f.optimizer(&bulkFailStore{f.db}).ScoreBatch(context.Background(), "camp-1", "team-1", 100)
	require.NoError(t, err)

	assert.Equal(t, ModeSequential, res.Mode)
	assert.Equal(t, 10, res.Processed)
	assert.Equal(t, 6, res.Qualified)
	assert.Empty(t, res.Errors)
	assert.Equal(t, 10, f.embedder.calls)
	assert.Equal(t, 6, f.qualifiedCount(t))

	left, err := f.db.ListProspectsByStatus(context.Background(), "camp-1", model.ProspectStatusNew, 100)
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestScoreBatch_FallbackCollectsItemErrors(t *testing.T) {
	f := newFixture(t, 3, 1)
	f.embedder.batchErr = errors.New("batch endpoint down")
	f.embedder.failText = "Engineer"

	res, err := f.optimizer(f.db).ScoreBatch(context.Background(), "camp-1", "team-1", 100)
	require.NoError(t, err)

	assert.Equal(t, ModeSequential, res.Mode)
	assert.Equal(t, 3, res.Processed)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "d-0", res.Errors[0].ProspectID)
	assert.Contains(t, res.Errors[0].Error, "embedding rejected")
	assert.Equal(t, 3, f.qualifiedCount(t))
}

func TestScoreBatch_RespectsMaxCount(t *testing.T) {
	f := newFixture(t, 4, 0)

	res, err := f.optimizer(f.db).ScoreBatch(context.Background(), "camp-1", "team-1", 2)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Processed)

	left, err := f.db.ListProspectsByStatus(context.Background(), "camp-1", model.ProspectStatusNew, 100)
	require.NoError(t, err)
	assert.Len(t, left, 2)
}

func TestScoreBatch_NothingToScore(t *testing.T) {
	f := newFixture(t, 0, 0)

	res, err := f.optimizer(f.db).ScoreBatch(context.Background(), "camp-1", "team-1", 10)
	require.NoError(t, err)
	assert.Zero(t, res.Processed)
	assert.Zero(t, f.embedder.batchCalls)
}

func TestScoreBatch_CampaignErrorsAreRaised(t *testing.T) {
	f := newFixture(t, 1, 0)
	opt := f.optimizer(f.db)

	_, err := opt.ScoreBatch(context.Background(), "camp-1", "team-2", 10)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	_, err = opt.ScoreBatch(context.Background(), "nope", "team-1", 10)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
	assert.Zero(t, f.embedder.calls+f.embedder.batchCalls)
}

func TestScoreCampaigns(t *testing.T) {
	f := newFixture(t, 2, 1)

	outcomes := f.optimizer(f.db).ScoreCampaigns(context.Background(), []string{"camp-1", "missing"}, "team-1", 10, 2)
	require.Len(t, outcomes, 2)
	assert.Equal(t, "camp-1", outcomes[0].CampaignID)
	require.NotNil(t, outcomes[0].Result)
	assert.Equal(t, 3, outcomes[0].Result.Processed)
	assert.Empty(t, outcomes[0].Error)
	assert.Equal(t, "missing", outcomes[1].CampaignID)
	assert.Nil(t, outcomes[1].Result)
	assert.Contains(t, outcomes[1].Error, "not found")
}

func TestOptions(t *testing.T) {
	o := NewOptimizer(nil, nil, nil, WithChunkSize(5), WithConcurrency(3))
	assert.Equal(t, 5, o.chunkSize)
	assert.Equal(t, 3, o.concurrency)

	o = NewOptimizer(nil, nil, nil, WithChunkSize(0), WithConcurrency(-1))
	assert.Equal(t, DefaultChunkSize, o.chunkSize)
	assert.Equal(t, DefaultConcurrency, o.concurrency)
}
