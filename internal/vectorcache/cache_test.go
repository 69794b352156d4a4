package vectorcache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/prospector/pkg/vectorindex"
)

type countingIndex struct {
	vectors map[string]*vectorindex.Vector
	err     error
	calls   int
}

func (i *countingIndex) FetchVector(_ context.Context, namespace, id string) (*vectorindex.Vector, error) {
	i.calls++
	if i.err != nil {
		return nil, i.err
	}
	return i.vectors[namespace+"/"+id], nil
}

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close() //nolint:errcheck
		mr.Close()
	})
	return mr, client
}

func newIndex() *countingIndex {
	return &countingIndex{vectors: map[string]*vectorindex.Vector{
		"team_a_icps/icp-1": {ID: "icp-1", Values: []float32{0.1, 0.2, 0.3}},
	}}
}

func TestFetchVector_ReadThrough(t *testing.T) {
	mr, rdb := setupRedis(t)
	idx := newIndex()
	c := New(rdb, idx, time.Minute)
	ctx := context.Background()

	v, err := c.FetchVector(ctx, "team_a_icps", "icp-1")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, v.Values)
	assert.True(t, mr.Exists("prospector:vec:team_a_icps:icp-1"))
	assert.Equal(t, time.Minute, mr.TTL("prospector:vec:team_a_icps:icp-1"))

	v, err = c.FetchVector(ctx, "team_a_icps", "icp-1")
	require.NoError(t, err)
	assert.Equal(t, "icp-1", v.ID)
	assert.Equal(t, 1, idx.calls)
}

func TestFetchVector_ExpiredEntryReloads(t *testing.T) {
	mr, rdb := setupRedis(t)
	idx := newIndex()
	c := New(rdb, idx, time.Minute)
	ctx := context.Background()

	_, err := c.FetchVector(ctx, "team_a_icps", "icp-1")
	require.NoError(t, err)
	mr.FastForward(2 * time.Minute)

	_, err = c.FetchVector(ctx, "team_a_icps", "icp-1")
	require.NoError(t, err)
	assert.Equal(t, 2, idx.calls)
}

func TestFetchVector_MissingNotCached(t *testing.T) {
	mr, rdb := setupRedis(t)
	idx := newIndex()
	c := New(rdb, idx, 0)

	v, err := c.FetchVector(context.Background(), "team_a_icps", "nope")
	require.NoError(t, err)
	assert.Nil(t, v)
	assert.False(t, mr.Exists("prospector:vec:team_a_icps:nope"))
	assert.Equal(t, DefaultTTL, c.ttl)
}

func TestFetchVector_IndexError(t *testing.T) {
	_, rdb := setupRedis(t)
	idx := &countingIndex{err: errors.New("index unavailable")}

	_, err := New(rdb, idx, time.Minute).FetchVector(context.Background(), "ns", "id")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vectorcache: fetch ns/id")
}

func TestFetchVector_RedisDownFallsThrough(t *testing.T) {
	mr, rdb := setupRedis(t)
	idx := newIndex()
	c := New(rdb, idx, time.Minute)
	mr.Close()

	v, err := c.FetchVector(context.Background(), "team_a_icps", "icp-1")
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, 1, idx.calls)
}

func TestFetchVector_CorruptEntryReloads(t *testing.T) {
	mr, rdb := setupRedis(t)
	idx := newIndex()
	require.NoError(t, mr.Set("prospector:vec:team_a_icps:icp-1", "{not json"))

	v, err := New(rdb, idx, time.Minute).FetchVector(context.Background(), "team_a_icps", "icp-1")
	require.NoError(t, err)
	assert.Equal(t, "icp-1", v.ID)
	assert.Equal(t, 1, idx.calls)
}

func TestInvalidate(t *testing.T) {
	mr, rdb := setupRedis(t)
	idx := newIndex()
	c := New(rdb, idx, time.Minute)
	ctx := context.Background()

	_, err := c.FetchVector(ctx, "team_a_icps", "icp-1")
	require.NoError(t, err)
	require.NoError(t, c.Invalidate(ctx, "team_a_icps", "icp-1"))
	assert.False(t, mr.Exists("prospector:vec:team_a_icps:icp-1"))

	_, err = c.FetchVector(ctx, "team_a_icps", "icp-1")
	require.NoError(t, err)
	assert.Equal(t, 2, idx.calls)
}
