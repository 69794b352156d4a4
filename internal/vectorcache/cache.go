// Package vectorcache keeps ICP vectors in Redis in front of the vector index.
package vectorcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospector/pkg/vectorindex"
)

// DefaultTTL bounds how long a cached vector is trusted.
const DefaultTTL = time.Hour

// Index is the source of truth for vectors.
type Index interface {
	FetchVector(ctx context.Context, namespace, id string) (*vectorindex.Vector, error)
}

// Cache is a read-through vector cache. Redis errors fall through to the
// index; missing vectors are never cached.
type Cache struct {
	rdb   redis.Cmdable
	index Index
	ttl   time.Duration
}

// New creates a cache. A non-positive ttl uses DefaultTTL.
func New(rdb redis.Cmdable, index Index, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{rdb: rdb, index: index, ttl: ttl}
}

func key(namespace, id string) string {
	return fmt.Sprintf("prospector:vec:%s:%s", namespace, id)
}

// FetchVector returns the cached vector or loads and caches it from the index.
func (c *Cache) FetchVector(ctx context.Context, namespace, id string) (*vectorindex.Vector, error) {
	k := key(namespace, id)
	log := zap.L().With(zap.String("namespace", namespace), zap.String("vector_id", id))

	data, err := c.rdb.Get(ctx, k).Bytes()
	switch {
	case err == nil:
		var v vectorindex.Vector
		if jerr := json.Unmarshal(data, &v); jerr == nil {
			return &v, nil
		}
		log.Warn("vectorcache: dropping undecodable entry")
		c.rdb.Del(ctx, k)
	case errors.Is(err, redis.Nil):
	default:
		log.Warn("vectorcache: redis get failed", zap.Error(err))
	}

	v, err := c.index.FetchVector(ctx, namespace, id)
	if err != nil {
		return nil, eris.Wrapf(err, "vectorcache: fetch %s/%s", namespace, id)
	}
	if v == nil || len(v.Values) == 0 {
		return v, nil
	}

	payload, err := json.Marshal(v)
	if err != nil {
		return nil, eris.Wrap(err, "vectorcache: marshal vector")
	}
	if err := c.rdb.Set(ctx, k, payload, c.ttl).Err(); err != nil {
		log.Warn("vectorcache: redis set failed", zap.Error(err))
	}
	return v, nil
}

// Invalidate drops the cached vector so the next fetch reloads it.
func (c *Cache) Invalidate(ctx context.Context, namespace, id string) error {
	if err := c.rdb.Del(ctx, key(namespace, id)).Err(); err != nil {
		return eris.Wrapf(err, "vectorcache: invalidate %s/%s", namespace, id)
	}
	return nil
}
