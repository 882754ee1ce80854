package util

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Deduper is a Redis fast-path guard against reprocessing the same
// message across replicas. The persisted per-user dedup set remains the
// source of truth; this only cuts duplicate work. Seen filters ids some
// replica already handled; MarkProcessed records an id only once its
// side effects were attempted, so a run that dies early leaves the ids
// visible to the next scan.
type Deduper struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewDeduper(rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *Deduper {
	return &Deduper{
		rdb:    rdb,
		ttl:    ttl,
		logger: logger,
	}
}

func (d *Deduper) key(scope, id string) string {
	return fmt.Sprintf("dedup:%s:%s", scope, id)
}

// Seen reports whether a (scope, id) pair was already marked within the
// TTL. When Redis is unavailable it returns false so processing never
// blocks on the cache.
func (d *Deduper) Seen(ctx context.Context, scope, id string) bool {
	n, err := d.rdb.Exists(ctx, d.key(scope, id)).Result()
	if err != nil {
		if d.logger != nil {
			d.logger.Warn("Redis dedup check failed, allowing processing",
				zap.String("scope", scope),
				zap.String("id", id),
				zap.Error(err),
			)
		}
		return false
	}

	if n > 0 && d.logger != nil {
		d.logger.Info("Skipped duplicated message",
			zap.String("scope", scope),
			zap.String("id", id),
		)
	}
	return n > 0
}

// MarkProcessed records a (scope, id) pair for the TTL. Failures are
// logged and swallowed; the persisted dedup set still covers the id.
func (d *Deduper) MarkProcessed(ctx context.Context, scope, id string) {
	if err := d.rdb.Set(ctx, d.key(scope, id), 1, d.ttl).Err(); err != nil && d.logger != nil {
		d.logger.Warn("Redis dedup mark failed",
			zap.String("scope", scope),
			zap.String("id", id),
			zap.Error(err),
		)
	}
}
