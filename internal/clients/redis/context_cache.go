package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/featurepulse-backend/internal/modules/feedback/classify"
	"github.com/yungbote/featurepulse-backend/internal/pkg/logger"
)

// ContextCache stores each workspace's extraction context under a short TTL so
// concurrent extraction batches share one themes/features read.
type ContextCache struct {
	log    *logger.Logger
	rdb    *goredis.Client
	ttl    time.Duration
	prefix string
}

func NewContextCache(rdb *goredis.Client, ttl time.Duration, prefix string, log *logger.Logger) *ContextCache {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &ContextCache{
		log:    log.With("service", "RedisContextCache"),
		rdb:    rdb,
		ttl:    ttl,
		prefix: prefix,
	}
}

func (c *ContextCache) key(workspaceID uuid.UUID) string {
	return c.prefix + ":extraction_context:" + workspaceID.String()
}

func (c *ContextCache) GetExtractionContext(ctx context.Context, workspaceID uuid.UUID) (*classify.ExtractionContext, bool) {
	if c == nil || c.rdb == nil {
		return nil, false
	}
	raw, err := c.rdb.Get(ctx, c.key(workspaceID)).Bytes()
	if err != nil {
		if !errors.Is(err, goredis.Nil) {
			c.log.Warn("Context cache read failed", "workspace_id", workspaceID, "error", err)
		}
		return nil, false
	}
	var ec classify.ExtractionContext
	if err := json.Unmarshal(raw, &ec); err != nil {
		return nil, false
	}
	return &ec, true
}

func (c *ContextCache) SetExtractionContext(ctx context.Context, workspaceID uuid.UUID, ec *classify.ExtractionContext) {
	if c == nil || c.rdb == nil || ec == nil {
		return
	}
	raw, err := json.Marshal(ec)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, c.key(workspaceID), raw, c.ttl).Err(); err != nil {
		c.log.Warn("Context cache write failed", "workspace_id", workspaceID, "error", err)
	}
}

// Invalidate drops a workspace's cached context, e.g. after themes change.
func (c *ContextCache) Invalidate(ctx context.Context, workspaceID uuid.UUID) error {
	if c == nil || c.rdb == nil {
		return nil
	}
	return c.rdb.Del(ctx, c.key(workspaceID)).Err()
}
