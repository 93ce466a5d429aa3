package idempotency

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/repository"
)

const (
	redisKeyPrefix = "idem:"
	redisTTL       = 24 * time.Hour
)

// Cache maps a client-supplied Idempotency-Key to the first response
// produced under it. Postgres is the durable source of truth; Redis is a
// best-effort read-through fast path and the system stays correct with
// Redis unreachable.
type Cache struct {
	redis  *redis.Client
	repo   repository.IdempotencyRepository
	logger *zap.Logger
}

// NewCache constructs the cache. A nil redis client disables the fast path.
func NewCache(redisClient *redis.Client, repo repository.IdempotencyRepository, logger *zap.Logger) *Cache {
	return &Cache{redis: redisClient, repo: repo, logger: logger}
}

type cachedResponse struct {
	Response   json.RawMessage `json:"response"`
	StatusCode int             `json:"status_code"`
}

// Lookup returns the stored record for key, or nil when the key is unseen.
func (c *Cache) Lookup(ctx context.Context, key string) (*domain.IdempotencyRecord, error) {
	if rec := c.lookupRedis(ctx, key); rec != nil {
		return rec, nil
	}

	record, err := c.repo.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if record != nil {
		c.storeRedis(ctx, record)
	}
	return record, nil
}

// Save persists the record. The durable write is a conflict-tolerant upsert
// that no-ops on collision, so the first writer always wins; the Redis copy
// is advisory.
func (c *Cache) Save(ctx context.Context, record *domain.IdempotencyRecord) error {
	if err := c.repo.Put(ctx, record); err != nil {
		return err
	}
	c.storeRedis(ctx, record)
	return nil
}

func (c *Cache) lookupRedis(ctx context.Context, key string) *domain.IdempotencyRecord {
	if c.redis == nil {
		return nil
	}
	raw, err := c.redis.Get(ctx, redisKeyPrefix+key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("idempotency redis lookup failed", zap.Error(err))
		}
		return nil
	}
	var cached cachedResponse
	if err := json.Unmarshal(raw, &cached); err != nil {
		c.logger.Warn("idempotency redis payload malformed", zap.Error(err))
		return nil
	}
	return &domain.IdempotencyRecord{
		Key:        key,
		Response:   cached.Response,
		StatusCode: cached.StatusCode,
	}
}

func (c *Cache) storeRedis(ctx context.Context, record *domain.IdempotencyRecord) {
	if c.redis == nil {
		return
	}
	raw, err := json.Marshal(cachedResponse{
		Response:   record.Response,
		StatusCode: record.StatusCode,
	})
	if err != nil {
		return
	}
	// SetNX keeps the first stored response even if two processes race.
	if err := c.redis.SetNX(ctx, redisKeyPrefix+record.Key, raw, redisTTL).Err(); err != nil {
		c.logger.Warn("idempotency redis store failed", zap.Error(err))
	}
}
