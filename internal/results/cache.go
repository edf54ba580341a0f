package results

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"election-service/internal/database"
	"election-service/internal/database/repositories"
	"election-service/internal/domain"
	"election-service/pkg/config"
)

// Cache holds recent tallies outside the process. Get returns nil on a miss.
type Cache interface {
	Get(ctx context.Context, electionID string) (*domain.ResultSnapshot, error)
	Set(ctx context.Context, snap *domain.ResultSnapshot, ttl time.Duration) error
	Delete(ctx context.Context, electionID string) error
}

// SQLCache keeps tallies in the result_cache table
type SQLCache struct {
	repo  *repositories.ResultCacheRepository
	clock domain.Clock
}

func NewSQLCache(db *database.DB, clock domain.Clock) *SQLCache {
	return &SQLCache{repo: repositories.NewResultCacheRepository(db), clock: clock}
}

func (c *SQLCache) Get(ctx context.Context, electionID string) (*domain.ResultSnapshot, error) {
	row, err := c.repo.Get(ctx, electionID)
	if err != nil || row == nil {
		return nil, err
	}
	if !c.clock.Now().Before(row.ExpiresAt) {
		return nil, nil
	}
	var snap domain.ResultSnapshot
	if err := json.Unmarshal([]byte(row.Payload), &snap); err != nil {
		return nil, fmt.Errorf("decode cached result: %w", err)
	}
	return &snap, nil
}

func (c *SQLCache) Set(ctx context.Context, snap *domain.ResultSnapshot, ttl time.Duration) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode cached result: %w", err)
	}
	return c.repo.Put(ctx, &database.CachedResult{
		ElectionID:     snap.ElectionID,
		ResultsVersion: snap.ResultsVersion,
		Payload:        string(payload),
		ExpiresAt:      c.clock.Now().Add(ttl),
	})
}

func (c *SQLCache) Delete(ctx context.Context, electionID string) error {
	return c.repo.Delete(ctx, electionID)
}

// RedisCache shares tallies between instances
type RedisCache struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisCache(client redis.UniversalClient, prefix string) *RedisCache {
	return &RedisCache{client: client, prefix: prefix}
}

// NewRedisClient opens a client from the redis section of the config
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})
}

func (c *RedisCache) key(electionID string) string {
	return c.prefix + "results:" + electionID
}

func (c *RedisCache) Get(ctx context.Context, electionID string) (*domain.ResultSnapshot, error) {
	raw, err := c.client.Get(ctx, c.key(electionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	var snap domain.ResultSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("decode cached result: %w", err)
	}
	return &snap, nil
}

func (c *RedisCache) Set(ctx context.Context, snap *domain.ResultSnapshot, ttl time.Duration) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode cached result: %w", err)
	}
	if err := c.client.Set(ctx, c.key(snap.ElectionID), payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (c *RedisCache) Delete(ctx context.Context, electionID string) error {
	if err := c.client.Del(ctx, c.key(electionID)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
