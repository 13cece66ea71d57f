package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"kgsink/internal/store"
)

// spaceRecord is the JSON shape stored for each cached space
type spaceRecord struct {
	ID                              string    `json:"id"`
	DAOAddress                      string    `json:"dao_address"`
	SpacePluginAddress              string    `json:"space_plugin_address,omitempty"`
	MainVotingPluginAddress         string    `json:"main_voting_plugin_address,omitempty"`
	MemberAccessPluginAddress       string    `json:"member_access_plugin_address,omitempty"`
	PersonalSpaceAdminPluginAddress string    `json:"personal_space_admin_plugin_address,omitempty"`
	IsRootSpace                     bool      `json:"is_root_space"`
	IsActive                        bool      `json:"is_active"`
	CreatedAtBlock                  int64     `json:"created_at_block"`
	CreatedAt                       time.Time `json:"created_at"`
}

// RedisCache shares resolved spaces between indexer processes
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCache connects to redisURL and verifies the connection
func NewRedisCache(redisURL string, ttl time.Duration) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisCacheWithClient(client, ttl), nil
}

// NewRedisCacheWithClient creates a cache from an existing Redis client
func NewRedisCacheWithClient(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisCache{
		client: client,
		prefix: "space:",
		ttl:    ttl,
	}
}

func (c *RedisCache) key(key string) string {
	return c.prefix + key
}

func (c *RedisCache) Get(ctx context.Context, key string) (store.Space, bool, error) {
	jsonData, err := c.client.Get(ctx, c.key(key)).Result()
	if err == redis.Nil {
		return store.Space{}, false, nil
	}
	if err != nil {
		return store.Space{}, false, fmt.Errorf("get cached space: %w", err)
	}

	var rec spaceRecord
	if err := json.Unmarshal([]byte(jsonData), &rec); err != nil {
		return store.Space{}, false, fmt.Errorf("unmarshal cached space: %w", err)
	}
	return store.Space{
		ID:                              rec.ID,
		DAOAddress:                      rec.DAOAddress,
		SpacePluginAddress:              rec.SpacePluginAddress,
		MainVotingPluginAddress:         rec.MainVotingPluginAddress,
		MemberAccessPluginAddress:       rec.MemberAccessPluginAddress,
		PersonalSpaceAdminPluginAddress: rec.PersonalSpaceAdminPluginAddress,
		IsRootSpace:                     rec.IsRootSpace,
		IsActive:                        rec.IsActive,
		CreatedAtBlock:                  rec.CreatedAtBlock,
		CreatedAt:                       rec.CreatedAt,
	}, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, space store.Space) error {
	jsonData, err := json.Marshal(spaceRecord{
		ID:                              space.ID,
		DAOAddress:                      space.DAOAddress,
		SpacePluginAddress:              space.SpacePluginAddress,
		MainVotingPluginAddress:         space.MainVotingPluginAddress,
		MemberAccessPluginAddress:       space.MemberAccessPluginAddress,
		PersonalSpaceAdminPluginAddress: space.PersonalSpaceAdminPluginAddress,
		IsRootSpace:                     space.IsRootSpace,
		IsActive:                        space.IsActive,
		CreatedAtBlock:                  space.CreatedAtBlock,
		CreatedAt:                       space.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal cached space: %w", err)
	}
	if err := c.client.Set(ctx, c.key(key), jsonData, c.ttl).Err(); err != nil {
		return fmt.Errorf("set cached space: %w", err)
	}
	return nil
}

func (c *RedisCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	prefixed := make([]string, len(keys))
	for i, key := range keys {
		prefixed[i] = c.key(key)
	}
	if err := c.client.Del(ctx, prefixed...).Err(); err != nil {
		return fmt.Errorf("delete cached spaces: %w", err)
	}
	return nil
}

// Close closes the Redis connection
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// Ping checks if Redis is reachable
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
