// Package cache provides an optional Redis read-through cache for link
// resolution. The store stays the source of truth; a cache failure only
// costs a database read.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrMiss is returned when the code is not cached.
var ErrMiss = errors.New("cache miss")

// Entry is the slim projection of a link kept in Redis. Hosted pixel bytes
// never go through the cache; only redirect links are cached.
type Entry struct {
	LinkID         uint   `json:"link_id"`
	Kind           string `json:"kind"`
	DestinationURL string `json:"destination_url"`
	OwnerID        string `json:"owner_id"`
}

// Cache wraps the Redis client.
type Cache struct {
	rdb *redis.Client
	ttl time.Duration
}

// ConnectRedis dials Redis and verifies the connection.
func ConnectRedis(addr, password string, ttl time.Duration) (*Cache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &Cache{rdb: rdb, ttl: ttl}, nil
}

// Get fetches the cached entry for a code. Returns ErrMiss when absent.
func (c *Cache) Get(ctx context.Context, code string) (*Entry, error) {
	raw, err := c.rdb.Get(ctx, key(code)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrMiss
		}
		return nil, err
	}
	var entry Entry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// Set stores an entry under the code with the configured TTL.
func (c *Cache) Set(ctx context.Context, code string, entry *Entry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, key(code), raw, c.ttl).Err()
}

// Delete evicts a code, used when the link is deleted.
func (c *Cache) Delete(ctx context.Context, code string) error {
	return c.rdb.Del(ctx, key(code)).Err()
}

// Close releases the client.
func (c *Cache) Close() error {
	return c.rdb.Close()
}

func key(code string) string {
	return "link:" + code
}
