package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/goodboyai/kennel/pkg/models"
)

// DefaultSessionTTL bounds how long a cached session survives without
// activity. Refreshed on every write.
const DefaultSessionTTL = 24 * time.Hour

const sessionKeyPrefix = "kennel:session:"

// RedisStore is the optional cache tier in front of the session store.
// All callers treat it as best-effort: a miss or an error never blocks
// the request path.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to redisURL and verifies the connection.
// Both redis:// URLs and bare host:port addresses are accepted.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		if strings.Contains(redisURL, "://") {
			return nil, fmt.Errorf("failed to parse redis url: %w", err)
		}
		opts = &redis.Options{Addr: redisURL}
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return &RedisStore{client: client}, nil
}

func sessionKey(id string) string { return sessionKeyPrefix + id }

// SetSession caches a session under its ID with the default TTL.
func (r *RedisStore) SetSession(ctx context.Context, sess *models.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := r.client.Set(ctx, sessionKey(sess.ID), data, DefaultSessionTTL).Err(); err != nil {
		return fmt.Errorf("failed to cache session: %w", err)
	}
	return nil
}

// GetSession returns the cached session, or (nil, nil) on a miss.
func (r *RedisStore) GetSession(ctx context.Context, id string) (*models.Session, error) {
	data, err := r.client.Get(ctx, sessionKey(id)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cached session: %w", err)
	}
	var sess models.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("failed to parse cached session: %w", err)
	}
	return &sess, nil
}

func (r *RedisStore) DeleteSession(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, sessionKey(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete cached session: %w", err)
	}
	return nil
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
