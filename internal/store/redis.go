package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"

	"github.com/leadline-ai/leadline/internal/metrics"
	"github.com/leadline-ai/leadline/internal/models"
)

const (
	frameTTL = 24 * time.Hour
)

// RedisStore caches recent room frames so late joiners and the meeting REST
// surface can replay what was said without hitting the relational store.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new Redis store.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisStore{client: client}, nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// roomFramesKey returns the key for a room's frame sorted set.
func roomFramesKey(roomID string) string {
	return fmt.Sprintf("room:%s:frames", roomID)
}

// CacheFrame stores a broadcast frame in the room's replay window.
func (s *RedisStore) CacheFrame(ctx context.Context, roomID string, env *models.Envelope) error {
	start := time.Now()
	defer func() { metrics.RedisLatency.Observe(time.Since(start).Seconds()) }()

	cached := models.CachedFrame{
		ID:        ulid.Make().String(),
		Type:      string(env.Type),
		FromUser:  env.FromUser,
		Message:   env.Text,
		Timestamp: time.Now().UnixMilli(),
	}

	data, err := json.Marshal(cached)
	if err != nil {
		return err
	}

	key := roomFramesKey(roomID)
	if err := s.client.ZAdd(ctx, key, redis.Z{
		Score:  float64(cached.Timestamp),
		Member: string(data),
	}).Err(); err != nil {
		return err
	}
	s.client.Expire(ctx, key, frameTTL)
	return nil
}

// RecentFrames retrieves up to limit cached frames for a room, newest first.
func (s *RedisStore) RecentFrames(ctx context.Context, roomID string, limit int) ([]models.CachedFrame, error) {
	start := time.Now()
	defer func() { metrics.RedisLatency.Observe(time.Since(start).Seconds()) }()

	if limit <= 0 {
		limit = 50
	}

	results, err := s.client.ZRevRange(ctx, roomFramesKey(roomID), 0, int64(limit)-1).Result()
	if err != nil {
		return nil, err
	}

	frames := make([]models.CachedFrame, 0, len(results))
	for _, data := range results {
		var frame models.CachedFrame
		if err := json.Unmarshal([]byte(data), &frame); err != nil {
			continue
		}
		frames = append(frames, frame)
	}
	return frames, nil
}

// DropRoom removes a room's replay window once the meeting is over.
func (s *RedisStore) DropRoom(ctx context.Context, roomID string) error {
	return s.client.Del(ctx, roomFramesKey(roomID)).Err()
}
