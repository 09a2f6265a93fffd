package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"ardu-agent/internal/core/domain"
	"ardu-agent/internal/core/ports"
)

const (
	redisSessionKey  = "ardu:session"
	redisSnapshotKey = "ardu:snapshot"

	reviewedTTL = 30 * 24 * time.Hour
)

// RedisStorage shares one session and feed snapshot between agents pointed at the same Redis.
type RedisStorage struct {
	client      *redis.Client
	snapshotTTL time.Duration
}

func NewRedisStorage(ctx context.Context, client *redis.Client) (*RedisStorage, error) {
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("unable to connect to redis: %w", err)
	}
	return &RedisStorage{client: client, snapshotTTL: 24 * time.Hour}, nil
}

var _ ports.Storage = (*RedisStorage)(nil)

func reviewedKey(kind string) string {
	return fmt.Sprintf("ardu:reviewed:%s", kind)
}

func (s *RedisStorage) SaveSession(ctx context.Context, sess domain.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	ttl, keep := sessionTTL(sess, time.Now())
	if !keep {
		return s.ClearSession(ctx)
	}
	return s.client.Set(ctx, redisSessionKey, data, ttl).Err()
}

// sessionTTL makes the stored session expire together with its token. A zero
// ttl means no expiry; keep is false when the token has already expired.
func sessionTTL(sess domain.Session, now time.Time) (ttl time.Duration, keep bool) {
	if sess.ExpiresAt.IsZero() {
		return 0, true
	}
	ttl = sess.ExpiresAt.Sub(now)
	return ttl, ttl > 0
}

func (s *RedisStorage) LoadSession(ctx context.Context) (domain.Session, error) {
	data, err := s.client.Get(ctx, redisSessionKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Session{}, nil
	}
	if err != nil {
		return domain.Session{}, err
	}
	var sess domain.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return domain.Session{}, fmt.Errorf("decode stored session: %w", err)
	}
	return sess, nil
}

func (s *RedisStorage) ClearSession(ctx context.Context) error {
	return s.client.Del(ctx, redisSessionKey).Err()
}

func (s *RedisStorage) SaveSnapshot(ctx context.Context, posts []domain.Post) error {
	data, err := json.Marshal(posts)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, redisSnapshotKey, data, s.snapshotTTL).Err()
}

func (s *RedisStorage) LoadSnapshot(ctx context.Context) ([]domain.Post, error) {
	data, err := s.client.Get(ctx, redisSnapshotKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var posts []domain.Post
	if err := json.Unmarshal(data, &posts); err != nil {
		return nil, fmt.Errorf("decode stored snapshot: %w", err)
	}
	return posts, nil
}

func (s *RedisStorage) IsReviewed(ctx context.Context, kind, id string) (bool, error) {
	return s.client.SIsMember(ctx, reviewedKey(kind), id).Result()
}

// MarkReviewed adds id to the kind's set and pushes the set's expiry out.
func (s *RedisStorage) MarkReviewed(ctx context.Context, kind, id string) error {
	key := reviewedKey(kind)
	pipe := s.client.Pipeline()
	pipe.SAdd(ctx, key, id)
	pipe.Expire(ctx, key, reviewedTTL)
	_, err := pipe.Exec(ctx)
	return err
}
