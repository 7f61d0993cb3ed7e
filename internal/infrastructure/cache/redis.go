package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kirillkom/grounded-docqa/internal/core/domain"
	"github.com/kirillkom/grounded-docqa/internal/core/ports"
)

const redisKeyPrefix = "docqa:candidates:"

// Redis shares candidate lists between API replicas. Redis failures are
// reported as misses; the pipeline recomputes instead of failing.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

var _ ports.CandidateCache = (*Redis)(nil)

// NewRedisClient accepts either a redis:// URL or a bare host:port address.
func NewRedisClient(ctx context.Context, addr string) (*redis.Client, error) {
	opts, err := redis.ParseURL(addr)
	if err != nil {
		opts = &redis.Options{Addr: addr}
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Redis{client: client, ttl: ttl}
}

func (r *Redis) Get(ctx context.Context, key string) ([]domain.Candidate, bool) {
	raw, err := r.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.Debug("candidate_cache_get_failed", "error", err)
		}
		return nil, false
	}
	candidates, err := decodeCandidates(raw)
	if err != nil {
		slog.Warn("candidate_cache_decode_failed", "error", err)
		return nil, false
	}
	return candidates, true
}

func (r *Redis) Set(ctx context.Context, key string, candidates []domain.Candidate) {
	raw, err := encodeCandidates(candidates)
	if err != nil {
		slog.Warn("candidate_cache_encode_failed", "error", err)
		return
	}
	if err := r.client.Set(ctx, redisKeyPrefix+key, raw, r.ttl).Err(); err != nil {
		slog.Debug("candidate_cache_set_failed", "error", err)
	}
}

func encodeCandidates(candidates []domain.Candidate) ([]byte, error) {
	if candidates == nil {
		candidates = []domain.Candidate{}
	}
	return json.Marshal(candidates)
}

func decodeCandidates(raw []byte) ([]domain.Candidate, error) {
	var out []domain.Candidate
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode candidates: %w", err)
	}
	return out, nil
}
