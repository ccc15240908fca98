package completion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig configures the Redis-backed reward ledger.
type RedisConfig struct {
	// KeyPrefix namespaces ledger keys, "callres" by default.
	KeyPrefix string
	// MarkerTTL bounds how long grant markers are kept. Zero keeps them
	// forever, which is the safe default for at-most-once issuance.
	MarkerTTL time.Duration
}

// RedisLedger is a Ledger backed by Redis, shared across pipeline instances.
// The per-session grant marker is claimed with SETNX so concurrent grants for
// the same session collapse to one, then the user total is incremented.
type RedisLedger struct {
	client redis.Cmdable
	cfg    RedisConfig
}

// NewRedisLedger wraps an existing Redis client as a reward ledger.
func NewRedisLedger(client redis.Cmdable, cfg RedisConfig) (*RedisLedger, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "callres"
	}
	return &RedisLedger{client: client, cfg: cfg}, nil
}

// Grant issues points for the session unless its marker already exists.
func (l *RedisLedger) Grant(ctx context.Context, userID, sessionID string, points int) (bool, int, error) {
	userID = strings.TrimSpace(userID)
	sessionID = strings.TrimSpace(sessionID)
	if userID == "" || sessionID == "" {
		return false, 0, fmt.Errorf("user id and session id are required")
	}
	if points < 0 {
		return false, 0, fmt.Errorf("points must be non-negative, got %d", points)
	}

	claimed, err := l.client.SetNX(ctx, l.grantKey(sessionID), points, l.cfg.MarkerTTL).Result()
	if err != nil {
		return false, 0, fmt.Errorf("claim grant marker: %w", err)
	}
	if !claimed {
		total, err := l.Total(ctx, userID)
		return false, total, err
	}

	total, err := l.client.IncrBy(ctx, l.totalKey(userID), int64(points)).Result()
	if err != nil {
		return true, 0, fmt.Errorf("increment user total: %w", err)
	}
	return true, int(total), nil
}

// Total returns the user's lifetime points, zero when the user is unknown.
func (l *RedisLedger) Total(ctx context.Context, userID string) (int, error) {
	total, err := l.client.Get(ctx, l.totalKey(strings.TrimSpace(userID))).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read user total: %w", err)
	}
	return total, nil
}

func (l *RedisLedger) grantKey(sessionID string) string {
	return l.cfg.KeyPrefix + ":grant:" + sessionID
}

func (l *RedisLedger) totalKey(userID string) string {
	return l.cfg.KeyPrefix + ":xp:" + userID
}
