package cooldown

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kdimtricp/sitewatch/internal/logging"
)

// Auditor mirrors accepted cooldown keys somewhere outside the process. It is
// never consulted for suppression decisions.
type Auditor interface {
	Record(ctx context.Context, sessionID string, e Entry) error
}

const auditTTL = 24 * time.Hour

type RedisAuditor struct {
	rdb *redis.Client
}

func NewRedisAuditor(addr, password string, db int) (*RedisAuditor, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        addr,
		Password:    password,
		DB:          db,
		DialTimeout: 2 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logging.Info().Str("addr", addr).Msg("connected to redis")

	return &RedisAuditor{rdb: rdb}, nil
}

func auditKey(sessionID string) string {
	return "cooldown:" + sessionID
}

func (a *RedisAuditor) Record(ctx context.Context, sessionID string, e Entry) error {
	key := auditKey(sessionID)
	field := e.Category + "|" + e.Bucket

	pipe := a.rdb.TxPipeline()
	pipe.HSet(ctx, key, field, strconv.FormatFloat(e.LastSeen, 'f', 3, 64))
	pipe.Expire(ctx, key, auditTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record cooldown entry: %w", err)
	}
	return nil
}

func (a *RedisAuditor) Close() error {
	return a.rdb.Close()
}
