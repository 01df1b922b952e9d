package cooldown

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRedisAuditorUnreachable(t *testing.T) {
	_, err := NewRedisAuditor("127.0.0.1:1", "", 0)
	assert.Error(t, err)
}

func TestRedisAuditorRecord(t *testing.T) {
	addr := os.Getenv("SITEWATCH_REDIS_ADDR")
	if addr == "" {
		t.Skip("SITEWATCH_REDIS_ADDR not set")
	}

	a, err := NewRedisAuditor(addr, "", 0)
	require.NoError(t, err)
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sessionID := "test-" + time.Now().Format("150405.000")
	require.NoError(t, a.Record(ctx, sessionID, Entry{Category: "ppe", Bucket: "north scaffold", LastSeen: 12.5}))

	got, err := a.rdb.HGet(ctx, auditKey(sessionID), "ppe|north scaffold").Result()
	require.NoError(t, err)
	assert.Equal(t, "12.500", got)

	ttl, err := a.rdb.TTL(ctx, auditKey(sessionID)).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Hour)

	a.rdb.Del(ctx, auditKey(sessionID))
}
