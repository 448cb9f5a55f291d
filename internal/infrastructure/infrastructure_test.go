package infrastructure

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bazaar.dev/realtime/internal/config"
)

func TestSchemaDeclaresServiceTables(t *testing.T) {
	for _, table := range []string{"user_presence", "notifications", "notification_preferences"} {
		assert.Contains(t, schemaSQL, "CREATE TABLE IF NOT EXISTS "+table)
	}
	assert.Contains(t, schemaSQL, "CHECK (active_connections >= 0)")
}

func TestNewRedisClient(t *testing.T) {
	mr := miniredis.RunT(t)

	rdb, err := NewRedisClient(context.Background(), config.RedisConfig{
		Addr:        mr.Addr(),
		PoolSize:    4,
		DialTimeout: time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })

	require.NoError(t, rdb.Set(context.Background(), "k", "v", 0).Err())
	assert.Equal(t, "v", mustGet(t, mr, "k"))
}

func mustGet(t *testing.T, mr *miniredis.Miniredis, key string) string {
	t.Helper()
	v, err := mr.Get(key)
	require.NoError(t, err)
	return v
}

func TestNewRedisClient_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewRedisClient(context.Background(), config.RedisConfig{
		Addr:        addr,
		DialTimeout: 200 * time.Millisecond,
	})
	require.Error(t, err)
}

func TestNewNATSConn_DisabledWithoutURL(t *testing.T) {
	nc, err := NewNATSConn(config.NATSConfig{})
	require.NoError(t, err)
	assert.Nil(t, nc)
}
