package redis

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestOptionsFromEnv(t *testing.T) {
	t.Setenv("REDIS_HOST", "cache.internal")
	t.Setenv("REDIS_PORT", "6380")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("REDIS_STREAM_MAXLEN", "0")

	opts := OptionsFromEnv()
	assert.Equal(t, "cache.internal:6380", opts.Addr)
	assert.Equal(t, 2, opts.DB)
	assert.Zero(t, opts.StreamMaxLen)
}

func TestOptionsFromEnv_Defaults(t *testing.T) {
	for _, k := range []string{"REDIS_HOST", "REDIS_PORT", "REDIS_PASSWORD", "REDIS_DB", "REDIS_STREAM_MAXLEN"} {
		t.Setenv(k, "")
	}
	opts := OptionsFromEnv()
	assert.Equal(t, "localhost:6379", opts.Addr)
	assert.Equal(t, int64(DefaultStreamMaxLen), opts.StreamMaxLen)
}

func TestNewClient_Unreachable(t *testing.T) {
	client, err := NewClient(context.Background(), Options{Addr: "127.0.0.1:1"}, zaptest.NewLogger(t))
	require.Error(t, err)
	assert.Nil(t, client)
	assert.Contains(t, err.Error(), "127.0.0.1:1")
}
