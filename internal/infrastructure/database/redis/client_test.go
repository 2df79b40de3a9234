package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/MedPlan-Intelligence/internal/infrastructure/monitoring/logging"
	pkgerrors "github.com/turtacn/MedPlan-Intelligence/pkg/errors"
)

func TestNewClient_Success(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := NewClient(&RedisConfig{Addr: mr.Addr()}, logging.NewNopLogger())
	require.NoError(t, err)
	defer client.Close()

	assert.NoError(t, client.Ping(context.Background()))
}

func TestNewClient_ConnectionFailed(t *testing.T) {
	client, err := NewClient(&RedisConfig{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond, MaxRetries: -1}, nil)
	assert.Error(t, err)
	assert.Nil(t, client)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.ErrCodeCacheError))
}

func TestClient_Close(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := NewClient(&RedisConfig{Addr: mr.Addr()}, nil)
	require.NoError(t, err)

	assert.NoError(t, client.Close())
	assert.NoError(t, client.Close())
	assert.Equal(t, ErrClientClosed, client.Get(context.Background(), "k").Err())
	assert.Equal(t, ErrClientClosed, client.Ping(context.Background()))
}

func TestResponseCache_ExpiresWithMiniredis(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := NewClient(&RedisConfig{Addr: mr.Addr()}, nil)
	require.NoError(t, err)
	defer client.Close()

	cache := NewResponseCache(client, nil)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "q1", "first", 10*time.Minute))
	require.NoError(t, cache.Set(ctx, "q1", "second", 10*time.Minute))
	assert.True(t, mr.Exists(DefaultKeyPrefix+"q1"))

	val, ok, err := cache.Get(ctx, "q1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "second", val)

	mr.FastForward(11 * time.Minute)
	_, ok, err = cache.Get(ctx, "q1")
	require.NoError(t, err)
	assert.False(t, ok)
}
