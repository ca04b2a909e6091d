package store

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/layer-3/warden/core"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startRedis(t *testing.T) (*redis.Client, func()) {
	t.Helper()
	if os.Getenv("GO_TEST_INTEGRATION") == "" {
		t.Skip("integration tests are disabled (set GO_TEST_INTEGRATION=1)")
	}

	ctx := context.Background()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(60 * time.Second),
	}
	c, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{ContainerRequest: req, Started: true})
	require.NoError(t, err)

	host, _ := c.Host(ctx)
	port, _ := c.MappedPort(ctx, "6379/tcp")
	client := redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%s", host, port.Port())})
	require.NoError(t, client.Ping(ctx).Err())

	cleanup := func() {
		_ = client.Close()
		_ = c.Terminate(context.Background())
	}
	return client, cleanup
}

func TestIntegration_RedisKV_GetSetDelete(t *testing.T) {
	client, cleanup := startRedis(t)
	defer cleanup()

	ctx := context.Background()
	kv := NewRedisKV(client, "")

	_, err := kv.Get(ctx, "k")
	require.ErrorIs(t, err, core.ErrKeyNotFound)

	require.NoError(t, kv.Set(ctx, "k", []byte("v")))
	raw, err := client.Get(ctx, DefaultRedisPrefix+"k").Result()
	require.NoError(t, err)
	require.Equal(t, "v", raw)

	require.NoError(t, kv.Delete(ctx, "k"))
	_, err = kv.Get(ctx, "k")
	require.ErrorIs(t, err, core.ErrKeyNotFound)
}

func TestIntegration_RedisKV_TokenStoresShareState(t *testing.T) {
	client, cleanup := startRedis(t)
	defer cleanup()

	ctx := context.Background()
	require.NoError(t, NewTokenStore(NewRedisKV(client, "app:"), nil).Set(ctx, samplePair()))

	got, ok := NewTokenStore(NewRedisKV(client, "app:"), nil).Get(ctx)
	require.True(t, ok)
	require.Equal(t, "access-1", got.AccessToken)

	_, ok = NewTokenStore(NewRedisKV(client, "other:"), nil).Get(ctx)
	require.False(t, ok)
}
