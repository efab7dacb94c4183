package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) *redis.Client {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestCreateConsumerGroup_Idempotent(t *testing.T) {
	client := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, CreateConsumerGroup(ctx, client, "ppg:fifo:stream", "ppg"))
	require.NoError(t, CreateConsumerGroup(ctx, client, "ppg:fifo:stream", "ppg"))
}

func TestPublishAndRead_RoundTrip(t *testing.T) {
	client := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, CreateConsumerGroup(ctx, client, "ppg:fifo:stream", "ppg"))

	id, err := PublishToStream(ctx, client, "ppg:fifo:stream", map[string]interface{}{
		"frame":     "000064000032",
		"device_id": "board-1",
		"count":     1,
	})
	require.NoError(t, err)

	msgs, err := ReadFromStream(ctx, client, "ppg:fifo:stream", "ppg", "c1", 10, 10*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, id, msgs[0].ID)
	assert.Equal(t, "000064000032", msgs[0].Values["frame"])
	assert.Equal(t, "1", msgs[0].Values["count"])

	require.NoError(t, Ack(ctx, client, "ppg:fifo:stream", "ppg", id))
}
