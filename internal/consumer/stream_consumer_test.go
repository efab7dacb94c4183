package consumer

import (
	"context"
	"encoding/hex"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"wisefido-ppg/internal/board"
	rediscommon "wisefido-ppg/internal/common/redis"
)

const testStream = "ppg:fifo:stream"

func setupStreamConsumer(t *testing.T, deviceID string) (*StreamConsumer, *redis.Client, *Queue) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	q := NewQueue(64, board.NewEdgeLatch())
	c := NewStreamConsumer(StreamConfig{
		Stream:   testStream,
		Group:    "wisefido-ppg",
		Consumer: "ppg-1",
		DeviceID: deviceID,
		Block:    10 * time.Millisecond,
	}, client, q, zap.NewNop())
	return c, client, q
}

func publishFrame(t *testing.T, client *redis.Client, deviceID string, frame []byte) {
	_, err := rediscommon.PublishToStream(context.Background(), client, testStream, map[string]interface{}{
		"device_id": deviceID,
		"frame":     hex.EncodeToString(frame),
	})
	require.NoError(t, err)
}

func TestStreamConsumer_ConsumeOnceQueuesFrames(t *testing.T) {
	c, client, q := setupStreamConsumer(t, "")
	ctx := context.Background()
	require.NoError(t, rediscommon.CreateConsumerGroup(ctx, client, testStream, "wisefido-ppg"))

	publishFrame(t, client, "board-1", frameOf(100, 200))
	publishFrame(t, client, "board-2", frameOf(300))

	n, err := c.consumeOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 3, q.Len())

	// acknowledged entries are not delivered again
	msgs, err := rediscommon.ReadFromStream(ctx, client, testStream, "wisefido-ppg", "ppg-1", 10, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestStreamConsumer_FiltersDevice(t *testing.T) {
	c, client, q := setupStreamConsumer(t, "board-1")
	ctx := context.Background()
	require.NoError(t, rediscommon.CreateConsumerGroup(ctx, client, testStream, "wisefido-ppg"))

	publishFrame(t, client, "board-2", frameOf(1, 2))
	publishFrame(t, client, "board-1", frameOf(3))

	_, err := c.consumeOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, q.Len())
	s, _, _ := q.TryRead()
	assert.Equal(t, uint32(3), s.Infrared)
}

func TestStreamConsumer_SkipsMalformedEntries(t *testing.T) {
	c, client, q := setupStreamConsumer(t, "")
	ctx := context.Background()
	require.NoError(t, rediscommon.CreateConsumerGroup(ctx, client, testStream, "wisefido-ppg"))

	_, err := rediscommon.PublishToStream(ctx, client, testStream, map[string]interface{}{"frame": "zz"})
	require.NoError(t, err)
	_, err = rediscommon.PublishToStream(ctx, client, testStream, map[string]interface{}{"other": "x"})
	require.NoError(t, err)
	publishFrame(t, client, "board-1", frameOf(5))

	n, err := c.consumeOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 1, q.Len())
}

func TestStreamConsumer_StartStopsOnCancel(t *testing.T) {
	c, client, q := setupStreamConsumer(t, "")
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- c.Start(ctx) }()

	// the group starts at id 0, so an entry published before it exists is still delivered
	publishFrame(t, client, "board-1", frameOf(10, 20, 30))
	require.Eventually(t, func() bool { return q.Len() == 3 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop")
	}
}
