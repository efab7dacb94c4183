package consumer

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	rediscommon "wisefido-ppg/internal/common/redis"
)

// StreamConfig selects the Redis stream and consumer group.
type StreamConfig struct {
	Stream    string
	Group     string
	Consumer  string
	DeviceID  string
	BatchSize int64
	Block     time.Duration
}

// StreamConsumer reads gateway frames from a Redis stream. Each entry carries
// a hex encoded "frame" field and an optional "device_id".
type StreamConsumer struct {
	config      StreamConfig
	redisClient *redis.Client
	queue       *Queue
	logger      *zap.Logger
}

// NewStreamConsumer creates a stream consumer.
func NewStreamConsumer(
	cfg StreamConfig,
	redisClient *redis.Client,
	queue *Queue,
	logger *zap.Logger,
) *StreamConsumer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 16
	}
	if cfg.Block <= 0 {
		cfg.Block = time.Second
	}
	return &StreamConsumer{
		config:      cfg,
		redisClient: redisClient,
		queue:       queue,
		logger:      logger,
	}
}

// Start consumes until ctx is done.
func (c *StreamConsumer) Start(ctx context.Context) error {
	if err := rediscommon.CreateConsumerGroup(ctx, c.redisClient, c.config.Stream, c.config.Group); err != nil {
		return fmt.Errorf("failed to create consumer group for %s: %w", c.config.Stream, err)
	}

	c.logger.Info("Stream consumer started",
		zap.String("stream", c.config.Stream),
		zap.String("consumer_group", c.config.Group),
		zap.String("consumer_name", c.config.Consumer),
	)

	backoff := time.Second
	maxBackoff := 30 * time.Second
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if _, err := c.consumeOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("Failed to consume stream",
				zap.String("stream", c.config.Stream),
				zap.Error(err),
				zap.Duration("backoff", backoff),
			)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
				backoff *= 2
				if backoff > maxBackoff {
					backoff = maxBackoff
				}
			}
			continue
		}
		backoff = time.Second
	}
}

// consumeOnce reads one batch, queues its frames and acknowledges it.
func (c *StreamConsumer) consumeOnce(ctx context.Context) (int, error) {
	messages, err := rediscommon.ReadFromStream(
		ctx,
		c.redisClient,
		c.config.Stream,
		c.config.Group,
		c.config.Consumer,
		c.config.BatchSize,
		c.config.Block,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to read from stream %s: %w", c.config.Stream, err)
	}

	ids := make([]string, 0, len(messages))
	for _, msg := range messages {
		if err := c.processMessage(msg); err != nil {
			c.logger.Warn("Failed to process frame",
				zap.String("message_id", msg.ID),
				zap.Error(err),
			)
		}
		// bad frames are acknowledged too, a retry would fail the same way
		ids = append(ids, msg.ID)
	}
	if err := rediscommon.Ack(ctx, c.redisClient, c.config.Stream, c.config.Group, ids...); err != nil {
		return len(messages), fmt.Errorf("failed to ack: %w", err)
	}
	return len(messages), nil
}

func (c *StreamConsumer) processMessage(msg rediscommon.StreamMessage) error {
	if c.config.DeviceID != "" {
		if id, _ := msg.Values["device_id"].(string); id != "" && id != c.config.DeviceID {
			return nil
		}
	}

	raw, ok := msg.Values["frame"].(string)
	if !ok {
		return fmt.Errorf("missing frame field")
	}
	frame, err := hex.DecodeString(raw)
	if err != nil {
		return fmt.Errorf("failed to decode frame: %w", err)
	}
	return c.queue.PushFrame(frame)
}
