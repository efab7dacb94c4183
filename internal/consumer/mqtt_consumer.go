package consumer

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	mqttcommon "wisefido-ppg/internal/common/mqtt"
)

// Subscriber is the part of the MQTT client the consumer needs.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqttcommon.MessageHandler) error
	Unsubscribe(topics ...string) error
}

// MQTTConsumer receives binary FIFO frames on topics shaped ppg/{device_id}/fifo.
type MQTTConsumer struct {
	subscriber Subscriber
	topic      string
	qos        byte
	deviceID   string
	queue      *Queue
	logger     *zap.Logger
}

// NewMQTTConsumer creates an MQTT consumer. An empty deviceID accepts every device.
func NewMQTTConsumer(
	subscriber Subscriber,
	topic string,
	qos byte,
	deviceID string,
	queue *Queue,
	logger *zap.Logger,
) *MQTTConsumer {
	return &MQTTConsumer{
		subscriber: subscriber,
		topic:      topic,
		qos:        qos,
		deviceID:   deviceID,
		queue:      queue,
		logger:     logger,
	}
}

// Start subscribes and blocks until ctx is done.
func (c *MQTTConsumer) Start(ctx context.Context) error {
	if err := c.subscriber.Subscribe(c.topic, c.qos, c.handleMessage); err != nil {
		return fmt.Errorf("failed to subscribe to fifo topic: %w", err)
	}

	c.logger.Info("MQTT consumer started", zap.String("topic", c.topic))

	<-ctx.Done()
	return nil
}

// Stop unsubscribes.
func (c *MQTTConsumer) Stop() error {
	if err := c.subscriber.Unsubscribe(c.topic); err != nil {
		c.logger.Error("Failed to unsubscribe", zap.Error(err))
		return err
	}
	c.logger.Info("MQTT consumer stopped")
	return nil
}

func (c *MQTTConsumer) handleMessage(topic string, payload []byte) error {
	parts := strings.Split(topic, "/")
	if len(parts) < 3 {
		return fmt.Errorf("invalid topic format: %s", topic)
	}
	if c.deviceID != "" && parts[1] != c.deviceID {
		return nil
	}

	if err := c.queue.PushFrame(payload); err != nil {
		return fmt.Errorf("device %s: %w", parts[1], err)
	}
	c.logger.Debug("Queued fifo frame",
		zap.String("device", parts[1]),
		zap.Int("bytes", len(payload)),
	)
	return nil
}
