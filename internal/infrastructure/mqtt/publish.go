package mqtt

import (
	"context"
	"fmt"
)

// maxPayloadSize caps a single message at 1MB.
const maxPayloadSize = 1 << 20

// Publish sends payload to topic and waits for the broker's
// acknowledgement, up to the publish timeout or until ctx ends.
//
//	topic := mqtt.Topics{}.ExperimentOutput("run_1")
//	err := client.Publish(ctx, topic, payload, 1, false)
func (c *Client) Publish(ctx context.Context, topic string, payload []byte, qos byte, retained bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, qos, retained, payload)
	if err := waitToken(ctx, token); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// PublishDefault publishes a non-retained message with the configured QoS.
func (c *Client) PublishDefault(ctx context.Context, topic string, payload []byte) error {
	return c.Publish(ctx, topic, payload, byte(c.cfg.QoS), false) //nolint:gosec // QoS validated by config
}
