package relay

import (
	"context"
	"fmt"

	"github.com/epitome-sim/reverie-core/internal/experiment"
	"github.com/epitome-sim/reverie-core/internal/infrastructure/mqtt"
)

// MQTTClient is the subset of *mqtt.Client used by the MQTT relay.
type MQTTClient interface {
	Publish(ctx context.Context, topic string, payload []byte, qos byte, retained bool) error
	Subscribe(ctx context.Context, topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(ctx context.Context, topic string) error
}

// MQTT relays output over per-run topics reverie/experiment/<target>/output.
type MQTT struct {
	in     inbound
	client MQTTClient
	qos    byte
}

// NewMQTT creates an MQTT relay delivering other instances' output to local.
func NewMQTT(client MQTTClient, qos byte, local experiment.Relay, opts ...Option) *MQTT {
	return &MQTT{
		in:     inbound{options: buildOptions(opts), local: local},
		client: client,
		qos:    qos,
	}
}

// Publish implements experiment.Relay.
func (m *MQTT) Publish(ctx context.Context, group, message string) error {
	target, ok := experiment.TargetFromGroup(group)
	if !ok {
		return fmt.Errorf("relay: group %q is not an experiment group", group)
	}
	payload, err := encode(group, message, m.in.origin)
	if err != nil {
		return err
	}
	// Not retained: late subscribers must not replay the last line.
	if err := m.client.Publish(ctx, mqtt.Topics{}.ExperimentOutput(target), payload, m.qos, false); err != nil {
		return fmt.Errorf("mqtt relay: %w", err)
	}
	return nil
}

// Start subscribes to the output topics of every run. The subscription is
// restored by the client after reconnects.
func (m *MQTT) Start(ctx context.Context) error {
	topic := mqtt.Topics{}.AllExperimentOutput()
	err := m.client.Subscribe(ctx, topic, m.qos, func(t string, payload []byte) error {
		if _, ok := mqtt.TargetFromOutputTopic(t); !ok {
			return nil
		}
		m.in.deliver(context.Background(), payload)
		return nil
	})
	if err != nil {
		return fmt.Errorf("mqtt relay subscribe: %w", err)
	}
	m.in.logger.Debug("relay subscribed", "backend", "mqtt", "topic", topic)
	return nil
}

// Close drops the subscription. The client itself is owned by the caller.
func (m *MQTT) Close(ctx context.Context) error {
	return m.client.Unsubscribe(ctx, mqtt.Topics{}.AllExperimentOutput())
}

// Origin returns the instance ID stamped on published envelopes.
func (m *MQTT) Origin() string {
	return m.in.origin
}
