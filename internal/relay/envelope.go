package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/epitome-sim/reverie-core/internal/experiment"
)

// ErrMalformedEnvelope is returned when a broker payload is not an Envelope.
var ErrMalformedEnvelope = errors.New("relay: malformed envelope")

// Envelope is the broker payload of one relayed message.
type Envelope struct {
	Group   string `json:"group"`
	Message string `json:"message"`
	Origin  string `json:"origin"`
}

func encode(group, message, origin string) ([]byte, error) {
	data, err := json.Marshal(Envelope{Group: group, Message: message, Origin: origin})
	if err != nil {
		return nil, fmt.Errorf("encoding envelope: %w", err)
	}
	return data, nil
}

func decode(payload []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %w", ErrMalformedEnvelope, err)
	}
	if _, ok := experiment.TargetFromGroup(env.Group); !ok {
		return Envelope{}, fmt.Errorf("%w: unknown group %q", ErrMalformedEnvelope, env.Group)
	}
	return env, nil
}

// Logger is the logging interface used by relays.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Option configures a broker relay.
type Option func(*options)

type options struct {
	origin string
	logger Logger
}

// WithOrigin sets the instance ID stamped on published envelopes.
// Defaults to a random UUID.
func WithOrigin(origin string) Option {
	return func(o *options) { o.origin = origin }
}

// WithLogger sets the logger.
func WithLogger(logger Logger) Option {
	return func(o *options) { o.logger = logger }
}

func buildOptions(opts []Option) options {
	o := options{logger: noopLogger{}}
	for _, opt := range opts {
		opt(&o)
	}
	if o.origin == "" {
		o.origin = uuid.NewString()
	}
	return o
}

// inbound delivers a broker payload to the local sink unless this instance
// published it.
type inbound struct {
	options
	local experiment.Relay
}

func (in inbound) deliver(ctx context.Context, payload []byte) {
	env, err := decode(payload)
	if err != nil {
		in.logger.Warn("dropping relayed message", "error", err)
		return
	}
	if env.Origin == in.origin {
		return
	}
	if err := in.local.Publish(ctx, env.Group, env.Message); err != nil {
		in.logger.Warn("delivering relayed message failed", "group", env.Group, "error", err)
	}
}
