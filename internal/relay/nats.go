package relay

import (
	"context"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/epitome-sim/reverie-core/internal/experiment"
	"github.com/epitome-sim/reverie-core/internal/infrastructure/config"
)

// NATS relays output on a single subject; the group travels in the envelope.
type NATS struct {
	in      inbound
	conn    *nats.Conn
	subject string
	owned   bool

	mu  sync.Mutex
	sub *nats.Subscription
}

// ConnectNATS connects to the server in cfg and returns a relay that owns
// the connection.
func ConnectNATS(cfg config.NATSConfig, local experiment.Relay, opts ...Option) (*NATS, error) {
	conn, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats at %s: %w", cfg.URL, err)
	}
	n := NewNATS(conn, cfg.Subject, local, opts...)
	n.owned = true
	return n, nil
}

// NewNATS wraps an existing connection. Close leaves it open.
func NewNATS(conn *nats.Conn, subject string, local experiment.Relay, opts ...Option) *NATS {
	return &NATS{
		in:      inbound{options: buildOptions(opts), local: local},
		conn:    conn,
		subject: subject,
	}
}

// Publish implements experiment.Relay.
func (n *NATS) Publish(ctx context.Context, group, message string) error {
	payload, err := encode(group, message, n.in.origin)
	if err != nil {
		return err
	}
	if err := n.conn.Publish(n.subject, payload); err != nil {
		return fmt.Errorf("nats relay publish: %w", err)
	}
	return nil
}

// Start subscribes to the output subject.
func (n *NATS) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.sub != nil {
		return nil
	}

	sub, err := n.conn.Subscribe(n.subject, func(msg *nats.Msg) {
		n.in.deliver(context.Background(), msg.Data)
	})
	if err != nil {
		return fmt.Errorf("nats relay subscribe: %w", err)
	}
	// Make sure the server has registered the subscription before returning.
	if err := n.conn.FlushWithContext(ctx); err != nil {
		sub.Unsubscribe() //nolint:errcheck // already failing
		return fmt.Errorf("nats relay subscribe: %w", err)
	}
	n.sub = sub

	n.in.logger.Debug("relay subscribed", "backend", "nats", "subject", n.subject)
	return nil
}

// Flush waits until published messages have reached the server.
func (n *NATS) Flush(ctx context.Context) error {
	return n.conn.FlushWithContext(ctx)
}

// Close drops the subscription and, if the relay opened the connection,
// drains and closes it.
func (n *NATS) Close() error {
	n.mu.Lock()
	sub := n.sub
	n.sub = nil
	n.mu.Unlock()

	var err error
	if sub != nil {
		err = sub.Unsubscribe()
	}
	if n.owned {
		n.conn.Close()
	}
	return err
}
