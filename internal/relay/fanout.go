package relay

import (
	"context"
	"errors"

	"github.com/epitome-sim/reverie-core/internal/experiment"
)

// Fanout publishes every message to each of its relays in order. A failing
// relay does not keep the message from the others; their errors are joined.
type Fanout []experiment.Relay

// Publish implements experiment.Relay.
func (f Fanout) Publish(ctx context.Context, group, message string) error {
	var errs []error
	for _, r := range f {
		if r == nil {
			continue
		}
		if err := r.Publish(ctx, group, message); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
