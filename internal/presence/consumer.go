// Package presence extends the registry's single-process reach across the
// fleet: it consumes presence markers from the shared bus, drains the outbox
// for keys that are locally live, and runs the periodic sweep backstop.
package presence

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sanushilshad/vitis-sub000/pkg/notify"
)

// MarkerSource is a blocking stream of presence markers. Receive calls the
// handler for each marker until ctx is cancelled; the handler settles each
// marker by calling its Ack or Nack exactly once.
type MarkerSource interface {
	Receive(ctx context.Context, handle func(ctx context.Context, m notify.Marker)) error
}

// Consumer reacts to presence markers. When a marker's key has a live local
// session, the consumer drains the outbox for that key in one transaction and
// delivers every row through the registry.
type Consumer struct {
	source   MarkerSource
	registry notify.Registry
	outbox   notify.Outbox
	logger   *slog.Logger
}

// NewConsumer creates a presence marker consumer.
func NewConsumer(source MarkerSource, registry notify.Registry, outbox notify.Outbox, logger *slog.Logger) (*Consumer, error) {
	if source == nil {
		return nil, fmt.Errorf("marker source cannot be nil")
	}
	if registry == nil {
		return nil, fmt.Errorf("registry cannot be nil")
	}
	if outbox == nil {
		return nil, fmt.Errorf("outbox cannot be nil")
	}
	return &Consumer{
		source:   source,
		registry: registry,
		outbox:   outbox,
		logger:   logger.With("component", "presence_consumer"),
	}, nil
}

// Run blocks consuming markers until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("Presence consumer starting...")
	return c.source.Receive(ctx, c.handle)
}

// handle processes one marker.
//
// Not locally connected: the marker is acknowledged immediately and the
// periodic sweeper is the backstop for any rows the key still has. Relying on
// bus redelivery instead would pin unacknowledged messages for keys that may
// never connect here.
//
// Locally connected: drain the outbox for the key. A drain error leaves the
// work untouched (the transaction aborted) and nacks the marker so the bus
// redelivers it; delivery-plus-deletion per row is idempotent, so a retried
// drain is safe.
func (c *Consumer) handle(ctx context.Context, m notify.Marker) {
	if m.Key == "" {
		c.logger.Warn("Discarding malformed presence marker with empty key")
		m.Ack()
		return
	}
	log := c.logger.With("key", string(m.Key))

	if !c.registry.Exists(m.Key) {
		log.Debug("Key not locally connected; acknowledging marker")
		m.Ack()
		return
	}

	drained, err := c.outbox.DrainForKey(ctx, m.Key, func(env *notify.Envelope) {
		c.registry.Deliver(m.Key, env)
	})
	if err != nil {
		log.Error("Outbox drain failed; leaving marker for redelivery", "err", err)
		m.Nack()
		return
	}

	if drained > 0 {
		log.Info("Drained outbox for locally connected key", "count", drained)
	}
	m.Ack()
}
