// Package dispatch implements the single entry point business modules use to
// request a notification delivery, immediate or deferred.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/sanushilshad/vitis-sub000/pkg/notify"
)

// Dispatcher decides, per notification, between synchronous best-effort
// delivery through the registry and durable enqueueing into the outbox.
type Dispatcher struct {
	registry notify.Registry
	outbox   notify.Outbox
	logger   zerolog.Logger
}

// New creates a dispatcher.
func New(registry notify.Registry, outbox notify.Outbox, logger zerolog.Logger) (*Dispatcher, error) {
	if registry == nil {
		return nil, fmt.Errorf("registry cannot be nil")
	}
	if outbox == nil {
		return nil, fmt.Errorf("outbox cannot be nil")
	}
	return &Dispatcher{
		registry: registry,
		outbox:   outbox,
		logger:   logger.With().Str("component", "Dispatcher").Logger(),
	}, nil
}

// Notify requests delivery of one notification to the target identity.
//
// Immediate urgency, or a target with a live local session, delivers
// synchronously through the registry and never touches the outbox; the
// caller learns only that local delivery was attempted. Otherwise the
// envelope is persisted for later drain, and an enqueue failure is returned
// as a recoverable error without affecting the caller's own work.
func (d *Dispatcher) Notify(ctx context.Context, target notify.Identity, action notify.ActionType, payload json.RawMessage, urgency notify.Urgency) error {
	key := target.Key()
	env := notify.NewEnvelope(key, action, payload)
	log := d.logger.With().Str("key", string(key)).Str("notification_id", env.ID).Logger()

	if urgency == notify.Immediate || d.registry.Exists(key) {
		log.Debug().Str("urgency", urgency.String()).Msg("Delivering through live session.")
		d.registry.Deliver(key, env)
		return nil
	}

	log.Debug().Msg("No local session; persisting to outbox.")
	if err := d.outbox.Enqueue(ctx, env); err != nil {
		log.Error().Err(err).Msg("Outbox enqueue failed.")
		return fmt.Errorf("enqueue notification %s for key %s: %w", env.ID, key, err)
	}
	return nil
}

// Announce pushes one notification to every locally connected session,
// best-effort. Broadcasts are never persisted.
func (d *Dispatcher) Announce(ctx context.Context, action notify.ActionType, payload json.RawMessage) error {
	env := notify.NewEnvelope("", action, payload)
	d.logger.Debug().Str("notification_id", env.ID).Msg("Broadcasting to all local sessions.")
	d.registry.Broadcast(env)
	return nil
}
