package bus

import (
	"context"
	"fmt"
	"log/slog"

	"cloud.google.com/go/pubsub/v2"

	"github.com/sanushilshad/vitis-sub000/pkg/notify"
)

// MarkerSubscriber adapts a Pub/Sub subscription into the presence
// consumer's MarkerSource. One subscription (consumer group) per deployment.
type MarkerSubscriber struct {
	subscriber *pubsub.Subscriber
	logger     *slog.Logger
}

// NewMarkerSubscriber is the constructor for the Pub/Sub marker subscriber.
func NewMarkerSubscriber(subscriber *pubsub.Subscriber, logger *slog.Logger) (*MarkerSubscriber, error) {
	if subscriber == nil {
		return nil, fmt.Errorf("subscriber cannot be nil")
	}
	return &MarkerSubscriber{
		subscriber: subscriber,
		logger:     logger.With("component", "marker_subscriber"),
	}, nil
}

// Receive blocks pulling markers until ctx is cancelled. The handler settles
// each marker through its Ack/Nack, which map straight onto the Pub/Sub
// message: a nacked marker is redelivered by the bus's own retry mechanism.
func (s *MarkerSubscriber) Receive(ctx context.Context, handle func(ctx context.Context, m notify.Marker)) error {
	err := s.subscriber.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		handle(ctx, notify.Marker{
			Key:  notify.ConnectionKey(msg.Data),
			Ack:  msg.Ack,
			Nack: msg.Nack,
		})
	})
	if err != nil {
		s.logger.Error("Marker subscription receive loop ended with error", "err", err)
		return fmt.Errorf("receive presence markers: %w", err)
	}
	return nil
}
