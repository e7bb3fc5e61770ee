// Package bus contains the Google Cloud Pub/Sub adapters for the presence
// marker bus. Markers carry the raw connection key and are published with
// the key as ordering key, so all markers for one key are processed in order
// by one consumer shard.
package bus

import (
	"context"
	"fmt"

	"cloud.google.com/go/pubsub/v2"

	"github.com/sanushilshad/vitis-sub000/pkg/notify"
)

// publisherClient defines the interface we need from the pubsub Publisher.
// It allows a mock in tests.
type publisherClient interface {
	Publish(ctx context.Context, msg *pubsub.Message) *pubsub.PublishResult
}

// MarkerProducer implements notify.MarkerPublisher on a Pub/Sub topic. The
// publisher handed in must have message ordering enabled, otherwise the
// per-key ordering guarantee is silently lost.
type MarkerProducer struct {
	publisher publisherClient
}

// NewMarkerProducer is the constructor for the Pub/Sub marker producer.
func NewMarkerProducer(publisher publisherClient) *MarkerProducer {
	return &MarkerProducer{publisher: publisher}
}

// PublishMarker publishes one presence marker and waits for the server's
// acknowledgement.
func (p *MarkerProducer) PublishMarker(ctx context.Context, key notify.ConnectionKey) error {
	if key == "" {
		return fmt.Errorf("cannot publish marker for empty connection key")
	}

	result := p.publisher.Publish(ctx, &pubsub.Message{
		Data:        []byte(key),
		OrderingKey: string(key),
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish presence marker for key %s: %w", key, err)
	}
	return nil
}
