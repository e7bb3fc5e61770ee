package presence_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanushilshad/vitis-sub000/internal/presence"
	"github.com/sanushilshad/vitis-sub000/internal/realtime"
	"github.com/sanushilshad/vitis-sub000/internal/test/fakes"
	"github.com/sanushilshad/vitis-sub000/pkg/notify"
)

type collectingHandle struct {
	mu     sync.Mutex
	pushed []*notify.Envelope
}

func (h *collectingHandle) Push(env *notify.Envelope) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pushed = append(h.pushed, env)
	return nil
}
func (h *collectingHandle) Supersede() {}

func (h *collectingHandle) snapshot() []*notify.Envelope {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*notify.Envelope, len(h.pushed))
	copy(out, h.pushed)
	return out
}

type consumerFixture struct {
	registry *realtime.Registry
	outbox   *fakes.InMemoryOutbox
	source   *fakes.ChannelMarkerSource
	consumer *presence.Consumer
}

func setupConsumer(t *testing.T) *consumerFixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	registry := realtime.NewRegistry(zerolog.Nop())
	outbox := fakes.NewInMemoryOutbox()
	source := fakes.NewChannelMarkerSource(16)

	consumer, err := presence.NewConsumer(source, registry, outbox, logger)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = consumer.Run(ctx) }()

	return &consumerFixture{registry: registry, outbox: outbox, source: source, consumer: consumer}
}

// settled builds a marker whose ack/nack outcome can be awaited.
func settled(key notify.ConnectionKey) (notify.Marker, chan string) {
	outcome := make(chan string, 1)
	return notify.Marker{
		Key:  key,
		Ack:  func() { outcome <- "ack" },
		Nack: func() { outcome <- "nack" },
	}, outcome
}

func awaitOutcome(t *testing.T, outcome chan string) string {
	t.Helper()
	select {
	case o := <-outcome:
		return o
	case <-time.After(2 * time.Second):
		t.Fatal("marker was never settled")
		return ""
	}
}

func TestConsumer_DrainsForLocallyConnectedKey(t *testing.T) {
	fx := setupConsumer(t)
	key := notify.ConnectionKey("u2#NA#d1")
	ctx := context.Background()

	// Rows queued while the key was offline.
	first := notify.NewEnvelope(key, notify.ActionLeaveApproved, json.RawMessage(`{"n":1}`))
	second := notify.NewEnvelope(key, notify.ActionLeaveRejected, json.RawMessage(`{"n":2}`))
	second.CreatedOn = first.CreatedOn.Add(time.Millisecond)
	require.NoError(t, fx.outbox.Enqueue(ctx, first))
	require.NoError(t, fx.outbox.Enqueue(ctx, second))

	// The key connects here, then its marker arrives.
	handle := &collectingHandle{}
	fx.registry.Join(key, handle)

	marker, outcome := settled(key)
	fx.source.Publish(marker)

	require.Equal(t, "ack", awaitOutcome(t, outcome))

	// FIFO delivery, and the outbox is empty afterwards.
	pushed := handle.snapshot()
	require.Len(t, pushed, 2)
	assert.Equal(t, first.ID, pushed[0].ID)
	assert.Equal(t, second.ID, pushed[1].ID)
	assert.Equal(t, 0, fx.outbox.Count(key))
}

func TestConsumer_AcksMarkerForNonLocalKey(t *testing.T) {
	fx := setupConsumer(t)
	key := notify.ConnectionKey("elsewhere#NA#NA")
	require.NoError(t, fx.outbox.Enqueue(context.Background(), notify.NewEnvelope(key, notify.ActionSystem, nil)))

	marker, outcome := settled(key)
	fx.source.Publish(marker)

	// Ack-and-sweep policy: the marker is settled and the row stays put.
	require.Equal(t, "ack", awaitOutcome(t, outcome))
	assert.Equal(t, 1, fx.outbox.Count(key))
}

func TestConsumer_NacksMarkerOnDrainFailure(t *testing.T) {
	fx := setupConsumer(t)
	key := notify.ConnectionKey("u9#NA#NA")
	fx.registry.Join(key, &collectingHandle{})
	fx.outbox.FailWith = errors.New("transaction aborted")

	marker, outcome := settled(key)
	fx.source.Publish(marker)

	require.Equal(t, "nack", awaitOutcome(t, outcome))
}

func TestConsumer_AcksMalformedMarker(t *testing.T) {
	fx := setupConsumer(t)

	marker, outcome := settled("")
	fx.source.Publish(marker)

	require.Equal(t, "ack", awaitOutcome(t, outcome))
}
