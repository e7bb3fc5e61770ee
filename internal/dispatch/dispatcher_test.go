package dispatch_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanushilshad/vitis-sub000/internal/dispatch"
	"github.com/sanushilshad/vitis-sub000/internal/realtime"
	"github.com/sanushilshad/vitis-sub000/internal/test/fakes"
	"github.com/sanushilshad/vitis-sub000/pkg/notify"
)

// recordingHandle is a live push handle standing in for a session endpoint.
type recordingHandle struct {
	pushed []*notify.Envelope
}

func (h *recordingHandle) Push(env *notify.Envelope) error {
	h.pushed = append(h.pushed, env)
	return nil
}
func (h *recordingHandle) Supersede() {}

type dispatchFixture struct {
	registry   *realtime.Registry
	outbox     *fakes.InMemoryOutbox
	dispatcher *dispatch.Dispatcher
}

func setup(t *testing.T) *dispatchFixture {
	t.Helper()
	registry := realtime.NewRegistry(zerolog.Nop())
	outbox := fakes.NewInMemoryOutbox()
	dispatcher, err := dispatch.New(registry, outbox, zerolog.Nop())
	require.NoError(t, err)
	return &dispatchFixture{registry: registry, outbox: outbox, dispatcher: dispatcher}
}

func TestNotify_ImmediateWithLiveSession(t *testing.T) {
	fx := setup(t)
	target := notify.Identity{UserID: "u1", DeviceID: "d1"}
	key := target.Key()
	require.Equal(t, notify.ConnectionKey("u1#NA#d1"), key)

	handle := &recordingHandle{}
	fx.registry.Join(key, handle)

	err := fx.dispatcher.Notify(context.Background(), target, notify.ActionSystem, json.RawMessage(`{"msg":"hello"}`), notify.Immediate)
	require.NoError(t, err)

	// Delivered exactly once with the payload; the outbox stays empty.
	require.Len(t, handle.pushed, 1)
	assert.JSONEq(t, `{"msg":"hello"}`, string(handle.pushed[0].Payload))
	assert.Equal(t, key, handle.pushed[0].Key)
	assert.Equal(t, 0, fx.outbox.Count(key))
}

func TestNotify_ImmediateWithoutSessionIsDiscarded(t *testing.T) {
	fx := setup(t)
	target := notify.Identity{UserID: "ghost"}

	err := fx.dispatcher.Notify(context.Background(), target, notify.ActionSystem, nil, notify.Immediate)
	require.NoError(t, err)

	// Immediate never falls back to the outbox.
	assert.Equal(t, 0, fx.outbox.Count(target.Key()))
}

func TestNotify_DeferredWithLiveSessionBypassesOutbox(t *testing.T) {
	fx := setup(t)
	target := notify.Identity{UserID: "u1", TenantID: "t1"}
	handle := &recordingHandle{}
	fx.registry.Join(target.Key(), handle)

	err := fx.dispatcher.Notify(context.Background(), target, notify.ActionLeaveRequested, json.RawMessage(`{"leaveId":"lv-1"}`), notify.Deferred)
	require.NoError(t, err)

	assert.Len(t, handle.pushed, 1)
	assert.Equal(t, 0, fx.outbox.Count(target.Key()))
}

func TestNotify_DeferredWithoutSessionEnqueues(t *testing.T) {
	fx := setup(t)
	target := notify.Identity{UserID: "u2", DeviceID: "d1"}
	key := target.Key()

	err := fx.dispatcher.Notify(context.Background(), target, notify.ActionLeaveApproved, json.RawMessage(`{"leaveId":"lv-2"}`), notify.Deferred)
	require.NoError(t, err)

	// Exactly one row appears for the key.
	require.Equal(t, 1, fx.outbox.Count(key))
	rows, err := fx.outbox.RetrieveBatch(context.Background(), key, 10)
	require.NoError(t, err)
	assert.Equal(t, notify.ActionLeaveApproved, rows[0].Envelope.Action)
}

func TestNotify_EnqueueFailureIsRecoverable(t *testing.T) {
	fx := setup(t)
	storeDown := errors.New("store unreachable")
	fx.outbox.FailWith = storeDown

	err := fx.dispatcher.Notify(context.Background(), notify.Identity{UserID: "u3"}, notify.ActionSystem, nil, notify.Deferred)
	require.Error(t, err)
	assert.ErrorIs(t, err, storeDown)
}

func TestAnnounce_BroadcastsToAllSessions(t *testing.T) {
	fx := setup(t)
	a := &recordingHandle{}
	b := &recordingHandle{}
	fx.registry.Join("a#NA#NA", a)
	fx.registry.Join("b#NA#NA", b)

	err := fx.dispatcher.Announce(context.Background(), notify.ActionAnnouncement, json.RawMessage(`{"title":"maintenance"}`))
	require.NoError(t, err)

	require.Len(t, a.pushed, 1)
	require.Len(t, b.pushed, 1)
	assert.Empty(t, a.pushed[0].Key, "broadcast envelopes carry no target key")
}
