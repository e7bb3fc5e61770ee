// Package fakes provides in-memory test doubles for the delivery engine's
// dependencies. They are used across unit tests and in the local entrypoint.
package fakes

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/sanushilshad/vitis-sub000/pkg/notify"
)

var errNotPresent = errors.New("fakes: key not present")

// InMemoryOutbox is a mutex-guarded outbox with per-key FIFO ordering and
// the same drain exclusivity the Firestore store provides: the store lock is
// held for a whole drain, so a row is visible to at most one drain call.
type InMemoryOutbox struct {
	mu   sync.Mutex
	rows map[notify.ConnectionKey][]*notify.QueuedNotification

	// FailWith, when set, makes every operation fail. Used to simulate an
	// unreachable store.
	FailWith error
}

// NewInMemoryOutbox creates an empty outbox.
func NewInMemoryOutbox() *InMemoryOutbox {
	return &InMemoryOutbox{rows: make(map[notify.ConnectionKey][]*notify.QueuedNotification)}
}

func (o *InMemoryOutbox) Enqueue(_ context.Context, env *notify.Envelope) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.FailWith != nil {
		return o.FailWith
	}
	o.rows[env.Key] = append(o.rows[env.Key], &notify.QueuedNotification{ID: env.ID, Envelope: env})
	sort.SliceStable(o.rows[env.Key], func(i, j int) bool {
		return o.rows[env.Key][i].Envelope.CreatedOn.Before(o.rows[env.Key][j].Envelope.CreatedOn)
	})
	return nil
}

func (o *InMemoryOutbox) DrainForKey(_ context.Context, key notify.ConnectionKey, deliver func(env *notify.Envelope)) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.FailWith != nil {
		return 0, o.FailWith
	}
	rows := o.rows[key]
	for _, row := range rows {
		deliver(row.Envelope)
	}
	delete(o.rows, key)
	return len(rows), nil
}

func (o *InMemoryOutbox) RetrieveBatch(_ context.Context, key notify.ConnectionKey, limit int) ([]*notify.QueuedNotification, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.FailWith != nil {
		return nil, o.FailWith
	}
	rows := o.rows[key]
	if len(rows) > limit {
		rows = rows[:limit]
	}
	out := make([]*notify.QueuedNotification, len(rows))
	copy(out, rows)
	return out, nil
}

func (o *InMemoryOutbox) DeleteDelivered(_ context.Context, key notify.ConnectionKey, ids []string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.FailWith != nil {
		return o.FailWith
	}
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	kept := o.rows[key][:0]
	for _, row := range o.rows[key] {
		if !drop[row.ID] {
			kept = append(kept, row)
		}
	}
	if len(kept) == 0 {
		delete(o.rows, key)
	} else {
		o.rows[key] = kept
	}
	return nil
}

func (o *InMemoryOutbox) PendingKeys(_ context.Context, limit int) ([]notify.ConnectionKey, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.FailWith != nil {
		return nil, o.FailWith
	}
	keys := make([]notify.ConnectionKey, 0, len(o.rows))
	for key := range o.rows {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	if len(keys) > limit {
		keys = keys[:limit]
	}
	return keys, nil
}

// Count reports the number of rows currently held for the key.
func (o *InMemoryOutbox) Count(key notify.ConnectionKey) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.rows[key])
}

// MarkerRecorder captures published presence markers.
type MarkerRecorder struct {
	mu        sync.Mutex
	published []notify.ConnectionKey

	// FailWith, when set, makes PublishMarker fail.
	FailWith error
}

func NewMarkerRecorder() *MarkerRecorder { return &MarkerRecorder{} }

func (r *MarkerRecorder) PublishMarker(_ context.Context, key notify.ConnectionKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailWith != nil {
		return r.FailWith
	}
	r.published = append(r.published, key)
	return nil
}

// Published returns a snapshot of the recorded markers.
func (r *MarkerRecorder) Published() []notify.ConnectionKey {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]notify.ConnectionKey, len(r.published))
	copy(out, r.published)
	return out
}

// MemoryPresence is an in-memory fleet presence cache.
type MemoryPresence struct {
	mu      sync.Mutex
	entries map[notify.ConnectionKey]notify.ConnectionInfo

	// FetchErr, when set, makes Fetch fail for absent and present keys alike.
	FetchErr error
}

func NewMemoryPresence() *MemoryPresence {
	return &MemoryPresence{entries: make(map[notify.ConnectionKey]notify.ConnectionInfo)}
}

func (p *MemoryPresence) Set(_ context.Context, key notify.ConnectionKey, info notify.ConnectionInfo) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries[key] = info
	return nil
}

func (p *MemoryPresence) Refresh(_ context.Context, _ notify.ConnectionKey) error { return nil }

func (p *MemoryPresence) Fetch(_ context.Context, key notify.ConnectionKey) (notify.ConnectionInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.FetchErr != nil {
		return notify.ConnectionInfo{}, p.FetchErr
	}
	info, ok := p.entries[key]
	if !ok {
		return notify.ConnectionInfo{}, errNotPresent
	}
	return info, nil
}

func (p *MemoryPresence) Delete(_ context.Context, key notify.ConnectionKey) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.entries, key)
	return nil
}

func (p *MemoryPresence) Close() error { return nil }

// ChannelMarkerSource feeds markers from a channel, standing in for the bus
// subscription.
type ChannelMarkerSource struct {
	markers chan notify.Marker
}

func NewChannelMarkerSource(buffer int) *ChannelMarkerSource {
	return &ChannelMarkerSource{markers: make(chan notify.Marker, buffer)}
}

// Publish hands one marker to the receive loop.
func (s *ChannelMarkerSource) Publish(m notify.Marker) {
	s.markers <- m
}

func (s *ChannelMarkerSource) Receive(ctx context.Context, handle func(ctx context.Context, m notify.Marker)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m := <-s.markers:
			handle(ctx, m)
		}
	}
}
