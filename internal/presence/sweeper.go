package presence

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sanushilshad/vitis-sub000/pkg/notify"
)

// Sweeper is the periodic backstop behind the consumer's ack-and-forget
// policy for non-local keys. Each sweep lists keys with pending outbox rows:
// locally connected keys are drained directly, and keys connected elsewhere
// in the fleet get a fresh presence marker so the owning process drains them.
type Sweeper struct {
	interval   time.Duration
	batchLimit int
	registry   notify.Registry
	outbox     notify.Outbox
	markers    notify.MarkerPublisher
	presence   notify.PresenceCache
	instanceID string
	logger     *slog.Logger
}

// NewSweeper creates a sweeper. The presence cache is optional; without it
// the sweeper only drains locally connected keys.
func NewSweeper(
	interval time.Duration,
	batchLimit int,
	registry notify.Registry,
	outbox notify.Outbox,
	markers notify.MarkerPublisher,
	presence notify.PresenceCache,
	instanceID string,
	logger *slog.Logger,
) (*Sweeper, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("sweep interval must be positive")
	}
	if registry == nil || outbox == nil || markers == nil {
		return nil, fmt.Errorf("registry, outbox, and marker publisher are required")
	}
	if batchLimit <= 0 {
		batchLimit = 100
	}
	return &Sweeper{
		interval:   interval,
		batchLimit: batchLimit,
		registry:   registry,
		outbox:     outbox,
		markers:    markers,
		presence:   presence,
		instanceID: instanceID,
		logger:     logger.With("component", "outbox_sweeper"),
	}, nil
}

// Run ticks until ctx is cancelled. Sweep errors are logged, never fatal.
func (s *Sweeper) Run(ctx context.Context) {
	s.logger.Info("Outbox sweeper starting...", "interval", s.interval.String())
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Outbox sweeper stopping.")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one pass over the pending outbox keys.
func (s *Sweeper) Sweep(ctx context.Context) {
	keys, err := s.outbox.PendingKeys(ctx, s.batchLimit)
	if err != nil {
		s.logger.Error("Failed to list pending outbox keys", "err", err)
		return
	}

	for _, key := range keys {
		s.sweepKey(ctx, key)
	}
}

func (s *Sweeper) sweepKey(ctx context.Context, key notify.ConnectionKey) {
	log := s.logger.With("key", string(key))

	if s.registry.Exists(key) {
		drained, err := s.outbox.DrainForKey(ctx, key, func(env *notify.Envelope) {
			s.registry.Deliver(key, env)
		})
		if err != nil {
			log.Error("Sweep drain failed; rows stay for the next pass", "err", err)
			return
		}
		if drained > 0 {
			log.Info("Sweep drained pending rows for local key", "count", drained)
		}
		return
	}

	if s.presence == nil {
		return
	}

	info, err := s.presence.Fetch(ctx, key)
	if err != nil {
		// Absent or unreadable presence: the key is offline as far as we can
		// tell, so its rows wait for the next connect.
		log.Debug("Key not present anywhere in fleet; skipping", "err", err)
		return
	}
	if info.ServerInstanceID == s.instanceID {
		// Stale record pointing at us while the registry says no session:
		// republishing would only bounce markers back here.
		log.Debug("Stale fleet presence record for this instance; skipping")
		return
	}

	if err := s.markers.PublishMarker(ctx, key); err != nil {
		log.Error("Failed to republish presence marker during sweep", "err", err)
		return
	}
	log.Info("Republished presence marker for key served elsewhere", "instance", info.ServerInstanceID)
}
