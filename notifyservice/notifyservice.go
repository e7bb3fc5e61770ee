// Package notifyservice wires the delivery engine's components into one
// runnable service: the HTTP API, the presence marker consumer, and the
// outbox sweeper.
package notifyservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/rs/zerolog"

	"github.com/sanushilshad/vitis-sub000/internal/api"
	"github.com/sanushilshad/vitis-sub000/internal/dispatch"
	"github.com/sanushilshad/vitis-sub000/internal/presence"
	"github.com/sanushilshad/vitis-sub000/notifyservice/config"
	"github.com/sanushilshad/vitis-sub000/pkg/notify"
)

// Wrapper owns the API server and the background delivery tasks.
type Wrapper struct {
	server     *http.Server
	apiHandler *api.API
	dispatcher *dispatch.Dispatcher
	consumer   *presence.Consumer
	sweeper    *presence.Sweeper
	logger     zerolog.Logger

	readyChan chan struct{}
	readyOnce sync.Once

	cancelBackground context.CancelFunc
	backgroundWG     sync.WaitGroup
}

// New creates and wires up the notification delivery service.
func New(
	cfg *config.AppConfig,
	deps *notify.ServiceDependencies,
	source presence.MarkerSource,
	instanceID string,
	logger zerolog.Logger,
	slogger *slog.Logger,
) (*Wrapper, error) {
	dispatcher, err := dispatch.New(deps.Registry, deps.Outbox, logger.With().Str("component", "Dispatcher").Logger())
	if err != nil {
		return nil, fmt.Errorf("failed to create dispatcher: %w", err)
	}

	apiHandler := api.NewAPI(dispatcher, deps.Outbox, slogger.With("component", "API"))

	consumer, err := presence.NewConsumer(source, deps.Registry, deps.Outbox, slogger)
	if err != nil {
		return nil, fmt.Errorf("failed to create presence consumer: %w", err)
	}

	sweeper, err := presence.NewSweeper(
		cfg.SweepInterval,
		cfg.SweepBatchLimit,
		deps.Registry,
		deps.Outbox,
		deps.Markers,
		deps.Presence,
		instanceID,
		slogger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create sweeper: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("POST /api/notifications", http.HandlerFunc(apiHandler.NotifyHandler))
	mux.Handle("GET /api/notifications", http.HandlerFunc(apiHandler.BacklogHandler))
	mux.Handle("POST /api/notifications/ack", http.HandlerFunc(apiHandler.AcknowledgeHandler))

	return &Wrapper{
		server:     &http.Server{Addr: ":" + cfg.APIPort, Handler: mux},
		apiHandler: apiHandler,
		dispatcher: dispatcher,
		consumer:   consumer,
		sweeper:    sweeper,
		logger:     logger,
		readyChan:  make(chan struct{}),
	}, nil
}

// Dispatcher exposes the notify entry point for in-process business modules.
func (w *Wrapper) Dispatcher() notify.Notifier {
	return w.dispatcher
}

// Ready is closed once the HTTP listener is active.
func (w *Wrapper) Ready() <-chan struct{} {
	return w.readyChan
}

// Start runs the background components and then serves the API. It blocks
// until the server stops.
func (w *Wrapper) Start(ctx context.Context) error {
	backgroundCtx, cancel := context.WithCancel(context.Background())
	w.cancelBackground = cancel

	w.backgroundWG.Add(2)
	go func() {
		defer w.backgroundWG.Done()
		if err := w.consumer.Run(backgroundCtx); err != nil && !errors.Is(err, context.Canceled) {
			w.logger.Error().Err(err).Msg("Presence consumer stopped with error.")
		}
	}()
	go func() {
		defer w.backgroundWG.Done()
		w.sweeper.Run(backgroundCtx)
	}()

	listener, err := net.Listen("tcp", w.server.Addr)
	if err != nil {
		cancel()
		return fmt.Errorf("API server failed to listen on %s: %w", w.server.Addr, err)
	}
	w.readyOnce.Do(func() { close(w.readyChan) })
	w.logger.Info().Str("addr", listener.Addr().String()).Msg("API server listening.")

	if err := w.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("API server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully stops all service components in order: stop accepting
// API traffic, stop the background loops, then wait for in-flight
// acknowledgment deletions.
func (w *Wrapper) Shutdown(ctx context.Context) error {
	w.logger.Info().Msg("Shutting down service components...")
	var finalErr error

	if err := w.server.Shutdown(ctx); err != nil {
		w.logger.Error().Err(err).Msg("API server shutdown failed.")
		finalErr = err
	}

	if w.cancelBackground != nil {
		w.cancelBackground()
	}
	w.backgroundWG.Wait()

	w.apiHandler.Wait()

	w.logger.Info().Msg("All components shut down.")
	return finalErr
}
