// Package app contains the shared, reusable logic for starting and stopping the service.
package app

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sanushilshad/vitis-sub000/internal/realtime"
	"github.com/sanushilshad/vitis-sub000/notifyservice"
)

// Run executes the main application lifecycle. It starts the API service and
// the WebSocket connection manager, listens for OS signals, and performs a
// graceful shutdown of both.
func Run(
	ctx context.Context,
	logger *slog.Logger,
	apiService *notifyservice.Wrapper,
	connManager *realtime.ConnectionManager,
) {
	var wg sync.WaitGroup
	wg.Add(2)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Start both services in separate goroutines.
	go func() {
		defer wg.Done()
		logger.Info("Starting API Service...")
		err := apiService.Start(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("API Service failed", "err", err)
			cancel() // Trigger shutdown of other services.
		}
	}()

	go func() {
		defer wg.Done()
		logger.Info("Starting Connection Manager Service...")
		err := connManager.Start(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Connection Manager Service failed", "err", err)
			cancel() // Trigger shutdown of other services.
		}
	}()

	// Wait for a shutdown signal.
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-shutdown:
		logger.Info("Received shutdown signal.", "signal", sig.String())
	case <-ctx.Done():
		logger.Info("Context cancelled, initiating shutdown.")
	}

	// Execute graceful shutdown.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	logger.Info("Shutting down API Service...")
	err := apiService.Shutdown(shutdownCtx)
	if err != nil {
		logger.Error("API Service shutdown failed.", "err", err)
	}

	logger.Info("Shutting down Connection Manager...")
	err = connManager.Shutdown(shutdownCtx)
	if err != nil {
		logger.Error("Connection Manager shutdown failed.", "err", err)
	}

	wg.Wait()
	logger.Info("All services shut down gracefully.")
}
