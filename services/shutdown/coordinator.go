package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"mitchell-agent/logger"
)

/*
nkk: Graceful Shutdown Coordinator
Design by Google SRE:
- Coordinated shutdown sequence
- Drain in-flight requests
- Clean up resources
- Save state before exit
*/

type ShutdownHandler func(context.Context) error

type Coordinator struct {
	handlers      []ShutdownHandler
	handlerNames  []string
	mu            sync.Mutex
	shutdownOnce  sync.Once
	shutdownChan  chan struct{}
	timeout       time.Duration
}

// NewCoordinator creates a new shutdown coordinator
func NewCoordinator(timeout time.Duration) *Coordinator {
	return &Coordinator{
		handlers:     make([]ShutdownHandler, 0),
		handlerNames: make([]string, 0),
		shutdownChan: make(chan struct{}),
		timeout:      timeout,
	}
}

// RegisterHandler registers a shutdown handler
func (c *Coordinator) RegisterHandler(name string, handler ShutdownHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.handlers = append(c.handlers, handler)
	c.handlerNames = append(c.handlerNames, name)

	logger.Info("Registered shutdown handler", zap.String("name", name))
}

// Start begins listening for shutdown signals
func (c *Coordinator) Start() {
	// nkk: Listen for OS signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGHUP,
		syscall.SIGQUIT)

	go func() {
		sig := <-sigChan
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
		c.Shutdown()
	}()
}

// Shutdown initiates graceful shutdown
func (c *Coordinator) Shutdown() {
	c.shutdownOnce.Do(func() {
		logger.Info("Starting graceful shutdown")
		close(c.shutdownChan)

		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()

		c.executeShutdown(ctx)
	})
}

// executeShutdown runs all shutdown handlers
func (c *Coordinator) executeShutdown(ctx context.Context) {
	// nkk: Start handlers in reverse registration order; they then run
	// concurrently, so no handler waits for another to finish

	var wg sync.WaitGroup
	errors := make(chan error, len(c.handlers))

	for i := len(c.handlers) - 1; i >= 0; i-- {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()

			name := c.handlerNames[idx]
			handler := c.handlers[idx]

			logger.Info("Shutting down service", zap.String("name", name))

			// nkk: Give each handler at most 5s, within the overall deadline
			handlerCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()

			if err := handler(handlerCtx); err != nil {
				logger.Error("Shutdown handler failed",
					zap.String("name", name),
					zap.Error(err))
				errors <- err
			} else {
				logger.Info("Service shutdown complete", zap.String("name", name))
			}
		}(i)
	}

	// nkk: Wait for all handlers or timeout
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("All services shut down gracefully")
	case <-ctx.Done():
		logger.Warn("Shutdown timeout exceeded, forcing exit")
	}

	close(errors)

	// nkk: Log any errors
	errorCount := 0
	for err := range errors {
		if err != nil {
			errorCount++
		}
	}

	if errorCount > 0 {
		logger.Warn("Shutdown completed with errors", zap.Int("error_count", errorCount))
	}
}

// WaitForShutdown blocks until shutdown is initiated
func (c *Coordinator) WaitForShutdown() {
	<-c.shutdownChan
}

// ShutdownChan exposes the shutdown signal for callers that need to
// select on it alongside other channels rather than block exclusively.
func (c *Coordinator) ShutdownChan() <-chan struct{} {
	return c.shutdownChan
}

// CreateWorkerPoolShutdown creates a shutdown handler for the Worker
// Pool: stop its scaler and kill every live Worker (and its child
// browser process).
func CreateWorkerPoolShutdown(pool interface{ Stop() }) ShutdownHandler {
	return func(ctx context.Context) error {
		logger.Info("Shutting down worker pool")

		done := make(chan struct{})
		go func() {
			pool.Stop()
			close(done)
		}()

		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// CreatePollerShutdown creates a shutdown handler for the Multi-Server
// Poller: nothing to drain beyond letting in-flight HTTP calls finish,
// since each ServerClient's underlying http.Client needs no explicit
// close.
func CreatePollerShutdown() ShutdownHandler {
	return func(ctx context.Context) error {
		logger.Info("Closing multi-server poller")
		return nil
	}
}

// CreateHTTPServerShutdown creates shutdown handler for HTTP server
func CreateHTTPServerShutdown(server interface{ Shutdown(context.Context) error }) ShutdownHandler {
	return func(ctx context.Context) error {
		// nkk: Graceful HTTP shutdown
		// 1. Stop accepting new connections
		// 2. Wait for active requests
		// 3. Close server

		logger.Info("Shutting down HTTP server")
		return server.Shutdown(ctx)
	}
}