// Package server provides application lifecycle management including
// graceful startup and shutdown with signal handling.
package server

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Service represents a long-running component that can be started and stopped.
type Service interface {
	// Start begins the service. It should block until the service finishes
	// or an error occurs. An interactive session returning nil counts as a
	// clean finish and initiates shutdown of the whole lifecycle.
	Start() error
	// Stop gracefully stops the service.
	Stop()
}

// FuncService adapts a start/stop function pair into the Service interface.
type FuncService struct {
	StartFn func() error
	StopFn  func()
}

// Start calls the underlying start function.
func (f *FuncService) Start() error { return f.StartFn() }

// Stop calls the underlying stop function.
func (f *FuncService) Stop() { f.StopFn() }

// Lifecycle manages the startup and shutdown of multiple services.
// Services are started in order and stopped in reverse order.
type Lifecycle struct {
	logger   *zap.Logger
	services []namedService
	mu       sync.Mutex
}

type namedService struct {
	name    string
	service Service
}

// NewLifecycle creates a new Lifecycle manager.
//
// Precondition: logger must be non-nil.
func NewLifecycle(logger *zap.Logger) *Lifecycle {
	return &Lifecycle{
		logger: logger,
	}
}

// Add registers a named service for lifecycle management.
// Services are started in the order they are added.
//
// Precondition: name must be non-empty; svc must be non-nil.
func (l *Lifecycle) Add(name string, svc Service) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.services = append(l.services, namedService{name: name, service: svc})
}

// shutdownGrace bounds the wait for Start goroutines to hand back their
// results after every service has been stopped. Stop-time work such as a
// session's final save completes inside this window.
const shutdownGrace = 30 * time.Second

// Run starts all services and blocks until a termination signal is received
// (SIGINT or SIGTERM), the context is cancelled, or any service's Start
// returns. On any of these, services are stopped in reverse order and Run
// waits, bounded by shutdownGrace, for the started goroutines to return.
//
// Postcondition: All services are stopped when this method returns; the
// first service error, if any, is returned.
func (l *Lifecycle) Run(ctx context.Context) error {
	start := time.Now()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	doneCh := make(chan serviceResult, len(l.services))
	for _, ns := range l.services {
		ns := ns
		go func() {
			l.logger.Info("starting service",
				zap.String("service", ns.name),
			)
			svcStart := time.Now()
			err := ns.service.Start()
			if err != nil {
				l.logger.Error("service failed",
					zap.String("service", ns.name),
					zap.Error(err),
					zap.Duration("uptime", time.Since(svcStart)),
				)
				err = fmt.Errorf("service %s: %w", ns.name, err)
			} else {
				l.logger.Info("service finished",
					zap.String("service", ns.name),
					zap.Duration("uptime", time.Since(svcStart)),
				)
			}
			doneCh <- serviceResult{name: ns.name, err: err}
			cancel()
		}()
	}

	l.logger.Info("all services started",
		zap.Int("count", len(l.services)),
		zap.Duration("startup", time.Since(start)),
	)

	// Wait for signal, service completion, or context cancellation
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var firstErr error
	received := 0
	select {
	case sig := <-sigCh:
		l.logger.Info("received signal, shutting down",
			zap.String("signal", sig.String()),
		)
	case res := <-doneCh:
		received++
		firstErr = res.err
		if res.err != nil {
			l.logger.Error("service error, shutting down",
				zap.Error(res.err),
			)
		} else {
			l.logger.Info("service finished, shutting down",
				zap.String("service", res.name),
			)
		}
	case <-ctx.Done():
		// A finishing service cancels the context itself; prefer its result
		// over a bare cancellation when both are ready.
		select {
		case res := <-doneCh:
			received++
			firstErr = res.err
		default:
		}
		l.logger.Info("context cancelled, shutting down", zap.Error(firstErr))
	}

	// Stop services in reverse order
	l.shutdown()

	// Every Stop has run; wait for the Start goroutines to hand back their
	// results so stop-time work (a session's final save) finishes before the
	// process exits. A service that cannot unblock its own Start forfeits the
	// wait at the grace deadline.
	grace := time.After(shutdownGrace)
drain:
	for received < len(l.services) {
		select {
		case res := <-doneCh:
			received++
			if firstErr == nil && res.err != nil {
				firstErr = res.err
			}
		case <-grace:
			l.logger.Warn("services still running at shutdown deadline",
				zap.Int("remaining", len(l.services)-received),
			)
			break drain
		}
	}

	l.logger.Info("shutdown complete",
		zap.Duration("total_uptime", time.Since(start)),
	)
	return firstErr
}

type serviceResult struct {
	name string
	err  error
}

func (l *Lifecycle) shutdown() {
	shutdownStart := time.Now()
	for i := len(l.services) - 1; i >= 0; i-- {
		ns := l.services[i]
		svcStart := time.Now()
		l.logger.Info("stopping service",
			zap.String("service", ns.name),
		)
		ns.service.Stop()
		l.logger.Info("service stopped",
			zap.String("service", ns.name),
			zap.Duration("elapsed", time.Since(svcStart)),
		)
	}
	l.logger.Info("all services stopped",
		zap.Duration("shutdown_elapsed", time.Since(shutdownStart)),
	)
}
