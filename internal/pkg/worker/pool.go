// Package worker provides goroutine pool management.
//
// Naked goroutines are not used in library code. Socket write pumps, the
// realtime bus subscriber and detached background work all go through a
// Pool with context propagation.
//
// Import Path: bazaar.dev/realtime/internal/pkg/worker
package worker

import (
	"context"
	"errors"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"bazaar.dev/realtime/internal/pkg/logger"
)

// ErrPoolClosed is returned when submitting to a closed pool.
var ErrPoolClosed = errors.New("worker pool is closed")

// Pool names accepted by SubmitDetached.
const (
	PoolGeneral  = "general"
	PoolRealtime = "realtime"
)

// Task is a context-aware task function.
type Task func(ctx context.Context)

// Pool wraps ants.Pool with context-aware submission.
type Pool struct {
	pool *ants.Pool
	name string
}

// Pools is the worker pool collection.
type Pools struct {
	// General runs short detached work (presence fan-out, bus subscriber).
	General *Pool
	// Realtime runs one long-lived write pump per open socket, so its size
	// bounds concurrent connections per instance.
	Realtime *Pool

	serviceCtx    context.Context
	serviceCancel context.CancelFunc
}

// PoolConfig contains worker pool configuration.
type PoolConfig struct {
	GeneralPoolSize  int
	RealtimePoolSize int
}

// DefaultPoolConfig returns default configuration.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		GeneralPoolSize:  100,
		RealtimePoolSize: 10000,
	}
}

// NewPools creates the worker pool collection.
func NewPools(ctx context.Context, cfg PoolConfig) (*Pools, error) {
	serviceCtx, serviceCancel := context.WithCancel(ctx)

	panicHandler := func(p interface{}) {
		logger.Error("Worker panic recovered",
			zap.Any("panic", p),
			zap.Stack("stack"),
		)
	}

	generalAnts, err := ants.NewPool(cfg.GeneralPoolSize,
		ants.WithPanicHandler(panicHandler),
		ants.WithNonblocking(false),
		ants.WithExpiryDuration(10*time.Second),
	)
	if err != nil {
		serviceCancel()
		return nil, err
	}

	// Write pumps live as long as their socket; a full pool must reject new
	// connections instead of parking the HTTP handler.
	realtimeAnts, err := ants.NewPool(cfg.RealtimePoolSize,
		ants.WithPanicHandler(panicHandler),
		ants.WithNonblocking(true),
		ants.WithExpiryDuration(time.Minute),
	)
	if err != nil {
		generalAnts.Release()
		serviceCancel()
		return nil, err
	}

	return &Pools{
		General:       &Pool{pool: generalAnts, name: PoolGeneral},
		Realtime:      &Pool{pool: realtimeAnts, name: PoolRealtime},
		serviceCtx:    serviceCtx,
		serviceCancel: serviceCancel,
	}, nil
}

// Submit submits a context-aware task.
// If the context is already cancelled it returns ctx.Err() without submitting.
func (p *Pool) Submit(ctx context.Context, task Task) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	err := p.pool.Submit(func() {
		// May have been cancelled while queued.
		select {
		case <-ctx.Done():
			logger.Debug("Task skipped: context cancelled",
				zap.String("pool", p.name),
				zap.Error(ctx.Err()),
			)
			return
		default:
		}
		task(ctx)
	})
	if errors.Is(err, ants.ErrPoolClosed) {
		return ErrPoolClosed
	}
	return err
}

// SubmitDetached submits a background task bound to the service lifecycle
// context instead of a request context. It survives request cancellation but
// still stops on graceful shutdown.
func (p *Pools) SubmitDetached(poolName string, task Task) error {
	pool := p.General
	if poolName == PoolRealtime {
		pool = p.Realtime
	}

	err := pool.pool.Submit(func() {
		select {
		case <-p.serviceCtx.Done():
			logger.Debug("Detached task skipped: service shutting down",
				zap.String("pool", poolName),
			)
			return
		default:
		}
		task(p.serviceCtx)
	})
	if errors.Is(err, ants.ErrPoolClosed) {
		return ErrPoolClosed
	}
	return err
}

// Shutdown cancels the service context, then waits for running tasks (max 30s).
func (p *Pools) Shutdown() {
	p.serviceCancel()

	const shutdownTimeout = 30 * time.Second
	if err := p.General.pool.ReleaseTimeout(shutdownTimeout); err != nil {
		logger.Warn("General pool shutdown timeout", zap.Error(err))
	}
	if err := p.Realtime.pool.ReleaseTimeout(shutdownTimeout); err != nil {
		logger.Warn("Realtime pool shutdown timeout", zap.Error(err))
	}
}

// Metrics returns pool metrics for observability.
func (p *Pools) Metrics() map[string]interface{} {
	return map[string]interface{}{
		PoolGeneral: map[string]int{
			"running": p.General.pool.Running(),
			"free":    p.General.pool.Free(),
			"cap":     p.General.pool.Cap(),
		},
		PoolRealtime: map[string]int{
			"running": p.Realtime.pool.Running(),
			"free":    p.Realtime.pool.Free(),
			"cap":     p.Realtime.pool.Cap(),
		},
	}
}
