// Package recovery finds operations orphaned by a crash and brings
// them to a terminal, consistent state.
package recovery

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/vantagepay/ledger-engine/internal/domain"
	"github.com/vantagepay/ledger-engine/internal/metrics"
)

// Handler reconciles one stale operation of a registered type.
// Implementations must be idempotent: reconciling the same record
// twice must not change the outcome or duplicate side effects, and
// must never re-attempt the underlying value movement.
type Handler interface {
	Recover(ctx context.Context, op domain.Operation) error
}

type HandlerFunc func(ctx context.Context, op domain.Operation) error

func (f HandlerFunc) Recover(ctx context.Context, op domain.Operation) error {
	return f(ctx, op)
}

type operationLister interface {
	ListStale(ctx context.Context, maxAge time.Duration, limit int) ([]domain.Operation, error)
}

// minMaxAge is the floor for the staleness threshold. Anything lower
// would race healthy in-flight sagas; the scan interval should sit
// well above it.
const minMaxAge = 60 * time.Second

const scanBatchSize = 100

type Job struct {
	ops      operationLister
	logger   *slog.Logger
	handlers map[domain.OperationType]Handler

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewJob(ops operationLister, logger *slog.Logger) *Job {
	return &Job{
		ops:      ops,
		logger:   logger,
		handlers: make(map[domain.OperationType]Handler),
	}
}

// Register wires a handler for one operation type. Additional
// recoverable kinds plug in here without touching the scan loop.
func (j *Job) Register(opType domain.OperationType, h Handler) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.handlers[opType] = h
}

// Start launches the periodic scan. maxAge below the floor is raised
// to it so the job never touches an operation a live saga could still
// own.
func (j *Job) Start(ctx context.Context, interval, maxAge time.Duration) {
	if maxAge < minMaxAge {
		j.logger.Warn("recovery max age below floor, raising",
			"requested", maxAge, "floor", minMaxAge,
		)
		maxAge = minMaxAge
	}

	runCtx, cancel := context.WithCancel(ctx)
	j.mu.Lock()
	j.cancel = cancel
	j.mu.Unlock()

	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		j.logger.Info("recovery job started", "interval", interval, "max_age", maxAge)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-runCtx.Done():
				j.logger.Info("recovery job stopped")
				return
			case <-ticker.C:
				j.RunPass(runCtx, maxAge)
			}
		}
	}()
}

// Stop halts the timer and waits for an in-flight pass to finish.
func (j *Job) Stop() {
	j.mu.Lock()
	cancel := j.cancel
	j.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	j.wg.Wait()
}

// RunPass scans once for operations stuck in a non-terminal state
// longer than maxAge and dispatches each to its type's handler.
func (j *Job) RunPass(ctx context.Context, maxAge time.Duration) {
	metrics.RecoveryPasses.Inc()

	stale, err := j.ops.ListStale(ctx, maxAge, scanBatchSize)
	if err != nil {
		j.logger.Error("recovery scan failed", "error", err)
		return
	}
	if len(stale) == 0 {
		return
	}

	j.logger.Info("recovery pass found stale operations", "count", len(stale))

	for _, op := range stale {
		j.mu.Lock()
		handler, ok := j.handlers[op.Type]
		j.mu.Unlock()

		if !ok {
			metrics.RecoveryOperations.WithLabelValues(string(op.Type), "no_handler").Inc()
			j.logger.Error("no recovery handler registered",
				"operation_type", op.Type, "saga_id", op.SagaID,
			)
			continue
		}

		if err := handler.Recover(ctx, op); err != nil {
			metrics.RecoveryOperations.WithLabelValues(string(op.Type), "error").Inc()
			j.logger.Error("recovery handler failed",
				"operation_type", op.Type, "saga_id", op.SagaID, "error", err,
			)
			continue
		}
		metrics.RecoveryOperations.WithLabelValues(string(op.Type), "reconciled").Inc()
	}
}
