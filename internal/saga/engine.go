package saga

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vantagepay/ledger-engine/internal/logging"
	"github.com/vantagepay/ledger-engine/internal/metrics"
	"github.com/vantagepay/ledger-engine/internal/repository"
)

const (
	defaultMaxRetries = 3
	baseBackoff       = 100 * time.Millisecond
	maxBackoff        = time.Second
)

var ErrNoSteps = errors.New("saga has no steps")

type Engine struct {
	db *sql.DB
}

func NewEngine(db *sql.DB) *Engine {
	return &Engine{db: db}
}

// Execute runs the steps under the strategy selected by opts. The
// returned Result always carries the completed step names for
// diagnostics; on failure the error is returned alongside it.
func (e *Engine) Execute(ctx context.Context, steps []Step, input any, sagaID string, opts Options) (*Result, error) {
	if len(steps) == 0 {
		return nil, fmt.Errorf("Execute: %w", ErrNoSteps)
	}

	if opts.UseTransaction {
		return e.executeTransactional(ctx, steps, input, sagaID, opts)
	}
	return e.executeCompensating(ctx, steps, input, sagaID)
}

// executeTransactional runs every step inside one transaction with
// snapshot reads, committing once at the end. Transient failures
// (conflict, timeout, connection blip) retry the whole sequence from
// scratch with exponential backoff; each attempt gets a fresh
// transaction and a fresh context, the previous one's resources
// released first.
func (e *Engine) executeTransactional(ctx context.Context, steps []Step, input any, sagaID string, opts Options) (*Result, error) {
	log := logging.FromContext(ctx).With("saga_id", sagaID)

	maxRetries := opts.MaxRetries
	if maxRetries == 0 {
		maxRetries = defaultMaxRetries
	}

	var result *Result
	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			metrics.SagaRetries.Inc()
			backoff := baseBackoff << (attempt - 1)
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			log.Warn("transient saga failure, retrying",
				"attempt", attempt, "backoff", backoff, "error", err,
			)
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("executeTransactional: %w", ctx.Err())
			case <-time.After(backoff):
			}
		}

		result, err = e.runAttempt(ctx, steps, input, sagaID)
		if err == nil {
			metrics.SagaExecutions.WithLabelValues("transactional", "success").Inc()
			return result, nil
		}
		if !repository.IsTransient(err) {
			break
		}
	}

	// The transaction aborted, so nothing persisted and no
	// compensation is needed. CompletedSteps is diagnostic only.
	metrics.SagaExecutions.WithLabelValues("transactional", "failed").Inc()
	log.Error("transactional saga failed", "error", err)
	if result == nil {
		result = &Result{
			Success: false,
			Context: &Context{SagaID: sagaID, Input: input, Err: err},
			Err:     err,
		}
	}
	return result, fmt.Errorf("executeTransactional: %w", err)
}

func (e *Engine) runAttempt(ctx context.Context, steps []Step, input any, sagaID string) (*Result, error) {
	tx, err := e.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead})
	if err != nil {
		return nil, fmt.Errorf("runAttempt: begin: %w", err)
	}
	defer tx.Rollback()

	sc := &Context{
		SagaID: sagaID,
		Input:  input,
		Tx:     tx,
		Data:   make(map[string]any),
	}
	var completed []string

	for _, step := range steps {
		if err := step.Execute(ctx, sc); err != nil {
			sc.Err = err
			sc.Tx = nil
			return &Result{Success: false, Context: sc, CompletedSteps: completed, Err: err},
				fmt.Errorf("runAttempt: step %s: %w", step.Name, err)
		}
		completed = append(completed, step.Name)
	}

	if err := tx.Commit(); err != nil {
		sc.Err = err
		sc.Tx = nil
		return &Result{Success: false, Context: sc, CompletedSteps: completed, Err: err},
			fmt.Errorf("runAttempt: commit: %w", err)
	}

	sc.Tx = nil
	return &Result{Success: true, Context: sc, CompletedSteps: completed}, nil
}

// executeCompensating runs steps without a shared transaction. When a
// critical step fails, every already-completed step is compensated in
// reverse order; a failing compensator is logged and skipped so it
// cannot prevent the remaining ones from running. Non-critical step
// failures are logged and execution continues.
func (e *Engine) executeCompensating(ctx context.Context, steps []Step, input any, sagaID string) (*Result, error) {
	log := logging.FromContext(ctx).With("saga_id", sagaID)

	sc := &Context{
		SagaID: sagaID,
		Input:  input,
		Data:   make(map[string]any),
	}
	var completed []Step
	var completedNames []string

	for _, step := range steps {
		err := runStep(ctx, step, sc)
		if err == nil {
			completed = append(completed, step)
			completedNames = append(completedNames, step.Name)
			continue
		}

		if !step.isCritical() {
			log.Warn("non-critical step failed, continuing",
				"step", step.Name, "error", err,
			)
			continue
		}

		sc.Err = err
		e.compensate(ctx, log, completed, sc)
		metrics.SagaExecutions.WithLabelValues("compensation", "failed").Inc()
		return &Result{Success: false, Context: sc, CompletedSteps: completedNames, Err: err},
			fmt.Errorf("executeCompensating: step %s: %w", step.Name, err)
	}

	metrics.SagaExecutions.WithLabelValues("compensation", "success").Inc()
	return &Result{Success: true, Context: sc, CompletedSteps: completedNames}, nil
}

// compensate walks the completed steps in reverse. Errors and panics
// from one compensator are swallowed after logging so the rest still
// get their chance to run.
func (e *Engine) compensate(ctx context.Context, log *slog.Logger, completed []Step, sc *Context) {
	for i := len(completed) - 1; i >= 0; i-- {
		step := completed[i]
		if step.Compensate == nil {
			continue
		}
		if err := runCompensator(ctx, step, sc); err != nil {
			metrics.CompensationFailures.Inc()
			log.Error("compensation failed", "step", step.Name, "error", err)
			continue
		}
		log.Info("step compensated", "step", step.Name)
	}
}

func runCompensator(ctx context.Context, step Step, sc *Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("compensator %s panicked: %v", step.Name, r)
		}
	}()
	return step.Compensate(ctx, sc)
}

func runStep(ctx context.Context, step Step, sc *Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("step %s panicked: %v", step.Name, r)
		}
	}()
	return step.Execute(ctx, sc)
}
