// Package saga runs an ordered list of steps as one logical operation,
// either inside a single database transaction or with step-level
// compensation.
package saga

import (
	"context"
	"database/sql"
)

// Step is one unit of work in a saga. Execute mutates the ledger
// through sc; Compensate reverses a completed Execute and is only used
// by the compensation strategy.
//
// Critical defaults to true: only an explicit false marks a step whose
// failure is logged and skipped instead of aborting the saga.
type Step struct {
	Name       string
	Critical   *bool
	Execute    func(ctx context.Context, sc *Context) error
	Compensate func(ctx context.Context, sc *Context) error
}

func (s Step) isCritical() bool {
	return s.Critical == nil || *s.Critical
}

// NotCritical marks a step as best-effort.
var NotCritical = boolPtr(false)

func boolPtr(v bool) *bool { return &v }

// Context is owned by exactly one saga execution. Tx carries the
// shared transaction handle under the transactional strategy and is
// nil otherwise; it must never leak to another execution. Data is the
// free-form side channel between steps.
type Context struct {
	SagaID string
	Input  any
	Entity any
	Tx     *sql.Tx
	Data   map[string]any
	Err    error
}

type Options struct {
	// UseTransaction selects the transactional strategy. Mandatory for
	// money-moving sagas.
	UseTransaction bool
	// MaxRetries bounds transactional retry attempts. Zero means the
	// default of 3.
	MaxRetries int
}

type Result struct {
	Success        bool
	Context        *Context
	CompletedSteps []string
	Err            error
}
