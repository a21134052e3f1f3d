package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vantagepay/ledger-engine/internal/domain"
	"github.com/vantagepay/ledger-engine/internal/logging"
	"github.com/vantagepay/ledger-engine/internal/metrics"
)

type DuplicateOptions struct {
	// MaxRetries bounds the lookup retries after the immediate lookup
	// misses. Zero means the default of 2.
	MaxRetries int
	// RetryDelay seeds the exponential backoff between lookups. Zero
	// means the default of 100ms.
	RetryDelay time.Duration
}

const (
	defaultLookupRetries = 2
	defaultLookupDelay   = 100 * time.Millisecond
)

// ResolveDuplicate runs op, typically a uniquely-keyed insert. A
// uniqueness conflict is not an error here: it means the same logical
// write already happened, so the existing record is looked up and
// returned as if the insert had succeeded. The lookup is retried with
// exponential backoff because the other writer's row may not be
// visible yet. A conflict with no visible prior record returns
// (nil, nil) after a warning; the insert is never re-attempted, since
// that would just re-raise the same conflict.
func ResolveDuplicate[T any](
	ctx context.Context,
	op func(context.Context) (*T, error),
	lookup func(context.Context) (*T, error),
	opts DuplicateOptions,
) (*T, error) {
	result, err := op(ctx)
	if err == nil {
		return result, nil
	}
	if !IsUniqueViolation(err) {
		return nil, err
	}

	log := logging.FromContext(ctx)
	log.Debug("unique conflict, resolving against prior write", "error", err)
	metrics.DuplicateResolutions.Inc()

	maxRetries := opts.MaxRetries
	if maxRetries == 0 {
		maxRetries = defaultLookupRetries
	}
	delay := opts.RetryDelay
	if delay == 0 {
		delay = defaultLookupDelay
	}

	for attempt := 0; ; attempt++ {
		existing, lookupErr := lookup(ctx)
		if lookupErr == nil {
			return existing, nil
		}
		if !errors.Is(lookupErr, domain.ErrNotFound) {
			return nil, fmt.Errorf("ResolveDuplicate: lookup: %w", lookupErr)
		}
		if attempt == maxRetries {
			break
		}

		backoff := delay << attempt
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("ResolveDuplicate: %w", ctx.Err())
		case <-time.After(backoff):
		}
	}

	log.Warn("unique conflict but prior write never became visible",
		"retries", maxRetries,
	)
	return nil, nil
}
