package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vantagepay/ledger-engine/internal/domain"
)

type record struct {
	ID string
}

var conflictErr = &pq.Error{Code: "23505"}

func TestResolveDuplicate_OpSucceeds(t *testing.T) {
	want := &record{ID: "fresh"}
	lookupCalled := false

	got, err := ResolveDuplicate(context.Background(),
		func(ctx context.Context) (*record, error) { return want, nil },
		func(ctx context.Context) (*record, error) {
			lookupCalled = true
			return nil, domain.ErrNotFound
		},
		DuplicateOptions{},
	)
	require.NoError(t, err)
	assert.Same(t, want, got)
	assert.False(t, lookupCalled)
}

func TestResolveDuplicate_ConflictReturnsExisting(t *testing.T) {
	existing := &record{ID: "prior"}

	got, err := ResolveDuplicate(context.Background(),
		func(ctx context.Context) (*record, error) { return nil, conflictErr },
		func(ctx context.Context) (*record, error) { return existing, nil },
		DuplicateOptions{},
	)
	require.NoError(t, err)
	assert.Same(t, existing, got)
}

func TestResolveDuplicate_NonConflictPropagates(t *testing.T) {
	boom := errors.New("disk on fire")
	lookupCalled := false

	_, err := ResolveDuplicate(context.Background(),
		func(ctx context.Context) (*record, error) { return nil, boom },
		func(ctx context.Context) (*record, error) {
			lookupCalled = true
			return nil, domain.ErrNotFound
		},
		DuplicateOptions{},
	)
	require.ErrorIs(t, err, boom)
	assert.False(t, lookupCalled)
}

func TestResolveDuplicate_RetriesLookupUntilVisible(t *testing.T) {
	existing := &record{ID: "late"}
	var attempts int

	got, err := ResolveDuplicate(context.Background(),
		func(ctx context.Context) (*record, error) { return nil, conflictErr },
		func(ctx context.Context) (*record, error) {
			attempts++
			if attempts < 3 {
				return nil, domain.ErrNotFound
			}
			return existing, nil
		},
		DuplicateOptions{MaxRetries: 2, RetryDelay: time.Millisecond},
	)
	require.NoError(t, err)
	assert.Same(t, existing, got)
	assert.Equal(t, 3, attempts)
}

func TestResolveDuplicate_NeverVisibleReturnsNothing(t *testing.T) {
	var attempts int
	opCalls := 0

	got, err := ResolveDuplicate(context.Background(),
		func(ctx context.Context) (*record, error) {
			opCalls++
			return nil, conflictErr
		},
		func(ctx context.Context) (*record, error) {
			attempts++
			return nil, domain.ErrNotFound
		},
		DuplicateOptions{MaxRetries: 2, RetryDelay: time.Millisecond},
	)
	require.NoError(t, err)
	assert.Nil(t, got)
	// Initial lookup plus two backoff retries; the insert is never
	// re-attempted.
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 1, opCalls)
}

func TestResolveDuplicate_LookupErrorPropagates(t *testing.T) {
	boom := errors.New("lookup broken")

	_, err := ResolveDuplicate(context.Background(),
		func(ctx context.Context) (*record, error) { return nil, conflictErr },
		func(ctx context.Context) (*record, error) { return nil, boom },
		DuplicateOptions{},
	)
	require.ErrorIs(t, err, boom)
}
