package saga_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vantagepay/ledger-engine/internal/saga"
	"github.com/vantagepay/ledger-engine/internal/testutil"
)

func insertAccountStep(name string, ownerID uuid.UUID) saga.Step {
	return saga.Step{
		Name: name,
		Execute: func(ctx context.Context, sc *saga.Context) error {
			_, err := sc.Tx.ExecContext(ctx,
				`INSERT INTO accounts (id, owner_id, subtype, currency, balance)
				 VALUES ($1, $2, 'wallet', 'USD', 0)`,
				"user:"+ownerID.String()+":wallet", ownerID,
			)
			return err
		},
	}
}

func countAccounts(t *testing.T, db *sql.DB) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(`SELECT count(*) FROM accounts`).Scan(&n))
	return n
}

func TestTransactional_CommitPersistsAllSteps(t *testing.T) {
	db := testutil.SetupTestDB(t)
	engine := saga.NewEngine(db)

	steps := []saga.Step{
		insertAccountStep("first", uuid.New()),
		insertAccountStep("second", uuid.New()),
	}

	result, err := engine.Execute(context.Background(), steps, nil, uuid.NewString(), saga.Options{
		UseTransaction: true,
	})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, []string{"first", "second"}, result.CompletedSteps)
	assert.Equal(t, 2, countAccounts(t, db))
}

func TestTransactional_FailureDiscardsEverything(t *testing.T) {
	db := testutil.SetupTestDB(t)
	engine := saga.NewEngine(db)
	boom := errors.New("downstream rejected")

	// Fail after each prefix of completed steps; no prefix may leak.
	for failAt := 0; failAt < 3; failAt++ {
		steps := []saga.Step{
			insertAccountStep("first", uuid.New()),
			insertAccountStep("second", uuid.New()),
			insertAccountStep("third", uuid.New()),
		}
		steps[failAt].Execute = func(ctx context.Context, sc *saga.Context) error {
			return boom
		}

		_, err := engine.Execute(context.Background(), steps, nil, uuid.NewString(), saga.Options{
			UseTransaction: true,
		})
		require.ErrorIs(t, err, boom)
		assert.Equal(t, 0, countAccounts(t, db), "rows leaked when step %d failed", failAt)
	}
}

func TestTransactional_StepsShareOneSnapshot(t *testing.T) {
	db := testutil.SetupTestDB(t)
	engine := saga.NewEngine(db)
	owner := uuid.New()

	steps := []saga.Step{
		insertAccountStep("insert", owner),
		{
			Name: "read-own-write",
			Execute: func(ctx context.Context, sc *saga.Context) error {
				var balance int64
				return sc.Tx.QueryRowContext(ctx,
					`SELECT balance FROM accounts WHERE id = $1`,
					"user:"+owner.String()+":wallet",
				).Scan(&balance)
			},
		},
	}

	_, err := engine.Execute(context.Background(), steps, nil, uuid.NewString(), saga.Options{
		UseTransaction: true,
	})
	require.NoError(t, err)
}

func TestTransactional_RetriesTransientFailures(t *testing.T) {
	db := testutil.SetupTestDB(t)
	engine := saga.NewEngine(db)

	attempts := 0
	steps := []saga.Step{
		insertAccountStep("insert", uuid.New()),
		{
			Name: "flaky",
			Execute: func(ctx context.Context, sc *saga.Context) error {
				attempts++
				if attempts < 3 {
					return &pq.Error{Code: "40001"}
				}
				return nil
			},
		},
	}

	result, err := engine.Execute(context.Background(), steps, nil, uuid.NewString(), saga.Options{
		UseTransaction: true,
		MaxRetries:     3,
	})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, 3, attempts)
	// Each aborted attempt's insert rolled back with it.
	assert.Equal(t, 1, countAccounts(t, db))
}

func TestTransactional_GivesUpAfterMaxRetries(t *testing.T) {
	db := testutil.SetupTestDB(t)
	engine := saga.NewEngine(db)

	attempts := 0
	steps := []saga.Step{
		{
			Name: "always-conflicting",
			Execute: func(ctx context.Context, sc *saga.Context) error {
				attempts++
				return &pq.Error{Code: "40001"}
			},
		},
	}

	_, err := engine.Execute(context.Background(), steps, nil, uuid.NewString(), saga.Options{
		UseTransaction: true,
		MaxRetries:     2,
	})
	require.Error(t, err)

	var pqErr *pq.Error
	require.ErrorAs(t, err, &pqErr)
	assert.Equal(t, pq.ErrorCode("40001"), pqErr.Code)
	assert.Equal(t, 3, attempts, "initial attempt plus two retries")
}

func TestTransactional_NonTransientFailureDoesNotRetry(t *testing.T) {
	db := testutil.SetupTestDB(t)
	engine := saga.NewEngine(db)

	attempts := 0
	steps := []saga.Step{
		{
			Name: "broken",
			Execute: func(ctx context.Context, sc *saga.Context) error {
				attempts++
				return errors.New("bad input")
			},
		},
	}

	_, err := engine.Execute(context.Background(), steps, nil, uuid.NewString(), saga.Options{
		UseTransaction: true,
		MaxRetries:     3,
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}
