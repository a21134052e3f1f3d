package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vantagepay/ledger-engine/internal/domain"
)

const operationColumns = `saga_id, operation_type, status, entity_id, created_at, updated_at`

type OperationRepository struct {
	db *sql.DB
}

func NewOperationRepository(db *sql.DB) *OperationRepository {
	return &OperationRepository{db: db}
}

// Create writes the recoverable-operation marker. It runs outside the
// saga's transaction on purpose: the marker must survive an abort so
// the recovery job can observe the attempt.
func (r *OperationRepository) Create(ctx context.Context, op *domain.Operation) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO operations (saga_id, operation_type, status, entity_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		op.SagaID, op.Type, op.Status, op.EntityID, op.CreatedAt, op.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (r *OperationRepository) GetBySagaID(ctx context.Context, sagaID string) (*domain.Operation, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+operationColumns+` FROM operations WHERE saga_id = $1`, sagaID,
	)
	op, err := scanOperation(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetBySagaID: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetBySagaID: %w", err)
	}
	return op, nil
}

// SetStatus is guarded on the pending status so a second reconciliation
// of the same operation is a no-op.
func (r *OperationRepository) SetStatus(ctx context.Context, sagaID string, status domain.OperationStatus) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE operations SET status = $1, updated_at = now()
		WHERE saga_id = $2 AND status = $3`,
		status, sagaID, domain.OperationStatusPending,
	)
	if err != nil {
		return false, fmt.Errorf("SetStatus: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("SetStatus: rows affected: %w", err)
	}
	return rows > 0, nil
}

// ListStale returns pending operations older than maxAge. Anything
// younger is presumed to be a live, healthy execution and left alone.
func (r *OperationRepository) ListStale(ctx context.Context, maxAge time.Duration, limit int) ([]domain.Operation, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+operationColumns+` FROM operations
		WHERE status = $1 AND created_at < now() - $2 * interval '1 second'
		ORDER BY created_at LIMIT $3`,
		domain.OperationStatusPending, int64(maxAge.Seconds()), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("ListStale: %w", err)
	}
	defer rows.Close()

	var ops []domain.Operation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, fmt.Errorf("ListStale: scan: %w", err)
		}
		ops = append(ops, *op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListStale: rows: %w", err)
	}
	return ops, nil
}

func scanOperation(s scanner) (*domain.Operation, error) {
	var op domain.Operation
	err := s.Scan(&op.SagaID, &op.Type, &op.Status, &op.EntityID, &op.CreatedAt, &op.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &op, nil
}
