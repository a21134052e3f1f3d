package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vantagepay/ledger-engine/internal/domain"
)

const transferColumns = `id, from_user_id, to_user_id, amount, currency, fee_amount,
	status, external_ref, method, description, meta, created_at, updated_at`

type TransferRepository struct {
	db *sql.DB
}

func NewTransferRepository(db *sql.DB) *TransferRepository {
	return &TransferRepository{db: db}
}

func (r *TransferRepository) Create(ctx context.Context, tx *sql.Tx, t *domain.Transfer) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO transfers (
			id, from_user_id, to_user_id, amount, currency, fee_amount,
			status, external_ref, method, description, meta, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		t.ID, t.FromUserID, t.ToUserID, t.Amount, t.Currency, t.FeeAmount,
		t.Status, t.ExternalRef, t.Method, t.Description, t.Meta, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (r *TransferRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Transfer, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+transferColumns+` FROM transfers WHERE id = $1`, id,
	)
	t, err := scanTransfer(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByID: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByID: %w", err)
	}
	return t, nil
}

// GetByExternalRef uses the minimal-projection read path: the lookup
// hits the unique external_ref index only, so it stays cheap when the
// resolver polls it under a visibility window.
func (r *TransferRepository) GetByExternalRef(ctx context.Context, ref string) (*domain.Transfer, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+transferColumns+` FROM transfers WHERE external_ref = $1`, ref,
	)
	t, err := scanTransfer(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByExternalRef: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByExternalRef: %w", err)
	}
	return t, nil
}

func (r *TransferRepository) UpdateStatus(ctx context.Context, tx *sql.Tx, id uuid.UUID, status domain.TransferStatus) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE transfers SET status = $1, updated_at = now() WHERE id = $2`,
		status, id,
	)
	if err != nil {
		return fmt.Errorf("UpdateStatus: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("UpdateStatus: rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("UpdateStatus: %w", domain.ErrNotFound)
	}
	return nil
}

// FinalizeStatus moves a pending transfer to a terminal status. It is
// guarded on the current status, so repeating it (recovery runs twice,
// redeem raced by expiry) changes nothing the second time.
func (r *TransferRepository) FinalizeStatus(ctx context.Context, id uuid.UUID, status domain.TransferStatus) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE transfers SET status = $1, updated_at = now()
		WHERE id = $2 AND status = $3`,
		status, id, domain.TransferStatusPending,
	)
	if err != nil {
		return false, fmt.Errorf("FinalizeStatus: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("FinalizeStatus: rows affected: %w", err)
	}
	return rows > 0, nil
}

// ExpireStale flips pending single-use transfers older than cutoff to
// expired and returns how many were touched.
func (r *TransferRepository) ExpireStale(ctx context.Context, method domain.TransferMethod, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE transfers SET status = $1, updated_at = now()
		WHERE method = $2 AND status = $3 AND created_at < $4`,
		domain.TransferStatusExpired, method, domain.TransferStatusPending, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("ExpireStale: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("ExpireStale: rows affected: %w", err)
	}
	return n, nil
}

func scanTransfer(s scanner) (*domain.Transfer, error) {
	var t domain.Transfer
	var meta *[]byte
	err := s.Scan(
		&t.ID, &t.FromUserID, &t.ToUserID, &t.Amount, &t.Currency, &t.FeeAmount,
		&t.Status, &t.ExternalRef, &t.Method, &t.Description, &meta,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if meta != nil {
		t.Meta = *meta
	}
	return &t, nil
}
