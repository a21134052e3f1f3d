package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/vantagepay/ledger-engine/internal/domain"
)

const transactionColumns = `id, transfer_id, account_id, direction, amount, currency,
	status, created_at`

type TransactionRepository struct {
	db *sql.DB
}

func NewTransactionRepository(db *sql.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) Create(ctx context.Context, tx *sql.Tx, txn *domain.Transaction) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO transactions (
			id, transfer_id, account_id, direction, amount, currency, status, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		txn.ID, txn.TransferID, txn.AccountID, txn.Direction, txn.Amount,
		txn.Currency, txn.Status, txn.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

// GetByTransferID reads outside any transaction, so it only ever sees
// rows whose writing transaction committed. Recovery leans on that to
// re-derive ground truth after a crash.
func (r *TransactionRepository) GetByTransferID(ctx context.Context, transferID uuid.UUID) ([]domain.Transaction, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions
		WHERE transfer_id = $1 ORDER BY created_at`, transferID,
	)
	if err != nil {
		return nil, fmt.Errorf("GetByTransferID: %w", err)
	}
	defer rows.Close()

	var txns []domain.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("GetByTransferID: scan: %w", err)
		}
		txns = append(txns, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("GetByTransferID: rows: %w", err)
	}
	return txns, nil
}

func (r *TransactionRepository) GetByAccountID(ctx context.Context, accountID string, limit, offset int) ([]domain.Transaction, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions
		WHERE account_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		accountID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("GetByAccountID: %w", err)
	}
	defer rows.Close()

	var txns []domain.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("GetByAccountID: scan: %w", err)
		}
		txns = append(txns, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("GetByAccountID: rows: %w", err)
	}
	return txns, nil
}

func scanTransaction(s scanner) (*domain.Transaction, error) {
	var t domain.Transaction
	err := s.Scan(
		&t.ID, &t.TransferID, &t.AccountID, &t.Direction,
		&t.Amount, &t.Currency, &t.Status, &t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
