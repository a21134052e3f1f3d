package domain

import (
	"time"

	"github.com/google/uuid"
)

type Direction string

const (
	DirectionDebit  Direction = "debit"
	DirectionCredit Direction = "credit"
)

type TransactionStatus string

const (
	TransactionStatusCommitted TransactionStatus = "committed"
	TransactionStatusFailed    TransactionStatus = "failed"
)

// Transaction is one directional ledger movement. Rows are immutable
// once created; a committed transfer owns exactly one debit and one
// credit of equal magnitude and matching currency.
type Transaction struct {
	ID         uuid.UUID
	TransferID uuid.UUID
	AccountID  string
	Direction  Direction
	Amount     int64
	Currency   Currency
	Status     TransactionStatus
	CreatedAt  time.Time
}
