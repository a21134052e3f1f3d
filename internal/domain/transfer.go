package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type TransferStatus string

const (
	TransferStatusPending  TransferStatus = "pending"
	TransferStatusApproved TransferStatus = "approved"
	TransferStatusFailed   TransferStatus = "failed"

	// Single-use transfers (bonus awards) terminate as used or expired
	// instead of approved.
	TransferStatusUsed    TransferStatus = "used"
	TransferStatusExpired TransferStatus = "expired"
)

func (s TransferStatus) IsTerminal() bool {
	switch s {
	case TransferStatusApproved, TransferStatusFailed, TransferStatusUsed, TransferStatusExpired:
		return true
	}
	return false
}

type TransferMethod string

const (
	MethodInternal TransferMethod = "internal"
	MethodBonus    TransferMethod = "bonus"
)

// Transfer is the unit of business intent. Rows are never deleted;
// status is the only field mutated after creation, by the owning saga
// or by recovery.
type Transfer struct {
	ID          uuid.UUID
	FromUserID  uuid.UUID
	ToUserID    uuid.UUID
	Amount      int64
	Currency    Currency
	FeeAmount   int64
	Status      TransferStatus
	ExternalRef *string
	Method      TransferMethod
	Description *string
	Meta        json.RawMessage
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
