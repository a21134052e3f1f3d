package domain

import (
	"time"

	"github.com/google/uuid"
)

type OperationType string

const (
	OperationTypeTransfer OperationType = "transfer"
	OperationTypeBonus    OperationType = "bonus"
)

type OperationStatus string

const (
	OperationStatusPending  OperationStatus = "pending"
	OperationStatusResolved OperationStatus = "resolved"
	OperationStatusFailed   OperationStatus = "failed"
)

// Operation is the durable marker of an in-flight saga. It is written
// before the saga's first step and resolved once the saga, or the
// recovery job after a crash, reaches a terminal state.
type Operation struct {
	SagaID    string
	Type      OperationType
	Status    OperationStatus
	EntityID  uuid.UUID
	CreatedAt time.Time
	UpdatedAt time.Time
}
