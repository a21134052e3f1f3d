package bonus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/vantagepay/ledger-engine/internal/domain"
)

type recoveryTransactionRepo interface {
	GetByTransferID(ctx context.Context, transferID uuid.UUID) ([]domain.Transaction, error)
}

// RecoveryHandler reconciles bonus operations orphaned by a crash.
// Unlike a regular transfer, a recovered bonus stays pending: pending
// is its legitimate awaiting-redemption state once the movement is
// committed. Only the absence of a committed pair fails it.
type RecoveryHandler struct {
	transfers    transferRepo
	transactions recoveryTransactionRepo
	operations   operationRepo
	logger       *slog.Logger
}

func NewRecoveryHandler(
	transfers transferRepo,
	transactions recoveryTransactionRepo,
	operations operationRepo,
	logger *slog.Logger,
) *RecoveryHandler {
	return &RecoveryHandler{
		transfers:    transfers,
		transactions: transactions,
		operations:   operations,
		logger:       logger,
	}
}

func (h *RecoveryHandler) Recover(ctx context.Context, op domain.Operation) error {
	t, err := h.transfers.GetByID(ctx, op.EntityID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			if _, err := h.operations.SetStatus(ctx, op.SagaID, domain.OperationStatusFailed); err != nil {
				return fmt.Errorf("Recover: %w", err)
			}
			return nil
		}
		return fmt.Errorf("Recover: %w", err)
	}

	txns, err := h.transactions.GetByTransferID(ctx, t.ID)
	if err != nil {
		return fmt.Errorf("Recover: %w", err)
	}

	var debit, credit bool
	for _, txn := range txns {
		if txn.Status != domain.TransactionStatusCommitted || txn.Amount != t.Amount {
			continue
		}
		switch txn.Direction {
		case domain.DirectionDebit:
			debit = true
		case domain.DirectionCredit:
			credit = true
		}
	}

	if debit && credit {
		if _, err := h.operations.SetStatus(ctx, op.SagaID, domain.OperationStatusResolved); err != nil {
			return fmt.Errorf("Recover: %w", err)
		}
		h.logger.Info("recovered committed bonus award",
			"saga_id", op.SagaID, "transfer_id", t.ID,
		)
		return nil
	}

	if _, err := h.transfers.FinalizeStatus(ctx, t.ID, domain.TransferStatusFailed); err != nil {
		return fmt.Errorf("Recover: fail transfer: %w", err)
	}
	if _, err := h.operations.SetStatus(ctx, op.SagaID, domain.OperationStatusFailed); err != nil {
		return fmt.Errorf("Recover: %w", err)
	}
	h.logger.Warn("failed orphaned bonus without a committed pair",
		"saga_id", op.SagaID, "transfer_id", t.ID,
	)
	return nil
}
