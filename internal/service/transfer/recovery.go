package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/vantagepay/ledger-engine/internal/domain"
)

type recoveryTransferRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Transfer, error)
	FinalizeStatus(ctx context.Context, id uuid.UUID, status domain.TransferStatus) (bool, error)
}

type recoveryTransactionRepo interface {
	GetByTransferID(ctx context.Context, transferID uuid.UUID) ([]domain.Transaction, error)
}

type recoveryOperationRepo interface {
	SetStatus(ctx context.Context, sagaID string, status domain.OperationStatus) (bool, error)
}

// RecoveryHandler reconciles transfer operations orphaned by a crash.
// It only ever reads committed state and flips statuses through
// guarded updates, so running it twice on the same record is a no-op
// the second time. It never re-attempts the movement itself: that
// would risk double-execution outside the original atomic boundary.
type RecoveryHandler struct {
	transfers    recoveryTransferRepo
	transactions recoveryTransactionRepo
	operations   recoveryOperationRepo
	logger       *slog.Logger
}

func NewRecoveryHandler(
	transfers recoveryTransferRepo,
	transactions recoveryTransactionRepo,
	operations recoveryOperationRepo,
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
			// The saga's transaction never committed; nothing
			// persisted beyond the marker.
			if _, err := h.operations.SetStatus(ctx, op.SagaID, domain.OperationStatusFailed); err != nil {
				return fmt.Errorf("Recover: %w", err)
			}
			h.logger.Info("orphaned operation had no committed transfer",
				"saga_id", op.SagaID, "transfer_id", op.EntityID,
			)
			return nil
		}
		return fmt.Errorf("Recover: %w", err)
	}

	if t.Status.IsTerminal() {
		// Crash happened between commit and marker resolution.
		if _, err := h.operations.SetStatus(ctx, op.SagaID, domain.OperationStatusResolved); err != nil {
			return fmt.Errorf("Recover: %w", err)
		}
		h.logger.Info("orphaned operation's transfer already terminal",
			"saga_id", op.SagaID, "transfer_id", t.ID, "status", t.Status,
		)
		return nil
	}

	// Ground truth is the transaction pair: only rows whose writing
	// transaction committed are visible here.
	txns, err := h.transactions.GetByTransferID(ctx, t.ID)
	if err != nil {
		return fmt.Errorf("Recover: %w", err)
	}

	if pairCommitted(t, txns) {
		if _, err := h.transfers.FinalizeStatus(ctx, t.ID, domain.TransferStatusApproved); err != nil {
			return fmt.Errorf("Recover: finalize: %w", err)
		}
		if _, err := h.operations.SetStatus(ctx, op.SagaID, domain.OperationStatusResolved); err != nil {
			return fmt.Errorf("Recover: %w", err)
		}
		h.logger.Info("recovered committed transfer",
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
	h.logger.Warn("failed orphaned transfer without a committed pair",
		"saga_id", op.SagaID, "transfer_id", t.ID,
	)
	return nil
}

// pairCommitted checks the double-entry shape: a committed debit and a
// committed credit of the transfer amount, with total debits equal to
// total credits across the whole set (fee legs included).
func pairCommitted(t *domain.Transfer, txns []domain.Transaction) bool {
	var debitTotal, creditTotal int64
	var amountDebit, amountCredit bool

	for _, txn := range txns {
		if txn.Status != domain.TransactionStatusCommitted {
			return false
		}
		if txn.Currency != t.Currency {
			return false
		}
		switch txn.Direction {
		case domain.DirectionDebit:
			debitTotal += txn.Amount
			if txn.Amount == t.Amount {
				amountDebit = true
			}
		case domain.DirectionCredit:
			creditTotal += txn.Amount
			if txn.Amount == t.Amount {
				amountCredit = true
			}
		}
	}

	return amountDebit && amountCredit && debitTotal > 0 && debitTotal == creditTotal
}
