// Package bonus awards single-use bonus transfers from the house
// account and manages their used/expired lifecycle.
package bonus

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/vantagepay/ledger-engine/internal/domain"
	"github.com/vantagepay/ledger-engine/internal/logging"
	"github.com/vantagepay/ledger-engine/internal/saga"
)

type accountRepo interface {
	GetForUpdate(ctx context.Context, tx *sql.Tx, id string) (*domain.Account, error)
	UpdateBalance(ctx context.Context, tx *sql.Tx, id string, newBalance int64) error
}

type transferRepo interface {
	Create(ctx context.Context, tx *sql.Tx, t *domain.Transfer) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Transfer, error)
	FinalizeStatus(ctx context.Context, id uuid.UUID, status domain.TransferStatus) (bool, error)
	ExpireStale(ctx context.Context, method domain.TransferMethod, cutoff time.Time) (int64, error)
}

type transactionRepo interface {
	Create(ctx context.Context, tx *sql.Tx, txn *domain.Transaction) error
}

type operationRepo interface {
	Create(ctx context.Context, op *domain.Operation) error
	SetStatus(ctx context.Context, sagaID string, status domain.OperationStatus) (bool, error)
}

type Service struct {
	engine       *saga.Engine
	accounts     accountRepo
	transfers    transferRepo
	transactions transactionRepo
	operations   operationRepo
	houseOwnerID uuid.UUID
	maxRetries   int
}

func NewService(
	engine *saga.Engine,
	accounts accountRepo,
	transfers transferRepo,
	transactions transactionRepo,
	operations operationRepo,
	houseOwnerID uuid.UUID,
	maxRetries int,
) *Service {
	return &Service{
		engine:       engine,
		accounts:     accounts,
		transfers:    transfers,
		transactions: transactions,
		operations:   operations,
		houseOwnerID: houseOwnerID,
		maxRetries:   maxRetries,
	}
}

type AwardRequest struct {
	UserID      uuid.UUID
	Amount      int64
	Currency    domain.Currency
	Description *string
}

// Award moves bonus value from the house account into the user's
// deposit account. The produced transfer stays pending until redeemed
// or expired; the movement itself is transactional like any other
// money saga.
func (s *Service) Award(ctx context.Context, req AwardRequest) (*domain.Transfer, error) {
	if req.Amount <= 0 {
		return nil, fmt.Errorf("Award: %w", domain.ErrInvalidAmount)
	}
	if !req.Currency.IsValid() {
		return nil, fmt.Errorf("Award: %w", domain.ErrInvalidCurrency)
	}

	sagaID := uuid.NewString()
	transferID := uuid.New()
	now := time.Now().UTC()

	op := &domain.Operation{
		SagaID:    sagaID,
		Type:      domain.OperationTypeBonus,
		Status:    domain.OperationStatusPending,
		EntityID:  transferID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.operations.Create(ctx, op); err != nil {
		return nil, fmt.Errorf("Award: create operation: %w", err)
	}

	result, err := s.engine.Execute(ctx, s.buildSteps(req, transferID), req, sagaID, saga.Options{
		UseTransaction: true,
		MaxRetries:     s.maxRetries,
	})
	if err != nil {
		if _, opErr := s.operations.SetStatus(ctx, sagaID, domain.OperationStatusFailed); opErr != nil {
			logging.FromContext(ctx).Error("failed to fail bonus operation marker",
				"saga_id", sagaID, "error", opErr,
			)
		}
		return nil, fmt.Errorf("Award: %w", err)
	}

	if _, err := s.operations.SetStatus(ctx, sagaID, domain.OperationStatusResolved); err != nil {
		logging.FromContext(ctx).Warn("bonus committed but marker not resolved",
			"saga_id", sagaID, "error", err,
		)
	}

	t := result.Context.Entity.(*domain.Transfer)
	logging.FromContext(ctx).Info("bonus awarded",
		"transfer_id", t.ID, "user_id", req.UserID, "amount", req.Amount,
	)
	return t, nil
}

func (s *Service) buildSteps(req AwardRequest, transferID uuid.UUID) []saga.Step {
	houseID := domain.UserAccountID(s.houseOwnerID, domain.SubtypeHouse)
	bonusID := domain.UserAccountID(req.UserID, domain.SubtypeDeposit)

	return []saga.Step{
		{
			Name: "create-bonus-transfer",
			Execute: func(ctx context.Context, sc *saga.Context) error {
				now := time.Now().UTC()
				t := &domain.Transfer{
					ID:          transferID,
					FromUserID:  s.houseOwnerID,
					ToUserID:    req.UserID,
					Amount:      req.Amount,
					Currency:    req.Currency,
					Status:      domain.TransferStatusPending,
					Method:      domain.MethodBonus,
					Description: req.Description,
					CreatedAt:   now,
					UpdatedAt:   now,
				}
				if err := s.transfers.Create(ctx, sc.Tx, t); err != nil {
					return err
				}
				sc.Entity = t
				return nil
			},
		},
		{
			Name: "move-bonus-funds",
			Execute: func(ctx context.Context, sc *saga.Context) error {
				ids := []string{houseID, bonusID}
				sort.Strings(ids)

				locked := make(map[string]*domain.Account, 2)
				for _, id := range ids {
					a, err := s.accounts.GetForUpdate(ctx, sc.Tx, id)
					if err != nil {
						return err
					}
					locked[id] = a
				}

				if locked[bonusID].Currency != req.Currency {
					return domain.ErrCurrencyMismatch
				}

				now := time.Now().UTC()
				// The house account is allowed to go negative; its
				// owner's role grants the overdraft, not the account
				// type.
				debit := &domain.Transaction{
					ID:         uuid.New(),
					TransferID: transferID,
					AccountID:  houseID,
					Direction:  domain.DirectionDebit,
					Amount:     req.Amount,
					Currency:   req.Currency,
					Status:     domain.TransactionStatusCommitted,
					CreatedAt:  now,
				}
				credit := &domain.Transaction{
					ID:         uuid.New(),
					TransferID: transferID,
					AccountID:  bonusID,
					Direction:  domain.DirectionCredit,
					Amount:     req.Amount,
					Currency:   req.Currency,
					Status:     domain.TransactionStatusCommitted,
					CreatedAt:  now,
				}
				if err := s.transactions.Create(ctx, sc.Tx, debit); err != nil {
					return err
				}
				if err := s.transactions.Create(ctx, sc.Tx, credit); err != nil {
					return err
				}

				if err := s.accounts.UpdateBalance(ctx, sc.Tx, houseID, locked[houseID].Balance-req.Amount); err != nil {
					return err
				}
				return s.accounts.UpdateBalance(ctx, sc.Tx, bonusID, locked[bonusID].Balance+req.Amount)
			},
		},
	}
}

// Redeem consumes a pending bonus. The guarded update makes a raced
// redeem (or a redeem after expiry) fail cleanly instead of spending
// the bonus twice.
func (s *Service) Redeem(ctx context.Context, transferID uuid.UUID) error {
	t, err := s.transfers.GetByID(ctx, transferID)
	if err != nil {
		return fmt.Errorf("Redeem: %w", err)
	}
	if t.Method != domain.MethodBonus {
		return fmt.Errorf("Redeem: %w", domain.ErrNotFound)
	}

	updated, err := s.transfers.FinalizeStatus(ctx, transferID, domain.TransferStatusUsed)
	if err != nil {
		return fmt.Errorf("Redeem: %w", err)
	}
	if !updated {
		return fmt.Errorf("Redeem: %w", domain.ErrBonusNotPending)
	}
	return nil
}

// ExpireStale flips bonuses that were never redeemed within ttl to
// expired.
func (s *Service) ExpireStale(ctx context.Context, ttl time.Duration) (int64, error) {
	n, err := s.transfers.ExpireStale(ctx, domain.MethodBonus, time.Now().UTC().Add(-ttl))
	if err != nil {
		return 0, fmt.Errorf("ExpireStale: %w", err)
	}
	if n > 0 {
		logging.FromContext(ctx).Info("expired stale bonuses", "count", n)
	}
	return n, nil
}
