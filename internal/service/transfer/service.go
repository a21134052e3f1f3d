package transfer

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/vantagepay/ledger-engine/internal/cache"
	"github.com/vantagepay/ledger-engine/internal/domain"
	"github.com/vantagepay/ledger-engine/internal/fees"
	"github.com/vantagepay/ledger-engine/internal/logging"
	"github.com/vantagepay/ledger-engine/internal/repository"
	"github.com/vantagepay/ledger-engine/internal/saga"
)

type accountRepo interface {
	GetForUpdate(ctx context.Context, tx *sql.Tx, id string) (*domain.Account, error)
	UpdateBalance(ctx context.Context, tx *sql.Tx, id string, newBalance int64) error
}

type transferRepo interface {
	Create(ctx context.Context, tx *sql.Tx, t *domain.Transfer) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Transfer, error)
	GetByExternalRef(ctx context.Context, ref string) (*domain.Transfer, error)
	UpdateStatus(ctx context.Context, tx *sql.Tx, id uuid.UUID, status domain.TransferStatus) error
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
	fees         *fees.Policy
	cache        *cache.Cache
	houseOwnerID uuid.UUID
	maxRetries   int
}

func NewService(
	engine *saga.Engine,
	accounts accountRepo,
	transfers transferRepo,
	transactions transactionRepo,
	operations operationRepo,
	feePolicy *fees.Policy,
	c *cache.Cache,
	houseOwnerID uuid.UUID,
	maxRetries int,
) *Service {
	return &Service{
		engine:       engine,
		accounts:     accounts,
		transfers:    transfers,
		transactions: transactions,
		operations:   operations,
		fees:         feePolicy,
		cache:        c,
		houseOwnerID: houseOwnerID,
		maxRetries:   maxRetries,
	}
}

type Request struct {
	FromUserID  uuid.UUID
	ToUserID    uuid.UUID
	Amount      int64
	Currency    domain.Currency
	ExternalRef *string
	Description *string
	Meta        json.RawMessage
}

// Create moves value between the two wallets with all-or-nothing
// semantics. A retried request with the same external reference
// returns the original transfer unchanged.
func (s *Service) Create(ctx context.Context, req Request) (*domain.Transfer, error) {
	log := logging.FromContext(ctx)

	if err := s.validate(req); err != nil {
		return nil, fmt.Errorf("Create: %w", err)
	}

	if req.ExternalRef != nil {
		if cached, ok := s.cache.Get(refCacheKey(*req.ExternalRef)); ok {
			if t, ok := cached.(*domain.Transfer); ok {
				return t, nil
			}
		}
	}

	fee, err := s.fees.FeeFor(req.Amount)
	if err != nil {
		return nil, fmt.Errorf("Create: %w", err)
	}

	// The saga's insert races through the unique external_ref index.
	// A conflict means some earlier attempt of this logical transfer
	// already won; the resolver hands that one back instead of
	// propagating the conflict.
	t, err := repository.ResolveDuplicate(ctx,
		func(ctx context.Context) (*domain.Transfer, error) {
			return s.runTransferSaga(ctx, req, fee)
		},
		func(ctx context.Context) (*domain.Transfer, error) {
			if req.ExternalRef == nil {
				return nil, domain.ErrNotFound
			}
			return s.transfers.GetByExternalRef(ctx, *req.ExternalRef)
		},
		repository.DuplicateOptions{},
	)
	if err != nil {
		return nil, fmt.Errorf("Create: %w", err)
	}
	if t == nil {
		return nil, fmt.Errorf("Create: conflicting transfer not found: %w", domain.ErrNotFound)
	}

	if req.ExternalRef != nil {
		s.cache.Set(refCacheKey(*req.ExternalRef), t)
	}

	log.Info("transfer finished",
		"transfer_id", t.ID,
		"from_user", t.FromUserID,
		"to_user", t.ToUserID,
		"amount", t.Amount,
		"currency", t.Currency,
		"fee", t.FeeAmount,
		"status", t.Status,
	)
	return t, nil
}

func (s *Service) validate(req Request) error {
	if req.Amount <= 0 {
		return domain.ErrInvalidAmount
	}
	if !req.Currency.IsValid() {
		return domain.ErrInvalidCurrency
	}
	if req.FromUserID == req.ToUserID {
		return domain.ErrSelfTransfer
	}
	return nil
}

func (s *Service) runTransferSaga(ctx context.Context, req Request, fee int64) (*domain.Transfer, error) {
	sagaID := uuid.NewString()
	transferID := uuid.New()
	now := time.Now().UTC()

	// The marker is written outside the saga's transaction so the
	// recovery job can observe the attempt even when the process dies
	// mid-flight.
	op := &domain.Operation{
		SagaID:    sagaID,
		Type:      domain.OperationTypeTransfer,
		Status:    domain.OperationStatusPending,
		EntityID:  transferID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.operations.Create(ctx, op); err != nil {
		return nil, fmt.Errorf("runTransferSaga: create operation: %w", err)
	}

	steps := s.buildSteps(req, transferID, fee)

	result, err := s.engine.Execute(ctx, steps, req, sagaID, saga.Options{
		UseTransaction: true,
		MaxRetries:     s.maxRetries,
	})
	if err != nil {
		// The attempt is dead; a unique conflict is resolved by the
		// caller, everything else is a plain failure. Either way this
		// marker has nothing left to recover.
		if _, opErr := s.operations.SetStatus(ctx, sagaID, domain.OperationStatusFailed); opErr != nil {
			logging.FromContext(ctx).Error("failed to fail operation marker",
				"saga_id", sagaID, "error", opErr,
			)
		}
		return nil, err
	}

	if _, err := s.operations.SetStatus(ctx, sagaID, domain.OperationStatusResolved); err != nil {
		// The transfer committed; recovery will resolve the marker on
		// a later pass.
		logging.FromContext(ctx).Warn("transfer committed but marker not resolved",
			"saga_id", sagaID, "error", err,
		)
	}

	t, ok := result.Context.Entity.(*domain.Transfer)
	if !ok {
		return nil, fmt.Errorf("runTransferSaga: saga produced no transfer entity")
	}
	return t, nil
}

func (s *Service) buildSteps(req Request, transferID uuid.UUID, fee int64) []saga.Step {
	sourceID := domain.UserAccountID(req.FromUserID, domain.SubtypeWallet)
	destID := domain.UserAccountID(req.ToUserID, domain.SubtypeWallet)
	houseID := domain.UserAccountID(s.houseOwnerID, domain.SubtypeHouse)

	return []saga.Step{
		{
			Name: "create-transfer",
			Execute: func(ctx context.Context, sc *saga.Context) error {
				now := time.Now().UTC()
				t := &domain.Transfer{
					ID:          transferID,
					FromUserID:  req.FromUserID,
					ToUserID:    req.ToUserID,
					Amount:      req.Amount,
					Currency:    req.Currency,
					FeeAmount:   fee,
					Status:      domain.TransferStatusPending,
					ExternalRef: req.ExternalRef,
					Method:      domain.MethodInternal,
					Description: req.Description,
					Meta:        req.Meta,
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
			Name: "debit-source",
			Execute: func(ctx context.Context, sc *saga.Context) error {
				ids := []string{sourceID, destID}
				if fee > 0 {
					ids = append(ids, houseID)
				}
				locked, err := s.lockAccountsInOrder(ctx, sc.Tx, ids)
				if err != nil {
					return err
				}
				sc.Data["accounts"] = locked

				source := locked[sourceID]
				if source.Currency != req.Currency || locked[destID].Currency != req.Currency {
					return domain.ErrCurrencyMismatch
				}

				total := req.Amount + fee
				if source.Balance < total {
					return domain.ErrInsufficientFunds
				}

				if err := s.writeMovement(ctx, sc.Tx, transferID, sourceID, domain.DirectionDebit, req.Amount, req.Currency); err != nil {
					return err
				}
				if fee > 0 {
					if err := s.writeMovement(ctx, sc.Tx, transferID, sourceID, domain.DirectionDebit, fee, req.Currency); err != nil {
						return err
					}
				}
				return s.accounts.UpdateBalance(ctx, sc.Tx, sourceID, source.Balance-total)
			},
		},
		{
			Name: "credit-destination",
			Execute: func(ctx context.Context, sc *saga.Context) error {
				locked := sc.Data["accounts"].(map[string]*domain.Account)

				if err := s.writeMovement(ctx, sc.Tx, transferID, destID, domain.DirectionCredit, req.Amount, req.Currency); err != nil {
					return err
				}
				if err := s.accounts.UpdateBalance(ctx, sc.Tx, destID, locked[destID].Balance+req.Amount); err != nil {
					return err
				}

				if fee > 0 {
					if err := s.writeMovement(ctx, sc.Tx, transferID, houseID, domain.DirectionCredit, fee, req.Currency); err != nil {
						return err
					}
					if err := s.accounts.UpdateBalance(ctx, sc.Tx, houseID, locked[houseID].Balance+fee); err != nil {
						return err
					}
				}
				return nil
			},
		},
		{
			Name: "approve-transfer",
			Execute: func(ctx context.Context, sc *saga.Context) error {
				t := sc.Entity.(*domain.Transfer)
				if err := s.transfers.UpdateStatus(ctx, sc.Tx, t.ID, domain.TransferStatusApproved); err != nil {
					return err
				}
				t.Status = domain.TransferStatusApproved
				return nil
			},
		},
	}
}

func (s *Service) writeMovement(ctx context.Context, tx *sql.Tx, transferID uuid.UUID, accountID string, dir domain.Direction, amount int64, currency domain.Currency) error {
	return s.transactions.Create(ctx, tx, &domain.Transaction{
		ID:         uuid.New(),
		TransferID: transferID,
		AccountID:  accountID,
		Direction:  dir,
		Amount:     amount,
		Currency:   currency,
		Status:     domain.TransactionStatusCommitted,
		CreatedAt:  time.Now().UTC(),
	})
}

// lockAccountsInOrder acquires row locks in sorted id order so two
// sagas touching the same accounts cannot deadlock each other.
func (s *Service) lockAccountsInOrder(ctx context.Context, tx *sql.Tx, ids []string) (map[string]*domain.Account, error) {
	sorted := make([]string, len(ids))
	copy(sorted, ids)
	sort.Strings(sorted)

	locked := make(map[string]*domain.Account, len(sorted))
	for _, id := range sorted {
		a, err := s.accounts.GetForUpdate(ctx, tx, id)
		if err != nil {
			return nil, fmt.Errorf("lockAccountsInOrder: %s: %w", id, err)
		}
		locked[id] = a
	}
	return locked, nil
}

func refCacheKey(ref string) string {
	return "transfer:ref:" + ref
}
