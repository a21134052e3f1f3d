// Package account provisions the deterministic ledger accounts a user
// needs before any value can move.
package account

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vantagepay/ledger-engine/internal/cache"
	"github.com/vantagepay/ledger-engine/internal/domain"
	"github.com/vantagepay/ledger-engine/internal/repository"
	"github.com/vantagepay/ledger-engine/internal/saga"
)

type accountRepo interface {
	Create(ctx context.Context, account *domain.Account) error
	GetByID(ctx context.Context, id string) (*domain.Account, error)
	Delete(ctx context.Context, id string) error
}

type Service struct {
	engine   *saga.Engine
	accounts accountRepo
	cache    *cache.Cache
}

func NewService(engine *saga.Engine, accounts accountRepo, c *cache.Cache) *Service {
	return &Service{engine: engine, accounts: accounts, cache: c}
}

var provisionedSubtypes = []domain.AccountSubtype{
	domain.SubtypeWallet,
	domain.SubtypeDeposit,
	domain.SubtypeWithdrawal,
}

// EnsureAccounts creates the user's wallet, deposit and withdrawal
// accounts. It runs as a compensation saga rather than one
// transaction: each create is naturally idempotent (the id is
// deterministic, a concurrent create resolves to the existing row),
// and a failure part-way rolls back only the accounts this execution
// created.
func (s *Service) EnsureAccounts(ctx context.Context, ownerID uuid.UUID, currency domain.Currency) ([]domain.Account, error) {
	if !currency.IsValid() {
		return nil, fmt.Errorf("EnsureAccounts: %w", domain.ErrInvalidCurrency)
	}

	steps := make([]saga.Step, 0, len(provisionedSubtypes)+1)
	for _, subtype := range provisionedSubtypes {
		steps = append(steps, s.ensureStep(ownerID, subtype, currency))
	}
	steps = append(steps, saga.Step{
		Name:     "warm-account-cache",
		Critical: saga.NotCritical,
		Execute: func(ctx context.Context, sc *saga.Context) error {
			for _, a := range collectAccounts(sc) {
				s.cache.Set("account:"+a.ID, a)
			}
			return nil
		},
	})

	result, err := s.engine.Execute(ctx, steps, ownerID, uuid.NewString(), saga.Options{})
	if err != nil {
		return nil, fmt.Errorf("EnsureAccounts: %w", err)
	}
	return collectAccounts(result.Context), nil
}

func (s *Service) ensureStep(ownerID uuid.UUID, subtype domain.AccountSubtype, currency domain.Currency) saga.Step {
	id := domain.UserAccountID(ownerID, subtype)

	return saga.Step{
		Name: "ensure-" + string(subtype) + "-account",
		Execute: func(ctx context.Context, sc *saga.Context) error {
			a, err := repository.ResolveDuplicate(ctx,
				func(ctx context.Context) (*domain.Account, error) {
					created := &domain.Account{
						ID:        id,
						OwnerID:   ownerID,
						Subtype:   subtype,
						Currency:  currency,
						Balance:   0,
						CreatedAt: time.Now().UTC(),
					}
					if err := s.accounts.Create(ctx, created); err != nil {
						return nil, err
					}
					// Only accounts this execution created get torn
					// down on compensation.
					sc.Data["created:"+id] = true
					return created, nil
				},
				func(ctx context.Context) (*domain.Account, error) {
					return s.accounts.GetByID(ctx, id)
				},
				repository.DuplicateOptions{},
			)
			if err != nil {
				return err
			}
			if a == nil {
				return fmt.Errorf("account %s conflicted but never became visible: %w", id, domain.ErrAccountNotFound)
			}

			accounts, _ := sc.Data["accounts"].([]domain.Account)
			sc.Data["accounts"] = append(accounts, *a)
			return nil
		},
		Compensate: func(ctx context.Context, sc *saga.Context) error {
			if created, _ := sc.Data["created:"+id].(bool); !created {
				return nil
			}
			return s.accounts.Delete(ctx, id)
		},
	}
}

func collectAccounts(sc *saga.Context) []domain.Account {
	accounts, _ := sc.Data["accounts"].([]domain.Account)
	return accounts
}
