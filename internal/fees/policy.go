package fees

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/vantagepay/ledger-engine/internal/domain"
)

// Policy computes the fee taken from the source side of a transfer.
// Rates are basis points of the amount; the result is rounded half-up
// to whole minor units and clamped to [MinFee, MaxFee] when set.
type Policy struct {
	rateBps decimal.Decimal
	minFee  int64
	maxFee  int64 // zero means uncapped
}

func NewPolicy(rateBps int64) *Policy {
	return &Policy{rateBps: decimal.NewFromInt(rateBps)}
}

func (p *Policy) WithBounds(minFee, maxFee int64) *Policy {
	p.minFee = minFee
	p.maxFee = maxFee
	return p
}

var tenThousand = decimal.NewFromInt(10_000)

func (p *Policy) FeeFor(amount int64) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("FeeFor: %w", domain.ErrInvalidAmount)
	}

	fee := decimal.NewFromInt(amount).
		Mul(p.rateBps).
		Div(tenThousand).
		Round(0).
		IntPart()

	if fee < p.minFee {
		fee = p.minFee
	}
	if p.maxFee > 0 && fee > p.maxFee {
		fee = p.maxFee
	}
	if fee >= amount {
		return 0, fmt.Errorf("FeeFor: fee %d consumes amount %d: %w", fee, amount, domain.ErrInvalidAmount)
	}
	return fee, nil
}
