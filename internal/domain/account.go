package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type Currency string

const (
	CurrencyUSD Currency = "USD"
	CurrencyEUR Currency = "EUR"
	CurrencyGBP Currency = "GBP"
)

func (c Currency) IsValid() bool {
	switch c {
	case CurrencyUSD, CurrencyEUR, CurrencyGBP:
		return true
	}
	return false
}

type AccountSubtype string

const (
	SubtypeWallet     AccountSubtype = "wallet"
	SubtypeDeposit    AccountSubtype = "deposit"
	SubtypeWithdrawal AccountSubtype = "withdrawal"
	SubtypeHouse      AccountSubtype = "house"
	SubtypeSystem     AccountSubtype = "system"
)

// Account identifiers are structured strings of the form
// user:<ownerId>:<subtype>. They are deterministic from the owner and
// subtype, so any caller can compute one without a database round trip.
const accountIDPrefix = "user"

func UserAccountID(ownerID uuid.UUID, subtype AccountSubtype) string {
	return accountIDPrefix + ":" + ownerID.String() + ":" + string(subtype)
}

// ParseAccountID is the exact inverse of UserAccountID. It returns
// ok=false for malformed input (wrong segment count, wrong leading
// literal, non-UUID owner) instead of panicking, since it runs against
// untrusted and legacy-format identifiers.
func ParseAccountID(id string) (ownerID uuid.UUID, subtype AccountSubtype, ok bool) {
	parts := strings.Split(id, ":")
	if len(parts) != 3 || parts[0] != accountIDPrefix {
		return uuid.Nil, "", false
	}
	owner, err := uuid.Parse(parts[1])
	if err != nil {
		return uuid.Nil, "", false
	}
	if parts[2] == "" {
		return uuid.Nil, "", false
	}
	return owner, AccountSubtype(parts[2]), true
}

type Account struct {
	ID        string
	OwnerID   uuid.UUID
	Subtype   AccountSubtype
	Currency  Currency
	Balance   int64
	CreatedAt time.Time
}
