package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidAmount     = errors.New("amount must be greater than zero")
	ErrInvalidCurrency   = errors.New("invalid currency")
	ErrCurrencyMismatch  = errors.New("currency mismatch")
	ErrSelfTransfer      = errors.New("cannot transfer to same account")
	ErrAccountNotFound   = errors.New("account not found")
	ErrBonusNotPending   = errors.New("bonus transfer is not pending")
)
