package testutil

import (
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/vantagepay/ledger-engine/internal/domain"
)

// HouseOwnerID is the fixed principal owning the house account in
// tests.
var HouseOwnerID = uuid.MustParse("00000000-0000-0000-0000-000000000001")

const houseInitialBalance int64 = 1_000_000_000

func SeedHouseAccount(t *testing.T, db *sql.DB, currency string) string {
	t.Helper()
	return seedAccount(t, db, HouseOwnerID, domain.SubtypeHouse, currency, houseInitialBalance)
}

func SeedWalletAccount(t *testing.T, db *sql.DB, ownerID uuid.UUID, currency string, balance int64) string {
	t.Helper()
	return seedAccount(t, db, ownerID, domain.SubtypeWallet, currency, balance)
}

func SeedDepositAccount(t *testing.T, db *sql.DB, ownerID uuid.UUID, currency string, balance int64) string {
	t.Helper()
	return seedAccount(t, db, ownerID, domain.SubtypeDeposit, currency, balance)
}

func seedAccount(t *testing.T, db *sql.DB, ownerID uuid.UUID, subtype domain.AccountSubtype, currency string, balance int64) string {
	t.Helper()

	id := domain.UserAccountID(ownerID, subtype)
	_, err := db.Exec(
		`INSERT INTO accounts (id, owner_id, subtype, currency, balance, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO NOTHING`,
		id, ownerID, subtype, currency, balance, time.Now().UTC(),
	)
	if err != nil {
		t.Fatalf("seed account %s: %v", id, err)
	}
	return id
}

func GetAccountBalance(t *testing.T, db *sql.DB, accountID string) int64 {
	t.Helper()

	var balance int64
	err := db.QueryRow(`SELECT balance FROM accounts WHERE id = $1`, accountID).Scan(&balance)
	if err != nil {
		t.Fatalf("get account balance %s: %v", accountID, err)
	}
	return balance
}

func CountTransactions(t *testing.T, db *sql.DB, transferID uuid.UUID) int {
	t.Helper()

	var count int
	err := db.QueryRow(`SELECT COUNT(*) FROM transactions WHERE transfer_id = $1`, transferID).Scan(&count)
	if err != nil {
		t.Fatalf("count transactions for transfer %s: %v", transferID, err)
	}
	return count
}

func CountTransfers(t *testing.T, db *sql.DB) int {
	t.Helper()

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM transfers`).Scan(&count); err != nil {
		t.Fatalf("count transfers: %v", err)
	}
	return count
}

func GetTransferStatus(t *testing.T, db *sql.DB, transferID uuid.UUID) domain.TransferStatus {
	t.Helper()

	var status domain.TransferStatus
	err := db.QueryRow(`SELECT status FROM transfers WHERE id = $1`, transferID).Scan(&status)
	if err != nil {
		t.Fatalf("get transfer status %s: %v", transferID, err)
	}
	return status
}

func GetOperationStatus(t *testing.T, db *sql.DB, sagaID string) domain.OperationStatus {
	t.Helper()

	var status domain.OperationStatus
	err := db.QueryRow(`SELECT status FROM operations WHERE saga_id = $1`, sagaID).Scan(&status)
	if err != nil {
		t.Fatalf("get operation status %s: %v", sagaID, err)
	}
	return status
}

// BackdateOperation makes an operation look old enough for the
// recovery age gate.
func BackdateOperation(t *testing.T, db *sql.DB, sagaID string, age time.Duration) {
	t.Helper()

	_, err := db.Exec(
		`UPDATE operations SET created_at = now() - $1 * interval '1 second' WHERE saga_id = $2`,
		int64(age.Seconds()), sagaID,
	)
	if err != nil {
		t.Fatalf("backdate operation %s: %v", sagaID, err)
	}
}
