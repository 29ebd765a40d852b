package database

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"settlement-engine/internal/models"
	"settlement-engine/internal/store"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

func setupTestDb(t *testing.T) (*Service, func()) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	// Every connection to :memory: is a separate database
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	service := newService(db, DriverSQLite)

	// Use the actual schema initialization
	if err := service.initSchema(context.Background()); err != nil {
		t.Fatalf("Failed to create test schema: %v", err)
	}

	cleanup := func() {
		db.Close()
	}

	return service, cleanup
}

func adjust(t *testing.T, service *Service, userId string, delta string) (decimal.Decimal, error) {
	t.Helper()
	var newBalance decimal.Decimal
	err := service.WithTx(context.Background(), func(tx store.Tx) error {
		var err error
		newBalance, err = tx.AdjustBalance(context.Background(), userId, decimal.RequireFromString(delta))
		return err
	})
	return newBalance, err
}

func TestGetBalance_NoBalance(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	balance, err := service.GetBalance(context.Background(), "user1")
	if err != nil {
		t.Fatalf("GetBalance failed: %v", err)
	}

	if !balance.Balance.Equal(decimal.Zero) {
		t.Errorf("Expected balance 0, got %s", balance.Balance.String())
	}
}

func TestAdjustBalance_CreditThenDebit(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()

	newBalance, err := adjust(t, service, "user1", "2000.00")
	if err != nil {
		t.Fatalf("Credit failed: %v", err)
	}
	if !newBalance.Equal(decimal.RequireFromString("2000")) {
		t.Errorf("Expected balance 2000, got %s", newBalance.String())
	}

	newBalance, err = adjust(t, service, "user1", "-1050.00")
	if err != nil {
		t.Fatalf("Debit failed: %v", err)
	}
	if !newBalance.Equal(decimal.RequireFromString("950")) {
		t.Errorf("Expected balance 950, got %s", newBalance.String())
	}

	balance, err := service.GetBalance(ctx, "user1")
	if err != nil {
		t.Fatalf("GetBalance failed: %v", err)
	}
	if balance.Balance.StringFixed(2) != "950.00" {
		t.Errorf("Expected stored balance 950.00, got %s", balance.Balance.StringFixed(2))
	}
	if balance.Version != 2 {
		t.Errorf("Expected version 2, got %d", balance.Version)
	}
}

func TestAdjustBalance_InsufficientFundsRollsBack(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()

	if _, err := adjust(t, service, "user1", "100.00"); err != nil {
		t.Fatalf("Credit failed: %v", err)
	}

	// The audit insert happens before the failing debit and must roll back with it
	err := service.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.InsertAuditEntry(ctx, models.AuditEntry{
			Id: "a1", UserId: "user1", Actor: "user1", Action: "test", EntityType: "test", EntityId: "x",
		}); err != nil {
			return err
		}
		_, err := tx.AdjustBalance(ctx, "user1", decimal.RequireFromString("-100.01"))
		return err
	})
	if !errors.Is(err, store.ErrInsufficientFunds) {
		t.Fatalf("Expected ErrInsufficientFunds, got %v", err)
	}

	balance, err := service.GetBalance(ctx, "user1")
	if err != nil {
		t.Fatalf("GetBalance failed: %v", err)
	}
	if !balance.Balance.Equal(decimal.RequireFromString("100")) {
		t.Errorf("Expected balance 100, got %s", balance.Balance.String())
	}

	entries, err := service.ListAuditEntries(ctx, "user1")
	if err != nil {
		t.Fatalf("ListAuditEntries failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("Expected audit entry to roll back, found %d", len(entries))
	}
}

func TestAdjustBalance_NegativeOnEmptyAccount(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	_, err := adjust(t, service, "user1", "-0.01")
	if !errors.Is(err, store.ErrInsufficientFunds) {
		t.Fatalf("Expected ErrInsufficientFunds, got %v", err)
	}

	balances, err := service.ListBalances(context.Background())
	if err != nil {
		t.Fatalf("ListBalances failed: %v", err)
	}
	if len(balances) != 0 {
		t.Errorf("Expected no balance rows, got %d", len(balances))
	}
}

func TestAdjustBalance_DebitToExactlyZero(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	if _, err := adjust(t, service, "user1", "50.00"); err != nil {
		t.Fatalf("Credit failed: %v", err)
	}
	newBalance, err := adjust(t, service, "user1", "-50.00")
	if err != nil {
		t.Fatalf("Debit to zero failed: %v", err)
	}
	if !newBalance.IsZero() {
		t.Errorf("Expected zero balance, got %s", newBalance.String())
	}
}

func TestWithTx_RetriesConcurrentModification(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	attempts := 0
	err := service.WithTx(context.Background(), func(tx store.Tx) error {
		attempts++
		if attempts < 3 {
			return store.ErrConcurrentModification
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithTx failed: %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

func TestWithTx_GivesUpAfterMaxAttempts(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	attempts := 0
	err := service.WithTx(context.Background(), func(tx store.Tx) error {
		attempts++
		return store.ErrConcurrentModification
	})
	if !errors.Is(err, store.ErrConcurrentModification) {
		t.Fatalf("Expected ErrConcurrentModification, got %v", err)
	}
	if attempts != maxTxAttempts {
		t.Errorf("Expected %d attempts, got %d", maxTxAttempts, attempts)
	}
}

func TestRebindForPostgres(t *testing.T) {
	d := dialect{driver: DriverPostgres}
	got := d.rebind("UPDATE t SET a = ? WHERE id = ? AND status IN (?, ?)")
	want := "UPDATE t SET a = $1 WHERE id = $2 AND status IN ($3, $4)"
	if got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}

	sqlite := dialect{driver: DriverSQLite}
	if sqlite.rebind("a = ?") != "a = ?" {
		t.Errorf("SQLite queries must not be rebound")
	}
}
