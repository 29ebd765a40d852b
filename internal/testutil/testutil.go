// Package testutil provides an in-memory store and fakes for the external
// integrations used by the settlement services.
package testutil

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"settlement-engine/internal/database"
	"settlement-engine/internal/models"
	"settlement-engine/internal/notify"
	"settlement-engine/internal/provider"
	"settlement-engine/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// NewStore opens an in-memory SQLite database with the real schema. Every
// connection to :memory: is a separate database, so the pool holds one.
func NewStore(t *testing.T) *database.Service {
	t.Helper()

	svc, err := database.NewService(context.Background(), models.DatabaseConfig{
		Driver:       database.DriverSQLite,
		Path:         ":memory:",
		MaxOpenConns: 1,
		MaxIdleConns: 1,
		PingTimeout:  5 * time.Second,
	})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(svc.Close)
	return svc
}

// NewFileStore opens a SQLite database file in a temporary directory with a
// pool of conns connections, for tests that race writers against each other.
func NewFileStore(t *testing.T, conns int) *database.Service {
	t.Helper()

	svc, err := database.NewService(context.Background(), models.DatabaseConfig{
		Driver:       database.DriverSQLite,
		Path:         filepath.Join(t.TempDir(), "settlement.db"),
		MaxOpenConns: conns,
		MaxIdleConns: conns,
		PingTimeout:  5 * time.Second,
	})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(svc.Close)
	return svc
}

// Catalog is the currency catalog used across service tests
func Catalog() *models.Catalog {
	return &models.Catalog{
		FiatCurrency: "INR",
		Currencies: map[string]models.Currency{
			"INR": {
				Code:          "INR",
				Kind:          models.CurrencyFiat,
				Scale:         models.FiatScale,
				MinWithdrawal: decimal.RequireFromString("100"),
				FeePercent:    decimal.RequireFromString("0.5"),
				FeeFloor:      decimal.RequireFromString("50"),
			},
			"BTC": {
				Code:          "BTC",
				Kind:          models.CurrencyCrypto,
				Scale:         models.CryptoScale,
				MinDeposit:    decimal.RequireFromString("0.0001"),
				MinWithdrawal: decimal.RequireFromString("500"),
				FlatFee:       decimal.RequireFromString("100"),
				WalletId:      "wallet-btc",
				Network:       "bitcoin-mainnet",
			},
		},
	}
}

// Credit gives a user an opening balance through the audited path
func Credit(t *testing.T, s store.Store, userId string, amount string) {
	t.Helper()
	ctx := context.Background()
	delta := decimal.RequireFromString(amount)

	err := s.WithTx(ctx, func(tx store.Tx) error {
		balance, err := tx.AdjustBalance(ctx, userId, delta)
		if err != nil {
			return err
		}
		return tx.InsertAuditEntry(ctx, models.AuditEntry{
			Id:           uuid.New().String(),
			UserId:       userId,
			Actor:        models.ActorSystem,
			Action:       "test.seed",
			EntityType:   "test",
			EntityId:     userId,
			Delta:        decimal.NewNullDecimal(delta),
			BalanceAfter: decimal.NewNullDecimal(balance),
			CreatedAt:    time.Now().UTC(),
		})
	})
	if err != nil {
		t.Fatalf("Failed to credit %s: %v", userId, err)
	}
}

// FakeProvider records charge requests and returns deterministic charges
type FakeProvider struct {
	mu       sync.Mutex
	Requests []provider.ChargeRequest
	Err      error
}

func (f *FakeProvider) CreateCharge(ctx context.Context, req provider.ChargeRequest) (*provider.Charge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	f.Requests = append(f.Requests, req)
	expires := time.Now().UTC().Add(time.Hour)
	return &provider.Charge{
		Id:         "charge-" + req.Reference,
		Code:       "CODE-" + req.Reference,
		HostedURL:  "https://pay.example.com/" + req.Reference,
		PaymentURI: provider.PaymentURI(req.Currency, "addr-"+req.Reference, req.Amount),
		ExpiresAt:  &expires,
	}, nil
}

// FakeOracle returns fixed rates per currency
type FakeOracle struct {
	mu    sync.Mutex
	Rates map[string]decimal.Decimal
	Err   error
	Calls int
}

func (f *FakeOracle) Rate(ctx context.Context, currency string) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls++
	if f.Err != nil {
		return decimal.Zero, f.Err
	}
	rate, ok := f.Rates[strings.ToUpper(currency)]
	if !ok {
		return decimal.Zero, store.ErrExternalService
	}
	return rate, nil
}

// FakePayout records payout requests
type FakePayout struct {
	mu       sync.Mutex
	Requests []models.PayoutRequest
	Err      error
}

func (f *FakePayout) Payout(ctx context.Context, req models.PayoutRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Requests = append(f.Requests, req)
	if f.Err != nil {
		return "", f.Err
	}
	return "activity-" + req.IdempotencyKey, nil
}

// RecordingNotifier keeps every notification it receives
type RecordingNotifier struct {
	mu   sync.Mutex
	sent []notify.Notification
}

func (r *RecordingNotifier) Name() string { return "recording" }

func (r *RecordingNotifier) Notify(ctx context.Context, n notify.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return nil
}

// Kinds returns the kinds of all notifications sent so far
func (r *RecordingNotifier) Kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]string, len(r.sent))
	for i, n := range r.sent {
		kinds[i] = n.Kind
	}
	return kinds
}
