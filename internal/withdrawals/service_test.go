package withdrawals

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"settlement-engine/internal/audit"
	"settlement-engine/internal/database"
	"settlement-engine/internal/jobs"
	"settlement-engine/internal/ledger"
	"settlement-engine/internal/models"
	"settlement-engine/internal/notify"
	"settlement-engine/internal/store"
	"settlement-engine/internal/testutil"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	store    *database.Service
	svc      *Service
	jobs     *jobs.Dispatcher
	recorder *audit.Recorder
	payouts  *testutil.FakePayout
	oracle   *testutil.FakeOracle
	notes    *testutil.RecordingNotifier
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st := testutil.NewStore(t)
	rec := audit.NewRecorder(st)
	disp := jobs.NewDispatcher(st, jobs.Config{BaseBackoff: time.Millisecond, MaxBackoff: time.Millisecond})

	h := &harness{
		store:    st,
		jobs:     disp,
		recorder: rec,
		payouts:  &testutil.FakePayout{},
		oracle:   &testutil.FakeOracle{Rates: map[string]decimal.Decimal{"BTC": decimal.RequireFromString("5000000")}},
		notes:    &testutil.RecordingNotifier{},
	}
	h.svc = NewService(Deps{
		Store:    st,
		Ledger:   ledger.New(rec),
		Recorder: rec,
		Outbox:   disp,
		Payouts:  h.payouts,
		Rates:    h.oracle,
		Notifier: h.notes,
		Catalog:  testutil.Catalog(),
	})
	disp.Register(JobPayout, h.svc.PayoutHandler(), jobs.Options{MaxAttempts: 2})
	return h
}

func (h *harness) fund(t *testing.T, userId, amount string) {
	t.Helper()
	testutil.Credit(t, h.store, userId, amount)
	require.NoError(t, h.store.RecordVerification(context.Background(), userId, database.VerificationApproved))
}

func (h *harness) balance(t *testing.T, userId string) string {
	t.Helper()
	b, err := h.store.GetBalance(context.Background(), userId)
	require.NoError(t, err)
	return b.Balance.StringFixed(2)
}

func (h *harness) runPayouts(t *testing.T) bool {
	t.Helper()
	time.Sleep(5 * time.Millisecond)
	processed, err := h.jobs.RunOnce(context.Background(), JobPayout)
	require.NoError(t, err)
	return processed
}

func TestFee(t *testing.T) {
	catalog := testutil.Catalog()
	inr, _ := catalog.Lookup("INR")
	btc, _ := catalog.Lookup("BTC")

	tests := []struct {
		cur    models.Currency
		amount string
		want   string
	}{
		{inr, "1000", "50.00"},
		{inr, "10000", "50.00"},
		{inr, "10050", "50.25"},
		{inr, "20000", "100.00"},
		{inr, "12345.67", "61.73"},
		{btc, "10000", "100.00"},
	}
	for _, tt := range tests {
		got := Fee(tt.cur, decimal.RequireFromString(tt.amount))
		assert.Equal(t, tt.want, got.StringFixed(2), "fee for %s %s", tt.amount, tt.cur.Code)
	}
}

func TestQuoteCrypto(t *testing.T) {
	got := QuoteCrypto(decimal.RequireFromString("10000"), decimal.RequireFromString("3000000"))
	assert.Equal(t, "0.00333333", got.StringFixed(8))
}

// An INR withdrawal of 1000 against a balance of 2000 reserves 1050 and a
// rejection returns all of it, leaving exactly the debit and the credit.
func TestRejectRefundsAmountAndFee(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.fund(t, "user1", "2000.00")

	w, err := h.svc.CreateWithdrawal(ctx, "user1", decimal.RequireFromString("1000"), "INR", "")
	require.NoError(t, err)
	assert.Equal(t, "50.00", w.Fee.StringFixed(2))
	assert.Equal(t, models.WithdrawalPending, w.Status)
	assert.Equal(t, "950.00", h.balance(t, "user1"))

	rejected, err := h.svc.Reject(ctx, w.Id, "ops1", "address mismatch")
	require.NoError(t, err)
	assert.Equal(t, models.WithdrawalFailed, rejected.Status)
	assert.Equal(t, "address mismatch", rejected.RejectionReason)
	assert.Equal(t, "2000.00", h.balance(t, "user1"))

	entries, err := h.recorder.ListForEntity(ctx, models.EntityWithdrawal, w.Id)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, ActionReserved, entries[0].Action)
	assert.Equal(t, "-1050.00", entries[0].Delta.Decimal.StringFixed(2))
	assert.Equal(t, "user1", entries[0].Actor)
	assert.Equal(t, ActionRefunded, entries[1].Action)
	assert.Equal(t, "1050.00", entries[1].Delta.Decimal.StringFixed(2))
	assert.Equal(t, "admin:ops1", entries[1].Actor)

	// A second rejection must not refund again
	_, err = h.svc.Reject(ctx, w.Id, "ops1", "again")
	assert.ErrorIs(t, err, store.ErrInvalidState)
	assert.Equal(t, "2000.00", h.balance(t, "user1"))

	require.NoError(t, h.recorder.Reconcile(ctx, "user1"))
	assert.Equal(t, []string{notify.WithdrawalFailed}, h.notes.Kinds())
}

func TestCreateWithdrawal_Validation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	testutil.Credit(t, h.store, "unverified", "5000")
	h.fund(t, "user1", "5000")

	cases := []struct {
		name     string
		userId   string
		amount   string
		currency string
		wallet   string
	}{
		{"no identity verification", "unverified", "1000", "INR", ""},
		{"below minimum", "user1", "99.99", "INR", ""},
		{"unknown currency", "user1", "1000", "USD", ""},
		{"crypto without wallet", "user1", "1000", "BTC", " "},
		{"non-positive", "user1", "0", "INR", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.svc.CreateWithdrawal(ctx, tc.userId, decimal.RequireFromString(tc.amount), tc.currency, tc.wallet)
			assert.ErrorIs(t, err, store.ErrValidation)
		})
	}
	assert.Equal(t, "5000.00", h.balance(t, "user1"))
}

func TestCreateWithdrawal_InsufficientFunds(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.fund(t, "user1", "1000.00")

	// 1000 plus the 50 fee exceeds the balance
	_, err := h.svc.CreateWithdrawal(ctx, "user1", decimal.RequireFromString("1000"), "INR", "")
	require.ErrorIs(t, err, store.ErrInsufficientFunds)
	assert.Equal(t, "1000.00", h.balance(t, "user1"))

	list, err := h.svc.ListWithdrawals(ctx, "user1", "", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, list, "the withdrawal row must roll back with the debit")

	// Exactly the full balance is allowed
	w, err := h.svc.CreateWithdrawal(ctx, "user1", decimal.RequireFromString("950"), "INR", "")
	require.NoError(t, err)
	assert.Equal(t, "0.00", h.balance(t, "user1"))
	assert.Equal(t, "1000.00", w.Total().StringFixed(2))
}

func TestCreateWithdrawal_ConcurrentDebitsOnPooledStore(t *testing.T) {
	st := testutil.NewFileStore(t, 8)
	rec := audit.NewRecorder(st)
	svc := NewService(Deps{
		Store:    st,
		Ledger:   ledger.New(rec),
		Recorder: rec,
		Outbox:   jobs.NewDispatcher(st, jobs.Config{}),
		Payouts:  &testutil.FakePayout{},
		Rates:    &testutil.FakeOracle{},
		Notifier: &testutil.RecordingNotifier{},
		Catalog:  testutil.Catalog(),
	})
	ctx := context.Background()
	testutil.Credit(t, st, "user1", "2000.00")
	require.NoError(t, st.RecordVerification(ctx, "user1", database.VerificationApproved))

	// Each withdrawal debits 500 plus the 50 fee floor
	const attempts = 20
	var (
		wg          sync.WaitGroup
		mu          sync.Mutex
		created     int
		insufficient int
		other       []error
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.CreateWithdrawal(ctx, "user1", decimal.RequireFromString("500"), "INR", "")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case errors.Is(err, store.ErrInsufficientFunds):
				insufficient++
			default:
				other = append(other, err)
			}
		}()
	}
	wg.Wait()

	require.Empty(t, other)
	assert.Equal(t, 3, created)
	assert.Equal(t, attempts-3, insufficient)

	b, err := st.GetBalance(ctx, "user1")
	require.NoError(t, err)
	assert.Equal(t, "350.00", b.Balance.StringFixed(2))

	list, err := svc.ListWithdrawals(ctx, "user1", "", 50, 0)
	require.NoError(t, err)
	assert.Len(t, list, 3)
	require.NoError(t, rec.Reconcile(ctx, "user1"))
}

func TestPayout_FailureReasonKeepsRunesWhole(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.fund(t, "user1", "20000")

	w, err := h.svc.CreateWithdrawal(ctx, "user1", decimal.RequireFromString("10000"), "BTC", "bc1qdest")
	require.NoError(t, err)
	_, err = h.svc.Approve(ctx, w.Id, "ops1", "")
	require.NoError(t, err)

	// "payout failed: " leaves the rupee sign straddling the length limit
	cause := errors.New(strings.Repeat("x", 184) + "₹ declined")
	require.NoError(t, h.svc.failPayout(ctx, w.Id, cause))

	failed, err := h.svc.GetWithdrawal(ctx, w.Id)
	require.NoError(t, err)
	assert.Equal(t, models.WithdrawalFailed, failed.Status)
	assert.True(t, utf8.ValidString(failed.RejectionReason), "reason %q", failed.RejectionReason)
	assert.LessOrEqual(t, len(failed.RejectionReason), models.MaxReasonLen)
	assert.NotContains(t, failed.RejectionReason, "₹")
}

func TestApproveFiat_CompletesImmediately(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.fund(t, "user1", "2000")

	w, err := h.svc.CreateWithdrawal(ctx, "user1", decimal.RequireFromString("1000"), "INR", "")
	require.NoError(t, err)

	_, err = h.svc.Approve(ctx, w.Id, "", "")
	assert.ErrorIs(t, err, store.ErrValidation)

	done, err := h.svc.Approve(ctx, w.Id, "ops1", "NEFT-123")
	require.NoError(t, err)
	assert.Equal(t, models.WithdrawalCompleted, done.Status)
	assert.Equal(t, "NEFT-123", done.TxReference)
	assert.NotNil(t, done.CompletedAt)
	assert.Equal(t, "950.00", h.balance(t, "user1"))

	_, err = h.svc.Approve(ctx, w.Id, "ops1", "")
	assert.ErrorIs(t, err, store.ErrInvalidState)
	_, err = h.svc.Reject(ctx, w.Id, "ops1", "late")
	assert.ErrorIs(t, err, store.ErrInvalidState)
	assert.Equal(t, "950.00", h.balance(t, "user1"))

	assert.Equal(t, []string{notify.WithdrawalCompleted}, h.notes.Kinds())
	assert.False(t, h.runPayouts(t), "fiat withdrawals never schedule a payout")
}

func TestApproveCrypto_PaysOut(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.fund(t, "user1", "20000")

	w, err := h.svc.CreateWithdrawal(ctx, "user1", decimal.RequireFromString("10000"), "BTC", "bc1qdest")
	require.NoError(t, err)
	assert.Equal(t, "100.00", w.Fee.StringFixed(2))

	approved, err := h.svc.Approve(ctx, w.Id, "ops1", "ignored")
	require.NoError(t, err)
	assert.Equal(t, models.WithdrawalProcessing, approved.Status)

	require.True(t, h.runPayouts(t))

	done, err := h.svc.GetWithdrawal(ctx, w.Id)
	require.NoError(t, err)
	assert.Equal(t, models.WithdrawalCompleted, done.Status)
	assert.Equal(t, "activity-"+w.Id, done.TxReference)
	assert.Equal(t, "0.00200000", done.CryptoAmount.Decimal.StringFixed(8))

	require.Len(t, h.payouts.Requests, 1)
	req := h.payouts.Requests[0]
	assert.Equal(t, w.Id, req.IdempotencyKey)
	assert.Equal(t, "bc1qdest", req.Destination)
	assert.Equal(t, "wallet-btc", req.WalletId)
	assert.Equal(t, "9900.00", h.balance(t, "user1"))
	assert.Equal(t, []string{notify.WithdrawalCompleted}, h.notes.Kinds())
}

func TestPayout_QuoteStoredOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.fund(t, "user1", "20000")

	w, err := h.svc.CreateWithdrawal(ctx, "user1", decimal.RequireFromString("10000"), "BTC", "bc1qdest")
	require.NoError(t, err)
	_, err = h.svc.Approve(ctx, w.Id, "ops1", "")
	require.NoError(t, err)

	h.payouts.Err = fmt.Errorf("%w: prime unavailable", store.ErrExternalService)
	require.True(t, h.runPayouts(t))

	// The rate moves before the retry; the stored quote is reused
	h.oracle.Rates["BTC"] = decimal.RequireFromString("4000000")
	h.payouts.Err = nil
	require.True(t, h.runPayouts(t))

	require.Len(t, h.payouts.Requests, 2)
	for _, req := range h.payouts.Requests {
		assert.Equal(t, "0.00200000", req.Amount.StringFixed(8))
		assert.Equal(t, w.Id, req.IdempotencyKey)
	}
	assert.Equal(t, 1, h.oracle.Calls)
}

func TestPayout_ExhaustedRefundsOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.fund(t, "user1", "20000")

	w, err := h.svc.CreateWithdrawal(ctx, "user1", decimal.RequireFromString("10000"), "BTC", "bc1qdest")
	require.NoError(t, err)
	_, err = h.svc.Approve(ctx, w.Id, "ops1", "")
	require.NoError(t, err)
	assert.Equal(t, "9900.00", h.balance(t, "user1"))

	h.payouts.Err = fmt.Errorf("%w: prime unavailable", store.ErrExternalService)
	require.True(t, h.runPayouts(t))
	require.True(t, h.runPayouts(t))
	assert.False(t, h.runPayouts(t))

	failed, err := h.svc.GetWithdrawal(ctx, w.Id)
	require.NoError(t, err)
	assert.Equal(t, models.WithdrawalFailed, failed.Status)
	assert.Contains(t, failed.RejectionReason, "prime unavailable")
	assert.Equal(t, "20000.00", h.balance(t, "user1"))

	// Exhaustion delivered again must not refund twice
	require.NoError(t, h.svc.failPayout(ctx, w.Id, fmt.Errorf("again")))
	assert.Equal(t, "20000.00", h.balance(t, "user1"))

	require.NoError(t, h.recorder.Reconcile(ctx, "user1"))
	assert.Equal(t, []string{notify.WithdrawalFailed}, h.notes.Kinds())
}

func TestListWithdrawals_Filters(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.fund(t, "user1", "10000")
	h.fund(t, "user2", "10000")

	w1, err := h.svc.CreateWithdrawal(ctx, "user1", decimal.RequireFromString("1000"), "INR", "")
	require.NoError(t, err)
	_, err = h.svc.CreateWithdrawal(ctx, "user2", decimal.RequireFromString("1000"), "INR", "")
	require.NoError(t, err)
	_, err = h.svc.Reject(ctx, w1.Id, "ops1", "duplicate request")
	require.NoError(t, err)

	pending, err := h.svc.ListWithdrawals(ctx, "", models.WithdrawalPending, 0, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "user2", pending[0].UserId)

	mine, err := h.svc.ListWithdrawals(ctx, "user1", "", 0, 0)
	require.NoError(t, err)
	assert.Len(t, mine, 1)

	_, err = h.svc.ListWithdrawals(ctx, "", "bogus", 0, 0)
	assert.ErrorIs(t, err, store.ErrValidation)
}
