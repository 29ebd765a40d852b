package store

import (
	"context"
	"time"

	"settlement-engine/internal/models"

	"github.com/shopspring/decimal"
)

// DepositTransition moves a deposit to To when its current status is one of From.
type DepositTransition struct {
	Id            string
	From          []models.DepositStatus
	To            models.DepositStatus
	FailureReason string
	MarkResolved  bool
}

// WithdrawalTransition moves a withdrawal to To when its current status is one of From.
type WithdrawalTransition struct {
	Id              string
	From            []models.WithdrawalStatus
	To              models.WithdrawalStatus
	TxReference     string
	RejectionReason string
}

// Tx is the set of operations that must run inside a single atomic unit.
// Every balance change and every status transition goes through a Tx so that
// the audit trail and outbox jobs commit or roll back together with it.
type Tx interface {
	// --- Balances ---
	AdjustBalance(ctx context.Context, userId string, delta decimal.Decimal) (decimal.Decimal, error)

	// --- Audit ---
	InsertAuditEntry(ctx context.Context, entry models.AuditEntry) error

	// --- Deposits ---
	InsertDeposit(ctx context.Context, deposit *models.Deposit) error
	GetDeposit(ctx context.Context, id string) (*models.Deposit, error)
	UpdateDepositStatus(ctx context.Context, t DepositTransition) (bool, error)
	SetDepositConversion(ctx context.Context, id string, fiatAmount, rate decimal.Decimal) (bool, error)

	// --- Withdrawals ---
	InsertWithdrawal(ctx context.Context, withdrawal *models.Withdrawal) error
	GetWithdrawal(ctx context.Context, id string) (*models.Withdrawal, error)
	UpdateWithdrawalStatus(ctx context.Context, t WithdrawalTransition) (bool, error)
	SetWithdrawalQuote(ctx context.Context, id string, cryptoAmount, rate decimal.Decimal) (bool, error)

	// --- Interest ---
	InsertAccrual(ctx context.Context, accrual *models.InterestAccrual) error
	AddInterestEarned(ctx context.Context, investmentId string, amount decimal.Decimal) error

	// --- Jobs ---
	EnqueueJob(ctx context.Context, job models.Job) error
}

// Store defines the contract the SQL backend satisfies for the settlement engine.
type Store interface {
	// WithTx runs fn in one database transaction. The unit is retried when it
	// fails with ErrConcurrentModification.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// --- Balances ---
	GetBalance(ctx context.Context, userId string) (*models.AccountBalance, error)
	ListBalances(ctx context.Context) ([]models.AccountBalance, error)

	// --- Deposits ---
	GetDeposit(ctx context.Context, id string) (*models.Deposit, error)
	FindDepositByProviderRef(ctx context.Context, providerRef string) (*models.Deposit, error)
	ListDeposits(ctx context.Context, userId string, limit, offset int) ([]models.Deposit, error)

	// --- Withdrawals ---
	GetWithdrawal(ctx context.Context, id string) (*models.Withdrawal, error)
	ListWithdrawals(ctx context.Context, userId string, status models.WithdrawalStatus, limit, offset int) ([]models.Withdrawal, error)

	// --- Identity verification (written by the KYC system) ---
	HasApprovedVerification(ctx context.Context, userId string) (bool, error)

	// --- Interest ---
	GetPlan(ctx context.Context, id string) (*models.InvestmentPlan, error)
	FindAccruableInvestments(ctx context.Context, date string) ([]models.Investment, error)
	HasAccrual(ctx context.Context, investmentId, date string) (bool, error)
	ListAccruals(ctx context.Context, investmentId string) ([]models.InterestAccrual, error)
	MarkMaturedInvestments(ctx context.Context, date string) (int64, error)

	// --- Audit ---
	ListAuditEntries(ctx context.Context, userId string) ([]models.AuditEntry, error)
	ListAuditEntriesForEntity(ctx context.Context, entityType, entityId string) ([]models.AuditEntry, error)
	SumAuditDeltas(ctx context.Context, userId string) (decimal.Decimal, error)

	// --- Jobs ---
	EnqueueJob(ctx context.Context, job models.Job) error
	ClaimJob(ctx context.Context, jobType string, now time.Time, lease time.Duration, exclusive bool) (*models.Job, error)
	// The methods below act on a claimed job and fail with ErrLeaseLost once
	// another worker has reclaimed it.
	ExtendJobLease(ctx context.Context, job models.Job, until time.Time) error
	CompleteJob(ctx context.Context, job models.Job) error
	RetryJob(ctx context.Context, job models.Job, runAt time.Time, lastErr string) error
	KillJob(ctx context.Context, job models.Job, lastErr string) error
	GetJob(ctx context.Context, id string) (*models.Job, error)

	// --- Lifecycle ---
	Ping(ctx context.Context) error
	Close()
}
