package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// AccountBalance represents a user's current fiat balance
type AccountBalance struct {
	UserId    string          `db:"user_id" json:"user_id"`
	Balance   decimal.Decimal `db:"balance" json:"balance"`
	Version   int64           `db:"version" json:"version"`
	UpdatedAt time.Time       `db:"updated_at" json:"updated_at"`
}

// Deposit is an inbound crypto payment credited to the user in fiat
type Deposit struct {
	Id               string              `db:"id" json:"id"`
	UserId           string              `db:"user_id" json:"user_id"`
	Currency         string              `db:"currency" json:"currency"`
	CryptoAmount     decimal.Decimal     `db:"crypto_amount" json:"crypto_amount"`
	FiatAmount       decimal.NullDecimal `db:"fiat_amount" json:"fiat_amount"`
	Rate             decimal.NullDecimal `db:"rate" json:"rate"`
	Status           DepositStatus       `db:"status" json:"status"`
	ProviderRef      string              `db:"provider_ref" json:"provider_ref"`
	PaymentURL       string              `db:"payment_url" json:"payment_url,omitempty"`
	PaymentURI       string              `db:"payment_uri" json:"payment_uri,omitempty"`
	ExpiresAt        *time.Time          `db:"expires_at" json:"expires_at,omitempty"`
	ProviderResolved bool                `db:"provider_resolved" json:"provider_resolved"`
	FailureReason    string              `db:"failure_reason" json:"failure_reason,omitempty"`
	CreatedAt        time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time           `db:"updated_at" json:"updated_at"`
	CompletedAt      *time.Time          `db:"completed_at" json:"completed_at,omitempty"`
}

// Withdrawal is an outbound payment debited from the user's balance.
// Amount and Fee are denominated in the platform fiat currency.
type Withdrawal struct {
	Id              string              `db:"id" json:"id"`
	UserId          string              `db:"user_id" json:"user_id"`
	Currency        string              `db:"currency" json:"currency"`
	Amount          decimal.Decimal     `db:"amount" json:"amount"`
	Fee             decimal.Decimal     `db:"fee" json:"fee"`
	CryptoAmount    decimal.NullDecimal `db:"crypto_amount" json:"crypto_amount"`
	Rate            decimal.NullDecimal `db:"rate" json:"rate"`
	Status          WithdrawalStatus    `db:"status" json:"status"`
	WalletAddress   string              `db:"wallet_address" json:"wallet_address,omitempty"`
	TxReference     string              `db:"tx_reference" json:"tx_reference,omitempty"`
	RejectionReason string              `db:"rejection_reason" json:"rejection_reason,omitempty"`
	CreatedAt       time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time           `db:"updated_at" json:"updated_at"`
	CompletedAt     *time.Time          `db:"completed_at" json:"completed_at,omitempty"`
}

// Total is the amount reserved from the balance for this withdrawal
func (w *Withdrawal) Total() decimal.Decimal {
	return w.Amount.Add(w.Fee)
}

// InvestmentPlan defines a daily interest rate and term
type InvestmentPlan struct {
	Id               string          `db:"id" json:"id"`
	Name             string          `db:"name" json:"name"`
	DailyRatePercent decimal.Decimal `db:"daily_rate_percent" json:"daily_rate_percent"`
	DurationDays     int             `db:"duration_days" json:"duration_days"`
}

// Investment is a principal placed in a plan. Dates are YYYY-MM-DD (UTC).
type Investment struct {
	Id                  string          `db:"id" json:"id"`
	UserId              string          `db:"user_id" json:"user_id"`
	PlanId              string          `db:"plan_id" json:"plan_id"`
	Amount              decimal.Decimal `db:"amount" json:"amount"`
	StartDate           string          `db:"start_date" json:"start_date"`
	EndDate             string          `db:"end_date" json:"end_date"`
	TotalInterestEarned decimal.Decimal `db:"total_interest_earned" json:"total_interest_earned"`
	IsActive            bool            `db:"is_active" json:"is_active"`
	MaturedAt           string          `db:"matured_at" json:"matured_at,omitempty"`
	CreatedAt           time.Time       `db:"created_at" json:"created_at"`
}

// InterestAccrual records one day of interest credited for an investment
type InterestAccrual struct {
	Id           string          `db:"id" json:"id"`
	InvestmentId string          `db:"investment_id" json:"investment_id"`
	UserId       string          `db:"user_id" json:"user_id"`
	AccrualDate  string          `db:"accrual_date" json:"accrual_date"`
	Amount       decimal.Decimal `db:"amount" json:"amount"`
	RatePercent  decimal.Decimal `db:"rate_percent" json:"rate_percent"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
}

// AuditEntry is an append-only record of a balance-affecting or
// state-changing event. Delta and BalanceAfter are set only when the
// entry records a balance movement.
type AuditEntry struct {
	Id           string              `db:"id" json:"id"`
	UserId       string              `db:"user_id" json:"user_id"`
	Actor        string              `db:"actor" json:"actor"`
	Action       string              `db:"action" json:"action"`
	EntityType   string              `db:"entity_type" json:"entity_type"`
	EntityId     string              `db:"entity_id" json:"entity_id"`
	Delta        decimal.NullDecimal `db:"delta" json:"delta"`
	BalanceAfter decimal.NullDecimal `db:"balance_after" json:"balance_after"`
	Metadata     map[string]any      `db:"metadata" json:"metadata,omitempty"`
	IPAddress    string              `db:"ip_address" json:"ip_address,omitempty"`
	UserAgent    string              `db:"user_agent" json:"user_agent,omitempty"`
	CreatedAt    time.Time           `db:"created_at" json:"created_at"`
}

// Job is a durable unit of background work
type Job struct {
	Id          string          `db:"id"`
	Type        string          `db:"job_type"`
	Payload     json.RawMessage `db:"payload"`
	Status      JobStatus       `db:"status"`
	Attempts    int             `db:"attempts"`
	MaxAttempts int             `db:"max_attempts"`
	RunAt       time.Time       `db:"run_at"`
	LastError   string          `db:"last_error"`
	CreatedAt   time.Time       `db:"created_at"`
}
