package ledger

import (
	"context"
	"fmt"
	"time"

	"settlement-engine/internal/audit"
	"settlement-engine/internal/models"
	"settlement-engine/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// MirrorJobType is the job that copies a committed movement to the external ledger
const MirrorJobType = "ledger.mirror"

// Outbox enqueues a job inside an open transaction
type Outbox interface {
	EnqueueTx(ctx context.Context, tx store.Tx, jobType string, payload any) (string, error)
}

// Movement is a single signed change to a user's fiat balance
type Movement struct {
	UserId     string
	Delta      decimal.Decimal
	Actor      string
	Action     string
	EntityType string
	EntityId   string
	Metadata   map[string]any
}

// MirrorPayload is the job payload for MirrorJobType
type MirrorPayload struct {
	EntryId    string    `json:"entry_id"`
	UserId     string    `json:"user_id"`
	Delta      string    `json:"delta"`
	Action     string    `json:"action"`
	EntityType string    `json:"entity_type"`
	EntityId   string    `json:"entity_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Ledger is the only path that changes balances. Each movement writes the
// balance and its audit entry in the caller's transaction.
type Ledger struct {
	recorder *audit.Recorder
	mirror   Outbox
}

type Option func(*Ledger)

// WithMirror enqueues a MirrorJobType job for every movement
func WithMirror(outbox Outbox) Option {
	return func(l *Ledger) {
		l.mirror = outbox
	}
}

func New(recorder *audit.Recorder, opts ...Option) *Ledger {
	l := &Ledger{recorder: recorder}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Apply adjusts the balance and records the movement. It returns the new
// balance. ErrInsufficientFunds leaves tx to be rolled back by the caller.
func (l *Ledger) Apply(ctx context.Context, tx store.Tx, m Movement) (decimal.Decimal, error) {
	if m.Delta.IsZero() {
		return decimal.Zero, fmt.Errorf("%w: movement for %s %s has zero amount", store.ErrValidation, m.EntityType, m.EntityId)
	}

	newBalance, err := tx.AdjustBalance(ctx, m.UserId, m.Delta)
	if err != nil {
		return decimal.Zero, err
	}

	entry, err := l.recorder.Record(ctx, tx, models.AuditEntry{
		UserId:       m.UserId,
		Actor:        m.Actor,
		Action:       m.Action,
		EntityType:   m.EntityType,
		EntityId:     m.EntityId,
		Delta:        decimal.NewNullDecimal(m.Delta),
		BalanceAfter: decimal.NewNullDecimal(newBalance),
		Metadata:     m.Metadata,
	})
	if err != nil {
		return decimal.Zero, err
	}

	if l.mirror != nil {
		_, err := l.mirror.EnqueueTx(ctx, tx, MirrorJobType, MirrorPayload{
			EntryId:    entry.Id,
			UserId:     m.UserId,
			Delta:      m.Delta.StringFixed(models.FiatScale),
			Action:     m.Action,
			EntityType: m.EntityType,
			EntityId:   m.EntityId,
			OccurredAt: entry.CreatedAt,
		})
		if err != nil {
			return decimal.Zero, err
		}
	}

	zap.L().Info("Balance movement recorded",
		zap.String("user_id", m.UserId),
		zap.String("action", m.Action),
		zap.String("entity_id", m.EntityId),
		zap.String("delta", m.Delta.String()),
		zap.String("new_balance", newBalance.String()))

	return newBalance, nil
}
