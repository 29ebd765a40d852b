/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package withdrawals

import (
	"context"
	"fmt"
	"strings"
	"time"

	"settlement-engine/internal/audit"
	"settlement-engine/internal/ledger"
	"settlement-engine/internal/metrics"
	"settlement-engine/internal/models"
	"settlement-engine/internal/notify"
	"settlement-engine/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// JobPayout sends the crypto for an approved withdrawal
const JobPayout = "withdrawal.payout"

// Audit actions
const (
	ActionReserved  = "withdrawal.reserved"
	ActionApproved  = "withdrawal.approved"
	ActionCompleted = "withdrawal.completed"
	ActionRefunded  = "withdrawal.refunded"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// Payouts sends crypto on chain and returns the provider's transaction reference
type Payouts interface {
	Payout(ctx context.Context, req models.PayoutRequest) (string, error)
}

// RateSource quotes the fiat value of one unit of a crypto currency
type RateSource interface {
	Rate(ctx context.Context, currency string) (decimal.Decimal, error)
}

type Deps struct {
	Store    store.Store
	Ledger   *ledger.Ledger
	Recorder *audit.Recorder
	Outbox   ledger.Outbox
	Payouts  Payouts
	Rates    RateSource
	Notifier notify.Notifier
	Catalog  *models.Catalog
}

// Service runs the withdrawal lifecycle. Funds are reserved when the
// withdrawal is created and returned exactly once if it fails.
type Service struct {
	store    store.Store
	ledger   *ledger.Ledger
	recorder *audit.Recorder
	outbox   ledger.Outbox
	payouts  Payouts
	rates    RateSource
	notifier notify.Notifier
	catalog  *models.Catalog
	now      func() time.Time
}

func NewService(d Deps) *Service {
	return &Service{
		store:    d.Store,
		ledger:   d.Ledger,
		recorder: d.Recorder,
		outbox:   d.Outbox,
		payouts:  d.Payouts,
		rates:    d.Rates,
		notifier: d.Notifier,
		catalog:  d.Catalog,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// PayoutPayload is the payload of JobPayout
type PayoutPayload struct {
	WithdrawalId string `json:"withdrawal_id"`
}

// CreateWithdrawal reserves amount plus fee from the balance and stores a
// pending withdrawal in one transaction.
func (s *Service) CreateWithdrawal(ctx context.Context, userId string, amount decimal.Decimal, currency, walletAddress string) (*models.Withdrawal, error) {
	if strings.TrimSpace(userId) == "" {
		return nil, fmt.Errorf("%w: user id is required", store.ErrValidation)
	}
	cur, ok := s.catalog.Lookup(currency)
	if !ok {
		return nil, fmt.Errorf("%w: unsupported withdrawal currency %q", store.ErrValidation, currency)
	}
	amount = amount.Round(models.FiatScale)
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", store.ErrValidation)
	}
	if amount.LessThan(cur.MinWithdrawal) {
		return nil, fmt.Errorf("%w: amount below minimum withdrawal of %s", store.ErrValidation, cur.MinWithdrawal.StringFixed(models.FiatScale))
	}
	walletAddress = strings.TrimSpace(walletAddress)
	if cur.Kind == models.CurrencyCrypto && walletAddress == "" {
		return nil, fmt.Errorf("%w: wallet address is required for %s withdrawals", store.ErrValidation, cur.Code)
	}

	verified, err := s.store.HasApprovedVerification(ctx, userId)
	if err != nil {
		return nil, err
	}
	if !verified {
		return nil, fmt.Errorf("%w: identity verification required before withdrawing", store.ErrValidation)
	}

	ts := s.now()
	w := &models.Withdrawal{
		Id:            uuid.New().String(),
		UserId:        userId,
		Currency:      cur.Code,
		Amount:        amount,
		Fee:           Fee(cur, amount),
		Status:        models.WithdrawalPending,
		WalletAddress: walletAddress,
		CreatedAt:     ts,
		UpdatedAt:     ts,
	}

	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.InsertWithdrawal(ctx, w); err != nil {
			return err
		}
		_, err := s.ledger.Apply(ctx, tx, ledger.Movement{
			UserId:     userId,
			Delta:      w.Total().Neg(),
			Actor:      userId,
			Action:     ActionReserved,
			EntityType: models.EntityWithdrawal,
			EntityId:   w.Id,
			Metadata: map[string]any{
				"currency":       cur.Code,
				"amount":         amount.StringFixed(models.FiatScale),
				"fee":            w.Fee.StringFixed(models.FiatScale),
				"wallet_address": walletAddress,
			},
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	metrics.WithdrawalTransitions.WithLabelValues(string(models.WithdrawalPending)).Inc()
	zap.L().Info("Withdrawal created",
		zap.String("withdrawal_id", w.Id),
		zap.String("user_id", userId),
		zap.String("currency", cur.Code),
		zap.String("amount", amount.String()),
		zap.String("fee", w.Fee.String()))

	return w, nil
}

// Approve moves a pending withdrawal to processing. Fiat withdrawals are
// settled off-platform and complete immediately; crypto withdrawals are
// paid out by a JobPayout job.
func (s *Service) Approve(ctx context.Context, withdrawalId, adminId, txReference string) (*models.Withdrawal, error) {
	if strings.TrimSpace(adminId) == "" {
		return nil, fmt.Errorf("%w: admin id is required", store.ErrValidation)
	}

	var (
		w         *models.Withdrawal
		completed bool
	)
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		completed = false

		var err error
		w, err = tx.GetWithdrawal(ctx, withdrawalId)
		if err != nil {
			return err
		}
		cur, ok := s.catalog.Lookup(w.Currency)
		if !ok {
			return fmt.Errorf("%w: withdrawal %s has unsupported currency %s", store.ErrInternal, w.Id, w.Currency)
		}

		moved, err := tx.UpdateWithdrawalStatus(ctx, store.WithdrawalTransition{
			Id:   w.Id,
			From: []models.WithdrawalStatus{models.WithdrawalPending},
			To:   models.WithdrawalProcessing,
		})
		if err != nil {
			return err
		}
		if !moved {
			return fmt.Errorf("%w: withdrawal %s is %s, not pending", store.ErrInvalidState, w.Id, w.Status)
		}

		if _, err := s.recorder.Record(ctx, tx, models.AuditEntry{
			UserId:     w.UserId,
			Actor:      models.AdminActor(adminId),
			Action:     ActionApproved,
			EntityType: models.EntityWithdrawal,
			EntityId:   w.Id,
			Metadata:   map[string]any{"currency": w.Currency},
		}); err != nil {
			return err
		}

		if cur.Kind == models.CurrencyCrypto {
			_, err := s.outbox.EnqueueTx(ctx, tx, JobPayout, PayoutPayload{WithdrawalId: w.Id})
			return err
		}

		completed, err = s.completeTx(ctx, tx, w, models.AdminActor(adminId), txReference, nil)
		return err
	})
	if err != nil {
		return nil, err
	}

	metrics.WithdrawalTransitions.WithLabelValues(string(models.WithdrawalProcessing)).Inc()
	zap.L().Info("Withdrawal approved",
		zap.String("withdrawal_id", withdrawalId),
		zap.String("admin_id", adminId))
	if completed {
		s.completed(ctx, w, txReference)
	}

	return s.store.GetWithdrawal(ctx, withdrawalId)
}

// Reject fails a pending withdrawal and returns amount plus fee in the same
// transaction.
func (s *Service) Reject(ctx context.Context, withdrawalId, adminId, reason string) (*models.Withdrawal, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, fmt.Errorf("%w: rejection reason is required", store.ErrValidation)
	}
	if strings.TrimSpace(adminId) == "" {
		return nil, fmt.Errorf("%w: admin id is required", store.ErrValidation)
	}

	var w *models.Withdrawal
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		w, err = tx.GetWithdrawal(ctx, withdrawalId)
		if err != nil {
			return err
		}

		refunded, err := s.failTx(ctx, tx, w, []models.WithdrawalStatus{models.WithdrawalPending}, models.AdminActor(adminId), reason)
		if err != nil {
			return err
		}
		if !refunded {
			return fmt.Errorf("%w: withdrawal %s is %s, not pending", store.ErrInvalidState, w.Id, w.Status)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("Withdrawal rejected",
		zap.String("withdrawal_id", withdrawalId),
		zap.String("admin_id", adminId),
		zap.String("reason", reason))
	s.failed(ctx, w, reason)

	return s.store.GetWithdrawal(ctx, withdrawalId)
}

func (s *Service) GetWithdrawal(ctx context.Context, id string) (*models.Withdrawal, error) {
	return s.store.GetWithdrawal(ctx, id)
}

// ListWithdrawals pages through withdrawals. An empty user id lists every
// user's withdrawals for the admin queue.
func (s *Service) ListWithdrawals(ctx context.Context, userId string, status models.WithdrawalStatus, limit, offset int) ([]models.Withdrawal, error) {
	switch status {
	case "", models.WithdrawalPending, models.WithdrawalProcessing, models.WithdrawalCompleted, models.WithdrawalFailed:
	default:
		return nil, fmt.Errorf("%w: unknown withdrawal status %q", store.ErrValidation, status)
	}
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.ListWithdrawals(ctx, userId, status, limit, offset)
}

// completeTx moves a processing withdrawal to completed with its reference
func (s *Service) completeTx(ctx context.Context, tx store.Tx, w *models.Withdrawal, actor, txReference string, metadata map[string]any) (bool, error) {
	moved, err := tx.UpdateWithdrawalStatus(ctx, store.WithdrawalTransition{
		Id:          w.Id,
		From:        []models.WithdrawalStatus{models.WithdrawalProcessing},
		To:          models.WithdrawalCompleted,
		TxReference: txReference,
	})
	if err != nil || !moved {
		return false, err
	}

	if metadata == nil {
		metadata = map[string]any{}
	}
	metadata["tx_reference"] = txReference
	_, err = s.recorder.Record(ctx, tx, models.AuditEntry{
		UserId:     w.UserId,
		Actor:      actor,
		Action:     ActionCompleted,
		EntityType: models.EntityWithdrawal,
		EntityId:   w.Id,
		Metadata:   metadata,
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// failTx fails the withdrawal if it is in one of from and refunds it. The
// conditional transition makes the refund happen at most once.
func (s *Service) failTx(ctx context.Context, tx store.Tx, w *models.Withdrawal, from []models.WithdrawalStatus, actor, reason string) (bool, error) {
	moved, err := tx.UpdateWithdrawalStatus(ctx, store.WithdrawalTransition{
		Id:              w.Id,
		From:            from,
		To:              models.WithdrawalFailed,
		RejectionReason: reason,
	})
	if err != nil || !moved {
		return false, err
	}

	_, err = s.ledger.Apply(ctx, tx, ledger.Movement{
		UserId:     w.UserId,
		Delta:      w.Total(),
		Actor:      actor,
		Action:     ActionRefunded,
		EntityType: models.EntityWithdrawal,
		EntityId:   w.Id,
		Metadata: map[string]any{
			"reason":   reason,
			"amount":   w.Amount.StringFixed(models.FiatScale),
			"fee":      w.Fee.StringFixed(models.FiatScale),
			"currency": w.Currency,
		},
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Service) completed(ctx context.Context, w *models.Withdrawal, txReference string) {
	metrics.WithdrawalTransitions.WithLabelValues(string(models.WithdrawalCompleted)).Inc()
	zap.L().Info("Withdrawal completed",
		zap.String("withdrawal_id", w.Id),
		zap.String("user_id", w.UserId),
		zap.String("tx_reference", txReference))

	notify.Send(ctx, s.notifier, notify.Notification{
		Kind:       notify.WithdrawalCompleted,
		UserId:     w.UserId,
		EntityType: models.EntityWithdrawal,
		EntityId:   w.Id,
		Message:    fmt.Sprintf("Your withdrawal of %s %s was sent", w.Amount.StringFixed(models.FiatScale), w.Currency),
		Data:       map[string]string{"tx_reference": txReference},
		OccurredAt: s.now(),
	})
}

func (s *Service) failed(ctx context.Context, w *models.Withdrawal, reason string) {
	metrics.WithdrawalTransitions.WithLabelValues(string(models.WithdrawalFailed)).Inc()
	notify.Send(ctx, s.notifier, notify.Notification{
		Kind:       notify.WithdrawalFailed,
		UserId:     w.UserId,
		EntityType: models.EntityWithdrawal,
		EntityId:   w.Id,
		Message:    fmt.Sprintf("Your withdrawal of %s %s was not completed and the funds were returned", w.Amount.StringFixed(models.FiatScale), w.Currency),
		Data:       map[string]string{"reason": reason, "refunded": w.Total().StringFixed(models.FiatScale)},
		OccurredAt: s.now(),
	})
}
