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

package deposits

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
	"settlement-engine/internal/provider"
	"settlement-engine/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// JobConvert converts a confirmed deposit into fiat
const JobConvert = "deposit.convert"

// Audit actions
const (
	ActionCreated    = "deposit.created"
	ActionProcessing = "deposit.processing"
	ActionConverted  = "deposit.converted"
	ActionCredited   = "deposit.credited"
	ActionFailed     = "deposit.failed"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// ChargeCreator opens a payment session with the provider
type ChargeCreator interface {
	CreateCharge(ctx context.Context, req provider.ChargeRequest) (*provider.Charge, error)
}

// RateSource quotes the fiat value of one unit of a crypto currency
type RateSource interface {
	Rate(ctx context.Context, currency string) (decimal.Decimal, error)
}

type Deps struct {
	Store         store.Store
	Ledger        *ledger.Ledger
	Recorder      *audit.Recorder
	Outbox        ledger.Outbox
	Charges       ChargeCreator
	Rates         RateSource
	Notifier      notify.Notifier
	Catalog       *models.Catalog
	WebhookSecret string
}

// Service runs the deposit lifecycle: pending, processing, then completed
// with exactly one credit, or failed with none.
type Service struct {
	store         store.Store
	ledger        *ledger.Ledger
	recorder      *audit.Recorder
	outbox        ledger.Outbox
	charges       ChargeCreator
	rates         RateSource
	notifier      notify.Notifier
	catalog       *models.Catalog
	webhookSecret string
	now           func() time.Time
}

func NewService(d Deps) *Service {
	return &Service{
		store:         d.Store,
		ledger:        d.Ledger,
		recorder:      d.Recorder,
		outbox:        d.Outbox,
		charges:       d.Charges,
		rates:         d.Rates,
		notifier:      d.Notifier,
		catalog:       d.Catalog,
		webhookSecret: d.WebhookSecret,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// ConvertPayload is the payload of JobConvert
type ConvertPayload struct {
	DepositId string `json:"deposit_id"`
}

// CreateDeposit opens a provider charge and stores a pending deposit. The
// balance is untouched until the deposit completes.
func (s *Service) CreateDeposit(ctx context.Context, userId string, amount decimal.Decimal, currency string) (*models.Deposit, error) {
	if strings.TrimSpace(userId) == "" {
		return nil, fmt.Errorf("%w: user id is required", store.ErrValidation)
	}
	cur, ok := s.catalog.Lookup(currency)
	if !ok || cur.Kind != models.CurrencyCrypto {
		return nil, fmt.Errorf("%w: unsupported deposit currency %q", store.ErrValidation, currency)
	}
	amount = amount.Round(cur.Scale)
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", store.ErrValidation)
	}
	if amount.LessThan(cur.MinDeposit) {
		return nil, fmt.Errorf("%w: amount below minimum deposit of %s %s", store.ErrValidation, cur.MinDeposit.String(), cur.Code)
	}

	id := uuid.New().String()
	charge, err := s.charges.CreateCharge(ctx, provider.ChargeRequest{
		Reference:   id,
		UserId:      userId,
		Currency:    cur.Code,
		Amount:      amount,
		Description: fmt.Sprintf("Deposit of %s %s", amount.String(), cur.Code),
	})
	if err != nil {
		return nil, err
	}

	ts := s.now()
	deposit := &models.Deposit{
		Id:           id,
		UserId:       userId,
		Currency:     cur.Code,
		CryptoAmount: amount,
		Status:       models.DepositPending,
		ProviderRef:  charge.Id,
		PaymentURL:   charge.HostedURL,
		PaymentURI:   charge.PaymentURI,
		ExpiresAt:    charge.ExpiresAt,
		CreatedAt:    ts,
		UpdatedAt:    ts,
	}

	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.InsertDeposit(ctx, deposit); err != nil {
			return err
		}
		_, err := s.recorder.Record(ctx, tx, models.AuditEntry{
			UserId:     userId,
			Actor:      userId,
			Action:     ActionCreated,
			EntityType: models.EntityDeposit,
			EntityId:   id,
			Metadata: map[string]any{
				"currency":     cur.Code,
				"amount":       amount.String(),
				"provider_ref": charge.Id,
			},
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	metrics.DepositTransitions.WithLabelValues(string(models.DepositPending)).Inc()
	zap.L().Info("Deposit created",
		zap.String("deposit_id", id),
		zap.String("user_id", userId),
		zap.String("currency", cur.Code),
		zap.String("amount", amount.String()),
		zap.String("provider_ref", charge.Id))

	return deposit, nil
}

func (s *Service) GetDeposit(ctx context.Context, id string) (*models.Deposit, error) {
	return s.store.GetDeposit(ctx, id)
}

// ListDeposits pages through a user's deposits, newest first
func (s *Service) ListDeposits(ctx context.Context, userId string, limit, offset int) ([]models.Deposit, error) {
	if strings.TrimSpace(userId) == "" {
		return nil, fmt.Errorf("%w: user id is required", store.ErrValidation)
	}
	limit, offset = page(limit, offset)
	return s.store.ListDeposits(ctx, userId, limit, offset)
}

func page(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// complete moves a processing deposit to completed and credits the fiat
// amount in tx. It reports false when the deposit was no longer processing.
func (s *Service) complete(ctx context.Context, tx store.Tx, d *models.Deposit, fiat, rate decimal.Decimal) (bool, error) {
	moved, err := tx.UpdateDepositStatus(ctx, store.DepositTransition{
		Id:           d.Id,
		From:         []models.DepositStatus{models.DepositProcessing},
		To:           models.DepositCompleted,
		MarkResolved: true,
	})
	if err != nil || !moved {
		return false, err
	}

	_, err = s.ledger.Apply(ctx, tx, ledger.Movement{
		UserId:     d.UserId,
		Delta:      fiat,
		Actor:      models.ActorSystem,
		Action:     ActionCredited,
		EntityType: models.EntityDeposit,
		EntityId:   d.Id,
		Metadata: map[string]any{
			"currency":      d.Currency,
			"crypto_amount": d.CryptoAmount.String(),
			"rate":          rate.String(),
			"provider_ref":  d.ProviderRef,
		},
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Service) completed(ctx context.Context, d *models.Deposit, fiat decimal.Decimal) {
	metrics.DepositTransitions.WithLabelValues(string(models.DepositCompleted)).Inc()
	zap.L().Info("Deposit completed",
		zap.String("deposit_id", d.Id),
		zap.String("user_id", d.UserId),
		zap.String("fiat_amount", fiat.String()))

	notify.Send(ctx, s.notifier, notify.Notification{
		Kind:       notify.DepositCompleted,
		UserId:     d.UserId,
		EntityType: models.EntityDeposit,
		EntityId:   d.Id,
		Message:    fmt.Sprintf("Your deposit of %s %s was credited", d.CryptoAmount.String(), d.Currency),
		Data:       map[string]string{"fiat_amount": fiat.StringFixed(models.FiatScale)},
		OccurredAt: s.now(),
	})
}

func (s *Service) failed(ctx context.Context, d *models.Deposit, reason string) {
	metrics.DepositTransitions.WithLabelValues(string(models.DepositFailed)).Inc()
	zap.L().Warn("Deposit failed",
		zap.String("deposit_id", d.Id),
		zap.String("user_id", d.UserId),
		zap.String("reason", reason))

	notify.Send(ctx, s.notifier, notify.Notification{
		Kind:       notify.DepositFailed,
		UserId:     d.UserId,
		EntityType: models.EntityDeposit,
		EntityId:   d.Id,
		Message:    fmt.Sprintf("Your deposit of %s %s could not be completed", d.CryptoAmount.String(), d.Currency),
		Data:       map[string]string{"reason": reason},
		OccurredAt: s.now(),
	})
}
