package withdrawals

import (
	"context"
	"errors"
	"fmt"

	"settlement-engine/internal/jobs"
	"settlement-engine/internal/models"
	"settlement-engine/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// RunPayout pays out an approved crypto withdrawal. The crypto amount is
// quoted once and stored, so a retried payout sends the same amount under
// the same idempotency key.
func (s *Service) RunPayout(ctx context.Context, withdrawalId string) error {
	w, err := s.store.GetWithdrawal(ctx, withdrawalId)
	if err != nil {
		return err
	}
	if w.Status != models.WithdrawalProcessing {
		zap.L().Debug("Skipping payout",
			zap.String("withdrawal_id", w.Id),
			zap.String("status", string(w.Status)))
		return nil
	}

	cur, ok := s.catalog.Lookup(w.Currency)
	if !ok || cur.Kind != models.CurrencyCrypto {
		return jobs.Permanent(fmt.Errorf("%w: withdrawal %s cannot be paid out in %s", store.ErrInternal, w.Id, w.Currency))
	}

	cryptoAmount, rate, err := s.quote(ctx, w)
	if err != nil {
		return err
	}
	if cryptoAmount.IsZero() {
		return nil
	}

	ref, err := s.payouts.Payout(ctx, models.PayoutRequest{
		IdempotencyKey: w.Id,
		Currency:       cur.Code,
		Network:        cur.Network,
		WalletId:       cur.WalletId,
		Amount:         cryptoAmount,
		Destination:    w.WalletAddress,
	})
	if err != nil {
		return fmt.Errorf("payout for withdrawal %s failed: %w", w.Id, err)
	}

	var completed bool
	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		completed, err = s.completeTx(ctx, tx, w, models.ActorSystem, ref, map[string]any{
			"crypto_amount": cryptoAmount.String(),
			"rate":          rate.String(),
			"currency":      cur.Code,
		})
		return err
	})
	if err != nil {
		return err
	}
	if completed {
		s.completed(ctx, w, ref)
	}
	return nil
}

// quote returns the stored crypto amount or prices and stores a new one.
// A zero amount means the withdrawal left processing in the meantime.
func (s *Service) quote(ctx context.Context, w *models.Withdrawal) (decimal.Decimal, decimal.Decimal, error) {
	if w.CryptoAmount.Valid {
		return w.CryptoAmount.Decimal, w.Rate.Decimal, nil
	}

	rate, err := s.rates.Rate(ctx, w.Currency)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("failed to get %s rate: %w", w.Currency, err)
	}
	cryptoAmount := QuoteCrypto(w.Amount, rate)
	if !cryptoAmount.IsPositive() {
		return decimal.Zero, decimal.Zero, jobs.Permanent(fmt.Errorf("%w: withdrawal %s quotes to %s %s", store.ErrValidation, w.Id, cryptoAmount.String(), w.Currency))
	}

	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		current, err := tx.GetWithdrawal(ctx, w.Id)
		if err != nil {
			return err
		}
		if current.Status != models.WithdrawalProcessing {
			cryptoAmount = decimal.Zero
			return nil
		}
		if current.CryptoAmount.Valid {
			cryptoAmount, rate = current.CryptoAmount.Decimal, current.Rate.Decimal
			return nil
		}
		stored, err := tx.SetWithdrawalQuote(ctx, w.Id, cryptoAmount, rate)
		if err != nil {
			return err
		}
		if !stored {
			return fmt.Errorf("%w: quote for withdrawal %s was not stored", store.ErrConcurrentModification, w.Id)
		}
		return nil
	})
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}

	zap.L().Info("Withdrawal quoted",
		zap.String("withdrawal_id", w.Id),
		zap.String("crypto_amount", cryptoAmount.String()),
		zap.String("rate", rate.String()))
	return cryptoAmount, rate, nil
}

// PayoutHandler runs JobPayout. Once retries are exhausted the withdrawal
// fails and is refunded.
func (s *Service) PayoutHandler() jobs.Handler {
	return jobs.Funcs{
		OnHandle: func(ctx context.Context, job models.Job) error {
			payload, err := jobs.Decode[PayoutPayload](job)
			if err != nil {
				return err
			}
			return s.RunPayout(ctx, payload.WithdrawalId)
		},
		OnExhausted: func(ctx context.Context, job models.Job, cause error) error {
			payload, err := jobs.Decode[PayoutPayload](job)
			if err != nil {
				zap.L().Error("Dropping exhausted payout with malformed payload", zap.String("job_id", job.Id))
				return nil
			}
			return s.failPayout(ctx, payload.WithdrawalId, cause)
		},
	}
}

func (s *Service) failPayout(ctx context.Context, withdrawalId string, cause error) error {
	reason := models.TruncateReason("payout failed: " + cause.Error())

	var (
		w        *models.Withdrawal
		refunded bool
	)
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		w, err = tx.GetWithdrawal(ctx, withdrawalId)
		if err != nil {
			return err
		}
		refunded, err = s.failTx(ctx, tx, w, []models.WithdrawalStatus{models.WithdrawalProcessing}, models.ActorSystem, reason)
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if refunded {
		zap.L().Warn("Withdrawal failed and refunded",
			zap.String("withdrawal_id", w.Id),
			zap.String("user_id", w.UserId),
			zap.String("refunded", w.Total().String()),
			zap.String("reason", reason))
		s.failed(ctx, w, reason)
	}
	return nil
}
