package deposits

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

// RunConversion prices a processing deposit in fiat and stores the result
// once. If the provider has already resolved the charge the deposit is
// credited in the same transaction; otherwise the resolved event credits it.
func (s *Service) RunConversion(ctx context.Context, depositId string) error {
	d, err := s.store.GetDeposit(ctx, depositId)
	if err != nil {
		return err
	}
	if d.Status != models.DepositProcessing {
		zap.L().Debug("Skipping conversion",
			zap.String("deposit_id", d.Id),
			zap.String("status", string(d.Status)))
		return nil
	}

	fiat, rate := d.FiatAmount.Decimal, d.Rate.Decimal
	if !d.FiatAmount.Valid {
		rate, err = s.rates.Rate(ctx, d.Currency)
		if err != nil {
			return fmt.Errorf("failed to get %s rate: %w", d.Currency, err)
		}
		fiat = QuoteFiat(d.CryptoAmount, rate)
		if !fiat.IsPositive() {
			return jobs.Permanent(fmt.Errorf("%w: deposit %s converts to %s", store.ErrValidation, d.Id, fiat.String()))
		}
	}

	var credited bool
	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		credited = false

		current, err := tx.GetDeposit(ctx, depositId)
		if err != nil {
			return err
		}
		if current.Status != models.DepositProcessing {
			return nil
		}

		if current.FiatAmount.Valid {
			fiat, rate = current.FiatAmount.Decimal, current.Rate.Decimal
		} else {
			stored, err := tx.SetDepositConversion(ctx, current.Id, fiat, rate)
			if err != nil {
				return err
			}
			if !stored {
				return fmt.Errorf("%w: conversion for deposit %s was not stored", store.ErrConcurrentModification, current.Id)
			}
			_, err = s.recorder.Record(ctx, tx, models.AuditEntry{
				UserId:     current.UserId,
				Actor:      models.ActorSystem,
				Action:     ActionConverted,
				EntityType: models.EntityDeposit,
				EntityId:   current.Id,
				Metadata: map[string]any{
					"rate":        rate.String(),
					"fiat_amount": fiat.StringFixed(models.FiatScale),
				},
			})
			if err != nil {
				return err
			}
		}

		if !current.ProviderResolved {
			return nil
		}
		credited, err = s.complete(ctx, tx, current, fiat, rate)
		return err
	})
	if err != nil {
		return err
	}

	if credited {
		s.completed(ctx, d, fiat)
		return nil
	}
	zap.L().Info("Deposit converted, awaiting provider resolution",
		zap.String("deposit_id", d.Id),
		zap.String("fiat_amount", fiat.String()),
		zap.String("rate", rate.String()))
	return nil
}

// ConversionHandler runs JobConvert. Once retries are exhausted the deposit
// fails without a credit.
func (s *Service) ConversionHandler() jobs.Handler {
	return jobs.Funcs{
		OnHandle: func(ctx context.Context, job models.Job) error {
			payload, err := jobs.Decode[ConvertPayload](job)
			if err != nil {
				return err
			}
			return s.RunConversion(ctx, payload.DepositId)
		},
		OnExhausted: func(ctx context.Context, job models.Job, cause error) error {
			payload, err := jobs.Decode[ConvertPayload](job)
			if err != nil {
				zap.L().Error("Dropping exhausted conversion with malformed payload", zap.String("job_id", job.Id))
				return nil
			}
			d, err := s.store.GetDeposit(ctx, payload.DepositId)
			if errors.Is(err, store.ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}

			reason := models.TruncateReason("conversion failed: " + cause.Error())
			moved, err := s.fail(ctx, d, reason, map[string]any{"job_id": job.Id, "attempts": job.Attempts})
			if err != nil {
				return err
			}
			if moved {
				s.failed(ctx, d, reason)
			}
			return nil
		},
	}
}

// QuoteFiat converts a crypto amount at rate, rounded to the fiat scale
func QuoteFiat(cryptoAmount, rate decimal.Decimal) decimal.Decimal {
	return cryptoAmount.Mul(rate).Round(models.FiatScale)
}
