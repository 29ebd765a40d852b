package deposits

import (
	"context"
	"errors"

	"settlement-engine/internal/metrics"
	"settlement-engine/internal/models"
	"settlement-engine/internal/provider"
	"settlement-engine/internal/store"

	"go.uber.org/zap"
)

// Webhook results recorded on the events metric
const (
	resultApplied          = "applied"
	resultNoop             = "noop"
	resultIgnored          = "ignored"
	resultUnmatched        = "unmatched"
	resultInvalidSignature = "invalid_signature"
	resultError            = "error"
)

// HandleProviderEvent verifies and applies one provider notification. The
// signature is checked over the raw body before any field is read.
// Deliveries may repeat or arrive out of order; every branch is a
// conditional transition so a replay changes nothing.
func (s *Service) HandleProviderEvent(ctx context.Context, body []byte, signature string) error {
	if err := provider.VerifySignature(s.webhookSecret, body, signature); err != nil {
		metrics.WebhookEvents.WithLabelValues("unknown", resultInvalidSignature).Inc()
		zap.L().Warn("Rejected webhook with invalid signature", zap.Error(err))
		return err
	}

	event, err := provider.ParseEvent(body)
	if err != nil {
		metrics.WebhookEvents.WithLabelValues("unknown", resultError).Inc()
		return err
	}

	switch event.Type {
	case provider.EventConfirmed, provider.EventFailed, provider.EventResolved:
	default:
		metrics.WebhookEvents.WithLabelValues(event.Type, resultIgnored).Inc()
		zap.L().Debug("Ignoring provider event", zap.String("event_type", event.Type), zap.String("event_id", event.Id))
		return nil
	}

	deposit, err := s.store.FindDepositByProviderRef(ctx, event.ChargeId)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			metrics.WebhookEvents.WithLabelValues(event.Type, resultUnmatched).Inc()
			zap.L().Warn("Provider event for unknown charge",
				zap.String("event_type", event.Type),
				zap.String("event_id", event.Id),
				zap.String("charge_id", event.ChargeId))
		} else {
			metrics.WebhookEvents.WithLabelValues(event.Type, resultError).Inc()
		}
		return err
	}

	var applied bool
	switch event.Type {
	case provider.EventConfirmed:
		applied, err = s.onConfirmed(ctx, deposit, event)
	case provider.EventFailed:
		applied, err = s.onFailed(ctx, deposit, event)
	case provider.EventResolved:
		applied, err = s.onResolved(ctx, deposit, event)
	}
	if err != nil {
		metrics.WebhookEvents.WithLabelValues(event.Type, resultError).Inc()
		zap.L().Error("Failed to apply provider event",
			zap.String("event_type", event.Type),
			zap.String("deposit_id", deposit.Id),
			zap.Error(err))
		return err
	}

	result := resultNoop
	if applied {
		result = resultApplied
	}
	metrics.WebhookEvents.WithLabelValues(event.Type, result).Inc()
	zap.L().Info("Provider event handled",
		zap.String("event_type", event.Type),
		zap.String("event_id", event.Id),
		zap.String("deposit_id", deposit.Id),
		zap.String("result", result))
	return nil
}

// onConfirmed moves pending to processing and schedules the conversion in
// the same transaction.
func (s *Service) onConfirmed(ctx context.Context, d *models.Deposit, event *provider.Event) (bool, error) {
	var moved bool
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		moved, err = s.startProcessing(ctx, tx, d, event, false)
		return err
	})
	if err != nil {
		return false, err
	}
	if moved {
		metrics.DepositTransitions.WithLabelValues(string(models.DepositProcessing)).Inc()
	}
	return moved, nil
}

func (s *Service) startProcessing(ctx context.Context, tx store.Tx, d *models.Deposit, event *provider.Event, resolved bool) (bool, error) {
	moved, err := tx.UpdateDepositStatus(ctx, store.DepositTransition{
		Id:           d.Id,
		From:         []models.DepositStatus{models.DepositPending},
		To:           models.DepositProcessing,
		MarkResolved: resolved,
	})
	if err != nil || !moved {
		return false, err
	}

	_, err = s.recorder.Record(ctx, tx, models.AuditEntry{
		UserId:     d.UserId,
		Actor:      models.ActorSystem,
		Action:     ActionProcessing,
		EntityType: models.EntityDeposit,
		EntityId:   d.Id,
		Metadata: map[string]any{
			"event_type": event.Type,
			"event_id":   event.Id,
		},
	})
	if err != nil {
		return false, err
	}

	if _, err := s.outbox.EnqueueTx(ctx, tx, JobConvert, ConvertPayload{DepositId: d.Id}); err != nil {
		return false, err
	}
	return true, nil
}

// onFailed fails a deposit that has not completed. No balance effect.
func (s *Service) onFailed(ctx context.Context, d *models.Deposit, event *provider.Event) (bool, error) {
	reason := "payment failed at provider"
	moved, err := s.fail(ctx, d, reason, map[string]any{"event_type": event.Type, "event_id": event.Id})
	if err != nil {
		return false, err
	}
	if moved {
		s.failed(ctx, d, reason)
	}
	return moved, nil
}

func (s *Service) fail(ctx context.Context, d *models.Deposit, reason string, metadata map[string]any) (bool, error) {
	var moved bool
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		moved, err = tx.UpdateDepositStatus(ctx, store.DepositTransition{
			Id:            d.Id,
			From:          []models.DepositStatus{models.DepositPending, models.DepositProcessing},
			To:            models.DepositFailed,
			FailureReason: reason,
		})
		if err != nil || !moved {
			return err
		}

		if metadata == nil {
			metadata = map[string]any{}
		}
		metadata["reason"] = reason
		_, err = s.recorder.Record(ctx, tx, models.AuditEntry{
			UserId:     d.UserId,
			Actor:      models.ActorSystem,
			Action:     ActionFailed,
			EntityType: models.EntityDeposit,
			EntityId:   d.Id,
			Metadata:   metadata,
		})
		return err
	})
	return moved, err
}

// onResolved never skips conversion: the credit always uses an oracle rate.
func (s *Service) onResolved(ctx context.Context, d *models.Deposit, event *provider.Event) (bool, error) {
	var (
		applied   bool
		credited  bool
		fiat      = d.FiatAmount.Decimal
		startedUp bool
	)

	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		applied, credited, startedUp = false, false, false

		current, err := tx.GetDeposit(ctx, d.Id)
		if err != nil {
			return err
		}

		switch current.Status {
		case models.DepositCompleted:
			return nil
		case models.DepositFailed:
			zap.L().Warn("Resolved event for failed deposit",
				zap.String("deposit_id", current.Id),
				zap.String("failure_reason", current.FailureReason))
			return nil
		case models.DepositPending:
			startedUp, err = s.startProcessing(ctx, tx, current, event, true)
			applied = startedUp
			return err
		case models.DepositProcessing:
			if current.FiatAmount.Valid {
				fiat = current.FiatAmount.Decimal
				credited, err = s.complete(ctx, tx, current, fiat, current.Rate.Decimal)
				applied = credited
				return err
			}
			// Conversion still running; it credits once it sees the flag
			applied, err = tx.UpdateDepositStatus(ctx, store.DepositTransition{
				Id:           current.Id,
				From:         []models.DepositStatus{models.DepositProcessing},
				To:           models.DepositProcessing,
				MarkResolved: true,
			})
			return err
		}
		return nil
	})
	if err != nil {
		return false, err
	}

	if startedUp {
		metrics.DepositTransitions.WithLabelValues(string(models.DepositProcessing)).Inc()
	}
	if credited {
		s.completed(ctx, d, fiat)
	}
	return applied, nil
}
