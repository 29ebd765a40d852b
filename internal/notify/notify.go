package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"settlement-engine/internal/metrics"

	"go.uber.org/zap"
)

// Notification kinds
const (
	DepositCompleted    = "deposit.completed"
	DepositFailed       = "deposit.failed"
	WithdrawalCompleted = "withdrawal.completed"
	WithdrawalFailed    = "withdrawal.failed"
)

// Notification tells a user that one of their settlements reached a terminal state
type Notification struct {
	Kind       string            `json:"kind"`
	UserId     string            `json:"user_id"`
	EntityType string            `json:"entity_type"`
	EntityId   string            `json:"entity_id"`
	Message    string            `json:"message"`
	Data       map[string]string `json:"data,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// Notifier delivers notifications. Delivery is best effort and never
// affects the settlement that produced the notification.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, n Notification) error
}

func encode(n Notification) ([]byte, error) {
	if n.OccurredAt.IsZero() {
		n.OccurredAt = time.Now().UTC()
	}
	body, err := json.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal notification: %w", err)
	}
	return body, nil
}

// LogNotifier writes notifications to the structured log
type LogNotifier struct{}

func (LogNotifier) Name() string { return "log" }

func (LogNotifier) Notify(ctx context.Context, n Notification) error {
	zap.L().Info("User notification",
		zap.String("kind", n.Kind),
		zap.String("user_id", n.UserId),
		zap.String("entity_type", n.EntityType),
		zap.String("entity_id", n.EntityId),
		zap.String("message", n.Message),
		zap.Any("data", n.Data))
	return nil
}

// Multi fans a notification out to every channel
type Multi []Notifier

func (m Multi) Name() string { return "multi" }

func (m Multi) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, notifier := range m {
		if err := notifyWithin(ctx, notifier, n); err != nil {
			metrics.NotificationFailures.WithLabelValues(notifier.Name()).Inc()
			zap.L().Warn("Notification delivery failed",
				zap.String("channel", notifier.Name()),
				zap.String("kind", n.Kind),
				zap.String("entity_id", n.EntityId),
				zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// sendTimeout bounds a single delivery attempt
var sendTimeout = 5 * time.Second

func notifyWithin(ctx context.Context, notifier Notifier, n Notification) error {
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	return notifier.Notify(ctx, n)
}

// Send delivers n and only logs a failure. Delivery outlives cancellation of
// ctx, since the settlement it reports has already committed.
func Send(ctx context.Context, notifier Notifier, n Notification) {
	if notifier == nil {
		return
	}
	if err := notifyWithin(context.WithoutCancel(ctx), notifier, n); err != nil {
		zap.L().Warn("Failed to notify user",
			zap.String("kind", n.Kind),
			zap.String("user_id", n.UserId),
			zap.Error(err))
	}
}
