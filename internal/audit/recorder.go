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

package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"settlement-engine/internal/models"
	"settlement-engine/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrMismatch is returned when replaying the audit trail does not reproduce
// the stored balance.
var ErrMismatch = errors.New("balance reconciliation mismatch")

type requestMetaKey struct{}

// RequestMeta is the network origin of a user or admin action
type RequestMeta struct {
	IPAddress string
	UserAgent string
}

// WithRequestMeta attaches network metadata that Record copies onto entries.
func WithRequestMeta(ctx context.Context, ipAddress, userAgent string) context.Context {
	return context.WithValue(ctx, requestMetaKey{}, RequestMeta{IPAddress: ipAddress, UserAgent: userAgent})
}

// RequestMetaFrom returns the metadata attached to ctx, if any.
func RequestMetaFrom(ctx context.Context) RequestMeta {
	meta, _ := ctx.Value(requestMetaKey{}).(RequestMeta)
	return meta
}

// Recorder appends audit entries and replays them for reconciliation
type Recorder struct {
	store store.Store
	now   func() time.Time
}

func NewRecorder(s store.Store) *Recorder {
	return &Recorder{
		store: s,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Record appends an entry inside tx. The entry commits or rolls back with
// the change it describes.
func (r *Recorder) Record(ctx context.Context, tx store.Tx, entry models.AuditEntry) (models.AuditEntry, error) {
	if entry.UserId == "" || entry.Actor == "" || entry.Action == "" || entry.EntityType == "" {
		return entry, fmt.Errorf("%w: audit entry requires user, actor, action and entity type", store.ErrInternal)
	}

	if entry.Id == "" {
		entry.Id = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = r.now()
	}
	meta := RequestMetaFrom(ctx)
	if entry.IPAddress == "" {
		entry.IPAddress = meta.IPAddress
	}
	if entry.UserAgent == "" {
		entry.UserAgent = meta.UserAgent
	}

	if err := tx.InsertAuditEntry(ctx, entry); err != nil {
		return entry, err
	}
	return entry, nil
}

// Replay sums every recorded balance movement for the user from zero.
func (r *Recorder) Replay(ctx context.Context, userId string) (decimal.Decimal, error) {
	return r.store.SumAuditDeltas(ctx, userId)
}

// Reconcile verifies that the stored balance matches the audit replay.
func (r *Recorder) Reconcile(ctx context.Context, userId string) error {
	zap.L().Info("Reconciling balance", zap.String("user_id", userId))

	current, err := r.store.GetBalance(ctx, userId)
	if err != nil {
		return fmt.Errorf("failed to get current balance: %w", err)
	}

	replayed, err := r.Replay(ctx, userId)
	if err != nil {
		return fmt.Errorf("failed to replay audit trail: %w", err)
	}

	// Exact decimal comparison
	if !current.Balance.Equal(replayed) {
		zap.L().Error("Balance reconciliation failed",
			zap.String("user_id", userId),
			zap.String("current_balance", current.Balance.String()),
			zap.String("replayed_balance", replayed.String()),
			zap.String("difference", current.Balance.Sub(replayed).String()))
		return fmt.Errorf("%w: user %s current=%s, replayed=%s", ErrMismatch, userId, current.Balance.String(), replayed.String())
	}

	zap.L().Info("Balance reconciliation successful",
		zap.String("user_id", userId),
		zap.String("balance", current.Balance.String()))
	return nil
}

// ListForEntity returns the trail for one deposit, withdrawal or investment.
func (r *Recorder) ListForEntity(ctx context.Context, entityType, entityId string) ([]models.AuditEntry, error) {
	return r.store.ListAuditEntriesForEntity(ctx, entityType, entityId)
}

func (r *Recorder) ListForUser(ctx context.Context, userId string) ([]models.AuditEntry, error) {
	return r.store.ListAuditEntries(ctx, userId)
}
