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

package api

import (
	"context"
	"fmt"

	"settlement-engine/internal/models"
	"settlement-engine/internal/store"

	"go.uber.org/zap"
)

// GetBalance returns the user's fiat balance. A user with no activity has zero.
func (s *Service) GetBalance(ctx context.Context, userId string) models.Envelope {
	if userId == "" {
		return fail(fmt.Errorf("%w: user_id is required", store.ErrValidation))
	}

	balance, err := s.store.GetBalance(ctx, userId)
	if err != nil {
		zap.L().Error("Failed to get balance", zap.String("user_id", userId), zap.Error(err))
		return fail(err)
	}

	return ok(models.BalanceView{
		UserId:    userId,
		Currency:  s.catalog.FiatCurrency,
		Balance:   balance.Balance.Round(models.FiatScale),
		UpdatedAt: balance.UpdatedAt,
	})
}

// TriggerAccrual enqueues an accrual run for date, used to recover a missed
// or failed day
func (s *Service) TriggerAccrual(ctx context.Context, date string) models.Envelope {
	trigger, err := s.accrual.Trigger(ctx, date)
	if err != nil {
		zap.L().Warn("Trigger accrual failed", zap.String("date", date), zap.Error(err))
		return fail(err)
	}
	return ok(trigger)
}
