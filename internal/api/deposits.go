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

	"settlement-engine/internal/models"

	"go.uber.org/zap"
)

// CreateDeposit opens a payment request with the provider for amount of currency
func (s *Service) CreateDeposit(ctx context.Context, userId, amount, currency string) models.Envelope {
	value, err := parseAmount(amount)
	if err != nil {
		return fail(err)
	}

	deposit, err := s.deposits.CreateDeposit(ctx, userId, value, currency)
	if err != nil {
		zap.L().Warn("Create deposit rejected",
			zap.String("user_id", userId),
			zap.String("currency", currency),
			zap.String("amount", amount),
			zap.Error(err))
		return fail(err)
	}

	return ok(deposit)
}

// ListDeposits returns one page of a user's deposits, newest first
func (s *Service) ListDeposits(ctx context.Context, userId string, limit, offset int) models.Envelope {
	list, err := s.deposits.ListDeposits(ctx, userId, limit, offset)
	if err != nil {
		zap.L().Error("Failed to list deposits", zap.String("user_id", userId), zap.Error(err))
		return fail(err)
	}
	if list == nil {
		list = []models.Deposit{}
	}
	return ok(list)
}
