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

// CreateWithdrawal reserves amount plus fee from the user's balance and
// leaves the withdrawal pending admin review
func (s *Service) CreateWithdrawal(ctx context.Context, userId, amount, currency, walletAddress string) models.Envelope {
	value, err := parseAmount(amount)
	if err != nil {
		return fail(err)
	}

	w, err := s.withdrawals.CreateWithdrawal(ctx, userId, value, currency, walletAddress)
	if err != nil {
		zap.L().Warn("Create withdrawal rejected",
			zap.String("user_id", userId),
			zap.String("currency", currency),
			zap.String("amount", amount),
			zap.Error(err))
		return fail(err)
	}

	return ok(w)
}

// ListWithdrawals filters by user and status, either may be empty
func (s *Service) ListWithdrawals(ctx context.Context, userId, status string, limit, offset int) models.Envelope {
	list, err := s.withdrawals.ListWithdrawals(ctx, userId, models.WithdrawalStatus(status), limit, offset)
	if err != nil {
		return fail(err)
	}
	if list == nil {
		list = []models.Withdrawal{}
	}
	return ok(list)
}

func (s *Service) ApproveWithdrawal(ctx context.Context, withdrawalId, adminId, txReference string) models.Envelope {
	w, err := s.withdrawals.Approve(ctx, withdrawalId, adminId, txReference)
	if err != nil {
		zap.L().Warn("Approve withdrawal failed",
			zap.String("withdrawal_id", withdrawalId),
			zap.String("admin_id", adminId),
			zap.Error(err))
		return fail(err)
	}
	return ok(w)
}

func (s *Service) RejectWithdrawal(ctx context.Context, withdrawalId, adminId, reason string) models.Envelope {
	w, err := s.withdrawals.Reject(ctx, withdrawalId, adminId, reason)
	if err != nil {
		zap.L().Warn("Reject withdrawal failed",
			zap.String("withdrawal_id", withdrawalId),
			zap.String("admin_id", adminId),
			zap.Error(err))
		return fail(err)
	}
	return ok(w)
}
