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
	"time"

	"settlement-engine/internal/accrual"
	"settlement-engine/internal/deposits"
	"settlement-engine/internal/models"
	"settlement-engine/internal/store"
	"settlement-engine/internal/withdrawals"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const healthCheckTimeout = 2 * time.Second

type Deps struct {
	Store       store.Store
	Deposits    *deposits.Service
	Withdrawals *withdrawals.Service
	Accrual     *accrual.Engine
	Catalog     *models.Catalog
}

// Service is the engine surface consumed by the UI and admin tools. Every
// call returns a status envelope carrying either data or an error kind and
// a message safe to show to the caller.
type Service struct {
	store       store.Store
	deposits    *deposits.Service
	withdrawals *withdrawals.Service
	accrual     *accrual.Engine
	catalog     *models.Catalog
}

func NewService(d Deps) *Service {
	return &Service{
		store:       d.Store,
		deposits:    d.Deposits,
		withdrawals: d.Withdrawals,
		accrual:     d.Accrual,
		catalog:     d.Catalog,
	}
}

// HealthCheck pings the database
func (s *Service) HealthCheck(ctx context.Context) models.Envelope {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		zap.L().Warn("Database health check failed", zap.Error(err))
		return fail(fmt.Errorf("%w: database health check failed: %v", store.ErrInternal, err))
	}
	return ok(models.HealthStatus{Database: "ok", Ready: true})
}

func ok(data any) models.Envelope {
	return models.Envelope{Success: true, Data: data}
}

func fail(err error) models.Envelope {
	return models.Envelope{
		Success:   false,
		ErrorKind: store.KindOf(err),
		Error:     store.PublicMessage(err),
	}
}

func parseAmount(raw string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: amount %q is not a number", store.ErrValidation, raw)
	}
	return amount, nil
}
