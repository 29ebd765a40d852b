package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"settlement-engine/internal/models"
	"settlement-engine/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// GetBalance returns the current balance for a user (O(1) lookup).
// A user without a balance row has a zero balance.
func (s *Service) GetBalance(ctx context.Context, userId string) (*models.AccountBalance, error) {
	zap.L().Debug("Getting balance", zap.String("user_id", userId))

	balance, err := scanBalance(s.queryRow(ctx, queryGetBalance, userId))
	if errors.Is(err, sql.ErrNoRows) {
		return &models.AccountBalance{UserId: userId, Balance: decimal.Zero}, nil
	}
	if err != nil {
		zap.L().Error("Failed to get balance", zap.String("user_id", userId), zap.Error(err))
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}

	zap.L().Debug("Retrieved balance", zap.String("user_id", userId), zap.String("balance", balance.Balance.String()))
	return balance, nil
}

// ListBalances returns every balance row
func (s *Service) ListBalances(ctx context.Context) ([]models.AccountBalance, error) {
	rows, err := s.query(ctx, queryListBalances)
	if err != nil {
		return nil, fmt.Errorf("failed to list balances: %w", err)
	}
	defer closeRows(rows)

	var balances []models.AccountBalance
	for rows.Next() {
		balance, err := scanBalance(rows)
		if err != nil {
			return nil, err
		}
		balances = append(balances, *balance)
	}

	// Check for errors during iteration
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating balance rows: %w", err)
	}

	return balances, nil
}

// AdjustBalance applies delta to the user's balance inside the caller's
// transaction and returns the new balance. The row is created lazily at
// zero. A result below zero fails with ErrInsufficientFunds and leaves the
// balance untouched; the caller's transaction is expected to roll back.
func (t *txStore) AdjustBalance(ctx context.Context, userId string, delta decimal.Decimal) (decimal.Decimal, error) {
	if userId == "" {
		return decimal.Zero, fmt.Errorf("%w: user id is required", store.ErrValidation)
	}

	ts := now()
	current, err := scanBalance(t.queryRow(ctx, queryGetBalance+t.d.forUpdate(), userId))
	if errors.Is(err, sql.ErrNoRows) {
		if delta.IsNegative() {
			return decimal.Zero, fmt.Errorf("%w: balance 0, requested change %s", store.ErrInsufficientFunds, delta.String())
		}

		newBalance := delta.Round(models.FiatScale)
		if _, err := t.exec(ctx, queryInsertAccountBalance, userId, newBalance.StringFixed(models.FiatScale), ts); err != nil {
			if isUniqueViolation(err) {
				return decimal.Zero, fmt.Errorf("balance row created concurrently - %w", store.ErrConcurrentModification)
			}
			return decimal.Zero, fmt.Errorf("failed to create account balance: %w", err)
		}
		return newBalance, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to get current balance: %w", err)
	}

	newBalance := current.Balance.Add(delta).Round(models.FiatScale)
	if newBalance.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: balance %s, requested change %s",
			store.ErrInsufficientFunds, current.Balance.String(), delta.String())
	}

	// Update account balance (with optimistic locking)
	result, err := t.exec(ctx, queryUpdateAccountBalance, newBalance.StringFixed(models.FiatScale), ts, userId, current.Version)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to update balance: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return decimal.Zero, fmt.Errorf("balance update failed - %w", store.ErrConcurrentModification)
	}

	zap.L().Debug("Balance adjusted",
		zap.String("user_id", userId),
		zap.String("old_balance", current.Balance.String()),
		zap.String("delta", delta.String()),
		zap.String("new_balance", newBalance.String()))

	return newBalance, nil
}

func scanBalance(row scanner) (*models.AccountBalance, error) {
	var balance models.AccountBalance
	var balanceStr string
	if err := row.Scan(&balance.UserId, &balanceStr, &balance.Version, &balance.UpdatedAt); err != nil {
		return nil, err
	}

	var err error
	balance.Balance, err = decimal.NewFromString(balanceStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse balance '%s': %w", balanceStr, err)
	}
	return &balance, nil
}
