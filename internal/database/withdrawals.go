package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"settlement-engine/internal/models"
	"settlement-engine/internal/store"

	"github.com/shopspring/decimal"
)

func (s *Service) GetWithdrawal(ctx context.Context, id string) (*models.Withdrawal, error) {
	return s.getWithdrawal(ctx, queryGetWithdrawal, id)
}

// ListWithdrawals filters by user and status when they are non-empty
func (s *Service) ListWithdrawals(ctx context.Context, userId string, status models.WithdrawalStatus, limit, offset int) ([]models.Withdrawal, error) {
	var where []string
	var args []any
	if userId != "" {
		where = append(where, "user_id = ?")
		args = append(args, userId)
	}
	if status != "" {
		where = append(where, "status = ?")
		args = append(args, string(status))
	}

	query := "SELECT" + withdrawalColumns + " FROM withdrawals"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list withdrawals: %w", err)
	}
	defer closeRows(rows)

	var withdrawals []models.Withdrawal
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, err
		}
		withdrawals = append(withdrawals, *w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating withdrawal rows: %w", err)
	}

	return withdrawals, nil
}

func (t *txStore) InsertWithdrawal(ctx context.Context, w *models.Withdrawal) error {
	_, err := t.exec(ctx, queryInsertWithdrawal,
		w.Id, w.UserId, w.Currency, w.Amount.StringFixed(models.FiatScale), w.Fee.StringFixed(models.FiatScale),
		string(w.Status), w.WalletAddress, w.CreatedAt, w.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: withdrawal %s", store.ErrDuplicate, w.Id)
		}
		return fmt.Errorf("failed to insert withdrawal: %w", err)
	}
	return nil
}

func (t *txStore) GetWithdrawal(ctx context.Context, id string) (*models.Withdrawal, error) {
	return t.getWithdrawal(ctx, queryGetWithdrawal+t.d.forUpdate(), id)
}

// UpdateWithdrawalStatus applies a conditional status transition. It returns
// false when the withdrawal was not in one of the expected states.
func (t *txStore) UpdateWithdrawalStatus(ctx context.Context, tr store.WithdrawalTransition) (bool, error) {
	if len(tr.From) == 0 {
		return false, fmt.Errorf("%w: transition for withdrawal %s has no source states", store.ErrInternal, tr.Id)
	}

	ts := now()
	sets := []string{"status = ?", "updated_at = ?"}
	args := []any{string(tr.To), ts}
	if tr.TxReference != "" {
		sets = append(sets, "tx_reference = ?")
		args = append(args, tr.TxReference)
	}
	if tr.RejectionReason != "" {
		sets = append(sets, "rejection_reason = ?")
		args = append(args, tr.RejectionReason)
	}
	if tr.To == models.WithdrawalCompleted {
		sets = append(sets, "completed_at = ?")
		args = append(args, ts)
	}

	args = append(args, tr.Id)
	for _, from := range tr.From {
		args = append(args, string(from))
	}

	query := fmt.Sprintf("UPDATE withdrawals SET %s WHERE id = ? AND status IN (%s)",
		strings.Join(sets, ", "), placeholders(len(tr.From)))

	result, err := t.exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to update withdrawal status: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check rows affected: %w", err)
	}
	return n == 1, nil
}

// SetWithdrawalQuote stores the crypto amount for a payout once so retries
// resend the same amount under the same idempotency key.
func (t *txStore) SetWithdrawalQuote(ctx context.Context, id string, cryptoAmount, rate decimal.Decimal) (bool, error) {
	result, err := t.exec(ctx, querySetWithdrawalQuote,
		cryptoAmount.StringFixed(models.CryptoScale), rate.String(), now(), id)
	if err != nil {
		return false, fmt.Errorf("failed to store withdrawal quote: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check rows affected: %w", err)
	}
	return n == 1, nil
}

func (c conn) getWithdrawal(ctx context.Context, query, id string) (*models.Withdrawal, error) {
	w, err := scanWithdrawal(c.queryRow(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: withdrawal %s", store.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get withdrawal: %w", err)
	}
	return w, nil
}

func scanWithdrawal(row scanner) (*models.Withdrawal, error) {
	var w models.Withdrawal
	var amount, fee, status string
	var cryptoAmount, rate sql.NullString
	var completedAt sql.NullTime

	err := row.Scan(&w.Id, &w.UserId, &w.Currency, &amount, &fee, &cryptoAmount, &rate, &status,
		&w.WalletAddress, &w.TxReference, &w.RejectionReason, &w.CreatedAt, &w.UpdatedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	if w.Amount, err = parseDecimal("amount", amount); err != nil {
		return nil, err
	}
	if w.Fee, err = parseDecimal("fee", fee); err != nil {
		return nil, err
	}
	if w.CryptoAmount, err = parseNullDecimal("crypto_amount", cryptoAmount); err != nil {
		return nil, err
	}
	if w.Rate, err = parseNullDecimal("rate", rate); err != nil {
		return nil, err
	}

	w.Status = models.WithdrawalStatus(status)
	w.CompletedAt = timePtr(completedAt)
	return &w, nil
}
