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
	"go.uber.org/zap"
)

func (s *Service) GetDeposit(ctx context.Context, id string) (*models.Deposit, error) {
	return s.getDeposit(ctx, queryGetDeposit, id)
}

// FindDepositByProviderRef looks up the deposit created for a provider charge
func (s *Service) FindDepositByProviderRef(ctx context.Context, providerRef string) (*models.Deposit, error) {
	return s.getDeposit(ctx, queryGetDepositByProviderRef, providerRef)
}

func (s *Service) ListDeposits(ctx context.Context, userId string, limit, offset int) ([]models.Deposit, error) {
	rows, err := s.query(ctx, queryListDeposits, userId, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list deposits: %w", err)
	}
	defer closeRows(rows)

	var deposits []models.Deposit
	for rows.Next() {
		deposit, err := scanDeposit(rows)
		if err != nil {
			return nil, err
		}
		deposits = append(deposits, *deposit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating deposit rows: %w", err)
	}

	return deposits, nil
}

func (t *txStore) InsertDeposit(ctx context.Context, d *models.Deposit) error {
	_, err := t.exec(ctx, queryInsertDeposit,
		d.Id, d.UserId, d.Currency, d.CryptoAmount.StringFixed(models.CryptoScale), string(d.Status),
		d.ProviderRef, d.PaymentURL, d.PaymentURI, nullTimeValue(d.ExpiresAt), d.ProviderResolved,
		d.CreatedAt, d.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: deposit for provider reference %s", store.ErrDuplicate, d.ProviderRef)
		}
		return fmt.Errorf("failed to insert deposit: %w", err)
	}

	zap.L().Debug("Deposit stored",
		zap.String("deposit_id", d.Id),
		zap.String("provider_ref", d.ProviderRef))
	return nil
}

// GetDeposit reads the deposit inside the transaction, locking the row on Postgres
func (t *txStore) GetDeposit(ctx context.Context, id string) (*models.Deposit, error) {
	return t.getDeposit(ctx, queryGetDeposit+t.d.forUpdate(), id)
}

// UpdateDepositStatus applies a conditional status transition. It returns
// false when the deposit was not in one of the expected states.
func (t *txStore) UpdateDepositStatus(ctx context.Context, tr store.DepositTransition) (bool, error) {
	if len(tr.From) == 0 {
		return false, fmt.Errorf("%w: transition for deposit %s has no source states", store.ErrInternal, tr.Id)
	}

	ts := now()
	sets := []string{"status = ?", "updated_at = ?"}
	args := []any{string(tr.To), ts}
	if tr.FailureReason != "" {
		sets = append(sets, "failure_reason = ?")
		args = append(args, tr.FailureReason)
	}
	if tr.MarkResolved {
		sets = append(sets, "provider_resolved = ?")
		args = append(args, true)
	}
	if tr.To == models.DepositCompleted {
		sets = append(sets, "completed_at = ?")
		args = append(args, ts)
	}

	args = append(args, tr.Id)
	for _, from := range tr.From {
		args = append(args, string(from))
	}

	query := fmt.Sprintf("UPDATE deposits SET %s WHERE id = ? AND status IN (%s)",
		strings.Join(sets, ", "), placeholders(len(tr.From)))

	result, err := t.exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to update deposit status: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check rows affected: %w", err)
	}
	return n == 1, nil
}

// SetDepositConversion stores the fiat amount and rate once. A deposit that
// already carries a conversion is left untouched and false is returned.
func (t *txStore) SetDepositConversion(ctx context.Context, id string, fiatAmount, rate decimal.Decimal) (bool, error) {
	result, err := t.exec(ctx, querySetDepositConversion,
		fiatAmount.StringFixed(models.FiatScale), rate.String(), now(), id)
	if err != nil {
		return false, fmt.Errorf("failed to store deposit conversion: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check rows affected: %w", err)
	}
	return n == 1, nil
}

func (c conn) getDeposit(ctx context.Context, query, arg string) (*models.Deposit, error) {
	deposit, err := scanDeposit(c.queryRow(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: deposit %s", store.ErrNotFound, arg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get deposit: %w", err)
	}
	return deposit, nil
}

func scanDeposit(row scanner) (*models.Deposit, error) {
	var d models.Deposit
	var cryptoAmount, status string
	var fiatAmount, rate sql.NullString
	var expiresAt, completedAt sql.NullTime

	err := row.Scan(&d.Id, &d.UserId, &d.Currency, &cryptoAmount, &fiatAmount, &rate, &status,
		&d.ProviderRef, &d.PaymentURL, &d.PaymentURI, &expiresAt, &d.ProviderResolved,
		&d.FailureReason, &d.CreatedAt, &d.UpdatedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	if d.CryptoAmount, err = parseDecimal("crypto_amount", cryptoAmount); err != nil {
		return nil, err
	}
	if d.FiatAmount, err = parseNullDecimal("fiat_amount", fiatAmount); err != nil {
		return nil, err
	}
	if d.Rate, err = parseNullDecimal("rate", rate); err != nil {
		return nil, err
	}

	d.Status = models.DepositStatus(status)
	d.ExpiresAt = timePtr(expiresAt)
	d.CompletedAt = timePtr(completedAt)
	return &d, nil
}
