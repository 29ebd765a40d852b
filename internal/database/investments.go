package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"settlement-engine/internal/models"
	"settlement-engine/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CreatePlan stores an investment plan. Plans are owned by the product
// catalogue; the engine only reads them.
func (s *Service) CreatePlan(ctx context.Context, plan *models.InvestmentPlan) error {
	if plan.Id == "" {
		plan.Id = uuid.New().String()
	}
	_, err := s.exec(ctx, queryInsertPlan, plan.Id, plan.Name, plan.DailyRatePercent.String(), plan.DurationDays)
	if err != nil {
		return fmt.Errorf("failed to insert plan: %w", err)
	}
	return nil
}

// CreateInvestment stores an investment placed by the investment service
func (s *Service) CreateInvestment(ctx context.Context, inv *models.Investment) error {
	if inv.Id == "" {
		inv.Id = uuid.New().String()
	}
	ts := now()
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = ts
	}
	_, err := s.exec(ctx, queryInsertInvestment,
		inv.Id, inv.UserId, inv.PlanId, inv.Amount.StringFixed(models.FiatScale), inv.StartDate, inv.EndDate,
		inv.TotalInterestEarned.StringFixed(models.FiatScale), inv.IsActive, inv.CreatedAt, ts)
	if err != nil {
		return fmt.Errorf("failed to insert investment: %w", err)
	}
	return nil
}

func (s *Service) GetInvestment(ctx context.Context, id string) (*models.Investment, error) {
	inv, err := scanInvestment(s.queryRow(ctx, queryGetInvestment, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: investment %s", store.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get investment: %w", err)
	}
	return inv, nil
}

func (s *Service) GetPlan(ctx context.Context, id string) (*models.InvestmentPlan, error) {
	var plan models.InvestmentPlan
	var rate string
	err := s.queryRow(ctx, queryGetPlan, id).Scan(&plan.Id, &plan.Name, &rate, &plan.DurationDays)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: plan %s", store.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get plan: %w", err)
	}

	if plan.DailyRatePercent, err = parseDecimal("daily_rate_percent", rate); err != nil {
		return nil, err
	}
	return &plan, nil
}

// FindAccruableInvestments returns investments whose term covers date
// (start_date <= date < end_date).
func (s *Service) FindAccruableInvestments(ctx context.Context, date string) ([]models.Investment, error) {
	rows, err := s.query(ctx, queryFindAccruableInvestments, date, date, true)
	if err != nil {
		return nil, fmt.Errorf("failed to find investments: %w", err)
	}
	defer closeRows(rows)

	var investments []models.Investment
	for rows.Next() {
		inv, err := scanInvestment(rows)
		if err != nil {
			return nil, err
		}
		investments = append(investments, *inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating investment rows: %w", err)
	}

	return investments, nil
}

// MarkMaturedInvestments flags investments whose term ended on or before date
func (s *Service) MarkMaturedInvestments(ctx context.Context, date string) (int64, error) {
	result, err := s.exec(ctx, queryMarkMaturedInvestments, false, now(), true, date)
	if err != nil {
		return 0, fmt.Errorf("failed to mark matured investments: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n > 0 {
		zap.L().Info("Investments matured", zap.String("date", date), zap.Int64("count", n))
	}
	return n, nil
}

func (s *Service) HasAccrual(ctx context.Context, investmentId, date string) (bool, error) {
	var count int
	if err := s.queryRow(ctx, queryHasAccrual, investmentId, date).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check accrual: %w", err)
	}
	return count > 0, nil
}

func (s *Service) ListAccruals(ctx context.Context, investmentId string) ([]models.InterestAccrual, error) {
	rows, err := s.query(ctx, queryListAccruals, investmentId)
	if err != nil {
		return nil, fmt.Errorf("failed to list accruals: %w", err)
	}
	defer closeRows(rows)

	var accruals []models.InterestAccrual
	for rows.Next() {
		var a models.InterestAccrual
		var amount, rate string
		if err := rows.Scan(&a.Id, &a.InvestmentId, &a.UserId, &a.AccrualDate, &amount, &rate, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan accrual: %w", err)
		}
		if a.Amount, err = parseDecimal("amount", amount); err != nil {
			return nil, err
		}
		if a.RatePercent, err = parseDecimal("rate_percent", rate); err != nil {
			return nil, err
		}
		accruals = append(accruals, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating accrual rows: %w", err)
	}

	return accruals, nil
}

// InsertAccrual records a day of interest. A second accrual for the same
// investment and date fails with ErrDuplicate.
func (t *txStore) InsertAccrual(ctx context.Context, a *models.InterestAccrual) error {
	if a.Id == "" {
		a.Id = uuid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now()
	}

	_, err := t.exec(ctx, queryInsertAccrual,
		a.Id, a.InvestmentId, a.UserId, a.AccrualDate, a.Amount.StringFixed(models.FiatScale),
		a.RatePercent.String(), a.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: accrual for investment %s on %s", store.ErrDuplicate, a.InvestmentId, a.AccrualDate)
		}
		return fmt.Errorf("failed to insert accrual: %w", err)
	}
	return nil
}

func (t *txStore) AddInterestEarned(ctx context.Context, investmentId string, amount decimal.Decimal) error {
	var earnedStr string
	err := t.queryRow(ctx, queryGetInterestEarned+t.d.forUpdate(), investmentId).Scan(&earnedStr)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: investment %s", store.ErrNotFound, investmentId)
	}
	if err != nil {
		return fmt.Errorf("failed to get interest earned: %w", err)
	}

	earned, err := parseDecimal("total_interest_earned", earnedStr)
	if err != nil {
		return err
	}

	total := earned.Add(amount)
	if _, err := t.exec(ctx, queryUpdateInterestEarned, total.StringFixed(models.FiatScale), now(), investmentId); err != nil {
		return fmt.Errorf("failed to update interest earned: %w", err)
	}
	return nil
}

func scanInvestment(row scanner) (*models.Investment, error) {
	var inv models.Investment
	var amount, earned string
	var maturedAt sql.NullString

	err := row.Scan(&inv.Id, &inv.UserId, &inv.PlanId, &amount, &inv.StartDate, &inv.EndDate,
		&earned, &inv.IsActive, &maturedAt, &inv.CreatedAt)
	if err != nil {
		return nil, err
	}

	if inv.Amount, err = parseDecimal("amount", amount); err != nil {
		return nil, err
	}
	if inv.TotalInterestEarned, err = parseDecimal("total_interest_earned", earned); err != nil {
		return nil, err
	}
	inv.MaturedAt = maturedAt.String
	return &inv, nil
}
