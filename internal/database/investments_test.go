package database

import (
	"context"
	"errors"
	"testing"

	"settlement-engine/internal/models"
	"settlement-engine/internal/store"

	"github.com/shopspring/decimal"
)

func seedInvestment(t *testing.T, service *Service, id, start, end string) {
	t.Helper()
	ctx := context.Background()
	if _, err := service.GetPlan(ctx, "plan1"); errors.Is(err, store.ErrNotFound) {
		if err := service.CreatePlan(ctx, &models.InvestmentPlan{
			Id: "plan1", Name: "Daily 0.5", DailyRatePercent: decimal.RequireFromString("0.5"), DurationDays: 30,
		}); err != nil {
			t.Fatalf("CreatePlan failed: %v", err)
		}
	}
	if err := service.CreateInvestment(ctx, &models.Investment{
		Id: id, UserId: "user1", PlanId: "plan1", Amount: decimal.RequireFromString("10000"),
		StartDate: start, EndDate: end, IsActive: true,
	}); err != nil {
		t.Fatalf("CreateInvestment failed: %v", err)
	}
}

func TestFindAccruableInvestments_TermBounds(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	seedInvestment(t, service, "inv1", "2026-03-01", "2026-03-31")
	seedInvestment(t, service, "inv2", "2026-03-10", "2026-04-09")

	cases := []struct {
		date string
		want int
	}{
		{"2026-02-28", 0},
		{"2026-03-01", 1},
		{"2026-03-10", 2},
		{"2026-03-30", 2},
		{"2026-03-31", 1}, // end date is exclusive
		{"2026-04-09", 0},
	}

	for _, tc := range cases {
		got, err := service.FindAccruableInvestments(context.Background(), tc.date)
		if err != nil {
			t.Fatalf("FindAccruableInvestments(%s) failed: %v", tc.date, err)
		}
		if len(got) != tc.want {
			t.Errorf("On %s expected %d investments, got %d", tc.date, tc.want, len(got))
		}
	}
}

func TestMarkMaturedInvestments_StillBackfillable(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	seedInvestment(t, service, "inv1", "2026-03-01", "2026-03-31")

	n, err := service.MarkMaturedInvestments(ctx, "2026-03-31")
	if err != nil {
		t.Fatalf("MarkMaturedInvestments failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("Expected 1 matured investment, got %d", n)
	}

	inv, err := service.GetInvestment(ctx, "inv1")
	if err != nil {
		t.Fatalf("GetInvestment failed: %v", err)
	}
	if inv.IsActive || inv.MaturedAt != "2026-03-31" {
		t.Errorf("Expected inactive investment matured on 2026-03-31, got active=%v matured=%q", inv.IsActive, inv.MaturedAt)
	}

	got, err := service.FindAccruableInvestments(ctx, "2026-03-15")
	if err != nil {
		t.Fatalf("FindAccruableInvestments failed: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("Expected matured investment to remain accruable inside its term, got %d", len(got))
	}
}

func TestInsertAccrual_UniquePerDay(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	seedInvestment(t, service, "inv1", "2026-03-01", "2026-03-31")

	insert := func() error {
		return service.WithTx(ctx, func(tx store.Tx) error {
			if err := tx.InsertAccrual(ctx, &models.InterestAccrual{
				InvestmentId: "inv1", UserId: "user1", AccrualDate: "2026-03-05",
				Amount: decimal.RequireFromString("50"), RatePercent: decimal.RequireFromString("0.5"),
			}); err != nil {
				return err
			}
			return tx.AddInterestEarned(ctx, "inv1", decimal.RequireFromString("50"))
		})
	}

	if err := insert(); err != nil {
		t.Fatalf("First accrual failed: %v", err)
	}
	if err := insert(); !errors.Is(err, store.ErrDuplicate) {
		t.Fatalf("Expected ErrDuplicate on second accrual, got %v", err)
	}

	has, err := service.HasAccrual(ctx, "inv1", "2026-03-05")
	if err != nil || !has {
		t.Fatalf("Expected accrual to exist, has=%v err=%v", has, err)
	}

	accruals, err := service.ListAccruals(ctx, "inv1")
	if err != nil {
		t.Fatalf("ListAccruals failed: %v", err)
	}
	if len(accruals) != 1 {
		t.Errorf("Expected 1 accrual, got %d", len(accruals))
	}

	inv, err := service.GetInvestment(ctx, "inv1")
	if err != nil {
		t.Fatalf("GetInvestment failed: %v", err)
	}
	if !inv.TotalInterestEarned.Equal(decimal.RequireFromString("50")) {
		t.Errorf("Expected total interest 50, got %s", inv.TotalInterestEarned.String())
	}
}

func TestAuditEntries_ReplayAndMetadata(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	entries := []models.AuditEntry{
		{Id: "a1", UserId: "user1", Actor: "system", Action: "deposit.credited", EntityType: "deposit", EntityId: "d1",
			Delta: decimal.NewNullDecimal(decimal.RequireFromString("2000")), BalanceAfter: decimal.NewNullDecimal(decimal.RequireFromString("2000")),
			Metadata: map[string]any{"rate": "5000000"}},
		{Id: "a2", UserId: "user1", Actor: "user1", Action: "withdrawal.reserved", EntityType: "withdrawal", EntityId: "w1",
			Delta: decimal.NewNullDecimal(decimal.RequireFromString("-1050")), BalanceAfter: decimal.NewNullDecimal(decimal.RequireFromString("950")),
			IPAddress: "203.0.113.7", UserAgent: "curl/8"},
		{Id: "a3", UserId: "user1", Actor: "admin:ops1", Action: "withdrawal.approved", EntityType: "withdrawal", EntityId: "w1"},
	}

	err := service.WithTx(ctx, func(tx store.Tx) error {
		for _, e := range entries {
			e.CreatedAt = now()
			if err := tx.InsertAuditEntry(ctx, e); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("InsertAuditEntry failed: %v", err)
	}

	sum, err := service.SumAuditDeltas(ctx, "user1")
	if err != nil {
		t.Fatalf("SumAuditDeltas failed: %v", err)
	}
	if !sum.Equal(decimal.RequireFromString("950")) {
		t.Errorf("Expected replayed balance 950, got %s", sum.String())
	}

	forWithdrawal, err := service.ListAuditEntriesForEntity(ctx, "withdrawal", "w1")
	if err != nil {
		t.Fatalf("ListAuditEntriesForEntity failed: %v", err)
	}
	if len(forWithdrawal) != 2 {
		t.Fatalf("Expected 2 withdrawal entries, got %d", len(forWithdrawal))
	}

	all, err := service.ListAuditEntries(ctx, "user1")
	if err != nil {
		t.Fatalf("ListAuditEntries failed: %v", err)
	}
	for _, e := range all {
		switch e.Id {
		case "a1":
			if e.Metadata["rate"] != "5000000" {
				t.Errorf("Expected metadata to round trip, got %v", e.Metadata)
			}
		case "a2":
			if e.IPAddress != "203.0.113.7" || e.UserAgent != "curl/8" {
				t.Errorf("Expected network metadata, got %q %q", e.IPAddress, e.UserAgent)
			}
		case "a3":
			if e.Delta.Valid {
				t.Errorf("Expected status-only entry to carry no delta")
			}
		}
	}
}
