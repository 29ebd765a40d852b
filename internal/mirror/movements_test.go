package mirror

import (
	"testing"
	"time"

	"settlement-engine/internal/jobs"
	"settlement-engine/internal/ledger"

	"github.com/shopspring/decimal"
)

func TestFormanceAsset(t *testing.T) {
	if got := formanceAsset("INR"); got != "INR/2" {
		t.Errorf("formanceAsset(INR) = %q, want INR/2", got)
	}
}

func TestSmallestUnits(t *testing.T) {
	tests := []struct {
		amount string
		want   string
	}{
		{"50", "5000"},
		{"1050.00", "105000"},
		{"0.01", "1"},
	}
	for _, tt := range tests {
		if got := smallestUnits(decimal.RequireFromString(tt.amount)); got != tt.want {
			t.Errorf("smallestUnits(%s) = %q, want %q", tt.amount, got, tt.want)
		}
	}
}

func TestBuildTransaction(t *testing.T) {
	s := &Service{ledger: "test", asset: "INR/2", fiat: "INR"}
	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	credit, err := s.buildTransaction(ledger.MirrorPayload{
		EntryId: "a1", UserId: "user1", Delta: "2000.00", Action: "deposit.credited", OccurredAt: at,
	})
	if err != nil {
		t.Fatalf("buildTransaction failed: %v", err)
	}
	if credit.Script.Plain != numscriptCredit {
		t.Errorf("Expected credit script for a positive delta")
	}
	if *credit.Reference != "a1" || credit.Script.Vars["amount"] != "200000" {
		t.Errorf("Unexpected credit %q amount=%q", *credit.Reference, credit.Script.Vars["amount"])
	}
	if credit.Timestamp == nil || !credit.Timestamp.Equal(at) {
		t.Errorf("Expected timestamp to carry the movement time")
	}

	debit, err := s.buildTransaction(ledger.MirrorPayload{EntryId: "a2", UserId: "user1", Delta: "-1050.00"})
	if err != nil {
		t.Fatalf("buildTransaction failed: %v", err)
	}
	if debit.Script.Plain != numscriptDebit || debit.Script.Vars["amount"] != "105000" {
		t.Errorf("Expected debit of 105000 smallest units, got %q", debit.Script.Vars["amount"])
	}

	if _, err := s.buildTransaction(ledger.MirrorPayload{EntryId: "a3", Delta: "abc"}); !jobs.IsPermanent(err) {
		t.Errorf("Expected malformed delta to be permanent, got %v", err)
	}
}
