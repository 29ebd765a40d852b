package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"settlement-engine/internal/models"
	"settlement-engine/internal/store"
)

func TestClaimJob_LeaseAndReclaim(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	err := service.EnqueueJob(ctx, models.Job{
		Id: "j1", Type: "deposit.convert", Payload: []byte(`{"deposit_id":"d1"}`), MaxAttempts: 3, RunAt: base,
	})
	if err != nil {
		t.Fatalf("EnqueueJob failed: %v", err)
	}

	// Not due yet
	job, err := service.ClaimJob(ctx, "deposit.convert", base.Add(-time.Second), time.Minute, false)
	if err != nil {
		t.Fatalf("ClaimJob failed: %v", err)
	}
	if job != nil {
		t.Fatalf("Expected no due job before run_at, got %s", job.Id)
	}

	job, err = service.ClaimJob(ctx, "deposit.convert", base, time.Minute, false)
	if err != nil {
		t.Fatalf("ClaimJob failed: %v", err)
	}
	if job == nil || job.Id != "j1" || job.Attempts != 1 {
		t.Fatalf("Expected j1 on its first attempt, got %+v", job)
	}
	if string(job.Payload) != `{"deposit_id":"d1"}` {
		t.Errorf("Unexpected payload %s", job.Payload)
	}

	// Leased
	again, err := service.ClaimJob(ctx, "deposit.convert", base.Add(30*time.Second), time.Minute, false)
	if err != nil {
		t.Fatalf("ClaimJob failed: %v", err)
	}
	if again != nil {
		t.Fatalf("Expected leased job to be invisible, got %s", again.Id)
	}

	// Lease expired, as after a worker crash
	again, err = service.ClaimJob(ctx, "deposit.convert", base.Add(2*time.Minute), time.Minute, false)
	if err != nil {
		t.Fatalf("ClaimJob failed: %v", err)
	}
	if again == nil || again.Attempts != 2 {
		t.Fatalf("Expected expired lease to be reclaimed on attempt 2, got %+v", again)
	}
}

func TestClaimJob_OtherTypesInvisible(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	if err := service.EnqueueJob(ctx, models.Job{Id: "j1", Type: "withdrawal.payout", Payload: []byte(`{}`), MaxAttempts: 1}); err != nil {
		t.Fatalf("EnqueueJob failed: %v", err)
	}

	job, err := service.ClaimJob(ctx, "deposit.convert", time.Now().Add(time.Second), time.Minute, false)
	if err != nil {
		t.Fatalf("ClaimJob failed: %v", err)
	}
	if job != nil {
		t.Errorf("Expected no deposit.convert job, got %s", job.Id)
	}
}

func TestJobLifecycle_RetryCompleteKill(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	start := time.Now().UTC()
	for _, id := range []string{"j1", "j2"} {
		if err := service.EnqueueJob(ctx, models.Job{Id: id, Type: "t", Payload: []byte(`{}`), MaxAttempts: 5, RunAt: start}); err != nil {
			t.Fatalf("EnqueueJob failed: %v", err)
		}
	}

	first, err := service.ClaimJob(ctx, "t", start, time.Minute, false)
	if err != nil || first == nil {
		t.Fatalf("ClaimJob failed: %v", err)
	}
	if err := service.RetryJob(ctx, *first, start.Add(time.Hour), "oracle timeout"); err != nil {
		t.Fatalf("RetryJob failed: %v", err)
	}

	second, err := service.ClaimJob(ctx, "t", start, time.Minute, false)
	if err != nil || second == nil {
		t.Fatalf("ClaimJob failed: %v", err)
	}
	if second.Id == first.Id {
		t.Fatalf("Expected rescheduled job to wait for its run_at")
	}
	if err := service.CompleteJob(ctx, *second); err != nil {
		t.Fatalf("CompleteJob failed: %v", err)
	}

	retried, err := service.ClaimJob(ctx, "t", start.Add(time.Hour), time.Minute, false)
	if err != nil || retried == nil {
		t.Fatalf("ClaimJob failed: %v", err)
	}
	if retried.Id != first.Id || retried.Attempts != 2 || retried.LastError != "oracle timeout" {
		t.Fatalf("Unexpected retried job %+v", retried)
	}
	if err := service.KillJob(ctx, *retried, "gave up"); err != nil {
		t.Fatalf("KillJob failed: %v", err)
	}

	dead, err := service.GetJob(ctx, retried.Id)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if dead.Status != models.JobDead {
		t.Errorf("Expected dead job, got %s", dead.Status)
	}
	done, err := service.GetJob(ctx, second.Id)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if done.Status != models.JobDone {
		t.Errorf("Expected done job, got %s", done.Status)
	}

	none, err := service.ClaimJob(ctx, "t", start.Add(48*time.Hour), time.Minute, false)
	if err != nil {
		t.Fatalf("ClaimJob failed: %v", err)
	}
	if none != nil {
		t.Errorf("Expected no claimable jobs, got %s", none.Id)
	}
}

func TestJobOutcome_FencedAfterReclaim(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := service.EnqueueJob(ctx, models.Job{Id: "j1", Type: "accrual.run", Payload: []byte(`{}`), MaxAttempts: 5, RunAt: base}); err != nil {
		t.Fatalf("EnqueueJob failed: %v", err)
	}

	stale, err := service.ClaimJob(ctx, "accrual.run", base, time.Minute, false)
	if err != nil || stale == nil {
		t.Fatalf("ClaimJob failed: %v", err)
	}

	// Renewing keeps the job invisible past the original lease
	if err := service.ExtendJobLease(ctx, *stale, base.Add(3*time.Minute)); err != nil {
		t.Fatalf("ExtendJobLease failed: %v", err)
	}
	hidden, err := service.ClaimJob(ctx, "accrual.run", base.Add(2*time.Minute), time.Minute, false)
	if err != nil {
		t.Fatalf("ClaimJob failed: %v", err)
	}
	if hidden != nil {
		t.Fatalf("Expected renewed lease to hide the job, got attempt %d", hidden.Attempts)
	}

	current, err := service.ClaimJob(ctx, "accrual.run", base.Add(4*time.Minute), time.Minute, false)
	if err != nil || current == nil {
		t.Fatalf("ClaimJob failed: %v", err)
	}

	// The first worker no longer owns the job
	if err := service.CompleteJob(ctx, *stale); !errors.Is(err, store.ErrLeaseLost) {
		t.Errorf("Expected ErrLeaseLost completing a stale claim, got %v", err)
	}
	if err := service.KillJob(ctx, *stale, "late"); !errors.Is(err, store.ErrLeaseLost) {
		t.Errorf("Expected ErrLeaseLost killing a stale claim, got %v", err)
	}
	if err := service.ExtendJobLease(ctx, *stale, base.Add(time.Hour)); !errors.Is(err, store.ErrLeaseLost) {
		t.Errorf("Expected ErrLeaseLost renewing a stale claim, got %v", err)
	}

	if err := service.CompleteJob(ctx, *current); err != nil {
		t.Fatalf("CompleteJob failed: %v", err)
	}
	if err := service.RetryJob(ctx, *current, base.Add(time.Hour), "twice"); !errors.Is(err, store.ErrLeaseLost) {
		t.Errorf("Expected ErrLeaseLost rescheduling a finished job, got %v", err)
	}

	job, err := service.GetJob(ctx, "j1")
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if job.Status != models.JobDone || job.Attempts != 2 {
		t.Errorf("Expected done on attempt 2, got %s on attempt %d", job.Status, job.Attempts)
	}
}

func TestClaimJob_ExclusiveWaitsForLiveLease(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for _, id := range []string{"run-03-01", "run-03-02"} {
		if err := service.EnqueueJob(ctx, models.Job{Id: id, Type: "accrual.run", Payload: []byte(`{}`), MaxAttempts: 5, RunAt: base}); err != nil {
			t.Fatalf("EnqueueJob failed: %v", err)
		}
	}

	first, err := service.ClaimJob(ctx, "accrual.run", base, time.Minute, true)
	if err != nil || first == nil {
		t.Fatalf("ClaimJob failed: %v", err)
	}

	blocked, err := service.ClaimJob(ctx, "accrual.run", base.Add(time.Second), time.Minute, true)
	if err != nil {
		t.Fatalf("ClaimJob failed: %v", err)
	}
	if blocked != nil {
		t.Fatalf("Expected exclusive claim to wait while %s runs, got %s", first.Id, blocked.Id)
	}

	shared, err := service.ClaimJob(ctx, "accrual.run", base.Add(time.Second), time.Minute, false)
	if err != nil || shared == nil {
		t.Fatalf("Expected a non-exclusive claim to proceed, got %v", err)
	}
	if err := service.RetryJob(ctx, *shared, base, "released"); err != nil {
		t.Fatalf("RetryJob failed: %v", err)
	}

	if err := service.CompleteJob(ctx, *first); err != nil {
		t.Fatalf("CompleteJob failed: %v", err)
	}
	next, err := service.ClaimJob(ctx, "accrual.run", base.Add(2*time.Second), time.Minute, true)
	if err != nil || next == nil {
		t.Fatalf("Expected exclusive claim once the lease is released, got %v", err)
	}
	if next.Id == first.Id {
		t.Errorf("Expected the other run, got %s again", next.Id)
	}
}

func TestEnqueueJob_RollsBackWithTransaction(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	_ = service.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.EnqueueJob(ctx, models.Job{Id: "j1", Type: "t", Payload: []byte(`{}`), MaxAttempts: 1}); err != nil {
			return err
		}
		return store.ErrInvalidState
	})

	if _, err := service.GetJob(ctx, "j1"); err == nil {
		t.Errorf("Expected job to roll back with its transaction")
	}
}
