package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"settlement-engine/internal/models"
	"settlement-engine/internal/store"
)

func (s *Service) EnqueueJob(ctx context.Context, job models.Job) error {
	return s.conn.enqueueJob(ctx, job)
}

// EnqueueJob writes the job in the caller's transaction so it commits
// together with the state change that produced it.
func (t *txStore) EnqueueJob(ctx context.Context, job models.Job) error {
	return t.conn.enqueueJob(ctx, job)
}

func (c conn) enqueueJob(ctx context.Context, job models.Job) error {
	if job.Id == "" || job.Type == "" {
		return fmt.Errorf("%w: job id and type are required", store.ErrInternal)
	}
	ts := now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = ts
	}
	if job.RunAt.IsZero() {
		job.RunAt = ts
	}

	_, err := c.exec(ctx, queryInsertJob,
		job.Id, job.Type, string(job.Payload), job.MaxAttempts, job.RunAt.UnixMilli(), job.CreatedAt, ts)
	if err != nil {
		return fmt.Errorf("failed to enqueue %s job: %w", job.Type, err)
	}
	return nil
}

// ClaimJob leases the next due job of the given type. Jobs whose lease has
// expired are claimable again, which gives at-least-once execution after a
// worker crash. An exclusive claim returns nothing while another job of the
// type holds a live lease. It returns nil when nothing is due.
func (s *Service) ClaimJob(ctx context.Context, jobType string, at time.Time, lease time.Duration, exclusive bool) (*models.Job, error) {
	var claimed *models.Job
	err := s.inTx(ctx, func(t *txStore) error {
		nowMs := at.UnixMilli()

		if exclusive {
			busy, err := t.typeLeased(ctx, jobType, nowMs)
			if err != nil {
				return err
			}
			if busy {
				return nil
			}
		}

		job, err := scanJob(t.queryRow(ctx, queryNextDueJob+t.d.skipLocked(), jobType, nowMs, nowMs))
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to select due job: %w", err)
		}

		result, err := t.exec(ctx, queryClaimJob, at.Add(lease).UnixMilli(), now(), job.Id, job.Attempts)
		if err != nil {
			return fmt.Errorf("failed to claim job: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to check rows affected: %w", err)
		}
		if n == 0 {
			return nil
		}

		job.Attempts++
		job.Status = models.JobRunning
		claimed = job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// typeLeased reports whether a job of jobType is running under a live lease
func (t *txStore) typeLeased(ctx context.Context, jobType string, nowMs int64) (bool, error) {
	if lock := t.d.lockJobType(); lock != "" {
		if _, err := t.exec(ctx, lock, jobType); err != nil {
			return false, fmt.Errorf("failed to lock job type %s: %w", jobType, err)
		}
	}

	var running int
	if err := t.queryRow(ctx, queryCountLeasedJobs, jobType, nowMs).Scan(&running); err != nil {
		return false, fmt.Errorf("failed to count running %s jobs: %w", jobType, err)
	}
	return running > 0, nil
}

func (s *Service) ExtendJobLease(ctx context.Context, job models.Job, until time.Time) error {
	return s.fenced(ctx, "extend lease of", job, queryExtendJobLease, until.UnixMilli(), now())
}

func (s *Service) CompleteJob(ctx context.Context, job models.Job) error {
	return s.fenced(ctx, "complete", job, queryCompleteJob, now())
}

func (s *Service) RetryJob(ctx context.Context, job models.Job, runAt time.Time, lastErr string) error {
	return s.fenced(ctx, "reschedule", job, queryRetryJob, runAt.UnixMilli(), lastErr, now())
}

func (s *Service) KillJob(ctx context.Context, job models.Job, lastErr string) error {
	return s.fenced(ctx, "mark dead", job, queryKillJob, lastErr, now())
}

// fenced runs an update that only applies while job's claim is current. The
// job id and attempt number are appended to args.
func (s *Service) fenced(ctx context.Context, action string, job models.Job, query string, args ...any) error {
	args = append(args, job.Id, job.Attempts)
	result, err := s.exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s job %s: %w", action, job.Id, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: job %s attempt %d", store.ErrLeaseLost, job.Id, job.Attempts)
	}
	return nil
}

func (s *Service) GetJob(ctx context.Context, id string) (*models.Job, error) {
	job, err := scanJob(s.queryRow(ctx, queryGetJob, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: job %s", store.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

func scanJob(row scanner) (*models.Job, error) {
	var job models.Job
	var payload, status string
	var runAt int64

	err := row.Scan(&job.Id, &job.Type, &payload, &status, &job.Attempts, &job.MaxAttempts,
		&runAt, &job.LastError, &job.CreatedAt)
	if err != nil {
		return nil, err
	}

	job.Payload = []byte(payload)
	job.Status = models.JobStatus(status)
	job.RunAt = time.UnixMilli(runAt).UTC()
	return &job, nil
}
