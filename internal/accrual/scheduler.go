package accrual

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"settlement-engine/internal/jobs"
	"settlement-engine/internal/models"

	"go.uber.org/zap"
)

const runTimeout = 30 * time.Minute

// ErrRanElsewhere is returned by RunNow when another worker processed the run
var ErrRanElsewhere = errors.New("accrual run was processed by another worker")

// RunOptions registers JobRun so that a single sweep runs at a time across
// every dispatcher sharing the store.
func RunOptions() jobs.Options {
	return jobs.Options{Concurrency: 1, Timeout: runTimeout, Exclusive: true}
}

// RunHandler executes JobRun. A run with failed investments is retried;
// investments already credited for the date are skipped on the retry.
// Observers receive the result of every completed sweep.
func (e *Engine) RunHandler(observers ...func(Result)) jobs.Handler {
	return jobs.Funcs{
		OnHandle: func(ctx context.Context, job models.Job) error {
			payload, err := jobs.Decode[RunPayload](job)
			if err != nil {
				return err
			}
			if _, err := ParseDate(payload.Date); err != nil {
				return jobs.Permanent(err)
			}

			result, err := e.RunAccrual(ctx, payload.Date)
			if err != nil {
				return err
			}
			for _, observe := range observers {
				observe(result)
			}
			if result.Failed > 0 {
				return fmt.Errorf("accrual for %s failed on %d of %d investments", payload.Date, result.Failed, result.Eligible)
			}
			return nil
		},
	}
}

// RunNow enqueues a run for date and processes it on d under the same
// exclusive lease as scheduled runs, waiting while another sweep holds it.
// Failed investments stay queued for retry by the job.
func (e *Engine) RunNow(ctx context.Context, d *jobs.Dispatcher, date string, poll time.Duration) (Result, error) {
	trigger, err := e.Trigger(ctx, date)
	if err != nil {
		return Result{}, err
	}

	var (
		mu     sync.Mutex
		result *Result
	)
	d.Register(JobRun, e.RunHandler(func(r Result) {
		if r.Date != date {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		result = &r
	}), RunOptions())

	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		if _, err := d.RunOnce(ctx, JobRun); err != nil {
			return Result{}, err
		}

		mu.Lock()
		done := result
		mu.Unlock()
		if done != nil {
			return *done, nil
		}

		job, err := e.store.GetJob(ctx, trigger.JobId)
		if err != nil {
			return Result{}, err
		}
		switch job.Status {
		case models.JobDone:
			return Result{}, fmt.Errorf("%w: job %s", ErrRanElsewhere, job.Id)
		case models.JobDead:
			return Result{}, fmt.Errorf("accrual job %s failed: %s", job.Id, job.LastError)
		}

		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Scheduler enqueues one accrual run per UTC day once the configured hour has passed
type Scheduler struct {
	engine   *Engine
	runHour  int
	interval time.Duration
	now      func() time.Time

	lastDate string
	started  atomic.Bool
	stopChan chan struct{}
	doneChan chan struct{}
	stopOnce sync.Once
}

func NewScheduler(engine *Engine, cfg models.AccrualConfig) *Scheduler {
	interval := cfg.CheckInterval
	if interval <= 0 {
		interval = time.Minute
	}
	runHour := cfg.RunHourUTC
	if runHour < 0 || runHour > 23 {
		runHour = 0
	}
	return &Scheduler{
		engine:   engine,
		runHour:  runHour,
		interval: interval,
		now:      func() time.Time { return time.Now().UTC() },
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	zap.L().Info("Starting accrual scheduler",
		zap.Int("run_hour_utc", s.runHour),
		zap.Duration("check_interval", s.interval))
	go s.loop(ctx)
}

func (s *Scheduler) Stop() {
	if !s.started.Load() {
		return
	}
	s.stopOnce.Do(func() {
		close(s.stopChan)
		<-s.doneChan
		zap.L().Info("Accrual scheduler stopped")
	})
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.doneChan)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick(ctx)

	for {
		select {
		case <-ticker.C:
			s.tick(ctx)
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// tick enqueues today's run if it is due and not yet enqueued by this process
func (s *Scheduler) tick(ctx context.Context) {
	date, due := s.due(s.now())
	if !due {
		return
	}

	if _, err := s.engine.Trigger(ctx, date); err != nil {
		zap.L().Error("Unable to schedule accrual run", zap.String("date", date), zap.Error(err))
		return
	}
	s.lastDate = date
}

func (s *Scheduler) due(now time.Time) (string, bool) {
	date := now.Format(DateLayout)
	if date == s.lastDate || now.Hour() < s.runHour {
		return date, false
	}
	return date, true
}
