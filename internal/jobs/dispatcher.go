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

package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"settlement-engine/internal/metrics"
	"settlement-engine/internal/models"
	"settlement-engine/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Handler executes jobs of one type. Handle may run more than once for the
// same job and must be idempotent. Exhausted runs once the job will not be
// retried again so the owning entity can move to its failure state.
type Handler interface {
	Handle(ctx context.Context, job models.Job) error
	Exhausted(ctx context.Context, job models.Job, cause error) error
}

// Funcs adapts plain functions to Handler. A nil OnExhausted only logs.
type Funcs struct {
	OnHandle    func(ctx context.Context, job models.Job) error
	OnExhausted func(ctx context.Context, job models.Job, cause error) error
}

func (f Funcs) Handle(ctx context.Context, job models.Job) error {
	return f.OnHandle(ctx, job)
}

func (f Funcs) Exhausted(ctx context.Context, job models.Job, cause error) error {
	if f.OnExhausted == nil {
		zap.L().Error("Job exhausted its retries",
			zap.String("job_id", job.Id),
			zap.String("job_type", job.Type),
			zap.Error(cause))
		return nil
	}
	return f.OnExhausted(ctx, job, cause)
}

// Options configures one job type. Zero values fall back to Config defaults.
// An Exclusive type runs at most one job at a time across every dispatcher
// sharing the store.
type Options struct {
	Concurrency int
	MaxAttempts int
	Timeout     time.Duration
	Exclusive   bool
}

// Config holds dispatcher defaults. A job type's lease is Lease, raised to
// its handler Timeout plus LeaseMargin when the handler may run longer.
type Config struct {
	PollInterval       time.Duration
	Lease              time.Duration
	LeaseMargin        time.Duration
	BaseBackoff        time.Duration
	MaxBackoff         time.Duration
	DefaultMaxAttempts int
	DefaultTimeout     time.Duration
}

// ConfigFrom maps the env-driven jobs settings onto a dispatcher Config.
func ConfigFrom(cfg models.JobsConfig) Config {
	return Config{
		PollInterval:       cfg.PollInterval,
		Lease:              cfg.Lease,
		BaseBackoff:        cfg.BaseBackoff,
		MaxBackoff:         cfg.MaxBackoff,
		DefaultMaxAttempts: cfg.MaxAttempts,
		DefaultTimeout:     cfg.HandlerTimeout,
	}
}

type registration struct {
	handler Handler
	opts    Options
	lease   time.Duration
}

// Dispatcher runs durable jobs stored in the database with leases, retries
// and exponential backoff. Its lifecycle is owned by the caller.
type Dispatcher struct {
	store    store.Store
	cfg      Config
	handlers map[string]registration
	now      func() time.Time

	mu       sync.Mutex
	started  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

func NewDispatcher(s store.Store, cfg Config) *Dispatcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.Lease <= 0 {
		cfg.Lease = 2 * time.Minute
	}
	if cfg.LeaseMargin <= 0 {
		cfg.LeaseMargin = 30 * time.Second
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 5 * time.Second
	}
	if cfg.MaxBackoff < cfg.BaseBackoff {
		cfg.MaxBackoff = 10 * time.Minute
	}
	if cfg.DefaultMaxAttempts <= 0 {
		cfg.DefaultMaxAttempts = 8
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 30 * time.Second
	}

	return &Dispatcher{
		store:    s,
		cfg:      cfg,
		handlers: make(map[string]registration),
		now:      func() time.Time { return time.Now().UTC() },
		stopChan: make(chan struct{}),
	}
}

// Register binds a handler to a job type. It must be called before Start.
func (d *Dispatcher) Register(jobType string, h Handler, opts Options) {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = d.cfg.DefaultMaxAttempts
	}
	if opts.Timeout <= 0 {
		opts.Timeout = d.cfg.DefaultTimeout
	}

	lease := d.cfg.Lease
	if lease < opts.Timeout+d.cfg.LeaseMargin {
		lease = opts.Timeout + d.cfg.LeaseMargin
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[jobType] = registration{handler: h, opts: opts, lease: lease}
}

// Enqueue stores a job outside any transaction
func (d *Dispatcher) Enqueue(ctx context.Context, jobType string, payload any) (string, error) {
	job, err := d.newJob(jobType, payload)
	if err != nil {
		return "", err
	}
	if err := d.store.EnqueueJob(ctx, job); err != nil {
		return "", err
	}
	zap.L().Debug("Job enqueued", zap.String("job_id", job.Id), zap.String("job_type", jobType))
	return job.Id, nil
}

// EnqueueTx stores a job in tx so it exists only if tx commits
func (d *Dispatcher) EnqueueTx(ctx context.Context, tx store.Tx, jobType string, payload any) (string, error) {
	job, err := d.newJob(jobType, payload)
	if err != nil {
		return "", err
	}
	if err := tx.EnqueueJob(ctx, job); err != nil {
		return "", err
	}
	return job.Id, nil
}

func (d *Dispatcher) newJob(jobType string, payload any) (models.Job, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return models.Job{}, fmt.Errorf("%w: unable to encode %s payload: %v", store.ErrInternal, jobType, err)
	}

	maxAttempts := d.cfg.DefaultMaxAttempts
	d.mu.Lock()
	if reg, ok := d.handlers[jobType]; ok {
		maxAttempts = reg.opts.MaxAttempts
	}
	d.mu.Unlock()

	return models.Job{
		Id:          uuid.New().String(),
		Type:        jobType,
		Payload:     raw,
		MaxAttempts: maxAttempts,
		RunAt:       d.now(),
	}, nil
}

// Start launches the configured number of workers for every registered type
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return
	}
	d.started = true

	for jobType, reg := range d.handlers {
		zap.L().Info("Starting job workers",
			zap.String("job_type", jobType),
			zap.Int("concurrency", reg.opts.Concurrency),
			zap.Int("max_attempts", reg.opts.MaxAttempts),
			zap.Duration("lease", reg.lease),
			zap.Bool("exclusive", reg.opts.Exclusive))
		for i := 0; i < reg.opts.Concurrency; i++ {
			d.wg.Add(1)
			go d.worker(ctx, jobType)
		}
	}
}

// Stop signals the workers and waits for in-flight jobs to finish
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return
	}
	d.started = false
	close(d.stopChan)
	d.mu.Unlock()

	d.wg.Wait()
	zap.L().Info("Job dispatcher stopped")
}

func (d *Dispatcher) worker(ctx context.Context, jobType string) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		// Drain everything that is due before sleeping again
		for {
			if d.stopping(ctx) {
				return
			}
			processed, err := d.RunOnce(ctx, jobType)
			if err != nil {
				zap.L().Error("Job worker error", zap.String("job_type", jobType), zap.Error(err))
				break
			}
			if !processed {
				break
			}
		}

		select {
		case <-ticker.C:
		case <-d.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (d *Dispatcher) stopping(ctx context.Context) bool {
	select {
	case <-d.stopChan:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// RunOnce claims and processes at most one due job of jobType. It reports
// whether a job was processed. Handler failures are recorded on the job and
// are not returned.
func (d *Dispatcher) RunOnce(ctx context.Context, jobType string) (bool, error) {
	d.mu.Lock()
	reg, ok := d.handlers[jobType]
	d.mu.Unlock()
	if !ok {
		return false, fmt.Errorf("no handler registered for job type %q", jobType)
	}

	job, err := d.store.ClaimJob(ctx, jobType, d.now(), reg.lease, reg.opts.Exclusive)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}

	leaseCtx, release := d.holdLease(ctx, reg, *job)
	defer release()

	start := time.Now()
	handleErr := d.invoke(leaseCtx, reg, *job)
	metrics.JobDuration.WithLabelValues(jobType).Observe(time.Since(start).Seconds())

	// Another worker owns the job now and will record the outcome
	if cause := context.Cause(leaseCtx); errors.Is(cause, store.ErrLeaseLost) {
		return true, d.leaseLost(*job, cause)
	}

	if handleErr == nil {
		if err := d.store.CompleteJob(ctx, *job); err != nil {
			return true, d.leaseLost(*job, err)
		}
		metrics.JobsProcessed.WithLabelValues(jobType, metrics.OutcomeSucceeded).Inc()
		zap.L().Debug("Job completed", zap.String("job_id", job.Id), zap.String("job_type", jobType))
		return true, nil
	}

	if IsPermanent(handleErr) || job.Attempts >= job.MaxAttempts {
		return true, d.exhaust(ctx, leaseCtx, reg, *job, handleErr)
	}

	runAt := d.now().Add(d.backoff(job.Attempts))
	zap.L().Warn("Job failed, scheduling retry",
		zap.String("job_id", job.Id),
		zap.String("job_type", jobType),
		zap.Int("attempt", job.Attempts),
		zap.Int("max_attempts", job.MaxAttempts),
		zap.Time("next_run", runAt),
		zap.Error(handleErr))
	metrics.JobsProcessed.WithLabelValues(jobType, metrics.OutcomeRetried).Inc()
	return true, d.leaseLost(*job, d.store.RetryJob(ctx, *job, runAt, handleErr.Error()))
}

// exhaust hands the failure to the owner before the job is buried. If the
// owner cannot record it, the job stays queued and exhaustion is retried.
func (d *Dispatcher) exhaust(ctx, leaseCtx context.Context, reg registration, job models.Job, cause error) error {
	zap.L().Error("Job failed permanently",
		zap.String("job_id", job.Id),
		zap.String("job_type", job.Type),
		zap.Int("attempts", job.Attempts),
		zap.Error(cause))

	// Only the current owner may record exhaustion
	if err := d.store.ExtendJobLease(ctx, job, d.now().Add(reg.lease)); err != nil {
		return d.leaseLost(job, err)
	}

	exCtx, cancel := context.WithTimeout(leaseCtx, reg.opts.Timeout)
	defer cancel()
	if err := reg.handler.Exhausted(exCtx, job, cause); err != nil {
		zap.L().Error("Failed to record job exhaustion, will retry",
			zap.String("job_id", job.Id),
			zap.Error(err))
		return d.leaseLost(job, d.store.RetryJob(ctx, job, d.now().Add(d.backoff(job.Attempts)), cause.Error()))
	}

	if err := d.store.KillJob(ctx, job, cause.Error()); err != nil {
		return d.leaseLost(job, err)
	}
	metrics.JobsProcessed.WithLabelValues(job.Type, metrics.OutcomeDead).Inc()
	return nil
}

// holdLease renews the claim while the job runs. The returned context is
// cancelled with ErrLeaseLost once another worker has reclaimed the job.
func (d *Dispatcher) holdLease(ctx context.Context, reg registration, job models.Job) (context.Context, func()) {
	leaseCtx, cancel := context.WithCancelCause(ctx)
	stop := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(reg.lease / 3)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-leaseCtx.Done():
				return
			case <-ticker.C:
				err := d.store.ExtendJobLease(ctx, job, d.now().Add(reg.lease))
				if errors.Is(err, store.ErrLeaseLost) {
					cancel(err)
					return
				}
				if err != nil {
					zap.L().Warn("Failed to renew job lease",
						zap.String("job_id", job.Id),
						zap.String("job_type", job.Type),
						zap.Error(err))
				}
			}
		}
	}()

	return leaseCtx, func() {
		close(stop)
		<-done
		cancel(nil)
	}
}

// leaseLost drops an outcome write rejected because the claim went stale
func (d *Dispatcher) leaseLost(job models.Job, err error) error {
	if !errors.Is(err, store.ErrLeaseLost) {
		return err
	}
	zap.L().Warn("Job lease lost, leaving the outcome to the current owner",
		zap.String("job_id", job.Id),
		zap.String("job_type", job.Type),
		zap.Int("attempt", job.Attempts))
	return nil
}

func (d *Dispatcher) invoke(ctx context.Context, reg registration, job models.Job) (err error) {
	hctx, cancel := context.WithTimeout(ctx, reg.opts.Timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: job handler panic: %v", store.ErrInternal, r)
		}
	}()

	return reg.handler.Handle(hctx, job)
}

// backoff is base * 2^(attempt-1), capped at MaxBackoff
func (d *Dispatcher) backoff(attempt int) time.Duration {
	delay := d.cfg.BaseBackoff
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= d.cfg.MaxBackoff {
			return d.cfg.MaxBackoff
		}
	}
	return delay
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Decode unmarshals a job payload
func Decode[T any](job models.Job) (T, error) {
	var payload T
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return payload, Permanent(fmt.Errorf("%w: malformed %s payload: %v", store.ErrInternal, job.Type, err))
	}
	return payload, nil
}
