package accrual

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"settlement-engine/internal/ledger"
	"settlement-engine/internal/metrics"
	"settlement-engine/internal/models"
	"settlement-engine/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// JobRun runs the accrual sweep for one date
const JobRun = "accrual.run"

// ActionAccrued is the audit action of an interest credit
const ActionAccrued = "interest.accrued"

const (
	DateLayout         = "2006-01-02"
	defaultParallelism = 8
)

// Enqueuer schedules durable jobs
type Enqueuer interface {
	Enqueue(ctx context.Context, jobType string, payload any) (string, error)
}

type Deps struct {
	Store       store.Store
	Ledger      *ledger.Ledger
	Jobs        Enqueuer
	Parallelism int
}

// RunPayload is the job payload of JobRun
type RunPayload struct {
	Date string `json:"date"`
}

// Result summarises one accrual sweep
type Result struct {
	Date          string          `json:"date"`
	Eligible      int             `json:"eligible"`
	Credited      int             `json:"credited"`
	Skipped       int             `json:"skipped"`
	Failed        int             `json:"failed"`
	TotalInterest decimal.Decimal `json:"total_interest"`
	MaturedCount  int64           `json:"matured_count"`
}

type outcome int

const (
	outcomeCredited outcome = iota
	outcomeSkipped
	outcomeFailed
)

// Engine credits daily interest on active investments. Every investment is
// credited at most once per date so a sweep can be rerun safely.
type Engine struct {
	store       store.Store
	ledger      *ledger.Ledger
	jobs        Enqueuer
	parallelism int
}

func NewEngine(deps Deps) *Engine {
	if deps.Parallelism <= 0 {
		deps.Parallelism = defaultParallelism
	}
	return &Engine{
		store:       deps.Store,
		ledger:      deps.Ledger,
		jobs:        deps.Jobs,
		parallelism: deps.Parallelism,
	}
}

// ParseDate validates a YYYY-MM-DD accrual date
func ParseDate(date string) (time.Time, error) {
	t, err := time.Parse(DateLayout, date)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date must be YYYY-MM-DD, got %q", store.ErrValidation, date)
	}
	return t, nil
}

// Interest is the daily interest on amount at ratePercent, rounded half up to the fiat scale
func Interest(amount, ratePercent decimal.Decimal) decimal.Decimal {
	return amount.Mul(ratePercent).Div(decimal.NewFromInt(100)).Round(models.FiatScale)
}

// Trigger enqueues an accrual run for date
func (e *Engine) Trigger(ctx context.Context, date string) (models.AccrualTrigger, error) {
	if _, err := ParseDate(date); err != nil {
		return models.AccrualTrigger{}, err
	}
	if e.jobs == nil {
		return models.AccrualTrigger{}, fmt.Errorf("%w: accrual jobs are not configured", store.ErrInternal)
	}

	jobId, err := e.jobs.Enqueue(ctx, JobRun, RunPayload{Date: date})
	if err != nil {
		return models.AccrualTrigger{}, fmt.Errorf("unable to enqueue accrual run: %w", err)
	}

	zap.L().Info("Accrual run enqueued", zap.String("date", date), zap.String("job_id", jobId))
	return models.AccrualTrigger{JobId: jobId, Date: date}, nil
}

// RunAccrual credits interest for date on every investment whose term covers
// it. A failing investment is counted and logged without stopping the sweep.
func (e *Engine) RunAccrual(ctx context.Context, date string) (Result, error) {
	if _, err := ParseDate(date); err != nil {
		return Result{}, err
	}

	start := time.Now()
	defer func() {
		metrics.AccrualRunDuration.Observe(time.Since(start).Seconds())
	}()

	investments, err := e.store.FindAccruableInvestments(ctx, date)
	if err != nil {
		return Result{}, fmt.Errorf("unable to load investments: %w", err)
	}

	result := Result{Date: date, Eligible: len(investments), TotalInterest: decimal.Zero}
	zap.L().Info("Starting accrual run",
		zap.String("date", date),
		zap.Int("eligible", len(investments)),
		zap.Int("parallelism", e.parallelism))

	plans := newPlanCache(e.store)
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(e.parallelism)
	for _, inv := range investments {
		inv := inv
		g.Go(func() error {
			res, interest, err := e.accrue(ctx, plans, inv, date)
			if err != nil {
				zap.L().Error("Accrual failed for investment",
					zap.String("investment_id", inv.Id),
					zap.String("user_id", inv.UserId),
					zap.String("date", date),
					zap.Error(err))
			}

			mu.Lock()
			defer mu.Unlock()
			switch res {
			case outcomeCredited:
				result.Credited++
				result.TotalInterest = result.TotalInterest.Add(interest)
				metrics.AccrualInvestments.WithLabelValues("credited").Inc()
			case outcomeSkipped:
				result.Skipped++
				metrics.AccrualInvestments.WithLabelValues("skipped").Inc()
			default:
				result.Failed++
				metrics.AccrualInvestments.WithLabelValues("failed").Inc()
			}
			return nil
		})
	}
	_ = g.Wait()

	matured, err := e.store.MarkMaturedInvestments(ctx, date)
	if err != nil {
		zap.L().Error("Unable to mark matured investments", zap.String("date", date), zap.Error(err))
	} else {
		result.MaturedCount = matured
	}

	zap.L().Info("Accrual run finished",
		zap.String("date", date),
		zap.Int("credited", result.Credited),
		zap.Int("skipped", result.Skipped),
		zap.Int("failed", result.Failed),
		zap.String("total_interest", result.TotalInterest.StringFixed(models.FiatScale)),
		zap.Int64("matured", result.MaturedCount))

	return result, nil
}

func (e *Engine) accrue(ctx context.Context, plans *planCache, inv models.Investment, date string) (outcome, decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return outcomeFailed, decimal.Zero, err
	}

	plan, err := plans.get(ctx, inv.PlanId)
	if err != nil {
		return outcomeFailed, decimal.Zero, err
	}

	interest := Interest(inv.Amount, plan.DailyRatePercent)
	if !interest.IsPositive() {
		return outcomeSkipped, decimal.Zero, nil
	}

	exists, err := e.store.HasAccrual(ctx, inv.Id, date)
	if err != nil {
		return outcomeFailed, decimal.Zero, err
	}
	if exists {
		return outcomeSkipped, decimal.Zero, nil
	}

	err = e.store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.InsertAccrual(ctx, &models.InterestAccrual{
			Id:           uuid.New().String(),
			InvestmentId: inv.Id,
			UserId:       inv.UserId,
			AccrualDate:  date,
			Amount:       interest,
			RatePercent:  plan.DailyRatePercent,
		}); err != nil {
			return err
		}
		if err := tx.AddInterestEarned(ctx, inv.Id, interest); err != nil {
			return err
		}
		_, err := e.ledger.Apply(ctx, tx, ledger.Movement{
			UserId:     inv.UserId,
			Delta:      interest,
			Actor:      models.ActorSystem,
			Action:     ActionAccrued,
			EntityType: models.EntityInvestment,
			EntityId:   inv.Id,
			Metadata: map[string]any{
				"accrual_date": date,
				"plan_id":      plan.Id,
				"rate_percent": plan.DailyRatePercent.String(),
				"principal":    inv.Amount.StringFixed(models.FiatScale),
			},
		})
		return err
	})
	if errors.Is(err, store.ErrDuplicate) {
		// Another run credited this date first
		return outcomeSkipped, decimal.Zero, nil
	}
	if err != nil {
		return outcomeFailed, decimal.Zero, err
	}

	return outcomeCredited, interest, nil
}

// planCache loads each plan once per run
type planCache struct {
	store store.Store
	mu    sync.Mutex
	plans map[string]*models.InvestmentPlan
}

func newPlanCache(s store.Store) *planCache {
	return &planCache{store: s, plans: make(map[string]*models.InvestmentPlan)}
}

func (c *planCache) get(ctx context.Context, id string) (*models.InvestmentPlan, error) {
	c.mu.Lock()
	plan, ok := c.plans[id]
	c.mu.Unlock()
	if ok {
		return plan, nil
	}

	plan, err := c.store.GetPlan(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("unable to load plan %s: %w", id, err)
	}

	c.mu.Lock()
	c.plans[id] = plan
	c.mu.Unlock()
	return plan, nil
}
