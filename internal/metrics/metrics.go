package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Job outcomes
const (
	OutcomeSucceeded = "succeeded"
	OutcomeRetried   = "retried"
	OutcomeDead      = "dead"
)

var (
	// --- HTTP ---
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "route", "status"})

	HTTPLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "settlement_http_request_duration_seconds",
		Help:    "Request latency",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"method", "route"})

	// --- Jobs ---
	JobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_jobs_processed_total",
		Help: "Jobs processed by type and outcome",
	}, []string{"job_type", "outcome"})

	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "settlement_job_duration_seconds",
		Help:    "Job handler latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"job_type"})

	// --- Settlement ---
	DepositTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_deposit_transitions_total",
		Help: "Committed deposit status transitions",
	}, []string{"status"})

	WithdrawalTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_withdrawal_transitions_total",
		Help: "Committed withdrawal status transitions",
	}, []string{"status"})

	WebhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_webhook_events_total",
		Help: "Provider webhook deliveries by event type and result",
	}, []string{"event_type", "result"})

	// --- Accrual ---
	AccrualInvestments = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_accrual_investments_total",
		Help: "Investments processed by accrual runs, by outcome",
	}, []string{"outcome"})

	AccrualRunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "settlement_accrual_run_duration_seconds",
		Help:    "Duration of a full accrual run",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300},
	})

	// --- Notifications ---
	NotificationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_notification_failures_total",
		Help: "Notifications that could not be delivered, by channel",
	}, []string{"channel"})
)
