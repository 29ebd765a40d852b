package common

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"settlement-engine/internal/accrual"
	"settlement-engine/internal/api"
	"settlement-engine/internal/audit"
	"settlement-engine/internal/database"
	"settlement-engine/internal/deposits"
	"settlement-engine/internal/jobs"
	"settlement-engine/internal/ledger"
	"settlement-engine/internal/mirror"
	"settlement-engine/internal/models"
	"settlement-engine/internal/notify"
	"settlement-engine/internal/oracle"
	"settlement-engine/internal/prime"
	"settlement-engine/internal/provider"
	"settlement-engine/internal/withdrawals"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

const payoutTimeout = time.Minute

// init loads environment variables from .env file if it exists
func init() {
	// Environment variables can be set via other means (shell export, docker, etc.)
	if err := godotenv.Load(); err != nil {
		log.Printf("Note: No .env file found or unable to load it: %v\n", err)
		log.Println("Make sure to set environment variables via export or other means")
	} else {
		log.Println("✓ Loaded environment variables from .env file")
	}
}

// Services is the fully wired engine. The caller owns the dispatcher and
// scheduler lifecycles and must call Close when done.
type Services struct {
	DbService   *database.Service
	Catalog     *models.Catalog
	Recorder    *audit.Recorder
	Ledger      *ledger.Ledger
	Jobs        *jobs.Dispatcher
	Deposits    *deposits.Service
	Withdrawals *withdrawals.Service
	Accrual     *accrual.Engine
	Scheduler   *accrual.Scheduler
	Mirror      *mirror.Service
	API         *api.Service
	Notifier    notify.Notifier

	closers []func()
}

func InitializeLogger() (*zap.Logger, func()) {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	zap.ReplaceGlobals(logger)

	cleanup := func() {
		if err := logger.Sync(); err != nil {
			if !isIgnorableSyncError(err) {
				log.Printf("Failed to sync logger: %v\n", err)
			}
		}
	}

	return logger, cleanup
}

func InitializeServices(ctx context.Context, cfg *models.Config) (*Services, error) {
	catalog, err := LoadCatalog(cfg.CatalogFile)
	if err != nil {
		return nil, err
	}
	zap.L().Info("Loaded currency catalog",
		zap.String("fiat", catalog.FiatCurrency),
		zap.Strings("currencies", catalog.Codes()))

	dbService, err := database.NewService(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	s := &Services{
		DbService: dbService,
		Catalog:   catalog,
		closers:   []func(){dbService.Close},
	}
	if err := s.wire(ctx, cfg); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Services) wire(ctx context.Context, cfg *models.Config) error {
	s.Recorder = audit.NewRecorder(s.DbService)
	s.Jobs = jobs.NewDispatcher(s.DbService, jobs.ConfigFrom(cfg.Jobs))

	var ledgerOpts []ledger.Option
	if cfg.Mirror.Enabled() {
		mirrorService, err := mirror.NewService(ctx, cfg.Mirror, s.Catalog.FiatCurrency)
		if err != nil {
			return fmt.Errorf("unable to initialize ledger mirror: %w", err)
		}
		s.Mirror = mirrorService
		ledgerOpts = append(ledgerOpts, ledger.WithMirror(s.Jobs))
		s.Jobs.Register(ledger.MirrorJobType, mirrorService, jobs.Options{Concurrency: cfg.Jobs.MirrorWorkers})
	}
	s.Ledger = ledger.New(s.Recorder, ledgerOpts...)

	notifier, err := s.notifier(ctx, cfg.Notify)
	if err != nil {
		return err
	}
	s.Notifier = notifier

	oracleCfg := cfg.Oracle
	oracleCfg.FiatCurrency = s.Catalog.FiatCurrency
	rates, err := oracle.NewClient(oracleCfg)
	if err != nil {
		return fmt.Errorf("unable to initialize rate oracle: %w", err)
	}

	charges, err := provider.NewClient(cfg.Provider)
	if err != nil {
		return fmt.Errorf("unable to initialize payment provider: %w", err)
	}
	if cfg.Provider.WebhookSecret == "" {
		zap.L().Warn("PROVIDER_WEBHOOK_SECRET is not set, every webhook will be rejected")
	}

	var payouts withdrawals.Payouts = prime.Unconfigured{}
	if cfg.Prime.Enabled() {
		primeService, err := prime.NewService(cfg.Prime)
		if err != nil {
			return err
		}
		payouts = primeService
	} else {
		zap.L().Warn("Prime credentials not set, crypto payouts will fail and be refunded")
	}

	s.Deposits = deposits.NewService(deposits.Deps{
		Store:         s.DbService,
		Ledger:        s.Ledger,
		Recorder:      s.Recorder,
		Outbox:        s.Jobs,
		Charges:       charges,
		Rates:         rates,
		Notifier:      s.Notifier,
		Catalog:       s.Catalog,
		WebhookSecret: cfg.Provider.WebhookSecret,
	})
	s.Withdrawals = withdrawals.NewService(withdrawals.Deps{
		Store:    s.DbService,
		Ledger:   s.Ledger,
		Recorder: s.Recorder,
		Outbox:   s.Jobs,
		Payouts:  payouts,
		Rates:    rates,
		Notifier: s.Notifier,
		Catalog:  s.Catalog,
	})
	s.Accrual = accrual.NewEngine(accrual.Deps{
		Store:       s.DbService,
		Ledger:      s.Ledger,
		Jobs:        s.Jobs,
		Parallelism: cfg.Accrual.Parallelism,
	})
	if cfg.Accrual.Enabled {
		s.Scheduler = accrual.NewScheduler(s.Accrual, cfg.Accrual)
	}

	s.Jobs.Register(deposits.JobConvert, s.Deposits.ConversionHandler(), jobs.Options{Concurrency: cfg.Jobs.ConversionWorkers})
	s.Jobs.Register(withdrawals.JobPayout, s.Withdrawals.PayoutHandler(), jobs.Options{Concurrency: cfg.Jobs.PayoutWorkers, Timeout: payoutTimeout})
	s.Jobs.Register(accrual.JobRun, s.Accrual.RunHandler(), accrual.RunOptions())

	s.API = api.NewService(api.Deps{
		Store:       s.DbService,
		Deposits:    s.Deposits,
		Withdrawals: s.Withdrawals,
		Accrual:     s.Accrual,
		Catalog:     s.Catalog,
	})

	return nil
}

// notifier fans out to the log plus NATS and SQS when they are configured
func (s *Services) notifier(ctx context.Context, cfg models.NotifyConfig) (notify.Notifier, error) {
	notifiers := notify.Multi{notify.LogNotifier{}}

	if cfg.NatsURL != "" {
		nc, err := notify.NewNATSNotifier(cfg.NatsURL, cfg.NatsSubject)
		if err != nil {
			return nil, fmt.Errorf("unable to connect to NATS: %w", err)
		}
		s.closers = append(s.closers, nc.Close)
		notifiers = append(notifiers, nc)
	}

	if cfg.SQSQueueURL != "" {
		sq, err := notify.NewSQSNotifier(ctx, cfg.SQSQueueURL, cfg.SQSMaxRetries)
		if err != nil {
			return nil, fmt.Errorf("unable to initialize SQS notifier: %w", err)
		}
		notifiers = append(notifiers, sq)
	}

	names := make([]string, len(notifiers))
	for i, n := range notifiers {
		names[i] = n.Name()
	}
	zap.L().Info("Notification channels", zap.Strings("channels", names))

	return notifiers, nil
}

// InitializeDatabaseOnly initializes just the database service without external clients
// Useful for read-only operations like querying balances
func InitializeDatabaseOnly(ctx context.Context, cfg *models.Config) (*database.Service, error) {
	dbService, err := database.NewService(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	return dbService, nil
}

// Close releases connections in reverse order of acquisition
func (s *Services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

func isIgnorableSyncError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "sync /dev/stderr: inappropriate ioctl for device") ||
		strings.Contains(msg, "sync /dev/stdout: inappropriate ioctl for device")
}
