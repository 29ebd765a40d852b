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

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"settlement-engine/internal/models"
)

// Load reads the service configuration from the environment. Durations use
// time.ParseDuration syntax; a malformed duration is an error.
func Load() (*models.Config, error) {
	d := durations{}

	connMaxLifetime := d.get("DB_CONN_MAX_LIFETIME", 5*time.Minute)
	connMaxIdleTime := d.get("DB_CONN_MAX_IDLE_TIME", 30*time.Second)
	pingTimeout := d.get("DB_PING_TIMEOUT", 5*time.Second)

	readTimeout := d.get("HTTP_READ_TIMEOUT", 15*time.Second)
	writeTimeout := d.get("HTTP_WRITE_TIMEOUT", 30*time.Second)
	shutdownTimeout := d.get("HTTP_SHUTDOWN_TIMEOUT", 20*time.Second)

	pollInterval := d.get("JOBS_POLL_INTERVAL", time.Second)
	lease := d.get("JOBS_LEASE", 2*time.Minute)
	baseBackoff := d.get("JOBS_BASE_BACKOFF", 5*time.Second)
	maxBackoff := d.get("JOBS_MAX_BACKOFF", 10*time.Minute)
	handlerTimeout := d.get("JOBS_HANDLER_TIMEOUT", 30*time.Second)

	accrualCheck := d.get("ACCRUAL_CHECK_INTERVAL", time.Minute)
	providerTimeout := d.get("PROVIDER_TIMEOUT", 10*time.Second)
	oracleTimeout := d.get("ORACLE_TIMEOUT", 10*time.Second)

	if d.err != nil {
		return nil, d.err
	}

	cfg := &models.Config{
		Database: models.DatabaseConfig{
			Driver:          getEnvString("DB_DRIVER", "sqlite3"),
			Path:            getEnvString("DATABASE_PATH", "settlement.db"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: connMaxLifetime,
			ConnMaxIdleTime: connMaxIdleTime,
			PingTimeout:     pingTimeout,
		},
		Server: models.ServerConfig{
			Addr:            getEnvString("HTTP_ADDR", ":8080"),
			ReadTimeout:     readTimeout,
			WriteTimeout:    writeTimeout,
			ShutdownTimeout: shutdownTimeout,
		},
		Jobs: models.JobsConfig{
			PollInterval:      pollInterval,
			Lease:             lease,
			MaxAttempts:       getEnvInt("JOBS_MAX_ATTEMPTS", 8),
			BaseBackoff:       baseBackoff,
			MaxBackoff:        maxBackoff,
			HandlerTimeout:    handlerTimeout,
			ConversionWorkers: getEnvInt("JOBS_CONVERSION_WORKERS", 4),
			PayoutWorkers:     getEnvInt("JOBS_PAYOUT_WORKERS", 2),
			MirrorWorkers:     getEnvInt("JOBS_MIRROR_WORKERS", 2),
		},
		Accrual: models.AccrualConfig{
			Enabled:       getEnvBool("ACCRUAL_ENABLED", true),
			RunHourUTC:    getEnvInt("ACCRUAL_RUN_HOUR_UTC", 0),
			Parallelism:   getEnvInt("ACCRUAL_PARALLELISM", 8),
			CheckInterval: accrualCheck,
		},
		Provider: models.ProviderConfig{
			BaseURL:       getEnvString("PROVIDER_BASE_URL", "https://api.commerce.coinbase.com"),
			APIKey:        os.Getenv("PROVIDER_API_KEY"),
			WebhookSecret: os.Getenv("PROVIDER_WEBHOOK_SECRET"),
			RedirectURL:   os.Getenv("PROVIDER_REDIRECT_URL"),
			Timeout:       providerTimeout,
		},
		Oracle: models.OracleConfig{
			BaseURL:      getEnvString("ORACLE_BASE_URL", "https://api.coinbase.com"),
			FiatCurrency: getEnvString("FIAT_CURRENCY", "INR"),
			Timeout:      oracleTimeout,
		},
		Prime: models.PrimeConfig{
			AccessKey:   os.Getenv("PRIME_ACCESS_KEY"),
			Passphrase:  os.Getenv("PRIME_PASSPHRASE"),
			SigningKey:  os.Getenv("PRIME_SIGNING_KEY"),
			PortfolioId: os.Getenv("PRIME_PORTFOLIO_ID"),
		},
		Notify: models.NotifyConfig{
			NatsURL:       os.Getenv("NATS_URL"),
			NatsSubject:   getEnvString("NATS_SUBJECT_PREFIX", "settlement.notifications"),
			SQSQueueURL:   os.Getenv("SQS_QUEUE_URL"),
			SQSMaxRetries: getEnvInt("SQS_MAX_RETRIES", 3),
		},
		Mirror: models.MirrorConfig{
			StackURL:     os.Getenv("FORMANCE_STACK_URL"),
			ClientID:     os.Getenv("FORMANCE_CLIENT_ID"),
			ClientSecret: os.Getenv("FORMANCE_CLIENT_SECRET"),
			LedgerName:   getEnvString("FORMANCE_LEDGER_NAME", "settlement"),
		},
		CatalogFile: os.Getenv("CURRENCIES_FILE"),
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validate(cfg *models.Config) error {
	switch cfg.Database.Driver {
	case "sqlite3", "pgx":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q, expected sqlite3 or pgx", cfg.Database.Driver)
	}
	if cfg.Accrual.RunHourUTC < 0 || cfg.Accrual.RunHourUTC > 23 {
		return fmt.Errorf("ACCRUAL_RUN_HOUR_UTC must be between 0 and 23, got %d", cfg.Accrual.RunHourUTC)
	}
	if cfg.Jobs.MaxAttempts < 1 {
		return fmt.Errorf("JOBS_MAX_ATTEMPTS must be at least 1, got %d", cfg.Jobs.MaxAttempts)
	}
	// A lease that expires before the handler times out lets a second worker
	// pick up a job that is still running
	if cfg.Jobs.HandlerTimeout >= cfg.Jobs.Lease {
		return fmt.Errorf("JOBS_HANDLER_TIMEOUT (%s) must be shorter than JOBS_LEASE (%s)", cfg.Jobs.HandlerTimeout, cfg.Jobs.Lease)
	}
	return nil
}

// durations collects the first parse error so Load can read every
// duration before checking
type durations struct {
	err error
}

func (d *durations) get(key string, defaultValue time.Duration) time.Duration {
	value, err := getEnvDuration(key, defaultValue)
	if err != nil && d.err == nil {
		d.err = err
	}
	return value
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	if value := os.Getenv(key); value != "" {
		duration, err := time.ParseDuration(value)
		if err != nil {
			return 0, fmt.Errorf("invalid duration for %s: %q (%w)", key, value, err)
		}
		return duration, nil
	}
	return defaultValue, nil
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
