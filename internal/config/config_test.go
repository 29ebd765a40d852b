package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Database.Driver != "sqlite3" {
		t.Errorf("Expected sqlite3 driver, got %q", cfg.Database.Driver)
	}
	if cfg.Jobs.MaxAttempts != 8 || cfg.Jobs.Lease != 2*time.Minute {
		t.Errorf("Unexpected job defaults %+v", cfg.Jobs)
	}
	if cfg.Oracle.FiatCurrency != "INR" {
		t.Errorf("Expected INR fiat, got %q", cfg.Oracle.FiatCurrency)
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("Expected :8080, got %q", cfg.Server.Addr)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("DB_DRIVER", "pgx")
	t.Setenv("DATABASE_PATH", "postgres://localhost/settlement")
	t.Setenv("JOBS_BASE_BACKOFF", "250ms")
	t.Setenv("ACCRUAL_RUN_HOUR_UTC", "2")
	t.Setenv("PRIME_ACCESS_KEY", "ak")
	t.Setenv("PRIME_PASSPHRASE", "pp")
	t.Setenv("PRIME_SIGNING_KEY", "sk")
	t.Setenv("FORMANCE_STACK_URL", "https://stack.example.com")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Database.Driver != "pgx" || cfg.Database.Path != "postgres://localhost/settlement" {
		t.Errorf("Unexpected database config %+v", cfg.Database)
	}
	if cfg.Jobs.BaseBackoff != 250*time.Millisecond {
		t.Errorf("Expected 250ms backoff, got %s", cfg.Jobs.BaseBackoff)
	}
	if cfg.Accrual.RunHourUTC != 2 {
		t.Errorf("Expected run hour 2, got %d", cfg.Accrual.RunHourUTC)
	}
	if !cfg.Prime.Enabled() {
		t.Errorf("Expected Prime credentials to enable payouts")
	}
	if !cfg.Mirror.Enabled() {
		t.Errorf("Expected mirror to be enabled")
	}
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]string{
		"JOBS_LEASE":           "two minutes",
		"DB_DRIVER":            "mysql",
		"ACCRUAL_RUN_HOUR_UTC": "24",
	}

	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			if _, err := Load(); err == nil {
				t.Errorf("Expected %s=%q to be rejected", key, value)
			}
		})
	}
}

func TestLoad_HandlerTimeoutMustFitLease(t *testing.T) {
	t.Setenv("JOBS_LEASE", "30s")
	t.Setenv("JOBS_HANDLER_TIMEOUT", "30s")
	if _, err := Load(); err == nil {
		t.Errorf("Expected a handler timeout equal to the lease to be rejected")
	}

	t.Setenv("JOBS_HANDLER_TIMEOUT", "20s")
	if _, err := Load(); err != nil {
		t.Errorf("Expected a handler timeout below the lease to load, got %v", err)
	}
}
