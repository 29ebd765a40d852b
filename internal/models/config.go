package models

import "time"

// Config represents the application configuration
type Config struct {
	Database    DatabaseConfig
	Server      ServerConfig
	Jobs        JobsConfig
	Accrual     AccrualConfig
	Provider    ProviderConfig
	Oracle      OracleConfig
	Prime       PrimeConfig
	Notify      NotifyConfig
	Mirror      MirrorConfig
	CatalogFile string
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Driver          string // "sqlite3" or "pgx"
	Path            string // file path for sqlite3, DSN for pgx
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
}

// ServerConfig holds HTTP listener settings
type ServerConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// JobsConfig holds job dispatcher settings
type JobsConfig struct {
	PollInterval      time.Duration
	Lease             time.Duration
	MaxAttempts       int
	BaseBackoff       time.Duration
	MaxBackoff        time.Duration
	HandlerTimeout    time.Duration
	ConversionWorkers int
	PayoutWorkers     int
	MirrorWorkers     int
}

// AccrualConfig holds interest accrual settings
type AccrualConfig struct {
	Enabled       bool
	RunHourUTC    int
	Parallelism   int
	CheckInterval time.Duration
}

// ProviderConfig holds payment provider settings
type ProviderConfig struct {
	BaseURL       string
	APIKey        string
	WebhookSecret string
	RedirectURL   string
	Timeout       time.Duration
}

// OracleConfig holds rate oracle settings
type OracleConfig struct {
	BaseURL      string
	FiatCurrency string
	Timeout      time.Duration
}

// PrimeConfig holds Coinbase Prime payout credentials
type PrimeConfig struct {
	AccessKey   string
	Passphrase  string
	SigningKey  string
	PortfolioId string
}

// Enabled reports whether payout credentials are present
func (c PrimeConfig) Enabled() bool {
	return c.AccessKey != "" && c.Passphrase != "" && c.SigningKey != ""
}

// NotifyConfig holds notification fan-out settings
type NotifyConfig struct {
	NatsURL       string
	NatsSubject   string
	SQSQueueURL   string
	SQSMaxRetries int
}

// MirrorConfig holds Formance ledger mirror settings
type MirrorConfig struct {
	StackURL     string
	ClientID     string
	ClientSecret string
	LedgerName   string
}

// Enabled reports whether a mirror ledger is configured
func (c MirrorConfig) Enabled() bool {
	return c.StackURL != ""
}
