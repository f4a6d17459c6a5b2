package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App         AppConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Log         LogConfig
	HTTP        HTTPConfig
	Idempotency IdempotencyConfig
	Lock        LockConfig
	Checkout    CheckoutConfig
	Ledger      LedgerConfig
	Settlement  SettlementConfig
	Sweeper     SweeperConfig
	Telemetry   TelemetryConfig
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name    string
	Env     string
	Port    string
	BaseURL string // public base URL used in permalinks
}

// DatabaseConfig holds session store settings
type DatabaseConfig struct {
	Driver          string // memory, sqlite, postgres
	Path            string // sqlite file path
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // in minutes
	ConnMaxIdleTime int // in minutes
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// Addr returns host:port
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	IdleTimeout      time.Duration
	MaxHeaderBytes   int
	MaxBodySize      int64
	CORSAllowOrigins []string
	CORSAllowMethods []string
	CORSAllowHeaders []string
	TrustedProxies   []string
}

// IdempotencyConfig holds the idempotent response store settings
type IdempotencyConfig struct {
	Driver string // memory, redis
	TTL    time.Duration
}

// LockConfig holds per-session lock settings
type LockConfig struct {
	Driver string        // memory, redis
	TTL    time.Duration // redis lock lease
}

// CheckoutConfig holds checkout protocol settings
type CheckoutConfig struct {
	SessionTTL      time.Duration
	ReadWait        time.Duration // how long Get waits on a busy session
	CompleteTimeout time.Duration // upper bound for a client supplied timeout
	SettlementGrace time.Duration // added to the settlement deadline for the processing marker
	CommitTimeout   time.Duration // bounds writing the settlement outcome
	CommitRetries   int
	Discounts       map[string]decimal.Decimal // code -> percent
	PermalinkBase   string
}

// SweeperConfig holds the abandoned session sweeper settings
type SweeperConfig struct {
	Enabled   bool
	Interval  time.Duration
	Retention time.Duration // how long an expired session is kept before removal
	BatchSize int
	Timeout   time.Duration
}

// LedgerConfig holds ledger network settings
type LedgerConfig struct {
	Network           string // mainnet, testnet, previewnet, local
	MerchantAccountID string
	RelayURL          string // empty selects the in-process simulated ledger
	RequestTimeout    time.Duration
	PollInterval      time.Duration
	SimulatedLatency  time.Duration
	BreakerMaxFails   uint32
	BreakerOpenFor    time.Duration
}

// SettlementConfig holds payment settlement settings
type SettlementConfig struct {
	// BaseUnitsPerMinorUnit converts currency minor units to ledger base units
	BaseUnitsPerMinorUnit decimal.Decimal
	RequireMemo           bool
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled           bool    // Whether to enable OpenTelemetry
	CollectorEndpoint string  // OTEL Collector endpoint (e.g., "localhost:4317")
	SamplingRatio     float64 // Sampling ratio (0.0-1.0, 1.0 = 100%)
	ServiceName       string  // Service name for traces
	Insecure          bool    // Use insecure (non-TLS) connection (development only)
	DBTraceEnabled    bool    // Enable database query tracing (otelgorm)
}

// Load loads configuration from TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with UCP_ prefix (e.g., UCP_LEDGER_NETWORK)
// 2. HEDERA_NETWORK and HEDERA_MERCHANT_ACCOUNT_ID
// 3. config.toml
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/app")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("UCP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("ledger.network", "UCP_LEDGER_NETWORK", "HEDERA_NETWORK")
	_ = v.BindEnv("ledger.merchant_account_id", "UCP_LEDGER_MERCHANT_ACCOUNT_ID", "HEDERA_MERCHANT_ACCOUNT_ID")

	return build(v)
}

func build(v *viper.Viper) (*Config, error) {
	discounts, err := parseDiscounts(v.GetStringMapString("checkout.discounts"))
	if err != nil {
		return nil, err
	}
	rate := decimal.Zero
	if raw := v.GetString("settlement.base_units_per_minor_unit"); raw != "" {
		rate, err = decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("settlement.base_units_per_minor_unit: %w", err)
		}
	}

	cfg := &Config{
		App: AppConfig{
			Name:    v.GetString("app.name"),
			Env:     v.GetString("app.env"),
			Port:    v.GetString("app.port"),
			BaseURL: v.GetString("app.base_url"),
		},
		Database: DatabaseConfig{
			Driver:          v.GetString("database.driver"),
			Path:            v.GetString("database.path"),
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetInt("database.conn_max_lifetime"),
			ConnMaxIdleTime: v.GetInt("database.conn_max_idle_time"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:      v.GetDuration("http.read_timeout"),
			WriteTimeout:     v.GetDuration("http.write_timeout"),
			IdleTimeout:      v.GetDuration("http.idle_timeout"),
			MaxHeaderBytes:   v.GetInt("http.max_header_bytes"),
			MaxBodySize:      v.GetInt64("http.max_body_size"),
			CORSAllowOrigins: v.GetStringSlice("http.cors_allow_origins"),
			CORSAllowMethods: v.GetStringSlice("http.cors_allow_methods"),
			CORSAllowHeaders: v.GetStringSlice("http.cors_allow_headers"),
			TrustedProxies:   v.GetStringSlice("http.trusted_proxies"),
		},
		Idempotency: IdempotencyConfig{
			Driver: v.GetString("idempotency.driver"),
			TTL:    v.GetDuration("idempotency.ttl"),
		},
		Lock: LockConfig{
			Driver: v.GetString("lock.driver"),
			TTL:    v.GetDuration("lock.ttl"),
		},
		Checkout: CheckoutConfig{
			SessionTTL:      v.GetDuration("checkout.session_ttl"),
			ReadWait:        v.GetDuration("checkout.read_wait"),
			CompleteTimeout: v.GetDuration("checkout.complete_timeout"),
			SettlementGrace: v.GetDuration("checkout.settlement_grace"),
			CommitTimeout:   v.GetDuration("checkout.commit_timeout"),
			CommitRetries:   v.GetInt("checkout.commit_retries"),
			Discounts:       discounts,
			PermalinkBase:   v.GetString("checkout.permalink_base"),
		},
		Sweeper: SweeperConfig{
			Enabled:   v.GetBool("sweeper.enabled"),
			Interval:  v.GetDuration("sweeper.interval"),
			Retention: v.GetDuration("sweeper.retention"),
			BatchSize: v.GetInt("sweeper.batch_size"),
			Timeout:   v.GetDuration("sweeper.timeout"),
		},
		Ledger: LedgerConfig{
			Network:           strings.ToLower(strings.TrimSpace(v.GetString("ledger.network"))),
			MerchantAccountID: strings.TrimSpace(v.GetString("ledger.merchant_account_id")),
			RelayURL:          v.GetString("ledger.relay_url"),
			RequestTimeout:    v.GetDuration("ledger.request_timeout"),
			PollInterval:      v.GetDuration("ledger.poll_interval"),
			SimulatedLatency:  v.GetDuration("ledger.simulated_latency"),
			BreakerMaxFails:   v.GetUint32("ledger.breaker_max_failures"),
			BreakerOpenFor:    v.GetDuration("ledger.breaker_open_for"),
		},
		Settlement: SettlementConfig{
			BaseUnitsPerMinorUnit: rate,
			RequireMemo:           v.GetBool("settlement.require_memo"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
			DBTraceEnabled:    v.GetBool("telemetry.db_trace_enabled"),
		},
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// parseDiscounts reads code = percent pairs; viper lower-cases keys
func parseDiscounts(raw map[string]string) (map[string]decimal.Decimal, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make(map[string]decimal.Decimal, len(raw))
	for code, pct := range raw {
		d, err := decimal.NewFromString(strings.TrimSpace(pct))
		if err != nil {
			return nil, fmt.Errorf("checkout.discounts.%s: %w", code, err)
		}
		out[strings.ToUpper(code)] = d
	}
	return out, nil
}

func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "ucp-merchant"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8182"
	}
	if cfg.App.BaseURL == "" {
		cfg.App.BaseURL = "http://localhost:" + cfg.App.Port
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "memory"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "checkout.db"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "postgres"
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = "ucp"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 60
	}
	if cfg.Database.ConnMaxIdleTime == 0 {
		cfg.Database.ConnMaxIdleTime = 30
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 60 * time.Second
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}
	if cfg.HTTP.MaxHeaderBytes == 0 {
		cfg.HTTP.MaxHeaderBytes = 1 << 20 // 1MB
	}
	if cfg.HTTP.MaxBodySize == 0 {
		cfg.HTTP.MaxBodySize = 1 << 20 // 1MB
	}
	if len(cfg.HTTP.CORSAllowMethods) == 0 {
		cfg.HTTP.CORSAllowMethods = []string{"GET", "POST", "PUT", "OPTIONS"}
	}
	if len(cfg.HTTP.CORSAllowHeaders) == 0 {
		cfg.HTTP.CORSAllowHeaders = []string{"Content-Type", "Idempotency-Key", "Request-Id", "X-Request-ID", "UCP-Agent", "Request-Signature"}
	}
	if cfg.Idempotency.Driver == "" {
		cfg.Idempotency.Driver = "memory"
	}
	if cfg.Idempotency.TTL == 0 {
		cfg.Idempotency.TTL = 24 * time.Hour
	}
	if cfg.Lock.Driver == "" {
		cfg.Lock.Driver = "memory"
	}
	if cfg.Lock.TTL == 0 {
		cfg.Lock.TTL = time.Minute
	}
	if cfg.Checkout.SessionTTL == 0 {
		cfg.Checkout.SessionTTL = 6 * time.Hour
	}
	if cfg.Checkout.ReadWait == 0 {
		cfg.Checkout.ReadWait = 2 * time.Second
	}
	if cfg.Checkout.CompleteTimeout == 0 {
		cfg.Checkout.CompleteTimeout = 30 * time.Second
	}
	if cfg.Checkout.SettlementGrace == 0 {
		cfg.Checkout.SettlementGrace = 30 * time.Second
	}
	if cfg.Checkout.CommitTimeout == 0 {
		cfg.Checkout.CommitTimeout = 10 * time.Second
	}
	if cfg.Checkout.CommitRetries == 0 {
		cfg.Checkout.CommitRetries = 3
	}
	if cfg.Checkout.Discounts == nil {
		cfg.Checkout.Discounts = map[string]decimal.Decimal{"10OFF": decimal.NewFromInt(10)}
	}
	if cfg.Checkout.PermalinkBase == "" {
		cfg.Checkout.PermalinkBase = strings.TrimRight(cfg.App.BaseURL, "/") + "/orders"
	}
	if cfg.Sweeper.Interval == 0 {
		cfg.Sweeper.Interval = 5 * time.Minute
	}
	if cfg.Sweeper.Retention == 0 {
		cfg.Sweeper.Retention = 24 * time.Hour
	}
	if cfg.Sweeper.BatchSize == 0 {
		cfg.Sweeper.BatchSize = 100
	}
	if cfg.Sweeper.Timeout == 0 {
		cfg.Sweeper.Timeout = time.Minute
	}
	if cfg.Ledger.Network == "" {
		cfg.Ledger.Network = "testnet"
	}
	if cfg.Ledger.RequestTimeout == 0 {
		cfg.Ledger.RequestTimeout = 10 * time.Second
	}
	if cfg.Ledger.PollInterval == 0 {
		cfg.Ledger.PollInterval = 500 * time.Millisecond
	}
	if cfg.Ledger.BreakerMaxFails == 0 {
		cfg.Ledger.BreakerMaxFails = 5
	}
	if cfg.Ledger.BreakerOpenFor == 0 {
		cfg.Ledger.BreakerOpenFor = 30 * time.Second
	}
	if cfg.Settlement.BaseUnitsPerMinorUnit.IsZero() {
		// 1 HBAR = 1e8 tinybars at $0.05, so one cent is 2e7 tinybars
		cfg.Settlement.BaseUnitsPerMinorUnit = decimal.NewFromInt(20_000_000)
	}
	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317"
	}
	if cfg.Telemetry.SamplingRatio == 0 {
		cfg.Telemetry.SamplingRatio = 1.0
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = cfg.App.Name
	}
}

var validNetworks = map[string]bool{"mainnet": true, "testnet": true, "previewnet": true, "local": true}

func (c *Config) validate() error {
	if c.Ledger.MerchantAccountID == "" {
		return fmt.Errorf("ledger.merchant_account_id is required (or set HEDERA_MERCHANT_ACCOUNT_ID)")
	}
	if !validNetworks[c.Ledger.Network] {
		return fmt.Errorf("ledger.network must be one of mainnet, testnet, previewnet, local; got %q", c.Ledger.Network)
	}
	if c.Settlement.BaseUnitsPerMinorUnit.Sign() <= 0 {
		return fmt.Errorf("settlement.base_units_per_minor_unit must be positive")
	}
	for code, pct := range c.Checkout.Discounts {
		if pct.Sign() < 0 || pct.GreaterThan(decimal.NewFromInt(100)) {
			return fmt.Errorf("checkout.discounts.%s must be between 0 and 100", code)
		}
	}
	switch c.Database.Driver {
	case "memory", "sqlite", "postgres":
	default:
		return fmt.Errorf("database.driver must be memory, sqlite or postgres; got %q", c.Database.Driver)
	}
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be positive")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}
	if c.Idempotency.Driver != "memory" && c.Idempotency.Driver != "redis" {
		return fmt.Errorf("idempotency.driver must be memory or redis; got %q", c.Idempotency.Driver)
	}
	if c.Lock.Driver != "memory" && c.Lock.Driver != "redis" {
		return fmt.Errorf("lock.driver must be memory or redis; got %q", c.Lock.Driver)
	}
	if c.Checkout.ReadWait < 0 || c.Checkout.CompleteTimeout <= 0 || c.Checkout.CommitTimeout <= 0 {
		return fmt.Errorf("checkout.read_wait, checkout.complete_timeout and checkout.commit_timeout must be positive")
	}
	// the idempotency lease is held for the whole Complete call
	if held := c.Checkout.CompleteTimeout + c.Checkout.CommitTimeout; c.Lock.TTL <= held {
		return fmt.Errorf("lock.ttl (%s) must exceed checkout.complete_timeout plus checkout.commit_timeout (%s)", c.Lock.TTL, held)
	}
	if c.Sweeper.Interval < 0 || c.Sweeper.Retention < 0 || c.Sweeper.BatchSize < 0 {
		return fmt.Errorf("sweeper settings cannot be negative")
	}

	if c.App.Env == "production" {
		if c.Ledger.RelayURL == "" {
			return fmt.Errorf("ledger.relay_url is required in production (the simulated ledger is for development)")
		}
		if c.Ledger.Network == "local" {
			return fmt.Errorf("ledger.network cannot be 'local' in production")
		}
		if c.Database.Driver == "memory" {
			return fmt.Errorf("database.driver cannot be 'memory' in production")
		}
		if c.Database.Driver == "postgres" && c.Database.SSLMode == "disable" {
			return fmt.Errorf("database.sslmode cannot be 'disable' in production")
		}
		for _, origin := range c.HTTP.CORSAllowOrigins {
			if origin == "*" {
				return fmt.Errorf("cors_allow_origins cannot be '*' in production (use specific origins)")
			}
		}
	}

	if c.Telemetry.SamplingRatio < 0.0 || c.Telemetry.SamplingRatio > 1.0 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0.0 and 1.0, got %f", c.Telemetry.SamplingRatio)
	}

	return nil
}

// DSN returns the postgres connection URL
func (d *DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}
