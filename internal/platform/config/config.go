// Package config builds gateway configuration from the environment so main
// stays lean. Everything operators tune lives here: budget caps, policy
// engine endpoint and fail mode, breaker thresholds, audit queue policy.
// The route/permission table itself is a YAML file loaded by internal/authz.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Environment names. Fail-open overrides are refused in production.
const (
	EnvProduction  = "production"
	EnvDevelopment = "development"
)

// Config is the full gateway configuration.
type Config struct {
	Addr        string
	Environment string
	LogLevel    string

	// RoutesFile is the YAML route/permission table consumed by internal/authz.
	RoutesFile string

	// RequestTimeout is the overall per-request deadline for the whole chain.
	RequestTimeout time.Duration

	JWT     JWTConfig
	Policy  PolicyConfig
	Budget  BudgetConfig
	Breaker BreakerConfig
	Audit   AuditConfig
	Redis   RedisConfig

	// DatabaseURL enables the Postgres audit store when set.
	DatabaseURL string
}

// JWTConfig configures access token validation.
type JWTConfig struct {
	SigningKey string
	Issuer     string
	Audience   string
}

// PolicyConfig configures the policy engine client.
type PolicyConfig struct {
	Endpoint string
	Timeout  time.Duration
	// FailOpen allows requests through when the policy engine is unreachable.
	// Deny-by-default: this is refused in production and loudly logged
	// everywhere else.
	FailOpen bool
}

// BudgetConfig configures the spend ledger. Amounts are in cents.
type BudgetConfig struct {
	AgentDailyCapCents    int64
	TenantMonthlyCapCents int64
	ChargePerRequestCents int64
	// WindowGrace keeps expired window counters around briefly so late
	// audit reads still resolve.
	WindowGrace time.Duration
	// FailOpen allows requests through when the ledger store is unreachable.
	// Same production restriction as PolicyConfig.FailOpen.
	FailOpen bool
}

// BreakerConfig configures per-backend circuit breakers.
type BreakerConfig struct {
	FailureThreshold int
	SuccessThreshold int
	Cooldown         time.Duration
	// FallbackCacheTTL bounds how stale a last-known-good response may be.
	FallbackCacheTTL time.Duration
}

// AuditConfig configures the async audit sink.
type AuditConfig struct {
	QueueCapacity int
	BatchSize     int
	FlushInterval time.Duration
	// FullPolicy is "drop_oldest" or "reject_new".
	FullPolicy string
	// FlushTimeout bounds the shutdown drain and per-batch writes.
	FlushTimeout time.Duration
}

// RedisConfig configures the ledger's counter store. Empty URL selects the
// in-memory store (single instance deployments and tests).
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Audit full-queue policies.
const (
	AuditDropOldest = "drop_oldest"
	AuditRejectNew  = "reject_new"
)

// FromEnv builds a Config from environment variables, applying defaults
// suitable for development. Validate must still be called.
func FromEnv() Config {
	return Config{
		Addr:           envString("AEGIS_ADDR", ":8080"),
		Environment:    envString("AEGIS_ENV", EnvDevelopment),
		LogLevel:       envString("AEGIS_LOG_LEVEL", "info"),
		RoutesFile:     envString("AEGIS_ROUTES_FILE", "routes.yaml"),
		RequestTimeout: envDuration("AEGIS_REQUEST_TIMEOUT", 30*time.Second),
		JWT: JWTConfig{
			SigningKey: envString("AEGIS_JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
			Issuer:     envString("AEGIS_JWT_ISSUER", "aegis"),
			Audience:   envString("AEGIS_JWT_AUDIENCE", "aegis-gateway"),
		},
		Policy: PolicyConfig{
			Endpoint: envString("AEGIS_POLICY_URL", "http://localhost:8181/v1/decide"),
			Timeout:  envDuration("AEGIS_POLICY_TIMEOUT", 500*time.Millisecond),
			FailOpen: envBool("AEGIS_POLICY_FAIL_OPEN", false),
		},
		Budget: BudgetConfig{
			AgentDailyCapCents:    envInt64("AEGIS_BUDGET_AGENT_DAILY_CAP_CENTS", 10_000),
			TenantMonthlyCapCents: envInt64("AEGIS_BUDGET_TENANT_MONTHLY_CAP_CENTS", 1_000_000),
			ChargePerRequestCents: envInt64("AEGIS_BUDGET_CHARGE_PER_REQUEST_CENTS", 10),
			WindowGrace:           envDuration("AEGIS_BUDGET_WINDOW_GRACE", time.Hour),
			FailOpen:              envBool("AEGIS_BUDGET_FAIL_OPEN", false),
		},
		Breaker: BreakerConfig{
			FailureThreshold: envInt("AEGIS_BREAKER_FAILURE_THRESHOLD", 5),
			SuccessThreshold: envInt("AEGIS_BREAKER_SUCCESS_THRESHOLD", 1),
			Cooldown:         envDuration("AEGIS_BREAKER_COOLDOWN", 30*time.Second),
			FallbackCacheTTL: envDuration("AEGIS_BREAKER_FALLBACK_CACHE_TTL", 5*time.Minute),
		},
		Audit: AuditConfig{
			QueueCapacity: envInt("AEGIS_AUDIT_QUEUE_CAPACITY", 10_000),
			BatchSize:     envInt("AEGIS_AUDIT_BATCH_SIZE", 100),
			FlushInterval: envDuration("AEGIS_AUDIT_FLUSH_INTERVAL", time.Second),
			FullPolicy:    envString("AEGIS_AUDIT_FULL_POLICY", AuditDropOldest),
			FlushTimeout:  envDuration("AEGIS_AUDIT_FLUSH_TIMEOUT", 5*time.Second),
		},
		Redis: RedisConfig{
			URL:          envString("AEGIS_REDIS_URL", ""),
			PoolSize:     envInt("AEGIS_REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("AEGIS_REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  envDuration("AEGIS_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("AEGIS_REDIS_READ_TIMEOUT", time.Second),
			WriteTimeout: envDuration("AEGIS_REDIS_WRITE_TIMEOUT", time.Second),
		},
		DatabaseURL: envString("AEGIS_DATABASE_URL", ""),
	}
}

// IsProduction reports whether the gateway runs with production hardening.
func (c Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

// Validate enforces cross-field constraints. Fail-open overrides are a
// non-production affordance only; production always fails closed.
func (c Config) Validate() error {
	if c.IsProduction() {
		if c.Policy.FailOpen {
			return fmt.Errorf("AEGIS_POLICY_FAIL_OPEN is not permitted in production")
		}
		if c.Budget.FailOpen {
			return fmt.Errorf("AEGIS_BUDGET_FAIL_OPEN is not permitted in production")
		}
		if c.JWT.SigningKey == "dev-secret-key-change-in-production" {
			return fmt.Errorf("AEGIS_JWT_SIGNING_KEY must be set in production")
		}
	}
	if c.Audit.FullPolicy != AuditDropOldest && c.Audit.FullPolicy != AuditRejectNew {
		return fmt.Errorf("AEGIS_AUDIT_FULL_POLICY must be %q or %q", AuditDropOldest, AuditRejectNew)
	}
	if c.Budget.ChargePerRequestCents <= 0 {
		return fmt.Errorf("AEGIS_BUDGET_CHARGE_PER_REQUEST_CENTS must be positive")
	}
	return nil
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "true" || v == "1"
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
