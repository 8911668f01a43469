// Package config loads service settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"library-service/library"
)

type Config struct {
	HTTPAddr string

	DBDriver string
	DBDSN    string
	DBPath   string

	JWTSecret string
	JWTTTL    time.Duration
	JWTIssuer string

	LoanPeriodDays   int
	FinePerDay       decimal.Decimal
	LoanPeriodSource library.LoanPeriodSource
	EnforceLoanLimit bool

	RabbitURL      string
	RabbitExchange string

	CORSOrigins []string

	LogLevel  string
	LogFormat string

	MemberCacheSize int
	MemberCacheTTL  time.Duration
}

// Load reads .env files (when present) and then the process environment.
// Variables already set in the environment win over .env entries.
func Load(files ...string) (Config, error) {
	if err := godotenv.Load(files...); err != nil && len(files) > 0 {
		return Config{}, fmt.Errorf("load env file: %w", err)
	}

	var (
		cfg Config
		err error
		p   parser
	)
	cfg.HTTPAddr = getenv("HTTP_ADDR", ":8080")
	cfg.DBDriver = getenv("DB_DRIVER", library.DriverSQLite)
	cfg.DBDSN = getenv("DB_DSN", "")
	cfg.DBPath = getenv("DB_PATH", "library.db")

	cfg.JWTSecret = getenv("JWT_SECRET", "")
	cfg.JWTTTL = p.durationVar("JWT_TTL", 24*time.Hour)
	cfg.JWTIssuer = getenv("JWT_ISSUER", "library-service")

	cfg.LoanPeriodDays = p.intVar("LOAN_PERIOD_DAYS", library.DefaultLoanPeriodDays)
	cfg.FinePerDay = p.decimalVar("FINE_PER_DAY", library.DefaultFinePerDay)
	cfg.LoanPeriodSource = library.LoanPeriodSource(getenv("LOAN_PERIOD_SOURCE", string(library.LoanPeriodFixed)))
	cfg.EnforceLoanLimit = p.boolVar("ENFORCE_LOAN_LIMIT", false)

	cfg.RabbitURL = getenv("RABBITMQ_URL", "")
	cfg.RabbitExchange = getenv("RABBITMQ_EXCHANGE", "library.events")

	cfg.CORSOrigins = splitList(getenv("CORS_ORIGINS", "http://localhost:3000"))

	cfg.LogLevel = getenv("LOG_LEVEL", "info")
	cfg.LogFormat = getenv("LOG_FORMAT", "json")

	cfg.MemberCacheSize = p.intVar("MEMBER_CACHE_SIZE", 256)
	cfg.MemberCacheTTL = p.durationVar("MEMBER_CACHE_TTL", 5*time.Minute)

	if err = p.err(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the settings the server cannot start without.
func (c Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET must be set")
	}
	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 bytes")
	}
	switch c.DBDriver {
	case library.DriverSQLite:
	case library.DriverPostgres:
		if c.DBDSN == "" {
			return fmt.Errorf("DB_DSN is required for driver %s", c.DBDriver)
		}
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DBDriver)
	}
	return nil
}

// Policy builds the lending policy from the loaded settings.
func (c Config) Policy() (*library.Policy, error) {
	return library.NewPolicy(library.PolicyConfig{
		LoanPeriodDays:   c.LoanPeriodDays,
		FinePerDay:       c.FinePerDay,
		LoanPeriodSource: c.LoanPeriodSource,
		EnforceLoanLimit: c.EnforceLoanLimit,
	})
}

// OpenDatabase opens the configured store.
func (c Config) OpenDatabase() (*library.Database, error) {
	if c.DBDriver == library.DriverPostgres {
		return library.OpenDatabase(c.DBDriver, c.DBDSN)
	}
	if c.DBDSN != "" {
		return library.OpenDatabase(c.DBDriver, c.DBDSN)
	}
	return library.NewDatabase(c.DBPath)
}

func getenv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parser collects conversion errors so Load can report all of them at once.
type parser struct {
	errs []string
}

func (p *parser) fail(key, raw string, err error) {
	p.errs = append(p.errs, fmt.Sprintf("%s=%q: %v", key, raw, err))
}

func (p *parser) err() error {
	if len(p.errs) == 0 {
		return nil
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(p.errs, "; "))
}

func (p *parser) intVar(key string, def int) int {
	raw := getenv(key, "")
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		p.fail(key, raw, err)
		return def
	}
	return v
}

func (p *parser) boolVar(key string, def bool) bool {
	raw := getenv(key, "")
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		p.fail(key, raw, err)
		return def
	}
	return v
}

func (p *parser) durationVar(key string, def time.Duration) time.Duration {
	raw := getenv(key, "")
	if raw == "" {
		return def
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		p.fail(key, raw, err)
		return def
	}
	return v
}

func (p *parser) decimalVar(key, def string) decimal.Decimal {
	raw := getenv(key, def)
	v, err := decimal.NewFromString(raw)
	if err != nil {
		p.fail(key, raw, err)
		return decimal.RequireFromString(def)
	}
	return v
}
