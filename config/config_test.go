package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"library-service/library"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"HTTP_ADDR", "DB_DRIVER", "JWT_TTL", "LOAN_PERIOD_DAYS", "FINE_PER_DAY", "LOAN_PERIOD_SOURCE", "ENFORCE_LOAN_LIMIT", "CORS_ORIGINS"} {
		t.Setenv(k, "")
	}

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, library.DriverSQLite, cfg.DBDriver)
	assert.Equal(t, 24*time.Hour, cfg.JWTTTL)
	assert.Equal(t, 14, cfg.LoanPeriodDays)
	assert.Equal(t, "1", cfg.FinePerDay.String())
	assert.Equal(t, library.LoanPeriodFixed, cfg.LoanPeriodSource)
	assert.False(t, cfg.EnforceLoanLimit)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.CORSOrigins)

	p, err := cfg.Policy()
	require.NoError(t, err)
	assert.Equal(t, 14, p.LoanPeriodDays())
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("LOAN_PERIOD_DAYS", "21")
	t.Setenv("FINE_PER_DAY", "0.50")
	t.Setenv("LOAN_PERIOD_SOURCE", "role")
	t.Setenv("ENFORCE_LOAN_LIMIT", "true")
	t.Setenv("JWT_TTL", "90m")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example ,")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, 21, cfg.LoanPeriodDays)
	assert.Equal(t, "0.50", cfg.FinePerDay.StringFixed(2))
	assert.Equal(t, library.LoanPeriodByRole, cfg.LoanPeriodSource)
	assert.True(t, cfg.EnforceLoanLimit)
	assert.Equal(t, 90*time.Minute, cfg.JWTTTL)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)

	p, err := cfg.Policy()
	require.NoError(t, err)
	assert.True(t, p.EnforceLoanLimit())
	assert.Equal(t, library.LoanPeriodByRole, p.LoanPeriodSource())
}

func TestLoadReportsEveryBadValue(t *testing.T) {
	t.Setenv("LOAN_PERIOD_DAYS", "two weeks")
	t.Setenv("JWT_TTL", "forever")
	t.Setenv("FINE_PER_DAY", "a dollar")

	_, err := Load()
	require.Error(t, err)
	for _, key := range []string{"LOAN_PERIOD_DAYS", "JWT_TTL", "FINE_PER_DAY"} {
		assert.True(t, strings.Contains(err.Error(), key), "error should mention %s: %v", key, err)
	}
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("RABBITMQ_EXCHANGE=from-file\nLOG_LEVEL=debug\n"), 0o600))
	t.Setenv("LOG_LEVEL", "warn")
	// godotenv only fills unset keys; make sure the exchange starts unset.
	os.Unsetenv("RABBITMQ_EXCHANGE")
	t.Cleanup(func() { os.Unsetenv("RABBITMQ_EXCHANGE") })

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.RabbitExchange)
	assert.Equal(t, "warn", cfg.LogLevel, "process environment wins")

	_, err = Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	good := Config{JWTSecret: strings.Repeat("s", 32), DBDriver: library.DriverSQLite}
	assert.NoError(t, good.Validate())

	short := good
	short.JWTSecret = "short"
	assert.Error(t, short.Validate())

	pg := good
	pg.DBDriver = library.DriverPostgres
	assert.Error(t, pg.Validate())
	pg.DBDSN = "postgres://localhost/library"
	assert.NoError(t, pg.Validate())

	unknown := good
	unknown.DBDriver = "mysql"
	assert.Error(t, unknown.Validate())
}
