package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 50000.0, cfg.Billing.MaxTransaction)
	assert.Equal(t, "none", cfg.AntiFraud.BlockOnSeverity)
	assert.Equal(t, 3, cfg.Settlement.MaxAttempts)
}

func TestLoad_ExpandsEnvAndKeepsDefaults(t *testing.T) {
	t.Setenv("BILLING_PG_DSN", "postgres://billing@db/billing")
	path := writeConfig(t, `
app:
  env: production
storage:
  driver: postgres
postgres:
  dsn: ${BILLING_PG_DSN}
anti_fraud:
  amount_threshold: 2500
  block_on_severity: high
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.App.Env)
	assert.Equal(t, "postgres://billing@db/billing", cfg.Postgres.DSN)
	assert.Equal(t, 2500.0, cfg.AntiFraud.AmountThreshold)
	assert.Equal(t, "high", cfg.AntiFraud.BlockOnSeverity)
	// untouched sections keep their defaults
	assert.Equal(t, 5, cfg.AntiFraud.FrequencyThreshold)
	assert.Equal(t, 86400, cfg.AntiFraud.FailureWindowSeconds)
	assert.Equal(t, "stub", cfg.Settlement.Driver)
}

func TestLoad_EnvFallbacks(t *testing.T) {
	t.Setenv("APP_ENV", "")
	t.Setenv("BILLING_ADDR", "")

	cfg, err := Load(filepath.Join("..", "..", "configs", "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "development", cfg.App.Env)

	t.Setenv("APP_ENV", "staging")
	cfg, err = Load(filepath.Join("..", "..", "configs", "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "staging", cfg.App.Env)

	path := writeConfig(t, "server:\n  port: \"${BILLING_ADDR:-:9090}\"\n")
	cfg, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Port)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "app: [unclosed"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "storage:\n  driver: cassandra\n"))
	assert.ErrorContains(t, err, "storage.driver")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"max below min", func(c *Config) { c.Billing.MaxTransaction = 0 }, "max_transaction"},
		{"empty pool", func(c *Config) { c.Settlement.PoolSize = 0 }, "pool_size"},
		{"no attempts", func(c *Config) { c.Settlement.MaxAttempts = 0 }, "max_attempts"},
		{"http without url", func(c *Config) { c.Settlement.Driver = "http" }, "settlement.url"},
		{"bad severity", func(c *Config) { c.AntiFraud.BlockOnSeverity = "critical" }, "block_on_severity"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}
}
