package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	t.Setenv("DB_PASSWORD", "secret")
	t.Setenv("JWT_SECRET_KEY", "0123456789abcdef0123456789abcdef")
	t.Setenv("GATEWAY_BASE_URL", "http://gateway.local")
	t.Setenv("LOG_OUTPUT", "stdout")
}

func TestLoadProductionConfig_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := LoadProductionConfig()
	require.NoError(t, err)

	assert.Equal(t, 60*time.Second, cfg.Scheduler.Interval)
	assert.Equal(t, 50, cfg.Scheduler.LegacyBatchSize)
	assert.Equal(t, "@every 5m", cfg.Scheduler.RecoverySpec)
	assert.Equal(t, "http", cfg.Gateway.Provider)
	assert.Equal(t, "massdispatch:", cfg.Cache.RedisPrefix)
}

func TestLoadProductionConfig_EnvFile(t *testing.T) {
	setRequiredEnv(t)

	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("SCHEDULER_INTERVAL=15s\nGATEWAY_PROVIDER=mock\n"), 0o600))
	t.Setenv("ENV_FILE", envFile)
	// restore the keys godotenv is about to set; it never overrides existing variables
	t.Setenv("SCHEDULER_INTERVAL", "")
	t.Setenv("GATEWAY_PROVIDER", "")
	os.Unsetenv("SCHEDULER_INTERVAL")
	os.Unsetenv("GATEWAY_PROVIDER")

	cfg, err := LoadProductionConfig()
	require.NoError(t, err)
	assert.Equal(t, 15*time.Second, cfg.Scheduler.Interval)
	assert.Equal(t, "mock", cfg.Gateway.Provider)
}

func TestValidateProductionConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(cfg *ProductionConfig)
		wantErr string
	}{
		{name: "valid"},
		{
			name:    "short jwt secret",
			mutate:  func(cfg *ProductionConfig) { cfg.JWT.SecretKey = "short" },
			wantErr: "JWT_SECRET_KEY",
		},
		{
			name:    "unknown gateway provider",
			mutate:  func(cfg *ProductionConfig) { cfg.Gateway.Provider = "smtp" },
			wantErr: "GATEWAY_PROVIDER",
		},
		{
			name:    "http gateway without url",
			mutate:  func(cfg *ProductionConfig) { cfg.Gateway.BaseURL = "" },
			wantErr: "GATEWAY_BASE_URL",
		},
		{
			name:    "lease not longer than interval",
			mutate:  func(cfg *ProductionConfig) { cfg.Scheduler.Lease = cfg.Scheduler.Interval },
			wantErr: "SCHEDULER_LEASE",
		},
		{
			name: "disabled scheduler skips scheduler checks",
			mutate: func(cfg *ProductionConfig) {
				cfg.Scheduler.Enabled = false
				cfg.Scheduler.RecoverySpec = ""
			},
		},
		{
			name:    "file logging without path",
			mutate:  func(cfg *ProductionConfig) { cfg.Logging.Output = "file"; cfg.Logging.FilePath = "" },
			wantErr: "LOG_FILE_PATH",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequiredEnv(t)
			cfg, err := LoadProductionConfig()
			require.NoError(t, err)

			if tt.mutate != nil {
				tt.mutate(cfg)
			}
			err = ValidateProductionConfig(cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
