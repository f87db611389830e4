package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test helper to set env vars and clean up after
func setEnv(t *testing.T, key, value string) {
	t.Helper()
	old := os.Getenv(key)
	os.Setenv(key, value)
	t.Cleanup(func() {
		if old == "" {
			os.Unsetenv(key)
		} else {
			os.Setenv(key, old)
		}
	})
}

func TestLoad_Defaults(t *testing.T) {
	setEnv(t, "PORT", "")
	setEnv(t, "COMMISSION_RATE", "")
	setEnv(t, "AMOUNT_TOLERANCE", "")
	setEnv(t, "ENV", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultCurrency, cfg.Currency)
	assert.Equal(t, DefaultCommissionRate, cfg.CommissionRate)
	assert.Equal(t, DefaultFlagThreshold, cfg.FlagThreshold)
	assert.Equal(t, DefaultVerifyWindow, cfg.AutoVerifyWindowDays)
	assert.True(t, cfg.IsDevelopment())
	assert.True(t, cfg.Tolerance().IsZero())
}

func TestLoad_Overrides(t *testing.T) {
	setEnv(t, "PORT", "9090")
	setEnv(t, "COMMISSION_RATE", "3.0")
	setEnv(t, "AMOUNT_TOLERANCE", "0.05")
	setEnv(t, "REVIEW_FLAG_THRESHOLD", "5")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "3.0", cfg.CommissionRate)
	assert.Equal(t, 5, cfg.FlagThreshold)
	assert.Equal(t, "0.05", cfg.Tolerance().String())
}

func TestLoad_InvalidCommissionRate(t *testing.T) {
	setEnv(t, "COMMISSION_RATE", "not-a-number")

	_, err := Load()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "COMMISSION_RATE")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr string
	}{
		{
			name:    "rate above 100",
			config:  Config{CommissionRate: "120", AmountTolerance: "0", FlagThreshold: 3},
			wantErr: "COMMISSION_RATE",
		},
		{
			name:    "negative tolerance",
			config:  Config{CommissionRate: "2.5", AmountTolerance: "-1", FlagThreshold: 3},
			wantErr: "AMOUNT_TOLERANCE",
		},
		{
			name:    "zero flag threshold",
			config:  Config{CommissionRate: "2.5", AmountTolerance: "0", FlagThreshold: 0},
			wantErr: "REVIEW_FLAG_THRESHOLD",
		},
		{
			name:    "production without admin secret",
			config:  Config{Env: "production", CommissionRate: "2.5", AmountTolerance: "0", FlagThreshold: 3},
			wantErr: "ADMIN_SECRET",
		},
		{
			name:   "valid",
			config: Config{Env: "development", CommissionRate: "2.5", AmountTolerance: "0", FlagThreshold: 3},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}
