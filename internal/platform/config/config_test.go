package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnv_Defaults(t *testing.T) {
	cfg := FromEnv()

	assert.Equal(t, EnvDevelopment, cfg.Environment)
	assert.Equal(t, 1, cfg.Breaker.SuccessThreshold,
		"one successful half-open trial closes the breaker")
	assert.Equal(t, AuditDropOldest, cfg.Audit.FullPolicy)
	assert.False(t, cfg.Policy.FailOpen)
	assert.False(t, cfg.Budget.FailOpen)

	require.NoError(t, cfg.Validate())
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("AEGIS_BREAKER_SUCCESS_THRESHOLD", "3")
	t.Setenv("AEGIS_POLICY_TIMEOUT", "250ms")

	cfg := FromEnv()
	assert.Equal(t, 3, cfg.Breaker.SuccessThreshold)
	assert.Equal(t, 250*time.Millisecond, cfg.Policy.Timeout)
}

func TestValidate_ProductionHardening(t *testing.T) {
	base := FromEnv()
	base.Environment = EnvProduction
	base.JWT.SigningKey = "a-real-key"

	t.Run("clean production config passes", func(t *testing.T) {
		require.NoError(t, base.Validate())
	})

	t.Run("rejects policy fail-open", func(t *testing.T) {
		cfg := base
		cfg.Policy.FailOpen = true
		assert.Error(t, cfg.Validate())
	})

	t.Run("rejects budget fail-open", func(t *testing.T) {
		cfg := base
		cfg.Budget.FailOpen = true
		assert.Error(t, cfg.Validate())
	})

	t.Run("rejects dev signing key", func(t *testing.T) {
		cfg := base
		cfg.JWT.SigningKey = "dev-secret-key-change-in-production"
		assert.Error(t, cfg.Validate())
	})
}

func TestValidate_AuditPolicy(t *testing.T) {
	cfg := FromEnv()
	cfg.Audit.FullPolicy = "drop_everything"
	assert.Error(t, cfg.Validate())
}
