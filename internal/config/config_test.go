package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/heaven-sync/internal/crypto"
)

func TestFromEnv_Defaults(t *testing.T) {
	t.Setenv("HEAVEN_TIMEZONE", "UTC")
	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, ":3001", cfg.ListenAddr)
	assert.Equal(t, "https://pro-manager.cityheaven.net", cfg.HeavenURL)
	assert.True(t, cfg.Headless)
	assert.Equal(t, 2, cfg.Concurrency)
	assert.Equal(t, 2*time.Second, cfg.PollInterval)
	assert.Equal(t, 10*time.Second, cfg.ElementTimeout)
	assert.Equal(t, 30*time.Second, cfg.NavigationTimeout)
	assert.Equal(t, 30*time.Second, cfg.LaunchTimeout)
	assert.Equal(t, 1.0, cfg.SettleScale)
	assert.Equal(t, ".", cfg.ArtifactDir)
	assert.Equal(t, "UTC", cfg.Timezone.String())
	assert.Equal(t, 2*time.Minute, cfg.AttemptLease)
	assert.Empty(t, cfg.UserAgent)
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("HEAVEN_TIMEZONE", "UTC")
	t.Setenv("HEADLESS", "false")
	t.Setenv("WORKER_CONCURRENCY", "4")
	t.Setenv("ELEMENT_TIMEOUT_SECONDS", "20")
	t.Setenv("SETTLE_SCALE", "1.5")
	t.Setenv("ATTEMPT_LEASE_SECONDS", "300")
	t.Setenv("BROWSER_USER_AGENT", "Mozilla/5.0 heavensync")
	t.Setenv("HEAVEN_USER", "shop")
	t.Setenv("HEAVEN_PASS", "pw")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.False(t, cfg.Headless)
	assert.Equal(t, 4, cfg.Concurrency)
	assert.Equal(t, 20*time.Second, cfg.ElementTimeout)
	assert.Equal(t, 1.5, cfg.SettleScale)
	assert.Equal(t, 5*time.Minute, cfg.AttemptLease)
	assert.Equal(t, "Mozilla/5.0 heavensync", cfg.UserAgent)
	assert.NoError(t, cfg.RequireRemote())
	assert.Error(t, cfg.RequireServer())
}

func TestFromEnv_Invalid(t *testing.T) {
	cases := map[string]string{
		"WORKER_CONCURRENCY":      "0",
		"SCHED_POLL_SECONDS":      "soon",
		"LAUNCH_TIMEOUT_SECONDS":  "-1",
		"SETTLE_SCALE":            "-2",
		"HEADLESS":                "maybe",
		"HEAVEN_TIMEZONE":         "Nowhere/Special",
		"ELEMENT_TIMEOUT_SECONDS": "1.5",
		"ATTEMPT_LEASE_SECONDS":   "0",
	}
	for k, v := range cases {
		t.Run(k, func(t *testing.T) {
			if k != "HEAVEN_TIMEZONE" {
				t.Setenv("HEAVEN_TIMEZONE", "UTC")
			}
			t.Setenv(k, v)
			_, err := FromEnv()
			assert.Error(t, err)
		})
	}
}

func TestFromEnv_SealedPassword(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	a, err := crypto.NewFromString(key)
	require.NoError(t, err)
	sealed, err := a.EncryptToString("from-vault")
	require.NoError(t, err)

	t.Setenv("HEAVEN_TIMEZONE", "UTC")
	t.Setenv("HEAVEN_PASS", "plain")
	t.Setenv("HEAVEN_PASS_ENC", sealed)
	t.Setenv("CRED_ENC_KEY", key)

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "from-vault", cfg.HeavenPass)

	t.Setenv("CRED_ENC_KEY", "")
	_, err = FromEnv()
	assert.Error(t, err)
}
