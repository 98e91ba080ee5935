package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWithEnvOverrides(t *testing.T) {
	t.Setenv("CONFIG_ENV", "missing")
	t.Setenv("ROULETTE_USER_ID", "7")
	t.Setenv("ROULETTE_CALL_GRACE_WINDOW", "5s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "7", cfg.UserID)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 15*time.Minute, cfg.Call.TotalBudget)
	assert.Equal(t, 10*time.Minute, cfg.Call.ReservationThreshold)
	assert.Equal(t, 5*time.Second, cfg.Call.GraceWindow)
	assert.Equal(t, 10*time.Second, cfg.Realtime.ConnectTimeout)
	assert.True(t, cfg.Matching.AutoRematch)
}

func TestLoadRequiresUserID(t *testing.T) {
	t.Setenv("CONFIG_ENV", "missing")
	_, err := Load()
	assert.Error(t, err)
}

func TestValidateReservationBelowBudget(t *testing.T) {
	cfg := Config{UserID: "7", Call: CallConfig{TotalBudget: time.Minute, ReservationThreshold: time.Minute}}
	assert.Error(t, cfg.Validate())

	cfg.Call.ReservationThreshold = 30 * time.Second
	assert.NoError(t, cfg.Validate())
}
