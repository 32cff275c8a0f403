package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.AppAddr)
	require.Equal(t, 5*time.Second, cfg.LockTimeout)
	require.Equal(t, int64(1), cfg.DefaultLocationID)
	require.Equal(t, NotifyRedis, cfg.NotifyDriver)
	require.False(t, cfg.IsProduction())

	threshold, err := cfg.Threshold()
	require.NoError(t, err)
	require.Nil(t, threshold)
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("NOTIFY_DRIVER", "kafka")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("LOW_STOCK_THRESHOLD", "2.5")
	t.Setenv("DB_LOCK_TIMEOUT", "750ms")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.True(t, cfg.IsProduction())
	require.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	require.Equal(t, 750*time.Millisecond, cfg.LockTimeout)
	threshold, err := cfg.Threshold()
	require.NoError(t, err)
	require.Equal(t, "2.5", threshold.String())
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	cases := map[string][2]string{
		"driver":    {"NOTIFY_DRIVER", "smtp"},
		"location":  {"DEFAULT_LOCATION_ID", "0"},
		"threshold": {"LOW_STOCK_THRESHOLD", "-1"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv(env[0], env[1])
			_, err := LoadConfig()
			require.Error(t, err)
		})
	}
}

func TestTestModeFlag(t *testing.T) {
	t.Setenv(testModeEnv, "1")
	RefreshTestMode()
	require.True(t, InTestMode())
	t.Setenv(testModeEnv, "")
	RefreshTestMode()
	require.False(t, InTestMode())
}
