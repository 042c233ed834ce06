package config_test

import (
	"testing"
	"time"

	"posturewatch/config"

	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	for _, key := range []string{"SOURCE_MODE", "SOCKET_URL", "RECONNECT_DELAY_SECONDS", "SERIES_CAPACITY", "ALERT_MIN_LEVEL"} {
		t.Setenv(key, "")
	}

	cfg, err := config.LoadConfig()
	require.NoError(t, err)

	require.Equal(t, config.SourceSocket, cfg.SourceMode)
	require.Equal(t, "ws://localhost:8080", cfg.SocketURL)
	require.Equal(t, 5*time.Second, cfg.ReconnectDelay)
	require.Equal(t, 20, cfg.SeriesCapacity)
	require.Equal(t, "ESP32_BPM_Relay", cfg.WearableDeviceName)
	require.Equal(t, 120, cfg.WalkingDangerBPM)
	require.Equal(t, 100, cfg.RunningWarningBPM)
	require.Equal(t, "danger", cfg.AlertMinLevel)
}

func TestLoadConfig_EnvironmentOverrides(t *testing.T) {
	t.Setenv("SOURCE_MODE", "Wearable")
	t.Setenv("RECONNECT_DELAY_SECONDS", "2")
	t.Setenv("SERIES_CAPACITY", "50")
	t.Setenv("WALKING_DANGER_BPM", "130")

	cfg, err := config.LoadConfig()
	require.NoError(t, err)

	require.Equal(t, config.SourceWearable, cfg.SourceMode)
	require.Equal(t, 2*time.Second, cfg.ReconnectDelay)
	require.Equal(t, 50, cfg.SeriesCapacity)
	require.Equal(t, 130, cfg.WalkingDangerBPM)
}

func TestLoadConfig_InvalidSourceMode(t *testing.T) {
	t.Setenv("SOURCE_MODE", "carrier-pigeon")

	_, err := config.LoadConfig()
	require.Error(t, err)
}

func TestValidate_RejectsNonPositiveCapacity(t *testing.T) {
	cfg := &config.Config{
		SourceMode:     config.SourceSocket,
		SeriesCapacity: 0,
		ReconnectDelay: time.Second,
		AlertMinLevel:  "danger",
	}
	require.Error(t, cfg.Validate())
}

func TestWearableTopic(t *testing.T) {
	cfg := &config.Config{
		WearableDeviceName:         "relay",
		WearableServiceUUID:        "svc",
		WearableCharacteristicUUID: "chr",
	}
	require.Equal(t, "relay/svc/chr", cfg.WearableTopic())
}
