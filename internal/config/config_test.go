package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultValues(t *testing.T) {
	// 清除环境变量
	os.Clearenv()

	cfg, err := Load()
	require.NoError(t, err)
	assert.NotNil(t, cfg)

	// 验证风险引擎默认值
	assert.Equal(t, 50.0, cfg.Risk.AngleThresholdDeg)
	assert.Equal(t, 0.15, cfg.Risk.DropThreshold)
	assert.Equal(t, 1.0, cfg.Risk.DropWindowS)
	assert.Equal(t, 30.0, cfg.Risk.SoftImmobilityS)
	assert.Equal(t, 60.0, cfg.Risk.HardImmobilityS)
	assert.Equal(t, 12.0, cfg.Risk.FastFallImmobilityS)
	assert.Equal(t, 600.0, cfg.Risk.CooldownS)
	assert.True(t, cfg.Risk.ShowerModeEnabled)
	assert.Equal(t, 6, cfg.Risk.ShowerStartHour)
	assert.Equal(t, 22, cfg.Risk.ShowerEndHour)
	assert.Equal(t, 4.0, cfg.Risk.ShowerDurationMultiplier)
	assert.Equal(t, 20.0, cfg.Risk.ExtremeLowAngleDeg)

	// 验证传感器激活默认值
	assert.Equal(t, 2.0, cfg.Presence.DebounceS)
	assert.Equal(t, 10.0, cfg.Presence.GracePeriodS)
	assert.Equal(t, 300.0, cfg.Presence.AutoSleepS)

	// 验证告警默认值
	assert.Equal(t, 120.0, cfg.Alert.RepeatAfterS)
	assert.Equal(t, 3, cfg.Alert.MaxRepeats)
	assert.Equal(t, 5, cfg.Alert.AdaptBatchSize)
	assert.Equal(t, 0.5, cfg.Alert.MinScale)
	assert.Equal(t, 2.5, cfg.Alert.MaxScale)

	// 持久化默认关闭
	assert.False(t, cfg.Redis.Enabled)
	assert.False(t, cfg.Database.Enabled)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_EnvOverrides(t *testing.T) {
	os.Clearenv()
	t.Setenv("RISK_SOFT_IMMOBILITY_S", "45")
	t.Setenv("RISK_HARD_IMMOBILITY_S", "90")
	t.Setenv("CAMERA_FPS", "10")
	t.Setenv("PIR_SENSOR_TYPE", "mock")
	t.Setenv("REDIS_ENABLED", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 45.0, cfg.Risk.SoftImmobilityS)
	assert.Equal(t, 90.0, cfg.Risk.HardImmobilityS)
	assert.Equal(t, 10, cfg.Camera.FPS)
	assert.Equal(t, "mock", cfg.Sensor.Type)
	assert.True(t, cfg.Redis.Enabled)
}

func TestLoad_RejectsSoftNotLessThanHard(t *testing.T) {
	os.Clearenv()
	t.Setenv("RISK_SOFT_IMMOBILITY_S", "60")
	t.Setenv("RISK_HARD_IMMOBILITY_S", "60")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "soft immobility")
}

func TestLoad_RejectsInvertedShowerHours(t *testing.T) {
	os.Clearenv()
	t.Setenv("RISK_SHOWER_START_HOUR", "23")
	t.Setenv("RISK_SHOWER_END_HOUR", "6")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "shower hours")
}

func TestLoad_RejectsExtremeAngleAboveThreshold(t *testing.T) {
	os.Clearenv()
	t.Setenv("RISK_EXTREME_LOW_ANGLE_DEG", "55")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "extreme low angle")
}

func TestLoad_RejectsBadScaleBounds(t *testing.T) {
	os.Clearenv()
	t.Setenv("ALERT_ADAPT_MIN_SCALE", "3.0")
	t.Setenv("ALERT_ADAPT_MAX_SCALE", "2.5")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scale bounds")
}
