package risk

import (
	"testing"
	"time"

	"duruon/internal/config"
	"duruon/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRiskConfig() config.RiskConfig {
	return config.RiskConfig{
		AngleThresholdDeg:          50.0,
		DropThreshold:              0.15,
		DropWindowS:                1.0,
		AngleChangeThreshold:       30.0,
		PositionChangeThreshold:    0.15,
		ImmobileWindowS:            2.0,
		MovementToleranceLowAngle:  0.12,
		MovementToleranceHighAngle: 0.05,
		SoftImmobilityS:            5.0,
		HardImmobilityS:            10.0,
		FastFallImmobilityS:        3.0,
		CooldownS:                  60.0,
		ConfirmGraceS:              2.0,
		ShowerModeEnabled:          false,
		ShowerStartHour:            6,
		ShowerEndHour:              22,
		ShowerDurationMultiplier:   4.0,
		MinKeypointConfidence:      0.1,
		FallbackConfidenceFloor:    0.05,
		ExtremeLowAngleDeg:         20.0,
		ExtremeLowAngleConfirmS:    2.0,
	}
}

// poseFrame 构造测试帧：左右髋/肩各自给定
func poseFrame(ts time.Time, kps map[string]models.Keypoint) *models.PoseFrame {
	return &models.PoseFrame{
		Keypoints: kps,
		Score:     0.9,
		Timestamp: ts,
	}
}

func torsoFrame(ts time.Time, hipX, hipY, shoulderX, shoulderY float64) *models.PoseFrame {
	return poseFrame(ts, map[string]models.Keypoint{
		"left_hip":       {X: hipX, Y: hipY, Score: 0.9},
		"right_hip":      {X: hipX, Y: hipY, Score: 0.9},
		"left_shoulder":  {X: shoulderX, Y: shoulderY, Score: 0.9},
		"right_shoulder": {X: shoulderX, Y: shoulderY, Score: 0.9},
	})
}

func TestTorsoAngle_AlwaysInRange(t *testing.T) {
	cfg := testRiskConfig()
	ts := time.Date(2025, 1, 15, 3, 0, 0, 0, time.UTC)

	cases := []struct {
		name                 string
		hipX, hipY, shX, shY float64
	}{
		{"upright", 0.5, 0.5, 0.5, 0.3},
		{"horizontal", 0.5, 0.8, 0.8, 0.8},
		{"diagonal", 0.5, 0.5, 0.7, 0.3},
		{"inverted", 0.5, 0.3, 0.5, 0.5}, // 肩在髋下方
		{"degenerate", 0.5, 0.5, 0.5, 0.5},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			frame := torsoFrame(ts, tc.hipX, tc.hipY, tc.shX, tc.shY)
			sample, _, _, ok := computeTorsoSample(frame, nil, &cfg)
			require.True(t, ok)
			assert.GreaterOrEqual(t, sample.AngleDeg, 0.0)
			assert.LessOrEqual(t, sample.AngleDeg, 90.0)
		})
	}
}

func TestTorsoAngle_UprightAndHorizontal(t *testing.T) {
	cfg := testRiskConfig()
	ts := time.Date(2025, 1, 15, 3, 0, 0, 0, time.UTC)

	// 肩正上方 → 90°
	upright, _, _, ok := computeTorsoSample(torsoFrame(ts, 0.5, 0.5, 0.5, 0.3), nil, &cfg)
	require.True(t, ok)
	assert.InDelta(t, 90.0, upright.AngleDeg, 0.01)

	// 肩髋同高 → 0°
	flat, _, _, ok := computeTorsoSample(torsoFrame(ts, 0.5, 0.8, 0.8, 0.8), nil, &cfg)
	require.True(t, ok)
	assert.InDelta(t, 0.0, flat.AngleDeg, 0.01)

	// 肩髋重合（退化）→ 0°
	degenerate, _, _, ok := computeTorsoSample(torsoFrame(ts, 0.5, 0.5, 0.5, 0.5), nil, &cfg)
	require.True(t, ok)
	assert.Equal(t, 0.0, degenerate.AngleDeg)
}

func TestTorso_FallbackLandmarks(t *testing.T) {
	cfg := testRiskConfig()
	ts := time.Date(2025, 1, 15, 3, 0, 0, 0, time.UTC)

	// 髋部置信度不足，用膝盖代替
	frame := poseFrame(ts, map[string]models.Keypoint{
		"left_hip":       {X: 0.5, Y: 0.5, Score: 0.02},
		"right_hip":      {X: 0.5, Y: 0.5, Score: 0.02},
		"left_knee":      {X: 0.5, Y: 0.6, Score: 0.08},
		"right_knee":     {X: 0.5, Y: 0.6, Score: 0.08},
		"left_shoulder":  {X: 0.5, Y: 0.3, Score: 0.9},
		"right_shoulder": {X: 0.5, Y: 0.3, Score: 0.9},
	})

	sample, _, _, ok := computeTorsoSample(frame, nil, &cfg)
	require.True(t, ok)
	assert.True(t, sample.UsedFallback)
	assert.InDelta(t, 0.6, sample.HipMid.Y, 0.001)
}

func TestTorso_AbsentWhenNoUsableLandmarks(t *testing.T) {
	cfg := testRiskConfig()
	ts := time.Date(2025, 1, 15, 3, 0, 0, 0, time.UTC)

	// 所有下半身关键点都低于备选下限
	frame := poseFrame(ts, map[string]models.Keypoint{
		"left_hip":       {X: 0.5, Y: 0.5, Score: 0.01},
		"right_hip":      {X: 0.5, Y: 0.5, Score: 0.01},
		"left_shoulder":  {X: 0.5, Y: 0.3, Score: 0.9},
		"right_shoulder": {X: 0.5, Y: 0.3, Score: 0.9},
	})

	_, _, _, ok := computeTorsoSample(frame, nil, &cfg)
	assert.False(t, ok)
}

func TestTorso_MotionFromPreviousSample(t *testing.T) {
	cfg := testRiskConfig()
	ts := time.Date(2025, 1, 15, 3, 0, 0, 0, time.UTC)

	first, _, _, ok := computeTorsoSample(torsoFrame(ts, 0.5, 0.5, 0.5, 0.3), nil, &cfg)
	require.True(t, ok)
	assert.Equal(t, 0.0, first.Motion) // 无前序样本

	second, _, _, ok := computeTorsoSample(
		torsoFrame(ts.Add(100*time.Millisecond), 0.5, 0.6, 0.5, 0.4), &first, &cfg)
	require.True(t, ok)
	// 髋位移 0.1 + 肩位移 0.1
	assert.InDelta(t, 0.2, second.Motion, 0.001)
}

func TestAdaptiveThresholds(t *testing.T) {
	cfg := testRiskConfig()

	// 低角度 → 宽松容差
	low := AdaptiveThresholds(30.0, false, &cfg)
	assert.Equal(t, cfg.MovementToleranceLowAngle, low.MotionEps)
	assert.Equal(t, cfg.SoftImmobilityS, low.SoftImmobilityS)

	// 高角度 → 严格容差
	high := AdaptiveThresholds(80.0, false, &cfg)
	assert.Equal(t, cfg.MovementToleranceHighAngle, high.MotionEps)

	// 淋浴模式放大所有时长，容差不变
	shower := AdaptiveThresholds(30.0, true, &cfg)
	assert.Equal(t, cfg.MovementToleranceLowAngle, shower.MotionEps)
	assert.Equal(t, cfg.SoftImmobilityS*cfg.ShowerDurationMultiplier, shower.SoftImmobilityS)
	assert.Equal(t, cfg.HardImmobilityS*cfg.ShowerDurationMultiplier, shower.HardImmobilityS)
	assert.Equal(t, cfg.ImmobileWindowS*cfg.ShowerDurationMultiplier, shower.ImmobileWindowS)
}
