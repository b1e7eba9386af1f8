package service

import (
	"context"
	"os"
	"testing"
	"time"

	"duruon/internal/alert"
	"duruon/internal/config"
	"duruon/internal/indicator"
	"duruon/internal/models"
	"duruon/internal/notify"
	"duruon/internal/pose"
	"duruon/internal/presence"
	"duruon/internal/risk"
	"duruon/internal/sensor"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// newTestMonitor 手工装配一套全 mock 的监护服务
func newTestMonitor(t *testing.T, frames []*models.PoseFrame) (*MonitorService, *notify.Dummy) {
	os.Clearenv()
	cfg, err := config.Load()
	require.NoError(t, err)

	logger := zap.NewNop()
	dummy := notify.NewDummy(logger)
	engine := risk.NewEngine(cfg.Risk, logger)
	motion := sensor.NewMockMotionSensor()
	motion.SetAlways(true)

	s := &MonitorService{
		config:      cfg,
		logger:      logger,
		backend:     pose.NewMockBackend(frames),
		engine:      engine,
		coordinator: presence.NewCoordinator(cfg.Presence, logger),
		manager:     alert.NewManager(cfg.Alert, cfg.Risk, dummy, engine, nil, "", logger),
		notifier:    dummy,
		motion:      motion,
		light:       indicator.NopStatusLight{},
		acksCh:      make(chan models.Ack, 16),
		stopCh:      make(chan struct{}),
	}
	return s, dummy
}

// 端到端：mock 跌倒序列 → 恰好一条告警 + 一张骨架快照
func TestMonitor_HardFallEndToEnd(t *testing.T) {
	start := time.Date(2025, 1, 15, 3, 0, 0, 0, time.UTC)
	frames := pose.HardFallSequence(start, 15)

	s, dummy := newTestMonitor(t, frames)
	s.coordinator.ForceActivate(start)

	ctx := context.Background()
	for range frames {
		s.tick(ctx)
	}

	require.Len(t, dummy.Alerts, 1)
	assert.Contains(t, dummy.Alerts[0], "FALL DETECTED")
	assert.Len(t, dummy.Captions, 1)
	require.NotNil(t, s.manager.Session())
	assert.Equal(t, models.EventHardFall, s.manager.Session().EventKind)
}

func TestMonitor_AckOKClosesSessionAndReplies(t *testing.T) {
	start := time.Date(2025, 1, 15, 3, 0, 0, 0, time.UTC)
	frames := pose.HardFallSequence(start, 15)

	s, dummy := newTestMonitor(t, frames)
	s.coordinator.ForceActivate(start)

	ctx := context.Background()
	for range frames {
		s.tick(ctx)
	}
	require.NotNil(t, s.manager.Session())

	s.handleAck(ctx, models.AckOK)

	assert.Nil(t, s.manager.Session())
	require.NotEmpty(t, dummy.Infos)
	assert.Contains(t, dummy.Infos[len(dummy.Infos)-1], "closed")
}

func TestMonitor_StatusReport(t *testing.T) {
	s, dummy := newTestMonitor(t, nil)

	s.handleAck(context.Background(), models.AckStatus)

	require.Len(t, dummy.Infos, 1)
	assert.Contains(t, dummy.Infos[0], "Status")
	assert.Contains(t, dummy.Infos[0], "Soft threshold")
}

// 待机状态不跑推理：mock 后端一帧都不该被消费
func TestMonitor_IdleSkipsInference(t *testing.T) {
	start := time.Date(2025, 1, 15, 3, 0, 0, 0, time.UTC)
	frames := pose.HardFallSequence(start, 15)

	s, dummy := newTestMonitor(t, frames)
	motion := sensor.NewMockMotionSensor() // 恒无动作
	s.motion = motion

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		s.tick(ctx)
	}

	assert.False(t, s.coordinator.Active())
	assert.Empty(t, dummy.Alerts)
}

// 暂停期间整条评估链路都不跑：mock 帧不被消费，恢复后照常告警
func TestMonitor_PauseSkipsEvaluation(t *testing.T) {
	start := time.Date(2025, 1, 15, 3, 0, 0, 0, time.UTC)
	frames := pose.HardFallSequence(start, 15)

	s, dummy := newTestMonitor(t, frames)
	s.coordinator.ForceActivate(start)

	ctx := context.Background()
	s.handleAck(ctx, models.AckPause)
	for range frames {
		s.tick(ctx)
	}

	assert.Empty(t, dummy.Alerts)
	assert.Nil(t, s.manager.Session())

	// 恢复后帧序列从头评估（暂停期间未被消费），照常产出告警
	s.handleAck(ctx, models.AckResume)
	for range frames {
		s.tick(ctx)
	}
	require.Len(t, dummy.Alerts, 1)
	assert.Contains(t, dummy.Alerts[0], "FALL DETECTED")
}

// stop 反馈让主循环退出
func TestMonitor_AckStopExitsRunLoop(t *testing.T) {
	s, dummy := newTestMonitor(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.handleAck(ctx, models.AckStop)

	require.NotEmpty(t, dummy.Infos)
	assert.Contains(t, dummy.Infos[len(dummy.Infos)-1], "Shutting down")

	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("run loop did not exit after stop acknowledgment")
	}
}
