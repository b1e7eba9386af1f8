package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"duruon/internal/alert"
	"duruon/internal/config"
	"duruon/internal/indicator"
	"duruon/internal/models"
	"duruon/internal/notify"
	"duruon/internal/pose"
	"duruon/internal/presence"
	"duruon/internal/repository"
	"duruon/internal/risk"
	"duruon/internal/sensor"
	"duruon/internal/snapshot"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// Notifier 监护服务需要的完整通知渠道能力
type Notifier interface {
	alert.Notifier
	SendSnapshot(ctx context.Context, caption string, png []byte) error
	PollAcks(ctx context.Context) ([]models.Ack, error)
}

// MonitorService 监护服务（整合各层）
// 单一控制循环串行推进：采帧 → 风险评估 → 在场融合 → 告警分发
type MonitorService struct {
	config *config.Config
	logger *zap.Logger

	db          *sql.DB
	redisClient *redis.Client

	// 各层组件
	backend     pose.Backend
	engine      *risk.Engine
	coordinator *presence.Coordinator
	manager     *alert.Manager
	notifier    Notifier
	motion      sensor.MotionSensor
	light       indicator.StatusLight
	eventsRepo  *repository.AlertEventsRepository

	dispatch *asyncNotifier

	acksCh   chan models.Ack
	stopCh   chan struct{} // 用户 stop 反馈触发的退出信号
	stopOnce sync.Once
}

// NewMonitorService 创建监护服务
func NewMonitorService(cfg *config.Config, logger *zap.Logger) (*MonitorService, error) {
	s := &MonitorService{
		config: cfg,
		logger: logger,
		acksCh: make(chan models.Ack, 16),
		stopCh: make(chan struct{}),
	}

	// 1. 可选持久化：Redis（会话与调参状态）
	var kv alert.KVStore
	if cfg.Redis.Enabled {
		s.redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := s.redisClient.Ping(context.Background()).Err(); err != nil {
			return nil, fmt.Errorf("failed to ping redis: %w", err)
		}
		kv = alert.NewRedisKVStore(s.redisClient)
	}

	// 2. 可选持久化：Postgres（告警历史）
	if cfg.Database.Enabled {
		db, err := sql.Open("postgres", buildDSN(cfg))
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}
		s.db = db
		s.eventsRepo = repository.NewAlertEventsRepository(db, logger)
	}

	// 3. 姿态后端
	switch cfg.Backend.Type {
	case "mock":
		frames := pose.HardFallSequence(time.Now(), cfg.Camera.FPS)
		s.backend = pose.NewMockBackend(frames)
	default:
		timeout := time.Duration(cfg.Backend.TimeoutS * float64(time.Second))
		s.backend = pose.NewHTTPBackend(cfg.Backend.URL, timeout, logger)
	}

	// 4. 通知渠道：外发一律经异步队列，评估循环不等网络
	var base Notifier
	switch cfg.Notifier.Type {
	case "dummy":
		base = notify.NewDummy(logger)
	default:
		if cfg.Notifier.BotToken == "" || cfg.Notifier.ChatID == "" {
			return nil, fmt.Errorf("telegram notifier requires TG_BOT_TOKEN and TG_CHAT_ID")
		}
		base = notify.NewTelegram(cfg.Notifier.BotToken, cfg.Notifier.ChatID, logger)
	}
	s.dispatch = newAsyncNotifier(base, logger)
	s.notifier = s.dispatch

	// 5. 动作传感器
	switch cfg.Sensor.Type {
	case "mock":
		mock := sensor.NewMockMotionSensor()
		mock.SetAlways(true)
		s.motion = mock
	default:
		m, err := sensor.NewMQTTMotionSensor(sensor.MQTTOptions{
			Broker:   cfg.Sensor.Broker,
			ClientID: cfg.Sensor.ClientID,
			Username: cfg.Sensor.Username,
			Password: cfg.Sensor.Password,
		}, cfg.Sensor.Topic, cfg.Sensor.HoldS, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create motion sensor: %w", err)
		}
		s.motion = m
	}

	// 6. 状态指示灯
	switch cfg.Indicator.Type {
	case "mqtt":
		l, err := indicator.NewMQTTStatusLight(indicator.MQTTOptions{
			Broker:   cfg.Indicator.Broker,
			ClientID: cfg.Indicator.ClientID,
			Username: cfg.Indicator.Username,
			Password: cfg.Indicator.Password,
		}, cfg.Indicator.TopicPrefix, cfg.Indicator.RefreshS, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create status light: %w", err)
		}
		s.light = l
	default:
		s.light = indicator.NopStatusLight{}
	}

	// 7. 判定与告警核心
	s.engine = risk.NewEngine(cfg.Risk, logger)
	s.coordinator = presence.NewCoordinator(cfg.Presence, logger)
	s.manager = alert.NewManager(cfg.Alert, cfg.Risk, s.notifier, s.engine, kv, cfg.Redis.KeyPrefix, logger)

	return s, nil
}

// Run 启动监护循环，阻塞到 ctx 取消
func (s *MonitorService) Run(ctx context.Context) error {
	s.logger.Info("Starting monitor service",
		zap.Int("fps", s.config.Camera.FPS),
		zap.String("backend", s.config.Backend.Type),
		zap.String("notifier", s.config.Notifier.Type),
	)

	if err := s.manager.Restore(ctx); err != nil {
		s.logger.Warn("Failed to restore alert state, starting fresh", zap.Error(err))
	}

	go s.pollAcksLoop(ctx)
	if s.dispatch != nil {
		go s.dispatch.run(ctx)
	}

	activeInterval := time.Second / time.Duration(s.config.Camera.FPS)
	idleInterval := time.Duration(s.config.Camera.IdleTickS * float64(time.Second))

	timer := time.NewTimer(activeInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Monitor loop stopped")
			return nil

		case <-s.stopCh:
			s.logger.Info("Monitor loop stopped by user request")
			return nil

		case ack := <-s.acksCh:
			s.handleAck(ctx, ack)

		case <-timer.C:
			s.tick(ctx)
			if s.coordinator.Active() {
				timer.Reset(activeInterval)
			} else {
				timer.Reset(idleInterval)
			}
		}
	}
}

// tick 单次监护周期
func (s *MonitorService) tick(ctx context.Context) {
	pirMotion := s.motion.Motion(time.Now())

	// 暂停：协调器与风险引擎都不推进，只维持状态灯
	if s.manager.Paused() {
		s.publishStatus(pirMotion, s.coordinator.Active())
		return
	}

	// 待机/宽限期：只推进协调器，不跑推理
	if !s.coordinator.Active() {
		s.coordinator.Observe(time.Now(), pirMotion, false)
		if !s.coordinator.Active() {
			s.publishStatus(pirMotion, false)
			return
		}
	}

	frame, err := s.backend.Infer(ctx)
	if err != nil {
		s.logger.Error("Pose inference failed", zap.Error(err))
		s.light.Set(indicator.SystemError, indicator.PIRMonitoring, s.alertStatus())
		return
	}
	now := frame.Timestamp

	metrics := s.engine.Evaluate(frame)
	s.coordinator.Observe(now, pirMotion, metrics.Present)

	if metrics.Event != nil {
		s.dispatchEvent(ctx, metrics.Event, frame)
	}
	s.manager.Tick(ctx, now)

	s.publishStatus(pirMotion, true)
}

// dispatchEvent 把风险事件交给告警管理器，并做历史记录与快照外发
func (s *MonitorService) dispatchEvent(ctx context.Context, ev *models.RiskEvent, frame *models.PoseFrame) {
	session := s.manager.OnRiskEvent(ctx, ev)
	if session == nil {
		return
	}

	if s.eventsRepo != nil {
		s.recordEvent(ctx, session, ev)
	}

	// 匿名骨架快照：只在人可见时有内容可画
	if ev.Metrics.Present {
		png, err := snapshot.Render(frame)
		if err != nil {
			s.logger.Warn("Failed to render skeleton snapshot", zap.Error(err))
			return
		}
		caption := fmt.Sprintf("Skeleton snapshot at %s", ev.Timestamp.Format("15:04:05"))
		if err := s.notifier.SendSnapshot(ctx, caption, png); err != nil {
			s.logger.Warn("Failed to send snapshot", zap.Error(err))
		}
	}
}

// recordEvent 写入告警历史（失败不阻断）
func (s *MonitorService) recordEvent(ctx context.Context, session *models.AlertSession, ev *models.RiskEvent) {
	triggerData, err := json.Marshal(ev.Metrics)
	if err != nil {
		s.logger.Warn("Failed to encode trigger data", zap.Error(err))
		triggerData = []byte("{}")
	}

	now := time.Now()
	record := &models.AlertEventRecord{
		EventID:     session.SessionID,
		EventType:   ev.Kind,
		AlarmStatus: "active",
		TriggeredAt: ev.Timestamp,
		TriggerData: string(triggerData),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.eventsRepo.CreateAlertEvent(ctx, record); err != nil {
		s.logger.Warn("Failed to record alert event", zap.Error(err))
	}
}

// handleAck 处理一条用户反馈
func (s *MonitorService) handleAck(ctx context.Context, ack models.Ack) {
	now := time.Now()

	if ack == models.AckStatus {
		if err := s.notifier.SendInfo(ctx, s.statusReport(now)); err != nil {
			s.logger.Warn("Failed to send status report", zap.Error(err))
		}
		return
	}

	closing := s.manager.Session()
	reply := s.manager.HandleAck(ctx, now, ack)

	// 会话因反馈而关闭：补写历史记录的确认结果
	if s.eventsRepo != nil && closing != nil && s.manager.Session() == nil {
		if err := s.eventsRepo.AcknowledgeAlertEvent(ctx, closing.SessionID, string(ack), now, closing.Repeats); err != nil {
			s.logger.Warn("Failed to record acknowledgement", zap.Error(err))
		}
	}

	if reply != "" {
		if err := s.notifier.SendInfo(ctx, reply); err != nil {
			s.logger.Warn("Failed to send reply", zap.Error(err))
		}
	}

	// stop 反馈：回复发出后让主循环退出
	if s.manager.StopRequested() {
		s.stopOnce.Do(func() { close(s.stopCh) })
	}
}

// statusReport /status 指令的回复内容
func (s *MonitorService) statusReport(now time.Time) string {
	st := s.coordinator.Status(now)
	tuning := s.manager.TuningState()
	softS, hardS := s.manager.EffectiveDurations()

	report := fmt.Sprintf(
		"📊 Status\nState: %s\nSessions today: %d\nSoft threshold: %.0fs (scale %.2f)\nHard threshold: %.0fs (scale %.2f)",
		st.State, st.TriggerCount, softS, tuning.SoftScale, hardS, tuning.HardScale,
	)
	if s.manager.Paused() {
		report += "\n⏸ Monitoring is paused"
	}
	if sess := s.manager.Session(); sess != nil {
		report += fmt.Sprintf("\n🚨 Unacknowledged alert: %s", sess.EventKind)
	}
	return report
}

// pollAcksLoop 后台轮询用户反馈，送入主循环串行处理
func (s *MonitorService) pollAcksLoop(ctx context.Context) {
	interval := time.Duration(s.config.Alert.AckPollIntervalS * float64(time.Second))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			acks, err := s.notifier.PollAcks(ctx)
			if err != nil {
				s.logger.Warn("Failed to poll acknowledgements", zap.Error(err))
				continue
			}
			for _, ack := range acks {
				select {
				case s.acksCh <- ack:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

// publishStatus 刷新状态指示灯
func (s *MonitorService) publishStatus(pirMotion, active bool) {
	system := indicator.SystemIdle
	pir := indicator.PIRClear
	if active {
		system = indicator.SystemActive
		pir = indicator.PIRMonitoring
	}
	if pirMotion {
		pir = indicator.PIRTriggered
	}
	s.light.Set(system, pir, s.alertStatus())
}

func (s *MonitorService) alertStatus() indicator.AlertStatus {
	sess := s.manager.Session()
	if sess == nil {
		return indicator.AlertNone
	}
	if sess.EventKind == models.EventSoftImmobility {
		return indicator.AlertSoft
	}
	return indicator.AlertEmergency
}

// Stop 释放外部连接
func (s *MonitorService) Stop() {
	s.logger.Info("Stopping monitor service")

	s.light.Close()
	s.motion.Close()
	s.backend.Close()

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("Failed to close database", zap.Error(err))
		}
	}
	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			s.logger.Error("Failed to close redis", zap.Error(err))
		}
	}
}

// buildDSN 构建数据库连接字符串
func buildDSN(cfg *config.Config) string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Database.Host,
		cfg.Database.Port,
		cfg.Database.User,
		cfg.Database.Password,
		cfg.Database.Database,
		cfg.Database.SSLMode,
	)
}
