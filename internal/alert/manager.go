package alert

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"duruon/internal/config"
	"duruon/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Notifier 告警外发通道（由 notify 包提供实现）
type Notifier interface {
	SendAlert(ctx context.Context, kind, text string, includeStop bool) error
	SendInfo(ctx context.Context, text string) error
}

// ThresholdTuner 自适应调参的应用端（风险引擎）
type ThresholdTuner interface {
	SetImmobilityDurations(softS, hardS float64)
}

// 事件严重级别：高级别事件取代在途的低级别会话
var severity = map[string]int{
	models.EventSoftImmobility: 1,
	models.EventHardImmobility: 2,
	models.EventHardFall:       3,
}

// 学习乘数：误报偏多时放宽阈值，长期准确时收紧
const (
	fpRatioRaise   = 0.4  // 误报率超过该值 → 放宽
	fpRatioLower   = 0.05 // 误报率低于该值 → 收紧
	raiseSoftMult  = 1.10
	raiseHardMult  = 1.05
	lowerSoftMult  = 0.95
	lowerHardMult  = 0.97
)

// 持久化键后缀
const (
	kvSessionKey = "alert_session"
	kvTuningKey  = "tuning"
)

// Manager 告警生命周期：会话打开/取代、重复提醒、确认反馈与自适应调参
// 非并发安全，由控制循环串行调用；kv 可为 nil（关闭持久化）
type Manager struct {
	cfg       config.AlertConfig
	baseSoftS float64
	baseHardS float64
	logger    *zap.Logger

	notifier  Notifier
	tuner     ThresholdTuner
	kv        KVStore
	keyPrefix string

	session       *models.AlertSession
	tuning        models.TuningState
	lastHeartbeat time.Time
	paused        bool
	stopRequested bool

	// 心跳汇报用的运行计数
	startedAt  time.Time
	frameCount int
	eventCount int
}

// NewManager 创建告警管理器
// riskCfg 提供基准软/硬时长（学习缩放与外部乘数都作用在基准值上）
func NewManager(cfg config.AlertConfig, riskCfg config.RiskConfig, notifier Notifier, tuner ThresholdTuner, kv KVStore, keyPrefix string, logger *zap.Logger) *Manager {
	return &Manager{
		cfg:       cfg,
		baseSoftS: riskCfg.SoftImmobilityS,
		baseHardS: riskCfg.HardImmobilityS,
		logger:    logger,
		notifier:  notifier,
		tuner:     tuner,
		kv:        kv,
		keyPrefix: keyPrefix,
		tuning:    models.TuningState{SoftScale: 1.0, HardScale: 1.0},
	}
}

// Paused 是否处于暂停监护状态
func (m *Manager) Paused() bool {
	return m.paused
}

// StopRequested 用户是否已通过 stop 反馈要求宿主进程退出
func (m *Manager) StopRequested() bool {
	return m.stopRequested
}

// Session 当前在途会话（无则为 nil）
func (m *Manager) Session() *models.AlertSession {
	return m.session
}

// Restore 从 KV 恢复调参状态与未确认会话（进程重启后继续提醒）
func (m *Manager) Restore(ctx context.Context) error {
	if m.kv == nil {
		return nil
	}

	if raw, err := m.kv.Get(ctx, m.keyPrefix+kvTuningKey); err == nil {
		var t models.TuningState
		if err := json.Unmarshal([]byte(raw), &t); err != nil {
			return fmt.Errorf("failed to decode tuning state: %w", err)
		}
		m.tuning = t
		m.applyScales()
		m.logger.Info("Tuning state restored",
			zap.Float64("soft_scale", t.SoftScale),
			zap.Float64("hard_scale", t.HardScale),
		)
	} else if !errors.Is(err, ErrCacheMiss) {
		return fmt.Errorf("failed to load tuning state: %w", err)
	}

	if raw, err := m.kv.Get(ctx, m.keyPrefix+kvSessionKey); err == nil {
		var s models.AlertSession
		if err := json.Unmarshal([]byte(raw), &s); err != nil {
			return fmt.Errorf("failed to decode alert session: %w", err)
		}
		m.session = &s
		m.logger.Info("Unacknowledged alert session restored",
			zap.String("session_id", s.SessionID),
			zap.String("kind", s.EventKind),
		)
	} else if !errors.Is(err, ErrCacheMiss) {
		return fmt.Errorf("failed to load alert session: %w", err)
	}

	return nil
}

// OnRiskEvent 处理新风险事件
// 无在途会话则打开；更高严重级别取代现有会话；同级或更低级别忽略
func (m *Manager) OnRiskEvent(ctx context.Context, ev *models.RiskEvent) *models.AlertSession {
	if m.paused {
		m.logger.Info("Risk event suppressed while paused", zap.String("kind", ev.Kind))
		return nil
	}

	if m.session != nil {
		if severity[ev.Kind] <= severity[m.session.EventKind] {
			m.logger.Debug("Risk event ignored, session of equal or higher severity in flight",
				zap.String("kind", ev.Kind),
				zap.String("session_kind", m.session.EventKind),
			)
			return nil
		}
		m.logger.Info("Alert session superseded",
			zap.String("session_id", m.session.SessionID),
			zap.String("old_kind", m.session.EventKind),
			zap.String("new_kind", ev.Kind),
		)
	}

	m.eventCount++
	m.session = &models.AlertSession{
		SessionID:  uuid.New().String(),
		EventKind:  ev.Kind,
		FirstSeen:  ev.Timestamp,
		LastSentAt: ev.Timestamp,
		Metrics:    ev.Metrics,
	}
	m.sendCurrent(ctx)
	m.persistSession(ctx)
	return m.session
}

// Tick 推进时间相关的告警行为：重复提醒与心跳
// now 来自帧时间戳
func (m *Manager) Tick(ctx context.Context, now time.Time) {
	if m.startedAt.IsZero() {
		m.startedAt = now
	}
	m.frameCount++

	if m.session != nil && m.cfg.RepeatAfterS > 0 && m.session.Repeats < m.cfg.MaxRepeats {
		if now.Sub(m.session.LastSentAt).Seconds() >= m.cfg.RepeatAfterS {
			m.session.Repeats++
			m.session.LastSentAt = now
			m.sendCurrent(ctx)
			m.persistSession(ctx)
		}
	}

	if m.cfg.HeartbeatEnabled && m.session == nil && !m.paused {
		if m.lastHeartbeat.IsZero() {
			m.lastHeartbeat = now
		} else if now.Sub(m.lastHeartbeat).Seconds() >= m.cfg.HeartbeatIntervalS {
			m.lastHeartbeat = now
			if err := m.notifier.SendInfo(ctx, m.heartbeatText(now)); err != nil {
				m.logger.Warn("Failed to send heartbeat", zap.Error(err))
			}
		}
	}
}

// HandleAck 处理用户反馈，返回回复文案（空串表示交由上层处理）
func (m *Manager) HandleAck(ctx context.Context, now time.Time, ack models.Ack) string {
	switch ack {
	case models.AckOK:
		if m.session == nil {
			return "No active alert."
		}
		m.closeSession(ctx, "ok")
		m.tuning.AckOKCount++
		m.evaluateTuning(ctx)
		return "Glad you're OK. Alert closed."

	case models.AckFalsePositive:
		if m.session == nil {
			return "No active alert."
		}
		m.closeSession(ctx, "false_positive")
		m.tuning.FalsePositiveCount++
		m.evaluateTuning(ctx)
		return "Marked as false alarm, thresholds will adapt."

	case models.AckStop:
		if m.session != nil {
			m.closeSession(ctx, "stop")
		}
		m.stopRequested = true
		m.logger.Info("Shutdown requested by user")
		return "🛑 Alerts stopped. Shutting down."

	case models.AckPause:
		m.paused = true
		if m.session != nil {
			m.closeSession(ctx, "pause")
		}
		m.logger.Info("Monitoring paused by user")
		return "⏸ Monitoring paused. Send /resume to continue."

	case models.AckResume:
		m.paused = false
		m.logger.Info("Monitoring resumed by user")
		return "▶️ Monitoring resumed."
	}
	return ""
}

// TuningState 当前调参状态快照
func (m *Manager) TuningState() models.TuningState {
	return m.tuning
}

// EffectiveDurations 当前生效的软/硬时长（基准 × 学习缩放 × 外部乘数）
func (m *Manager) EffectiveDurations() (softS, hardS float64) {
	softS = m.baseSoftS * m.tuning.SoftScale * m.cfg.AdaptiveSoftMult
	hardS = m.baseHardS * m.tuning.HardScale * m.cfg.AdaptiveHardMult
	return softS, hardS
}

// evaluateTuning 每累计一批反馈评估一次误报率并缩放时长
func (m *Manager) evaluateTuning(ctx context.Context) {
	total := m.tuning.AckOKCount + m.tuning.FalsePositiveCount
	if total-m.tuning.LastEvaluatedCount < m.cfg.AdaptBatchSize {
		m.persistTuning(ctx)
		return
	}
	m.tuning.LastEvaluatedCount = total

	ratio := float64(m.tuning.FalsePositiveCount) / float64(total)
	switch {
	case ratio > fpRatioRaise:
		m.tuning.SoftScale *= raiseSoftMult
		m.tuning.HardScale *= raiseHardMult
	case ratio < fpRatioLower && m.tuning.AckOKCount >= m.cfg.AdaptBatchSize:
		m.tuning.SoftScale *= lowerSoftMult
		m.tuning.HardScale *= lowerHardMult
	default:
		m.persistTuning(ctx)
		return
	}

	m.tuning.SoftScale = clamp(m.tuning.SoftScale, m.cfg.MinScale, m.cfg.MaxScale)
	m.tuning.HardScale = clamp(m.tuning.HardScale, m.cfg.MinScale, m.cfg.MaxScale)
	m.applyScales()
	m.persistTuning(ctx)

	m.logger.Info("Immobility thresholds adapted",
		zap.Float64("fp_ratio", ratio),
		zap.Float64("soft_scale", m.tuning.SoftScale),
		zap.Float64("hard_scale", m.tuning.HardScale),
	)
}

// applyScales 把当前缩放应用到风险引擎，保持 soft < hard 不变量
func (m *Manager) applyScales() {
	softS, hardS := m.EffectiveDurations()
	if softS >= hardS {
		softS = hardS * 0.5
	}
	m.tuner.SetImmobilityDurations(softS, hardS)
}

func (m *Manager) sendCurrent(ctx context.Context) {
	s := m.session
	text := alertText(s)
	if err := m.notifier.SendAlert(ctx, s.EventKind, text, m.cfg.IncludeStopButton); err != nil {
		// 通知失败不阻断监护循环，下个重复周期再试
		m.logger.Error("Failed to send alert",
			zap.String("session_id", s.SessionID),
			zap.Error(err),
		)
	}
}

func (m *Manager) closeSession(ctx context.Context, reason string) {
	m.logger.Info("Alert session closed",
		zap.String("session_id", m.session.SessionID),
		zap.String("kind", m.session.EventKind),
		zap.String("reason", reason),
		zap.Int("repeats", m.session.Repeats),
	)
	m.session = nil
	if m.kv != nil {
		if err := m.kv.Del(ctx, m.keyPrefix+kvSessionKey); err != nil {
			m.logger.Warn("Failed to clear persisted session", zap.Error(err))
		}
	}
}

func (m *Manager) persistSession(ctx context.Context) {
	if m.kv == nil || m.session == nil {
		return
	}
	raw, err := json.Marshal(m.session)
	if err != nil {
		m.logger.Warn("Failed to encode alert session", zap.Error(err))
		return
	}
	ttl := time.Duration(m.cfg.SessionTTLS * float64(time.Second))
	if err := m.kv.Set(ctx, m.keyPrefix+kvSessionKey, string(raw), ttl); err != nil {
		m.logger.Warn("Failed to persist alert session", zap.Error(err))
	}
}

func (m *Manager) persistTuning(ctx context.Context) {
	if m.kv == nil {
		return
	}
	raw, err := json.Marshal(m.tuning)
	if err != nil {
		m.logger.Warn("Failed to encode tuning state", zap.Error(err))
		return
	}
	if err := m.kv.Set(ctx, m.keyPrefix+kvTuningKey, string(raw), 0); err != nil {
		m.logger.Warn("Failed to persist tuning state", zap.Error(err))
	}
}

// heartbeatText 心跳文案：带运行时长与处理计数
func (m *Manager) heartbeatText(now time.Time) string {
	return fmt.Sprintf(
		"✅ System operating normally\nUptime: %s\nFrames: %d\nEvents: %d\nAcks handled: %d",
		now.Sub(m.startedAt).Truncate(time.Second),
		m.frameCount,
		m.eventCount,
		m.tuning.AckOKCount+m.tuning.FalsePositiveCount,
	)
}

// alertText 告警文案
func alertText(s *models.AlertSession) string {
	var header string
	switch s.EventKind {
	case models.EventHardFall:
		header = "🚨 FALL DETECTED"
	case models.EventHardImmobility:
		header = "🚨 PROLONGED IMMOBILITY"
	default:
		header = "⚠️ No movement detected"
	}

	text := fmt.Sprintf("%s\nTime: %s\nAngle: %.0f°",
		header,
		s.FirstSeen.Format("15:04:05"),
		s.Metrics.AngleDeg,
	)
	if !s.Metrics.Present {
		text += "\nPerson not visible to camera"
	}
	if s.Repeats > 0 {
		text += fmt.Sprintf("\nReminder %d — still unacknowledged", s.Repeats)
	}
	return text
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
