package presence

import (
	"time"

	"duruon/internal/config"

	"go.uber.org/zap"
)

// State 在场协调器状态
type State string

const (
	StateIdle   State = "idle"         // 待机：不跑姿态推理
	StateGrace  State = "grace_period" // 触发已接受，延迟进入完全监护
	StateActive State = "active"       // 监护中
)

// Status 协调器状态快照（供 /status 指令与状态灯使用）
type Status struct {
	State        State     `json:"state"`
	ActivatedAt  time.Time `json:"activated_at,omitempty"`
	LastMotionAt time.Time `json:"last_motion_at,omitempty"`
	IdleForS     float64   `json:"idle_for_s"`
	GraceLeftS   float64   `json:"grace_left_s"`
	TriggerCount int       `json:"trigger_count"`
	Forced       bool      `json:"forced"`
}

// Coordinator 双传感器在场协调
// 去抖后的 PIR 触发先进入宽限期，宽限期满才开始完全监护；
// 摄像头直接看到人则跳过去抖与宽限立即监护。
// 监护中只有姿态可见才重置休眠倒计时——仅 PIR 报动不足以证明持续在场，
// 画面里有人则永远不休眠（安全偏置）。
// 非并发安全，由控制循环串行调用
type Coordinator struct {
	cfg    config.PresenceConfig
	logger *zap.Logger

	state         State
	lastTriggerAt time.Time // 最近一次被接受的 PIR 触发（去抖基准）
	graceStart    time.Time
	activatedAt   time.Time
	lastMotionAt  time.Time
	triggerCount  int
	forced        bool
}

func NewCoordinator(cfg config.PresenceConfig, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		cfg:    cfg,
		logger: logger,
		state:  StateIdle,
	}
}

// Active 当前是否处于完全监护中
func (c *Coordinator) Active() bool {
	return c.state == StateActive
}

// Observe 单 tick 融合两路信号并推进状态机
// now 来自帧时间戳，保证判定可重放
func (c *Coordinator) Observe(now time.Time, pirMotion, posePresent bool) State {
	switch c.state {
	case StateIdle:
		// 摄像头证据强于 PIR：直接进入完全监护
		if posePresent {
			c.startMonitoring(now, "pose")
			return c.state
		}
		if pirMotion && c.debounced(now) {
			c.lastTriggerAt = now
			c.triggerCount++
			c.enterGrace(now)
		}

	case StateGrace:
		if posePresent {
			c.startMonitoring(now, "pose")
			return c.state
		}
		// 宽限期不阻塞新触发，只是推迟完全监护的开始
		if pirMotion {
			c.lastMotionAt = now
			if c.debounced(now) {
				c.lastTriggerAt = now
				c.triggerCount++
			}
		}
		if now.Sub(c.graceStart).Seconds() >= c.cfg.GracePeriodS {
			c.startMonitoring(now, "pir")
		}

	case StateActive:
		if posePresent {
			// 画面里有人即足以压制休眠，PIR 静默也不倒计时
			c.lastMotionAt = now
			return c.state
		}
		// 仅 PIR 报动不能证明持续在场，休眠倒计时继续
		if now.Sub(c.lastMotionAt).Seconds() >= c.cfg.AutoSleepS {
			c.deactivate(now, "auto_sleep")
		}
	}
	return c.state
}

// ForceActivate 手动开启监护（远程指令），绕过去抖与宽限期
func (c *Coordinator) ForceActivate(now time.Time) {
	if c.state == StateActive {
		c.forced = true
		return
	}
	c.startMonitoring(now, "manual")
	c.forced = true
}

// ForceDeactivate 手动结束监护
func (c *Coordinator) ForceDeactivate(now time.Time) {
	if c.state == StateIdle {
		return
	}
	c.deactivate(now, "manual")
}

// Status 状态快照
func (c *Coordinator) Status(now time.Time) Status {
	s := Status{
		State:        c.state,
		TriggerCount: c.triggerCount,
		Forced:       c.forced,
	}
	switch c.state {
	case StateGrace:
		s.LastMotionAt = c.lastMotionAt
		if left := c.cfg.GracePeriodS - now.Sub(c.graceStart).Seconds(); left > 0 {
			s.GraceLeftS = left
		}
	case StateActive:
		s.ActivatedAt = c.activatedAt
		s.LastMotionAt = c.lastMotionAt
		s.IdleForS = now.Sub(c.lastMotionAt).Seconds()
	}
	return s
}

// debounced 距上一次被接受的触发是否已超过最小间隔
func (c *Coordinator) debounced(now time.Time) bool {
	if c.lastTriggerAt.IsZero() {
		return true
	}
	return now.Sub(c.lastTriggerAt).Seconds() >= c.cfg.DebounceS
}

func (c *Coordinator) enterGrace(now time.Time) {
	if c.cfg.GracePeriodS <= 0 {
		c.startMonitoring(now, "pir")
		return
	}
	c.state = StateGrace
	c.graceStart = now
	c.lastMotionAt = now
	c.logger.Info("Motion trigger accepted, monitoring starts after grace delay",
		zap.Float64("grace_s", c.cfg.GracePeriodS),
		zap.Int("trigger_count", c.triggerCount),
	)
}

func (c *Coordinator) startMonitoring(now time.Time, source string) {
	c.state = StateActive
	c.activatedAt = now
	c.lastMotionAt = now
	c.logger.Info("Full monitoring active",
		zap.String("source", source),
		zap.Int("trigger_count", c.triggerCount),
	)
}

func (c *Coordinator) deactivate(now time.Time, reason string) {
	fields := []zap.Field{zap.String("reason", reason)}
	if c.state == StateActive {
		fields = append(fields, zap.Float64("session_s", now.Sub(c.activatedAt).Seconds()))
	}
	c.logger.Info("Presence session ended", fields...)
	c.state = StateIdle
	c.forced = false
}
