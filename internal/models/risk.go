package models

import (
	"time"
)

// 风险事件类型
const (
	EventSoftImmobility = "soft_immobility" // 软性静止（较短时间无动作）
	EventHardImmobility = "hard_immobility" // 硬性静止（长时间无动作）
	EventHardFall       = "hard_fall"       // 确认跌倒
)

// TorsoSample 单帧躯干样本（创建后不再修改，按时间序保存在引擎历史中）
type TorsoSample struct {
	Timestamp    time.Time `json:"timestamp"`
	Present      bool      `json:"present"`       // false 表示该帧未检出人体（缺席标记）
	HipMid       Point     `json:"hip_mid"`       // 髋部中点
	ShoulderMid  Point     `json:"shoulder_mid"`  // 肩部中点
	AngleDeg     float64   `json:"angle_deg"`     // 躯干角度：0=水平，90=直立
	Motion       float64   `json:"motion"`        // 与上一样本的髋+肩位移之和
	UsedFallback bool      `json:"used_fallback"` // 是否使用了备选肢体关键点
}

// Thresholds 自适应阈值（由角度 + 淋浴模式决定，每个判定路径共用同一份）
type Thresholds struct {
	MotionEps       float64 `json:"motion_eps"`        // 静止判定的运动容差
	ImmobileWindowS float64 `json:"immobile_window_s"` // 静止平均窗口（秒）
	SoftImmobilityS float64 `json:"soft_immobility_s"` // 软性静止时长（秒）
	HardImmobilityS float64 `json:"hard_immobility_s"` // 硬性静止时长（秒）
}

// RiskEvent 风险事件（每个冷却周期最多产生一次）
type RiskEvent struct {
	Kind      string    `json:"kind"` // soft_immobility / hard_immobility / hard_fall
	Timestamp time.Time `json:"timestamp"`
	Metrics   Metrics   `json:"metrics"` // 触发时刻的指标快照
}

// Metrics 单 tick 的评估结果
type Metrics struct {
	Present    bool       `json:"present"`
	AngleDeg   float64    `json:"angle_deg"`
	Motion     float64    `json:"motion"`
	SuddenDrop bool       `json:"sudden_drop"`
	Immobile   bool       `json:"immobile"`
	Event      *RiskEvent `json:"event,omitempty"`

	// 突然跌落的各分量（诊断用）
	VerticalDrop        bool `json:"vertical_drop"`
	RapidAngleChange    bool `json:"rapid_angle_change"`
	LargePositionChange bool `json:"large_position_change"`

	// 自适应阈值调试信息
	ShowerActive bool       `json:"shower_active"`
	Thresholds   Thresholds `json:"thresholds"`

	UsedFallback bool `json:"used_fallback"`

	// 角度向量调试信息
	DebugVX float64 `json:"debug_vx"`
	DebugVY float64 `json:"debug_vy"`
}
