package models

import (
	"time"
)

// Ack 用户对告警的反馈（通过通知渠道的按钮回调获得）
type Ack string

const (
	AckNone          Ack = ""               // 无反馈
	AckOK            Ack = "ok"             // 确认无事
	AckFalsePositive Ack = "false_positive" // 误报
	AckStop          Ack = "stop"           // 请求停止进程
	AckPause         Ack = "pause"          // 暂停监控
	AckResume        Ack = "resume"         // 恢复监控
	AckStatus        Ack = "status"         // 请求状态报告
)

// AlertSession 单个未确认告警的生命周期（打开 → 重复提醒 → 确认/被新事件取代）
type AlertSession struct {
	SessionID  string    `json:"session_id"`
	EventKind  string    `json:"event_kind"`
	FirstSeen  time.Time `json:"first_seen"`
	LastSentAt time.Time `json:"last_sent_at"`
	Repeats    int       `json:"repeats"`
	Metrics    Metrics   `json:"metrics"` // 触发事件的指标快照
}

// TuningState 自适应调参状态（按确认反馈缩放软/硬静止时长）
type TuningState struct {
	SoftScale          float64 `json:"soft_scale"`
	HardScale          float64 `json:"hard_scale"`
	AckOKCount         int     `json:"ack_ok_count"`
	FalsePositiveCount int     `json:"false_positive_count"`
	LastEvaluatedCount int     `json:"last_evaluated_count"`
}

// AlertEventRecord 告警历史记录（对应 alert_events 表）
type AlertEventRecord struct {
	EventID        string     `json:"event_id" db:"event_id"`
	EventType      string     `json:"event_type" db:"event_type"`
	AlarmLevel     string     `json:"alarm_level" db:"alarm_level"`   // WARNING / ALERT
	AlarmStatus    string     `json:"alarm_status" db:"alarm_status"` // active / acknowledged
	TriggeredAt    time.Time  `json:"triggered_at" db:"triggered_at"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty" db:"acknowledged_at"`
	AckResult      *string    `json:"ack_result,omitempty" db:"ack_result"`
	Repeats        int        `json:"repeats" db:"repeats"`
	TriggerData    string     `json:"trigger_data" db:"trigger_data"` // JSONB：Metrics 快照
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
}
