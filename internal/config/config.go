package config

import (
	"fmt"
	"os"
	"strconv"
)

// RiskConfig 风险引擎阈值配置
// 运行期只有 SoftImmobilityS / HardImmobilityS 会被自适应调参修改，其余为加载时常量
type RiskConfig struct {
	AngleThresholdDeg       float64 // 低角度（水平）判定阈值
	DropThreshold           float64 // 髋部垂直位移阈值
	DropWindowS             float64 // 跌落检测窗口（秒）
	AngleChangeThreshold    float64 // 窗口内角度变化阈值（度）
	PositionChangeThreshold float64 // 窗口内髋+肩位移阈值
	ImmobileWindowS         float64 // 静止平均窗口（秒）

	// 按角度区分的运动容差
	MovementToleranceLowAngle  float64
	MovementToleranceHighAngle float64

	SoftImmobilityS     float64 // 软性静止时长（秒）
	HardImmobilityS     float64 // 硬性静止时长（秒）
	FastFallImmobilityS float64 // 跌落候选确认所需静止时长（秒）
	CooldownS           float64 // 事件冷却（秒），全局
	ConfirmGraceS       float64 // 跌落候选确认宽限期（秒）

	// 淋浴模式：指定时段内放宽静止时长
	ShowerModeEnabled        bool
	ShowerStartHour          int
	ShowerEndHour            int
	ShowerDurationMultiplier float64

	// 关键点置信度
	MinKeypointConfidence   float64 // 主肢体对的最低置信度
	FallbackConfidenceFloor float64 // 备选肢体对的置信度下限

	// 极低角度快速确认（姿态一出现就已接近水平的场景）
	ExtremeLowAngleDeg      float64
	ExtremeLowAngleConfirmS float64
}

// PresenceConfig 传感器激活配置
type PresenceConfig struct {
	DebounceS    float64 // 两次触发之间的最小间隔（秒）
	GracePeriodS float64 // 激活前的宽限延迟（秒）
	AutoSleepS   float64 // 无动作自动休眠超时（秒）
}

// AlertConfig 告警生命周期配置
type AlertConfig struct {
	RepeatAfterS       float64 // 未确认告警的重复提醒间隔（秒），0 表示不重复
	MaxRepeats         int     // 最大重复次数
	IncludeStopButton  bool    // 告警消息是否附带停止按钮
	HeartbeatEnabled   bool    // 是否发送心跳状态消息
	HeartbeatIntervalS float64 // 心跳间隔（秒）
	AckPollIntervalS   float64 // 确认回调轮询间隔（秒）

	// 自适应调参
	AdaptBatchSize   int     // 每累计 N 个已处理告警评估一次
	MinScale         float64 // 缩放下限
	MaxScale         float64 // 缩放上限
	AdaptiveSoftMult float64 // 外部软时长乘数
	AdaptiveHardMult float64 // 外部硬时长乘数
	SessionTTLS      float64 // 会话持久化 TTL（秒）
}

// Config 服务配置
type Config struct {
	Risk     RiskConfig
	Presence PresenceConfig
	Alert    AlertConfig

	Camera struct {
		FPS       int     // 采样帧率
		IdleTickS float64 // 非激活状态下的慢速轮询间隔（秒）
	}

	Backend struct {
		Type     string // "mock" 或 "http"
		URL      string // 推理边车地址
		TimeoutS float64
	}

	Notifier struct {
		Type     string // "telegram" 或 "dummy"
		BotToken string
		ChatID   string
	}

	Sensor struct {
		Type     string // "mqtt" 或 "mock"
		Broker   string
		ClientID string
		Username string
		Password string
		Topic    string  // PIR 节点发布的主题
		HoldS    float64 // 一次触发被视为"有动作"的保持时间（秒）
	}

	Indicator struct {
		Type        string // "mqtt" 或 "none"
		Broker      string
		ClientID    string
		Username    string
		Password    string
		TopicPrefix string  // 状态主题前缀，如 "duruon/status/"
		RefreshS    float64 // 状态灯后台重发间隔（秒）
	}

	Redis struct {
		Enabled   bool
		Addr      string
		Password  string
		DB        int
		KeyPrefix string // 状态键前缀，如 "duruon:state:"
	}

	Database struct {
		Enabled  bool
		Host     string
		Port     int
		User     string
		Password string
		Database string
		SSLMode  string
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置（环境变量 + 默认值），并做加载期校验
func Load() (*Config, error) {
	cfg := &Config{}

	// 风险引擎阈值
	cfg.Risk.AngleThresholdDeg = getEnvFloat("RISK_ANGLE_THRESHOLD_DEG", 50.0)
	cfg.Risk.DropThreshold = getEnvFloat("RISK_DROP_THRESHOLD", 0.15)
	cfg.Risk.DropWindowS = getEnvFloat("RISK_DROP_WINDOW_S", 1.0)
	cfg.Risk.AngleChangeThreshold = getEnvFloat("RISK_ANGLE_CHANGE_THRESHOLD", 30.0)
	cfg.Risk.PositionChangeThreshold = getEnvFloat("RISK_POSITION_CHANGE_THRESHOLD", 0.15)
	cfg.Risk.ImmobileWindowS = getEnvFloat("RISK_IMMOBILE_WINDOW_S", 10.0)
	cfg.Risk.MovementToleranceLowAngle = getEnvFloat("RISK_MOVEMENT_TOLERANCE_LOW", 0.12)
	cfg.Risk.MovementToleranceHighAngle = getEnvFloat("RISK_MOVEMENT_TOLERANCE_HIGH", 0.05)
	cfg.Risk.SoftImmobilityS = getEnvFloat("RISK_SOFT_IMMOBILITY_S", 30.0)
	cfg.Risk.HardImmobilityS = getEnvFloat("RISK_HARD_IMMOBILITY_S", 60.0)
	cfg.Risk.FastFallImmobilityS = getEnvFloat("RISK_FAST_FALL_IMMOBILITY_S", 12.0)
	cfg.Risk.CooldownS = getEnvFloat("RISK_COOLDOWN_S", 600.0)
	cfg.Risk.ConfirmGraceS = getEnvFloat("RISK_CONFIRM_GRACE_S", 6.0)
	cfg.Risk.ShowerModeEnabled = getEnvBool("RISK_SHOWER_MODE_ENABLED", true)
	cfg.Risk.ShowerStartHour = getEnvInt("RISK_SHOWER_START_HOUR", 6)
	cfg.Risk.ShowerEndHour = getEnvInt("RISK_SHOWER_END_HOUR", 22)
	cfg.Risk.ShowerDurationMultiplier = getEnvFloat("RISK_SHOWER_DURATION_MULTIPLIER", 4.0)
	cfg.Risk.MinKeypointConfidence = getEnvFloat("RISK_MIN_KEYPOINT_CONFIDENCE", 0.1)
	cfg.Risk.FallbackConfidenceFloor = getEnvFloat("RISK_FALLBACK_CONFIDENCE_FLOOR", 0.05)
	cfg.Risk.ExtremeLowAngleDeg = getEnvFloat("RISK_EXTREME_LOW_ANGLE_DEG", 20.0)
	cfg.Risk.ExtremeLowAngleConfirmS = getEnvFloat("RISK_EXTREME_LOW_ANGLE_CONFIRM_S", 8.0)

	// 传感器激活
	cfg.Presence.DebounceS = getEnvFloat("PIR_DEBOUNCE_S", 2.0)
	cfg.Presence.GracePeriodS = getEnvFloat("PIR_GRACE_PERIOD_S", 10.0)
	cfg.Presence.AutoSleepS = getEnvFloat("PIR_AUTO_SLEEP_S", 300.0)

	// 告警生命周期
	cfg.Alert.RepeatAfterS = getEnvFloat("ALERT_REPEAT_AFTER_S", 120.0)
	cfg.Alert.MaxRepeats = getEnvInt("ALERT_MAX_REPEATS", 3)
	cfg.Alert.IncludeStopButton = getEnvBool("ALERT_STOP_BUTTON", true)
	cfg.Alert.HeartbeatEnabled = getEnvBool("ALERT_HEARTBEAT_ENABLED", false)
	cfg.Alert.HeartbeatIntervalS = getEnvFloat("ALERT_HEARTBEAT_INTERVAL_S", 86400.0)
	cfg.Alert.AckPollIntervalS = getEnvFloat("ALERT_ACK_POLL_INTERVAL_S", 3.0)
	cfg.Alert.AdaptBatchSize = getEnvInt("ALERT_ADAPT_BATCH_SIZE", 5)
	cfg.Alert.MinScale = getEnvFloat("ALERT_ADAPT_MIN_SCALE", 0.5)
	cfg.Alert.MaxScale = getEnvFloat("ALERT_ADAPT_MAX_SCALE", 2.5)
	cfg.Alert.AdaptiveSoftMult = getEnvFloat("ALERT_ADAPTIVE_SOFT_MULTIPLIER", 1.0)
	cfg.Alert.AdaptiveHardMult = getEnvFloat("ALERT_ADAPTIVE_HARD_MULTIPLIER", 1.0)
	cfg.Alert.SessionTTLS = getEnvFloat("ALERT_SESSION_TTL_S", 3600.0)

	// 采样
	cfg.Camera.FPS = getEnvInt("CAMERA_FPS", 15)
	cfg.Camera.IdleTickS = getEnvFloat("CAMERA_IDLE_TICK_S", 1.0)

	// 姿态后端
	cfg.Backend.Type = getEnv("POSE_BACKEND_TYPE", "http")
	cfg.Backend.URL = getEnv("POSE_BACKEND_URL", "http://localhost:8501")
	cfg.Backend.TimeoutS = getEnvFloat("POSE_BACKEND_TIMEOUT_S", 2.0)

	// 通知渠道
	cfg.Notifier.Type = getEnv("NOTIFIER_TYPE", "telegram")
	cfg.Notifier.BotToken = getEnv("TG_BOT_TOKEN", "")
	cfg.Notifier.ChatID = getEnv("TG_CHAT_ID", "")

	// 动作传感器
	cfg.Sensor.Type = getEnv("PIR_SENSOR_TYPE", "mqtt")
	cfg.Sensor.Broker = getEnv("PIR_MQTT_BROKER", "tcp://localhost:1883")
	cfg.Sensor.ClientID = getEnv("PIR_MQTT_CLIENT_ID", "duruon-pir")
	cfg.Sensor.Username = getEnv("PIR_MQTT_USERNAME", "")
	cfg.Sensor.Password = getEnv("PIR_MQTT_PASSWORD", "")
	cfg.Sensor.Topic = getEnv("PIR_MQTT_TOPIC", "duruon/pir")
	cfg.Sensor.HoldS = getEnvFloat("PIR_HOLD_S", 2.0)

	// 状态灯
	cfg.Indicator.Type = getEnv("INDICATOR_TYPE", "mqtt")
	cfg.Indicator.Broker = getEnv("INDICATOR_MQTT_BROKER", "tcp://localhost:1883")
	cfg.Indicator.ClientID = getEnv("INDICATOR_MQTT_CLIENT_ID", "duruon-led")
	cfg.Indicator.Username = getEnv("INDICATOR_MQTT_USERNAME", "")
	cfg.Indicator.Password = getEnv("INDICATOR_MQTT_PASSWORD", "")
	cfg.Indicator.TopicPrefix = getEnv("INDICATOR_TOPIC_PREFIX", "duruon/status/")
	cfg.Indicator.RefreshS = getEnvFloat("INDICATOR_REFRESH_S", 5.0)

	// 可选持久化
	cfg.Redis.Enabled = getEnvBool("REDIS_ENABLED", false)
	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)
	cfg.Redis.KeyPrefix = getEnv("REDIS_KEY_PREFIX", "duruon:state:")

	cfg.Database.Enabled = getEnvBool("DB_ENABLED", false)
	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = getEnvInt("DB_PORT", 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "duruon")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate 校验配置的内部一致性（不一致的阈值关系在加载期直接拒绝）
func (c *Config) Validate() error {
	r := &c.Risk
	if r.SoftImmobilityS >= r.HardImmobilityS {
		return fmt.Errorf("soft immobility duration (%.1fs) must be less than hard (%.1fs)",
			r.SoftImmobilityS, r.HardImmobilityS)
	}
	if r.FastFallImmobilityS <= 0 {
		return fmt.Errorf("fast fall immobility duration must be positive")
	}
	if r.DropWindowS <= 0 || r.ImmobileWindowS <= 0 {
		return fmt.Errorf("drop window and immobile window must be positive")
	}
	if r.CooldownS <= 0 || r.ConfirmGraceS <= 0 {
		return fmt.Errorf("cooldown and confirm grace must be positive")
	}
	if r.AngleThresholdDeg <= 0 || r.AngleThresholdDeg > 90 {
		return fmt.Errorf("angle threshold must be in (0, 90]")
	}
	if r.ExtremeLowAngleDeg < 0 || r.ExtremeLowAngleDeg >= r.AngleThresholdDeg {
		return fmt.Errorf("extreme low angle (%.1f) must be in [0, angle threshold)", r.ExtremeLowAngleDeg)
	}
	if r.ShowerStartHour < 0 || r.ShowerStartHour > 23 ||
		r.ShowerEndHour < 0 || r.ShowerEndHour > 23 ||
		r.ShowerStartHour > r.ShowerEndHour {
		return fmt.Errorf("shower hours must satisfy 0 <= start <= end <= 23")
	}
	if r.ShowerDurationMultiplier < 1 {
		return fmt.Errorf("shower duration multiplier must be >= 1")
	}
	if r.MinKeypointConfidence <= 0 || r.MinKeypointConfidence > 1 {
		return fmt.Errorf("min keypoint confidence must be in (0, 1]")
	}
	if r.FallbackConfidenceFloor < 0 || r.FallbackConfidenceFloor > r.MinKeypointConfidence {
		return fmt.Errorf("fallback confidence floor must be in [0, min keypoint confidence]")
	}

	a := &c.Alert
	if a.AdaptBatchSize < 1 {
		return fmt.Errorf("adapt batch size must be >= 1")
	}
	if a.MinScale <= 0 || a.MinScale >= a.MaxScale {
		return fmt.Errorf("scale bounds must satisfy 0 < min < max")
	}
	if a.AdaptiveSoftMult <= 0 || a.AdaptiveHardMult <= 0 {
		return fmt.Errorf("adaptive multipliers must be positive")
	}

	p := &c.Presence
	if p.DebounceS < 0 || p.GracePeriodS < 0 || p.AutoSleepS <= 0 {
		return fmt.Errorf("presence timings must be non-negative (auto sleep positive)")
	}

	if c.Camera.FPS < 1 {
		return fmt.Errorf("camera fps must be >= 1")
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
