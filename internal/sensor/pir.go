package sensor

import (
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// MotionSensor 动作传感器：Motion 返回给定时刻是否"有动作"
// now 来自控制循环的帧时间戳
type MotionSensor interface {
	Motion(now time.Time) bool
	Close()
}

// MQTTMotionSensor 订阅 PIR 节点主题的动作传感器
// PIR 脉冲很短，一次触发按 holdS 保持"有动作"状态，避免帧间漏检
type MQTTMotionSensor struct {
	client mqtt.Client
	topic  string
	holdS  float64
	logger *zap.Logger

	mu          sync.Mutex
	lastTrigger time.Time
}

// MQTTOptions MQTT 连接参数
type MQTTOptions struct {
	Broker   string
	ClientID string
	Username string
	Password string
}

// NewMQTTMotionSensor 连接 broker 并订阅 PIR 主题
func NewMQTTMotionSensor(opts MQTTOptions, topic string, holdS float64, logger *zap.Logger) (*MQTTMotionSensor, error) {
	clientOpts := mqtt.NewClientOptions()
	clientOpts.AddBroker(opts.Broker)
	clientOpts.SetClientID(opts.ClientID)
	if opts.Username != "" {
		clientOpts.SetUsername(opts.Username)
	}
	if opts.Password != "" {
		clientOpts.SetPassword(opts.Password)
	}
	clientOpts.SetAutoReconnect(true)
	clientOpts.SetCleanSession(true)

	client := mqtt.NewClient(clientOpts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	s := &MQTTMotionSensor{
		client: client,
		topic:  topic,
		holdS:  holdS,
		logger: logger,
	}

	if token := client.Subscribe(topic, 1, s.onMessage); token.Wait() && token.Error() != nil {
		client.Disconnect(250)
		return nil, fmt.Errorf("failed to subscribe to topic %s: %w", topic, token.Error())
	}

	logger.Info("PIR motion sensor connected",
		zap.String("broker", opts.Broker),
		zap.String("topic", topic),
	)
	return s, nil
}

// onMessage PIR 节点的触发消息：payload 为 "1"/"on"/"motion" 视为触发
func (s *MQTTMotionSensor) onMessage(_ mqtt.Client, msg mqtt.Message) {
	payload := strings.ToLower(strings.TrimSpace(string(msg.Payload())))
	switch payload {
	case "1", "on", "motion", "true":
		s.mu.Lock()
		s.lastTrigger = time.Now()
		s.mu.Unlock()
		s.logger.Debug("PIR motion trigger", zap.String("topic", msg.Topic()))
	case "0", "off", "clear", "false":
		// 释放消息不需要处理，保持窗口自然过期
	default:
		s.logger.Warn("Unrecognized PIR payload", zap.String("payload", payload))
	}
}

// Motion 最近一次触发是否仍在保持窗口内
// 触发时间用墙钟记录，now 与墙钟偏差极小时（实时帧）等价
func (s *MQTTMotionSensor) Motion(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastTrigger.IsZero() {
		return false
	}
	return now.Sub(s.lastTrigger).Seconds() < s.holdS
}

func (s *MQTTMotionSensor) Close() {
	s.client.Unsubscribe(s.topic)
	s.client.Disconnect(250)
}

// MockMotionSensor 按时间表给出动作信号（测试与无硬件环境用）
type MockMotionSensor struct {
	mu      sync.Mutex
	windows [][2]time.Time
	always  bool
}

func NewMockMotionSensor() *MockMotionSensor {
	return &MockMotionSensor{}
}

// AddWindow 追加一段"有动作"的时间窗
func (m *MockMotionSensor) AddWindow(from, to time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.windows = append(m.windows, [2]time.Time{from, to})
}

// SetAlways 恒定输出
func (m *MockMotionSensor) SetAlways(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.always = v
}

func (m *MockMotionSensor) Motion(now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.always {
		return true
	}
	for _, w := range m.windows {
		if !now.Before(w[0]) && now.Before(w[1]) {
			return true
		}
	}
	return false
}

func (m *MockMotionSensor) Close() {}
