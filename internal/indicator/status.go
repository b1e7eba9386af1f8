package indicator

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// 系统状态枚举（状态灯/面板消费）
type SystemStatus string

const (
	SystemStarting SystemStatus = "starting"
	SystemIdle     SystemStatus = "idle"
	SystemActive   SystemStatus = "active"
	SystemError    SystemStatus = "error"
)

type PIRStatus string

const (
	PIRClear      PIRStatus = "clear"
	PIRTriggered  PIRStatus = "triggered"
	PIRMonitoring PIRStatus = "monitoring"
)

type AlertStatus string

const (
	AlertNone      AlertStatus = "none"
	AlertSoft      AlertStatus = "soft"
	AlertEmergency AlertStatus = "emergency"
)

// Snapshot 一次状态发布的完整内容
type Snapshot struct {
	System    SystemStatus `json:"system"`
	PIR       PIRStatus    `json:"pir"`
	Alert     AlertStatus  `json:"alert"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// StatusLight 状态指示灯
type StatusLight interface {
	Set(system SystemStatus, pir PIRStatus, alert AlertStatus)
	Close()
}

// MQTTStatusLight 向状态主题发布 retained JSON 的指示灯
// retained 保证面板重连后立即拿到最新状态；后台按 refresh 间隔重发兜底
type MQTTStatusLight struct {
	client      mqtt.Client
	topicPrefix string
	logger      *zap.Logger

	mu      sync.Mutex
	current Snapshot
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// MQTTOptions MQTT 连接参数
type MQTTOptions struct {
	Broker   string
	ClientID string
	Username string
	Password string
}

// NewMQTTStatusLight 连接 broker 并启动后台重发
func NewMQTTStatusLight(opts MQTTOptions, topicPrefix string, refreshS float64, logger *zap.Logger) (*MQTTStatusLight, error) {
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

	l := &MQTTStatusLight{
		client:      client,
		topicPrefix: topicPrefix,
		logger:      logger,
		current: Snapshot{
			System: SystemStarting,
			PIR:    PIRClear,
			Alert:  AlertNone,
		},
		stopCh: make(chan struct{}),
	}
	l.publish()

	l.wg.Add(1)
	go l.refreshLoop(time.Duration(refreshS * float64(time.Second)))

	logger.Info("Status light connected",
		zap.String("broker", opts.Broker),
		zap.String("topic_prefix", topicPrefix),
	)
	return l, nil
}

// Set 更新状态；内容变化时立即发布
func (l *MQTTStatusLight) Set(system SystemStatus, pir PIRStatus, alert AlertStatus) {
	l.mu.Lock()
	changed := l.current.System != system || l.current.PIR != pir || l.current.Alert != alert
	l.current.System = system
	l.current.PIR = pir
	l.current.Alert = alert
	l.mu.Unlock()

	if changed {
		l.publish()
	}
}

func (l *MQTTStatusLight) Close() {
	close(l.stopCh)
	l.wg.Wait()
	l.client.Disconnect(250)
}

func (l *MQTTStatusLight) refreshLoop(interval time.Duration) {
	defer l.wg.Done()
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
			l.publish()
		}
	}
}

func (l *MQTTStatusLight) publish() {
	l.mu.Lock()
	l.current.UpdatedAt = time.Now().UTC()
	snapshot := l.current
	l.mu.Unlock()

	payload, err := json.Marshal(snapshot)
	if err != nil {
		l.logger.Error("Failed to encode status snapshot", zap.Error(err))
		return
	}

	token := l.client.Publish(l.topicPrefix+"state", 1, true, payload)
	token.Wait()
	if token.Error() != nil {
		l.logger.Warn("Failed to publish status", zap.Error(token.Error()))
	}
}

// NopStatusLight 无指示灯环境的空实现
type NopStatusLight struct{}

func (NopStatusLight) Set(SystemStatus, PIRStatus, AlertStatus) {}
func (NopStatusLight) Close()                                   {}
