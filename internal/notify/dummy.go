package notify

import (
	"context"
	"sync"

	"duruon/internal/models"

	"go.uber.org/zap"
)

// Dummy 仅打印日志的通知渠道（无 Bot Token 的开发环境用）
// 同时在内存里保留消息记录，供脚本注入反馈
type Dummy struct {
	logger *zap.Logger

	mu       sync.Mutex
	Alerts   []string
	Infos    []string
	Captions []string
	queued   []models.Ack
}

func NewDummy(logger *zap.Logger) *Dummy {
	return &Dummy{logger: logger}
}

func (d *Dummy) SendAlert(_ context.Context, kind, text string, _ bool) error {
	d.mu.Lock()
	d.Alerts = append(d.Alerts, text)
	d.mu.Unlock()
	d.logger.Info("ALERT (dummy notifier)",
		zap.String("kind", kind),
		zap.String("text", text),
	)
	return nil
}

func (d *Dummy) SendInfo(_ context.Context, text string) error {
	d.mu.Lock()
	d.Infos = append(d.Infos, text)
	d.mu.Unlock()
	d.logger.Info("INFO (dummy notifier)", zap.String("text", text))
	return nil
}

func (d *Dummy) SendSnapshot(_ context.Context, caption string, png []byte) error {
	d.mu.Lock()
	d.Captions = append(d.Captions, caption)
	d.mu.Unlock()
	d.logger.Info("SNAPSHOT (dummy notifier)",
		zap.String("caption", caption),
		zap.Int("png_bytes", len(png)),
	)
	return nil
}

// QueueAck 注入一条用户反馈（测试/演示用）
func (d *Dummy) QueueAck(ack models.Ack) {
	d.mu.Lock()
	d.queued = append(d.queued, ack)
	d.mu.Unlock()
}

func (d *Dummy) PollAcks(_ context.Context) ([]models.Ack, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	acks := d.queued
	d.queued = nil
	return acks, nil
}
