package service

import (
	"context"

	"duruon/internal/models"

	"go.uber.org/zap"
)

// dispatchQueueSize 外发队列容量；打满说明下游长期不可达，多余消息丢弃
// （会话仍然在途，重复提醒会再次尝试）
const dispatchQueueSize = 32

// asyncNotifier 把所有外发调用移出评估循环
// SendAlert/SendInfo/SendSnapshot 只入队即返回，真正的网络调用由
// run 协程串行执行；下游再慢也不会拖住帧评估
type asyncNotifier struct {
	inner  Notifier
	jobs   chan func(context.Context)
	logger *zap.Logger
}

func newAsyncNotifier(inner Notifier, logger *zap.Logger) *asyncNotifier {
	return &asyncNotifier{
		inner:  inner,
		jobs:   make(chan func(context.Context), dispatchQueueSize),
		logger: logger,
	}
}

func (a *asyncNotifier) SendAlert(_ context.Context, kind, text string, includeStop bool) error {
	a.enqueue("alert", func(ctx context.Context) error {
		return a.inner.SendAlert(ctx, kind, text, includeStop)
	})
	return nil
}

func (a *asyncNotifier) SendInfo(_ context.Context, text string) error {
	a.enqueue("info", func(ctx context.Context) error {
		return a.inner.SendInfo(ctx, text)
	})
	return nil
}

func (a *asyncNotifier) SendSnapshot(_ context.Context, caption string, png []byte) error {
	a.enqueue("snapshot", func(ctx context.Context) error {
		return a.inner.SendSnapshot(ctx, caption, png)
	})
	return nil
}

// PollAcks 本就跑在独立协程里，直接透传
func (a *asyncNotifier) PollAcks(ctx context.Context) ([]models.Ack, error) {
	return a.inner.PollAcks(ctx)
}

// enqueue 非阻塞入队；队列满时丢弃并告警
func (a *asyncNotifier) enqueue(op string, job func(ctx context.Context) error) {
	wrapped := func(ctx context.Context) {
		if err := job(ctx); err != nil {
			a.logger.Warn("Notification delivery failed",
				zap.String("op", op),
				zap.Error(err),
			)
		}
	}
	select {
	case a.jobs <- wrapped:
	default:
		a.logger.Warn("Notification queue full, message dropped", zap.String("op", op))
	}
}

// run 外发协程：串行消费队列直到 ctx 取消
func (a *asyncNotifier) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-a.jobs:
			job(ctx)
		}
	}
}
