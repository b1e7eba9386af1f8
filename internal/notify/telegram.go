package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"duruon/internal/models"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// minSendInterval 两次外发之间的最小间隔（Telegram 单聊限速约 1 条/秒）
const minSendInterval = time.Second

// telegramResponse Telegram Bot API 响应包络
type telegramResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	Description string          `json:"description"`
}

// telegramUpdate getUpdates 返回的单条更新
type telegramUpdate struct {
	UpdateID int64 `json:"update_id"`
	Message  *struct {
		Text string `json:"text"`
	} `json:"message"`
	CallbackQuery *struct {
		ID   string `json:"id"`
		Data string `json:"data"`
	} `json:"callback_query"`
}

// inlineKeyboard 告警消息的按钮行
type inlineButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}

// Telegram Telegram Bot 通知渠道
// 发送失败只记录日志不中断监护循环，由告警管理器的重复提醒兜底
type Telegram struct {
	httpClient *resty.Client
	chatID     string
	logger     *zap.Logger

	mu       sync.Mutex
	offset   int64
	lastSend time.Time
}

// NewTelegram 创建 Telegram 通知客户端
func NewTelegram(botToken, chatID string, logger *zap.Logger) *Telegram {
	client := resty.New().
		SetBaseURL("https://api.telegram.org/bot" + botToken).
		SetTimeout(10 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetHeader("Content-Type", "application/json")

	return &Telegram{
		httpClient: client,
		chatID:     chatID,
		logger:     logger,
	}
}

// SendAlert 发送告警消息，附确认按钮（可选停止按钮）
func (t *Telegram) SendAlert(ctx context.Context, kind, text string, includeStop bool) error {
	buttons := [][]inlineButton{
		{
			{Text: "✅ I'm OK", CallbackData: string(models.AckOK)},
			{Text: "🙈 False alarm", CallbackData: string(models.AckFalsePositive)},
		},
	}
	if includeStop {
		buttons = append(buttons, []inlineButton{
			{Text: "🛑 Stop alerts", CallbackData: string(models.AckStop)},
		})
	}

	body := map[string]any{
		"chat_id": t.chatID,
		"text":    text,
		"reply_markup": map[string]any{
			"inline_keyboard": buttons,
		},
	}
	if err := t.call(ctx, "/sendMessage", body); err != nil {
		return fmt.Errorf("failed to send alert (%s): %w", kind, err)
	}
	return nil
}

// SendInfo 发送纯文本状态消息
func (t *Telegram) SendInfo(ctx context.Context, text string) error {
	body := map[string]any{
		"chat_id": t.chatID,
		"text":    text,
	}
	if err := t.call(ctx, "/sendMessage", body); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// SendSnapshot 发送骨架快照图片
func (t *Telegram) SendSnapshot(ctx context.Context, caption string, png []byte) error {
	t.throttle()

	var response telegramResponse
	resp, err := t.httpClient.R().
		SetContext(ctx).
		SetFileReader("photo", "snapshot.png", bytes.NewReader(png)).
		SetFormData(map[string]string{
			"chat_id": t.chatID,
			"caption": caption,
		}).
		SetResult(&response).
		Post("/sendPhoto")
	if err != nil {
		return fmt.Errorf("failed to send snapshot: %w", err)
	}
	if !response.OK {
		return fmt.Errorf("telegram API error: %s (http %d)", response.Description, resp.StatusCode())
	}
	return nil
}

// PollAcks 拉取用户反馈（按钮回调 + 文本指令），返回按到达顺序排列的反馈
func (t *Telegram) PollAcks(ctx context.Context) ([]models.Ack, error) {
	t.mu.Lock()
	offset := t.offset
	t.mu.Unlock()

	var response telegramResponse
	resp, err := t.httpClient.R().
		SetContext(ctx).
		SetBody(map[string]any{
			"offset":          offset,
			"timeout":         0,
			"allowed_updates": []string{"message", "callback_query"},
		}).
		SetResult(&response).
		Post("/getUpdates")
	if err != nil {
		return nil, fmt.Errorf("failed to poll updates: %w", err)
	}
	if !response.OK {
		return nil, fmt.Errorf("telegram API error: %s (http %d)", response.Description, resp.StatusCode())
	}

	var updates []telegramUpdate
	if err := json.Unmarshal(response.Result, &updates); err != nil {
		return nil, fmt.Errorf("failed to decode updates: %w", err)
	}

	var acks []models.Ack
	for _, u := range updates {
		t.mu.Lock()
		if u.UpdateID >= t.offset {
			t.offset = u.UpdateID + 1
		}
		t.mu.Unlock()

		if u.CallbackQuery != nil {
			if ack := parseAck(u.CallbackQuery.Data); ack != models.AckNone {
				acks = append(acks, ack)
			}
			t.answerCallback(ctx, u.CallbackQuery.ID)
			continue
		}
		if u.Message != nil {
			if ack := parseCommand(u.Message.Text); ack != models.AckNone {
				acks = append(acks, ack)
			}
		}
	}
	return acks, nil
}

// call 发送 JSON 请求并检查响应包络
func (t *Telegram) call(ctx context.Context, path string, body map[string]any) error {
	t.throttle()

	var response telegramResponse
	resp, err := t.httpClient.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&response).
		Post(path)
	if err != nil {
		return err
	}
	if !response.OK {
		return fmt.Errorf("telegram API error: %s (http %d)", response.Description, resp.StatusCode())
	}
	return nil
}

// answerCallback 回应按钮点击（去掉客户端的加载态），失败只记日志
func (t *Telegram) answerCallback(ctx context.Context, callbackID string) {
	if err := t.call(ctx, "/answerCallbackQuery", map[string]any{
		"callback_query_id": callbackID,
	}); err != nil {
		t.logger.Warn("Failed to answer callback query", zap.Error(err))
	}
}

// throttle 限速
func (t *Telegram) throttle() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if wait := minSendInterval - time.Since(t.lastSend); wait > 0 {
		time.Sleep(wait)
	}
	t.lastSend = time.Now()
}

// parseAck 按钮回调数据 → 反馈
func parseAck(data string) models.Ack {
	switch models.Ack(data) {
	case models.AckOK, models.AckFalsePositive, models.AckStop:
		return models.Ack(data)
	}
	return models.AckNone
}

// parseCommand 文本指令 → 反馈
func parseCommand(text string) models.Ack {
	switch text {
	case "/pause":
		return models.AckPause
	case "/resume":
		return models.AckResume
	case "/status":
		return models.AckStatus
	case "/stop":
		return models.AckStop
	case "/ok":
		return models.AckOK
	}
	return models.AckNone
}
