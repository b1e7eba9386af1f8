package pose

import (
	"context"
	"fmt"
	"time"

	"duruon/internal/models"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// inferResponse 推理边车的响应
type inferResponse struct {
	Keypoints map[string]struct {
		X     float64 `json:"x"`
		Y     float64 `json:"y"`
		Score float64 `json:"score"`
	} `json:"keypoints"`
	Score float64 `json:"score"`
}

// HTTPBackend 通过 HTTP 调用推理边车（MoveNet 等模型跑在独立进程里）
type HTTPBackend struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

// NewHTTPBackend 创建边车客户端
func NewHTTPBackend(baseURL string, timeout time.Duration, logger *zap.Logger) *HTTPBackend {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")

	return &HTTPBackend{
		httpClient: client,
		logger:     logger,
	}
}

// Infer 请求一帧推理结果，帧时间戳取响应到达时刻
func (b *HTTPBackend) Infer(ctx context.Context) (*models.PoseFrame, error) {
	var response inferResponse
	resp, err := b.httpClient.R().
		SetContext(ctx).
		SetResult(&response).
		Get("/infer")
	if err != nil {
		return nil, fmt.Errorf("failed to call pose backend: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("pose backend returned http %d", resp.StatusCode())
	}

	frame := &models.PoseFrame{
		Keypoints: make(map[string]models.Keypoint, len(response.Keypoints)),
		Score:     response.Score,
		Timestamp: time.Now(),
	}
	for name, kp := range response.Keypoints {
		frame.Keypoints[name] = models.Keypoint{X: kp.X, Y: kp.Y, Score: kp.Score}
	}
	return frame, nil
}

func (b *HTTPBackend) Close() {}
