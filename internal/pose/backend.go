package pose

import (
	"context"

	"duruon/internal/models"
)

// Backend 姿态估计后端
// 每次 Infer 返回一帧带时间戳的姿态；下游判定全部以该时间戳为准
type Backend interface {
	Infer(ctx context.Context) (*models.PoseFrame, error)
	Close()
}
