package pose

import (
	"context"
	"time"

	"duruon/internal/models"
)

// MockBackend 回放预生成帧序列的后端（无摄像头环境/端到端演练用）
// 序列耗尽后返回空帧（等价于姿态丢失）
type MockBackend struct {
	frames []*models.PoseFrame
	next   int
}

func NewMockBackend(frames []*models.PoseFrame) *MockBackend {
	return &MockBackend{frames: frames}
}

func (b *MockBackend) Infer(_ context.Context) (*models.PoseFrame, error) {
	if b.next >= len(b.frames) {
		return &models.PoseFrame{
			Keypoints: map[string]models.Keypoint{},
			Timestamp: time.Now(),
		}, nil
	}
	frame := b.frames[b.next]
	b.next++
	return frame, nil
}

func (b *MockBackend) Close() {}

func mockFrame(ts time.Time, kps map[string]models.Keypoint) *models.PoseFrame {
	return &models.PoseFrame{Keypoints: kps, Score: 0.9, Timestamp: ts}
}

func torsoKeypoints(hipLX, hipRX, hipY, shLX, shRX, shY float64) map[string]models.Keypoint {
	return map[string]models.Keypoint{
		"left_hip":       {X: hipLX, Y: hipY, Score: 0.9},
		"right_hip":      {X: hipRX, Y: hipY, Score: 0.9},
		"left_shoulder":  {X: shLX, Y: shY, Score: 0.9},
		"right_shoulder": {X: shRX, Y: shY, Score: 0.9},
	}
}

// HardFallSequence 站立 1s → 快速跌落 0.5s → 平躺静止 5s
func HardFallSequence(start time.Time, fps int) []*models.PoseFrame {
	var frames []*models.PoseFrame
	dt := time.Second / time.Duration(fps)
	ts := start

	for i := 0; i < fps; i++ {
		frames = append(frames, mockFrame(ts, torsoKeypoints(0.5, 0.5, 0.50, 0.5, 0.5, 0.30)))
		ts = ts.Add(dt)
	}
	dropFrames := fps / 2
	for i := 1; i <= dropFrames; i++ {
		y := 0.50 + 0.35*float64(i)/float64(dropFrames)
		frames = append(frames, mockFrame(ts, torsoKeypoints(0.5, 0.5, y, 0.8, 0.2, y)))
		ts = ts.Add(dt)
	}
	for i := 0; i < 5*fps; i++ {
		frames = append(frames, mockFrame(ts, torsoKeypoints(0.5, 0.5, 0.85, 0.8, 0.2, 0.85)))
		ts = ts.Add(dt)
	}
	return frames
}

// SoftImmobilitySequence 缓慢坐/躺下 5s（无跌落信号）→ 长时间静止
func SoftImmobilitySequence(start time.Time, fps int, stillS float64) []*models.PoseFrame {
	var frames []*models.PoseFrame
	dt := time.Second / time.Duration(fps)
	ts := start

	for i := 0; i < 5*fps; i++ {
		frac := float64(i+1) / float64(5*fps)
		hipY := 0.5 + 0.3*frac
		frames = append(frames, mockFrame(ts, torsoKeypoints(0.5, 0.5, hipY, 0.52, 0.48, hipY-0.18)))
		ts = ts.Add(dt)
	}
	for i := 0; i < int(stillS*float64(fps)); i++ {
		frames = append(frames, mockFrame(ts, torsoKeypoints(0.5, 0.5, 0.8, 0.52, 0.48, 0.62)))
		ts = ts.Add(dt)
	}
	return frames
}
