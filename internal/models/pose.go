package models

import (
	"time"
)

// COCO17 关键点名称（MoveNet 输出顺序）
var COCO17 = []string{
	"nose", "left_eye", "right_eye", "left_ear", "right_ear",
	"left_shoulder", "right_shoulder", "left_elbow", "right_elbow",
	"left_wrist", "right_wrist", "left_hip", "right_hip",
	"left_knee", "right_knee", "left_ankle", "right_ankle",
}

// SkeletonEdges 骨架连线（用于匿名快照渲染）
var SkeletonEdges = [][2]string{
	{"left_shoulder", "right_shoulder"}, {"left_hip", "right_hip"},
	{"left_shoulder", "left_elbow"}, {"left_elbow", "left_wrist"},
	{"right_shoulder", "right_elbow"}, {"right_elbow", "right_wrist"},
	{"left_hip", "left_knee"}, {"left_knee", "left_ankle"},
	{"right_hip", "right_knee"}, {"right_knee", "right_ankle"},
	{"left_shoulder", "left_hip"}, {"right_shoulder", "right_hip"},
}

// Keypoint 单个关键点（归一化坐标 [0,1]×[0,1]）
type Keypoint struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Score float64 `json:"score"` // 置信度 [0,1]
}

// PoseFrame 单帧姿态估计结果（由姿态后端产生，调用方在单个 tick 内独占）
type PoseFrame struct {
	Keypoints map[string]Keypoint `json:"keypoints"`
	Score     float64             `json:"score"` // 可见关键点的平均置信度
	Timestamp time.Time           `json:"timestamp"`
}

// Keypoint 按名称获取关键点（不存在时返回零值和 false）
func (f *PoseFrame) Keypoint(name string) (Keypoint, bool) {
	kp, ok := f.Keypoints[name]
	return kp, ok
}

// Point 归一化平面坐标
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}
