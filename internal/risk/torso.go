package risk

import (
	"math"

	"duruon/internal/config"
	"duruon/internal/models"
)

// 肢体对：主关键点不可用时按顺序尝试备选对
var hipPairs = [][2]string{
	{"left_hip", "right_hip"},
	{"left_knee", "right_knee"},
	{"left_ankle", "right_ankle"},
}

var shoulderPairs = [][2]string{
	{"left_shoulder", "right_shoulder"},
	{"left_elbow", "right_elbow"},
	{"left_wrist", "right_wrist"},
}

// degenerateEps 肩髋几乎重合时视为水平姿态
const degenerateEps = 0.001

// midpoint 计算一对关键点的中点（两点置信度均需达到 minConf）
func midpoint(frame *models.PoseFrame, a, b string, minConf float64) (models.Point, bool) {
	pa, okA := frame.Keypoint(a)
	pb, okB := frame.Keypoint(b)
	if !okA || !okB || pa.Score < minConf || pb.Score < minConf {
		return models.Point{}, false
	}
	return models.Point{
		X: (pa.X + pb.X) / 2.0,
		Y: (pa.Y + pb.Y) / 2.0,
	}, true
}

// landmarkMid 按主对→备选对的顺序求中点
// 主对使用 MinKeypointConfidence；备选对允许降到 FallbackConfidenceFloor，并标记 fallback
func landmarkMid(frame *models.PoseFrame, pairs [][2]string, cfg *config.RiskConfig) (models.Point, bool, bool) {
	if p, ok := midpoint(frame, pairs[0][0], pairs[0][1], cfg.MinKeypointConfidence); ok {
		return p, false, true
	}
	for _, pair := range pairs[1:] {
		if p, ok := midpoint(frame, pair[0], pair[1], cfg.FallbackConfidenceFloor); ok {
			return p, true, true
		}
	}
	return models.Point{}, false, false
}

// torsoAngleDeg 躯干角度：0°=水平，90°=直立
// 图像坐标 Y 向下增长；直立时肩在髋上方（vy<0）
func torsoAngleDeg(vx, vy float64) float64 {
	if math.Abs(vx) < degenerateEps && math.Abs(vy) < degenerateEps {
		// 肩髋同点，按水平处理
		return 0.0
	}
	angle := 90.0 - math.Atan2(math.Abs(vx), math.Abs(vy))*180.0/math.Pi
	return math.Max(0.0, math.Min(90.0, angle))
}

// computeTorsoSample 从单帧关键点导出躯干样本（纯函数，不依赖引擎状态）
// prev 为上一有效样本（用于帧间运动量），可为 nil
// ok=false 表示该帧未检出人体
func computeTorsoSample(frame *models.PoseFrame, prev *models.TorsoSample, cfg *config.RiskConfig) (sample models.TorsoSample, vx, vy float64, ok bool) {
	hipMid, hipFallback, hipOK := landmarkMid(frame, hipPairs, cfg)
	shoulderMid, shoulderFallback, shoulderOK := landmarkMid(frame, shoulderPairs, cfg)
	if !hipOK || !shoulderOK {
		return models.TorsoSample{}, 0, 0, false
	}

	vx = shoulderMid.X - hipMid.X
	vy = shoulderMid.Y - hipMid.Y
	angle := torsoAngleDeg(vx, vy)

	motion := 0.0
	if prev != nil {
		motion = math.Hypot(hipMid.X-prev.HipMid.X, hipMid.Y-prev.HipMid.Y) +
			math.Hypot(shoulderMid.X-prev.ShoulderMid.X, shoulderMid.Y-prev.ShoulderMid.Y)
	}

	return models.TorsoSample{
		Timestamp:    frame.Timestamp,
		Present:      true,
		HipMid:       hipMid,
		ShoulderMid:  shoulderMid,
		AngleDeg:     angle,
		Motion:       motion,
		UsedFallback: hipFallback || shoulderFallback,
	}, vx, vy, true
}

// AdaptiveThresholds 根据姿态角度与淋浴模式计算当前 tick 的判定阈值
// 所有判定路径共用同一份结果，避免各自重算
func AdaptiveThresholds(angleDeg float64, showerActive bool, cfg *config.RiskConfig) models.Thresholds {
	th := models.Thresholds{
		ImmobileWindowS: cfg.ImmobileWindowS,
		SoftImmobilityS: cfg.SoftImmobilityS,
		HardImmobilityS: cfg.HardImmobilityS,
	}

	// 低角度（接近水平）允许更大的运动容差
	if angleDeg <= cfg.AngleThresholdDeg {
		th.MotionEps = cfg.MovementToleranceLowAngle
	} else {
		th.MotionEps = cfg.MovementToleranceHighAngle
	}

	if showerActive {
		m := cfg.ShowerDurationMultiplier
		th.ImmobileWindowS *= m
		th.SoftImmobilityS *= m
		th.HardImmobilityS *= m
	}

	return th
}
