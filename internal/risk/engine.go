package risk

import (
	"math"
	"time"

	"duruon/internal/config"
	"duruon/internal/models"

	"go.uber.org/zap"
)

// 姿态丢失延续（跌倒后人体可能滑出画面或遮挡镜头）
const (
	postFallLossWindowS  = 30.0 // 跌落候选后多久内的姿态丢失视为可疑
	postEventLossWindowS = 60.0 // 事件后多久内的姿态丢失视为可疑
	lossImmobilityS      = 30.0 // 可疑丢失持续多久升级为 hard_immobility
)

// historyMarginS 历史保留的额外余量（秒）
const historyMarginS = 30.0

// fallCandidate 跌落候选标记（同一时刻最多一个）
type fallCandidate struct {
	detectedAt time.Time
	kind       string
}

// Engine 风险引擎：消费躯干样本流，维护滑动历史与升级状态机
// 非并发安全，由单一控制循环串行推进
type Engine struct {
	cfg    config.RiskConfig
	logger *zap.Logger

	hist []models.TorsoSample

	lastAlertTS      time.Time      // 最近一次事件时间（冷却比较基于事件时间戳，不用墙钟）
	candidate        *fallCandidate // 跌落候选
	immobileSince    *time.Time     // 静止计时器（跌落确认与普通静止共用）
	extremeSince     *time.Time     // 极低角度快速确认计时器
	lossContinuation bool           // 姿态丢失延续中
}

// NewEngine 创建风险引擎（cfg 按值持有，运行期仅 SetImmobilityDurations 可修改）
func NewEngine(cfg config.RiskConfig, logger *zap.Logger) *Engine {
	return &Engine{
		cfg:    cfg,
		logger: logger,
	}
}

// Config 当前生效的阈值配置（只读快照）
func (e *Engine) Config() config.RiskConfig {
	return e.cfg
}

// SetImmobilityDurations 自适应调参的唯一写入口：更新软/硬静止时长
// 不满足 soft < hard 的组合被拒绝（保持加载期校验的不变量）
func (e *Engine) SetImmobilityDurations(softS, hardS float64) {
	if softS <= 0 || softS >= hardS {
		e.logger.Warn("Rejecting incoherent immobility durations",
			zap.Float64("soft_s", softS),
			zap.Float64("hard_s", hardS),
		)
		return
	}
	e.cfg.SoftImmobilityS = softS
	e.cfg.HardImmobilityS = hardS
	e.logger.Info("Immobility durations updated",
		zap.Float64("soft_s", softS),
		zap.Float64("hard_s", hardS),
	)
}

// Evaluate 单 tick 评估：产出指标快照，至多附带一个风险事件
// 时间完全来自帧时间戳，系统时钟跳变不影响判定
func (e *Engine) Evaluate(frame *models.PoseFrame) models.Metrics {
	now := frame.Timestamp

	sample, vx, vy, present := computeTorsoSample(frame, e.lastPresentSample(), &e.cfg)
	if !present {
		return e.evaluateAbsent(now)
	}
	e.lossContinuation = false
	e.appendSample(sample)

	showerActive := e.isShowerTime(now)
	th := AdaptiveThresholds(sample.AngleDeg, showerActive, &e.cfg)

	verticalDrop, rapidAngleChange, largePositionChange := e.detectDrop(&sample, now)
	suddenDrop := verticalDrop || rapidAngleChange || largePositionChange
	immobile := e.isImmobile(now, &th)

	metrics := models.Metrics{
		Present:             true,
		AngleDeg:            sample.AngleDeg,
		Motion:              sample.Motion,
		SuddenDrop:          suddenDrop,
		Immobile:            immobile,
		VerticalDrop:        verticalDrop,
		RapidAngleChange:    rapidAngleChange,
		LargePositionChange: largePositionChange,
		ShowerActive:        showerActive,
		Thresholds:          th,
		UsedFallback:        sample.UsedFallback,
		DebugVX:             vx,
		DebugVY:             vy,
	}

	// 未确认的候选超过宽限期且当前并非静止中，则作废
	if e.candidate != nil && !immobile &&
		now.Sub(e.candidate.detectedAt).Seconds() > e.cfg.ConfirmGraceS {
		e.candidate = nil
	}

	var event *models.RiskEvent

	// 快速路径：明确跌落 + 低角度无需等待静止确认
	if suddenDrop {
		e.candidate = &fallCandidate{detectedAt: now, kind: "drop"}
		if sample.AngleDeg <= e.cfg.AngleThresholdDeg && e.cooldownElapsed(now) {
			event = e.emit(models.EventHardFall, now, metrics)
			e.candidate = nil
			e.immobileSince = nil
		}
	}

	// 升级状态机（与快速路径在同一 tick 内互斥）
	if event == nil {
		event = e.escalate(now, &sample, &th, immobile, metrics)
	}

	// 极低角度快速确认：姿态一出现就接近全平的场景（未经历"跌落"信号）
	if sample.AngleDeg <= e.cfg.ExtremeLowAngleDeg && immobile {
		if event == nil {
			event = e.confirmExtremeLowAngle(now, metrics)
		}
	} else {
		e.extremeSince = nil
	}

	metrics.Event = event
	return metrics
}

// escalate 跌落确认与分级静止的升级状态机
func (e *Engine) escalate(now time.Time, sample *models.TorsoSample, th *models.Thresholds, immobile bool, metrics models.Metrics) *models.RiskEvent {
	if e.candidate != nil && immobile {
		// 跌落候选 + 静止：按较短的确认时长升级
		if e.immobileSince == nil {
			t := now
			e.immobileSince = &t
			return nil
		}
		confirmS := math.Min(e.cfg.FastFallImmobilityS, th.HardImmobilityS)
		if now.Sub(*e.immobileSince).Seconds() >= confirmS && e.cooldownElapsed(now) {
			ev := e.emit(models.EventHardFall, now, metrics)
			e.candidate = nil
			e.immobileSince = nil
			return ev
		}
		return nil
	}

	if !immobile {
		e.immobileSince = nil
		return nil
	}

	// 分级静止：角度不限（直立长时间不动同样跟踪，只是升级门槛更高）
	if e.immobileSince == nil {
		t := now
		e.immobileSince = &t
		return nil
	}
	elapsed := now.Sub(*e.immobileSince).Seconds()

	if elapsed >= th.HardImmobilityS {
		// 水平姿态直接升级；直立则需要两倍硬时长（覆盖站立昏迷）
		if sample.AngleDeg <= e.cfg.AngleThresholdDeg || elapsed >= 2*th.HardImmobilityS {
			if e.cooldownElapsed(now) {
				ev := e.emit(models.EventHardImmobility, now, metrics)
				e.immobileSince = nil
				return ev
			}
		}
		return nil
	}

	if elapsed >= th.SoftImmobilityS && e.cooldownElapsed(now) {
		return e.emit(models.EventSoftImmobility, now, metrics)
	}
	return nil
}

// confirmExtremeLowAngle 极低角度静止的专用确认计时器
func (e *Engine) confirmExtremeLowAngle(now time.Time, metrics models.Metrics) *models.RiskEvent {
	if e.extremeSince == nil {
		t := now
		e.extremeSince = &t
		return nil
	}
	confirmS := math.Min(e.cfg.ExtremeLowAngleConfirmS, e.cfg.FastFallImmobilityS)
	if now.Sub(*e.extremeSince).Seconds() >= confirmS && e.cooldownElapsed(now) {
		ev := e.emit(models.EventHardFall, now, metrics)
		e.extremeSince = nil
		e.candidate = nil
		e.immobileSince = nil
		return ev
	}
	return nil
}

// evaluateAbsent 姿态丢失 tick：通常清空计时状态，跌倒后的丢失按延续处理
func (e *Engine) evaluateAbsent(now time.Time) models.Metrics {
	metrics := models.Metrics{Present: false}

	candidateRecent := e.candidate != nil &&
		now.Sub(e.candidate.detectedAt).Seconds() <= postFallLossWindowS
	eventRecent := !e.lastAlertTS.IsZero() &&
		now.Sub(e.lastAlertTS).Seconds() <= postEventLossWindowS

	if e.lossContinuation || candidateRecent || eventRecent {
		// 跌倒后的姿态丢失视为可能的倒地状态：静止计时器按墙钟继续走
		e.lossContinuation = true
		if e.immobileSince == nil {
			t := now
			e.immobileSince = &t
		} else if now.Sub(*e.immobileSince).Seconds() >= lossImmobilityS && e.cooldownElapsed(now) {
			metrics.Event = e.emit(models.EventHardImmobility, now, metrics)
			e.candidate = nil
			e.immobileSince = nil
			e.lossContinuation = false
		}
	} else {
		e.candidate = nil
		e.immobileSince = nil
		e.extremeSince = nil
	}

	e.appendSample(models.TorsoSample{Timestamp: now, Present: false})
	return metrics
}

// detectDrop 突然跌落检测：三个独立分量在最近 DropWindowS 内任一超阈值
func (e *Engine) detectDrop(sample *models.TorsoSample, now time.Time) (verticalDrop, rapidAngleChange, largePositionChange bool) {
	cutoff := now.Add(-time.Duration(e.cfg.DropWindowS * float64(time.Second)))

	var first *models.TorsoSample
	count := 0
	for i := range e.hist {
		s := &e.hist[i]
		if !s.Present || s.Timestamp.Before(cutoff) {
			continue
		}
		if first == nil {
			first = s
		}
		count++
	}
	if first == nil || count < 2 {
		return false, false, false
	}

	dy := sample.HipMid.Y - first.HipMid.Y
	verticalDrop = dy >= e.cfg.DropThreshold

	rapidAngleChange = math.Abs(sample.AngleDeg-first.AngleDeg) >= e.cfg.AngleChangeThreshold

	positionChange := math.Hypot(sample.HipMid.X-first.HipMid.X, sample.HipMid.Y-first.HipMid.Y) +
		math.Hypot(sample.ShoulderMid.X-first.ShoulderMid.X, sample.ShoulderMid.Y-first.ShoulderMid.Y)
	largePositionChange = positionChange >= e.cfg.PositionChangeThreshold

	return verticalDrop, rapidAngleChange, largePositionChange
}

// isImmobile 静止检测：窗口内平均运动量低于自适应容差
func (e *Engine) isImmobile(now time.Time, th *models.Thresholds) bool {
	cutoff := now.Add(-time.Duration(th.ImmobileWindowS * float64(time.Second)))

	sum := 0.0
	count := 0
	for i := range e.hist {
		s := &e.hist[i]
		if !s.Present || s.Timestamp.Before(cutoff) {
			continue
		}
		sum += s.Motion
		count++
	}
	if count == 0 {
		return false
	}
	return sum/float64(count) < th.MotionEps
}

// isShowerTime 当前是否处于淋浴时段（基于帧时间戳，便于用伪造时钟测试）
func (e *Engine) isShowerTime(now time.Time) bool {
	if !e.cfg.ShowerModeEnabled {
		return false
	}
	hour := now.Hour()
	return hour >= e.cfg.ShowerStartHour && hour <= e.cfg.ShowerEndHour
}

// cooldownElapsed 全局冷却是否已过（按事件时间戳比较）
func (e *Engine) cooldownElapsed(now time.Time) bool {
	if e.lastAlertTS.IsZero() {
		return true
	}
	return now.Sub(e.lastAlertTS).Seconds() >= e.cfg.CooldownS
}

// emit 生成风险事件并推进冷却
func (e *Engine) emit(kind string, now time.Time, snapshot models.Metrics) *models.RiskEvent {
	e.lastAlertTS = now
	ev := &models.RiskEvent{
		Kind:      kind,
		Timestamp: now,
		Metrics:   snapshot,
	}
	e.logger.Info("Risk event emitted",
		zap.String("kind", kind),
		zap.Float64("angle_deg", snapshot.AngleDeg),
		zap.Bool("sudden_drop", snapshot.SuddenDrop),
		zap.Bool("immobile", snapshot.Immobile),
		zap.Bool("present", snapshot.Present),
	)
	return ev
}

// appendSample 追加样本并按年龄淘汰过旧历史
// 淘汰上限基于最大的淋浴放大窗口，永远不会短于在用窗口
func (e *Engine) appendSample(sample models.TorsoSample) {
	e.hist = append(e.hist, sample)

	maxWindowS := e.cfg.HardImmobilityS
	if e.cfg.ShowerModeEnabled {
		maxWindowS *= e.cfg.ShowerDurationMultiplier
	}
	if w := e.cfg.ImmobileWindowS * e.cfg.ShowerDurationMultiplier; w > maxWindowS {
		maxWindowS = w
	}
	cutoff := sample.Timestamp.Add(-time.Duration((maxWindowS + historyMarginS) * float64(time.Second)))

	idx := 0
	for idx < len(e.hist) && e.hist[idx].Timestamp.Before(cutoff) {
		idx++
	}
	if idx > 0 {
		e.hist = append(e.hist[:0], e.hist[idx:]...)
	}
}

// lastPresentSample 最近一个有效样本（用于帧间运动量）
func (e *Engine) lastPresentSample() *models.TorsoSample {
	for i := len(e.hist) - 1; i >= 0; i-- {
		if e.hist[i].Present {
			return &e.hist[i]
		}
	}
	return nil
}
