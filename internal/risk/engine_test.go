package risk

import (
	"testing"
	"time"

	"duruon/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const tickDt = 100 * time.Millisecond // 10 fps

// 夜间时段基准时间，避开淋浴时段
var baseTS = time.Date(2025, 1, 15, 3, 0, 0, 0, time.UTC)

func standingFrame(ts time.Time) *models.PoseFrame {
	return torsoFrame(ts, 0.5, 0.5, 0.5, 0.3) // 90°
}

func flatFrame(ts time.Time) *models.PoseFrame {
	return torsoFrame(ts, 0.5, 0.85, 0.8, 0.85) // 0°
}

func absentFrame(ts time.Time) *models.PoseFrame {
	return poseFrame(ts, map[string]models.Keypoint{})
}

// fallSequence 站立 1s → 快速跌落 0.5s → 平躺静止 5s
func fallSequence(start time.Time) []*models.PoseFrame {
	var frames []*models.PoseFrame
	ts := start
	for i := 0; i < 10; i++ {
		frames = append(frames, standingFrame(ts))
		ts = ts.Add(tickDt)
	}
	for i := 1; i <= 5; i++ {
		f := float64(i) / 5.0
		frames = append(frames, torsoFrame(ts, 0.5, 0.5+0.35*f, 0.5+0.3*f, 0.3+0.55*f))
		ts = ts.Add(tickDt)
	}
	for i := 0; i < 50; i++ {
		frames = append(frames, flatFrame(ts))
		ts = ts.Add(tickDt)
	}
	return frames
}

func runFrames(e *Engine, frames []*models.PoseFrame) []models.RiskEvent {
	var events []models.RiskEvent
	for _, f := range frames {
		m := e.Evaluate(f)
		if m.Event != nil {
			events = append(events, *m.Event)
		}
	}
	return events
}

func TestEngine_HardFall_ExactlyOneEvent(t *testing.T) {
	e := NewEngine(testRiskConfig(), zap.NewNop())

	events := runFrames(e, fallSequence(baseTS))

	require.Len(t, events, 1)
	assert.Equal(t, models.EventHardFall, events[0].Kind)
	assert.True(t, events[0].Metrics.SuddenDrop)
	// 快速路径在跌落发生时立即告警，不等静止确认
	assert.Less(t, events[0].Timestamp.Sub(baseTS).Seconds(), 2.0)
}

func TestEngine_Deterministic(t *testing.T) {
	frames := fallSequence(baseTS)

	a := runFrames(NewEngine(testRiskConfig(), zap.NewNop()), frames)
	b := runFrames(NewEngine(testRiskConfig(), zap.NewNop()), frames)

	require.Equal(t, len(a), len(b))
	for i := range a {
		assert.Equal(t, a[i].Kind, b[i].Kind)
		assert.True(t, a[i].Timestamp.Equal(b[i].Timestamp))
	}
}

func TestEngine_GradualRecline_SoftBeforeHard(t *testing.T) {
	cfg := testRiskConfig()
	cfg.CooldownS = 3.0 // 缩短冷却以便观察软→硬升级
	e := NewEngine(cfg, zap.NewNop())

	// 缓慢倒下 10s（髋不动、肩缓慢下沉，不触发跌落检测）→ 平躺静止 12s
	var frames []*models.PoseFrame
	ts := baseTS
	for i := 0; i < 100; i++ {
		f := float64(i) / 100.0
		frames = append(frames, torsoFrame(ts, 0.5, 0.8, 0.5+0.4*f, 0.25+0.55*f))
		ts = ts.Add(tickDt)
	}
	for i := 0; i < 120; i++ {
		frames = append(frames, torsoFrame(ts, 0.5, 0.8, 0.9, 0.8))
		ts = ts.Add(tickDt)
	}

	events := runFrames(e, frames)

	require.NotEmpty(t, events)
	assert.Equal(t, models.EventSoftImmobility, events[0].Kind)

	firstHard := -1
	for i, ev := range events {
		if ev.Kind == models.EventHardImmobility {
			firstHard = i
			break
		}
		assert.Equal(t, models.EventSoftImmobility, ev.Kind)
	}
	require.GreaterOrEqual(t, firstHard, 1, "hard immobility should follow soft")
	assert.GreaterOrEqual(t,
		events[firstHard].Timestamp.Sub(baseTS).Seconds(), cfg.HardImmobilityS)
}

func TestEngine_CooldownSpacing(t *testing.T) {
	cfg := testRiskConfig()
	e := NewEngine(cfg, zap.NewNop())

	// 平躺静止 150s：反复满足升级条件，事件间隔仍受全局冷却约束
	var frames []*models.PoseFrame
	ts := baseTS
	for i := 0; i < 1500; i++ {
		frames = append(frames, flatFrame(ts))
		ts = ts.Add(tickDt)
	}

	events := runFrames(e, frames)

	require.GreaterOrEqual(t, len(events), 2)
	for i := 1; i < len(events); i++ {
		gap := events[i].Timestamp.Sub(events[i-1].Timestamp).Seconds()
		assert.GreaterOrEqual(t, gap, cfg.CooldownS)
	}
}

func TestEngine_ExtremeLowAngle_FastConfirm(t *testing.T) {
	cfg := testRiskConfig()
	e := NewEngine(cfg, zap.NewNop())

	// 一出现就接近全平且静止：无跌落信号也应快速确认
	var frames []*models.PoseFrame
	ts := baseTS
	for i := 0; i < 40; i++ {
		frames = append(frames, flatFrame(ts))
		ts = ts.Add(tickDt)
	}

	events := runFrames(e, frames)

	require.NotEmpty(t, events)
	assert.Equal(t, models.EventHardFall, events[0].Kind)
	assert.False(t, events[0].Metrics.SuddenDrop)
	elapsed := events[0].Timestamp.Sub(baseTS).Seconds()
	assert.GreaterOrEqual(t, elapsed, cfg.ExtremeLowAngleConfirmS)
	assert.Less(t, elapsed, cfg.SoftImmobilityS) // 早于普通软静止
}

func TestEngine_UprightFaint_RequiresDoubleHard(t *testing.T) {
	cfg := testRiskConfig()
	cfg.SoftImmobilityS = 2.0
	cfg.HardImmobilityS = 5.0
	cfg.FastFallImmobilityS = 3.0
	cfg.CooldownS = 3.0
	e := NewEngine(cfg, zap.NewNop())

	// 直立纹丝不动 12s：站立昏迷场景
	var frames []*models.PoseFrame
	ts := baseTS
	for i := 0; i < 120; i++ {
		frames = append(frames, standingFrame(ts))
		ts = ts.Add(tickDt)
	}

	events := runFrames(e, frames)

	firstHard := -1
	for i, ev := range events {
		if ev.Kind == models.EventHardImmobility {
			firstHard = i
			break
		}
	}
	require.GreaterOrEqual(t, firstHard, 0)
	// 直立姿态的硬静止门槛是两倍硬时长
	assert.GreaterOrEqual(t,
		events[firstHard].Timestamp.Sub(baseTS).Seconds(), 2*cfg.HardImmobilityS)
}

func TestEngine_PoseLossAfterFallCandidate_Escalates(t *testing.T) {
	cfg := testRiskConfig()
	e := NewEngine(cfg, zap.NewNop())

	// 垂直下坠但躯干保持直立（角度不过线，只产生候选不立即告警）
	// 站立阶段带轻微摆动，保持"非静止"状态
	var frames []*models.PoseFrame
	ts := baseTS
	for i := 0; i < 10; i++ {
		x := 0.5 + 0.04*float64(i%2)
		frames = append(frames, torsoFrame(ts, x, 0.5, x, 0.3))
		ts = ts.Add(tickDt)
	}
	for i := 1; i <= 4; i++ {
		f := float64(i) / 4.0
		frames = append(frames, torsoFrame(ts, 0.5, 0.5+0.2*f, 0.5, 0.3+0.2*f))
		ts = ts.Add(tickDt)
	}
	// 随后姿态完全丢失（滑出画面/遮挡镜头）
	lossStart := ts
	for i := 0; i < 70; i++ {
		frames = append(frames, absentFrame(ts))
		ts = ts.Add(500 * time.Millisecond)
	}

	events := runFrames(e, frames)

	require.Len(t, events, 1)
	assert.Equal(t, models.EventHardImmobility, events[0].Kind)
	assert.False(t, events[0].Metrics.Present)
	assert.InDelta(t, 30.0, events[0].Timestamp.Sub(lossStart).Seconds(), 0.6)
}

func TestEngine_PoseLossWithoutCandidate_ClearsState(t *testing.T) {
	e := NewEngine(testRiskConfig(), zap.NewNop())

	// 正常离场：站立片刻后消失，长时间丢失不产生任何事件
	var frames []*models.PoseFrame
	ts := baseTS
	for i := 0; i < 20; i++ {
		frames = append(frames, standingFrame(ts))
		ts = ts.Add(tickDt)
	}
	for i := 0; i < 80; i++ {
		frames = append(frames, absentFrame(ts))
		ts = ts.Add(500 * time.Millisecond)
	}

	events := runFrames(e, frames)
	assert.Empty(t, events)
}

func TestEngine_ShowerMode_StretchesDurations(t *testing.T) {
	cfg := testRiskConfig()
	cfg.ShowerModeEnabled = true
	cfg.ShowerDurationMultiplier = 2.0
	cfg.SoftImmobilityS = 5.0
	e := NewEngine(cfg, zap.NewNop())

	// 淋浴时段内的直立静止：软静止时长按倍率放大
	noon := time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)
	var frames []*models.PoseFrame
	ts := noon
	for i := 0; i < 130; i++ {
		frames = append(frames, standingFrame(ts))
		ts = ts.Add(tickDt)
	}

	events := runFrames(e, frames)

	require.NotEmpty(t, events)
	assert.Equal(t, models.EventSoftImmobility, events[0].Kind)
	assert.True(t, events[0].Metrics.ShowerActive)
	assert.GreaterOrEqual(t,
		events[0].Timestamp.Sub(noon).Seconds(),
		cfg.SoftImmobilityS*cfg.ShowerDurationMultiplier)
}

func TestEngine_SetImmobilityDurations(t *testing.T) {
	e := NewEngine(testRiskConfig(), zap.NewNop())

	e.SetImmobilityDurations(8.0, 16.0)
	assert.Equal(t, 8.0, e.Config().SoftImmobilityS)
	assert.Equal(t, 16.0, e.Config().HardImmobilityS)

	// 非法组合被拒绝，保持原值
	e.SetImmobilityDurations(20.0, 16.0)
	assert.Equal(t, 8.0, e.Config().SoftImmobilityS)
	assert.Equal(t, 16.0, e.Config().HardImmobilityS)
}
