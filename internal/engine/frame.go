package engine

import (
	"time"

	"github.com/predictbot/gopredict/internal/metrics"
)

// Frame 一个以固定延迟预算衡量的实时工作单元快照。
// Budget 在帧启动后不可变；返回的是副本，调用方无法改动内部状态。
type Frame struct {
	Budget    time.Duration
	StartedAt time.Time
	Complete  bool
	Packets   []string
}

// StartFrame 开启一帧并记录开始时间。
// 帧状态机是严格的：已有帧在进行中时返回 ErrFrameActive，而不是隐式顶替。
func (e *Engine) StartFrame() (Frame, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.activeFrame != nil {
		return Frame{}, ErrFrameActive
	}
	e.activeFrame = &frameState{
		budget:    e.cfg.FrameBudget,
		startedAt: time.Now(),
		packets:   make([]string, 0),
	}
	return e.snapshotFrameLocked(), nil
}

// TrackPacket 把一个处理过的预测包 ID 记到当前帧上。
// 没有进行中的帧时是 no-op（帧内登记只是观测性信息）。
func (e *Engine) TrackPacket(packetID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.activeFrame == nil {
		return
	}
	e.activeFrame.packets = append(e.activeFrame.packets, packetID)
}

// CompleteFrame 结束当前帧，返回本帧耗时并计入延迟历史。
// 没有进行中的帧时返回 ErrNoActiveFrame。
func (e *Engine) CompleteFrame() (time.Duration, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.activeFrame == nil {
		return 0, ErrNoActiveFrame
	}
	elapsed := time.Since(e.activeFrame.startedAt)
	overBudget := elapsed > e.activeFrame.budget
	e.activeFrame = nil

	// 环形缓冲：覆盖最旧样本
	if len(e.latencies) < e.cfg.LatencyHistorySize {
		e.latencies = append(e.latencies, elapsed)
	} else {
		e.latencies[e.latHead] = elapsed
		e.latHead = (e.latHead + 1) % e.cfg.LatencyHistorySize
	}
	if e.latCount < e.cfg.LatencyHistorySize {
		e.latCount++
	}

	if overBudget {
		metrics.FrameOverruns.Add(1)
		log.Warnf("[Engine] 帧超预算: elapsed=%v budget=%v", elapsed, e.cfg.FrameBudget)
	}
	return elapsed, nil
}

// ActiveFrame 返回当前帧快照，没有进行中的帧时第二个返回值为 false
func (e *Engine) ActiveFrame() (Frame, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.activeFrame == nil {
		return Frame{}, false
	}
	return e.snapshotFrameLocked(), true
}

// AverageLatency 已完成帧的平均耗时，没有样本时为 0
func (e *Engine) AverageLatency() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.averageLatencyLocked()
}

// IsFrameOverBudget 当前帧已耗时是否超出预算；没有进行中的帧时恒为 false
func (e *Engine) IsFrameOverBudget() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.activeFrame == nil {
		return false
	}
	return time.Since(e.activeFrame.startedAt) > e.activeFrame.budget
}

// MeetsLatencyRequirement 实时 SLA 检查：平均帧耗时严格低于预算
func (e *Engine) MeetsLatencyRequirement() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.averageLatencyLocked() < e.cfg.FrameBudget
}

func (e *Engine) averageLatencyLocked() time.Duration {
	if e.latCount == 0 {
		return 0
	}
	var sum time.Duration
	for i := 0; i < e.latCount; i++ {
		sum += e.latencies[i]
	}
	return sum / time.Duration(e.latCount)
}

func (e *Engine) snapshotFrameLocked() Frame {
	packets := make([]string, len(e.activeFrame.packets))
	copy(packets, e.activeFrame.packets)
	return Frame{
		Budget:    e.activeFrame.budget,
		StartedAt: e.activeFrame.startedAt,
		Complete:  false,
		Packets:   packets,
	}
}
