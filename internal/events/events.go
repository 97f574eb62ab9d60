package events

import (
	"time"

	"github.com/predictbot/gopredict/internal/timeline"
)

// MeasurementArrivedEvent 观测数据到达事件
type MeasurementArrivedEvent struct {
	Measurement timeline.Measurement
	Source      string // "rest" 或 "stream"
	Timestamp   time.Time
}

// AnchorResolvedEvent 锚定完成事件
type AnchorResolvedEvent struct {
	Anchor    timeline.Anchor
	Pruned    int // 本次锚定后被剪枝的时间线数量
	Timestamp time.Time
}

// PredictionServedEvent 预测命中事件
type PredictionServedEvent struct {
	Key         string
	NegativeLag time.Duration
	Precomputed bool // false 表示走了 fallback 现算
	Timestamp   time.Time
}

// FrameCompletedEvent 帧完成事件
type FrameCompletedEvent struct {
	Elapsed    time.Duration
	Budget     time.Duration
	OverBudget bool
	Packets    int
	Timestamp  time.Time
}

// BroadcastSentEvent 广播发送事件
type BroadcastSentEvent struct {
	Topic       string
	Listeners   int
	Speculative bool // true 表示观测到达前的预先广播
	Timestamp   time.Time
}

// CriticalErrorEvent 严重错误事件（触发引擎停止）
type CriticalErrorEvent struct {
	Component string
	Error     string
	Reason    string
	Timestamp time.Time
}
