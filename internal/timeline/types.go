package timeline

import (
	"time"
)

// BaseTimelineID 基准时间线 ID，初始化时创建，永不被剪枝
const BaseTimelineID = "base"

// Timeline 一条带概率权重的假设未来分支
// Probability 是独立的置信度权重，不做归一化（兄弟分支之和不必为 1）
type Timeline struct {
	ID          string
	Probability float64
	ParentID    string // 仅记录血缘，不代表所有权
	Packets     []*PredictionPacket
	CreatedAt   time.Time

	seq uint64 // 创建序号，用于并列概率时的确定性排序
}

// PredictionPacket 一条投机预测载荷及其评分所需的元数据
type PredictionPacket struct {
	ID           string
	CreatedAt    time.Time
	PredictedFor time.Time
	NegativeLag  time.Duration
	Confidence   float64 // [0,1]
	Payload      map[string]any
}

// Measurement 真实观测值（ground truth）
type Measurement struct {
	Payload   map[string]any
	Timestamp time.Time
}

// Anchor 一次锚定的结果：观测值与全部在线预测对比后的最优匹配
// 除非调用方自行保存，否则不会在调用之外持久化
type Anchor struct {
	Measurement    Measurement
	BestMatch      *PredictionPacket
	TimelineID     string
	ErrorMagnitude float64
	Timestamp      time.Time
}

// Metrics 时间线存储的聚合指标
type Metrics struct {
	TimelineCount int
	PacketCount   int
	AnchorCount   int
	PrunedCount   int
}
