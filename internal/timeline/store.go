package timeline

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/predictbot/gopredict/internal/metrics"
)

var log = logrus.WithField("component", "timeline")

var (
	// ErrTimelineNotFound 引用了不存在（或已被剪枝）的时间线
	ErrTimelineNotFound = errors.New("timeline not found")
	// ErrInvalidProbability 概率超出 [0,1]
	ErrInvalidProbability = errors.New("probability out of range [0,1]")
)

// DefaultRetentionLimit 剪枝后保留的分支数上限（不含 base）
const DefaultRetentionLimit = 20

// Config 时间线存储配置
type Config struct {
	RetentionLimit int // 剪枝保留上限，<=0 时使用 DefaultRetentionLimit
}

// Store 维护多条并行的加权假设分支，并将真实观测锚定到投机预测上。
// 每个流水线应持有自己的实例，不同流水线之间不共享状态。
type Store struct {
	mu        sync.RWMutex
	timelines map[string]*Timeline
	retention int
	nextSeq   uint64

	anchorCount int
	prunedCount int
}

// NewStore 创建时间线存储，并初始化永不剪枝的 base 时间线
func NewStore(cfg Config) *Store {
	retention := cfg.RetentionLimit
	if retention <= 0 {
		retention = DefaultRetentionLimit
	}
	s := &Store{
		timelines: make(map[string]*Timeline),
		retention: retention,
	}
	s.timelines[BaseTimelineID] = &Timeline{
		ID:          BaseTimelineID,
		Probability: 1.0,
		Packets:     make([]*PredictionPacket, 0),
		CreatedAt:   time.Now(),
		seq:         s.nextSeq,
	}
	s.nextSeq++
	return s
}

// Branch 从 parentID 分叉出一条新时间线，返回新时间线 ID。
// 父时间线不存在返回 ErrTimelineNotFound；概率超出 [0,1] 返回 ErrInvalidProbability。
func (s *Store) Branch(parentID string, probability float64) (string, error) {
	if probability < 0 || probability > 1 {
		return "", errors.Wrapf(ErrInvalidProbability, "probability=%v", probability)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.timelines[parentID]; !ok {
		return "", errors.Wrapf(ErrTimelineNotFound, "parent=%s", parentID)
	}

	id := uuid.NewString()
	s.timelines[id] = &Timeline{
		ID:          id,
		Probability: probability,
		ParentID:    parentID,
		Packets:     make([]*PredictionPacket, 0),
		CreatedAt:   time.Now(),
		seq:         s.nextSeq,
	}
	s.nextSeq++

	log.Debugf("[Timeline] 分叉: parent=%s id=%s probability=%.4f", parentID, id, probability)
	return id, nil
}

// AddPrediction 把预测包挂到指定时间线上。
// 时间线已被剪枝（或从未存在）时返回 ErrTimelineNotFound，而不是静默丢弃。
func (s *Store) AddPrediction(timelineID string, pkt *PredictionPacket) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.timelines[timelineID]
	if !ok {
		return errors.Wrapf(ErrTimelineNotFound, "timeline=%s", timelineID)
	}
	if pkt.ID == "" {
		pkt.ID = uuid.NewString()
	}
	if pkt.CreatedAt.IsZero() {
		pkt.CreatedAt = time.Now()
	}
	t.Packets = append(t.Packets, pkt)
	return nil
}

// Anchor 用一次真实观测对全部在线预测打分，返回最优匹配。
// 不论是否命中，每次锚定之后都会触发剪枝。
func (s *Store) Anchor(m Measurement) *Anchor {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}

	anchor := &Anchor{
		Measurement: m,
		Timestamp:   time.Now(),
	}

	// 按创建顺序遍历，保证并列误差时取更早的包
	best := false
	for _, t := range s.sortedBySeq() {
		for _, pkt := range t.Packets {
			e := payloadError(m.Payload, pkt.Payload)
			if !best || e < anchor.ErrorMagnitude {
				best = true
				anchor.BestMatch = pkt
				anchor.TimelineID = t.ID
				anchor.ErrorMagnitude = e
			}
		}
	}

	s.anchorCount++
	metrics.AnchorRuns.Add(1)
	s.prune()

	// 没有任何在线预测可比对时返回 nil（锚定计数与剪枝照常发生）
	if !best {
		return nil
	}
	return anchor
}

// Timelines 返回当前全部在线时间线的快照
func (s *Store) Timelines() []*Timeline {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedBySeq()
}

// MostProbable 返回概率最高的时间线，并列时取创建更早的
func (s *Store) MostProbable() *Timeline {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *Timeline
	for _, t := range s.sortedBySeq() {
		if best == nil || t.Probability > best.Probability {
			best = t
		}
	}
	return best
}

// Metrics 返回聚合指标快照
func (s *Store) Metrics() Metrics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	packets := 0
	for _, t := range s.timelines {
		packets += len(t.Packets)
	}
	return Metrics{
		TimelineCount: len(s.timelines),
		PacketCount:   packets,
		AnchorCount:   s.anchorCount,
		PrunedCount:   s.prunedCount,
	}
}

// prune 按概率降序保留前 retention 条分支，base 无条件保留。
// 调用方必须持有写锁。
func (s *Store) prune() {
	if len(s.timelines)-1 <= s.retention {
		return
	}

	branches := make([]*Timeline, 0, len(s.timelines)-1)
	for _, t := range s.timelines {
		if t.ID == BaseTimelineID {
			continue
		}
		branches = append(branches, t)
	}
	sort.Slice(branches, func(i, j int) bool {
		if branches[i].Probability != branches[j].Probability {
			return branches[i].Probability > branches[j].Probability
		}
		return branches[i].seq < branches[j].seq
	})

	dropped := 0
	for _, t := range branches[s.retention:] {
		delete(s.timelines, t.ID)
		dropped++
	}
	s.prunedCount += dropped
	metrics.TimelinesPruned.Add(int64(dropped))
	log.Debugf("[Timeline] 剪枝: 丢弃=%d 保留=%d", dropped, len(s.timelines))
}

// sortedBySeq 按创建顺序返回时间线，调用方必须持有锁
func (s *Store) sortedBySeq() []*Timeline {
	out := make([]*Timeline, 0, len(s.timelines))
	for _, t := range s.timelines {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// payloadError 计算观测与预测载荷之间的逐字段数值距离。
// 没有任何可比较的数值字段时误差定义为 0（无法证伪即视为吻合）。
func payloadError(measured, predicted map[string]any) float64 {
	total := 0.0
	compared := 0
	for key, mv := range measured {
		pv, ok := predicted[key]
		if !ok {
			continue
		}
		mf, mok := toFloat(mv)
		pf, pok := toFloat(pv)
		if !mok || !pok {
			continue
		}
		diff := mf - pf
		if diff < 0 {
			diff = -diff
		}
		total += diff
		compared++
	}
	if compared == 0 {
		return 0
	}
	return total
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}
