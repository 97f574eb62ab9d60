package timeline

import (
	"math"
	"sort"
	"testing"
	"testing/quick"
	"time"

	"github.com/pkg/errors"
)

func TestBaseTimelineExistsOnInit(t *testing.T) {
	s := NewStore(Config{})

	timelines := s.Timelines()
	if len(timelines) != 1 {
		t.Fatalf("timeline count got=%d want=1", len(timelines))
	}
	if timelines[0].ID != BaseTimelineID {
		t.Fatalf("timeline id got=%s want=%s", timelines[0].ID, BaseTimelineID)
	}
}

func TestBranchProbabilityOrdering(t *testing.T) {
	s := NewStore(Config{})

	id1, err := s.Branch(BaseTimelineID, 0.9)
	if err != nil {
		t.Fatalf("branch: %v", err)
	}
	id2, err := s.Branch(BaseTimelineID, 0.2)
	if err != nil {
		t.Fatalf("branch: %v", err)
	}

	var t1, t2 *Timeline
	for _, tl := range s.Timelines() {
		switch tl.ID {
		case id1:
			t1 = tl
		case id2:
			t2 = tl
		}
	}
	if t1 == nil || t2 == nil {
		t.Fatal("branched timelines missing")
	}
	if !(t1.Probability > t2.Probability) {
		t.Fatalf("probability ordering: %v <= %v", t1.Probability, t2.Probability)
	}
}

func TestBranchValidation(t *testing.T) {
	s := NewStore(Config{})

	if _, err := s.Branch("no-such-timeline", 0.5); !errors.Is(err, ErrTimelineNotFound) {
		t.Fatalf("unknown parent: got=%v want=ErrTimelineNotFound", err)
	}
	if _, err := s.Branch(BaseTimelineID, 1.5); !errors.Is(err, ErrInvalidProbability) {
		t.Fatalf("probability>1: got=%v want=ErrInvalidProbability", err)
	}
	if _, err := s.Branch(BaseTimelineID, -0.1); !errors.Is(err, ErrInvalidProbability) {
		t.Fatalf("probability<0: got=%v want=ErrInvalidProbability", err)
	}
}

func TestAddPredictionUnknownTimeline(t *testing.T) {
	s := NewStore(Config{})

	err := s.AddPrediction("gone", &PredictionPacket{Payload: map[string]any{"value": 1.0}})
	if !errors.Is(err, ErrTimelineNotFound) {
		t.Fatalf("got=%v want=ErrTimelineNotFound", err)
	}
}

func TestAnchorMatchesClosestPacket(t *testing.T) {
	s := NewStore(Config{})

	if err := s.AddPrediction(BaseTimelineID, &PredictionPacket{
		ID:      "far",
		Payload: map[string]any{"value": 100.0},
	}); err != nil {
		t.Fatalf("add prediction: %v", err)
	}
	if err := s.AddPrediction(BaseTimelineID, &PredictionPacket{
		ID:      "near",
		Payload: map[string]any{"value": 42.0},
	}); err != nil {
		t.Fatalf("add prediction: %v", err)
	}

	anchor := s.Anchor(Measurement{Payload: map[string]any{"value": 42.0}})
	if anchor.BestMatch == nil {
		t.Fatal("expected a best match")
	}
	if anchor.BestMatch.ID != "near" {
		t.Fatalf("best match got=%s want=near", anchor.BestMatch.ID)
	}
	if anchor.ErrorMagnitude >= 0.1 {
		t.Fatalf("error magnitude got=%v want<0.1", anchor.ErrorMagnitude)
	}
}

// 没有可比较数值字段时误差定义为 0：无法证伪即视为吻合
func TestAnchorNoComparableFields(t *testing.T) {
	s := NewStore(Config{})

	if err := s.AddPrediction(BaseTimelineID, &PredictionPacket{
		Payload: map[string]any{"label": "up"},
	}); err != nil {
		t.Fatalf("add prediction: %v", err)
	}

	anchor := s.Anchor(Measurement{Payload: map[string]any{"label": "down"}})
	if anchor.BestMatch == nil {
		t.Fatal("expected a match under cannot-falsify policy")
	}
	if anchor.ErrorMagnitude != 0 {
		t.Fatalf("error magnitude got=%v want=0", anchor.ErrorMagnitude)
	}
}

// 没有任何在线预测时锚定返回 nil，但锚定计数照常增加
func TestAnchorWithoutPredictions(t *testing.T) {
	s := NewStore(Config{})

	anchor := s.Anchor(Measurement{Payload: map[string]any{"value": 1.0}})
	if anchor != nil {
		t.Fatalf("anchor got=%+v want=nil", anchor)
	}
	if m := s.Metrics(); m.AnchorCount != 1 {
		t.Fatalf("anchor count got=%d want=1", m.AnchorCount)
	}
}

func TestAnchorTriggersPrune(t *testing.T) {
	s := NewStore(Config{RetentionLimit: 10})

	for i := 0; i < 30; i++ {
		if _, err := s.Branch(BaseTimelineID, 0.01); err != nil {
			t.Fatalf("branch %d: %v", i, err)
		}
	}
	s.Anchor(Measurement{Payload: map[string]any{"value": 1.0}})

	m := s.Metrics()
	if m.TimelineCount > 11 { // 10 条分支 + base
		t.Fatalf("timeline count got=%d want<=11", m.TimelineCount)
	}
	found := false
	for _, tl := range s.Timelines() {
		if tl.ID == BaseTimelineID {
			found = true
		}
	}
	if !found {
		t.Fatal("base timeline was pruned")
	}
}

// **Property: 剪枝不变量**
// 任意数量、任意概率的分支经过一次锚定后：
// 1. 分支数不超过保留上限
// 2. base 永远存在（无论其他分支概率多高）
// 3. 被保留的分支概率不低于被丢弃的
func TestPropertyPruneInvariants(t *testing.T) {
	property := func(probs []float64) bool {
		if len(probs) > 64 {
			probs = probs[:64]
		}
		const retention = 5
		s := NewStore(Config{RetentionLimit: retention})

		clamped := make([]float64, 0, len(probs))
		for _, p := range probs {
			// 输入域约束：概率裁剪到 [0,1]
			if p < 0 {
				p = -p
			}
			if p > 1 {
				p = math.Mod(p, 1)
			}
			clamped = append(clamped, p)
			if _, err := s.Branch(BaseTimelineID, p); err != nil {
				return false
			}
		}
		s.Anchor(Measurement{Payload: map[string]any{"value": 0.0}})

		timelines := s.Timelines()
		baseFound := false
		branchCount := 0
		minKept := 2.0
		for _, tl := range timelines {
			if tl.ID == BaseTimelineID {
				baseFound = true
				continue
			}
			branchCount++
			if tl.Probability < minKept {
				minKept = tl.Probability
			}
		}
		if !baseFound || branchCount > retention {
			return false
		}
		// 保留的最低概率不应低于第 retention 高的输入概率
		if branchCount == retention {
			sorted := append([]float64(nil), clamped...)
			sort.Sort(sort.Reverse(sort.Float64Slice(sorted)))
			if minKept < sorted[retention-1] {
				return false
			}
		}
		return true
	}
	if err := quick.Check(property, &quick.Config{MaxCount: 50}); err != nil {
		t.Fatalf("property failed: %v", err)
	}
}

func TestMostProbableTieBreak(t *testing.T) {
	s := NewStore(Config{})

	if _, err := s.Branch(BaseTimelineID, 1.0); err != nil {
		t.Fatalf("branch: %v", err)
	}
	if _, err := s.Branch(BaseTimelineID, 1.0); err != nil {
		t.Fatalf("branch: %v", err)
	}

	// 三条时间线概率并列 1.0，取创建最早的 base
	got := s.MostProbable()
	if got == nil || got.ID != BaseTimelineID {
		t.Fatalf("most probable got=%+v want=%s", got, BaseTimelineID)
	}
}

func TestMetricsCounts(t *testing.T) {
	s := NewStore(Config{})

	id, err := s.Branch(BaseTimelineID, 0.5)
	if err != nil {
		t.Fatalf("branch: %v", err)
	}
	if err := s.AddPrediction(id, &PredictionPacket{
		PredictedFor: time.Now().Add(time.Second),
		Confidence:   0.8,
		Payload:      map[string]any{"value": 7.0},
	}); err != nil {
		t.Fatalf("add prediction: %v", err)
	}
	s.Anchor(Measurement{Payload: map[string]any{"value": 7.0}})

	m := s.Metrics()
	if m.TimelineCount != 2 {
		t.Fatalf("timeline count got=%d want=2", m.TimelineCount)
	}
	if m.PacketCount != 1 {
		t.Fatalf("packet count got=%d want=1", m.PacketCount)
	}
	if m.AnchorCount != 1 {
		t.Fatalf("anchor count got=%d want=1", m.AnchorCount)
	}
}
