package engine

import (
	"time"

	"github.com/pkg/errors"

	"github.com/predictbot/gopredict/internal/metrics"
)

// Candidate 多分支预计算的一个候选：计算函数 + 该分支的置信度权重
type Candidate struct {
	Probability float64
	Compute     ComputeFunc
}

// Result Retrieve 的返回值。
// NegativeLag 是取用时刻与预计算时刻的差，即提前算好省下的时间；
// 只有走 fallback（未命中）路径时才为 0。
type Result struct {
	Data           any
	WasPrecomputed bool
	NegativeLag    time.Duration
}

// Stats 负延迟聚合统计
type Stats struct {
	EntryCount        int
	AverageEntryAge   time.Duration // 在线条目的平均存活时长
	ServedNegativeLag time.Duration // Retrieve 命中累计节省的延迟
	Retrievals        int
}

// PredictAndPrecompute 立刻同步求值并以 key 存储结果，覆盖旧条目。
// 计算函数返回的 error 原样传播，此时不写入任何条目。
func (e *Engine) PredictAndPrecompute(key string, fn ComputeFunc, probability float64) error {
	if probability < 0 || probability > 1 {
		return errors.Wrapf(ErrInvalidProbability, "probability=%v", probability)
	}

	// 在锁外求值：调用方函数可能任意耗时，不应阻塞其他缓存操作
	value, err := fn()
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.entries[key] = &precomputeEntry{
		value:       value,
		createdAt:   time.Now(),
		probability: probability,
	}
	e.mu.Unlock()
	return nil
}

// PredictMultipleTimelines 并行假设的多分支预计算：
// 逐个急切求值全部候选，只保留概率最高者的值（并列取先出现的），其余丢弃。
// 任何一个候选计算失败都会中止整个调用，不写入条目。
func (e *Engine) PredictMultipleTimelines(key string, candidates []Candidate) error {
	if len(candidates) == 0 {
		return errors.Wrapf(ErrNoCandidates, "key=%s", key)
	}
	for i, c := range candidates {
		if c.Probability < 0 || c.Probability > 1 {
			return errors.Wrapf(ErrInvalidProbability, "candidate=%d probability=%v", i, c.Probability)
		}
	}

	var (
		bestValue any
		bestProb  = -1.0
	)
	for _, c := range candidates {
		value, err := c.Compute()
		if err != nil {
			return err
		}
		if c.Probability > bestProb {
			bestProb = c.Probability
			bestValue = value
		}
	}

	e.mu.Lock()
	e.entries[key] = &precomputeEntry{
		value:       bestValue,
		createdAt:   time.Now(),
		probability: bestProb,
	}
	e.mu.Unlock()
	return nil
}

// Retrieve 取出 key 对应的预计算值。
// 命中：WasPrecomputed=true，NegativeLag = now - createdAt；
// 未命中且有 fallback：现场计算，WasPrecomputed=false，NegativeLag=0；
// 未命中且无 fallback：返回 ErrNoPrecomputedValue（硬错误，不返回空值）。
func (e *Engine) Retrieve(key string, fallback ComputeFunc) (Result, error) {
	e.mu.Lock()
	entry, ok := e.entries[key]
	if ok {
		lag := time.Since(entry.createdAt)
		e.servedLag += lag
		e.retrievals++
		e.mu.Unlock()
		metrics.PrecomputeHits.Add(1)
		return Result{Data: entry.value, WasPrecomputed: true, NegativeLag: lag}, nil
	}
	e.mu.Unlock()

	metrics.PrecomputeMisses.Add(1)
	if fallback == nil {
		return Result{}, errors.Wrapf(ErrNoPrecomputedValue, "key=%s", key)
	}
	value, err := fallback()
	if err != nil {
		return Result{}, err
	}

	e.mu.Lock()
	e.retrievals++
	e.mu.Unlock()
	return Result{Data: value, WasPrecomputed: false, NegativeLag: 0}, nil
}

// PruneOldPredictions 按年龄淘汰条目。maxAge=0 表示清空全部在线条目。
func (e *Engine) PruneOldPredictions(maxAge time.Duration) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now()
	evicted := 0
	for key, entry := range e.entries {
		if maxAge <= 0 || now.Sub(entry.createdAt) > maxAge {
			delete(e.entries, key)
			evicted++
		}
	}
	if evicted > 0 {
		metrics.PredictionsEvicted.Add(int64(evicted))
		log.Debugf("[Engine] 预测条目淘汰: evicted=%d maxAge=%v", evicted, maxAge)
	}
	return evicted
}

// NegativeLatencyStats 当前条目数与负延迟聚合统计
func (e *Engine) NegativeLatencyStats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	stats := Stats{
		EntryCount:        len(e.entries),
		ServedNegativeLag: e.servedLag,
		Retrievals:        e.retrievals,
	}
	if len(e.entries) > 0 {
		now := time.Now()
		var total time.Duration
		for _, entry := range e.entries {
			total += now.Sub(entry.createdAt)
		}
		stats.AverageEntryAge = total / time.Duration(len(e.entries))
	}
	return stats
}
