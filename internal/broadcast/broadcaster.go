package broadcast

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/predictbot/gopredict/internal/engine"
	"github.com/predictbot/gopredict/internal/metrics"
)

var log = logrus.WithField("component", "broadcaster")

// ErrInvalidProbability 概率超出 [0,1]
var ErrInvalidProbability = errors.New("probability out of range [0,1]")

// DefaultSampleHistorySize 广播延迟样本环形缓冲大小
const DefaultSampleHistorySize = 256

// Listener 订阅回调。同步调用；panic 会被逐个隔离，不影响其他订阅者。
type Listener func(topic string, data any)

// Config 广播器配置
type Config struct {
	Budget            time.Duration // 单次广播的延迟预算，默认与引擎帧预算一致（50ms）
	SampleHistorySize int           // 延迟样本保留条数，默认 256
}

// Metrics 广播延迟聚合指标
type Metrics struct {
	Samples         int
	AverageLatency  time.Duration
	UnderBudgetRate float64 // 低于预算的样本占比
}

// Broadcaster 按主题做同步扇出，并提供投机的"预广播"路径。
// 组合 Engine：预广播的载荷同时写入预计算缓存，晚到的消费者可以按主题再取。
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[string][]*subscription
	nextID uint64
	cfg    Config
	eng    *engine.Engine // 可为 nil，此时只做扇出不做缓存

	samples []time.Duration // 环形缓冲
	head    int
	count   int
}

type subscription struct {
	id uint64
	fn Listener
}

// New 创建广播器。eng 可为 nil；非 nil 时预广播载荷会写入其预计算缓存。
func New(cfg Config, eng *engine.Engine) *Broadcaster {
	if cfg.Budget <= 0 {
		if eng != nil {
			cfg.Budget = eng.FrameBudget()
		} else {
			cfg.Budget = engine.DefaultFrameBudget
		}
	}
	if cfg.SampleHistorySize <= 0 {
		cfg.SampleHistorySize = DefaultSampleHistorySize
	}
	return &Broadcaster{
		subs: make(map[string][]*subscription),
		cfg:  cfg,
		eng:  eng,
	}
}

// Subscribe 在 topic 下注册监听器，按订阅顺序被调用。
// 返回的函数用于退订，可安全地多次调用。
func (b *Broadcaster) Subscribe(topic string, listener Listener) func() {
	b.mu.Lock()
	b.nextID++
	sub := &subscription{id: b.nextID, fn: listener}
	b.subs[topic] = append(b.subs[topic], sub)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.unsubscribe(topic, sub.id)
		})
	}
}

func (b *Broadcaster) unsubscribe(topic string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[topic]
	for i, sub := range subs {
		if sub.id == id {
			b.subs[topic] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subs[topic]) == 0 {
		delete(b.subs, topic)
	}
}

// Broadcast 同步把 data 派发给 topic 下的全部监听器，返回送达数量。
// 整次扇出的墙钟耗时记为一个延迟样本。
// 单个监听器 panic 会被隔离并记录，不阻断其余订阅者。
func (b *Broadcaster) Broadcast(topic string, data any) int {
	b.mu.Lock()
	subs := b.subs[topic]
	snapshot := make([]*subscription, len(subs))
	copy(snapshot, subs)
	b.mu.Unlock()

	start := time.Now()
	for i, sub := range snapshot {
		func(idx int, fn Listener) {
			defer func() {
				if r := recover(); r != nil {
					log.Errorf("❌ [Broadcaster] listener[%d] panic: topic=%s error=%v", idx, topic, r)
				}
			}()
			fn(topic, data)
		}(i, sub.fn)
	}
	elapsed := time.Since(start)

	b.mu.Lock()
	if len(b.samples) < b.cfg.SampleHistorySize {
		b.samples = append(b.samples, elapsed)
	} else {
		b.samples[b.head] = elapsed
		b.head = (b.head + 1) % b.cfg.SampleHistorySize
	}
	if b.count < b.cfg.SampleHistorySize {
		b.count++
	}
	b.mu.Unlock()

	metrics.BroadcastsTotal.Add(1)
	return len(snapshot)
}

// PreBroadcast 投机广播：立刻同步求值 computeFn 并把结果广播出去。
// "预"指的是抢在确认事件之前，而不是延后执行；
// 只有当生产者确实早于真实事件调用时才赚到延迟。
// 计算错误原样传播并中止本次广播。
func (b *Broadcaster) PreBroadcast(topic string, computeFn engine.ComputeFunc, probability float64) error {
	if probability < 0 || probability > 1 {
		return errors.Wrapf(ErrInvalidProbability, "probability=%v", probability)
	}

	value, err := computeFn()
	if err != nil {
		return err
	}

	if b.eng != nil {
		// 同一载荷写入预计算缓存：未订阅的消费者之后仍可按主题取到
		if err := b.eng.PredictAndPrecompute(topicCacheKey(topic), func() (any, error) {
			return value, nil
		}, probability); err != nil {
			return err
		}
	}

	b.Broadcast(topic, value)
	return nil
}

// RetrieveLast 取回某主题最近一次预广播的载荷（走引擎缓存）
func (b *Broadcaster) RetrieveLast(topic string) (engine.Result, error) {
	if b.eng == nil {
		return engine.Result{}, errors.Wrapf(engine.ErrNoPrecomputedValue, "topic=%s", topic)
	}
	return b.eng.Retrieve(topicCacheKey(topic), nil)
}

// GetMetrics 广播延迟指标：平均耗时与低于预算的样本占比
func (b *Broadcaster) GetMetrics() Metrics {
	b.mu.Lock()
	defer b.mu.Unlock()

	m := Metrics{Samples: b.count}
	if b.count == 0 {
		return m
	}
	var sum time.Duration
	under := 0
	for i := 0; i < b.count; i++ {
		sum += b.samples[i]
		if b.samples[i] < b.cfg.Budget {
			under++
		}
	}
	m.AverageLatency = sum / time.Duration(b.count)
	m.UnderBudgetRate = float64(under) / float64(b.count)
	return m
}

func topicCacheKey(topic string) string {
	return "broadcast:" + topic
}
