package engine

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "engine")

var (
	// ErrInvalidBudget 帧预算必须为正
	ErrInvalidBudget = errors.New("frame budget must be positive")
	// ErrInvalidProbability 概率超出 [0,1]
	ErrInvalidProbability = errors.New("probability out of range [0,1]")
	// ErrFrameActive 已有帧在进行中，帧状态机不允许叠加
	ErrFrameActive = errors.New("frame already active")
	// ErrNoActiveFrame 当前没有进行中的帧
	ErrNoActiveFrame = errors.New("no active frame")
	// ErrNoPrecomputedValue 缓存未命中且未提供 fallback，强制调用方显式处理
	ErrNoPrecomputedValue = errors.New("no precomputed value")
	// ErrNoCandidates 多分支预计算至少需要一个候选
	ErrNoCandidates = errors.New("no candidates provided")
)

// DefaultFrameBudget 每帧的实时预算
const DefaultFrameBudget = 50 * time.Millisecond

// DefaultLatencyHistorySize 帧延迟历史环形缓冲大小
const DefaultLatencyHistorySize = 100

// ComputeFunc 调用方提供的同步计算函数。
// 返回的 error 原样向上传播（预计算路径没有兜底，一旦开始求值就无法隔离）。
type ComputeFunc func() (any, error)

// Config 引擎配置
type Config struct {
	FrameBudget        time.Duration // 默认 50ms
	LatencyHistorySize int           // 默认 100
}

// Validate 检查配置合法性
func (c Config) Validate() error {
	if c.FrameBudget < 0 {
		return errors.Wrapf(ErrInvalidBudget, "budget=%v", c.FrameBudget)
	}
	return nil
}

func (c Config) withDefaults() Config {
	if c.FrameBudget == 0 {
		c.FrameBudget = DefaultFrameBudget
	}
	if c.LatencyHistorySize <= 0 {
		c.LatencyHistorySize = DefaultLatencyHistorySize
	}
	return c
}

// Engine 预计算缓存 + 帧调度器。
// 对下游制造零/负延迟的观感：结果在被请求之前就已经算好，
// 同时用固定帧预算约束每个周期的真实工作量。
// 每个流水线应显式构造并持有自己的实例。
type Engine struct {
	mu  sync.Mutex
	cfg Config

	entries map[string]*precomputeEntry

	activeFrame *frameState
	latencies   []time.Duration // 环形缓冲
	latHead     int
	latCount    int

	servedLag  time.Duration // Retrieve 命中累计节省的延迟
	retrievals int
}

type precomputeEntry struct {
	value       any
	createdAt   time.Time
	probability float64
}

type frameState struct {
	budget    time.Duration
	startedAt time.Time
	packets   []string
}

// New 创建引擎，配置非法时返回错误
func New(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		cfg:     cfg.withDefaults(),
		entries: make(map[string]*precomputeEntry),
	}, nil
}

// FrameBudget 返回配置的帧预算
func (e *Engine) FrameBudget() time.Duration {
	return e.cfg.FrameBudget
}
