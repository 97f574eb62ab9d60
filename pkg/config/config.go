package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// EngineConfig 预计算引擎配置
type EngineConfig struct {
	FrameBudgetMs      int `yaml:"frame_budget_ms"`       // 每帧实时预算（毫秒），默认 50
	LatencyHistorySize int `yaml:"latency_history_size"`  // 帧延迟历史保留条数，默认 100
	MaxPredictionAgeMs int `yaml:"max_prediction_age_ms"` // 预测条目最大存活时长（毫秒），默认 5000
}

// TimelineConfig 时间线存储配置
type TimelineConfig struct {
	RetentionLimit int `yaml:"retention_limit"` // 剪枝保留上限（不含 base），默认 20
}

// BroadcastConfig 广播器配置
type BroadcastConfig struct {
	BudgetMs          int `yaml:"budget_ms"`           // 单次广播延迟预算（毫秒），默认同帧预算
	SampleHistorySize int `yaml:"sample_history_size"` // 延迟样本保留条数，默认 256
}

// FeedConfig 行情数据源配置
type FeedConfig struct {
	RestURL        string `yaml:"rest_url"`         // 快照价格 REST 地址
	StreamURL      string `yaml:"stream_url"`       // 实时行情 WebSocket 地址
	Asset          string `yaml:"asset"`            // 订阅的标的，例如 btc-usd
	PollIntervalMs int    `yaml:"poll_interval_ms"` // REST 轮询间隔（毫秒），默认 1000
	RateLimit      int    `yaml:"rate_limit"`       // REST 每秒请求上限，默认 5
}

// LedgerConfig 账本存储配置
type LedgerConfig struct {
	DBPath string `yaml:"db_path"` // SQLite 文件路径，默认 data/ledger.db
}

// StateStoreConfig 运行状态存储配置
type StateStoreConfig struct {
	Dir string `yaml:"dir"` // Badger 目录，默认 data/state
}

// StatusAPIConfig 状态查询 API 配置
type StatusAPIConfig struct {
	ListenAddr string `yaml:"listen_addr"` // 默认 127.0.0.1:8087
}

// MetricsConfig metrics/debug 服务配置
type MetricsConfig struct {
	ListenAddr string `yaml:"listen_addr"` // 默认 127.0.0.1:6061
}

// Config 应用配置
type Config struct {
	Engine    EngineConfig     `yaml:"engine"`
	Timeline  TimelineConfig   `yaml:"timeline"`
	Broadcast BroadcastConfig  `yaml:"broadcast"`
	Feed      FeedConfig       `yaml:"feed"`
	Ledger    LedgerConfig     `yaml:"ledger"`
	State     StateStoreConfig `yaml:"state"`
	StatusAPI StatusAPIConfig  `yaml:"status_api"`
	Metrics   MetricsConfig    `yaml:"metrics"`

	LogLevel string `yaml:"log_level"` // 日志级别，默认 info
	LogFile  string `yaml:"log_file"`  // 日志文件路径（可选）
}

// Default 返回带默认值的配置
func Default() Config {
	return Config{
		Engine: EngineConfig{
			FrameBudgetMs:      50,
			LatencyHistorySize: 100,
			MaxPredictionAgeMs: 5000,
		},
		Timeline: TimelineConfig{
			RetentionLimit: 20,
		},
		Broadcast: BroadcastConfig{
			SampleHistorySize: 256,
		},
		Feed: FeedConfig{
			Asset:          "btc-usd",
			PollIntervalMs: 1000,
			RateLimit:      5,
		},
		Ledger: LedgerConfig{
			DBPath: "data/ledger.db",
		},
		State: StateStoreConfig{
			Dir: "data/state",
		},
		StatusAPI: StatusAPIConfig{
			ListenAddr: "127.0.0.1:8087",
		},
		Metrics: MetricsConfig{
			ListenAddr: "127.0.0.1:6061",
		},
		LogLevel: "info",
	}
}

// Load 读取 YAML 配置文件并套用环境变量覆盖。
// path 为空或文件不存在时使用默认配置（环境变量覆盖仍然生效）。
func Load(path string) (Config, error) {
	// .env 不存在不算错误
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, errors.Wrapf(err, "read config %s", path)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, errors.Wrapf(err, "parse config %s", path)
		}
	}

	applyEnvOverrides(&cfg)

	if cfg.Engine.FrameBudgetMs <= 0 {
		return cfg, errors.Errorf("engine.frame_budget_ms must be positive, got %d", cfg.Engine.FrameBudgetMs)
	}
	return cfg, nil
}

// FrameBudget 帧预算的 Duration 形式
func (c Config) FrameBudget() time.Duration {
	return time.Duration(c.Engine.FrameBudgetMs) * time.Millisecond
}

// MaxPredictionAge 预测条目最大存活时长的 Duration 形式
func (c Config) MaxPredictionAge() time.Duration {
	return time.Duration(c.Engine.MaxPredictionAgeMs) * time.Millisecond
}

// PollInterval 行情轮询间隔的 Duration 形式
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Feed.PollIntervalMs) * time.Millisecond
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GOPREDICT_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("GOPREDICT_LOG_FILE"); v != "" {
		cfg.LogFile = v
	}
	if v := os.Getenv("GOPREDICT_FRAME_BUDGET_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Engine.FrameBudgetMs = n
		}
	}
	if v := os.Getenv("GOPREDICT_RETENTION_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Timeline.RetentionLimit = n
		}
	}
	if v := os.Getenv("GOPREDICT_FEED_REST_URL"); v != "" {
		cfg.Feed.RestURL = v
	}
	if v := os.Getenv("GOPREDICT_FEED_STREAM_URL"); v != "" {
		cfg.Feed.StreamURL = v
	}
	if v := os.Getenv("GOPREDICT_LEDGER_DB"); v != "" {
		cfg.Ledger.DBPath = v
	}
	if v := os.Getenv("GOPREDICT_STATE_DIR"); v != "" {
		cfg.State.Dir = v
	}
}
