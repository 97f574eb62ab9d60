package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/predictbot/gopredict/internal/broadcast"
	"github.com/predictbot/gopredict/internal/engine"
	"github.com/predictbot/gopredict/internal/events"
	"github.com/predictbot/gopredict/internal/feed"
	"github.com/predictbot/gopredict/internal/ledger"
	"github.com/predictbot/gopredict/internal/metrics"
	"github.com/predictbot/gopredict/internal/statusapi"
	"github.com/predictbot/gopredict/internal/timeline"
	"github.com/predictbot/gopredict/pkg/config"
	"github.com/predictbot/gopredict/pkg/logger"
	"github.com/predictbot/gopredict/pkg/shutdown"
	"github.com/predictbot/gopredict/pkg/sigchan"
	"github.com/predictbot/gopredict/pkg/statestore"
	"github.com/predictbot/gopredict/pkg/syncgroup"
)

// scenario 投机分支的场景定义：相对当前价的漂移与概率权重
type scenario struct {
	name        string
	drift       float64
	probability float64
}

// 每次观测后展开的三条假设未来（权重不归一化）
var scenarios = []scenario{
	{"up", 0.002, 0.35},
	{"flat", 0.0, 0.40},
	{"down", -0.002, 0.25},
}

// runSummary 写入状态存储的运行摘要，重启后可查
type runSummary struct {
	StartedAt  time.Time `json:"started_at"`
	StoppedAt  time.Time `json:"stopped_at"`
	Anchors    int       `json:"anchors"`
	Pruned     int       `json:"pruned"`
	Retrievals int       `json:"retrievals"`
}

func main() {
	configPath := flag.String("config", "yml/config.yaml", "配置文件路径")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(fmt.Sprintf("加载配置失败: %v", err))
	}

	if err := logger.Init(logger.Config{
		Level:      cfg.LogLevel,
		OutputFile: cfg.LogFile,
		MaxSize:    100,
		MaxBackups: 3,
		MaxAge:     7,
		Compress:   true,
	}); err != nil {
		panic(fmt.Sprintf("初始化日志失败: %v", err))
	}

	log := logrus.WithField("component", "bot")
	log.Infof("gopredict 启动，标的=%s 帧预算=%v", cfg.Feed.Asset, cfg.FrameBudget())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mgr := shutdown.NewManager()

	// debug/metrics 服务
	if _, err := metrics.StartAsync(ctx, cfg.Metrics.ListenAddr); err != nil {
		log.Warnf("⚠️ metrics 服务启动失败: %v", err)
	}

	// 核心组件
	store := timeline.NewStore(timeline.Config{RetentionLimit: cfg.Timeline.RetentionLimit})
	eng, err := engine.New(engine.Config{
		FrameBudget:        cfg.FrameBudget(),
		LatencyHistorySize: cfg.Engine.LatencyHistorySize,
	})
	if err != nil {
		log.Errorf("❌ 创建引擎失败: %v", err)
		os.Exit(1)
	}
	bcast := broadcast.New(broadcast.Config{
		SampleHistorySize: cfg.Broadcast.SampleHistorySize,
	}, eng)

	// 账本
	led, err := ledger.Open(cfg.Ledger.DBPath)
	if err != nil {
		log.Errorf("❌ 打开账本失败: %v", err)
		os.Exit(1)
	}
	mgr.OnShutdown(func(ctx context.Context) { _ = led.Close() })

	// 运行状态存储
	state, err := statestore.Open(statestore.OpenOptions{Path: cfg.State.Dir})
	if err != nil {
		log.Errorf("❌ 打开状态存储失败: %v", err)
		os.Exit(1)
	}
	startedAt := time.Now()
	mgr.OnShutdown(func(ctx context.Context) {
		m := store.Metrics()
		stats := eng.NegativeLatencyStats()
		_ = state.SetJSON("run:last", runSummary{
			StartedAt:  startedAt,
			StoppedAt:  time.Now(),
			Anchors:    m.AnchorCount,
			Pruned:     m.PrunedCount,
			Retrievals: stats.Retrievals,
		})
		_ = state.Close()
	})

	// 状态 API
	api := statusapi.New(statusapi.Config{ListenAddr: cfg.StatusAPI.ListenAddr}, eng, store, bcast, led)
	api.StartAsync(ctx)

	// 事件消费端：锚定与帧完成事件落账本
	topicAnchor := "anchor:" + cfg.Feed.Asset
	topicFrame := "frame:" + cfg.Feed.Asset
	topicPrice := "price:" + cfg.Feed.Asset
	bcast.Subscribe(topicAnchor, func(topic string, data any) {
		ev, ok := data.(events.AnchorResolvedEvent)
		if !ok {
			return
		}
		if err := led.RecordAnchor(ctx, ev.Anchor, ev.Pruned); err != nil {
			log.Warnf("⚠️ 锚定记录落库失败: %v", err)
		}
	})
	bcast.Subscribe(topicFrame, func(topic string, data any) {
		ev, ok := data.(events.FrameCompletedEvent)
		if !ok {
			return
		}
		if err := led.RecordFrame(ctx, ev.Elapsed, ev.Budget, ev.Packets); err != nil {
			log.Warnf("⚠️ 帧样本落库失败: %v", err)
		}
	})
	bcast.Subscribe(topicPrice, func(topic string, data any) {
		log.Debugf("预测已送达 topic=%s", topic)
	})

	// 行情来源
	measC := make(chan timeline.Measurement, 64)
	client := feed.NewClient(cfg.Feed.RestURL, cfg.Feed.Asset, cfg.Feed.RateLimit)

	sg := syncgroup.NewSyncGroup()

	if cfg.Feed.StreamURL != "" {
		stream := feed.NewStream(cfg.Feed.StreamURL, cfg.Feed.Asset)
		sg.Add(func() { stream.Run(ctx, measC) })
	}

	if cfg.Feed.RestURL != "" {
		sg.Add(func() { pollLoop(ctx, client, cfg.PollInterval(), measC, log) })
	}

	// 过期预测清理
	sg.Add(func() {
		ticker := time.NewTicker(cfg.MaxPredictionAge())
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := eng.PruneOldPredictions(cfg.MaxPredictionAge()); n > 0 {
					log.Debugf("清理过期预测 %d 条", n)
				}
			}
		}
	})

	// 检查点：信号合并，高频观测只触发一次落盘
	dirty := sigchan.New(1)
	sg.Add(func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-dirty.C():
				m := store.Metrics()
				stats := eng.NegativeLatencyStats()
				_ = state.SetJSON("run:checkpoint", runSummary{
					StartedAt:  startedAt,
					StoppedAt:  time.Now(),
					Anchors:    m.AnchorCount,
					Pruned:     m.PrunedCount,
					Retrievals: stats.Retrievals,
				})
			}
		}
	})

	// 主流水线
	sg.Add(func() {
		for {
			select {
			case <-ctx.Done():
				return
			case m := <-measC:
				processMeasurement(m, store, eng, bcast, cfg.Feed.Asset, cfg.PollInterval(), log)
				dirty.Emit()
			}
		}
	})

	sg.Run()

	// 信号处理
	sigC := make(chan os.Signal, 1)
	signal.Notify(sigC, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigC
	log.Infof("收到信号 %v，开始退出", sig)

	cancel()
	sg.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	mgr.Shutdown(shutdownCtx)
	log.Info("✅ 已退出")
}

// pollLoop 定时拉取快照并写入观测 channel
func pollLoop(ctx context.Context, client *feed.Client, interval time.Duration, outC chan<- timeline.Measurement, log *logrus.Entry) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m, err := client.Snapshot(ctx)
			if err != nil {
				log.Warnf("⚠️ 拉取快照失败: %v", err)
				continue
			}
			select {
			case outC <- m:
			default:
				// 消费端落后时丢弃
			}
		}
	}
}

// processMeasurement 处理一条观测：锚定、展开投机分支、预广播下一拍结果。
// 全部工作在一个帧预算内完成，落库走事件订阅端。
func processMeasurement(
	m timeline.Measurement,
	store *timeline.Store,
	eng *engine.Engine,
	bcast *broadcast.Broadcaster,
	asset string,
	horizon time.Duration,
	log *logrus.Entry,
) {
	topicPrice := "price:" + asset

	if _, err := eng.StartFrame(); err != nil {
		log.Warnf("⚠️ 开帧失败: %v", err)
		return
	}

	// 1. 先用真实观测校准上一轮的预测
	prunedBefore := store.Metrics().PrunedCount
	if anchor := store.Anchor(m); anchor != nil {
		log.Debugf("锚定 timeline=%s err=%.6f", anchor.TimelineID, anchor.ErrorMagnitude)
		bcast.Broadcast("anchor:"+asset, events.AnchorResolvedEvent{
			Anchor:    *anchor,
			Pruned:    store.Metrics().PrunedCount - prunedBefore,
			Timestamp: time.Now(),
		})
	}

	price, ok := m.Payload["price"].(float64)
	if !ok {
		if _, err := eng.CompleteFrame(); err != nil {
			log.Warnf("⚠️ 完帧失败: %v", err)
		}
		return
	}

	// 2. 从最可能的时间线展开下一拍的假设分支
	parent := timeline.BaseTimelineID
	if tl := store.MostProbable(); tl != nil {
		parent = tl.ID
	}

	candidates := make([]engine.Candidate, 0, len(scenarios))
	for _, sc := range scenarios {
		predicted := price * (1 + sc.drift)

		id, err := store.Branch(parent, sc.probability)
		if err != nil {
			log.Warnf("⚠️ 分支失败 scenario=%s: %v", sc.name, err)
			continue
		}
		pkt := &timeline.PredictionPacket{
			ID:           uuid.NewString(),
			PredictedFor: m.Timestamp.Add(horizon),
			Confidence:   sc.probability,
			Payload:      map[string]any{"price": predicted},
		}
		if err := store.AddPrediction(id, pkt); err != nil {
			log.Warnf("⚠️ 写入预测失败: %v", err)
			continue
		}
		eng.TrackPacket(pkt.ID)

		p := predicted
		candidates = append(candidates, engine.Candidate{
			Probability: sc.probability,
			Compute: func() (any, error) {
				return map[string]any{"price": p, "predicted_for": pkt.PredictedFor}, nil
			},
		})
	}

	// 3. 投机预广播：订阅方在下一拍观测到达前就拿到最可能的结果
	if len(candidates) > 0 {
		if err := eng.PredictMultipleTimelines("broadcast:"+topicPrice, candidates); err != nil {
			log.Warnf("⚠️ 预计算失败: %v", err)
		} else if result, err := bcast.RetrieveLast(topicPrice); err == nil {
			bcast.Broadcast(topicPrice, result.Data)
		}
	}

	elapsed, err := eng.CompleteFrame()
	if err != nil {
		log.Warnf("⚠️ 完帧失败: %v", err)
		return
	}
	bcast.Broadcast("frame:"+asset, events.FrameCompletedEvent{
		Elapsed:    elapsed,
		Budget:     eng.FrameBudget(),
		OverBudget: elapsed > eng.FrameBudget(),
		Packets:    len(scenarios),
		Timestamp:  time.Now(),
	})
}
