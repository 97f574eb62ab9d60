package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"

	"github.com/predictbot/gopredict/internal/dashboard"
	"github.com/predictbot/gopredict/pkg/logger"
)

// engineStatus 状态 API /api/engine 的返回结构
type engineStatus struct {
	EntryCount          int    `json:"entry_count"`
	ServedNegativeLagMs int64  `json:"served_negative_lag_ms"`
	Retrievals          int64  `json:"retrievals"`
	FrameBudgetMs       int64  `json:"frame_budget_ms"`
	AverageFrameLatency string `json:"average_frame_latency"`
	MeetsLatencySLA     bool   `json:"meets_latency_sla"`
}

// timelineStatus 状态 API /api/timelines 的返回结构
type timelineStatus struct {
	TimelineCount int `json:"timeline_count"`
	PacketCount   int `json:"packet_count"`
	AnchorCount   int `json:"anchor_count"`
	PrunedCount   int `json:"pruned_count"`
}

// broadcastStatus 状态 API /api/broadcast 的返回结构
type broadcastStatus struct {
	Samples         int     `json:"samples"`
	AverageLatency  string  `json:"average_latency"`
	UnderBudgetRate float64 `json:"under_budget_rate"`
}

func main() {
	apiAddr := flag.String("api", "http://127.0.0.1:8087", "状态 API 地址")
	asset := flag.String("asset", "btc-usd", "显示的标的名称")
	interval := flag.Duration("interval", time.Second, "刷新间隔")
	flag.Parse()

	// TUI 模式下日志只写文件，避免污染终端
	if err := logger.Init(logger.Config{
		Level:      "info",
		OutputFile: "logs/predict-monitor.log",
		MaxSize:    50,
		MaxBackups: 2,
		MaxAge:     7,
	}); err != nil {
		panic(fmt.Sprintf("初始化日志失败: %v", err))
	}
	log := logrus.WithField("component", "monitor")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigC := make(chan os.Signal, 1)
	signal.Notify(sigC, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigC
		cancel()
	}()

	client := resty.New().
		SetBaseURL(*apiAddr).
		SetTimeout(3 * time.Second)

	updateC := make(chan *dashboard.Snapshot, 4)
	go pollStatus(ctx, client, *asset, *interval, updateC, log)

	if err := dashboard.New(updateC).Run(ctx); err != nil {
		os.Exit(1)
	}
}

// pollStatus 轮询状态 API 并推送仪表盘快照
func pollStatus(ctx context.Context, client *resty.Client, asset string, interval time.Duration, outC chan<- *dashboard.Snapshot, log *logrus.Entry) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			close(outC)
			return
		case <-ticker.C:
			snap, err := fetchSnapshot(ctx, client, asset)
			if err != nil {
				log.Warnf("⚠️ 拉取状态失败: %v", err)
				continue
			}
			select {
			case outC <- snap:
			default:
			}
		}
	}
}

func fetchSnapshot(ctx context.Context, client *resty.Client, asset string) (*dashboard.Snapshot, error) {
	var eng engineStatus
	if _, err := client.R().SetContext(ctx).SetResult(&eng).Get("/api/engine"); err != nil {
		return nil, err
	}
	var tl timelineStatus
	if _, err := client.R().SetContext(ctx).SetResult(&tl).Get("/api/timelines"); err != nil {
		return nil, err
	}
	var bc broadcastStatus
	if _, err := client.R().SetContext(ctx).SetResult(&bc).Get("/api/broadcast"); err != nil {
		return nil, err
	}

	avgFrame, _ := time.ParseDuration(eng.AverageFrameLatency)
	avgBroadcast, _ := time.ParseDuration(bc.AverageLatency)

	return &dashboard.Snapshot{
		Asset:             asset,
		EntryCount:        eng.EntryCount,
		ServedNegativeLag: time.Duration(eng.ServedNegativeLagMs) * time.Millisecond,
		Retrievals:        eng.Retrievals,
		FrameBudget:       time.Duration(eng.FrameBudgetMs) * time.Millisecond,
		AvgFrameLatency:   avgFrame,
		MeetsSLA:          eng.MeetsLatencySLA,
		TimelineCount:     tl.TimelineCount,
		PacketCount:       tl.PacketCount,
		AnchorCount:       tl.AnchorCount,
		PrunedCount:       tl.PrunedCount,
		BroadcastSamples:  bc.Samples,
		BroadcastAvg:      avgBroadcast,
		UnderBudgetRate:   bc.UnderBudgetRate,
		UpdatedAt:         time.Now(),
	}, nil
}
