package statusapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/predictbot/gopredict/internal/broadcast"
	"github.com/predictbot/gopredict/internal/engine"
	"github.com/predictbot/gopredict/internal/ledger"
	"github.com/predictbot/gopredict/internal/timeline"
)

var log = logrus.WithField("component", "statusapi")

// Server 状态查询 API：把引擎、时间线、广播器的运行指标和账本记录暴露为 HTTP 接口
type Server struct {
	eng    *engine.Engine
	store  *timeline.Store
	bcast  *broadcast.Broadcaster
	ledger *ledger.Store

	httpSrv *http.Server
}

type Config struct {
	ListenAddr string
}

func New(cfg Config, eng *engine.Engine, store *timeline.Store, bcast *broadcast.Broadcaster, led *ledger.Store) *Server {
	s := &Server{
		eng:    eng,
		store:  store,
		bcast:  bcast,
		ledger: led,
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })

	api := r.Group("/api")
	api.GET("/engine", s.handleEngine)
	api.GET("/timelines", s.handleTimelines)
	api.GET("/broadcast", s.handleBroadcast)
	api.GET("/anchors", s.handleAnchors)
	api.GET("/frames", s.handleFrames)

	s.httpSrv = &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: r,
	}
	return s
}

// StartAsync 后台启动 HTTP 服务，ctx 取消时优雅关闭
func (s *Server) StartAsync(ctx context.Context) {
	go func() {
		log.Infof("状态 API 监听 %s", s.httpSrv.Addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("❌ 状态 API 启动失败: %v", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = s.httpSrv.Shutdown(shutdownCtx)
	}()
}

func (s *Server) handleEngine(c *gin.Context) {
	stats := s.eng.NegativeLatencyStats()
	c.JSON(http.StatusOK, gin.H{
		"entry_count":            stats.EntryCount,
		"average_entry_age_ms":   stats.AverageEntryAge.Milliseconds(),
		"served_negative_lag_ms": stats.ServedNegativeLag.Milliseconds(),
		"retrievals":             stats.Retrievals,
		"frame_budget_ms":        s.eng.FrameBudget().Milliseconds(),
		"average_frame_latency":  s.eng.AverageLatency().String(),
		"meets_latency_sla":      s.eng.MeetsLatencyRequirement(),
	})
}

func (s *Server) handleTimelines(c *gin.Context) {
	m := s.store.Metrics()

	type timelineView struct {
		ID          string  `json:"id"`
		Probability float64 `json:"probability"`
		ParentID    string  `json:"parent_id,omitempty"`
		Packets     int     `json:"packets"`
	}
	var views []timelineView
	for _, tl := range s.store.Timelines() {
		views = append(views, timelineView{
			ID:          tl.ID,
			Probability: tl.Probability,
			ParentID:    tl.ParentID,
			Packets:     len(tl.Packets),
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"timeline_count": m.TimelineCount,
		"packet_count":   m.PacketCount,
		"anchor_count":   m.AnchorCount,
		"pruned_count":   m.PrunedCount,
		"timelines":      views,
	})
}

func (s *Server) handleBroadcast(c *gin.Context) {
	m := s.bcast.GetMetrics()
	c.JSON(http.StatusOK, gin.H{
		"samples":           m.Samples,
		"average_latency":   m.AverageLatency.String(),
		"under_budget_rate": m.UnderBudgetRate,
	})
}

func (s *Server) handleAnchors(c *gin.Context) {
	if s.ledger == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "ledger not configured"})
		return
	}
	records, err := s.ledger.RecentAnchors(c.Request.Context(), 50)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"anchors": records})
}

func (s *Server) handleFrames(c *gin.Context) {
	if s.ledger == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "ledger not configured"})
		return
	}
	records, err := s.ledger.RecentFrames(c.Request.Context(), 50)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	stats, err := s.ledger.Stats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"frames":            records,
		"total":             stats.Count,
		"over_budget_total": stats.OverBudget,
		"avg_elapsed_us":    stats.AvgUs,
	})
}
