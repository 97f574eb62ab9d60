package feed

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/predictbot/gopredict/internal/timeline"
)

var log = logrus.WithField("component", "feed")

// streamMessage 实时行情推送的原始结构
type streamMessage struct {
	Event string `json:"ev"`
	Asset string `json:"asset"`
	Price string `json:"p"`
	TsMs  int64  `json:"t"`
}

// Stream 实时行情 WebSocket 订阅端。
// 断线后 2s 自动重连，观测值写入 outC（channel 满时丢弃，保持低延迟）。
type Stream struct {
	url   string
	asset string
}

// NewStream 创建行情流
func NewStream(url, asset string) *Stream {
	return &Stream{url: url, asset: asset}
}

// Run 阻塞运行直到 ctx 取消
func (s *Stream) Run(ctx context.Context, outC chan<- timeline.Measurement) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		log.Infof("[Feed] 连接行情流 %s ...", s.url)
		conn, _, err := websocket.DefaultDialer.Dial(s.url, nil)
		if err != nil {
			log.Warnf("⚠️ [Feed] 连接失败: %v，2s 后重试", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(2 * time.Second):
				continue
			}
		}

		sub := map[string]string{
			"action": "subscribe",
			"asset":  s.asset,
		}
		_ = conn.WriteJSON(sub)
		log.Infof("✅ [Feed] 已订阅 %s", s.asset)

		s.readLoop(ctx, conn, outC)
		_ = conn.Close()
	}
}

func (s *Stream) readLoop(ctx context.Context, conn *websocket.Conn, outC chan<- timeline.Measurement) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_ = conn.SetReadDeadline(time.Now().Add(45 * time.Second))

		var msgs []streamMessage
		if err := conn.ReadJSON(&msgs); err != nil {
			log.Warnf("⚠️ [Feed] 读取失败: %v，准备重连", err)
			return
		}

		for _, msg := range msgs {
			if msg.Event != "tick" || msg.Asset != s.asset {
				continue
			}
			m, ok := parseTick(msg)
			if !ok {
				continue
			}
			select {
			case outC <- m:
			default:
				// 消费端落后时丢弃旧 tick
			}
		}
	}
}

func parseTick(msg streamMessage) (timeline.Measurement, bool) {
	price, err := decimal.NewFromString(msg.Price)
	if err != nil {
		return timeline.Measurement{}, false
	}
	ts := time.Now()
	if msg.TsMs > 0 {
		ts = time.UnixMilli(msg.TsMs)
	}
	return timeline.Measurement{
		Timestamp: ts,
		Payload:   map[string]any{"price": price.InexactFloat64()},
	}, true
}
