package feed

import (
	"math"
	"testing"
	"time"
)

func TestParseSnapshot(t *testing.T) {
	m, err := parseSnapshot(snapshotResponse{
		Asset:     "btc-usd",
		Price:     "64123.55",
		Bid:       "64123.50",
		Ask:       "64123.60",
		Timestamp: 1714000000000,
	})
	if err != nil {
		t.Fatalf("parseSnapshot: %v", err)
	}

	if got := m.Payload["price"].(float64); math.Abs(got-64123.55) > 1e-9 {
		t.Errorf("price = %v, want 64123.55", got)
	}
	if got := m.Payload["bid"].(float64); math.Abs(got-64123.50) > 1e-9 {
		t.Errorf("bid = %v, want 64123.50", got)
	}
	if got := m.Payload["ask"].(float64); math.Abs(got-64123.60) > 1e-9 {
		t.Errorf("ask = %v, want 64123.60", got)
	}
	if want := time.UnixMilli(1714000000000); !m.Timestamp.Equal(want) {
		t.Errorf("timestamp = %v, want %v", m.Timestamp, want)
	}
}

func TestParseSnapshotBadPrice(t *testing.T) {
	_, err := parseSnapshot(snapshotResponse{Price: "not-a-number"})
	if err == nil {
		t.Fatal("期望价格解析失败返回错误")
	}
}

func TestParseSnapshotSkipsBadOptionalFields(t *testing.T) {
	m, err := parseSnapshot(snapshotResponse{Price: "100", Bid: "garbage"})
	if err != nil {
		t.Fatalf("parseSnapshot: %v", err)
	}
	if _, ok := m.Payload["bid"]; ok {
		t.Error("非法 bid 应该被跳过")
	}
	if _, ok := m.Payload["price"]; !ok {
		t.Error("price 缺失")
	}
}

func TestParseTick(t *testing.T) {
	m, ok := parseTick(streamMessage{Event: "tick", Asset: "btc-usd", Price: "50000.5", TsMs: 1714000000000})
	if !ok {
		t.Fatal("parseTick 应该成功")
	}
	if got := m.Payload["price"].(float64); math.Abs(got-50000.5) > 1e-9 {
		t.Errorf("price = %v, want 50000.5", got)
	}

	if _, ok := parseTick(streamMessage{Price: "bad"}); ok {
		t.Error("非法价格应该解析失败")
	}
}
