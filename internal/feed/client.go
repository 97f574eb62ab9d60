package feed

import (
	"context"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/predictbot/gopredict/internal/timeline"
	"github.com/predictbot/gopredict/pkg/ratelimit"
)

// snapshotResponse 快照接口返回的原始结构。
// 价格字段是字符串，用 decimal 解析避免浮点精度问题。
type snapshotResponse struct {
	Asset     string `json:"asset"`
	Price     string `json:"price"`
	Bid       string `json:"bid"`
	Ask       string `json:"ask"`
	Timestamp int64  `json:"timestamp"` // 毫秒
}

// Client 行情快照 REST 客户端
type Client struct {
	client  *resty.Client
	asset   string
	limiter *ratelimit.TokenBucket
}

// NewClient 创建快照客户端
func NewClient(host, asset string, rateLimit int) *Client {
	host = strings.TrimSuffix(host, "/")

	// resty 会自动从环境变量读取代理配置（HTTP_PROXY, HTTPS_PROXY）
	client := resty.New().
		SetBaseURL(host).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		SetRetryAfter(func(client *resty.Client, resp *resty.Response) (time.Duration, error) {
			// 429 限流时遵循 Retry-After
			if resp.StatusCode() == 429 {
				if retryAfter := resp.Header().Get("Retry-After"); retryAfter != "" {
					if seconds, err := time.ParseDuration(retryAfter + "s"); err == nil {
						return seconds, nil
					}
				}
				return 5 * time.Second, nil
			}
			return 0, nil
		})

	return &Client{
		client:  client,
		asset:   asset,
		limiter: ratelimit.NewTokenBucket(rateLimit, rateLimit),
	}
}

// Snapshot 拉取一次行情快照并转换为观测值
func (c *Client) Snapshot(ctx context.Context) (timeline.Measurement, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return timeline.Measurement{}, err
	}

	var resp snapshotResponse
	r, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("asset", c.asset).
		SetResult(&resp).
		Get("/v1/snapshot")
	if err != nil {
		return timeline.Measurement{}, errors.Wrap(err, "snapshot request")
	}
	if r.IsError() {
		return timeline.Measurement{}, errors.Errorf("snapshot request: status %d", r.StatusCode())
	}

	return parseSnapshot(resp)
}

// parseSnapshot 把字符串价格解析成观测值，无法解析的字段跳过
func parseSnapshot(resp snapshotResponse) (timeline.Measurement, error) {
	values := make(map[string]any)

	price, err := decimal.NewFromString(resp.Price)
	if err != nil {
		return timeline.Measurement{}, errors.Wrapf(err, "parse price %q", resp.Price)
	}
	values["price"] = price.InexactFloat64()

	if resp.Bid != "" {
		if bid, err := decimal.NewFromString(resp.Bid); err == nil {
			values["bid"] = bid.InexactFloat64()
		}
	}
	if resp.Ask != "" {
		if ask, err := decimal.NewFromString(resp.Ask); err == nil {
			values["ask"] = ask.InexactFloat64()
		}
	}

	ts := time.Now()
	if resp.Timestamp > 0 {
		ts = time.UnixMilli(resp.Timestamp)
	}

	return timeline.Measurement{
		Timestamp: ts,
		Payload:   values,
	}, nil
}
