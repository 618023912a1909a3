package fetcher

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"cmc-drop-sentry/pkg/metrics"
	"cmc-drop-sentry/pkg/types"
)

// Source 行情来源，失败时返回空列表而不是错误
type Source interface {
	FetchQuotes(ctx context.Context, limit int) []types.Quote
}

// DataFetcher CoinMarketCap行情获取器
type DataFetcher struct {
	apiKey     string
	apiURL     string
	retries    uint64
	httpClient *http.Client
	newBackOff func() backoff.BackOff
}

func NewDataFetcher(cmcConfig types.CMCConfig, networkConfig types.NetworkConfig) *DataFetcher {
	// 设置超时时间
	timeout := networkConfig.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	// 创建自定义HTTP客户端
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: false,
		},
	}

	// 如果配置了代理，则使用代理
	if networkConfig.Proxy != "" {
		proxyURL, err := url.Parse(networkConfig.Proxy)
		if err == nil {
			transport.Proxy = http.ProxyURL(proxyURL)
			zap.L().Info("✅ 已配置HTTP代理", zap.String("proxy", networkConfig.Proxy))
		} else {
			zap.L().Warn("⚠️ 代理地址格式错误", zap.Error(err))
		}
	}

	zap.L().Info("✅ 初始化CoinMarketCap客户端",
		zap.String("url", cmcConfig.URL),
		zap.Duration("timeout", timeout))

	return &DataFetcher{
		apiKey:     cmcConfig.APIKey,
		apiURL:     cmcConfig.URL,
		retries:    networkConfig.Retries,
		httpClient: &http.Client{Timeout: timeout, Transport: transport},
		newBackOff: func() backoff.BackOff { return backoff.NewExponentialBackOff() },
	}
}

// cmcListing CoinMarketCap listings/latest 单条数据，只取用到的字段
type cmcListing struct {
	Symbol *string `json:"symbol"`
	Quote  struct {
		USD *struct {
			Price           *decimal.Decimal `json:"price"`
			PercentChange7d *decimal.Decimal `json:"percent_change_7d"`
		} `json:"USD"`
	} `json:"quote"`
}

type cmcResponse struct {
	Status struct {
		ErrorCode    int     `json:"error_code"`
		ErrorMessage *string `json:"error_message"`
	} `json:"status"`
	Data []cmcListing `json:"data"`
}

// FetchQuotes 拉取前limit个币种的USD行情；任何失败都记录日志并返回空列表
func (f *DataFetcher) FetchQuotes(ctx context.Context, limit int) []types.Quote {
	if f.apiKey == "" {
		zap.L().Warn("⚠️ 未配置CMC_API_KEY，跳过行情拉取")
		metrics.FetchErrors.Inc()
		return nil
	}

	zap.L().Info("🔄 正在获取CoinMarketCap行情...", zap.Int("limit", limit))

	quotes, err := f.getListings(ctx, limit)
	if err != nil {
		zap.L().Warn("❌ 获取行情失败", zap.Error(err))
		metrics.FetchErrors.Inc()
		return nil
	}

	metrics.FetchedQuotes.Add(float64(len(quotes)))
	zap.L().Info("✅ 获取到行情数据", zap.Int("count", len(quotes)))
	return quotes
}

// getListings 带重试地请求接口，只有网络错误、429和5xx会重试
func (f *DataFetcher) getListings(ctx context.Context, limit int) ([]types.Quote, error) {
	var quotes []types.Quote
	attempt := 0

	op := func() error {
		attempt++
		if attempt > 1 {
			zap.L().Info("🔄 重试获取数据", zap.Int("attempt", attempt))
		}

		var err error
		quotes, err = f.request(ctx, limit)
		return err
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(f.newBackOff(), f.retries), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return nil, fmt.Errorf("第%d次尝试失败: %w", attempt, err)
	}
	return quotes, nil
}

func (f *DataFetcher) request(ctx context.Context, limit int) ([]types.Quote, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.apiURL, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("构造请求失败: %w", err))
	}

	params := req.URL.Query()
	params.Set("start", "1")
	params.Set("limit", strconv.Itoa(limit))
	params.Set("convert", "USD")
	req.URL.RawQuery = params.Encode()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-CMC_PRO_API_KEY", f.apiKey)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(err)
		}
		return nil, fmt.Errorf("HTTP请求失败: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取响应失败: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		statusErr := fmt.Errorf("HTTP状态码错误: %d", resp.StatusCode)
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, statusErr
		}
		return nil, backoff.Permanent(statusErr)
	}

	quotes, err := parseListings(body)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	return quotes, nil
}

// ErrMalformedPayload 响应缺少必需字段
var ErrMalformedPayload = errors.New("malformed payload")

// parseListings 任意一条缺字段则整批视为无效
func parseListings(body []byte) ([]types.Quote, error) {
	var apiResp cmcResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	if apiResp.Status.ErrorCode != 0 {
		msg := ""
		if apiResp.Status.ErrorMessage != nil {
			msg = *apiResp.Status.ErrorMessage
		}
		return nil, fmt.Errorf("API返回错误: %d - %s", apiResp.Status.ErrorCode, msg)
	}

	quotes := make([]types.Quote, 0, len(apiResp.Data))
	for i, item := range apiResp.Data {
		usd := item.Quote.USD
		if item.Symbol == nil || *item.Symbol == "" || usd == nil || usd.Price == nil || usd.PercentChange7d == nil {
			return nil, fmt.Errorf("%w: data[%d] missing symbol or quote.USD fields", ErrMalformedPayload, i)
		}
		quotes = append(quotes, types.Quote{
			Symbol:          *item.Symbol,
			Price:           *usd.Price,
			PercentChange7d: *usd.PercentChange7d,
		})
	}
	return quotes, nil
}
