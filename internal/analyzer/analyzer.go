package analyzer

import (
	"time"

	"github.com/shopspring/decimal"

	"cmc-drop-sentry/pkg/types"
)

// 预警策略常量，不对用户开放配置
var (
	// AlertDropRatio 新价格低于上次记录价格的95%时触发跌幅预警
	AlertDropRatio = decimal.RequireFromString("0.95")
	// ForecastChangeThreshold 7日涨跌幅低于-10%视为有反弹潜力
	ForecastChangeThreshold = decimal.NewFromInt(-10)
)

// ForecastLimit 潜力币展示数量
const ForecastLimit = 3

// LatestPriceFunc 查询本批次写入之前该币种的最新价格
type LatestPriceFunc func(symbol string) (decimal.Decimal, bool)

// DetectDrops 找出关注列表中相对上次记录价格下跌超过阈值的币种，按行情输入顺序输出
func DetectDrops(quotes []types.Quote, tracked map[string]struct{}, latest LatestPriceFunc) []types.DropAlert {
	if len(quotes) == 0 || len(tracked) == 0 {
		return nil
	}

	now := time.Now()
	alerts := make([]types.DropAlert, 0)
	for _, q := range quotes {
		if _, ok := tracked[q.Symbol]; !ok {
			continue
		}
		prior, ok := latest(q.Symbol)
		if !ok {
			continue // 没有历史数据，跳过
		}
		// 严格小于，恰好95%不触发
		if q.Price.LessThan(prior.Mul(AlertDropRatio)) {
			alerts = append(alerts, types.DropAlert{
				Symbol:    q.Symbol,
				PastPrice: prior,
				Price:     q.Price,
				AlertTime: now,
			})
		}
	}
	return alerts
}

// FilterForecast 筛选7日跌幅超过10%的币种，保持输入顺序，最多返回ForecastLimit个
func FilterForecast(quotes []types.Quote) []types.Quote {
	filtered := make([]types.Quote, 0, ForecastLimit)
	for _, q := range quotes {
		if len(filtered) == ForecastLimit {
			break
		}
		if q.PercentChange7d.LessThan(ForecastChangeThreshold) {
			filtered = append(filtered, q)
		}
	}
	return filtered
}

// TrackedSet 关注列表转集合
func TrackedSet(symbols []string) map[string]struct{} {
	set := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		set[s] = struct{}{}
	}
	return set
}
