package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Quote 单个币种的即时行情（来自CoinMarketCap，不直接持久化）
type Quote struct {
	Symbol          string          `json:"symbol"`
	Price           decimal.Decimal `json:"price"`
	PercentChange7d decimal.Decimal `json:"percent_change_7d"`
}

// SnapshotRecord 已落库的行情快照
type SnapshotRecord struct {
	ID              uint            `json:"id"`
	Symbol          string          `json:"symbol"`
	Price           decimal.Decimal `json:"price"`
	PercentChange7d decimal.Decimal `json:"percent_change_7d"`
	Timestamp       time.Time       `json:"timestamp"`
}

// DropAlert 跌幅预警数据
type DropAlert struct {
	Symbol    string          `json:"symbol"`
	PastPrice decimal.Decimal `json:"past_price"`
	Price     decimal.Decimal `json:"price"`
	AlertTime time.Time       `json:"alert_time"`
}

// ChangePercent 相对上一次记录价格的变化百分比
func (a *DropAlert) ChangePercent() decimal.Decimal {
	if a.PastPrice.IsZero() {
		return decimal.Zero
	}
	return a.Price.Sub(a.PastPrice).Div(a.PastPrice).Mul(decimal.NewFromInt(100))
}
