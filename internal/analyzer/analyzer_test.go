package analyzer

import (
	"testing"

	"github.com/shopspring/decimal"

	"cmc-drop-sentry/pkg/types"
)

func q(symbol, price, change string) types.Quote {
	return types.Quote{
		Symbol:          symbol,
		Price:           decimal.RequireFromString(price),
		PercentChange7d: decimal.RequireFromString(change),
	}
}

func priorPrices(prices map[string]string) LatestPriceFunc {
	return func(symbol string) (decimal.Decimal, bool) {
		p, ok := prices[symbol]
		if !ok {
			return decimal.Zero, false
		}
		return decimal.RequireFromString(p), true
	}
}

func TestDetectDrops_Threshold(t *testing.T) {
	tracked := TrackedSet([]string{"ETH"})
	latest := priorPrices(map[string]string{"ETH": "100.0"})

	cases := []struct {
		price string
		want  bool
	}{
		{"94.9", true},
		{"95.0", false}, // 边界不触发
		{"95.1", false},
		{"120", false},
	}
	for _, tc := range cases {
		alerts := DetectDrops([]types.Quote{q("ETH", tc.price, "0")}, tracked, latest)
		if got := len(alerts) == 1; got != tc.want {
			t.Errorf("price %s: alerted = %v; want %v", tc.price, got, tc.want)
			continue
		}
		if tc.want {
			if alerts[0].Symbol != "ETH" || !alerts[0].Price.Equal(decimal.RequireFromString(tc.price)) {
				t.Errorf("alert = %+v", alerts[0])
			}
			if !alerts[0].PastPrice.Equal(decimal.NewFromInt(100)) {
				t.Errorf("PastPrice = %s; want 100", alerts[0].PastPrice)
			}
		}
	}
}

func TestDetectDrops_NoHistoryNoAlert(t *testing.T) {
	tracked := TrackedSet([]string{"NEW"})
	alerts := DetectDrops([]types.Quote{q("NEW", "0.0001", "-99")}, tracked, priorPrices(nil))
	if len(alerts) != 0 {
		t.Fatalf("alerts = %+v; want none without history", alerts)
	}
}

func TestDetectDrops_SkipsUntracked(t *testing.T) {
	tracked := TrackedSet([]string{"BTC"})
	latest := priorPrices(map[string]string{"BTC": "100", "ETH": "100"})
	alerts := DetectDrops([]types.Quote{q("ETH", "10", "0"), q("BTC", "99", "0")}, tracked, latest)
	if len(alerts) != 0 {
		t.Fatalf("alerts = %+v; want none", alerts)
	}
}

func TestDetectDrops_PreservesInputOrder(t *testing.T) {
	tracked := TrackedSet([]string{"SOL", "ADA", "BTC"})
	latest := priorPrices(map[string]string{"SOL": "100", "ADA": "1", "BTC": "100"})
	quotes := []types.Quote{q("BTC", "50", "0"), q("SOL", "101", "0"), q("ADA", "0.5", "0")}

	alerts := DetectDrops(quotes, tracked, latest)
	if len(alerts) != 2 {
		t.Fatalf("len(alerts) = %d; want 2", len(alerts))
	}
	if alerts[0].Symbol != "BTC" || alerts[1].Symbol != "ADA" {
		t.Errorf("order = %s, %s; want BTC, ADA", alerts[0].Symbol, alerts[1].Symbol)
	}
}

func TestDetectDrops_EmptyQuotes(t *testing.T) {
	if alerts := DetectDrops(nil, TrackedSet([]string{"BTC"}), priorPrices(nil)); len(alerts) != 0 {
		t.Fatalf("alerts = %+v; want none", alerts)
	}
}

func TestFilterForecast(t *testing.T) {
	quotes := []types.Quote{
		q("A", "1", "-11"),
		q("B", "1", "-10"), // 恰好-10不入选
		q("C", "1", "5"),
		q("D", "1", "-30"),
		q("E", "1", "-10.01"),
		q("F", "1", "-50"),
	}
	got := FilterForecast(quotes)
	want := []string{"A", "D", "E"}
	if len(got) != len(want) {
		t.Fatalf("len = %d; want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Symbol != want[i] {
			t.Errorf("got[%d] = %s; want %s", i, got[i].Symbol, want[i])
		}
	}
}

func TestFilterForecast_None(t *testing.T) {
	if got := FilterForecast([]types.Quote{q("A", "1", "3")}); len(got) != 0 {
		t.Fatalf("got %+v; want none", got)
	}
}

func TestDropAlert_ChangePercent(t *testing.T) {
	alert := types.DropAlert{PastPrice: decimal.NewFromInt(200), Price: decimal.NewFromInt(150)}
	if got := alert.ChangePercent(); !got.Equal(decimal.NewFromInt(-25)) {
		t.Errorf("ChangePercent = %s; want -25", got)
	}
}
