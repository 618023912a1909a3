package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"cmc-drop-sentry/pkg/types"
)

// ErrInvalidQuote 批次中存在不能落库的行情
var ErrInvalidQuote = errors.New("invalid quote")

// Store 快照日志 + 关注列表
type Store interface {
	RecordSnapshot(ctx context.Context, quotes []types.Quote) error
	LatestPrice(ctx context.Context, symbol string) (decimal.Decimal, bool, error)
	RecentHistory(ctx context.Context, n int) ([]types.SnapshotRecord, error)
	Track(ctx context.Context, symbol string) error
	Untrack(ctx context.Context, symbol string) error
	TrackedSymbols(ctx context.Context) ([]string, error)
	ClearWatchlist(ctx context.Context) error
	Close() error
}

// Open 根据配置选择存储后端，配置了Redis时包一层最新价缓存
func Open(cfg types.Config) (Store, error) {
	var (
		store Store
		err   error
	)
	switch cfg.Database.Driver {
	case "memory":
		zap.L().Info("🔧 使用纯内存存储")
		store = NewMemoryStore()
	case "sqlite":
		store, err = NewSQLiteStore(cfg.Database.SQLite.Path)
	case "mysql":
		store, err = NewMySQLStore(cfg.Database.MySQL)
	default:
		return nil, fmt.Errorf("不支持的数据库驱动: %q", cfg.Database.Driver)
	}
	if err != nil {
		return nil, err
	}

	if cfg.Redis.URL != "" {
		return NewCachedStore(store, cfg.Redis), nil
	}
	return store, nil
}

func validateQuotes(quotes []types.Quote) error {
	for i, q := range quotes {
		if q.Symbol == "" {
			return fmt.Errorf("%w: index %d has empty symbol", ErrInvalidQuote, i)
		}
	}
	return nil
}

// MemoryStore 纯内存实现，进程退出即丢失，用于测试或无数据库运行
type MemoryStore struct {
	records []types.SnapshotRecord
	tracked map[string]time.Time
	nextID  uint
	mutex   sync.RWMutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make([]types.SnapshotRecord, 0, 128),
		tracked: make(map[string]time.Time),
	}
}

func (ms *MemoryStore) RecordSnapshot(_ context.Context, quotes []types.Quote) error {
	if len(quotes) == 0 {
		return nil
	}
	// 先整体校验，保证整批要么全部写入要么全部不写
	if err := validateQuotes(quotes); err != nil {
		return err
	}

	ms.mutex.Lock()
	defer ms.mutex.Unlock()

	now := time.Now()
	for _, q := range quotes {
		ms.nextID++
		ms.records = append(ms.records, types.SnapshotRecord{
			ID:              ms.nextID,
			Symbol:          q.Symbol,
			Price:           q.Price,
			PercentChange7d: q.PercentChange7d,
			Timestamp:       now,
		})
	}
	return nil
}

func (ms *MemoryStore) LatestPrice(_ context.Context, symbol string) (decimal.Decimal, bool, error) {
	ms.mutex.RLock()
	defer ms.mutex.RUnlock()

	// 追加写入，越靠后越新
	for i := len(ms.records) - 1; i >= 0; i-- {
		if ms.records[i].Symbol == symbol {
			return ms.records[i].Price, true, nil
		}
	}
	return decimal.Zero, false, nil
}

func (ms *MemoryStore) RecentHistory(_ context.Context, n int) ([]types.SnapshotRecord, error) {
	ms.mutex.RLock()
	defer ms.mutex.RUnlock()

	if n <= 0 {
		return nil, nil
	}
	if n > len(ms.records) {
		n = len(ms.records)
	}
	out := make([]types.SnapshotRecord, 0, n)
	for i := len(ms.records) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, ms.records[i])
	}
	return out, nil
}

func (ms *MemoryStore) Track(_ context.Context, symbol string) error {
	ms.mutex.Lock()
	defer ms.mutex.Unlock()

	if _, ok := ms.tracked[symbol]; !ok {
		ms.tracked[symbol] = time.Now()
	}
	return nil
}

func (ms *MemoryStore) Untrack(_ context.Context, symbol string) error {
	ms.mutex.Lock()
	defer ms.mutex.Unlock()

	delete(ms.tracked, symbol)
	return nil
}

func (ms *MemoryStore) TrackedSymbols(_ context.Context) ([]string, error) {
	ms.mutex.RLock()
	defer ms.mutex.RUnlock()

	symbols := make([]string, 0, len(ms.tracked))
	for symbol := range ms.tracked {
		symbols = append(symbols, symbol)
	}
	sort.Slice(symbols, func(i, j int) bool {
		ti, tj := ms.tracked[symbols[i]], ms.tracked[symbols[j]]
		if ti.Equal(tj) {
			return symbols[i] < symbols[j]
		}
		return ti.Before(tj)
	})
	return symbols, nil
}

func (ms *MemoryStore) ClearWatchlist(_ context.Context) error {
	ms.mutex.Lock()
	defer ms.mutex.Unlock()

	ms.tracked = make(map[string]time.Time)
	return nil
}

func (ms *MemoryStore) Close() error { return nil }
