package storage

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"cmc-drop-sentry/pkg/types"
)

const latestPriceKey = "cmc:latest_price"

// CachedStore 在Redis中缓存每个币种的最新价格，Redis不可用时直接走底层存储
type CachedStore struct {
	Store
	redisClient *redis.Client
	ttl         time.Duration
	useRedis    bool

	// 串行化"写库+刷新缓存"与"回源+回填"，避免旧价覆盖新价
	fillMutex sync.Mutex
}

func NewCachedStore(inner Store, redisConfig types.RedisConfig) *CachedStore {
	client := redis.NewClient(&redis.Options{
		Addr:     redisConfig.URL,
		Password: redisConfig.Password,
		DB:       redisConfig.DB,
	})
	return newCachedStore(inner, client, redisConfig.TTL)
}

func newCachedStore(inner Store, client *redis.Client, ttl time.Duration) *CachedStore {
	cs := &CachedStore{
		Store:       inner,
		redisClient: client,
		ttl:         ttl,
	}

	// 测试连接
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		zap.L().Warn("⚠️ Redis连接失败，不使用最新价缓存", zap.Error(err))
		cs.useRedis = false
	} else {
		zap.L().Info("✅ Redis连接成功，启用最新价缓存")
		cs.useRedis = true
		// 缓存只是派生数据，上次运行留下的价格可能不属于当前数据库
		if err := client.Del(ctx, latestPriceKey).Err(); err != nil {
			zap.L().Warn("⚠️ 清理旧的最新价缓存失败，不使用缓存", zap.Error(err))
			cs.useRedis = false
		}
	}
	return cs
}

// RecordSnapshot 事务提交后再刷新缓存，缓存失败不影响写入结果
func (cs *CachedStore) RecordSnapshot(ctx context.Context, quotes []types.Quote) error {
	if !cs.useRedis {
		return cs.Store.RecordSnapshot(ctx, quotes)
	}

	cs.fillMutex.Lock()
	defer cs.fillMutex.Unlock()

	if err := cs.Store.RecordSnapshot(ctx, quotes); err != nil {
		return err
	}
	if len(quotes) == 0 {
		return nil
	}

	values := make([]interface{}, 0, len(quotes)*2)
	for _, q := range quotes {
		values = append(values, q.Symbol, q.Price.String())
	}

	if err := cs.redisClient.HSet(ctx, latestPriceKey, values...).Err(); err != nil {
		zap.L().Warn("⚠️ 刷新最新价缓存失败", zap.Error(err))
		// 旧值会导致跌幅比较错误，宁可整体失效
		if err := cs.redisClient.Del(ctx, latestPriceKey).Err(); err != nil {
			zap.L().Error("❌ 清除最新价缓存失败", zap.Error(err))
		}
		return nil
	}
	cs.expire(ctx)
	return nil
}

func (cs *CachedStore) LatestPrice(ctx context.Context, symbol string) (decimal.Decimal, bool, error) {
	if !cs.useRedis {
		return cs.Store.LatestPrice(ctx, symbol)
	}

	cached, err := cs.redisClient.HGet(ctx, latestPriceKey, symbol).Result()
	switch {
	case err == nil:
		if price, parseErr := decimal.NewFromString(cached); parseErr == nil {
			return price, true, nil
		}
		zap.L().Warn("⚠️ 缓存价格格式错误", zap.String("symbol", symbol), zap.String("value", cached))
	case errors.Is(err, redis.Nil):
	default:
		zap.L().Warn("⚠️ 读取最新价缓存失败", zap.String("symbol", symbol), zap.Error(err))
	}

	cs.fillMutex.Lock()
	defer cs.fillMutex.Unlock()

	price, ok, err := cs.Store.LatestPrice(ctx, symbol)
	if err != nil || !ok {
		return price, ok, err
	}

	// 回填缓存，已有的值来自更新的批次，不覆盖
	if err := cs.redisClient.HSetNX(ctx, latestPriceKey, symbol, price.String()).Err(); err != nil {
		zap.L().Warn("⚠️ 回填最新价缓存失败", zap.String("symbol", symbol), zap.Error(err))
		return price, true, nil
	}
	cs.expire(ctx)
	return price, true, nil
}

func (cs *CachedStore) expire(ctx context.Context) {
	if cs.ttl <= 0 {
		return
	}
	if err := cs.redisClient.Expire(ctx, latestPriceKey, cs.ttl).Err(); err != nil {
		zap.L().Warn("⚠️ 设置最新价缓存过期时间失败", zap.Error(err))
	}
}

func (cs *CachedStore) Close() error {
	err := cs.Store.Close()
	if cerr := cs.redisClient.Close(); err == nil {
		err = cerr
	}
	return err
}
