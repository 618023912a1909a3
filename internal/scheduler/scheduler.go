package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"cmc-drop-sentry/internal/analyzer"
	"cmc-drop-sentry/internal/fetcher"
	"cmc-drop-sentry/internal/notifier"
	"cmc-drop-sentry/internal/storage"
	"cmc-drop-sentry/pkg/metrics"
	"cmc-drop-sentry/pkg/types"
)

// CycleResult 单次轮询的结果
type CycleResult struct {
	ID       string
	Skipped  bool // 关注列表为空，未拉取行情
	Quotes   int
	Recorded bool
	Alerts   int
	Notified int
}

// Scheduler 定时轮询：拉取行情 → 写快照 → 检测跌幅 → 发送预警
type Scheduler struct {
	store    storage.Store
	source   fetcher.Source
	notifier notifier.Interface
	interval time.Duration
	limit    int

	running  atomic.Bool
	cycles   sync.WaitGroup
	halt     chan struct{}
	haltOnce sync.Once
}

func NewScheduler(store storage.Store, source fetcher.Source, notifyService notifier.Interface, interval time.Duration, limit int) *Scheduler {
	return &Scheduler{
		store:    store,
		source:   source,
		notifier: notifyService,
		interval: interval,
		limit:    limit,
		halt:     make(chan struct{}),
	}
}

// Start 按固定周期触发轮询，直到ctx取消或调用Halt；返回前等待正在执行的轮询结束
func (s *Scheduler) Start(ctx context.Context) {
	zap.L().Info("🚀 调度器启动", zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	defer s.cycles.Wait()

	for {
		select {
		case <-ctx.Done():
			zap.L().Info("📴 调度器已停止")
			return
		case <-s.halt:
			zap.L().Info("📴 调度器已暂停定时任务")
			return
		case <-ticker.C:
			// 定时器本身不阻塞，上一轮未结束时本次触发直接丢弃
			s.cycles.Add(1)
			go func() {
				defer s.cycles.Done()
				s.Trigger(ctx)
			}()
		}
	}
}

// Halt 停止定时触发，可重复调用
func (s *Scheduler) Halt() {
	s.haltOnce.Do(func() { close(s.halt) })
}

// Trigger 执行一次轮询；已有轮询在执行时丢弃本次触发并返回false
func (s *Scheduler) Trigger(ctx context.Context) bool {
	if !s.running.CompareAndSwap(false, true) {
		zap.L().Warn("⏭️ 上一轮轮询仍在执行，丢弃本次触发")
		metrics.CycleCounter.WithLabelValues("dropped").Inc()
		return false
	}
	defer s.running.Store(false)

	s.RunCycle(ctx)
	return true
}

// RunCycle 轮询主体，任何错误都只记录日志
func (s *Scheduler) RunCycle(ctx context.Context) CycleResult {
	start := time.Now()
	result := CycleResult{ID: uuid.NewString()}
	log := zap.L().With(zap.String("cycle_id", result.ID))

	defer func() {
		if r := recover(); r != nil {
			log.Error("❌ 轮询异常", zap.Any("panic", r))
			metrics.CycleCounter.WithLabelValues("panic").Inc()
		}
		metrics.CycleLatency.Observe(time.Since(start).Seconds())
	}()

	tracked, err := s.store.TrackedSymbols(ctx)
	if err != nil {
		log.Error("❌ 读取关注列表失败", zap.Error(err))
		metrics.StoreErrors.Inc()
		metrics.CycleCounter.WithLabelValues("store_error").Inc()
		return result
	}
	if len(tracked) == 0 {
		log.Debug("关注列表为空，跳过本轮")
		result.Skipped = true
		metrics.CycleCounter.WithLabelValues("skipped").Inc()
		return result
	}

	log.Info("🔄 开始轮询", zap.Strings("tracked", tracked))

	quotes := s.source.FetchQuotes(ctx, s.limit)
	result.Quotes = len(quotes)
	if len(quotes) == 0 {
		log.Warn("⚠️ 本轮未获取到行情数据")
		metrics.CycleCounter.WithLabelValues("no_data").Inc()
		return result
	}

	trackedSet := analyzer.TrackedSet(tracked)
	prior := s.priorPrices(ctx, log, quotes, trackedSet)

	if err := s.store.RecordSnapshot(ctx, quotes); err != nil {
		log.Error("❌ 写入快照失败，本轮结束", zap.Error(err))
		metrics.StoreErrors.Inc()
		metrics.CycleCounter.WithLabelValues("store_error").Inc()
		return result
	}
	result.Recorded = true
	metrics.SnapshotRecords.Add(float64(len(quotes)))

	alerts := analyzer.DetectDrops(quotes, trackedSet, func(symbol string) (decimal.Decimal, bool) {
		p, ok := prior[symbol]
		return p, ok
	})
	result.Alerts = len(alerts)
	metrics.DropAlerts.Add(float64(len(alerts)))

	if len(alerts) > 0 {
		result.Notified = notifier.Notify(ctx, s.notifier, alerts)
		log.Info("✅ 轮询完成，触发跌幅预警",
			zap.Int("alerts", len(alerts)),
			zap.Int("notified", result.Notified))
	} else {
		log.Info("✅ 轮询完成，暂无异常下跌", zap.Int("quotes", len(quotes)))
	}
	metrics.CycleCounter.WithLabelValues("ok").Inc()
	return result
}

// priorPrices 在写入本批次之前读取关注币种的最新价格
func (s *Scheduler) priorPrices(ctx context.Context, log *zap.Logger, quotes []types.Quote, tracked map[string]struct{}) map[string]decimal.Decimal {
	prior := make(map[string]decimal.Decimal, len(tracked))
	for _, q := range quotes {
		if _, ok := tracked[q.Symbol]; !ok {
			continue
		}
		if _, seen := prior[q.Symbol]; seen {
			continue
		}
		price, ok, err := s.store.LatestPrice(ctx, q.Symbol)
		if err != nil {
			log.Warn("⚠️ 查询历史价格失败，跳过", zap.String("symbol", q.Symbol), zap.Error(err))
			continue
		}
		if ok {
			prior[q.Symbol] = price
		}
	}
	return prior
}
