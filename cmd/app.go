package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"cmc-drop-sentry/internal/bot"
	"cmc-drop-sentry/internal/fetcher"
	"cmc-drop-sentry/internal/notifier"
	"cmc-drop-sentry/internal/scheduler"
	"cmc-drop-sentry/internal/storage"
	"cmc-drop-sentry/internal/telegram"
	"cmc-drop-sentry/pkg/metrics"
	"cmc-drop-sentry/pkg/types"
)

// App 应用程序管理器
type App struct {
	config    *types.Config
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	store     storage.Store
	scheduler *scheduler.Scheduler
	bot       *bot.Bot
}

// NewApp 创建应用程序实例并完成各模块装配
func NewApp(config *types.Config) (*App, error) {
	store, err := storage.Open(*config)
	if err != nil {
		return nil, fmt.Errorf("打开存储失败: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	app := &App{
		config: config,
		ctx:    ctx,
		cancel: cancel,
		store:  store,
	}

	dataFetcher := fetcher.NewDataFetcher(config.CMC, config.Network)
	// HTTP超时需要覆盖长轮询等待时间
	client, err := telegram.NewClient(ctx, config.Telegram.APIURL, config.Telegram.BotToken, config.Telegram.PollTimeout+10*time.Second)
	if err != nil {
		cancel()
		_ = store.Close()
		return nil, err
	}

	// 根据配置选择通知服务（Telegram > 控制台）
	var notifyService notifier.Interface
	if config.Telegram.ChatID != "" {
		notifyService = notifier.NewTelegramNotifier(client, config.Telegram.ChatID)
	} else {
		notifyService = notifier.NewConsoleNotifier()
	}

	app.scheduler = scheduler.NewScheduler(store, dataFetcher, notifyService, config.Alert.Interval, config.CMC.Limit)
	app.bot = bot.NewBot(client, store, dataFetcher, config.CMC.Limit, config.Telegram.PollTimeout, app.stopByCommand)

	return app, nil
}

// Start 启动应用程序
func (app *App) Start() {
	zap.L().Info("🚀 CMC Drop Sentry 启动中...")

	app.wg.Add(1)
	go func() {
		defer app.wg.Done()
		app.scheduler.Start(app.ctx)
	}()

	app.wg.Add(1)
	go func() {
		defer app.wg.Done()
		app.bot.Run(app.ctx)
	}()

	if app.config.Metrics.Addr != "" {
		app.wg.Add(1)
		go func() {
			defer app.wg.Done()
			if err := metrics.Serve(app.ctx, app.config.Metrics.Addr); err != nil {
				zap.L().Error("❌ 指标服务异常退出", zap.Error(err))
			}
		}()
	}

	zap.L().Info("✅ CMC Drop Sentry 已启动",
		zap.Duration("interval", app.config.Alert.Interval),
		zap.String("database", app.config.Database.Driver))
}

// Stop 停止应用程序
func (app *App) Stop() {
	zap.L().Info("🛑 收到停止信号，正在优雅关闭...")
	app.scheduler.Halt()
	app.cancel()

	// 等待所有goroutine结束，最多等待30秒
	done := make(chan struct{})
	go func() {
		app.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		zap.L().Info("✅ CMC Drop Sentry 已安全关闭")
	case <-time.After(30 * time.Second):
		zap.L().Warn("⚠️ 强制关闭超时")
	}

	if err := app.store.Close(); err != nil {
		zap.L().Warn("⚠️ 关闭存储失败", zap.Error(err))
	}
}

// WaitForShutdown 等待关闭信号或/stop_bot命令
func (app *App) WaitForShutdown() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-sigCh:
	case <-app.ctx.Done():
	}
}

// stopByCommand /stop_bot 触发的停止
func (app *App) stopByCommand() {
	app.scheduler.Halt()
	app.cancel()
}
