package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"cmc-drop-sentry/pkg/config"
	"cmc-drop-sentry/pkg/logger"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "cmc-drop-sentry",
	Short: "CoinMarketCap price drop alerts over Telegram",
	Long: `cmc-drop-sentry polls CoinMarketCap listings on a fixed interval, stores
every snapshot and alerts a Telegram chat when a tracked coin falls more
than 5% below its last recorded price.`,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().StringVarP(&configFile, "config", "c", "", "config file (default ./configs/config.yaml)")
}

func run(_ *cobra.Command, _ []string) error {
	// 加载配置
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("加载配置失败: %w", err)
	}

	// 初始化日志
	appLogger, err := logger.Init(cfg.Log)
	if err != nil {
		return fmt.Errorf("初始化日志失败: %w", err)
	}
	defer func() { _ = appLogger.Sync() }()

	app, err := NewApp(cfg)
	if err != nil {
		zap.L().Error("❌ 初始化失败", zap.Error(err))
		return err
	}

	app.Start()
	app.WaitForShutdown()
	app.Stop()
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
