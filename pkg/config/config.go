package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"cmc-drop-sentry/pkg/types"
)

// ErrMissingBotToken 未配置Telegram机器人Token
var ErrMissingBotToken = errors.New("TELEGRAM_BOT_TOKEN is missing")

// 兼容原有 .env 中的变量名
var envBindings = map[string]string{
	"cmc.api_key":        "CMC_API_KEY",
	"cmc.url":            "CMC_URL",
	"telegram.bot_token": "TELEGRAM_BOT_TOKEN",
	"telegram.chat_id":   "TELEGRAM_CHAT_ID",
}

// Load 加载配置，configFile为空时按默认路径查找
func Load(configFile string) (*types.Config, error) {
	// .env 不存在不算错误
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath(".")

	// 设置默认值
	setDefaults(v)

	// 读取环境变量
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("绑定环境变量%s失败: %w", env, err)
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	} else {
		// 优先尝试读取本地配置文件
		v.SetConfigName("config.local")
		if err := v.ReadInConfig(); err != nil {
			// 如果本地配置文件不存在，尝试读取默认配置文件
			v.SetConfigName("config")
			if err := v.ReadInConfig(); err != nil {
				var configFileNotFoundError viper.ConfigFileNotFoundError
				if !errors.As(err, &configFileNotFoundError) {
					return nil, err
				}
			}
		}
	}

	var config types.Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	if err := Validate(&config); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate 校验启动必需项，缺少API Key只会在运行时表现为拉取失败
func Validate(cfg *types.Config) error {
	if strings.TrimSpace(cfg.Telegram.BotToken) == "" {
		return ErrMissingBotToken
	}
	switch cfg.Database.Driver {
	case "sqlite", "mysql", "memory":
	default:
		return fmt.Errorf("不支持的数据库驱动: %q", cfg.Database.Driver)
	}
	if cfg.Alert.Interval <= 0 {
		return fmt.Errorf("alert.interval 必须大于0: %s", cfg.Alert.Interval)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file_path", "")
	v.SetDefault("log.max_size", 200)
	v.SetDefault("log.max_age", 30)
	v.SetDefault("log.max_backups", 7)
	v.SetDefault("log.compress", false)
	v.SetDefault("cmc.api_key", "")
	v.SetDefault("cmc.url", "https://pro-api.coinmarketcap.com/v1/cryptocurrency/listings/latest")
	v.SetDefault("cmc.limit", 100)
	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", "")
	v.SetDefault("telegram.api_url", "https://api.telegram.org")
	v.SetDefault("telegram.poll_timeout", 30*time.Second)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.sqlite.path", "crypto_data.db")
	v.SetDefault("database.mysql.host", "localhost")
	v.SetDefault("database.mysql.port", 3306)
	v.SetDefault("database.mysql.username", "root")
	v.SetDefault("database.mysql.password", "")
	v.SetDefault("database.mysql.database", "crypto_data")
	v.SetDefault("database.mysql.max_idle_conns", 5)
	v.SetDefault("database.mysql.max_open_conns", 10)
	v.SetDefault("redis.url", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", 2*time.Hour)
	v.SetDefault("alert.interval", time.Hour)
	v.SetDefault("network.proxy", "")
	v.SetDefault("network.timeout", 30*time.Second)
	v.SetDefault("network.retries", 2)
	v.SetDefault("metrics.addr", "")
}
