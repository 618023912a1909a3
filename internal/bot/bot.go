package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"cmc-drop-sentry/internal/analyzer"
	"cmc-drop-sentry/internal/fetcher"
	"cmc-drop-sentry/internal/storage"
)

// HistoryLimit /history 展示的记录条数
const HistoryLimit = 10

const helpText = "Welcome to the Crypto Bot! Here are the available commands:\n" +
	"/forecast - Get coins with potential for growth\n" +
	"/history - Get top results from forecast history\n" +
	"/track <symbols...> - Alert me when a coin drops more than 5%\n" +
	"/stop_tracking <symbol> - Stop alerts for a coin\n" +
	"/tracked - Show tracked coins\n" +
	"/stop_bot - Clear tracked coins and stop the bot\n"

// Updater 获取/发送Telegram消息
type Updater interface {
	GetUpdates(ctx context.Context, offset int, timeout time.Duration) ([]tgbotapi.Update, error)
	SendMessage(ctx context.Context, chatID, text string) error
}

// Bot 将聊天命令映射到存储和行情操作
type Bot struct {
	client      Updater
	store       storage.Store
	source      fetcher.Source
	limit       int
	pollTimeout time.Duration
	onStop      func()
	offset      int
}

func NewBot(client Updater, store storage.Store, source fetcher.Source, limit int, pollTimeout time.Duration, onStop func()) *Bot {
	return &Bot{
		client:      client,
		store:       store,
		source:      source,
		limit:       limit,
		pollTimeout: pollTimeout,
		onStop:      onStop,
	}
}

// Run 长轮询处理命令，直到ctx取消或收到/stop_bot
func (b *Bot) Run(ctx context.Context) {
	zap.L().Info("🤖 Telegram机器人开始监听命令")

	for {
		select {
		case <-ctx.Done():
			zap.L().Info("📴 Telegram机器人已停止")
			return
		default:
		}

		updates, err := b.client.GetUpdates(ctx, b.offset, b.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			zap.L().Warn("❌ 获取Telegram更新失败", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}

		for _, update := range updates {
			b.offset = update.UpdateID + 1
			msg := update.Message
			if msg == nil || msg.Chat == nil || !strings.HasPrefix(msg.Text, "/") {
				continue
			}
			chatID := strconv.FormatInt(msg.Chat.ID, 10)
			reply, stop := b.Handle(ctx, msg.Text)
			if reply != "" {
				if err := b.client.SendMessage(ctx, chatID, reply); err != nil {
					zap.L().Warn("❌ 回复消息失败", zap.String("chat_id", chatID), zap.Error(err))
				}
			}
			if stop {
				b.shutdown(ctx)
				return
			}
		}
	}
}

// shutdown 确认已处理的更新后再停止，避免重启时重复执行/stop_bot
func (b *Bot) shutdown(ctx context.Context) {
	if _, err := b.client.GetUpdates(ctx, b.offset, 0); err != nil {
		zap.L().Warn("⚠️ 确认Telegram更新失败", zap.Error(err))
	}
	zap.L().Info("📴 Telegram机器人已停止")
	if b.onStop != nil {
		b.onStop()
	}
}

// Handle 处理单条命令，返回回复文本以及是否需要停止
func (b *Bot) Handle(ctx context.Context, text string) (string, bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return "", false
	}
	// 群聊中命令形如 /track@my_bot
	command := strings.ToLower(strings.SplitN(fields[0], "@", 2)[0])
	args := fields[1:]

	zap.L().Info("📨 收到命令", zap.String("command", command), zap.Strings("args", args))

	switch command {
	case "/start", "/help":
		return helpText, false
	case "/forecast":
		return b.forecast(ctx), false
	case "/history":
		return b.history(ctx), false
	case "/track":
		return b.track(ctx, args), false
	case "/stop_tracking":
		return b.stopTracking(ctx, args), false
	case "/tracked":
		return b.tracked(ctx), false
	case "/stop_bot":
		return b.stopBot(ctx), true
	default:
		return "Unknown command. Send /help to see the available commands.", false
	}
}

func (b *Bot) forecast(ctx context.Context) string {
	quotes := b.source.FetchQuotes(ctx, b.limit)
	if len(quotes) == 0 {
		return "Market data is unavailable right now, please try again later."
	}
	if err := b.store.RecordSnapshot(ctx, quotes); err != nil {
		zap.L().Error("❌ 写入快照失败", zap.Error(err))
	}

	filtered := analyzer.FilterForecast(quotes)
	if len(filtered) == 0 {
		return "There are no coins with potential."
	}

	lines := make([]string, 0, len(filtered))
	for _, q := range filtered {
		lines = append(lines, fmt.Sprintf("%s: %s%% for the last 7 days", q.Symbol, q.PercentChange7d.StringFixed(2)))
	}
	return "Coins with potential:\n" + strings.Join(lines, "\n")
}

func (b *Bot) history(ctx context.Context) string {
	records, err := b.store.RecentHistory(ctx, HistoryLimit)
	if err != nil {
		zap.L().Error("❌ 查询历史记录失败", zap.Error(err))
		return "Failed to load history, please try again later."
	}
	if len(records) == 0 {
		return "No data available."
	}

	lines := make([]string, 0, len(records))
	for _, r := range records {
		lines = append(lines, fmt.Sprintf("%s: $%s, %s%% (as of %s)",
			r.Symbol,
			r.Price.StringFixed(2),
			r.PercentChange7d.StringFixed(2),
			r.Timestamp.Format("2006-01-02 15:04:05")))
	}
	return fmt.Sprintf("Top %d recent records:\n", HistoryLimit) + strings.Join(lines, "\n")
}

func (b *Bot) track(ctx context.Context, args []string) string {
	if len(args) == 0 {
		return "Usage: /track <symbol> [symbol...]"
	}

	added := make([]string, 0, len(args))
	for _, arg := range args {
		symbol := normalizeSymbol(arg)
		if symbol == "" {
			continue
		}
		if err := b.store.Track(ctx, symbol); err != nil {
			zap.L().Error("❌ 添加关注失败", zap.String("symbol", symbol), zap.Error(err))
			return fmt.Sprintf("Failed to track %s, please try again later.", symbol)
		}
		added = append(added, symbol)
	}
	if len(added) == 0 {
		return "Usage: /track <symbol> [symbol...]"
	}
	return "Tracking: " + strings.Join(added, ", ")
}

func (b *Bot) stopTracking(ctx context.Context, args []string) string {
	if len(args) != 1 || normalizeSymbol(args[0]) == "" {
		return "Usage: /stop_tracking <symbol>"
	}
	symbol := normalizeSymbol(args[0])
	if err := b.store.Untrack(ctx, symbol); err != nil {
		zap.L().Error("❌ 取消关注失败", zap.String("symbol", symbol), zap.Error(err))
		return fmt.Sprintf("Failed to stop tracking %s, please try again later.", symbol)
	}
	return "Stopped tracking " + symbol
}

func (b *Bot) tracked(ctx context.Context) string {
	symbols, err := b.store.TrackedSymbols(ctx)
	if err != nil {
		zap.L().Error("❌ 查询关注列表失败", zap.Error(err))
		return "Failed to load tracked coins, please try again later."
	}
	if len(symbols) == 0 {
		return "No coins are tracked."
	}
	return "Tracked coins: " + strings.Join(symbols, ", ")
}

// stopBot 清空关注列表，快照历史保留；进程由Run在回复之后停止
func (b *Bot) stopBot(ctx context.Context) string {
	if err := b.store.ClearWatchlist(ctx); err != nil {
		zap.L().Error("❌ 清空关注列表失败", zap.Error(err))
	}
	zap.L().Info("🛑 收到/stop_bot命令")
	return "Bot stopped. Tracked coins cleared."
}

func normalizeSymbol(s string) string {
	return strings.ToUpper(strings.Trim(strings.TrimSpace(s), ",$"))
}
