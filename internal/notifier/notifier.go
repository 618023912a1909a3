package notifier

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"cmc-drop-sentry/pkg/metrics"
	"cmc-drop-sentry/pkg/types"
)

// Interface 通知接口
type Interface interface {
	SendAlert(ctx context.Context, alert *types.DropAlert) error
}

// Sender Telegram发送原语
type Sender interface {
	SendMessage(ctx context.Context, chatID, text string) error
}

// FormatAlert 单行预警文案
func FormatAlert(alert *types.DropAlert) string {
	return fmt.Sprintf("⚠️ %s dropped more than 5%%! Current price: $%s", alert.Symbol, alert.Price.StringFixed(2))
}

// Notify 逐个发送预警，单个失败只记录日志，不影响其余币种
func Notify(ctx context.Context, n Interface, alerts []types.DropAlert) int {
	sent := 0
	for i := range alerts {
		alert := &alerts[i]
		if err := n.SendAlert(ctx, alert); err != nil {
			metrics.NotifyErrors.Inc()
			zap.L().Error("❌ 发送预警失败", zap.String("symbol", alert.Symbol), zap.Error(err))
			continue
		}
		sent++
	}
	return sent
}

// TelegramNotifier 向固定的chat发送预警
type TelegramNotifier struct {
	sender Sender
	chatID string
}

func NewTelegramNotifier(sender Sender, chatID string) *TelegramNotifier {
	zap.L().Info("✅ 已配置Telegram通知服务", zap.String("chat_id", chatID))
	return &TelegramNotifier{sender: sender, chatID: chatID}
}

func (tn *TelegramNotifier) SendAlert(ctx context.Context, alert *types.DropAlert) error {
	if err := tn.sender.SendMessage(ctx, tn.chatID, FormatAlert(alert)); err != nil {
		return fmt.Errorf("telegram推送%s失败: %w", alert.Symbol, err)
	}
	zap.L().Info("✅ Telegram预警已发送",
		zap.String("symbol", alert.Symbol),
		zap.String("price", alert.Price.String()))
	return nil
}

// ConsoleNotifier 控制台通知器，未配置接收方时使用
type ConsoleNotifier struct {
	out io.Writer
}

func NewConsoleNotifier() *ConsoleNotifier {
	zap.L().Info("🔧 未配置TELEGRAM_CHAT_ID，使用控制台输出模式")
	return &ConsoleNotifier{out: os.Stdout}
}

func (cn *ConsoleNotifier) SendAlert(_ context.Context, alert *types.DropAlert) error {
	// 生成漂亮的控制台输出
	cn.printAlert(alert)
	return nil
}

func (cn *ConsoleNotifier) printAlert(alert *types.DropAlert) {
	const width = 60
	border := "╔" + strings.Repeat("═", width) + "╗"
	bottomBorder := "╚" + strings.Repeat("═", width) + "╝"

	lines := []string{
		"📉 🚨 跌幅预警触发！",
		"",
		"交易对: " + alert.Symbol,
		"当前价格: $" + alert.Price.StringFixed(6),
		"上次记录价格: $" + alert.PastPrice.StringFixed(6),
		"跌幅: " + alert.ChangePercent().StringFixed(2) + "%",
		"预警时间: " + alert.AlertTime.Format("2006-01-02 15:04:05"),
	}

	fmt.Fprintln(cn.out)
	fmt.Fprintln(cn.out, border)
	for _, line := range lines {
		fmt.Fprintf(cn.out, "║ %s%s ║\n", line, strings.Repeat(" ", safePadding(line, width)))
	}
	fmt.Fprintln(cn.out, bottomBorder)
	fmt.Fprintln(cn.out)
}

// safePadding 安全地计算填充空格数量，避免负数
func safePadding(content string, totalWidth int) int {
	// 使用utf8.RuneCountInString计算实际显示字符数，而不是字节数
	padding := totalWidth - utf8.RuneCountInString(content) - 2
	if padding < 0 {
		padding = 0
	}
	return padding
}
