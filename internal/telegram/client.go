package telegram

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// Client telegram-bot-api的薄封装，只用到sendMessage和getUpdates
type Client struct {
	api *tgbotapi.BotAPI
}

// contextClient 给每个请求挂上应用的生命周期ctx，退出时中断进行中的长轮询
type contextClient struct {
	client *http.Client
	ctx    context.Context
}

func (c *contextClient) Do(req *http.Request) (*http.Response, error) {
	return c.client.Do(req.WithContext(c.ctx))
}

// NewClient 创建客户端并调用getMe校验Token，apiURL形如 https://api.telegram.org
func NewClient(ctx context.Context, apiURL, token string, timeout time.Duration) (*Client, error) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	httpClient := &contextClient{
		client: &http.Client{Timeout: timeout},
		ctx:    ctx,
	}
	endpoint := strings.TrimRight(apiURL, "/") + "/bot%s/%s"

	api, err := tgbotapi.NewBotAPIWithClient(token, endpoint, httpClient)
	if err != nil {
		return nil, fmt.Errorf("连接Telegram失败: %w", err)
	}
	zap.L().Info("✅ Telegram机器人已连接", zap.String("username", api.Self.UserName))
	return &Client{api: api}, nil
}

// SendMessage 向chatID发送纯文本消息，chatID也可以是 @channel 形式
func (c *Client) SendMessage(ctx context.Context, chatID, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var msg tgbotapi.MessageConfig
	if id, err := strconv.ParseInt(chatID, 10, 64); err == nil {
		msg = tgbotapi.NewMessage(id, text)
	} else {
		msg = tgbotapi.NewMessageToChannel(chatID, text)
	}

	if _, err := c.api.Send(msg); err != nil {
		return fmt.Errorf("sendMessage失败: %w", err)
	}
	return nil
}

// GetUpdates 长轮询获取offset之后的新消息，timeout为0时立即返回
func (c *Client) GetUpdates(ctx context.Context, offset int, timeout time.Duration) ([]tgbotapi.Update, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cfg := tgbotapi.NewUpdate(offset)
	cfg.Timeout = int(timeout.Seconds())
	cfg.AllowedUpdates = []string{"message"}

	updates, err := c.api.GetUpdates(cfg)
	if err != nil {
		return nil, fmt.Errorf("getUpdates失败: %w", err)
	}
	return updates, nil
}
