package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"alert-trader/internal/config"
)

// WebhookChannel posts notifications as JSON to a URL.
type WebhookChannel struct {
	url     string
	enabled bool
	client  *http.Client
}

// NewWebhookChannel creates a new WebhookChannel.
func NewWebhookChannel(cfg config.WebhookConfig) *WebhookChannel {
	return &WebhookChannel{
		url:     cfg.URL,
		enabled: cfg.Enabled && cfg.URL != "",
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Name returns the name of the channel.
func (w *WebhookChannel) Name() string {
	return "webhook"
}

// IsEnabled returns whether the channel is enabled.
func (w *WebhookChannel) IsEnabled() bool {
	return w.enabled
}

// Send sends a notification via webhook.
func (w *WebhookChannel) Send(ctx context.Context, n Notification) error {
	if !w.enabled {
		return nil
	}

	body, err := json.Marshal(map[string]interface{}{
		"type":      n.Type,
		"message":   n.Message,
		"timestamp": n.Timestamp.Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("marshaling webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating webhook request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "AlertTrader/1.0")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return nil
}

// TelegramChannel sends notifications to one or more Telegram chats.
type TelegramChannel struct {
	bot     *tgbot.BotAPI
	chatIDs []int64
}

// NewTelegramChannel connects the bot and parses the chat ids.
func NewTelegramChannel(cfg config.TelegramConfig) (*TelegramChannel, error) {
	return newTelegramChannel(cfg, tgbot.APIEndpoint)
}

func newTelegramChannel(cfg config.TelegramConfig, endpoint string) (*TelegramChannel, error) {
	ids := make([]int64, 0, len(cfg.ChatIDs))
	for _, s := range cfg.ChatIDs {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid telegram chat id %q: %w", s, err)
		}
		ids = append(ids, id)
	}

	bot, err := tgbot.NewBotAPIWithAPIEndpoint(cfg.BotToken, endpoint)
	if err != nil {
		return nil, fmt.Errorf("connecting telegram bot: %w", err)
	}
	return &TelegramChannel{bot: bot, chatIDs: ids}, nil
}

// Name returns the name of the channel.
func (t *TelegramChannel) Name() string {
	return "telegram"
}

// IsEnabled returns whether the channel is enabled.
func (t *TelegramChannel) IsEnabled() bool {
	return t.bot != nil && len(t.chatIDs) > 0
}

// Send delivers the message to every chat; the first failure is returned
// after all chats were attempted.
func (t *TelegramChannel) Send(ctx context.Context, n Notification) error {
	var firstErr error
	for _, id := range t.chatIDs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := t.bot.Send(tgbot.NewMessage(id, n.Text())); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("sending telegram message to %d: %w", id, err)
		}
	}
	return firstErr
}
