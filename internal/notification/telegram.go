package notification

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
)

// TelegramNotifier sends alerts through a Telegram bot. The bot is created
// on the first Send, so a bad token surfaces as a send error, not at startup.
type TelegramNotifier struct {
	botToken string
	chatID   string
	endpoint string // tgbot endpoint format, "<base>/bot%s/%s"
	client   *http.Client

	mu  sync.Mutex
	bot *tgbot.BotAPI
}

// NewTelegramNotifier creates a Telegram notifier.
// botToken: Bot API token from @BotFather
// chatID: numeric chat/group ID or "@channel" username
func NewTelegramNotifier(botToken, chatID string) *TelegramNotifier {
	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		endpoint: tgbot.APIEndpoint,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Format renders an alert as a MarkdownV2 message.
func Format(alert Alert) string {
	alert = alert.Normalize()
	emoji := "ℹ️"
	switch alert.Level {
	case AlertWarning:
		emoji = "⚠️"
	case AlertCritical:
		emoji = "🚨"
	}
	body := alert.Message
	if alert.Date != "" {
		body = fmt.Sprintf("%s\n%s: %.2f", body, alert.Date, alert.Value)
	}
	return fmt.Sprintf("%s *%s*\n\n%s", emoji, escapeMarkdown(alert.Title), escapeMarkdown(body))
}

func (t *TelegramNotifier) api() (*tgbot.BotAPI, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.bot != nil {
		return t.bot, nil
	}
	bot, err := tgbot.NewBotAPIWithClient(t.botToken, t.endpoint, t.client)
	if err != nil {
		return nil, errors.Wrap(err, "telegram: connect bot")
	}
	t.bot = bot
	return bot, nil
}

func (t *TelegramNotifier) message(text string) tgbot.MessageConfig {
	var msg tgbot.MessageConfig
	if id, err := strconv.ParseInt(t.chatID, 10, 64); err == nil {
		msg = tgbot.NewMessage(id, text)
	} else {
		msg = tgbot.NewMessageToChannel(t.chatID, text)
	}
	msg.ParseMode = tgbot.ModeMarkdownV2
	return msg
}

// Send posts the formatted alert. The bot API has no context support, so
// ctx is only checked before sending.
func (t *TelegramNotifier) Send(ctx context.Context, alert Alert) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	bot, err := t.api()
	if err != nil {
		return err
	}
	if _, err := bot.Send(t.message(Format(alert))); err != nil {
		return errors.Wrap(err, "telegram: send")
	}
	return nil
}

// escapeMarkdown escapes special characters for Telegram MarkdownV2.
func escapeMarkdown(s string) string {
	specials := []byte{'_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!'}
	var buf bytes.Buffer
	for i := 0; i < len(s); i++ {
		for _, sp := range specials {
			if s[i] == sp {
				buf.WriteByte('\\')
				break
			}
		}
		buf.WriteByte(s[i])
	}
	return buf.String()
}
