package notify

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"notice_hub/internal/model"
)

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram delivers to chats through a bot. The device push token is the
// numeric chat ID.
type Telegram struct {
	api telegramAPI
}

// NewTelegram creates a Telegram channel with the given bot token.
func NewTelegram(token string) (*Telegram, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	return &Telegram{api: api}, nil
}

// Name implements Channel.
func (t *Telegram) Name() string { return "telegram" }

// Send implements Channel.
func (t *Telegram) Send(ctx context.Context, device model.UserDevice, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	chatID, err := strconv.ParseInt(strings.TrimSpace(device.PushToken), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat id %q: %w", device.PushToken, err)
	}

	m := tgbotapi.NewMessage(chatID, FormatTelegram(msg))
	m.DisableWebPagePreview = true
	if _, err := t.api.Send(m); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// FormatTelegram renders a message as plain Telegram text.
func FormatTelegram(msg Message) string {
	var b strings.Builder
	if typ := msg.Data["type"]; typ != "" {
		fmt.Fprintf(&b, "[%s]\n\n", typ)
	}
	b.WriteString(msg.Title)
	if msg.Body != "" && msg.Body != msg.Title {
		b.WriteString("\n\n")
		b.WriteString(msg.Body)
	}
	if msg.URL != "" {
		b.WriteString("\n\n")
		b.WriteString(msg.URL)
	}
	return b.String()
}
