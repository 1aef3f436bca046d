// Package bot implements the Telegram bot subscribers use to register their
// chat and manage alert rules.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"notice_hub/internal/model"
)

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Store is the persistence the bot needs.
type Store interface {
	CreateUser(ctx context.Context, u *model.User) error
	CreateDevice(ctx context.Context, d *model.UserDevice) error
	FindDevice(ctx context.Context, platform model.Platform, token string) (*model.UserDevice, error)
	CreateAlertRule(ctx context.Context, r *model.AlertRule) error
	ListRules(ctx context.Context, userID string) ([]model.AlertRule, error)
	GetAlertRule(ctx context.Context, id string) (*model.AlertRule, error)
	DeleteAlertRule(ctx context.Context, id string) error
	ListActiveSources(ctx context.Context) ([]model.Source, error)
}

// Bot answers subscriber commands.
type Bot struct {
	api   telegramAPI
	store Store
	log   *slog.Logger
}

// New creates a Bot with the given Telegram token and storage.
func New(token string, store Store, log *slog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}

	return &Bot{
		api:   api,
		store: store,
		log:   log,
	}, nil
}

// Run starts the bot's long-polling loop, blocking until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update := <-updates:
			if update.CallbackQuery != nil {
				b.handleCallback(ctx, update.CallbackQuery)
				continue
			}
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}
			b.handleCommand(ctx, update.Message)
		}
	}
}

func (b *Bot) reply(chatID int64, text string) {
	b.send(tgbotapi.NewMessage(chatID, text))
}

func (b *Bot) send(msg tgbotapi.MessageConfig) {
	msg.DisableWebPagePreview = true
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send message", "chat_id", msg.ChatID, "error", err)
	}
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	cmd := msg.Command()
	args := strings.TrimSpace(msg.CommandArguments())
	chatID := msg.Chat.ID

	b.log.Debug("command", "cmd", cmd, "args", args, "chat_id", chatID)

	switch cmd {
	case "start":
		b.handleStart(ctx, chatID, displayName(msg.From, chatID))
	case "help":
		b.handleHelp(chatID)
	case cmdSubscribe:
		b.handleSubscribe(ctx, chatID, args)
	case cmdRules:
		b.handleRules(ctx, chatID)
	case cmdUnsubscribe:
		b.handleUnsubscribe(ctx, chatID, args)
	case "sources":
		b.handleSources(ctx, chatID)
	default:
		b.reply(chatID, "Unknown command. Use /help for a list of commands.")
	}
}

func displayName(u *tgbotapi.User, chatID int64) string {
	if u != nil {
		if u.UserName != "" {
			return "@" + u.UserName
		}
		if name := strings.TrimSpace(u.FirstName + " " + u.LastName); name != "" {
			return name
		}
	}
	return fmt.Sprintf("telegram:%d", chatID)
}
