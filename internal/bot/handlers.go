package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"notice_hub/internal/model"
	"notice_hub/internal/storage"
)

var errNotRegistered = errors.New("chat not registered")

func (b *Bot) handleStart(ctx context.Context, chatID int64, name string) {
	if _, err := b.userFor(ctx, chatID); err == nil {
		b.reply(chatID, "This chat is already registered. Use /help to see what you can do.")
		return
	} else if !errors.Is(err, errNotRegistered) {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}

	u := &model.User{Name: name}
	if err := b.store.CreateUser(ctx, u); err != nil {
		b.reply(chatID, fmt.Sprintf("Failed to register: %v", err))
		return
	}
	d := &model.UserDevice{UserID: u.ID, PushToken: strconv.FormatInt(chatID, 10), Platform: model.PlatformTelegram}
	if err := b.store.CreateDevice(ctx, d); err != nil {
		b.reply(chatID, fmt.Sprintf("Failed to register: %v", err))
		return
	}
	b.log.Info("telegram chat registered", "chat_id", chatID, "user_id", u.ID)

	b.reply(chatID, `Welcome to Notice Hub!

Get alerts for exam, scholarship, result and admission notices.

Quick start:
1. /subscribe jee main, registration (keywords)
2. /subscribe -t scholarship (notice type)
3. /subscribe -e NEET -l delhi (exam and location)

Use /help for the full command reference.`)
}

func (b *Bot) handleHelp(chatID int64) {
	b.reply(chatID, `Alert rules:
/subscribe [flags] [keyword, keyword...] — add a rule
/rules — show your rules
/unsubscribe <n> — remove rule number n

Flags (repeatable, use _ for spaces):
-t exam|scholarship|result|admission|other — notice type
-e <exam> — exam name, e.g. -e JEE_Main
-l <location> — location, e.g. -l tamil_nadu
-m <1-10> — minimum source trust level

Every criterion you give must match; within one criterion any value is enough.

/sources — list monitored sources`)
}

func (b *Bot) handleSubscribe(ctx context.Context, chatID int64, args string) {
	userID, ok := b.requireUser(ctx, chatID)
	if !ok {
		return
	}

	parsed, err := ParseSubscribe(args)
	if err != nil {
		b.reply(chatID, err.Error())
		return
	}

	r := &model.AlertRule{
		UserID:        userID,
		Keywords:      parsed.Keywords,
		ExamNames:     parsed.ExamNames,
		Types:         parsed.Types,
		Locations:     parsed.Locations,
		MinTrustLevel: parsed.MinTrustLevel,
		Frequency:     model.FrequencyImmediate,
		IsActive:      true,
	}
	r.Name = FormatRule(*r)
	if err := b.store.CreateAlertRule(ctx, r); err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}

	b.reply(chatID, "Rule added: "+FormatRule(*r))
}

func (b *Bot) handleRules(ctx context.Context, chatID int64) {
	userID, ok := b.requireUser(ctx, chatID)
	if !ok {
		return
	}

	rules, err := b.store.ListRules(ctx, userID)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}

	msg := tgbotapi.NewMessage(chatID, FormatRuleList(rules))
	if len(rules) > 0 {
		var rows [][]tgbotapi.InlineKeyboardButton
		for i, r := range rules {
			rows = append(rows, tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("Remove %d", i+1), cbUnsubscribeConfirm+":"+r.ID),
			))
		}
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	}
	b.send(msg)
}

func (b *Bot) handleUnsubscribe(ctx context.Context, chatID int64, args string) {
	n, err := ParseIndexArg(args)
	if err != nil {
		b.reply(chatID, "Usage: /unsubscribe <n>")
		return
	}
	userID, ok := b.requireUser(ctx, chatID)
	if !ok {
		return
	}

	rules, err := b.store.ListRules(ctx, userID)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	if n > len(rules) {
		b.reply(chatID, fmt.Sprintf("Rule %d not found.", n))
		return
	}

	r := rules[n-1]
	if err := b.store.DeleteAlertRule(ctx, r.ID); err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, fmt.Sprintf("Rule %d removed: %s", n, FormatRule(r)))
}

func (b *Bot) removeRule(ctx context.Context, chatID int64, ruleID string) {
	userID, ok := b.requireUser(ctx, chatID)
	if !ok {
		return
	}

	r, err := b.store.GetAlertRule(ctx, ruleID)
	if err != nil || r.UserID != userID {
		b.reply(chatID, "Rule not found.")
		return
	}
	if err := b.store.DeleteAlertRule(ctx, r.ID); err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, "Rule removed: "+FormatRule(*r))
}

func (b *Bot) handleSources(ctx context.Context, chatID int64) {
	sources, err := b.store.ListActiveSources(ctx)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, FormatSourceList(sources))
}

// userFor resolves the user registered for a chat.
func (b *Bot) userFor(ctx context.Context, chatID int64) (string, error) {
	d, err := b.store.FindDevice(ctx, model.PlatformTelegram, strconv.FormatInt(chatID, 10))
	if errors.Is(err, storage.ErrNotFound) {
		return "", errNotRegistered
	}
	if err != nil {
		return "", err
	}
	return d.UserID, nil
}

func (b *Bot) requireUser(ctx context.Context, chatID int64) (string, bool) {
	userID, err := b.userFor(ctx, chatID)
	switch {
	case errors.Is(err, errNotRegistered):
		b.reply(chatID, "This chat is not registered yet. Send /start first.")
		return "", false
	case err != nil:
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return "", false
	}
	return userID, true
}
