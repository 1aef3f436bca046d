package bot

import (
	"context"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	cmdSubscribe   = "subscribe"
	cmdRules       = "rules"
	cmdUnsubscribe = "unsubscribe"

	cbUnsubscribeConfirm = "unsub_confirm"
	cbUnsubscribe        = "unsub"
	cbNoop               = "noop"
)

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	if cb.Message == nil || cb.Message.Chat == nil {
		return
	}
	chatID := cb.Message.Chat.ID

	callback := tgbotapi.NewCallback(cb.ID, "")
	if _, err := b.api.Send(callback); err != nil {
		b.log.Error("send callback ack", "error", err)
	}

	action, ruleID, ok := strings.Cut(cb.Data, ":")
	if !ok || ruleID == "" {
		return
	}

	b.log.Info("callback", "action", action, "rule_id", ruleID, "chat_id", chatID)

	switch action {
	case cbUnsubscribeConfirm:
		userID, ok := b.requireUser(ctx, chatID)
		if !ok {
			return
		}
		r, err := b.store.GetAlertRule(ctx, ruleID)
		if err != nil || r.UserID != userID {
			b.reply(chatID, "Rule not found.")
			return
		}
		msg := tgbotapi.NewMessage(chatID, "Remove rule \""+FormatRule(*r)+"\"?")
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("Yes, remove", cbUnsubscribe+":"+r.ID),
				tgbotapi.NewInlineKeyboardButtonData("Cancel", cbNoop+":0"),
			),
		)
		b.send(msg)
	case cbUnsubscribe:
		b.removeRule(ctx, chatID, ruleID)
	}
}
