package sms

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramSender relays messages to an operator chat instead of a phone;
// staff forward them by hand when no SMS contract is available.
type TelegramSender struct {
	bot    telegramAPI
	chatID int64
}

func NewTelegramSender(token string, chatID int64) (*TelegramSender, error) {
	b, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	b.Debug = false
	return &TelegramSender{bot: b, chatID: chatID}, nil
}

func (t *TelegramSender) Name() string { return "telegram" }

func (t *TelegramSender) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m := tgbotapi.NewMessage(t.chatID, fmt.Sprintf("📱 %s\n%s", msg.Phone, msg.Message))
	m.DisableWebPagePreview = true
	_, err := t.bot.Send(m)
	return err
}
