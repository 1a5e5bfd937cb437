// Package alert delivers operational alerts that need a human, such as
// a payment landing after its hold expired.
package alert

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// Notifier pushes a message to the on-call channel.
type Notifier interface {
	Notify(ctx context.Context, message string) error
}

// TelegramNotifier sends alerts to a staff chat.
type TelegramNotifier struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	logger *zerolog.Logger
}

func NewTelegramNotifier(token string, chatID int64, logger *zerolog.Logger) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	return &TelegramNotifier{bot: bot, chatID: chatID, logger: logger}, nil
}

func (n *TelegramNotifier) Notify(ctx context.Context, message string) error {
	msg := tgbotapi.NewMessage(n.chatID, message)
	if _, err := n.bot.Send(msg); err != nil {
		n.logger.Error().Err(err).Msg("failed to send alert")
		return err
	}
	return nil
}

// Nop discards alerts; used when no channel is configured.
type Nop struct{}

func (Nop) Notify(ctx context.Context, message string) error { return nil }
