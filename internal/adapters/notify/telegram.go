package notify

import (
	"context"
	"errors"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/okian/standings/internal/domain/model"
)

// ErrNoChat is returned when the Telegram chat id is not set.
var ErrNoChat = errors.New("telegram chat id not set")

// Sender is the part of the bot API the notifier uses.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram posts escalations to one chat.
type Telegram struct {
	bot    Sender
	chatID int64
}

// NewTelegram authorizes a bot with token.
func NewTelegram(token string, chatID int64) (*Telegram, error) {
	if chatID == 0 {
		return nil, ErrNoChat
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return NewTelegramWithSender(bot, chatID), nil
}

// NewTelegramWithSender builds the notifier over an existing sender.
func NewTelegramWithSender(bot Sender, chatID int64) *Telegram {
	return &Telegram{bot: bot, chatID: chatID}
}

func (t *Telegram) Notify(ctx context.Context, job model.Job) error {
	if t.chatID == 0 {
		return ErrNoChat
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(t.chatID, Message(job))
	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("send telegram escalation: %w", err)
	}
	return nil
}
