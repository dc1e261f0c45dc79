package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

type botSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier posts to a chat id taken from the message address.
type TelegramNotifier struct {
	bot    botSender
	logger *zerolog.Logger
}

func NewTelegramNotifier(token string, debug bool, logger *zerolog.Logger) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	bot.Debug = debug
	logger.Info().Str("bot", bot.Self.UserName).Msg("Telegram notifier authorized")
	return &TelegramNotifier{bot: bot, logger: logger}, nil
}

func (t *TelegramNotifier) Notify(ctx context.Context, msg Message) error {
	chatID, err := strconv.ParseInt(msg.Address, 10, 64)
	if err != nil {
		return fmt.Errorf("chat id %q: %w", msg.Address, ErrUndeliverable)
	}

	subject, body, err := Render(msg)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	out := tgbotapi.NewMessage(chatID, subject+"\n\n"+body)
	if _, err := t.bot.Send(out); err != nil {
		var tgErr *tgbotapi.Error
		if errors.As(err, &tgErr) {
			switch tgErr.Code {
			case http.StatusForbidden, http.StatusBadRequest:
				return fmt.Errorf("telegram %d: %s: %w", tgErr.Code, tgErr.Message, ErrUndeliverable)
			}
		}
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}
