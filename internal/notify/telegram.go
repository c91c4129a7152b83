package notify

import (
	"context"
	"fmt"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
	log "github.com/sirupsen/logrus"
)

// TelegramSender отправляет уведомления в служебный чат магазина.
type TelegramSender struct {
	bot    *telego.Bot
	chatID int64
}

// NewTelegramSender создаёт отправителя по токену бота и id чата.
// Сеть не трогает: токен проверяется только по формату.
func NewTelegramSender(token string, chatID int64, debug bool) (*TelegramSender, error) {
	opts := []telego.BotOption{telego.WithDiscardLogger()}
	if debug {
		opts = []telego.BotOption{telego.WithDefaultDebugLogger()}
	}

	bot, err := telego.NewBot(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания Telegram-бота: %w", err)
	}
	return &TelegramSender{bot: bot, chatID: chatID}, nil
}

// Send отправляет HTML-сообщение в чат.
func (t *TelegramSender) Send(ctx context.Context, text string) error {
	msg := tu.Message(tu.ID(t.chatID), text).WithParseMode(telego.ModeHTML)
	if _, err := t.bot.SendMessage(ctx, msg); err != nil {
		return fmt.Errorf("ошибка отправки в Telegram: %w", err)
	}
	log.WithField("chat_id", t.chatID).Debug("Сообщение отправлено в Telegram")
	return nil
}
