// Package notify отправляет сообщения пользователям и админу.
// Ошибки отправки логируются и не повторяются: уведомление best-effort.
package notify

import (
	"bytes"
	"context"
	"fmt"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
	log "github.com/sirupsen/logrus"
)

// Button — inline-кнопка под сообщением.
type Button struct {
	Text string
	Data string
}

// Notifier — всё, что ядро знает о транспорте.
type Notifier interface {
	Send(ctx context.Context, chatID int64, text string, buttons ...Button) error
	SendPhoto(ctx context.Context, chatID int64, image []byte, caption string, buttons ...Button) error
}

// Telegram — Notifier поверх telego.
type Telegram struct {
	bot *telego.Bot
}

// NewTelegram создаёт отправителя сообщений.
func NewTelegram(bot *telego.Bot) *Telegram {
	return &Telegram{bot: bot}
}

// Send отправляет текстовое сообщение.
func (t *Telegram) Send(ctx context.Context, chatID int64, text string, buttons ...Button) error {
	params := tu.Message(tu.ID(chatID), text)
	if kb := keyboard(buttons); kb != nil {
		params = params.WithReplyMarkup(kb)
	}
	if _, err := t.bot.SendMessage(ctx, params); err != nil {
		log.WithError(err).WithField("chat_id", chatID).Warn("Не удалось отправить сообщение")
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// SendPhoto отправляет PNG (например, QR-код) с подписью.
func (t *Telegram) SendPhoto(ctx context.Context, chatID int64, image []byte, caption string, buttons ...Button) error {
	params := tu.Photo(tu.ID(chatID), tu.File(tu.NameReader(bytes.NewReader(image), "qr.png"))).
		WithCaption(caption)
	if kb := keyboard(buttons); kb != nil {
		params = params.WithReplyMarkup(kb)
	}
	if _, err := t.bot.SendPhoto(ctx, params); err != nil {
		log.WithError(err).WithField("chat_id", chatID).Warn("Не удалось отправить фото")
		return fmt.Errorf("send photo: %w", err)
	}
	return nil
}

func keyboard(buttons []Button) *telego.InlineKeyboardMarkup {
	if len(buttons) == 0 {
		return nil
	}
	row := make([]telego.InlineKeyboardButton, 0, len(buttons))
	for _, b := range buttons {
		row = append(row, tu.InlineKeyboardButton(b.Text).WithCallbackData(b.Data))
	}
	return tu.InlineKeyboard(row)
}
