// Package middleware — обвязка обработки апдейтов: логирование, восстановление
// после паники, паузы между действиями и отсев повторных апдейтов.
package middleware

import (
	"github.com/mymmrac/telego"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/wallet-bot/internal/common"
)

// LogUpdate логирует входящее сообщение или нажатие кнопки.
// Текст обрезается до 50 символов.
func LogUpdate(update telego.Update) {
	switch {
	case update.Message != nil && update.Message.From != nil:
		m := update.Message
		log.WithFields(log.Fields{
			"update_id": update.UpdateID,
			"user_id":   m.From.ID,
			"chat_id":   m.Chat.ID,
			"username":  m.From.Username,
			"text":      common.Truncate(m.Text, 50),
		}).Debug("Входящее сообщение")
	case update.CallbackQuery != nil:
		cb := update.CallbackQuery
		log.WithFields(log.Fields{
			"update_id": update.UpdateID,
			"user_id":   cb.From.ID,
			"username":  cb.From.Username,
			"data":      cb.Data,
		}).Debug("Нажатие кнопки")
	}
}
