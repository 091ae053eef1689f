// Package filters решает, какие апдейты бот вообще обрабатывает.
package filters

import (
	"github.com/mymmrac/telego"
	log "github.com/sirupsen/logrus"
)

// ChatFilter пропускает только личные сообщения от пользователей.
// Кошелёк привязан к аккаунту, групповые чаты игнорируются.
type ChatFilter struct {
	botID int64
}

// NewChatFilter создаёт фильтр. botID нужен, чтобы не отвечать самому себе.
func NewChatFilter(botID int64) *ChatFilter {
	return &ChatFilter{botID: botID}
}

// CheckMessage — можно ли обрабатывать сообщение.
func (f *ChatFilter) CheckMessage(message *telego.Message) bool {
	if message == nil {
		return false
	}
	if message.From == nil {
		log.WithFields(log.Fields{
			"component": "ChatFilter",
			"chat_id":   message.Chat.ID,
			"chat_type": message.Chat.Type,
		}).Debug("nil message.From (service/channel message?)")
		return false
	}
	if message.From.IsBot || message.From.ID == f.botID {
		return false
	}
	if message.Chat.Type != telego.ChatTypePrivate {
		log.WithFields(log.Fields{
			"component": "ChatFilter",
			"chat_id":   message.Chat.ID,
			"chat_type": message.Chat.Type,
		}).Debug("Сообщение не из личного чата, пропускаем")
		return false
	}
	return true
}

// CheckCallback — можно ли обрабатывать нажатие кнопки.
func (f *ChatFilter) CheckCallback(cb *telego.CallbackQuery) bool {
	return cb != nil && !cb.From.IsBot && cb.Data != ""
}
