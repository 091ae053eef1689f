package broadcast

import (
	"context"
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/wallet-bot/internal/common"
	"serotonyl.ru/wallet-bot/internal/notify"
)

// Handler — команда /broadcast для админа.
type Handler struct {
	service  *Service
	notifier notify.Notifier
}

// NewHandler создаёт обработчик рассылки.
func NewHandler(service *Service, notifier notify.Notifier) *Handler {
	return &Handler{service: service, notifier: notifier}
}

// HandleBroadcast запускает рассылку в фоне и присылает админу отчёт.
func (h *Handler) HandleBroadcast(ctx context.Context, chatID int64, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		h.notifier.Send(ctx, chatID, "Использование: /broadcast <текст>")
		return
	}

	// рассылка длиннее жизни апдейта
	bgCtx := context.WithoutCancel(ctx)
	go func() {
		res, err := h.service.Send(bgCtx, text, true)
		switch {
		case errors.Is(err, common.ErrBroadcastInProgress):
			h.notifier.Send(bgCtx, chatID, "⏳ Рассылка уже идёт")
		case errors.Is(err, common.ErrBroadcastCooldown):
			h.notifier.Send(bgCtx, chatID, "⏳ Слишком часто, подождите минуту")
		case err != nil:
			log.WithError(err).Error("[BROADCAST] Ошибка рассылки")
			h.notifier.Send(bgCtx, chatID, "❌ Не удалось получить список пользователей")
		default:
			h.notifier.Send(bgCtx, chatID, fmt.Sprintf(
				"📣 Рассылка завершена\n✅ Доставлено: %d\n❌ Ошибок: %d\n👥 Всего: %d",
				res.Sent, res.Failed, res.Total,
			))
		}
	}()
}
