package qrlogin

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/wallet-bot/internal/common"
	"serotonyl.ru/wallet-bot/internal/notify"
)

// Handler обрабатывает /qr и кнопку отмены.
type Handler struct {
	coord    *Coordinator
	notifier notify.Notifier
}

// NewHandler создаёт обработчик QR-команд.
func NewHandler(coord *Coordinator, notifier notify.Notifier) *Handler {
	return &Handler{coord: coord, notifier: notifier}
}

// HandleQR создаёт сессию и отправляет QR-код с кнопкой отмены.
func (h *Handler) HandleQR(ctx context.Context, chatID, userID int64, username string) {
	s, err := h.coord.Create(ctx, userID, chatID, username)
	switch {
	case IsBanned(err):
		h.notifier.Send(ctx, chatID, "🚫 Аккаунт заблокирован")
		return
	case err != nil:
		log.WithError(err).WithField("user_id", userID).Warn("[QR] Сессия не создана")
		h.notifier.Send(ctx, chatID, "❌ Сервис QR-входа недоступен, попробуйте позже")
		return
	}

	caption := fmt.Sprintf(
		"📱 Отсканируйте QR-код в приложении\n⏰ Код действует %s\n💸 Плата после входа: %s",
		h.coord.opts.Timeout, common.FormatMoney(h.coord.opts.Fee),
	)
	h.notifier.SendPhoto(ctx, chatID, s.Payload, caption, notify.Button{
		Text: "❌ Отменить",
		Data: CancelPrefix + s.ID,
	})
}

// HandleCancel отменяет сессию. Чужую сессию отменить нельзя.
func (h *Handler) HandleCancel(ctx context.Context, chatID, userID int64, data string) {
	id, ok := ParseCancelData(data)
	if !ok {
		return
	}
	if s, found := h.coord.Lookup(id); found && s.UserID != userID {
		log.WithFields(log.Fields{
			"user_id":    userID,
			"session_id": id,
		}).Warn("[QR] Попытка отменить чужую сессию")
		return
	}
	h.coord.Cancel(id)
	h.notifier.Send(ctx, chatID, "❌ Отменено\nОтправьте /qr, чтобы получить новый код")
}
