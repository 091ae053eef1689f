// Package wallet — handlers.go обрабатывает команды /balance, /gift, /toolpass.
package wallet

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/wallet-bot/internal/common"
	"serotonyl.ru/wallet-bot/internal/notify"
)

// Handler обрабатывает команды кошелька.
type Handler struct {
	service  *Service
	notifier notify.Notifier
}

// NewHandler создаёт обработчик команд кошелька.
func NewHandler(service *Service, notifier notify.Notifier) *Handler {
	return &Handler{service: service, notifier: notifier}
}

// HandleBalance показывает текущий баланс.
func (h *Handler) HandleBalance(ctx context.Context, chatID, userID int64) {
	balance, err := h.service.ReadBalance(ctx, userID)
	if err != nil {
		log.WithError(err).WithField("user_id", userID).Error("Ошибка чтения баланса")
		h.notifier.Send(ctx, chatID, "❌ Не удалось получить баланс, попробуйте позже")
		return
	}
	h.notifier.Send(ctx, chatID, fmt.Sprintf("💼 Ваш баланс: %s", common.FormatMoney(balance)))
}

// HandleGift выдаёт подарок за активацию.
func (h *Handler) HandleGift(ctx context.Context, chatID, userID int64, username string) {
	balance, err := h.service.ClaimGift(ctx, userID, username)
	switch {
	case errors.Is(err, common.ErrAlreadyActive):
		h.notifier.Send(ctx, chatID, "ℹ️ Подарок уже получен")
	case errors.Is(err, common.ErrGiftNotAllowed):
		h.notifier.Send(ctx, chatID, "⛔ Подарок недоступен для этого аккаунта")
	case err != nil:
		log.WithError(err).WithField("user_id", userID).Error("Ошибка выдачи подарка")
		h.notifier.Send(ctx, chatID, "❌ Не удалось выдать подарок, попробуйте позже")
	default:
		h.notifier.Send(ctx, chatID, fmt.Sprintf(
			"🎁 Аккаунт активирован!\n💰 Подарок: %s\n💼 Баланс: %s",
			common.FormatMoney(h.service.giftAmount), common.FormatMoney(balance),
		))
	}
}

// HandleToolPass выдаёт новый пароль для клиента на ПК.
func (h *Handler) HandleToolPass(ctx context.Context, chatID, userID int64, username string) {
	plain, err := h.service.RegenerateToolPassword(ctx, userID, username)
	if err != nil {
		log.WithError(err).WithField("user_id", userID).Error("Ошибка генерации пароля")
		h.notifier.Send(ctx, chatID, "❌ Не удалось создать пароль")
		return
	}
	h.notifier.Send(ctx, chatID, fmt.Sprintf(
		"🔑 Новый пароль для клиента: %s\nID: %d\nСтарый пароль больше не действует.",
		plain, userID,
	))
}
