package shop

import (
	"context"
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/wallet-bot/internal/common"
	"serotonyl.ru/wallet-bot/internal/notify"
)

var outcomeText = map[Outcome]string{
	OutcomeAlreadyRedeemed: "уже сохранён ранее",
	OutcomeNotEligible:     "аккаунт не подходит",
	OutcomeTransient:       "временная ошибка",
}

// Handler обрабатывает /vouchers и /buy.
type Handler struct {
	service  *Service
	notifier notify.Notifier
}

// NewHandler создаёт обработчик магазина.
func NewHandler(service *Service, notifier notify.Notifier) *Handler {
	return &Handler{service: service, notifier: notifier}
}

// HandleCatalogue показывает доступные ваучеры.
func (h *Handler) HandleCatalogue(ctx context.Context, chatID int64) {
	items, err := h.service.Catalogue(ctx)
	if err != nil {
		log.WithError(err).Error("[SHOP] Каталог недоступен")
		h.notifier.Send(ctx, chatID, "❌ Каталог временно недоступен")
		return
	}
	if len(items) == 0 {
		h.notifier.Send(ctx, chatID, "🛒 Сейчас ваучеров нет")
		return
	}

	var b strings.Builder
	b.WriteString("🛒 Ваучеры:\n\n")
	for _, it := range items {
		mark := "✅"
		if !it.Available {
			mark = "❌"
		}
		fmt.Fprintf(&b, "%s %s — %s (/buy %s)\n", mark, it.Name, common.FormatMoney(it.Price), it.Key)
	}
	b.WriteString("\nCookie аккаунтов пишите строками после команды.")
	h.notifier.Send(ctx, chatID, b.String())
}

// HandleBuy разбирает "/buy <ключ>" и строки cookie под командой.
func (h *Handler) HandleBuy(ctx context.Context, chatID, userID int64, args string) {
	first, rest, _ := strings.Cut(args, "\n")
	key := strings.TrimSpace(first)
	if key == "" {
		h.notifier.Send(ctx, chatID, "Использование: /buy <ваучер>\nSPC_ST=...\nSPC_ST=...")
		return
	}

	receipt, err := h.service.Purchase(ctx, userID, key, ParseCredentials(rest))
	switch {
	case errors.Is(err, common.ErrBanned):
		h.notifier.Send(ctx, chatID, "🚫 Аккаунт заблокирован")
	case errors.Is(err, common.ErrNotActivated):
		h.notifier.Send(ctx, chatID, "ℹ️ Сначала активируйте аккаунт: /gift")
	case errors.Is(err, common.ErrNoCredentials):
		h.notifier.Send(ctx, chatID, "ℹ️ Добавьте cookie строками после команды или войдите через /qr")
	case errors.Is(err, common.ErrTooManyCredentials):
		h.notifier.Send(ctx, chatID, fmt.Sprintf("⚠️ Не больше %d аккаунтов за раз", h.service.maxCreds))
	case errors.Is(err, common.ErrItemNotFound):
		h.notifier.Send(ctx, chatID, "❌ Ваучер не найден")
	case errors.Is(err, common.ErrOutOfStock):
		h.notifier.Send(ctx, chatID, "❌ Ваучер закончился")
	case errors.Is(err, common.ErrInsufficientBalance):
		h.notifier.Send(ctx, chatID, fmt.Sprintf(
			"❌ Недостаточно средств\n💰 Нужно: %s\n💼 Баланс: %s",
			common.FormatMoney(receipt.Charged), common.FormatMoney(receipt.Balance),
		))
	case err != nil:
		log.WithError(err).WithField("user_id", userID).Error("[SHOP] Ошибка покупки")
		h.notifier.Send(ctx, chatID, "❌ Ошибка покупки, обратитесь к админу")
	default:
		h.notifier.Send(ctx, chatID, receiptText(receipt))
	}
}

func receiptText(r Receipt) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🎟 Сохранено: %d\n", r.Saved)
	if r.Failed > 0 {
		fmt.Fprintf(&b, "❌ Не удалось: %d\n", r.Failed)
		for _, f := range r.Failures {
			fmt.Fprintf(&b, "  • #%d %s: %s\n", f.Credential, f.Item, outcomeText[f.Outcome])
		}
	}
	fmt.Fprintf(&b, "💸 Списано: %s\n", common.FormatMoney(r.Charged-r.Refunded))
	if r.Refunded > 0 {
		fmt.Fprintf(&b, "↩️ Возвращено: %s\n", common.FormatMoney(r.Refunded))
	}
	fmt.Fprintf(&b, "💼 Баланс: %s", common.FormatMoney(r.Balance))
	return b.String()
}
