package report

import (
	"context"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/wallet-bot/internal/notify"
)

// Reporter — то, что нужно командам отчётов.
type Reporter interface {
	Daily(ctx context.Context, day time.Time) (DailyStats, error)
	Today() time.Time
	Location() *time.Location
}

// Handler — админские /tongket и /stats.
type Handler struct {
	reporter Reporter
	notifier notify.Notifier
	gauges   []Gauge
}

// NewHandler создаёт обработчик отчётов.
func NewHandler(reporter Reporter, notifier notify.Notifier, gauges ...Gauge) *Handler {
	return &Handler{reporter: reporter, notifier: notifier, gauges: gauges}
}

var dayLayouts = []string{"2006-01-02", "02.01.2006", "02/01/2006"}

// HandleDailyReport — /tongket [дата]. Без даты — сегодня.
func (h *Handler) HandleDailyReport(ctx context.Context, chatID int64, args string) {
	day := h.reporter.Today()
	if raw := strings.TrimSpace(args); raw != "" {
		parsed, ok := parseDay(raw, h.reporter.Location())
		if !ok {
			h.notifier.Send(ctx, chatID, "Использование: /tongket [ГГГГ-ММ-ДД]")
			return
		}
		day = parsed
	}

	stats, err := h.reporter.Daily(ctx, day)
	if err != nil {
		log.WithError(err).Error("[REPORT] Ошибка дневного отчёта")
		h.notifier.Send(ctx, chatID, "❌ Не удалось собрать отчёт")
		return
	}
	h.notifier.Send(ctx, chatID, FormatDaily(stats))
}

// HandleStats — /stats: размеры кешей и число QR-сессий.
func (h *Handler) HandleStats(ctx context.Context, chatID int64) {
	h.notifier.Send(ctx, chatID, FormatGauges(h.gauges))
}

func parseDay(raw string, loc *time.Location) (time.Time, bool) {
	for _, layout := range dayLayouts {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
