package report

import (
	"fmt"
	"strings"

	"serotonyl.ru/wallet-bot/internal/common"
)

// FormatDaily — текст дневного отчёта.
func FormatDaily(s DailyStats) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "📊 Итоги дня %s\n\n", s.Day.Format("02.01.2006"))

	sb.WriteString("💰 Пополнения\n")
	fmt.Fprintf(&sb, "• Платежей: %d\n", s.TopupCount)
	fmt.Fprintf(&sb, "• Пользователей: %d\n", s.TopupUsers)
	fmt.Fprintf(&sb, "• Сумма: %s\n", common.FormatMoney(s.TopupAmount))
	fmt.Fprintf(&sb, "• Бонус: %s\n", common.FormatSigned(s.TopupBonus))
	fmt.Fprintf(&sb, "• Всего зачислено: %s\n\n", common.FormatMoney(s.TotalIn()))

	sb.WriteString("🎟 Сохранённые ваучеры\n")
	if len(s.Vouchers) == 0 {
		sb.WriteString("• нет\n")
	}
	for _, v := range s.Vouchers {
		fmt.Fprintf(&sb, "• %s: %d\n", v.Item, v.Count)
	}
	fmt.Fprintf(&sb, "Всего: %d\n\n", s.TotalVouchers())

	fmt.Fprintf(&sb, "👥 Активных пользователей: %d", s.ActiveUsers)
	return sb.String()
}

// Gauge — один показатель для /stats.
type Gauge struct {
	Name  string
	Value func() int
}

// FormatGauges — текст снимка кешей.
func FormatGauges(gauges []Gauge) string {
	var sb strings.Builder
	sb.WriteString("📦 Кеши и сессии")
	for _, g := range gauges {
		fmt.Fprintf(&sb, "\n• %s: %d", g.Name, g.Value())
	}
	return sb.String()
}
