// Package report — дневной отчёт админу (пополнения, сохранённые ваучеры,
// активные пользователи) и снимок кешей процесса.
package report

import "time"

// Usage — одна запись журнала использования.
type Usage struct {
	UserID int64
	Item   string
	Saved  int
	Total  int
	Price  int64
	Source string
}

// VoucherCount — сколько раз позиция сохранена за день.
type VoucherCount struct {
	Item  string
	Count int
}

// DailyStats — итоги одного дня в часовом поясе приложения.
type DailyStats struct {
	Day         time.Time
	TopupCount  int
	TopupUsers  int
	TopupAmount int64
	TopupBonus  int64
	Vouchers    []VoucherCount
	ActiveUsers int
}

// TotalIn — деньги, зашедшие на кошельки за день вместе с бонусом.
func (s DailyStats) TotalIn() int64 {
	return s.TopupAmount + s.TopupBonus
}

// TotalVouchers — всего сохранений за день.
func (s DailyStats) TotalVouchers() int {
	n := 0
	for _, v := range s.Vouchers {
		n += v.Count
	}
	return n
}
