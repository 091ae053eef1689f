// Package common содержит общие утилиты, используемые во всём проекте.
// Сюда входят: форматирование сумм, работа с часовым поясом, обрезка строк.
package common

import (
	"fmt"
	"strings"
	"time"
)

// FormatNumber форматирует число с разделителями тысяч (пробелами).
// Пример: FormatNumber(2350) → "2 350"
func FormatNumber(n int64) string {
	if n < 0 {
		return "-" + FormatNumber(-n)
	}
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	return fmt.Sprintf("%s %03d", FormatNumber(n/1000), n%1000)
}

// FormatMoney форматирует сумму в донгах.
// Пример: FormatMoney(25000) → "25 000 ₫"
func FormatMoney(amount int64) string {
	return FormatNumber(amount) + " ₫"
}

// FormatSigned создаёт строку вида "+100 ₫" или "-50 ₫".
func FormatSigned(amount int64) string {
	if amount >= 0 {
		return "+" + FormatMoney(amount)
	}
	return FormatMoney(amount)
}

// LoadLocation загружает часовой пояс. При ошибке — фиксированный UTC+7.
func LoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.FixedZone("ICT", 7*60*60)
	}
	return loc
}

// FormatDateTime форматирует время в формат "02.01.2006 15:04" в заданном поясе.
func FormatDateTime(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format("02.01.2006 15:04")
}

// Truncate обрезает строку до n рун и добавляет "..." если обрезали.
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// MaskSecret оставляет видимыми только первые и последние 4 символа.
// Используется в логах, чтобы не светить cookie и пароли.
func MaskSecret(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + strings.Repeat("*", len(s)-8) + s[len(s)-4:]
}
