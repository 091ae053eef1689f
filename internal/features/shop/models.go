// Package shop — каталог ваучеров и покупка с оплатой с кошелька.
package shop

import "strings"

// Item — позиция каталога.
type Item struct {
	Key         string `json:"code"`
	Name        string `json:"code_name"`
	Price       int64  `json:"price"`
	Available   bool   `json:"available"`
	Combo       string `json:"combo,omitempty"`
	PromotionID int64  `json:"promotion_id"`
	Signature   string `json:"signature"`
}

// Outcome — результат активации одного ваучера на одном аккаунте.
type Outcome string

const (
	OutcomeOK              Outcome = "ok"
	OutcomeAlreadyRedeemed Outcome = "already_redeemed"
	OutcomeNotEligible     Outcome = "not_eligible"
	OutcomeTransient       Outcome = "transient_error"
)

// Failure — неудачная пара (аккаунт, ваучер).
type Failure struct {
	Credential int
	Item       string
	Outcome    Outcome
}

// Receipt — итог покупки.
type Receipt struct {
	Items    []Item
	Saved    int
	Failed   int
	Charged  int64
	Refunded int64
	Balance  int64
	Failures []Failure
}

// NormalizeKey приводит ключ к нижнему регистру и убирает все пробельные символы, включая NBSP.
func NormalizeKey(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), "")
}

// ParseCredentials берёт из текста строки cookie (SPC_...). Остальные строки пропускаются.
func ParseCredentials(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "SPC_") {
			continue
		}
		out = append(out, line)
	}
	return out
}
