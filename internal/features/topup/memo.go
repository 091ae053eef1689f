package topup

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
)

// memoPattern ищет "NAP <id>" с необязательным префиксом SEVQR, без учёта регистра.
var memoPattern = regexp.MustCompile(`(?i)(?:SEVQR\s*)?NAP\s*(\d{6,})`)

// ParseUserID достаёт id пользователя из назначения платежа.
func ParseUserID(memo string) (int64, bool) {
	m := memoPattern.FindStringSubmatch(memo)
	if m == nil {
		return 0, false
	}
	id, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// CalcBonus — integer floor от amount * percent первого подходящего уровня.
// Уровни не суммируются.
func CalcBonus(tiers []BonusTier, amount int64) (percent, bonus int64) {
	for _, t := range tiers {
		if amount >= t.MinAmount {
			return t.Percent, amount * t.Percent / 100
		}
	}
	return 0, 0
}

// Memo — строка, которую пользователь пишет в назначении платежа.
func Memo(userID int64) string {
	return fmt.Sprintf("SEVQR NAP %d", userID)
}

// QRURL — ссылка на картинку банковского QR с уже заполненным назначением.
func QRURL(account, bank string, userID, amount int64) string {
	params := url.Values{}
	params.Set("acc", account)
	params.Set("bank", bank)
	params.Set("template", "compact")
	params.Set("des", Memo(userID))
	if amount > 0 {
		params.Set("amount", strconv.FormatInt(amount, 10))
	}
	return "https://qr.sepay.vn/img?" + params.Encode()
}
