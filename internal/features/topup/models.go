// Package topup зачисляет пополнения из платёжного webhook.
// Каждая транзакция провайдера зачисляется не более одного раза:
// гарантию даёт первичный ключ processed_tx.
package topup

import "time"

// Payment — входящее уведомление о платеже.
type Payment struct {
	TxID   string
	Amount int64
	Memo   string
}

// Outcome — бизнес-результат обработки платежа.
type Outcome string

const (
	OutcomeCredited  Outcome = "OK"
	OutcomeInvalid   Outcome = "INVALID"
	OutcomeDuplicate Outcome = "DUPLICATE"
	OutcomeNoUser    Outcome = "NO_USER"
	OutcomeTooSmall  Outcome = "TOO_SMALL"
)

// Result — итог Ingest.
type Result struct {
	Outcome Outcome
	UserID  int64
	Amount  int64
	Bonus   int64
	Balance int64
}

// Record — строка processed_tx.
type Record struct {
	TxID      string    `db:"tx_id"`
	TeleID    int64     `db:"tele_id"`
	Amount    int64     `db:"amount"`
	Bonus     int64     `db:"bonus"`
	CreatedAt time.Time `db:"created_at"`
}

// BonusTier — порог и процент бонуса.
type BonusTier struct {
	MinAmount int64
	Percent   int64 // целые проценты
}

// DefaultBonusTiers упорядочены по убыванию порога: применяется первый подходящий.
var DefaultBonusTiers = []BonusTier{
	{MinAmount: 100000, Percent: 20},
	{MinAmount: 50000, Percent: 15},
	{MinAmount: 20000, Percent: 10},
}
