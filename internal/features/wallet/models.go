// Package wallet управляет балансом пользователя в донгах.
// models.go описывает кошелёк, статусы и результат списания.
package wallet

import "time"

// Status — состояние кошелька.
type Status string

const (
	StatusNew          Status = "new"            // создан автоматически, подарок ещё не получен
	StatusPending      Status = "pending"        // выставляется админом вручную
	StatusActive       Status = "active"         // обычный пользователь
	StatusBan1h        Status = "ban_1h"         // временный бан за спам
	StatusBanned       Status = "banned"         // перманентный бан
	StatusBannedQRSpam Status = "banned_qr_spam" // перманентный бан за неудачные QR-входы
)

// IsPermanentBan — такие статусы никогда не снимаются автоматически.
func (s Status) IsPermanentBan() bool {
	return s == StatusBanned || s == StatusBannedQRSpam
}

// IsBanned — любой бан, включая временный.
func (s Status) IsBanned() bool {
	return s == StatusBan1h || s.IsPermanentBan()
}

// GiftAllowed — из каких статусов можно получить подарок за активацию.
func (s Status) GiftAllowed() bool {
	return s == "" || s == StatusNew || s == StatusPending
}

// Wallet представляет строку таблицы wallet.
// Строка создаётся лениво при первом обращении и никогда не удаляется.
type Wallet struct {
	TeleID       int64      `db:"tele_id"`
	Username     string     `db:"username"`
	Balance      int64      `db:"balance"` // никогда не бывает отрицательным (CHECK в БД)
	Status       Status     `db:"status"`
	Notes        string     `db:"notes"`     // только для людей, логика его не читает
	BanUntil     *time.Time `db:"ban_until"` // срок временного бана
	Gift         string     `db:"gift"`
	ToolPassHash string     `db:"tool_pass_hash"`
	CreatedAt    time.Time  `db:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at"`
}

// ReversalToken выдаётся успешным списанием. По нему можно вернуть
// не больше списанной суммы, сколько раз ни вызывай Refund.
type ReversalToken string

// DebitResult — итог условного списания.
// При OK=false Balance содержит текущий баланс, чтобы показать пользователю.
type DebitResult struct {
	OK      bool
	Balance int64
	Token   ReversalToken
}

// GiftStatusClaimed — значение колонки gift после получения подарка.
const GiftStatusClaimed = "claimed"
