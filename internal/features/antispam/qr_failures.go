package antispam

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/wallet-bot/internal/features/wallet"
	"serotonyl.ru/wallet-bot/internal/notify"
)

type qrFailure struct {
	count    int
	lastFail time.Time
}

// QRFailures считает неудачные QR-входы подряд.
// Счётчик независим от окон спама и живёт в памяти процесса.
type QRFailures struct {
	mu       sync.Mutex
	items    map[int64]*qrFailure
	wallets  Wallets
	notifier notify.Notifier
	adminID  int64
	max      int
	gap      time.Duration
	now      func() time.Time
}

// NewQRFailures — max неудач подряд до бана; gap — пауза, после которой счёт начинается заново.
func NewQRFailures(wallets Wallets, notifier notify.Notifier, adminID int64, max int, gap time.Duration, now func() time.Time) *QRFailures {
	if now == nil {
		now = time.Now
	}
	return &QRFailures{
		items:    make(map[int64]*qrFailure),
		wallets:  wallets,
		notifier: notifier,
		adminID:  adminID,
		max:      max,
		gap:      gap,
		now:      now,
	}
}

// RecordFailure засчитывает неудачу и возвращает текущее число и флаг бана.
func (q *QRFailures) RecordFailure(ctx context.Context, userID int64, username string) (int, bool, error) {
	q.mu.Lock()
	now := q.now()
	f, ok := q.items[userID]
	if !ok || now.Sub(f.lastFail) > q.gap {
		f = &qrFailure{}
		q.items[userID] = f
	}
	f.count++
	f.lastFail = now
	count := f.count
	q.mu.Unlock()

	if count < q.max {
		return count, false, nil
	}

	note := fmt.Sprintf("BANNED_QR_SPAM: %d неудачных QR-входов", count)
	if err := q.wallets.SetStatus(ctx, userID, username, wallet.StatusBannedQRSpam, nil, note); err != nil {
		return count, false, err
	}
	log.WithFields(log.Fields{
		"user_id":  userID,
		"failures": count,
	}).Warn("[ANTISPAM] Перманентный бан за QR-спам")

	if q.adminID != 0 && q.notifier != nil {
		q.notifier.Send(ctx, q.adminID, fmt.Sprintf(
			"🚨 Перманентный бан: QR-спам\n👤 %d @%s\n🔢 Неудач подряд: %d",
			userID, orNA(username), count,
		))
	}
	return count, true, nil
}

// Reset обнуляет счётчик после успешного входа.
func (q *QRFailures) Reset(userID int64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.items, userID)
}

// Count — текущее число неудач (с учётом паузы).
func (q *QRFailures) Count(userID int64) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	f, ok := q.items[userID]
	if !ok || q.now().Sub(f.lastFail) > q.gap {
		return 0
	}
	return f.count
}

// Cleanup удаляет счётчики, у которых пауза уже истекла.
func (q *QRFailures) Cleanup() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	removed := 0
	for id, f := range q.items {
		if now.Sub(f.lastFail) > q.gap {
			delete(q.items, id)
			removed++
		}
	}
	return removed
}
