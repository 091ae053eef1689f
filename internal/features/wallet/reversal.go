package wallet

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"serotonyl.ru/wallet-bot/internal/common"
)

// reversal — сколько ещё можно вернуть по одному списанию.
type reversal struct {
	userID    int64
	remaining int64
	expiresAt time.Time
}

// reversals хранит выданные токены возврата в памяти процесса.
// Возврат имеет смысл только внутри потока, который сделал списание,
// поэтому переживать рестарт токены не обязаны.
type reversals struct {
	mu    sync.Mutex
	items map[ReversalToken]*reversal
	ttl   time.Duration
	now   func() time.Time
}

func newReversals(ttl time.Duration, now func() time.Time) *reversals {
	return &reversals{
		items: make(map[ReversalToken]*reversal),
		ttl:   ttl,
		now:   now,
	}
}

// issue регистрирует новое списание и возвращает его токен.
func (r *reversals) issue(userID, amount int64) ReversalToken {
	token := ReversalToken(uuid.NewString())
	r.mu.Lock()
	r.items[token] = &reversal{
		userID:    userID,
		remaining: amount,
		expiresAt: r.now().Add(r.ttl),
	}
	r.mu.Unlock()
	return token
}

// take резервирует до amount из остатка токена.
// Возвращает пользователя и фактически зарезервированную сумму.
func (r *reversals) take(token ReversalToken, amount int64) (int64, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rv, ok := r.items[token]
	if !ok {
		return 0, 0, common.ErrUnknownReversal
	}
	if rv.remaining <= 0 {
		return rv.userID, 0, common.ErrRefundExhausted
	}

	granted := amount
	if granted > rv.remaining {
		granted = rv.remaining
	}
	rv.remaining -= granted
	return rv.userID, granted, nil
}

// restore возвращает зарезервированную сумму, если начисление не удалось.
func (r *reversals) restore(token ReversalToken, amount int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rv, ok := r.items[token]; ok {
		rv.remaining += amount
	}
}

// cleanup удаляет просроченные токены. Исчерпанные живут до срока,
// чтобы повторный Refund получал ErrRefundExhausted, а не ErrUnknownReversal.
func (r *reversals) cleanup() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	removed := 0
	for token, rv := range r.items {
		if now.After(rv.expiresAt) {
			delete(r.items, token)
			removed++
		}
	}
	return removed
}

func (r *reversals) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}
