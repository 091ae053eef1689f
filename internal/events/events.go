// Package events — внутренняя шина событий.
// Кошелёк публикует изменения, зеркало (таблица) подписывается.
// Обработчики вызываются асинхронно и не влияют на основную операцию.
package events

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"
)

// EventType — тип события.
type EventType string

const (
	EventTypeBalanceChanged EventType = "balance_changed"
	EventTypeStatusChanged  EventType = "status_changed"
	EventTypeTopupCredited  EventType = "topup_credited"
	EventTypeWalletCreated  EventType = "wallet_created"
	EventTypeVoucherSaved   EventType = "voucher_saved"
)

// Event — базовый интерфейс события.
type Event interface {
	Type() EventType
}

// BalanceChanged — баланс пользователя изменился.
type BalanceChanged struct {
	UserID     int64
	Username   string
	Delta      int64
	NewBalance int64
	Reason     string
}

func (e BalanceChanged) Type() EventType { return EventTypeBalanceChanged }

// StatusChanged — поменялся статус кошелька (бан, разбан, активация).
type StatusChanged struct {
	UserID   int64
	Username string
	Status   string
	Note     string
}

func (e StatusChanged) Type() EventType { return EventTypeStatusChanged }

// TopupCredited — зачислено пополнение по webhook.
type TopupCredited struct {
	UserID     int64
	TxID       string
	Amount     int64
	Bonus      int64
	NewBalance int64
}

func (e TopupCredited) Type() EventType { return EventTypeTopupCredited }

// WalletCreated — у пользователя впервые появился кошелёк.
type WalletCreated struct {
	UserID   int64
	Username string
}

func (e WalletCreated) Type() EventType { return EventTypeWalletCreated }

// VoucherSaved — ваучер сохранён на аккаунты пользователя (ботом или клиентом на ПК).
type VoucherSaved struct {
	UserID int64
	Item   string
	Saved  int
	Total  int
	Price  int64
	Source string
}

func (e VoucherSaved) Type() EventType { return EventTypeVoucherSaved }

// Handler обрабатывает событие.
type Handler func(ctx context.Context, event Event)

// Publisher — то, что нужно сервисам для публикации.
type Publisher interface {
	Emit(ctx context.Context, event Event)
}

// Bus хранит подписки и рассылает события.
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	wg       sync.WaitGroup
}

// NewBus создаёт шину событий.
func NewBus() *Bus {
	return &Bus{handlers: make(map[EventType][]Handler)}
}

// Subscribe добавляет обработчик для типа события.
func (b *Bus) Subscribe(eventType EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// Emit отправляет событие всем подписчикам. Каждый обработчик в своей горутине.
func (b *Bus) Emit(ctx context.Context, event Event) {
	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers[event.Type()]))
	copy(handlers, b.handlers[event.Type()])
	b.mu.RUnlock()

	// Контекст запроса может закончиться раньше обработчика
	evCtx := context.WithoutCancel(ctx)

	for _, h := range handlers {
		b.wg.Add(1)
		go func(h Handler) {
			defer b.wg.Done()
			defer func() {
				if r := recover(); r != nil {
					log.WithFields(log.Fields{
						"event": event.Type(),
						"panic": r,
					}).Error("Паника в обработчике события")
				}
			}()
			h(evCtx, event)
		}(h)
	}
}

// Wait ждёт завершения всех запущенных обработчиков (shutdown и тесты).
func (b *Bus) Wait() {
	b.wg.Wait()
}
