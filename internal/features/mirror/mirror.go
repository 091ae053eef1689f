// Package mirror дублирует состояние кошельков во внешнюю таблицу для людей.
// Таблица не источник истины: ошибки записи только логируются, ядро их не видит.
package mirror

import (
	"context"
	"strconv"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/wallet-bot/internal/cache"
	"serotonyl.ru/wallet-bot/internal/events"
)

// Колонки строки пользователя.
const (
	ColUserID    = "tele_id"
	ColUsername  = "username"
	ColBalance   = "balance"
	ColStatus    = "status"
	ColNote      = "note"
	ColUpdatedAt = "updated_at"
)

// Fields — значения колонок строки.
type Fields map[string]string

// TopupRecord — строка журнала пополнений.
type TopupRecord struct {
	UserID     int64
	TxID       string
	Amount     int64
	Bonus      int64
	NewBalance int64
	At         time.Time
}

// Sheet — внешняя таблица.
type Sheet interface {
	FindRow(ctx context.Context, userID int64) (row int, found bool, err error)
	UpdateRow(ctx context.Context, row int, fields Fields) error
	AppendRow(ctx context.Context, fields Fields) (row int, err error)
	AppendTopup(ctx context.Context, rec TopupRecord) error
}

type job struct {
	userID int64
	fields Fields
	topup  *TopupRecord
}

// Mirror пишет в таблицу через очередь с одним воркером.
type Mirror struct {
	sheet Sheet
	rows  *cache.Cache[int64, int]
	queue chan job
	now   func() time.Time
	loc   *time.Location

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// New создаёт зеркало. rowTTL — сколько живёт запись "пользователь → строка".
func New(sheet Sheet, rowTTL time.Duration, queueSize int, loc *time.Location) *Mirror {
	if queueSize <= 0 {
		queueSize = 256
	}
	if loc == nil {
		loc = time.UTC
	}
	m := &Mirror{
		sheet: sheet,
		queue: make(chan job, queueSize),
		now:   time.Now,
		loc:   loc,
	}
	// 0 = строки нет, кешируем и это, чтобы не искать на каждом событии
	m.rows = cache.New[int64, int]("mirror_rows", rowTTL, func(ctx context.Context, userID int64) (int, error) {
		row, found, err := sheet.FindRow(ctx, userID)
		if err != nil || !found {
			return 0, err
		}
		return row, nil
	})
	return m
}

// Start запускает воркер очереди.
func (m *Mirror) Start(ctx context.Context) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for j := range m.queue {
			m.process(ctx, j)
		}
	}()
}

// Stop закрывает очередь и ждёт, пока воркер допишет остаток.
func (m *Mirror) Stop() {
	m.mu.Lock()
	if !m.closed {
		m.closed = true
		close(m.queue)
	}
	m.mu.Unlock()
	m.wg.Wait()
}

// Subscribe подписывает зеркало на события кошелька.
func (m *Mirror) Subscribe(bus *events.Bus) {
	bus.Subscribe(events.EventTypeBalanceChanged, func(ctx context.Context, e events.Event) {
		ev := e.(events.BalanceChanged)
		f := Fields{
			ColBalance: strconv.FormatInt(ev.NewBalance, 10),
			ColNote:    ev.Reason,
		}
		if ev.Username != "" {
			f[ColUsername] = ev.Username
		}
		m.UpsertVisibleRow(ctx, ev.UserID, f)
	})
	bus.Subscribe(events.EventTypeStatusChanged, func(ctx context.Context, e events.Event) {
		ev := e.(events.StatusChanged)
		f := Fields{
			ColStatus: ev.Status,
			ColNote:   ev.Note,
		}
		if ev.Username != "" {
			f[ColUsername] = ev.Username
		}
		m.UpsertVisibleRow(ctx, ev.UserID, f)
	})
	bus.Subscribe(events.EventTypeTopupCredited, func(ctx context.Context, e events.Event) {
		ev := e.(events.TopupCredited)
		m.AppendTopup(ctx, TopupRecord{
			UserID:     ev.UserID,
			TxID:       ev.TxID,
			Amount:     ev.Amount,
			Bonus:      ev.Bonus,
			NewBalance: ev.NewBalance,
			At:         m.now(),
		})
	})
}

// UpsertVisibleRow ставит обновление строки в очередь.
// Полная очередь означает потерю записи: пишем в лог и идём дальше.
func (m *Mirror) UpsertVisibleRow(_ context.Context, userID int64, fields Fields) {
	m.enqueue(job{userID: userID, fields: fields})
}

// AppendTopup ставит строку журнала пополнений в очередь.
func (m *Mirror) AppendTopup(_ context.Context, rec TopupRecord) {
	m.enqueue(job{userID: rec.UserID, topup: &rec})
}

func (m *Mirror) enqueue(j job) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		log.WithField("user_id", j.userID).Warn("[MIRROR] Зеркало остановлено, запись пропущена")
		return
	}
	select {
	case m.queue <- j:
	default:
		log.WithField("user_id", j.userID).Warn("[MIRROR] Очередь переполнена, запись пропущена")
	}
}

func (m *Mirror) process(ctx context.Context, j job) {
	logger := log.WithFields(log.Fields{
		"component": "mirror",
		"user_id":   j.userID,
	})

	if j.topup != nil {
		if err := m.sheet.AppendTopup(ctx, *j.topup); err != nil {
			logger.WithError(err).Warn("[MIRROR] Не удалось записать пополнение")
		}
		return
	}

	fields := make(Fields, len(j.fields)+2)
	for k, v := range j.fields {
		fields[k] = v
	}
	fields[ColUpdatedAt] = m.now().In(m.loc).Format("2006-01-02 15:04:05")

	row, _, err := m.rows.Get(ctx, j.userID)
	if err != nil {
		logger.WithError(err).Warn("[MIRROR] Таблица недоступна")
		return
	}

	if row > 0 {
		if err := m.sheet.UpdateRow(ctx, row, fields); err != nil {
			// строку могли удалить руками, в следующий раз ищем заново
			m.rows.Invalidate(j.userID)
			logger.WithError(err).Warn("[MIRROR] Не удалось обновить строку")
		}
		return
	}

	fields[ColUserID] = strconv.FormatInt(j.userID, 10)
	row, err = m.sheet.AppendRow(ctx, fields)
	if err != nil {
		m.rows.Invalidate(j.userID)
		logger.WithError(err).Warn("[MIRROR] Не удалось добавить строку")
		return
	}
	m.rows.Set(j.userID, row)
	logger.WithField("row", row).Debug("[MIRROR] Добавлена строка")
}

// CachedRows — сколько номеров строк держит кеш.
func (m *Mirror) CachedRows() int {
	return m.rows.Len()
}

// PurgeRows чистит устаревшие записи кеша строк.
func (m *Mirror) PurgeRows(maxAge time.Duration) int {
	return m.rows.Purge(maxAge)
}

// Noop — таблица не настроена.
type Noop struct{}

func (Noop) FindRow(context.Context, int64) (int, bool, error) { return 0, false, nil }
func (Noop) UpdateRow(context.Context, int, Fields) error { return nil }
func (Noop) AppendRow(context.Context, Fields) (int, error) { return 1, nil }
func (Noop) AppendTopup(context.Context, TopupRecord) error { return nil }
