package antispam

import (
	"context"
	"sync"
	"time"
)

type counter struct {
	n         int64
	expiresAt time.Time
}

// MemoryStore — Store в памяти процесса под одним мьютексом.
// Просроченные записи не видны сразу, а удаляются в Cleanup.
type MemoryStore struct {
	mu       sync.Mutex
	counters map[string]*counter
	marks    map[string]time.Time
	now      func() time.Time
}

// NewMemoryStore создаёт хранилище в памяти.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		counters: make(map[string]*counter),
		marks:    make(map[string]time.Time),
		now:      now,
	}
}

// Incr увеличивает счётчик в окне window.
func (m *MemoryStore) Incr(_ context.Context, key string, window time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	c, ok := m.counters[key]
	if !ok || !now.Before(c.expiresAt) {
		c = &counter{expiresAt: now.Add(window)}
		m.counters[key] = c
	}
	c.n++
	return c.n, nil
}

// SetMark ставит метку до now+ttl.
func (m *MemoryStore) SetMark(_ context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.marks[key] = m.now().Add(ttl)
	return nil
}

// HasMark — метка есть и не истекла.
func (m *MemoryStore) HasMark(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	until, ok := m.marks[key]
	return ok && m.now().Before(until), nil
}

// Delete удаляет ключ из обеих таблиц.
func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.counters, key)
	delete(m.marks, key)
	return nil
}

// Cleanup удаляет всё просроченное. Возвращает число удалённых записей.
func (m *MemoryStore) Cleanup() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for k, c := range m.counters {
		if !now.Before(c.expiresAt) {
			delete(m.counters, k)
			removed++
		}
	}
	for k, until := range m.marks {
		if !now.Before(until) {
			delete(m.marks, k)
			removed++
		}
	}
	return removed
}

// Len — сколько записей сейчас хранится (для диагностики).
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.counters) + len(m.marks)
}
