package qrlogin

import (
	"sync"
	"time"
)

// State — состояние сессии в таблице.
// Завершённые сессии из таблицы удаляются, поэтому терминальных состояний тут нет.
type State string

const (
	StateWaiting    State = "waiting"
	StateCancelled  State = "cancelled"
	StateCompleting State = "completing"
)

// Session — одна попытка QR-входа.
type Session struct {
	ID        string
	UserID    int64
	ChatID    int64
	Username  string
	CreatedAt time.Time
	State     State
	Payload   []byte
}

// Sessions — таблица сессий под одним мьютексом.
// Мьютекс держится только на время проверки и изменения, без сетевых вызовов.
type Sessions struct {
	mu    sync.Mutex
	items map[string]*Session
}

// NewSessions создаёт пустую таблицу.
func NewSessions() *Sessions {
	return &Sessions{items: make(map[string]*Session)}
}

// Put добавляет сессию.
func (t *Sessions) Put(s Session) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.items[s.ID] = &s
}

// Get возвращает копию сессии.
func (t *Sessions) Get(id string) (Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.items[id]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// Waiting — сессия существует и не отменена.
func (t *Sessions) Waiting(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.items[id]
	return ok && s.State == StateWaiting
}

// MarkCancelled помечает сессию отменённой. Повторный вызов и отмена
// завершающейся сессии ничего не меняют.
func (t *Sessions) MarkCancelled(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.items[id]
	if !ok || s.State != StateWaiting {
		return false
	}
	s.State = StateCancelled
	return true
}

// Claim переводит waiting в completing. После этого отмена уже не сработает.
func (t *Sessions) Claim(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.items[id]
	if !ok || s.State != StateWaiting {
		return false
	}
	s.State = StateCompleting
	return true
}

// Delete удаляет сессию.
func (t *Sessions) Delete(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.items, id)
}

// Len — число сессий в таблице.
func (t *Sessions) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.items)
}
