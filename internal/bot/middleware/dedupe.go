package middleware

import "sync"

// Dedupe помнит последние size идентификаторов апдейтов.
// Telegram может прислать апдейт повторно после рестарта polling.
type Dedupe struct {
	mu   sync.Mutex
	seen map[int]struct{}
	ring []int
	pos  int
}

// NewDedupe создаёт фильтр на size последних апдейтов.
func NewDedupe(size int) *Dedupe {
	if size <= 0 {
		size = 2000
	}
	return &Dedupe{
		seen: make(map[int]struct{}, size),
		ring: make([]int, 0, size),
	}
}

// FirstSeen возвращает true, если апдейт встретился впервые.
func (d *Dedupe) FirstSeen(updateID int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.seen[updateID]; ok {
		return false
	}
	if len(d.ring) < cap(d.ring) {
		d.ring = append(d.ring, updateID)
	} else {
		delete(d.seen, d.ring[d.pos])
		d.ring[d.pos] = updateID
		d.pos = (d.pos + 1) % len(d.ring)
	}
	d.seen[updateID] = struct{}{}
	return true
}
