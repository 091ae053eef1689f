// Package antispam считает нарушения частоты запросов, выдаёт
// временные и перманентные баны и следит за неудачными QR-входами.
//
// Счётчики окон и метки эскалации живут в Store: Redis, если он
// настроен, иначе память процесса. Сам бан пишется в кошелёк (PostgreSQL).
package antispam

import (
	"context"
	"fmt"
	"time"
)

// Store — эфемерное хранилище счётчиков и меток.
type Store interface {
	// Incr увеличивает счётчик. Окно открывается первым инкрементом.
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
	// SetMark ставит метку с TTL (перезаписывает существующую).
	SetMark(ctx context.Context, key string, ttl time.Duration) error
	// HasMark — есть ли непротухшая метка.
	HasMark(ctx context.Context, key string) (bool, error)
	// Delete удаляет счётчик или метку.
	Delete(ctx context.Context, key string) error
}

// Class — тип нарушения. У каждого своё окно.
type Class string

const (
	ClassCallback Class = "callback"
	ClassCommand  Class = "command"
	ClassText     Class = "text"
)

func windowKey(class Class, userID int64) string {
	return fmt.Sprintf("spam:%s:%d", class, userID)
}

func markKey(userID int64) string {
	return fmt.Sprintf("ban_count:%d", userID)
}
