// Package cache — read-through кеш с TTL поверх медленных внешних хранилищ.
//
// Попадание не ходит наружу. Промах или протухшая запись — загрузка;
// при ошибке загрузки отдаётся последнее известное значение, если оно есть.
// Одновременные промахи по одному ключу схлопываются в один запрос.
// Запрос не привязан к контексту первого вызова: отмена одного ожидающего
// не роняет загрузку для остальных, её ограничивает только свой таймаут.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// DefaultFetchTimeout — предел одной загрузки, если не задан WithFetchTimeout.
const DefaultFetchTimeout = 10 * time.Second

// Source — откуда пришло значение.
type Source int

const (
	SourceUpstream Source = iota // свежая загрузка
	SourceCache                  // живая запись кеша
	SourceStale                  // загрузка упала, отдали старое
	SourceDefault                // загрузка упала, старого нет, отдали значение по умолчанию
)

func (s Source) String() string {
	switch s {
	case SourceUpstream:
		return "upstream"
	case SourceCache:
		return "cache"
	case SourceStale:
		return "stale"
	case SourceDefault:
		return "default"
	default:
		return "unknown"
	}
}

// FetchFunc загружает значение по ключу из внешнего хранилища.
type FetchFunc[K comparable, V any] func(ctx context.Context, key K) (V, error)

type entry[V any] struct {
	value     V
	fetchedAt time.Time
}

// Cache — read-through кеш.
type Cache[K comparable, V any] struct {
	name         string
	ttl          time.Duration
	fetch        FetchFunc[K, V]
	fetchTimeout time.Duration
	entries      *xsync.MapOf[K, entry[V]]
	group        singleflight.Group
	now          func() time.Time
	hasDefault   bool
	def          V
}

// Option настраивает кеш.
type Option[K comparable, V any] func(*Cache[K, V])

// WithDefault — значение, которое отдаётся, если загрузка упала и старого нет.
func WithDefault[K comparable, V any](v V) Option[K, V] {
	return func(c *Cache[K, V]) {
		c.hasDefault = true
		c.def = v
	}
}

// WithClock подменяет часы (тесты).
func WithClock[K comparable, V any](now func() time.Time) Option[K, V] {
	return func(c *Cache[K, V]) { c.now = now }
}

// WithFetchTimeout ограничивает одну загрузку.
func WithFetchTimeout[K comparable, V any](d time.Duration) Option[K, V] {
	return func(c *Cache[K, V]) { c.fetchTimeout = d }
}

// New создаёт кеш с именем для логов.
func New[K comparable, V any](name string, ttl time.Duration, fetch FetchFunc[K, V], opts ...Option[K, V]) *Cache[K, V] {
	c := &Cache[K, V]{
		name:         name,
		ttl:          ttl,
		fetch:        fetch,
		fetchTimeout: DefaultFetchTimeout,
		entries:      xsync.NewMapOf[K, entry[V]](),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get возвращает значение и его источник.
func (c *Cache[K, V]) Get(ctx context.Context, key K) (V, Source, error) {
	if e, ok := c.entries.Load(key); ok && c.now().Sub(e.fetchedAt) < c.ttl {
		return e.value, SourceCache, nil
	}

	// singleflight работает со строковыми ключами
	flightKey := fmt.Sprintf("%v", key)
	ch := c.group.DoChan(flightKey, func() (any, error) {
		// Пока ждали очередь, запись мог обновить другой вызов
		if e, ok := c.entries.Load(key); ok && c.now().Sub(e.fetchedAt) < c.ttl {
			return e.value, nil
		}
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fetchTimeout)
		defer cancel()
		value, err := c.fetch(fctx, key)
		if err != nil {
			return nil, err
		}
		c.entries.Store(key, entry[V]{value: value, fetchedAt: c.now()})
		return value, nil
	})

	var err error
	select {
	case res := <-ch:
		if res.Err == nil {
			value, _ := res.Val.(V)
			return value, SourceUpstream, nil
		}
		err = res.Err
	case <-ctx.Done():
		err = ctx.Err()
	}

	logger := log.WithFields(log.Fields{"cache": c.name, "key": flightKey})
	if e, ok := c.entries.Load(key); ok {
		logger.WithError(err).Warn("Загрузка не удалась, отдаём устаревшее значение")
		return e.value, SourceStale, nil
	}
	if c.hasDefault {
		logger.WithError(err).Warn("Загрузка не удалась, отдаём значение по умолчанию")
		return c.def, SourceDefault, nil
	}
	var zero V
	return zero, SourceUpstream, fmt.Errorf("кеш %s: %w", c.name, err)
}

// Set кладёт значение вручную (например, после записи во внешнее хранилище).
func (c *Cache[K, V]) Set(key K, value V) {
	c.entries.Store(key, entry[V]{value: value, fetchedAt: c.now()})
}

// Peek отдаёт запись без загрузки, даже протухшую.
func (c *Cache[K, V]) Peek(key K) (V, bool) {
	e, ok := c.entries.Load(key)
	return e.value, ok
}

// Invalidate удаляет запись: следующий Get пойдёт наружу.
func (c *Cache[K, V]) Invalidate(key K) {
	c.entries.Delete(key)
}

// Len — число записей.
func (c *Cache[K, V]) Len() int {
	return c.entries.Size()
}

// Purge удаляет записи старше maxAge. Возвращает число удалённых.
func (c *Cache[K, V]) Purge(maxAge time.Duration) int {
	now := c.now()
	removed := 0
	c.entries.Range(func(key K, e entry[V]) bool {
		if now.Sub(e.fetchedAt) >= maxAge {
			c.entries.Delete(key)
			removed++
		}
		return true
	})
	return removed
}
