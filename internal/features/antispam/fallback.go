package antispam

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
)

// FallbackStore ходит в primary, а при его ошибке — в secondary.
// Так падение Redis не отключает антиспам, а переводит его в память.
type FallbackStore struct {
	primary   Store
	secondary Store
}

// NewFallbackStore объединяет два хранилища.
func NewFallbackStore(primary, secondary Store) *FallbackStore {
	return &FallbackStore{primary: primary, secondary: secondary}
}

func (f *FallbackStore) degrade(op string, err error) {
	log.WithError(err).WithField("op", op).Warn("[ANTISPAM] Redis недоступен, используем память")
}

func (f *FallbackStore) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	n, err := f.primary.Incr(ctx, key, window)
	if err != nil {
		f.degrade("incr", err)
		return f.secondary.Incr(ctx, key, window)
	}
	return n, nil
}

func (f *FallbackStore) SetMark(ctx context.Context, key string, ttl time.Duration) error {
	// Метку пишем в оба: после восстановления Redis память всё ещё помнит
	_ = f.secondary.SetMark(ctx, key, ttl)
	if err := f.primary.SetMark(ctx, key, ttl); err != nil {
		f.degrade("set_mark", err)
	}
	return nil
}

func (f *FallbackStore) HasMark(ctx context.Context, key string) (bool, error) {
	ok, err := f.primary.HasMark(ctx, key)
	if err != nil {
		f.degrade("has_mark", err)
		return f.secondary.HasMark(ctx, key)
	}
	if ok {
		return true, nil
	}
	return f.secondary.HasMark(ctx, key)
}

func (f *FallbackStore) Delete(ctx context.Context, key string) error {
	_ = f.secondary.Delete(ctx, key)
	if err := f.primary.Delete(ctx, key); err != nil {
		f.degrade("delete", err)
	}
	return nil
}
