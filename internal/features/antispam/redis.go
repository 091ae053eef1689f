package antispam

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// RedisStore — Store поверх Redis. Переживает рестарт и общий для реплик.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore создаёт хранилище поверх готового клиента.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// NewRedisClient разбирает REDIS_URL и проверяет соединение.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("ошибка парсинга REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis недоступен: %w", err)
	}
	return client, nil
}

// Incr: INCR, и на первом инкременте EXPIRE.
// Ключ без TTL (упали между командами) тоже получает TTL.
// Инкремент уже засчитан, поэтому сбой EXPIRE только логируется:
// ошибка увела бы FallbackStore считать то же нарушение ещё раз в памяти.
func (s *RedisStore) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	n, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis incr: %w", err)
	}
	if n == 1 {
		s.expire(ctx, key, window)
		return n, nil
	}
	ttl, err := s.client.TTL(ctx, key).Result()
	if err == nil && ttl < 0 {
		s.expire(ctx, key, window)
	}
	return n, nil
}

func (s *RedisStore) expire(ctx context.Context, key string, window time.Duration) {
	if err := s.client.Expire(ctx, key, window).Err(); err != nil {
		log.WithError(err).WithField("key", key).Warn("[ANTISPAM] Не удалось выставить TTL счётчику")
	}
}

// SetMark — SET key 1 EX ttl.
func (s *RedisStore) SetMark(ctx context.Context, key string, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, 1, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// HasMark — GET key.
func (s *RedisStore) HasMark(ctx context.Context, key string) (bool, error) {
	err := s.client.Get(ctx, key).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis get: %w", err)
	}
	return true, nil
}

// Delete — DEL key.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
