package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// ErrCacheMiss ключ отсутствует или Redis не подключен
var ErrCacheMiss = errors.New("ключ не найден в кэше")

// Константы для TTL кэша
const (
	CacheTTLShort  = 1 * time.Minute // Для часто изменяемых данных
	CacheTTLMedium = 15 * time.Minute
)

// CacheService кэш поверх Redis. Без клиента все операции становятся пустыми.
type CacheService struct {
	redis *redis.Client
}

// NewCacheService создает новый экземпляр CacheService, redisClient может быть nil
func NewCacheService(redisClient *redis.Client) *CacheService {
	return &CacheService{redis: redisClient}
}

// Enabled сообщает, подключен ли Redis
func (cs *CacheService) Enabled() bool {
	return cs != nil && cs.redis != nil
}

// GetJSON читает JSON значение в dest
func (cs *CacheService) GetJSON(ctx context.Context, key string, dest interface{}) error {
	if !cs.Enabled() {
		return ErrCacheMiss
	}

	val, err := cs.redis.Get(ctx, key).Result()
	if err == redis.Nil {
		return ErrCacheMiss
	}
	if err != nil {
		return err
	}

	if err := json.Unmarshal([]byte(val), dest); err != nil {
		return fmt.Errorf("ошибка десериализации JSON: %w", err)
	}
	return nil
}

// SetJSON сохраняет значение в JSON с TTL
func (cs *CacheService) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if !cs.Enabled() {
		return nil // Не возвращаем ошибку, просто пропускаем кэширование
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("ошибка сериализации JSON: %w", err)
	}
	return cs.redis.Set(ctx, key, data, ttl).Err()
}

// Del удаляет значения из кэша
func (cs *CacheService) Del(ctx context.Context, keys ...string) error {
	if !cs.Enabled() || len(keys) == 0 {
		return nil
	}
	return cs.redis.Del(ctx, keys...).Err()
}
