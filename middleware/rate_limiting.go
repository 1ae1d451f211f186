package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"custody_backend/database"
	"custody_backend/logger"
)

// RateLimitConfig конфигурация rate limiting
type RateLimitConfig struct {
	Name         string                    // Префикс ключа, разделяет лимиты разных групп маршрутов
	Requests     int                       // Количество запросов
	Window       time.Duration             // Временное окно
	KeyGenerator func(*gin.Context) string // Генератор ключей
}

// DefaultKeyGenerator генерирует ключ на основе IP адреса
func DefaultKeyGenerator(c *gin.Context) string {
	return c.ClientIP()
}

// PersonKeyGenerator генерирует ключ на основе авторизованного сотрудника
func PersonKeyGenerator(c *gin.Context) string {
	if person, ok := GetCurrentPerson(c); ok {
		return "person:" + strconv.FormatUint(uint64(person.ID), 10)
	}
	return c.ClientIP()
}

// RateLimiter считает запросы в Redis, а без него в памяти процесса
type RateLimiter struct {
	redis  *redis.Client
	config RateLimitConfig

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewRateLimiter создает ограничитель. redisClient может быть nil.
func NewRateLimiter(redisClient *redis.Client, config RateLimitConfig) *RateLimiter {
	if config.KeyGenerator == nil {
		config.KeyGenerator = DefaultKeyGenerator
	}
	if config.Requests <= 0 {
		config.Requests = 100
	}
	if config.Window <= 0 {
		config.Window = time.Minute
	}
	if config.Name == "" {
		config.Name = "default"
	}
	return &RateLimiter{redis: redisClient, config: config, limiters: map[string]*rate.Limiter{}}
}

// Allow учитывает запрос и сообщает, укладывается ли он в лимит
func (rl *RateLimiter) Allow(ctx context.Context, key string) bool {
	if rl.redis != nil {
		redisKey := fmt.Sprintf("rate_limit:%s:%s", rl.config.Name, key)
		allowed, err := database.RateLimitCheck(ctx, rl.redis, redisKey, int64(rl.config.Requests), rl.config.Window)
		if err == nil {
			return allowed
		}
		// В случае ошибки Redis переходим на локальный счетчик
		logger.Logger.Warn("Redis недоступен для rate limiting", zap.Error(err))
	}
	return rl.local(key).Allow()
}

func (rl *RateLimiter) local(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	limiter, ok := rl.limiters[key]
	if !ok {
		every := rate.Every(rl.config.Window / time.Duration(rl.config.Requests))
		limiter = rate.NewLimiter(every, rl.config.Requests)
		rl.limiters[key] = limiter
	}
	return limiter
}

// Middleware возвращает gin middleware ограничителя
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := rl.config.KeyGenerator(c)
		c.Header("X-RateLimit-Limit", strconv.Itoa(rl.config.Requests))

		if !rl.Allow(c.Request.Context(), key) {
			logger.Logger.Warn("Rate limit exceeded",
				zap.String("request_id", GetRequestID(c)),
				zap.String("limit", rl.config.Name),
				zap.String("key", key),
				zap.String("path", c.Request.URL.Path))

			c.Header("Retry-After", strconv.Itoa(int(rl.config.Window.Seconds())))
			c.JSON(http.StatusTooManyRequests, gin.H{
				"status":      "error",
				"error":       "Rate limit exceeded",
				"message":     fmt.Sprintf("Too many requests. Limit: %d requests per %v", rl.config.Requests, rl.config.Window),
				"retry_after": rl.config.Window.Seconds(),
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

// RateLimit общее ограничение для API
func RateLimit(redisClient *redis.Client, requests int, window time.Duration) gin.HandlerFunc {
	return NewRateLimiter(redisClient, RateLimitConfig{
		Name:         "api",
		Requests:     requests,
		Window:       window,
		KeyGenerator: DefaultKeyGenerator,
	}).Middleware()
}

// AuthRateLimit ограничение попыток входа
func AuthRateLimit(redisClient *redis.Client, attempts int, window time.Duration) gin.HandlerFunc {
	return NewRateLimiter(redisClient, RateLimitConfig{
		Name:         "auth",
		Requests:     attempts,
		Window:       window,
		KeyGenerator: DefaultKeyGenerator,
	}).Middleware()
}

// PinRateLimit ограничение передач, подтверждаемых PIN курьера, на одного диспетчера
func PinRateLimit(redisClient *redis.Client, attempts int, window time.Duration) gin.HandlerFunc {
	return NewRateLimiter(redisClient, RateLimitConfig{
		Name:         "pin",
		Requests:     attempts,
		Window:       window,
		KeyGenerator: PersonKeyGenerator,
	}).Middleware()
}
