package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/playdroplink/droplink-testnet-35167-sub002/internal/telemetry"
)

const IdempotencyTTL = 24 * time.Hour

// ResponseCache stores replayable responses.
type ResponseCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

type cachedResponse struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`
}

type recordingWriter struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *recordingWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

// IdempotencyMiddleware replays the stored response for a repeated Idempotency-Key. The
// header is optional since approve and complete are idempotent by payment ID. Keys are
// scoped per route and user. Only final outcomes are stored; see replayable.
func IdempotencyMiddleware(cache ResponseCache) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader("Idempotency-Key")
		if key == "" {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		cacheKey := fmt.Sprintf("idempotency:%s:%s:%s", c.FullPath(), c.GetString(ContextProfileID), key)

		// Check Redis cache
		cached, found, err := cache.Get(ctx, cacheKey)
		if err != nil {
			telemetry.Logger.Warn("Idempotency cache unavailable", zap.Error(err))
		}
		if found {
			var resp cachedResponse
			if err := json.Unmarshal(cached, &resp); err == nil {
				c.Header("Idempotent-Replayed", "true")
				c.Data(resp.Status, "application/json; charset=utf-8", resp.Body)
				c.Abort()
				return
			}
		}

		w := &recordingWriter{ResponseWriter: c.Writer}
		c.Writer = w
		c.Next()

		if !replayable(w.Status()) || w.body.Len() == 0 {
			return
		}
		value, err := json.Marshal(cachedResponse{Status: w.Status(), Body: w.body.Bytes()})
		if err != nil {
			return
		}
		if err := cache.Set(ctx, cacheKey, value, IdempotencyTTL); err != nil {
			telemetry.Logger.Warn("Failed to cache idempotent response", zap.Error(err))
		}
	}
}

// replayable reports whether a response is final. Lock contention (409), pending ledger
// verification (422) and upstream failures (5xx) may succeed on retry.
func replayable(status int) bool {
	return (status >= http.StatusOK && status < http.StatusMultipleChoices) || status == http.StatusBadRequest
}
