package risk

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// Counter counts events per key inside a rolling window.
type Counter interface {
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
}

type RedisCounter struct {
	client *redis.Client
}

func NewRedisCounter(client *redis.Client) *RedisCounter {
	return &RedisCounter{client: client}
}

func (c *RedisCounter) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	count, err := c.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if count == 1 {
		c.client.Expire(ctx, key, window)
	}
	return count, nil
}

type Rules struct {
	MaxAmount   decimal.Decimal
	ReviewAbove decimal.Decimal
	MaxPerHour  int64
}

func DefaultRules() Rules {
	return Rules{
		MaxAmount:   decimal.NewFromInt(10_000),
		ReviewAbove: decimal.NewFromInt(5_000),
		MaxPerHour:  20,
	}
}

type Checker struct {
	rules   Rules
	counter Counter
}

func NewChecker(rules Rules, counter Counter) *Checker {
	return &Checker{rules: rules, counter: counter}
}

func (c *Checker) Evaluate(ctx context.Context, req Request) Response {
	if req.Amount.GreaterThan(c.rules.MaxAmount) {
		return Response{
			Decision: DecisionDeny,
			Reason:   fmt.Sprintf("Amount exceeds %s Pi limit", c.rules.MaxAmount),
		}
	}

	// Velocity is skipped when the counter is unavailable.
	count, err := c.counter.Incr(ctx, "risk:velocity:"+req.Purchaser, time.Hour)
	if err == nil && count > c.rules.MaxPerHour {
		return Response{
			Decision: DecisionDeny,
			Reason:   "Too many payments in the last hour (velocity check failed)",
		}
	}

	if req.Amount.GreaterThan(c.rules.ReviewAbove) {
		return Response{
			Decision: DecisionManualReview,
			Reason:   "High-value purchase requires manual review",
		}
	}

	return Response{
		Decision: DecisionApprove,
		Reason:   "All risk checks passed",
	}
}
