package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Rate limiting key pattern:
// - ratelimit:{sender_key}:messages - per-window send counter

// RateLimitResult contains the result of a rate limit check
type RateLimitResult struct {
	Allowed   bool          // Whether the action is allowed
	Remaining int           // Remaining actions in the window
	ResetIn   time.Duration // Time until the window resets
	Limit     int           // The limit for this action
}

// RateLimiter enforces the per-sender send budget carried by each permission
// grant. The limit is an argument, not configuration: anonymous and
// registered senders get different budgets from the authorization resolver.
type RateLimiter struct {
	client *goredis.Client
	window time.Duration
}

func NewRateLimiter(client *goredis.Client, window time.Duration) *RateLimiter {
	if window == 0 {
		window = 60 * time.Second
	}
	return &RateLimiter{client: client, window: window}
}

// AllowMessage checks and consumes one send from the sender's budget.
func (r *RateLimiter) AllowMessage(ctx context.Context, senderKey string, limit int) (*RateLimitResult, error) {
	key := fmt.Sprintf("ratelimit:%s:messages", senderKey)
	return r.checkLimit(ctx, key, limit, r.window)
}

// checkLimit performs the actual rate limit check using a sliding window counter
func (r *RateLimiter) checkLimit(ctx context.Context, key string, limit int, window time.Duration) (*RateLimitResult, error) {
	// Lua script for atomic increment and check
	script := goredis.NewScript(`
		local key = KEYS[1]
		local limit = tonumber(ARGV[1])
		local window = tonumber(ARGV[2])

		local current = redis.call('GET', key)
		if current == false then
			current = 0
		else
			current = tonumber(current)
		end

		local ttl = redis.call('TTL', key)
		if ttl < 0 then
			ttl = window
		end

		if current < limit then
			redis.call('INCR', key)
			if ttl == window then
				redis.call('EXPIRE', key, window)
			end
			return {1, limit - current - 1, ttl}
		else
			return {0, 0, ttl}
		end
	`)

	result, err := script.Run(ctx, r.client, []string{key}, limit, int(window.Seconds())).Result()
	if err != nil {
		return nil, fmt.Errorf("rate limit check failed: %w", err)
	}

	resultSlice, ok := result.([]interface{})
	if !ok || len(resultSlice) < 3 {
		return nil, fmt.Errorf("unexpected rate limit result format")
	}

	allowed := resultSlice[0].(int64) == 1
	remaining := int(resultSlice[1].(int64))
	resetIn := time.Duration(resultSlice[2].(int64)) * time.Second

	return &RateLimitResult{
		Allowed:   allowed,
		Remaining: remaining,
		ResetIn:   resetIn,
		Limit:     limit,
	}, nil
}

// Reset resets the rate limit for a sender (admin operation)
func (r *RateLimiter) Reset(ctx context.Context, senderKey string) error {
	key := fmt.Sprintf("ratelimit:%s:messages", senderKey)
	return r.client.Del(ctx, key).Err()
}
