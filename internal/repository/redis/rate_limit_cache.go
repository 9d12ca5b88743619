package redis

import (
	"context"
	"fmt"
	"time"

	"auth-service/internal/client"
	"auth-service/internal/util"
)

const otpSendPrefix = "otp_send:"

// RateLimitCache is the fast path of the OTP send limit. The Postgres
// count is authoritative; this counter exists to reject hot loops before
// they reach the database. A Redis failure must never block a send.
type RateLimitCache struct {
	client *client.RedisClient
}

func NewRateLimitCache(client *client.RedisClient) *RateLimitCache {
	return &RateLimitCache{client: client}
}

// IncrementOTPSends bumps the per-number send counter and returns the
// new value. The key expires with the rate-limit window, so the counter
// resets on its own.
func (c *RateLimitCache) IncrementOTPSends(ctx context.Context, phoneHash string, window time.Duration) (int64, error) {
	key := otpSendPrefix + phoneHash

	count, err := c.client.IncrWithExpire(ctx, key, window)
	if err != nil {
		util.Warn("OTP send counter unavailable",
			util.String("key", key),
			util.ErrorField(err))
		return 0, fmt.Errorf("increment otp sends: %w", err)
	}
	return count, nil
}
