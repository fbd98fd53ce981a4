package crm

import (
	"context"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// DeliveryGuard marks an order as being delivered so that a task executed
// twice posts its deal once.
type DeliveryGuard interface {
	// Claim reports false when another execution already owns orderID.
	Claim(ctx context.Context, orderID string) (bool, error)
	// Forget drops the claim after a failed delivery so a retry can post.
	Forget(ctx context.Context, orderID string) error
}

// RedisDeliveryGuard keeps claims as expiring Redis keys holding the claim
// time. A nil Client or non-positive TTL disables the guard.
type RedisDeliveryGuard struct {
	Client *redis.Client
	TTL    time.Duration
	Prefix string
}

func (g RedisDeliveryGuard) key(orderID string) string {
	if g.Prefix == "" {
		return "crm:delivered:" + orderID
	}
	return g.Prefix + orderID
}

// Claim records orderID unless it is already claimed.
func (g RedisDeliveryGuard) Claim(ctx context.Context, orderID string) (bool, error) {
	if g.Client == nil || g.TTL <= 0 {
		return true, nil
	}
	stamp := strconv.FormatInt(time.Now().Unix(), 10)
	return g.Client.SetNX(ctx, g.key(orderID), stamp, g.TTL).Result()
}

// Forget releases the claim on orderID.
func (g RedisDeliveryGuard) Forget(ctx context.Context, orderID string) error {
	if g.Client == nil || g.TTL <= 0 {
		return nil
	}
	return g.Client.Del(ctx, g.key(orderID)).Err()
}
