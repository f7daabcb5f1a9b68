package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/northwind-labs/checkout-service/internal/models"
)

func InitRedis(addr, password string, logger *zap.Logger) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	logger.Info("redis connection established", zap.String("addr", addr))
	return rdb, nil
}

// CouponCache is a read-through cache for coupon metadata. Entries are
// short-lived and advisory: the conditional increment in Postgres is
// what keeps usage caps correct, so a stale read here is harmless.
type CouponCache struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewCouponCache(rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *CouponCache {
	return &CouponCache{rdb: rdb, ttl: ttl, logger: logger}
}

func (c *CouponCache) Get(ctx context.Context, code string) (*models.Coupon, bool) {
	data, err := c.rdb.Get(ctx, couponKey(code)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Debug("coupon cache read failed", zap.Error(err))
		}
		return nil, false
	}

	var coupon models.Coupon
	if err := json.Unmarshal(data, &coupon); err != nil {
		return nil, false
	}
	return &coupon, true
}

func (c *CouponCache) Set(ctx context.Context, code string, coupon *models.Coupon) {
	data, err := json.Marshal(coupon)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, couponKey(code), data, c.ttl).Err(); err != nil {
		c.logger.Debug("coupon cache write failed", zap.Error(err))
	}
}

func couponKey(code string) string {
	return "coupon:" + code
}
