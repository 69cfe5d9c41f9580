// Package cache provides a Redis read-through cache for coupon rules.
package cache

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xenking/kart-discounts/internal/domain/coupon"
	"github.com/xenking/kart-discounts/internal/wire"
)

const keyPrefix = "discount:rule:"

// Client is the subset of the go-redis client used by the cache.
type Client interface {
	MGet(ctx context.Context, keys ...string) *redis.SliceCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

var _ coupon.Repository = (*Rules)(nil)

// Rules caches the rules of a backing coupon.Repository in Redis. Redis
// failures are logged and served from the backing repository.
type Rules struct {
	client Client
	next   coupon.Repository
	ttl    time.Duration
}

// NewRules wraps next with a cache whose entries expire after ttl.
func NewRules(client Client, next coupon.Repository, ttl time.Duration) *Rules {
	return &Rules{client: client, next: next, ttl: ttl}
}

func ruleKey(code string) string { return keyPrefix + code }

// FindByCodes implements coupon.Repository.
func (c *Rules) FindByCodes(ctx context.Context, codes []string) (map[string]coupon.Rule, error) {
	if len(codes) == 0 {
		return map[string]coupon.Rule{}, nil
	}
	lg := zctx.From(ctx)

	keys := make([]string, len(codes))
	for i, code := range codes {
		keys[i] = ruleKey(code)
	}

	out := make(map[string]coupon.Rule, len(codes))
	misses := codes
	vals, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		lg.Warn("Rule cache read failed", zap.Error(err))
	} else {
		misses = misses[:0:0]
		for i, v := range vals {
			raw, ok := v.(string)
			if !ok {
				misses = append(misses, codes[i])
				continue
			}
			rule, err := wire.DecodeRule(jx.DecodeStr(raw))
			if err != nil || rule.Code != codes[i] {
				lg.Warn("Dropping undecodable cached rule", zap.String("code", codes[i]), zap.Error(err))
				misses = append(misses, codes[i])
				continue
			}
			out[codes[i]] = rule
		}
	}
	if len(misses) == 0 {
		return out, nil
	}

	loaded, err := c.next.FindByCodes(ctx, misses)
	if err != nil {
		return nil, errors.Wrap(err, "load rules")
	}
	for code, rule := range loaded {
		out[code] = rule
		c.store(ctx, rule)
	}
	return out, nil
}

func (c *Rules) store(ctx context.Context, rule coupon.Rule) {
	var e jx.Encoder
	wire.EncodeRule(&e, rule)
	if err := c.client.Set(ctx, ruleKey(rule.Code), e.String(), c.ttl).Err(); err != nil {
		zctx.From(ctx).Warn("Rule cache write failed", zap.String("code", rule.Code), zap.Error(err))
	}
}

// Invalidate drops the cached rules of codes.
func (c *Rules) Invalidate(ctx context.Context, codes ...string) error {
	if len(codes) == 0 {
		return nil
	}
	keys := make([]string, len(codes))
	for i, code := range codes {
		keys[i] = ruleKey(code)
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return errors.Wrap(err, "delete cached rules")
	}
	return nil
}
