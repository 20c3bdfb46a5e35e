// Package ratelimit provides Redis-backed rate limiting using the INCR +
// EXPIRE window algorithm, plus the short re-match cooldown applied after a
// voluntary skip. Each throttled action has a Rule; counters live in Redis
// so limits hold across edge servers.
package ratelimit

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Rule defines a rate limiting policy: the Redis key prefix, maximum number
// of requests allowed in the window, and the window duration.
type Rule struct {
	Key    string        // Redis key prefix (e.g., "rl:msg:")
	Limit  int           // max count in the window
	Window time.Duration // time window
}

// Standard rules.
var (
	// RuleMessage allows 5 chat messages per 10 seconds per session.
	RuleMessage = Rule{Key: "rl:msg:", Limit: 5, Window: 10 * time.Second}

	// RuleSearch allows 10 search starts per minute per session.
	RuleSearch = Rule{Key: "rl:search:", Limit: 10, Window: 1 * time.Minute}

	// RuleConnect allows 5 connections per minute per IP.
	RuleConnect = Rule{Key: "rl:conn:", Limit: 5, Window: 1 * time.Minute}

	// RuleReport allows 5 abuse reports per 10 minutes per session.
	RuleReport = Rule{Key: "rl:report:", Limit: 5, Window: 10 * time.Minute}
)

// SkipCooldown is the penalty between leaving a session voluntarily and the
// next search, so rapid-fire re-matching cannot starve the queue.
const SkipCooldown = 3 * time.Second

// Limiter performs rate limiting checks against Redis.
type Limiter struct {
	client *redis.Client
}

// NewLimiter creates a Limiter backed by the given Redis client.
func NewLimiter(client *redis.Client) *Limiter {
	return &Limiter{client: client}
}

// Allow checks whether the identifier is within the rule's limit,
// incrementing the window counter. On Redis errors the method fails open so
// a store outage does not block legitimate traffic.
func (l *Limiter) Allow(ctx context.Context, identifier string, rule Rule) (bool, error) {
	key := rule.Key + identifier

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		log.Printf("[ratelimit] redis INCR error key=%s: %v (failing open)", key, err)
		return true, err
	}

	// On the first increment, set the expiry to define the window boundary.
	if count == 1 {
		if err := l.client.Expire(ctx, key, rule.Window).Err(); err != nil {
			log.Printf("[ratelimit] redis EXPIRE error key=%s: %v (failing open)", key, err)
			// The key exists but has no TTL; delete it so it doesn't
			// throttle the identifier forever.
			l.client.Del(ctx, key)
			return true, err
		}
	}

	return int(count) <= rule.Limit, nil
}

// Remaining returns the number of requests left in the current window.
// Returns the full limit if the key does not exist or on Redis errors.
func (l *Limiter) Remaining(ctx context.Context, identifier string, rule Rule) (int, error) {
	key := rule.Key + identifier

	count, err := l.client.Get(ctx, key).Int()
	if err == redis.Nil {
		return rule.Limit, nil
	}
	if err != nil {
		log.Printf("[ratelimit] redis GET error key=%s: %v (failing open)", key, err)
		return rule.Limit, err
	}

	remaining := rule.Limit - count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// StartSkipCooldown arms the post-skip cooldown for a session.
func (l *Limiter) StartSkipCooldown(ctx context.Context, sessionID string) error {
	return l.client.Set(ctx, "rl:skip:"+sessionID, 1, SkipCooldown).Err()
}

// InSkipCooldown reports whether the session's post-skip cooldown is still
// running. Fails open on Redis errors.
func (l *Limiter) InSkipCooldown(ctx context.Context, sessionID string) bool {
	n, err := l.client.Exists(ctx, "rl:skip:"+sessionID).Result()
	if err != nil {
		return false
	}
	return n > 0
}
