// Package ratelimit provides Redis-backed flood control using the INCR +
// EXPIRE window algorithm. The distribution engine consults it per sender so
// one client cannot saturate a chat channel for everyone subscribed to it.
package ratelimit

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/emberwood/gameserver/internal/player"
)

// Rule defines a flood-control policy: the Redis key prefix, maximum number
// of messages allowed in the window, and the window duration.
type Rule struct {
	Key    string        // Redis key prefix (e.g., "fl:chat:", "fl:global:")
	Limit  int           // max count in the window
	Window time.Duration // time window
}

// key is the per-sender counter key. Every relay node derives the same key,
// so the window is enforced cluster-wide.
func (r Rule) key(sender player.ID) string {
	return r.Key + sender.String()
}

// Flood-control rules per channel class. Room-scoped chatter is cheap;
// global and whisper traffic fans out wider and gets tighter limits.
var (
	// RuleChat covers say, local, emote, and pose messages.
	RuleChat = Rule{Key: "fl:chat:", Limit: 20, Window: 10 * time.Second}

	// RuleGlobal covers global broadcasts, which reach every connection.
	RuleGlobal = Rule{Key: "fl:global:", Limit: 3, Window: 30 * time.Second}

	// RuleWhisper bounds targeted whisper spam.
	RuleWhisper = Rule{Key: "fl:whisper:", Limit: 10, Window: 10 * time.Second}
)

// Limiter performs flood-control checks against Redis.
type Limiter struct {
	client *redis.Client
}

// NewLimiter creates a Limiter backed by the given Redis client.
func NewLimiter(client *redis.Client) *Limiter {
	return &Limiter{client: client}
}

// Allow records one message from the sender and reports whether it still
// fits inside the rule's window.
//
// A Redis failure reports true: losing flood control briefly is better than
// silencing every player behind a flaky cache. The error is still returned
// so callers can distinguish "allowed" from "could not check".
func (l *Limiter) Allow(ctx context.Context, sender player.ID, rule Rule) (bool, error) {
	key := rule.key(sender)

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		log.Printf("[ratelimit] INCR %s: %v (allowing)", key, err)
		return true, err
	}

	// The first message opens the window.
	if count == 1 {
		if err := l.client.Expire(ctx, key, rule.Window).Err(); err != nil {
			log.Printf("[ratelimit] EXPIRE %s: %v (allowing)", key, err)
			// Without a TTL the counter never resets and the sender would
			// eventually be locked out. Drop it and start over next time.
			l.client.Del(ctx, key)
			return true, err
		}
	}

	return int(count) <= rule.Limit, nil
}

// Remaining reports how many messages the sender has left in the current
// window. A sender with no counter yet, and any Redis failure, reports the
// full limit.
func (l *Limiter) Remaining(ctx context.Context, sender player.ID, rule Rule) (int, error) {
	key := rule.key(sender)

	count, err := l.client.Get(ctx, key).Int()
	if err == redis.Nil {
		return rule.Limit, nil
	}
	if err != nil {
		log.Printf("[ratelimit] GET %s: %v (allowing)", key, err)
		return rule.Limit, err
	}

	if count >= rule.Limit {
		return 0, nil
	}
	return rule.Limit - count, nil
}

// RuleFor maps a chat channel to its flood-control rule. System and admin
// traffic originates server-side and is never limited.
func RuleFor(channel string) (Rule, bool) {
	switch channel {
	case "say", "local", "emote", "pose":
		return RuleChat, true
	case "global":
		return RuleGlobal, true
	case "whisper":
		return RuleWhisper, true
	}
	return Rule{}, false
}
