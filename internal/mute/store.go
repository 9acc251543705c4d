// Package mute provides Redis-backed mute lists. Each receiver owns a set
// of sender IDs they have muted:
//
//	Key:   mutes:<receiver_id>
//	Value: set of muted sender IDs
package mute

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/emberwood/gameserver/internal/player"
)

// MutePrefix is the Redis key prefix for mute sets.
const MutePrefix = "mutes:"

// Table is a preloaded receiver -> muted-senders view used by the fan-out
// path so each recipient does not cost a Redis round-trip.
type Table map[player.ID]map[player.ID]struct{}

// Muted reports whether receiver has muted sender.
func (t Table) Muted(receiver, sender player.ID) bool {
	set, ok := t[receiver]
	if !ok {
		return false
	}
	_, muted := set[sender]
	return muted
}

// Store manages mute lists in Redis.
type Store struct {
	rdb *redis.Client
}

// NewStore creates a mute store using the provided Redis client.
func NewStore(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

// Mute adds sender to receiver's mute set.
func (s *Store) Mute(ctx context.Context, receiver, sender player.ID) error {
	if err := s.rdb.SAdd(ctx, MutePrefix+receiver.String(), sender.String()).Err(); err != nil {
		return fmt.Errorf("mute: add: %w", err)
	}
	return nil
}

// Unmute removes sender from receiver's mute set.
func (s *Store) Unmute(ctx context.Context, receiver, sender player.ID) error {
	if err := s.rdb.SRem(ctx, MutePrefix+receiver.String(), sender.String()).Err(); err != nil {
		return fmt.Errorf("mute: remove: %w", err)
	}
	return nil
}

// IsMuted checks a single receiver/sender pair.
func (s *Store) IsMuted(ctx context.Context, receiver, sender player.ID) (bool, error) {
	muted, err := s.rdb.SIsMember(ctx, MutePrefix+receiver.String(), sender.String()).Result()
	if err != nil {
		return false, fmt.Errorf("mute: check: %w", err)
	}
	return muted, nil
}

// Preload fetches the mute sets for all receivers in one pipelined call.
func (s *Store) Preload(ctx context.Context, receivers []player.ID) (Table, error) {
	table := make(Table, len(receivers))
	if len(receivers) == 0 {
		return table, nil
	}

	pipe := s.rdb.Pipeline()
	cmds := make(map[player.ID]*redis.StringSliceCmd, len(receivers))
	for _, r := range receivers {
		cmds[r] = pipe.SMembers(ctx, MutePrefix+r.String())
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("mute: preload: %w", err)
	}

	for r, cmd := range cmds {
		members, err := cmd.Result()
		if err != nil {
			continue
		}
		if len(members) == 0 {
			continue
		}
		set := make(map[player.ID]struct{}, len(members))
		for _, m := range members {
			set[player.ID(m)] = struct{}{}
		}
		table[r] = set
	}
	return table, nil
}
