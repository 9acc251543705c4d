// Package world provides the Redis-backed room directory: which subzone a
// room belongs to and which players are currently in a room.
//
//	Key:   room:<room_id>          hash, field "subzone"
//	Key:   room:<room_id>:players  set of player IDs
package world

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/emberwood/gameserver/internal/player"
)

const (
	// RoomPrefix is the Redis key prefix for room hashes.
	RoomPrefix = "room:"

	playersSuffix = ":players"
	subzoneField  = "subzone"
)

// Directory reads and mutates room membership state in Redis.
type Directory struct {
	rdb *redis.Client
}

// NewDirectory creates a room directory using the provided Redis client.
func NewDirectory(rdb *redis.Client) *Directory {
	return &Directory{rdb: rdb}
}

// Subzone resolves a room to its subzone. An unknown room returns an empty
// subzone and no error so callers can degrade gracefully.
func (d *Directory) Subzone(ctx context.Context, roomID string) (string, error) {
	subzone, err := d.rdb.HGet(ctx, RoomPrefix+roomID, subzoneField).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("world: subzone of %s: %w", roomID, err)
	}
	return subzone, nil
}

// SetRoomSubzone assigns a room to a subzone.
func (d *Directory) SetRoomSubzone(ctx context.Context, roomID, subzone string) error {
	if err := d.rdb.HSet(ctx, RoomPrefix+roomID, subzoneField, subzone).Err(); err != nil {
		return fmt.Errorf("world: set subzone of %s: %w", roomID, err)
	}
	return nil
}

// Players returns the connected players currently in a room.
func (d *Directory) Players(ctx context.Context, roomID string) ([]player.ID, error) {
	members, err := d.rdb.SMembers(ctx, RoomPrefix+roomID+playersSuffix).Result()
	if err != nil {
		return nil, fmt.Errorf("world: players in %s: %w", roomID, err)
	}
	out := make([]player.ID, 0, len(members))
	for _, m := range members {
		out = append(out, player.ID(m))
	}
	return out, nil
}

// MovePlayer updates room membership for a moving player. Either room may
// be empty (spawn and despawn paths).
func (d *Directory) MovePlayer(ctx context.Context, id player.ID, oldRoom, newRoom string) error {
	pipe := d.rdb.Pipeline()
	if oldRoom != "" {
		pipe.SRem(ctx, RoomPrefix+oldRoom+playersSuffix, id.String())
	}
	if newRoom != "" {
		pipe.SAdd(ctx, RoomPrefix+newRoom+playersSuffix, id.String())
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("world: move player %s: %w", id, err)
	}
	return nil
}

// RemovePlayer drops a player from a room (disconnect path).
func (d *Directory) RemovePlayer(ctx context.Context, id player.ID, roomID string) error {
	if err := d.rdb.SRem(ctx, RoomPrefix+roomID+playersSuffix, id.String()).Err(); err != nil {
		return fmt.Errorf("world: remove player %s from %s: %w", id, roomID, err)
	}
	return nil
}
