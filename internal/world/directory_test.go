package world

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"
)

// newTestDirectory connects to a local Redis instance and removes test room
// keys before returning. Tests that call this helper require a running Redis
// on localhost:6379.
func newTestDirectory(t *testing.T) *Directory {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	cleanup := func() {
		iter := client.Scan(ctx, 0, RoomPrefix+"test_*", 100).Iterator()
		for iter.Next(ctx) {
			client.Del(ctx, iter.Val())
		}
	}
	cleanup()
	t.Cleanup(func() {
		cleanup()
		client.Close()
	})
	return NewDirectory(client)
}

func TestSubzone_UnknownRoomIsEmptyNotError(t *testing.T) {
	d := newTestDirectory(t)

	subzone, err := d.Subzone(context.Background(), "test_missing")
	if err != nil {
		t.Fatalf("Subzone: %v", err)
	}
	if subzone != "" {
		t.Errorf("unknown room subzone = %q, want empty", subzone)
	}
}

func TestSetRoomSubzone_RoundTrip(t *testing.T) {
	d := newTestDirectory(t)
	ctx := context.Background()

	if err := d.SetRoomSubzone(ctx, "test_r1", "mistwood"); err != nil {
		t.Fatalf("SetRoomSubzone: %v", err)
	}
	subzone, err := d.Subzone(ctx, "test_r1")
	if err != nil {
		t.Fatalf("Subzone: %v", err)
	}
	if subzone != "mistwood" {
		t.Errorf("subzone = %q, want mistwood", subzone)
	}
}

func TestMovePlayer_UpdatesBothRooms(t *testing.T) {
	d := newTestDirectory(t)
	ctx := context.Background()

	if err := d.MovePlayer(ctx, "p1", "", "test_r1"); err != nil {
		t.Fatalf("MovePlayer spawn: %v", err)
	}
	if err := d.MovePlayer(ctx, "p1", "test_r1", "test_r2"); err != nil {
		t.Fatalf("MovePlayer: %v", err)
	}

	old, err := d.Players(ctx, "test_r1")
	if err != nil {
		t.Fatalf("Players: %v", err)
	}
	if len(old) != 0 {
		t.Errorf("old room still holds %v", old)
	}

	now, err := d.Players(ctx, "test_r2")
	if err != nil {
		t.Fatalf("Players: %v", err)
	}
	if len(now) != 1 || now[0] != "p1" {
		t.Errorf("new room holds %v, want [p1]", now)
	}
}

func TestRemovePlayer(t *testing.T) {
	d := newTestDirectory(t)
	ctx := context.Background()

	if err := d.MovePlayer(ctx, "p1", "", "test_r1"); err != nil {
		t.Fatalf("MovePlayer: %v", err)
	}
	if err := d.RemovePlayer(ctx, "p1", "test_r1"); err != nil {
		t.Fatalf("RemovePlayer: %v", err)
	}

	players, err := d.Players(ctx, "test_r1")
	if err != nil {
		t.Fatalf("Players: %v", err)
	}
	if len(players) != 0 {
		t.Errorf("room still holds %v after removal", players)
	}
}
