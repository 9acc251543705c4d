package events

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/emberwood/gameserver/internal/bus"
	"github.com/emberwood/gameserver/internal/player"
)

type fakeRooms struct {
	players map[string][]player.ID
	err     error
}

func (f *fakeRooms) Players(_ context.Context, roomID string) ([]player.ID, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.players[roomID], nil
}

type fakeConns struct {
	connected  []player.ID
	deliveries map[player.ID][]eventEnvelope
}

func newFakeConns(ids ...player.ID) *fakeConns {
	return &fakeConns{connected: ids, deliveries: make(map[player.ID][]eventEnvelope)}
}

func (f *fakeConns) Deliver(id player.ID, envelope any) error {
	for _, c := range f.connected {
		if c == id {
			f.deliveries[id] = append(f.deliveries[id], envelope.(eventEnvelope))
			return nil
		}
	}
	return fmt.Errorf("not connected")
}

func (f *fakeConns) Players() []player.ID { return f.connected }

func TestValidateEventMessage(t *testing.T) {
	tests := []struct {
		name      string
		eventType string
		data      map[string]any
		want      bool
	}{
		{"valid", EventGameTick, map[string]any{"tick": 1}, true},
		{"empty type", "", map[string]any{"tick": 1}, false},
		{"nil data", EventGameTick, nil, false},
		{"empty data", EventGameTick, map[string]any{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidateEventMessage(tt.eventType, tt.data); got != tt.want {
				t.Errorf("ValidateEventMessage = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHandleEventMessage_InvalidMessageFails(t *testing.T) {
	d := NewDispatcher(&fakeRooms{}, newFakeConns(), nil, nil, nil)

	if err := d.HandleEventMessage(context.Background(), map[string]any{"data": map[string]any{"x": 1}}); err == nil {
		t.Error("message without an event_type should fail validation")
	}
}

func TestHandleEventMessage_UnknownTypeIsLoggedNotFatal(t *testing.T) {
	d := NewDispatcher(&fakeRooms{}, newFakeConns(), nil, nil, nil)

	msg := map[string]any{"event_type": "weather_changed", "data": map[string]any{"x": 1}}
	if err := d.HandleEventMessage(context.Background(), msg); err != nil {
		t.Errorf("unknown event type should not be an error, got %v", err)
	}
}

func TestRoomEvent_BroadcastsToOccupants(t *testing.T) {
	conns := newFakeConns("a", "b")
	rooms := &fakeRooms{players: map[string][]player.ID{"r1": {"a", "b"}}}
	d := NewDispatcher(rooms, conns, nil, nil, nil)

	msg := map[string]any{
		"event_type": EventPlayerEntered,
		"data":       map[string]any{"room_id": "r1", "player_id": "c"},
	}
	if err := d.HandleEventMessage(context.Background(), msg); err != nil {
		t.Fatalf("HandleEventMessage: %v", err)
	}

	for _, id := range []player.ID{"a", "b"} {
		got := conns.deliveries[id]
		if len(got) != 1 || got[0].Type != EventPlayerEntered {
			t.Errorf("occupant %s deliveries = %+v", id, got)
		}
	}
}

func TestRoomEvent_MissingRoomIsNoop(t *testing.T) {
	conns := newFakeConns("a")
	d := NewDispatcher(&fakeRooms{}, conns, nil, nil, nil)

	msg := map[string]any{
		"event_type": EventPlayerEntered,
		"data":       map[string]any{"player_id": "c"},
	}
	if err := d.HandleEventMessage(context.Background(), msg); err != nil {
		t.Fatalf("HandleEventMessage: %v", err)
	}
	if len(conns.deliveries) != 0 {
		t.Error("room event without room_id should deliver nothing")
	}
}

func TestGameTick_ReachesEveryone(t *testing.T) {
	conns := newFakeConns("a", "b", "c")
	d := NewDispatcher(&fakeRooms{}, conns, nil, nil, nil)

	msg := map[string]any{"event_type": EventGameTick, "data": map[string]any{"tick": 7}}
	if err := d.HandleEventMessage(context.Background(), msg); err != nil {
		t.Fatalf("HandleEventMessage: %v", err)
	}
	if len(conns.deliveries) != 3 {
		t.Errorf("tick reached %d players, want 3", len(conns.deliveries))
	}
}

func TestCombatStarted_NotifiesParticipants(t *testing.T) {
	conns := newFakeConns("a", "b")
	rooms := &fakeRooms{players: map[string][]player.ID{"r1": {"a", "b"}}}
	d := NewDispatcher(rooms, conns, nil, nil, nil)

	msg := map[string]any{
		"event_type": EventCombatStarted,
		"data": map[string]any{
			"room_id":      "r1",
			"participants": []any{"a", "ghost"},
		},
	}
	if err := d.HandleEventMessage(context.Background(), msg); err != nil {
		t.Fatalf("HandleEventMessage: %v", err)
	}

	// a gets the room broadcast plus a personal combat_status.
	got := conns.deliveries["a"]
	if len(got) != 2 {
		t.Fatalf("participant received %d envelopes, want 2", len(got))
	}
	var status *eventEnvelope
	for i := range got {
		if got[i].Type == "combat_status" {
			status = &got[i]
		}
	}
	if status == nil {
		t.Fatal("participant missing combat_status envelope")
	}
	if inCombat, _ := status.Data["in_combat"].(bool); !inCombat {
		t.Error("combat_started status should set in_combat=true")
	}

	// b is a bystander: broadcast only.
	if got := conns.deliveries["b"]; len(got) != 1 || got[0].Type != EventCombatStarted {
		t.Errorf("bystander deliveries = %+v", got)
	}
}

func TestCombatEnded_ClearsCombatStatus(t *testing.T) {
	conns := newFakeConns("a")
	d := NewDispatcher(&fakeRooms{}, conns, nil, nil, nil)

	msg := map[string]any{
		"event_type": EventCombatEnded,
		"data":       map[string]any{"participants": []any{"a"}},
	}
	if err := d.HandleEventMessage(context.Background(), msg); err != nil {
		t.Fatalf("HandleEventMessage: %v", err)
	}

	got := conns.deliveries["a"]
	if len(got) != 1 || got[0].Type != "combat_status" {
		t.Fatalf("deliveries = %+v", got)
	}
	if inCombat, _ := got[0].Data["in_combat"].(bool); inCombat {
		t.Error("combat_ended status should set in_combat=false")
	}
}

type fakeWorld struct {
	moves   []string
	removes []string
}

func (f *fakeWorld) MovePlayer(_ context.Context, id player.ID, oldRoom, newRoom string) error {
	f.moves = append(f.moves, fmt.Sprintf("%s:%s->%s", id, oldRoom, newRoom))
	return nil
}

func (f *fakeWorld) RemovePlayer(_ context.Context, id player.ID, roomID string) error {
	f.removes = append(f.removes, fmt.Sprintf("%s:%s", id, roomID))
	return nil
}

type fakePresence struct {
	movements []string
}

func (f *fakePresence) HandlePlayerMovement(_ context.Context, id player.ID, oldRoom, newRoom string) {
	f.movements = append(f.movements, fmt.Sprintf("%s:%s->%s", id, oldRoom, newRoom))
}

func TestPlayerEntered_UpdatesWorldAndPresence(t *testing.T) {
	conns := newFakeConns("a")
	rooms := &fakeRooms{players: map[string][]player.ID{"r2": {"a"}}}
	world := &fakeWorld{}
	pres := &fakePresence{}
	d := NewDispatcher(rooms, conns, world, pres, nil)

	msg := map[string]any{
		"event_type": EventPlayerEntered,
		"data": map[string]any{
			"room_id":      "r2",
			"from_room_id": "r1",
			"player_id":    "p1",
		},
	}
	if err := d.HandleEventMessage(context.Background(), msg); err != nil {
		t.Fatalf("HandleEventMessage: %v", err)
	}

	if len(world.moves) != 1 || world.moves[0] != "p1:r1->r2" {
		t.Errorf("world moves = %v", world.moves)
	}
	if len(pres.movements) != 1 || pres.movements[0] != "p1:r1->r2" {
		t.Errorf("presence movements = %v", pres.movements)
	}
	if len(conns.deliveries["a"]) != 1 {
		t.Error("arrival should still be announced to the room")
	}
}

func TestPlayerLeft_RemovesFromWorldAndPresence(t *testing.T) {
	conns := newFakeConns("a")
	rooms := &fakeRooms{players: map[string][]player.ID{"r1": {"a"}}}
	world := &fakeWorld{}
	pres := &fakePresence{}
	d := NewDispatcher(rooms, conns, world, pres, nil)

	msg := map[string]any{
		"event_type": EventPlayerLeft,
		"data":       map[string]any{"room_id": "r1", "player_id": "p1"},
	}
	if err := d.HandleEventMessage(context.Background(), msg); err != nil {
		t.Fatalf("HandleEventMessage: %v", err)
	}

	if len(world.removes) != 1 || world.removes[0] != "p1:r1" {
		t.Errorf("world removes = %v", world.removes)
	}
	if len(pres.movements) != 1 || pres.movements[0] != "p1:r1->" {
		t.Errorf("presence movements = %v", pres.movements)
	}
	if len(conns.deliveries["a"]) != 1 {
		t.Error("departure should still be announced to the room")
	}
}

func TestPlayerEntered_MissingPlayerIDStillBroadcasts(t *testing.T) {
	conns := newFakeConns("a")
	rooms := &fakeRooms{players: map[string][]player.ID{"r1": {"a"}}}
	world := &fakeWorld{}
	d := NewDispatcher(rooms, conns, world, &fakePresence{}, nil)

	msg := map[string]any{
		"event_type": EventPlayerEntered,
		"data":       map[string]any{"room_id": "r1"},
	}
	if err := d.HandleEventMessage(context.Background(), msg); err != nil {
		t.Fatalf("HandleEventMessage: %v", err)
	}
	if len(world.moves) != 0 {
		t.Error("no membership update without a player_id")
	}
	if len(conns.deliveries["a"]) != 1 {
		t.Error("broadcast should happen regardless")
	}
}

func TestNPCDied_RepublishesOnBus(t *testing.T) {
	conns := newFakeConns("a")
	rooms := &fakeRooms{players: map[string][]player.ID{"r1": {"a"}}}
	b := bus.New()
	ch := b.Subscribe(NPCStream)
	d := NewDispatcher(rooms, conns, nil, nil, b)

	msg := map[string]any{
		"event_type": EventNPCDied,
		"data":       map[string]any{"room_id": "r1", "npc_id": "rat-3"},
	}
	if err := d.HandleEventMessage(context.Background(), msg); err != nil {
		t.Fatalf("HandleEventMessage: %v", err)
	}

	if len(conns.deliveries["a"]) != 1 {
		t.Error("death should be broadcast to the room")
	}

	select {
	case ev := <-ch:
		if ev.Type != EventNPCDied || ev.Data["npc_id"] != "rat-3" {
			t.Errorf("bus event = %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("npc death was not republished on the bus")
	}
}

func TestNPCDied_NilBusIsFine(t *testing.T) {
	conns := newFakeConns("a")
	rooms := &fakeRooms{players: map[string][]player.ID{"r1": {"a"}}}
	d := NewDispatcher(rooms, conns, nil, nil, nil)

	msg := map[string]any{
		"event_type": EventNPCDied,
		"data":       map[string]any{"room_id": "r1", "npc_id": "rat-3"},
	}
	if err := d.HandleEventMessage(context.Background(), msg); err != nil {
		t.Errorf("nil bus should be tolerated: %v", err)
	}
}
