// Package events validates and routes non-chat domain events (presence,
// combat, NPC lifecycle) to handlers that broadcast to rooms and notify
// participants. Selected events are also republished onto the in-process
// event bus for other subsystems.
package events

import (
	"context"
	"fmt"
	"log"

	"github.com/emberwood/gameserver/internal/bus"
	"github.com/emberwood/gameserver/internal/player"
)

// Domain event types.
const (
	EventPlayerEntered = "player_entered"
	EventPlayerLeft    = "player_left"
	EventGameTick      = "game_tick"
	EventCombatStarted = "combat_started"
	EventCombatEnded   = "combat_ended"
	EventPlayerAttack  = "player_attacked"
	EventNPCAttacked   = "npc_attacked"
	EventNPCTookDamage = "npc_took_damage"
	EventNPCDied       = "npc_died"
)

// NPCStream is the in-process bus stream for NPC lifecycle events.
const NPCStream = "npc"

// RoomResolver returns the connected players in a room.
type RoomResolver interface {
	Players(ctx context.Context, roomID string) ([]player.ID, error)
}

// Deliverer is the connection layer's delivery primitive.
type Deliverer interface {
	Deliver(id player.ID, envelope any) error
	Players() []player.ID
}

// WorldWriter updates durable room membership for movement events.
type WorldWriter interface {
	MovePlayer(ctx context.Context, id player.ID, oldRoom, newRoom string) error
	RemovePlayer(ctx context.Context, id player.ID, roomID string) error
}

// PresenceSink reacts to players moving between rooms so subzone
// subscriptions follow the population.
type PresenceSink interface {
	HandlePlayerMovement(ctx context.Context, id player.ID, oldRoom, newRoom string)
}

// eventEnvelope is the payload delivered to clients for domain events.
type eventEnvelope struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

type handlerFunc func(ctx context.Context, data map[string]any)

// Dispatcher routes validated domain events to their handlers.
type Dispatcher struct {
	rooms    RoomResolver
	conns    Deliverer
	world    WorldWriter  // optional; nil skips membership updates
	presence PresenceSink // optional; nil skips subscription moves
	bus      *bus.Bus     // optional; nil disables republishing
	handlers map[string]handlerFunc
}

// NewDispatcher creates a Dispatcher. World, presence, and bus may each be
// nil; broadcasts still happen without them.
func NewDispatcher(rooms RoomResolver, conns Deliverer, world WorldWriter, presence PresenceSink, b *bus.Bus) *Dispatcher {
	d := &Dispatcher{rooms: rooms, conns: conns, world: world, presence: presence, bus: b}
	d.handlers = map[string]handlerFunc{
		EventPlayerEntered: d.handlePlayerEntered,
		EventPlayerLeft:    d.handlePlayerLeft,
		EventGameTick:      d.handleGameTick,
		EventCombatStarted: d.handleCombat(EventCombatStarted, true),
		EventCombatEnded:   d.handleCombat(EventCombatEnded, false),
		EventPlayerAttack:  d.handleRoomEvent(EventPlayerAttack),
		EventNPCAttacked:   d.handleRoomEvent(EventNPCAttacked),
		EventNPCTookDamage: d.handleRoomEvent(EventNPCTookDamage),
		EventNPCDied:       d.handleNPCDied,
	}
	return d
}

// ValidateEventMessage checks the minimum shape of an event message.
func ValidateEventMessage(eventType string, data map[string]any) bool {
	return eventType != "" && len(data) > 0
}

// HandleEventMessage validates an event message and routes it to the
// matching handler. Broker-layer and delivery errors during dispatch are
// logged, never raised.
func (d *Dispatcher) HandleEventMessage(ctx context.Context, msg map[string]any) error {
	eventType, _ := msg["event_type"].(string)
	data, _ := msg["data"].(map[string]any)

	if !ValidateEventMessage(eventType, data) {
		return fmt.Errorf("events: invalid event message (type=%q)", eventType)
	}

	handler, ok := d.handlers[eventType]
	if !ok {
		log.Printf("[events] no handler for event type %q", eventType)
		return nil
	}

	handler(ctx, data)
	return nil
}

// handlePlayerEntered moves the player into the room (membership first, so
// the broadcast below includes them) and shifts subzone subscriptions, then
// announces the arrival to the room.
func (d *Dispatcher) handlePlayerEntered(ctx context.Context, data map[string]any) {
	roomID, _ := data["room_id"].(string)
	if roomID == "" {
		return
	}
	fromRoom, _ := data["from_room_id"].(string)

	if id, ok := player.Normalize(data["player_id"]); ok {
		if d.world != nil {
			if err := d.world.MovePlayer(ctx, id, fromRoom, roomID); err != nil {
				log.Printf("[events] move player %s: %v", id, err)
			}
		}
		if d.presence != nil {
			d.presence.HandlePlayerMovement(ctx, id, fromRoom, roomID)
		}
	}

	d.broadcastToRoom(ctx, roomID, eventEnvelope{Type: EventPlayerEntered, Data: data})
}

// handlePlayerLeft announces the departure first (so the player's former
// roommates hear it), then removes them from the room and drops their
// subzone interest.
func (d *Dispatcher) handlePlayerLeft(ctx context.Context, data map[string]any) {
	roomID, _ := data["room_id"].(string)
	if roomID == "" {
		return
	}

	d.broadcastToRoom(ctx, roomID, eventEnvelope{Type: EventPlayerLeft, Data: data})

	if id, ok := player.Normalize(data["player_id"]); ok {
		if d.world != nil {
			if err := d.world.RemovePlayer(ctx, id, roomID); err != nil {
				log.Printf("[events] remove player %s: %v", id, err)
			}
		}
		if d.presence != nil {
			d.presence.HandlePlayerMovement(ctx, id, roomID, "")
		}
	}
}

// handleRoomEvent broadcasts an event to everyone in its room. Events
// without a room_id are no-ops.
func (d *Dispatcher) handleRoomEvent(eventType string) handlerFunc {
	return func(ctx context.Context, data map[string]any) {
		roomID, _ := data["room_id"].(string)
		if roomID == "" {
			return
		}
		d.broadcastToRoom(ctx, roomID, eventEnvelope{Type: eventType, Data: data})
	}
}

// handleGameTick broadcasts the tick to every connected player.
func (d *Dispatcher) handleGameTick(_ context.Context, data map[string]any) {
	env := eventEnvelope{Type: EventGameTick, Data: data}
	for _, id := range d.conns.Players() {
		if err := d.conns.Deliver(id, env); err != nil {
			log.Printf("[events] tick delivery to %s: %v", id, err)
		}
	}
}

// handleCombat broadcasts to the room (when known) and additionally sends
// each participant a personal combat status update. Participants without a
// live connection are skipped, not errors.
func (d *Dispatcher) handleCombat(eventType string, inCombat bool) handlerFunc {
	return func(ctx context.Context, data map[string]any) {
		if roomID, _ := data["room_id"].(string); roomID != "" {
			d.broadcastToRoom(ctx, roomID, eventEnvelope{Type: eventType, Data: data})
		}

		status := eventEnvelope{
			Type: "combat_status",
			Data: map[string]any{"in_combat": inCombat},
		}
		for _, id := range participants(data) {
			if err := d.conns.Deliver(id, status); err != nil {
				// Participant not connected here; another node may hold them.
				continue
			}
		}
	}
}

// handleNPCDied broadcasts the death to the room and republishes it on the
// in-process bus so loot/respawn subsystems can react without a broker
// round-trip.
func (d *Dispatcher) handleNPCDied(ctx context.Context, data map[string]any) {
	roomID, _ := data["room_id"].(string)
	if roomID == "" {
		return
	}
	d.broadcastToRoom(ctx, roomID, eventEnvelope{Type: EventNPCDied, Data: data})

	if d.bus != nil {
		d.bus.Publish(bus.Event{Stream: NPCStream, Type: EventNPCDied, Data: data})
	}
}

func (d *Dispatcher) broadcastToRoom(ctx context.Context, roomID string, env eventEnvelope) {
	players, err := d.rooms.Players(ctx, roomID)
	if err != nil {
		log.Printf("[events] players in room %s: %v", roomID, err)
		return
	}
	for _, id := range players {
		if err := d.conns.Deliver(id, env); err != nil {
			log.Printf("[events] delivery to %s: %v", id, err)
		}
	}
}

// participants extracts the participant player IDs from a combat payload.
func participants(data map[string]any) []player.ID {
	raw, _ := data["participants"].([]any)
	out := make([]player.ID, 0, len(raw))
	for _, v := range raw {
		if id, ok := player.Normalize(v); ok {
			out = append(out, id)
		}
	}
	return out
}
