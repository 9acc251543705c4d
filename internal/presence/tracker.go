// Package presence tracks which subzones have connected listeners. Subzone
// broker subscriptions are reference counted: the first interested player
// triggers a subscribe, the last departure triggers an unsubscribe, and
// everything in between is pure bookkeeping.
package presence

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/emberwood/gameserver/internal/broker"
	"github.com/emberwood/gameserver/internal/player"
	"github.com/emberwood/gameserver/internal/subject"
)

// SubzoneBroker is the slice of the broker client the tracker drives.
type SubzoneBroker interface {
	Subscribe(subj string, h broker.Handler) error
	Unsubscribe(subj string) bool
}

// RoomLocator resolves a room to its subzone. An unknown room resolves to
// an empty subzone with a nil error.
type RoomLocator interface {
	Subzone(ctx context.Context, roomID string) (string, error)
}

// Tracker owns the subzone interest table and the player-to-subzone map.
// All mutations are serialized by a single mutex so reference counts stay
// consistent under concurrent movement events.
type Tracker struct {
	subjects  *subject.Builder
	broker    SubzoneBroker
	rooms     RoomLocator
	onMessage broker.Handler

	mu      sync.Mutex
	counts  map[string]int
	players map[player.ID]string
}

// NewTracker creates a Tracker. The subject builder is a required
// collaborator; construction fails without one.
func NewTracker(subjects *subject.Builder, b SubzoneBroker, rooms RoomLocator, onMessage broker.Handler) (*Tracker, error) {
	if subjects == nil {
		return nil, errors.New("presence: subject builder is required")
	}
	return &Tracker{
		subjects:  subjects,
		broker:    b,
		rooms:     rooms,
		onMessage: onMessage,
		counts:    make(map[string]int),
		players:   make(map[player.ID]string),
	}, nil
}

// SubscribeToSubzone registers interest in a subzone. The first interested
// party triggers a broker subscribe; on broker failure the count is left
// unchanged and false is returned.
func (t *Tracker) SubscribeToSubzone(subzone string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.subscribeLocked(subzone)
}

func (t *Tracker) subscribeLocked(subzone string) bool {
	if t.counts[subzone] == 0 {
		subj, err := t.subjects.Local(subzone)
		if err != nil {
			log.Printf("[presence] bad subzone subject for %q: %v", subzone, err)
			return false
		}
		if err := t.broker.Subscribe(subj, t.onMessage); err != nil {
			log.Printf("[presence] subscribe subzone %q: %v", subzone, err)
			return false
		}
	}
	t.counts[subzone]++
	return true
}

// UnsubscribeFromSubzone drops one unit of interest. The last departure
// triggers a broker unsubscribe; on broker failure the count is left
// unchanged and false is returned. Returns false if the subzone has no
// interest on record.
func (t *Tracker) UnsubscribeFromSubzone(subzone string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.unsubscribeLocked(subzone)
}

func (t *Tracker) unsubscribeLocked(subzone string) bool {
	n := t.counts[subzone]
	if n == 0 {
		return false
	}
	if n == 1 {
		subj, err := t.subjects.Local(subzone)
		if err != nil {
			log.Printf("[presence] bad subzone subject for %q: %v", subzone, err)
			return false
		}
		if !t.broker.Unsubscribe(subj) {
			return false
		}
		delete(t.counts, subzone)
		return true
	}
	t.counts[subzone] = n - 1
	return true
}

// TrackPlayerSubzone records a player's current subzone. If the player had
// a different previous subzone its count is decremented as bookkeeping only;
// no broker call is made here. Stale zero-count entries are swept by
// CleanupEmptySubzones.
func (t *Tracker) TrackPlayerSubzone(id player.ID, subzone string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	prev, ok := t.players[id]
	if ok && prev != subzone && t.counts[prev] > 0 {
		t.counts[prev]--
	}
	t.players[id] = subzone
}

// PlayersInSubzone returns all players currently mapped to a subzone.
func (t *Tracker) PlayersInSubzone(subzone string) []player.ID {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []player.ID
	for id, sz := range t.players {
		if sz == subzone {
			out = append(out, id)
		}
	}
	return out
}

// SubzoneOf returns the subzone a player is currently tracked in.
func (t *Tracker) SubzoneOf(id player.ID) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	sz, ok := t.players[id]
	return sz, ok
}

// HandlePlayerMovement reacts to a player moving between rooms. It resolves
// both rooms to subzones and, when they differ, subscribes the new subzone
// and unsubscribes the old. Unknown rooms degrade gracefully: the missing
// half is skipped and tracking still updates for the known half. Movement
// handling never propagates an error; it is invoked from event handlers
// that must keep processing.
func (t *Tracker) HandlePlayerMovement(ctx context.Context, id player.ID, oldRoom, newRoom string) {
	oldSubzone := t.resolveSubzone(ctx, oldRoom)
	newSubzone := t.resolveSubzone(ctx, newRoom)

	if newSubzone == oldSubzone {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if newSubzone != "" {
		if !t.subscribeLocked(newSubzone) {
			log.Printf("[presence] movement: subscribe %q failed for player %s", newSubzone, id)
		} else {
			// The interest unit now belongs to this player; update the
			// mapping directly so counts stay one-per-player.
			t.players[id] = newSubzone
		}
	}
	if oldSubzone != "" {
		if !t.unsubscribeLocked(oldSubzone) {
			log.Printf("[presence] movement: unsubscribe %q failed for player %s", oldSubzone, id)
		}
		if newSubzone == "" {
			delete(t.players, id)
		}
	}
}

func (t *Tracker) resolveSubzone(ctx context.Context, roomID string) string {
	if roomID == "" || t.rooms == nil {
		return ""
	}
	subzone, err := t.rooms.Subzone(ctx, roomID)
	if err != nil {
		log.Printf("[presence] resolve subzone for room %q: %v", roomID, err)
		return ""
	}
	return subzone
}

// CleanupEmptySubzones unsubscribes tracked subzones whose count reached
// zero through bookkeeping or whose player list is empty. Individual broker
// failures are logged and tolerated.
func (t *Tracker) CleanupEmptySubzones() {
	t.mu.Lock()
	defer t.mu.Unlock()

	occupied := make(map[string]int)
	for _, sz := range t.players {
		occupied[sz]++
	}

	for subzone, n := range t.counts {
		if n > 0 && occupied[subzone] > 0 {
			continue
		}
		subj, err := t.subjects.Local(subzone)
		if err != nil {
			log.Printf("[presence] cleanup: bad subject for %q: %v", subzone, err)
			continue
		}
		if !t.broker.Unsubscribe(subj) {
			log.Printf("[presence] cleanup: unsubscribe %q failed", subzone)
			continue
		}
		delete(t.counts, subzone)
	}
}
