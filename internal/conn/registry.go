// Package conn holds the live client connections the distribution engine
// delivers into. The endpoint layer that accepts and upgrades connections
// lives elsewhere; it registers each authenticated player here and the
// engine only ever sees the per-player delivery primitive.
package conn

import (
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"

	"github.com/emberwood/gameserver/internal/player"
)

// Connection is one live WebSocket client with a write mutex serializing
// outbound frames.
type Connection struct {
	ID        string // connection ID (UUID), distinct from the player ID
	PlayerID  player.ID
	Conn      net.Conn
	CreatedAt time.Time
	writeMu   sync.Mutex
}

// WriteJSON marshals v and sends it as a WebSocket text frame.
func (c *Connection) WriteJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("conn: marshal: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wsutil.WriteServerMessage(c.Conn, ws.OpText, data)
}

// Close closes the underlying network connection.
func (c *Connection) Close() error {
	return c.Conn.Close()
}

// Registry is the goroutine-safe player -> connection table.
type Registry struct {
	mu       sync.RWMutex
	byPlayer map[player.ID]*Connection
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byPlayer: make(map[player.ID]*Connection)}
}

// Register records a player's live connection, replacing and closing any
// previous one for the same player.
func (r *Registry) Register(id player.ID, netConn net.Conn) *Connection {
	c := &Connection{
		ID:        uuid.New().String(),
		PlayerID:  id,
		Conn:      netConn,
		CreatedAt: time.Now(),
	}

	r.mu.Lock()
	prev := r.byPlayer[id]
	r.byPlayer[id] = c
	r.mu.Unlock()

	if prev != nil {
		_ = prev.Close()
	}
	return c
}

// Remove drops a player's connection and closes it. Returns false if the
// player had no connection.
func (r *Registry) Remove(id player.ID) bool {
	r.mu.Lock()
	c, ok := r.byPlayer[id]
	if ok {
		delete(r.byPlayer, id)
	}
	r.mu.Unlock()

	if ok {
		_ = c.Close()
	}
	return ok
}

// Get returns a player's connection, or nil.
func (r *Registry) Get(id player.ID) *Connection {
	r.mu.RLock()
	c := r.byPlayer[id]
	r.mu.RUnlock()
	return c
}

// Players returns a snapshot of all connected player IDs.
func (r *Registry) Players() []player.ID {
	r.mu.RLock()
	out := make([]player.ID, 0, len(r.byPlayer))
	for id := range r.byPlayer {
		out = append(out, id)
	}
	r.mu.RUnlock()
	return out
}

// Count returns the number of live connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	n := len(r.byPlayer)
	r.mu.RUnlock()
	return n
}

// Deliver is the per-player delivery primitive: hand the envelope to the
// player's live connection. Best effort; the caller decides whether a
// failure matters.
func (r *Registry) Deliver(id player.ID, envelope any) error {
	c := r.Get(id)
	if c == nil {
		return fmt.Errorf("conn: player %s not connected", id)
	}
	return c.WriteJSON(envelope)
}

// CloseAll closes every connection. Used during shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	conns := make([]*Connection, 0, len(r.byPlayer))
	for _, c := range r.byPlayer {
		conns = append(conns, c)
	}
	r.byPlayer = make(map[player.ID]*Connection)
	r.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}
}
