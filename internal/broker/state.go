package broker

import (
	"sync/atomic"
	"time"
)

// ConnState represents the connection state machine:
// Disconnected -> Connecting -> Connected -> (on error/close) Disconnected
// or Reconnecting -> Connected|Disconnected.
type ConnState int32

// Connection states.
const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

// String returns the state name for logs and the health endpoint.
func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// connGate tracks connection state and the backoff window that gates new
// connect attempts after a failure.
type connGate struct {
	state       atomic.Int32
	lastFailure atomic.Int64 // unix nanos of last connect failure, 0 if none
	backoff     atomic.Int64 // current backoff window in nanos
	retries     atomic.Int32
	maxBackoff  time.Duration
	baseBackoff time.Duration
}

func newConnGate(base, max time.Duration) *connGate {
	g := &connGate{baseBackoff: base, maxBackoff: max}
	g.backoff.Store(int64(base))
	return g
}

func (g *connGate) current() ConnState { return ConnState(g.state.Load()) }

func (g *connGate) set(s ConnState) { g.state.Store(int32(s)) }

// canAttemptConnection denies a new attempt while a connect is already in
// flight, while connected, or while the backoff window from the last failure
// has not elapsed.
func (g *connGate) canAttemptConnection() bool {
	switch g.current() {
	case StateConnecting, StateConnected:
		return false
	}
	last := g.lastFailure.Load()
	if last == 0 {
		return true
	}
	window := time.Duration(g.backoff.Load())
	return time.Since(time.Unix(0, last)) >= window
}

// recordFailure notes a failed connect attempt and doubles the backoff
// window up to the configured maximum.
func (g *connGate) recordFailure() {
	g.retries.Add(1)
	g.lastFailure.Store(time.Now().UnixNano())

	next := time.Duration(g.backoff.Load()) * 2
	if next > g.maxBackoff {
		next = g.maxBackoff
	}
	g.backoff.Store(int64(next))
}

// reset clears the failure bookkeeping after a successful connect.
func (g *connGate) reset() {
	g.retries.Store(0)
	g.lastFailure.Store(0)
	g.backoff.Store(int64(g.baseBackoff))
}
