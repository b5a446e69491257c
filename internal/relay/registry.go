// Package relay implements the real-time hub core: the connection registry,
// voice rooms with screen sharing, the 1:1 call signaling router and the
// dispatcher that routes every inbound frame to them.
//
// All state is in memory. Each room and each call carries its own mutex;
// the maps that index them are guarded by short-lived locks of their own.
// Outbound delivery goes through Peer, whose methods only enqueue, so it is
// safe to call them while holding any of these locks.
package relay

import (
	"sync"
	"sync/atomic"

	"github.com/Tyrowin/voicehub/internal/protocol"
)

// Peer is the outbound half of a connection.
type Peer interface {
	// Send queues a control message. Control messages are never dropped; a
	// peer that cannot keep up is disconnected instead.
	Send(msg []byte) bool
	// SendLossy queues a media frame and may discard it when the peer's
	// media queue is full.
	SendLossy(msg []byte) bool
}

// ConnID identifies a connection for its lifetime.
type ConnID uint64

// Conn is the registry's handle for one open channel.
type Conn struct {
	id      ConnID
	channel protocol.Channel
	peer    Peer

	mu       sync.Mutex
	username string
	room     string
	closed   bool
}

func (c *Conn) ID() ConnID { return c.id }

func (c *Conn) Channel() protocol.Channel { return c.channel }

// Username returns the name bound by join or register, or "".
func (c *Conn) Username() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.username
}

// Room returns the key of the room the connection is in, or "".
func (c *Conn) Room() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room
}

func (c *Conn) send(msg []byte) bool {
	if msg == nil {
		return false
	}
	return c.peer.Send(msg)
}

func (c *Conn) sendLossy(msg []byte) bool {
	if msg == nil {
		return false
	}
	return c.peer.SendLossy(msg)
}

// markClosed flips the closed flag and reports whether this call did it.
func (c *Conn) markClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.closed = true
	return true
}

// Registry tracks every open connection.
type Registry struct {
	next atomic.Uint64

	mu    sync.RWMutex
	conns map[ConnID]*Conn
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[ConnID]*Conn)}
}

// Open registers a new connection for peer on the given channel.
func (r *Registry) Open(peer Peer, channel protocol.Channel) *Conn {
	c := &Conn{
		id:      ConnID(r.next.Add(1)),
		channel: channel,
		peer:    peer,
	}
	r.mu.Lock()
	r.conns[c.id] = c
	r.mu.Unlock()
	return c
}

// Lookup returns the live connection with the given id.
func (r *Registry) Lookup(id ConnID) (*Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	return c, ok
}

func (r *Registry) SetUsername(c *Conn, name string) {
	c.mu.Lock()
	c.username = name
	c.mu.Unlock()
}

func (r *Registry) SetRoom(c *Conn, key string) {
	c.mu.Lock()
	c.room = key
	c.mu.Unlock()
}

// Len returns the number of open connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// forget drops the handle. Callers run room and call cleanup first.
func (r *Registry) forget(c *Conn) {
	r.mu.Lock()
	delete(r.conns, c.id)
	r.mu.Unlock()
}
