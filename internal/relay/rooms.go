package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/Tyrowin/voicehub/internal/metrics"
	"github.com/Tyrowin/voicehub/internal/protocol"
)

var (
	ErrNotInRoom  = errors.New("not in a room")
	ErrScreenBusy = errors.New("screen is already being shared")
	ErrNotSharer  = errors.New("not the active screen sharer")
)

type member struct {
	conn     *Conn
	username string
}

// Room is a named group of voice participants. A room is closed once its
// last member leaves; a closed room is never reused.
type Room struct {
	key string

	mu      sync.Mutex
	members []*member
	sharer  *member
	closed  bool
}

// RoomInfo is a point-in-time view of a room.
type RoomInfo struct {
	RoomID       string   `json:"room_id"`
	Users        []string `json:"users"`
	ScreenSharer *string  `json:"screen_sharer"`
	ScreenActive bool     `json:"screen_active"`
}

// RoomRelay owns every room and fans audio, screen frames and roster updates
// out to their members.
type RoomRelay struct {
	registry *Registry
	log      *slog.Logger
	metrics  *metrics.Metrics

	mu    sync.Mutex
	rooms map[string]*Room
}

// NewRoomRelay creates an empty relay. logger and m may be nil.
func NewRoomRelay(registry *Registry, logger *slog.Logger, m *metrics.Metrics) *RoomRelay {
	if logger == nil {
		logger = slog.Default()
	}
	return &RoomRelay{
		registry: registry,
		log:      logger,
		metrics:  m,
		rooms:    make(map[string]*Room),
	}
}

// Join adds c to the room named key under username, creating the room if
// needed. Joining the room c is already in replaces its member entry; joining
// a different room leaves the current one first.
func (rr *RoomRelay) Join(c *Conn, key, username string) {
	if current := c.Room(); current != "" && current != key {
		rr.Leave(c)
	}

	for {
		room := rr.getOrCreate(key)
		room.mu.Lock()
		if room.closed {
			// Emptied and removed between lookup and lock.
			room.mu.Unlock()
			continue
		}

		rr.registry.SetRoom(c, key)
		rr.registry.SetUsername(c, username)
		added := room.upsert(c, username)

		room.broadcast(protocol.Encode(room.rosterLocked()), nil)
		if added {
			room.broadcast(protocol.Encode(protocol.MemberEvent{
				Type:     protocol.KindUserJoined,
				Username: username,
			}), c)
		}
		size := len(room.members)
		room.mu.Unlock()

		rr.log.Info("room.join", "room", key, "user", username, "members", size, "rejoin", !added)
		return
	}
}

// Leave removes c from its room. It is a no-op for connections that are not
// in a room.
func (rr *RoomRelay) Leave(c *Conn) {
	key := c.Room()
	if key == "" {
		return
	}
	rr.registry.SetRoom(c, "")

	rr.mu.Lock()
	room := rr.rooms[key]
	rr.mu.Unlock()
	if room == nil {
		return
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	m := room.remove(c)
	if m == nil {
		return
	}

	if room.sharer == m {
		room.sharer = nil
		room.broadcast(protocol.Encode(protocol.ScreenState{
			Type:   protocol.KindScreenState,
			Sharer: nil,
			Active: false,
		}), nil)
		rr.log.Info("room.screen_stop", "room", key, "user", m.username, "reason", "left")
	}

	room.broadcast(protocol.Encode(protocol.MemberEvent{
		Type:     protocol.KindUserLeft,
		Username: m.username,
	}), nil)
	room.broadcast(protocol.Encode(room.rosterLocked()), nil)

	rr.log.Info("room.leave", "room", key, "user", m.username, "members", len(room.members))

	if len(room.members) == 0 {
		room.closed = true
		rr.mu.Lock()
		if rr.rooms[key] == room {
			delete(rr.rooms, key)
			rr.metrics.RoomClosed()
		}
		rr.mu.Unlock()
		rr.log.Info("room.deleted", "room", key)
	}
}

// RelayAudio forwards one audio frame to every other member of c's room.
func (rr *RoomRelay) RelayAudio(c *Conn, data json.RawMessage) error {
	return rr.relayFrame(c, protocol.KindAudio, data, false)
}

// RelayScreenFrame forwards one screen frame from the active sharer to every
// other member of the room.
func (rr *RoomRelay) RelayScreenFrame(c *Conn, data json.RawMessage) error {
	return rr.relayFrame(c, protocol.KindScreenFrame, data, true)
}

func (rr *RoomRelay) relayFrame(c *Conn, kind protocol.Kind, data json.RawMessage, sharerOnly bool) error {
	room := rr.roomOf(c)
	if room == nil {
		return ErrNotInRoom
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	m := room.find(c)
	if m == nil {
		return ErrNotInRoom
	}
	if sharerOnly && room.sharer != m {
		return ErrNotSharer
	}

	msg := protocol.Encode(protocol.Frame{Type: kind, FromUser: m.username, Data: data})
	for _, other := range room.members {
		if other == m {
			continue
		}
		rr.metrics.Frame(string(kind), other.conn.sendLossy(msg))
	}
	return nil
}

// StartScreenShare makes c the room's active sharer. It fails with
// ErrScreenBusy when someone else is sharing and does nothing when c already is.
func (rr *RoomRelay) StartScreenShare(c *Conn) error {
	room := rr.roomOf(c)
	if room == nil {
		return ErrNotInRoom
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	m := room.find(c)
	switch {
	case m == nil:
		return ErrNotInRoom
	case room.sharer == m:
		return nil
	case room.sharer != nil:
		return fmt.Errorf("%w by %s", ErrScreenBusy, room.sharer.username)
	}

	room.sharer = m
	room.broadcast(protocol.Encode(protocol.ScreenState{
		Type:   protocol.KindScreenState,
		Sharer: protocol.Sharer(m.username),
		Active: true,
	}), nil)
	rr.log.Info("room.screen_start", "room", room.key, "user", m.username)
	return nil
}

// StopScreenShare clears the active sharer if it is c and is a no-op otherwise.
func (rr *RoomRelay) StopScreenShare(c *Conn) {
	room := rr.roomOf(c)
	if room == nil {
		return
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	m := room.find(c)
	if m == nil || room.sharer != m {
		return
	}

	room.sharer = nil
	room.broadcast(protocol.Encode(protocol.ScreenState{
		Type:   protocol.KindScreenState,
		Sharer: nil,
		Active: false,
	}), nil)
	rr.log.Info("room.screen_stop", "room", room.key, "user", m.username, "reason", "requested")
}

// Room returns a snapshot of the named room.
func (rr *RoomRelay) Room(key string) (RoomInfo, bool) {
	rr.mu.Lock()
	room := rr.rooms[key]
	rr.mu.Unlock()
	if room == nil {
		return RoomInfo{}, false
	}

	room.mu.Lock()
	defer room.mu.Unlock()
	if room.closed {
		return RoomInfo{}, false
	}
	return room.infoLocked(), true
}

// Snapshot lists every room ordered by key.
func (rr *RoomRelay) Snapshot() []RoomInfo {
	rr.mu.Lock()
	rooms := make([]*Room, 0, len(rr.rooms))
	for _, room := range rr.rooms {
		rooms = append(rooms, room)
	}
	rr.mu.Unlock()

	infos := make([]RoomInfo, 0, len(rooms))
	for _, room := range rooms {
		room.mu.Lock()
		if !room.closed {
			infos = append(infos, room.infoLocked())
		}
		room.mu.Unlock()
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].RoomID < infos[j].RoomID })
	return infos
}

func (rr *RoomRelay) getOrCreate(key string) *Room {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	room := rr.rooms[key]
	if room == nil {
		room = &Room{key: key}
		rr.rooms[key] = room
		rr.metrics.RoomOpened()
		rr.log.Info("room.created", "room", key)
	}
	return room
}

func (rr *RoomRelay) roomOf(c *Conn) *Room {
	key := c.Room()
	if key == "" {
		return nil
	}
	rr.mu.Lock()
	defer rr.mu.Unlock()
	return rr.rooms[key]
}

// upsert reports whether c was newly added.
func (r *Room) upsert(c *Conn, username string) bool {
	if m := r.find(c); m != nil {
		m.username = username
		return false
	}
	r.members = append(r.members, &member{conn: c, username: username})
	return true
}

func (r *Room) remove(c *Conn) *member {
	for i, m := range r.members {
		if m.conn == c {
			r.members = append(r.members[:i], r.members[i+1:]...)
			return m
		}
	}
	return nil
}

func (r *Room) find(c *Conn) *member {
	for _, m := range r.members {
		if m.conn == c {
			return m
		}
	}
	return nil
}

// broadcast queues msg as a control message for every member except skip.
func (r *Room) broadcast(msg []byte, skip *Conn) {
	for _, m := range r.members {
		if m.conn == skip {
			continue
		}
		m.conn.send(msg)
	}
}

func (r *Room) sharerName() string {
	if r.sharer == nil {
		return ""
	}
	return r.sharer.username
}

func (r *Room) usernames() []string {
	users := make([]string, 0, len(r.members))
	for _, m := range r.members {
		users = append(users, m.username)
	}
	return users
}

func (r *Room) rosterLocked() protocol.UserList {
	return protocol.UserList{
		Type:         protocol.KindUserList,
		Users:        r.usernames(),
		ScreenSharer: protocol.Sharer(r.sharerName()),
		ScreenActive: r.sharer != nil,
	}
}

func (r *Room) infoLocked() RoomInfo {
	return RoomInfo{
		RoomID:       r.key,
		Users:        r.usernames(),
		ScreenSharer: protocol.Sharer(r.sharerName()),
		ScreenActive: r.sharer != nil,
	}
}
