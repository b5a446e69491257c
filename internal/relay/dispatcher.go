package relay

import (
	"errors"
	"log/slog"

	"github.com/Tyrowin/voicehub/internal/metrics"
	"github.com/Tyrowin/voicehub/internal/protocol"
)

// Presence answers "is username X currently connected".
type Presence interface {
	Online(username string) bool
	OnlineUsers() []string
}

// Dispatcher is the single entry point for inbound frames. It owns the
// registry, the rooms and the call router for the lifetime of the process.
type Dispatcher struct {
	registry *Registry
	rooms    *RoomRelay
	calls    *CallRouter
	log      *slog.Logger
	metrics  *metrics.Metrics
}

// NewDispatcher wires a fresh registry, room relay and call router together.
func NewDispatcher(logger *slog.Logger, m *metrics.Metrics) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	registry := NewRegistry()
	return &Dispatcher{
		registry: registry,
		rooms:    NewRoomRelay(registry, logger, m),
		calls:    NewCallRouter(registry, logger, m),
		log:      logger,
		metrics:  m,
	}
}

func (d *Dispatcher) Registry() *Registry { return d.registry }

func (d *Dispatcher) Rooms() *RoomRelay { return d.rooms }

func (d *Dispatcher) Calls() *CallRouter { return d.calls }

// Presence returns the username source backed by the call router.
func (d *Dispatcher) Presence() Presence { return d.calls }

// Open registers a new connection on channel.
func (d *Dispatcher) Open(peer Peer, channel protocol.Channel) *Conn {
	c := d.registry.Open(peer, channel)
	d.metrics.ConnectionOpened(string(channel))
	d.log.Debug("conn.open", "conn", c.ID(), "channel", channel)
	return c
}

// Handle routes one inbound frame according to the channel c was opened on.
func (d *Dispatcher) Handle(c *Conn, raw []byte) {
	switch c.Channel() {
	case protocol.ChannelRoom:
		d.HandleRoom(c, raw)
	case protocol.ChannelCall:
		d.HandleCall(c, raw)
	default:
		d.log.Warn("dispatch.unknown_channel", "conn", c.ID(), "channel", c.Channel())
	}
}

// HandleRoom processes one frame from a room channel.
func (d *Dispatcher) HandleRoom(c *Conn, raw []byte) {
	msg, err := protocol.DecodeRoom(raw)
	if err != nil {
		d.metrics.ProtocolError(string(protocol.ChannelRoom))
		d.log.Debug("dispatch.malformed", "conn", c.ID(), "channel", protocol.ChannelRoom, "error", err)
		d.replyRoom(c, err)
		return
	}

	var kind protocol.Kind
	switch m := msg.(type) {
	case protocol.Join:
		kind = protocol.KindJoin
		d.rooms.Join(c, m.RoomID, m.Username)
	case protocol.Audio:
		kind = protocol.KindAudio
		err = d.rooms.RelayAudio(c, m.Data)
	case protocol.ScreenStart:
		kind = protocol.KindScreenStart
		err = d.rooms.StartScreenShare(c)
	case protocol.ScreenStop:
		kind = protocol.KindScreenStop
		d.rooms.StopScreenShare(c)
	case protocol.ScreenFrame:
		kind = protocol.KindScreenFrame
		err = d.rooms.RelayScreenFrame(c, m.Data)
	case protocol.Unrecognized:
		d.metrics.MessageReceived(string(protocol.ChannelRoom), "unknown")
		d.log.Info("dispatch.ignored", "conn", c.ID(), "channel", protocol.ChannelRoom, "kind", m.Kind)
		return
	}

	d.metrics.MessageReceived(string(protocol.ChannelRoom), string(kind))
	if err != nil {
		d.log.Debug("room.rejected", "conn", c.ID(), "kind", kind, "error", err)
		d.replyRoom(c, err)
	}
}

// HandleCall processes one frame from a call signaling channel.
func (d *Dispatcher) HandleCall(c *Conn, raw []byte) {
	msg, err := protocol.DecodeCall(raw)
	if err != nil {
		d.metrics.ProtocolError(string(protocol.ChannelCall))
		d.log.Debug("dispatch.malformed", "conn", c.ID(), "channel", protocol.ChannelCall, "error", err)
		d.replyCall(c, err)
		return
	}

	var kind protocol.Kind
	switch m := msg.(type) {
	case protocol.Register:
		kind = protocol.KindRegister
		err = d.calls.Register(c, m.Username)
	case protocol.CallRequest:
		kind = protocol.KindCallRequest
		err = d.calls.Request(c, m.ToUser, m.Kind)
	case protocol.CallAccept:
		kind = protocol.KindCallAccept
		err = d.calls.Accept(c, m.CallID)
	case protocol.CallReject:
		kind = protocol.KindCallReject
		err = d.calls.Reject(c, m.CallID)
	case protocol.CallEnd:
		kind = protocol.KindCallEnd
		err = d.calls.End(c, m.CallID)
	case protocol.Relay:
		kind = m.Kind
		err = d.calls.Relay(c, m)
	case protocol.Unrecognized:
		d.metrics.MessageReceived(string(protocol.ChannelCall), "unknown")
		d.log.Info("dispatch.ignored", "conn", c.ID(), "channel", protocol.ChannelCall, "kind", m.Kind)
		return
	}

	d.metrics.MessageReceived(string(protocol.ChannelCall), string(kind))
	if err != nil {
		d.log.Debug("call.rejected", "conn", c.ID(), "kind", kind, "error", err)
		d.replyCall(c, err)
	}
}

// Close runs room and call cleanup for c and then forgets it. Only the first
// call for a given connection has any effect.
func (d *Dispatcher) Close(c *Conn) {
	if !c.markClosed() {
		return
	}
	d.rooms.Leave(c)
	d.calls.Disconnect(c)
	d.registry.forget(c)
	d.metrics.ConnectionClosed(string(c.Channel()))
	d.log.Debug("conn.close", "conn", c.ID(), "channel", c.Channel(), "user", c.Username())
}

func (d *Dispatcher) replyRoom(c *Conn, err error) {
	c.send(protocol.Encode(protocol.Error{Type: protocol.KindError, Message: err.Error()}))
}

func (d *Dispatcher) replyCall(c *Conn, err error) {
	var busy *BusyError
	if errors.As(err, &busy) {
		c.send(protocol.Encode(protocol.NewSignal(protocol.KindCallBusy, busy.Callee, c.Username(), "", nil)))
		return
	}
	c.send(protocol.Encode(protocol.CallError(c.Username(), err.Error())))
}
