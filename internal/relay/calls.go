package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Tyrowin/voicehub/internal/metrics"
	"github.com/Tyrowin/voicehub/internal/protocol"
)

var (
	ErrNotRegistered = errors.New("register a username before calling")
	ErrSelfCall      = errors.New("cannot call yourself")
	ErrUserOffline   = errors.New("user is not online")
	ErrCallerBusy    = errors.New("you already have an active call")
	ErrCalleeBusy    = errors.New("user is busy")
	ErrUnknownCall   = errors.New("call not found")
	ErrNotParty      = errors.New("not a party to this call")
	ErrCallState     = errors.New("call is not in a state that allows this")
)

// BusyError is returned by Request when the callee is already in a call.
type BusyError struct {
	Callee string
}

func (e *BusyError) Error() string { return fmt.Sprintf("%s is busy", e.Callee) }

func (e *BusyError) Is(target error) bool { return target == ErrCalleeBusy }

// CallState is the lifecycle position of a call.
type CallState int

const (
	CallRinging CallState = iota
	CallConnected
	CallEnded
)

func (s CallState) String() string {
	switch s {
	case CallRinging:
		return "ringing"
	case CallConnected:
		return "connected"
	case CallEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// Call is a 1:1 signaling session between two usernames.
type Call struct {
	ID     string
	Caller string
	Callee string
	Kind   protocol.CallKind

	mu          sync.Mutex
	state       CallState
	createdAt   time.Time
	connectedAt time.Time
	endedAt     time.Time
}

func (call *Call) State() CallState {
	call.mu.Lock()
	defer call.mu.Unlock()
	return call.state
}

// other returns the counterparty of name, or "" if name is not a party.
func (call *Call) other(name string) string {
	switch name {
	case call.Caller:
		return call.Callee
	case call.Callee:
		return call.Caller
	default:
		return ""
	}
}

// CallRouter maps usernames to their signaling connection and drives the call
// state machine. Lock order: Call.mu, then usersMu, then callsMu.
type CallRouter struct {
	registry *Registry
	log      *slog.Logger
	metrics  *metrics.Metrics
	newID    func() string
	now      func() time.Time

	usersMu sync.Mutex
	users   map[string]*Conn
	busy    map[string]*Call

	callsMu sync.Mutex
	calls   map[string]*Call
}

// NewCallRouter creates a router with no registered users. logger and m may be nil.
func NewCallRouter(registry *Registry, logger *slog.Logger, m *metrics.Metrics) *CallRouter {
	if logger == nil {
		logger = slog.Default()
	}
	return &CallRouter{
		registry: registry,
		log:      logger,
		metrics:  m,
		newID:    uuid.NewString,
		now:      time.Now,
		users:    make(map[string]*Conn),
		busy:     make(map[string]*Call),
		calls:    make(map[string]*Call),
	}
}

// Register binds username to c. A later registration of the same name wins;
// the earlier connection stays open but no longer receives signaling.
func (cr *CallRouter) Register(c *Conn, username string) error {
	cr.usersMu.Lock()
	old := c.Username()
	if old != "" && old != username && cr.users[old] == c {
		if cr.busy[old] != nil {
			cr.usersMu.Unlock()
			return fmt.Errorf("cannot rename to %s: %w", username, ErrCallerBusy)
		}
		delete(cr.users, old)
	}
	prev := cr.users[username]
	cr.users[username] = c
	cr.registry.SetUsername(c, username)
	cr.usersMu.Unlock()

	if prev != nil && prev != c {
		cr.log.Info("call.register", "user", username, "conn", c.ID(), "replaced", prev.ID())
	} else {
		cr.log.Info("call.register", "user", username, "conn", c.ID())
	}

	c.send(protocol.Encode(protocol.NewSignal(protocol.KindRegistered, protocol.SystemUser, username, "", map[string]string{
		"username": username,
	})))
	return nil
}

// Request starts a call from c's user to callee. On success the callee gets
// call_request and the caller gets call_ringing with the new call id.
func (cr *CallRouter) Request(c *Conn, callee string, kind protocol.CallKind) error {
	caller := c.Username()

	cr.usersMu.Lock()
	defer cr.usersMu.Unlock()

	if caller == "" || cr.users[caller] != c {
		return ErrNotRegistered
	}
	if caller == callee {
		return ErrSelfCall
	}
	target, online := cr.users[callee]
	switch {
	case !online:
		cr.metrics.CallRefused(metrics.CallOffline)
		return fmt.Errorf("%w: %s", ErrUserOffline, callee)
	case cr.busy[caller] != nil:
		return ErrCallerBusy
	case cr.busy[callee] != nil:
		cr.metrics.CallRefused(metrics.CallBusy)
		return &BusyError{Callee: callee}
	}

	call := &Call{
		ID:        cr.newID(),
		Caller:    caller,
		Callee:    callee,
		Kind:      kind,
		state:     CallRinging,
		createdAt: cr.now(),
	}
	cr.busy[caller] = call
	cr.busy[callee] = call
	cr.callsMu.Lock()
	cr.calls[call.ID] = call
	cr.callsMu.Unlock()
	cr.metrics.CallStarted()

	target.send(protocol.Encode(protocol.NewSignal(protocol.KindCallRequest, caller, callee, call.ID, map[string]protocol.CallKind{
		"call_type": kind,
	})))
	c.send(protocol.Encode(protocol.NewSignal(protocol.KindCallRinging, protocol.SystemUser, callee, call.ID, map[string]protocol.CallKind{
		"call_type": kind,
	})))

	cr.log.Info("call.request", "call_id", call.ID, "caller", caller, "callee", callee, "kind", kind)
	return nil
}

// Accept moves a ringing call to connected. Only the callee may accept.
func (cr *CallRouter) Accept(c *Conn, callID string) error {
	call, err := cr.lookup(callID)
	if err != nil {
		return err
	}

	call.mu.Lock()
	defer call.mu.Unlock()

	name, err := cr.party(call, c)
	if err != nil {
		return err
	}
	if name != call.Callee {
		return fmt.Errorf("only %s can accept: %w", call.Callee, ErrNotParty)
	}
	if call.state != CallRinging {
		return fmt.Errorf("accept %s call: %w", call.state, ErrCallState)
	}

	call.state = CallConnected
	call.connectedAt = cr.now()
	cr.deliver(call.Caller, protocol.NewSignal(protocol.KindCallAccept, name, call.Caller, call.ID, nil))
	cr.log.Info("call.accept", "call_id", call.ID, "caller", call.Caller, "callee", call.Callee)
	return nil
}

// Reject ends a ringing call at the callee's request.
func (cr *CallRouter) Reject(c *Conn, callID string) error {
	call, err := cr.lookup(callID)
	if err != nil {
		return err
	}

	call.mu.Lock()
	defer call.mu.Unlock()

	name, err := cr.party(call, c)
	if err != nil {
		return err
	}
	if name != call.Callee {
		return fmt.Errorf("only %s can reject: %w", call.Callee, ErrNotParty)
	}
	if call.state != CallRinging {
		return fmt.Errorf("reject %s call: %w", call.state, ErrCallState)
	}

	cr.terminate(call, metrics.CallRejected)
	cr.deliver(call.Caller, protocol.NewSignal(protocol.KindCallReject, name, call.Caller, call.ID, nil))
	cr.log.Info("call.reject", "call_id", call.ID, "caller", call.Caller, "callee", call.Callee)
	return nil
}

// End hangs up a ringing or connected call. Either party may end it.
func (cr *CallRouter) End(c *Conn, callID string) error {
	call, err := cr.lookup(callID)
	if err != nil {
		return err
	}

	call.mu.Lock()
	defer call.mu.Unlock()

	name, err := cr.party(call, c)
	if err != nil {
		return err
	}

	other := call.other(name)
	cr.terminate(call, metrics.CallEnded)
	cr.deliver(other, protocol.NewSignal(protocol.KindCallEnd, name, other, call.ID, nil))
	cr.log.Info("call.end", "call_id", call.ID, "by", name)
	return nil
}

// Relay forwards an SDP offer, SDP answer or ICE candidate to the other party
// of a connected call. The payload is passed through untouched.
func (cr *CallRouter) Relay(c *Conn, msg protocol.Relay) error {
	call, err := cr.lookup(msg.CallID)
	if err != nil {
		return err
	}

	call.mu.Lock()
	defer call.mu.Unlock()

	name, err := cr.party(call, c)
	if err != nil {
		return err
	}
	other := call.other(name)
	if msg.ToUser != "" && msg.ToUser != other {
		return fmt.Errorf("%s: %w", msg.ToUser, ErrNotParty)
	}
	if call.state != CallConnected {
		return fmt.Errorf("%s on %s call: %w", msg.Kind, call.state, ErrCallState)
	}

	field := "sdp"
	if msg.Kind == protocol.KindICECandidate {
		field = "candidate"
	}
	cr.deliver(other, protocol.NewSignal(msg.Kind, name, other, call.ID, map[string]json.RawMessage{
		field: msg.Payload,
	}))
	cr.log.Debug("call.relay", "call_id", call.ID, "kind", msg.Kind, "from", name, "to", other)
	return nil
}

// Disconnect releases c's username and ends its call, telling the other
// party with a synthesized call_end. It does nothing if the username has
// since been claimed by another connection.
func (cr *CallRouter) Disconnect(c *Conn) {
	name := c.Username()
	if name == "" {
		return
	}

	cr.usersMu.Lock()
	if cr.users[name] != c {
		cr.usersMu.Unlock()
		return
	}
	delete(cr.users, name)
	call := cr.busy[name]
	cr.usersMu.Unlock()

	cr.log.Info("call.unregister", "user", name, "conn", c.ID())
	if call == nil {
		return
	}

	call.mu.Lock()
	defer call.mu.Unlock()
	if call.state == CallEnded {
		return
	}

	other := call.other(name)
	cr.terminate(call, metrics.CallDisconnected)
	cr.deliver(other, protocol.NewSignal(protocol.KindCallEnd, name, other, call.ID, map[string]string{
		"reason": "disconnected",
	}))
	cr.log.Info("call.end", "call_id", call.ID, "by", name, "reason", "disconnected")
}

// Online reports whether username has a live signaling connection.
func (cr *CallRouter) Online(username string) bool {
	cr.usersMu.Lock()
	defer cr.usersMu.Unlock()
	_, ok := cr.users[username]
	return ok
}

// OnlineUsers lists registered usernames in sorted order.
func (cr *CallRouter) OnlineUsers() []string {
	cr.usersMu.Lock()
	users := make([]string, 0, len(cr.users))
	for name := range cr.users {
		users = append(users, name)
	}
	cr.usersMu.Unlock()
	sort.Strings(users)
	return users
}

// ActiveCall returns the ringing or connected call username is part of.
func (cr *CallRouter) ActiveCall(username string) (*Call, bool) {
	cr.usersMu.Lock()
	defer cr.usersMu.Unlock()
	call, ok := cr.busy[username]
	return call, ok
}

func (cr *CallRouter) lookup(id string) (*Call, error) {
	cr.callsMu.Lock()
	defer cr.callsMu.Unlock()
	call, ok := cr.calls[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCall, id)
	}
	return call, nil
}

// party returns the username c acts as in call. Requires call.mu.
func (cr *CallRouter) party(call *Call, c *Conn) (string, error) {
	if call.state == CallEnded {
		return "", fmt.Errorf("%w: %s", ErrUnknownCall, call.ID)
	}
	name := c.Username()
	cr.usersMu.Lock()
	registered := name != "" && cr.users[name] == c
	cr.usersMu.Unlock()
	if !registered {
		return "", ErrNotRegistered
	}
	if call.other(name) == "" {
		return "", ErrNotParty
	}
	return name, nil
}

// terminate ends call and removes it from every index. Requires call.mu.
func (cr *CallRouter) terminate(call *Call, outcome string) {
	call.state = CallEnded
	call.endedAt = cr.now()

	cr.usersMu.Lock()
	for _, name := range []string{call.Caller, call.Callee} {
		if cr.busy[name] == call {
			delete(cr.busy, name)
		}
	}
	cr.callsMu.Lock()
	delete(cr.calls, call.ID)
	cr.callsMu.Unlock()
	cr.usersMu.Unlock()

	var connected time.Duration
	if !call.connectedAt.IsZero() {
		connected = call.endedAt.Sub(call.connectedAt)
	}
	cr.metrics.CallFinished(outcome, connected)
}

// deliver queues sig for the current connection of username, if any.
func (cr *CallRouter) deliver(username string, sig protocol.Signal) {
	cr.usersMu.Lock()
	c := cr.users[username]
	cr.usersMu.Unlock()
	if c == nil {
		return
	}
	c.send(protocol.Encode(sig))
}
