package relay

import (
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/Tyrowin/voicehub/internal/protocol"
)

// fakePeer records every queued message. Setting mediaFull makes SendLossy
// behave like a saturated media queue.
type fakePeer struct {
	mu        sync.Mutex
	msgs      [][]byte
	mediaFull bool
}

func (p *fakePeer) Send(msg []byte) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
	return true
}

func (p *fakePeer) SendLossy(msg []byte) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.mediaFull {
		return false
	}
	p.msgs = append(p.msgs, msg)
	return true
}

type received map[string]any

func (m received) kind() string {
	s, _ := m["type"].(string)
	return s
}

func (m received) str(key string) string {
	s, _ := m[key].(string)
	return s
}

func (m received) payload() map[string]any {
	p, _ := m["payload"].(map[string]any)
	return p
}

func (p *fakePeer) messages(t *testing.T) []received {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]received, 0, len(p.msgs))
	for _, raw := range p.msgs {
		var m received
		if err := json.Unmarshal(raw, &m); err != nil {
			t.Fatalf("peer received invalid json %q: %v", raw, err)
		}
		out = append(out, m)
	}
	return out
}

func (p *fakePeer) kinds(t *testing.T) []string {
	t.Helper()
	var kinds []string
	for _, m := range p.messages(t) {
		kinds = append(kinds, m.kind())
	}
	return kinds
}

// ofKind returns every received message of the given kind.
func (p *fakePeer) ofKind(t *testing.T, kind protocol.Kind) []received {
	t.Helper()
	var out []received
	for _, m := range p.messages(t) {
		if m.kind() == string(kind) {
			out = append(out, m)
		}
	}
	return out
}

// last returns the most recent message of kind, failing the test if none.
func (p *fakePeer) last(t *testing.T, kind protocol.Kind) received {
	t.Helper()
	msgs := p.ofKind(t, kind)
	if len(msgs) == 0 {
		t.Fatalf("no %s message received; got %v", kind, p.kinds(t))
	}
	return msgs[len(msgs)-1]
}

func (p *fakePeer) reset() {
	p.mu.Lock()
	p.msgs = nil
	p.mu.Unlock()
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestDispatcher() *Dispatcher {
	return NewDispatcher(discardLogger(), nil)
}

type testClient struct {
	peer *fakePeer
	conn *Conn
}

func openClient(d *Dispatcher, channel protocol.Channel) testClient {
	peer := &fakePeer{}
	return testClient{peer: peer, conn: d.Open(peer, channel)}
}

func usersOf(t *testing.T, m received) []string {
	t.Helper()
	raw, ok := m["users"].([]any)
	if !ok {
		t.Fatalf("message has no users list: %v", m)
	}
	users := make([]string, 0, len(raw))
	for _, u := range raw {
		users = append(users, u.(string))
	}
	return users
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
