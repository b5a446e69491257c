package relay

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/Tyrowin/voicehub/internal/metrics"
	"github.com/Tyrowin/voicehub/internal/protocol"
)

func TestHandleRoomRoutesMessages(t *testing.T) {
	d := newTestDispatcher()
	a := openClient(d, protocol.ChannelRoom)
	b := openClient(d, protocol.ChannelRoom)

	d.Handle(a.conn, []byte(`{"type":"join","room_id":"lobby","username":"A"}`))
	d.Handle(b.conn, []byte(`{"type":"join","room_id":"lobby","username":"B"}`))
	d.Handle(a.conn, []byte(`{"type":"audio","data":"AAEC"}`))
	d.Handle(a.conn, []byte(`{"type":"screen_start"}`))
	d.Handle(a.conn, []byte(`{"type":"screen_frame","data":"frame"}`))
	d.Handle(a.conn, []byte(`{"type":"screen_stop"}`))

	kinds := b.peer.kinds(t)
	want := []string{"user_list", "audio", "screen_state", "screen_frame", "screen_state"}
	if !equalStrings(kinds, want) {
		t.Errorf("B received %v, want %v", kinds, want)
	}
}

func TestHandleRoomMalformedRepliesToSenderOnly(t *testing.T) {
	d := newTestDispatcher()
	clients := joinRoom(d, "lobby", "A", "B")
	for _, tc := range clients {
		tc.peer.reset()
	}

	d.Handle(clients[0].conn, []byte(`{"type":"join","username":"A"}`))
	d.Handle(clients[0].conn, []byte(`not json`))

	errs := clients[0].peer.ofKind(t, protocol.KindError)
	if len(errs) != 2 {
		t.Fatalf("expected two error replies, got %v", clients[0].peer.kinds(t))
	}
	if !strings.Contains(errs[0].str("message"), "room_id") {
		t.Errorf("error does not name the missing field: %v", errs[0])
	}
	if n := len(clients[1].peer.messages(t)); n != 0 {
		t.Errorf("other member received %v", clients[1].peer.kinds(t))
	}
	if clients[0].conn.Room() != "lobby" {
		t.Error("malformed join changed membership")
	}
}

func TestHandleRoomGuardViolationReplies(t *testing.T) {
	d := newTestDispatcher()
	clients := joinRoom(d, "lobby", "A", "B")
	d.Handle(clients[0].conn, []byte(`{"type":"screen_start"}`))
	clients[1].peer.reset()
	clients[0].peer.reset()

	d.Handle(clients[1].conn, []byte(`{"type":"screen_start"}`))

	reply := clients[1].peer.last(t, protocol.KindError)
	if !strings.Contains(reply.str("message"), "A") {
		t.Errorf("busy reply should name the sharer: %v", reply)
	}
	if n := len(clients[0].peer.messages(t)); n != 0 {
		t.Errorf("guard violation was broadcast: %v", clients[0].peer.kinds(t))
	}
}

func TestHandleUnknownKindIsIgnored(t *testing.T) {
	d := newTestDispatcher()
	room := openClient(d, protocol.ChannelRoom)
	call := openClient(d, protocol.ChannelCall)

	d.Handle(room.conn, []byte(`{"type":"chat","text":"hi"}`))
	d.Handle(call.conn, []byte(`{"type":"call_timeout"}`))

	if n := len(room.peer.messages(t)) + len(call.peer.messages(t)); n != 0 {
		t.Errorf("unknown kinds produced %d replies", n)
	}
}

func TestHandleCallFlow(t *testing.T) {
	d := newTestDispatcher()
	alice := openClient(d, protocol.ChannelCall)
	bob := openClient(d, protocol.ChannelCall)
	carol := openClient(d, protocol.ChannelCall)

	d.Handle(alice.conn, []byte(`{"type":"register","username":"alice"}`))
	d.Handle(bob.conn, []byte(`{"type":"register","username":"bob"}`))
	d.Handle(carol.conn, []byte(`{"type":"register","username":"carol"}`))
	d.Handle(alice.conn, []byte(`{"type":"call_request","to_user":"bob","call_type":"video"}`))

	id := bob.peer.last(t, protocol.KindCallRequest).str("call_id")

	d.Handle(carol.conn, []byte(`{"type":"call_request","to_user":"bob"}`))
	busy := carol.peer.last(t, protocol.KindCallBusy)
	if busy.str("from_user") != "bob" {
		t.Errorf("unexpected call_busy %v", busy)
	}

	d.Handle(bob.conn, []byte(`{"type":"call_accept","call_id":"`+id+`"}`))
	d.Handle(alice.conn, []byte(`{"type":"sdp_offer","to_user":"bob","call_id":"`+id+`","sdp":{"type":"offer","sdp":"v=0"}}`))
	d.Handle(bob.conn, []byte(`{"type":"sdp_answer","to_user":"alice","call_id":"`+id+`","sdp":{"type":"answer","sdp":"v=0"}}`))
	d.Handle(alice.conn, []byte(`{"type":"call_end","call_id":"`+id+`"}`))

	aliceKinds := alice.peer.kinds(t)
	wantAlice := []string{"registered", "call_ringing", "call_accept", "sdp_answer"}
	if !equalStrings(aliceKinds, wantAlice) {
		t.Errorf("alice received %v, want %v", aliceKinds, wantAlice)
	}
	bobKinds := bob.peer.kinds(t)
	wantBob := []string{"registered", "call_request", "sdp_offer", "call_end"}
	if !equalStrings(bobKinds, wantBob) {
		t.Errorf("bob received %v, want %v", bobKinds, wantBob)
	}
}

func TestHandleCallErrorsReplyCallError(t *testing.T) {
	d := newTestDispatcher()
	alice := openClient(d, protocol.ChannelCall)
	d.Handle(alice.conn, []byte(`{"type":"register","username":"alice"}`))
	alice.peer.reset()

	d.Handle(alice.conn, []byte(`{"type":"call_request","to_user":"nobody"}`))
	d.Handle(alice.conn, []byte(`{"type":"call_end","call_id":"missing"}`))
	d.Handle(alice.conn, []byte(`{"type":"sdp_offer","call_id":"missing"}`))

	errs := alice.peer.ofKind(t, protocol.KindCallError)
	if len(errs) != 3 {
		t.Fatalf("expected three call_error replies, got %v", alice.peer.kinds(t))
	}
	for _, e := range errs {
		if e.str("from_user") != protocol.SystemUser || e.str("to_user") != "alice" {
			t.Errorf("unexpected envelope %v", e)
		}
		if e.payload()["error"] == "" {
			t.Errorf("call_error without message: %v", e)
		}
	}
	if !strings.Contains(errs[0].payload()["error"].(string), "not online") {
		t.Errorf("offline error = %v", errs[0].payload())
	}
}

// TestCloseCleansRoomAndCall tests closing a connection that is both a room
// member and, through its username, a call party. It verifies that cleanup
// runs once and the handle is forgotten.
func TestCloseCleansRoomAndCall(t *testing.T) {
	reg := prometheus.NewRegistry()
	d := NewDispatcher(discardLogger(), metrics.New(reg))

	room := joinRoom(d, "lobby", "A", "B")
	calls := registerUsers(t, d, "alice", "bob")
	connectCall(t, d, calls, "alice", "bob")

	d.Close(room[0].conn)
	d.Close(calls["alice"].conn)
	d.Close(calls["alice"].conn)

	if n := len(room[1].peer.ofKind(t, protocol.KindUserLeft)); n != 1 {
		t.Errorf("expected one user_left, got %d", n)
	}
	if n := len(calls["bob"].peer.ofKind(t, protocol.KindCallEnd)); n != 1 {
		t.Errorf("expected one call_end, got %d", n)
	}
	if _, ok := d.Registry().Lookup(room[0].conn.ID()); ok {
		t.Error("closed room connection still registered")
	}
	if d.Registry().Len() != 2 {
		t.Errorf("expected 2 live connections, got %d", d.Registry().Len())
	}

	expected := `
# HELP voicehub_connections Open WebSocket connections by channel.
# TYPE voicehub_connections gauge
voicehub_connections{channel="call"} 1
voicehub_connections{channel="room"} 1
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "voicehub_connections"); err != nil {
		t.Error(err)
	}
}

func TestPresence(t *testing.T) {
	d := newTestDispatcher()
	registerUsers(t, d, "zed", "amy")

	p := d.Presence()
	if !p.Online("amy") || p.Online("bob") {
		t.Error("unexpected online status")
	}
	if got := p.OnlineUsers(); !equalStrings(got, []string{"amy", "zed"}) {
		t.Errorf("online users = %v", got)
	}
}
