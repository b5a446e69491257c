package server_test

import (
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Tyrowin/voicehub/internal/metrics"
	"github.com/Tyrowin/voicehub/internal/relay"
	"github.com/Tyrowin/voicehub/internal/server"
	"github.com/Tyrowin/voicehub/internal/testhelpers"
)

type testEnv struct {
	hub      *server.Hub
	srv      *httptest.Server
	registry *prometheus.Registry
}

func (e testEnv) voiceURL() string { return testhelpers.WebSocketURL(e.srv.URL, "/ws/voice") }

func (e testEnv) callURL() string { return testhelpers.WebSocketURL(e.srv.URL, "/ws/call") }

// startTestServer applies a test configuration, starts a hub and serves the
// full route table. Everything is torn down when the test ends.
func startTestServer(t *testing.T, customize func(cfg *server.Config)) testEnv {
	t.Helper()

	cfg := server.NewConfig()
	if customize != nil {
		customize(cfg)
	}
	server.SetConfig(cfg)
	t.Cleanup(func() { server.SetConfig(nil) })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := prometheus.NewRegistry()
	hub := server.NewHub(relay.NewDispatcher(logger, metrics.New(reg)), logger)
	go hub.Run()

	srv := httptest.NewServer(server.SetupRoutes(hub, reg))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { _ = hub.Shutdown(2 * time.Second) })

	return testEnv{hub: hub, srv: srv, registry: reg}
}

// joinVoice connects to the room channel and joins room as username. It
// returns once the joiner's first roster has arrived.
func joinVoice(t *testing.T, env testEnv, room, username string) *websocket.Conn {
	t.Helper()
	conn := testhelpers.MustConnect(t, env.voiceURL())
	testhelpers.SendJSON(t, conn, map[string]string{"type": "join", "room_id": room, "username": username})
	testhelpers.ReceiveType(t, conn, "user_list")
	return conn
}

// registerCall connects to the signaling channel and registers username.
func registerCall(t *testing.T, env testEnv, username string) *websocket.Conn {
	t.Helper()
	conn := testhelpers.MustConnect(t, env.callURL())
	testhelpers.SendJSON(t, conn, map[string]string{"type": "register", "username": username})
	testhelpers.ReceiveType(t, conn, "registered")
	return conn
}

// waitForRoster reads user_list messages until one lists exactly users.
func waitForRoster(t *testing.T, conn *websocket.Conn, users ...string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		msg := testhelpers.ReceiveType(t, conn, "user_list")
		if sameUsers(msg["users"], users) {
			return msg
		}
	}
	t.Fatalf("roster %v never arrived", users)
	return nil
}

func sameUsers(raw any, want []string) bool {
	list, ok := raw.([]any)
	if !ok || len(list) != len(want) {
		return false
	}
	for i := range want {
		if list[i] != want[i] {
			return false
		}
	}
	return true
}

func payloadOf(msg map[string]any) map[string]any {
	p, _ := msg["payload"].(map[string]any)
	return p
}

// waitFor polls cond until it holds or a second passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
