package server

import (
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/voicehub/internal/protocol"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     checkOrigin,
}

// VoiceHandler upgrades requests on the room channel.
func (h *Hub) VoiceHandler(w http.ResponseWriter, r *http.Request) {
	h.serveWebSocket(w, r, protocol.ChannelRoom)
}

// CallHandler upgrades requests on the call signaling channel.
func (h *Hub) CallHandler(w http.ResponseWriter, r *http.Request) {
	h.serveWebSocket(w, r, protocol.ChannelCall)
}

// serveWebSocket validates that the request uses the GET method, upgrades it
// and hands the resulting client to the hub, which launches its pumps.
func (h *Hub) serveWebSocket(w http.ResponseWriter, r *http.Request, channel protocol.Channel) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws.upgrade_failed", "addr", r.RemoteAddr, "channel", channel, "error", err)
		return
	}

	client := NewClient(conn, h, channel, r.RemoteAddr)
	if !h.register(client) {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
		client.closeConnection()
	}
}

// HealthHandler provides a simple health check endpoint that returns server status.
// It responds with a plain text message indicating the server is running.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "Voice hub is running!")
}
