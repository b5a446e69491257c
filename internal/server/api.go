package server

import (
	"encoding/json"
	"net/http"

	"github.com/pion/webrtc/v4"
	"github.com/rs/cors"

	"github.com/Tyrowin/voicehub/internal/relay"
)

type onlineUsersResponse struct {
	Users []string `json:"users"`
}

type userStatusResponse struct {
	Username string `json:"username"`
	Online   bool   `json:"online"`
}

// iceServersResponse mirrors the RTCConfiguration.iceServers member, so the
// pion type is encoded as is.
type iceServersResponse struct {
	ICEServers []webrtc.ICEServer `json:"iceServers"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// RoomsHandler lists every active room.
func (h *Hub) RoomsHandler(w http.ResponseWriter, _ *http.Request) {
	rooms := h.dispatcher.Rooms().Snapshot()
	if rooms == nil {
		rooms = []relay.RoomInfo{}
	}
	writeJSON(w, http.StatusOK, rooms)
}

// OnlineUsersHandler lists usernames registered on the call channel.
func (h *Hub) OnlineUsersHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, onlineUsersResponse{Users: h.dispatcher.Presence().OnlineUsers()})
}

// UserStatusHandler reports whether a single username is online.
func (h *Hub) UserStatusHandler(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("username")
	writeJSON(w, http.StatusOK, userStatusResponse{
		Username: name,
		Online:   h.dispatcher.Presence().Online(name),
	})
}

// ICEServersHandler returns the STUN/TURN servers clients should use for
// peer connections.
func (h *Hub) ICEServersHandler(w http.ResponseWriter, _ *http.Request) {
	servers, err := ICEServers(currentConfig().ICE)
	if err != nil {
		h.log.Error("api.ice_servers", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "ICE servers are misconfigured"})
		return
	}
	if servers == nil {
		servers = []webrtc.ICEServer{}
	}
	writeJSON(w, http.StatusOK, iceServersResponse{ICEServers: servers})
}

// apiCORS applies the configured origin allow-list to the JSON API.
func apiCORS(next http.Handler) http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins: currentOrigins().corsOrigins(),
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	}).Handler(next)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
