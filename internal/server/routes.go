package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Tyrowin/voicehub/internal/metrics"
)

// SetupRoutes configures and returns an HTTP ServeMux with all application
// routes. /metrics is only mounted when gatherer is non-nil.
func SetupRoutes(h *Hub, gatherer prometheus.Gatherer) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", HealthHandler)
	mux.HandleFunc("/health", HealthHandler)
	mux.HandleFunc("/ws/voice", h.VoiceHandler)
	mux.HandleFunc("/ws/call", h.CallHandler)

	mux.Handle("/api/rooms", apiCORS(http.HandlerFunc(h.RoomsHandler)))
	mux.Handle("/api/users/online", apiCORS(http.HandlerFunc(h.OnlineUsersHandler)))
	mux.Handle("/api/users/online/{username}", apiCORS(http.HandlerFunc(h.UserStatusHandler)))
	mux.Handle("/api/ice-servers", apiCORS(http.HandlerFunc(h.ICEServersHandler)))

	if gatherer != nil {
		mux.Handle("/metrics", metrics.Handler(gatherer))
	}
	return mux
}
