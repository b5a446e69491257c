// Package server is the HTTP and WebSocket front end of the voice hub.
//
// It upgrades /ws/voice and /ws/call requests into Clients, pumps frames
// between each socket and the relay.Dispatcher, and serves the small JSON API
// (rooms, presence, ICE servers), health checks and Prometheus metrics.
// Configuration is process-wide and applied with SetConfig.
package server
