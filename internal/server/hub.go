package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Tyrowin/voicehub/internal/relay"
)

// Hub tracks every live Client and ties its lifecycle to the dispatcher:
// registering a client opens a relay handle and starts its pumps, and
// unregistering runs the dispatcher's cleanup exactly once.
type Hub struct {
	dispatcher *relay.Dispatcher
	log        *slog.Logger

	clients map[*Client]struct{}
	mutex   sync.RWMutex
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewHub creates a Hub routing inbound frames to d. logger may be nil.
func NewHub(d *relay.Dispatcher, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		dispatcher: d,
		log:        logger,
		clients:    make(map[*Client]struct{}),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// Dispatcher returns the dispatcher clients are attached to.
func (h *Hub) Dispatcher() *relay.Dispatcher {
	return h.dispatcher
}

// Run blocks until Shutdown is called and then closes every client
// connection. It should be started in its own goroutine.
func (h *Hub) Run() {
	defer close(h.done)
	<-h.ctx.Done()
	h.shutdownClients()
}

// register attaches client to the dispatcher and starts its pumps. It
// reports false when the hub is already shutting down.
func (h *Hub) register(client *Client) bool {
	if client == nil {
		h.log.Warn("hub.register_nil")
		return false
	}

	h.mutex.Lock()
	if h.ctx.Err() != nil {
		h.mutex.Unlock()
		return false
	}
	client.handle = h.dispatcher.Open(client, client.channel)
	h.clients[client] = struct{}{}
	clientCount := len(h.clients)
	h.wg.Add(2)
	h.mutex.Unlock()

	h.log.Info("hub.client_registered", "addr", client.addr, "channel", client.channel, "conn", client.handle.ID(), "clients", clientCount)

	go func() {
		defer h.wg.Done()
		client.writePump()
	}()
	go func() {
		defer h.wg.Done()
		client.readPump()
	}()
	return true
}

// unregister detaches client, running room and call cleanup, and stops its
// write pump. Repeated calls are harmless.
func (h *Hub) unregister(client *Client) {
	h.mutex.Lock()
	if _, ok := h.clients[client]; !ok {
		h.mutex.Unlock()
		return
	}
	delete(h.clients, client)
	clientCount := len(h.clients)
	h.mutex.Unlock()

	h.dispatcher.Close(client.handle)
	client.queue.close()

	drops, overflowed := client.queue.stats()
	h.log.Info("hub.client_unregistered",
		"addr", client.addr,
		"channel", client.channel,
		"conn", client.handle.ID(),
		"clients", clientCount,
		"media_drops", drops,
		"control_overflow", overflowed,
	)
}

// ClientCount returns the number of registered clients.
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// shutdownClients closes every client socket. The read pumps observe the
// close and unregister through the normal path.
func (h *Hub) shutdownClients() {
	h.mutex.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mutex.RUnlock()

	for _, client := range clients {
		client.queue.close()
		if client.conn != nil {
			client.closeConnection()
		}
	}

	h.log.Info("hub.clients_closed", "count", len(clients))
}

// Shutdown initiates graceful shutdown of the hub and waits for all goroutines to complete.
// It returns after all client connections are closed and goroutines have finished,
// or when the timeout is reached.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.log.Info("hub.shutdown_started")

	h.mutex.Lock()
	h.cancel()
	h.mutex.Unlock()

	select {
	case <-h.done:
	case <-time.After(timeout):
		h.log.Warn("hub.shutdown_timeout", "stage", "run")
		return context.DeadlineExceeded
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.log.Info("hub.shutdown_complete")
		return nil
	case <-time.After(timeout):
		h.log.Warn("hub.shutdown_timeout", "stage", "clients")
		return context.DeadlineExceeded
	}
}
