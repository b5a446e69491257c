package server

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/voicehub/internal/protocol"
	"github.com/Tyrowin/voicehub/internal/relay"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Client is one upgraded WebSocket on either the voice or the call channel.
// It implements relay.Peer: relay code enqueues frames and the write pump
// drains them onto the socket.
type Client struct {
	conn           *websocket.Conn
	hub            *Hub
	channel        protocol.Channel
	addr           string
	handle         *relay.Conn
	queue          *sendQueue
	maxMessageSize int64
	rateLimiter    *rateLimiter
	rateLimit      RateLimitConfig
	log            *slog.Logger
}

// NewClient creates a Client for conn using the active configuration. The
// client is not attached to the dispatcher until the hub registers it.
func NewClient(conn *websocket.Conn, hub *Hub, channel protocol.Channel, addr string) *Client {
	cfg := currentConfig()
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}

	logger := slog.Default()
	if hub != nil {
		logger = hub.log
	}

	return &Client{
		conn:           conn,
		hub:            hub,
		channel:        channel,
		addr:           addr,
		queue:          newSendQueue(cfg.Queue.Control, cfg.Queue.Media),
		maxMessageSize: cfg.MaxMessageSize,
		rateLimiter:    newRateLimiter(cfg.RateLimit.Burst, cfg.RateLimit.RefillInterval),
		rateLimit:      cfg.RateLimit,
		log:            logger.With("addr", addr, "channel", channel),
	}
}

// Send queues a control message. A client whose control queue overflows is
// disconnected.
func (c *Client) Send(msg []byte) bool {
	return c.queue.pushControl(msg)
}

// SendLossy queues an audio or screen frame, dropping it if the client is
// behind.
func (c *Client) SendLossy(msg []byte) bool {
	return c.queue.pushMedia(msg)
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.log.Warn("ws.read_deadline", "error", err)
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			c.log.Warn("ws.read_deadline", "error", err)
		}
		return nil
	})
}

// handleReadError logs the read failure at a level matching its cause.
// Every read error ends the read loop.
func (c *Client) handleReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.log.Warn("ws.message_too_large", "limit", c.maxMessageSize)
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		c.log.Info("ws.disconnected", "reason", err)
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.log.Info("ws.closed", "reason", err)
	case websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseMessageTooBig):
		c.log.Warn("ws.unexpected_close", "error", err)
	default:
		c.log.Warn("ws.read_error", "error", err)
	}
}

// checkRateLimit reports whether the next inbound media frame may be
// processed. Control messages are not limited.
func (c *Client) checkRateLimit() bool {
	if c.rateLimiter != nil && !c.rateLimiter.allow() {
		c.log.Debug("ws.rate_limited", "burst", c.rateLimit.Burst, "interval", c.rateLimit.RefillInterval)
		return false
	}
	return true
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.closeConnection()
	}()

	c.setupReadConnection()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return
		}

		if protocol.IsMedia(raw) && !c.checkRateLimit() {
			continue
		}

		c.hub.dispatcher.Handle(c.handle, raw)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (c *Client) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case <-c.queue.ready():
		if !c.flush() {
			return false
		}
		if c.queue.isClosed() {
			if _, overflowed := c.queue.stats(); overflowed {
				c.log.Warn("ws.control_overflow", "limit", c.queue.maxControl)
			}
			return c.writeCloseMessage()
		}
		return true
	case <-ticker.C:
		return c.handlePing()
	}
}

// flush writes every queued frame, one WebSocket message each.
func (c *Client) flush() bool {
	for {
		msg, ok := c.queue.pop()
		if !ok {
			return true
		}
		if !c.writeTextMessage(msg) {
			return false
		}
	}
}

// isExpectedCloseError reports whether err is the normal result of touching a
// connection that is already closing.
func isExpectedCloseError(err error) bool {
	return err == nil ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, websocket.ErrCloseSent) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNRESET)
}

// closeConnection safely closes the WebSocket connection with proper error handling
func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.log.Warn("ws.close_error", "error", err)
	}
}

// writeCloseMessage sends a close frame and ends the write pump.
func (c *Client) writeCloseMessage() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.log.Warn("ws.write_deadline", "error", err)
		return false
	}
	if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil && !isExpectedCloseError(err) {
		c.log.Debug("ws.close_write", "error", err)
	}
	return false
}

func (c *Client) writeTextMessage(message []byte) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.log.Warn("ws.write_deadline", "error", err)
		return false
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		if !isExpectedCloseError(err) {
			c.log.Warn("ws.write_error", "error", err)
		}
		return false
	}
	return true
}

// handlePing sends a ping message to keep the connection alive
func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.log.Warn("ws.write_deadline", "error", err)
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		if !isExpectedCloseError(err) {
			c.log.Warn("ws.ping_error", "error", err)
		}
		return false
	}
	return true
}
