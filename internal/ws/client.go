package ws

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/rutkowski-tomasz/emoji-gram/internal/auth"
	"github.com/rutkowski-tomasz/emoji-gram/internal/chat"
)

const (
	// Time allowed to write a message
	writeWait = 10 * time.Second

	// Time allowed to read next pong message
	pongWait = 60 * time.Second

	// Send pings with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Max inbound frame size; messages are short emoji strings
	maxMessageSize = 4 * 1024
)

// EventRouter is the slice of the routing core the transport invokes.
type EventRouter interface {
	OnConnect(ctx context.Context, id auth.Identity, conn chat.Connection)
	OnDisconnect(ctx context.Context, id auth.Identity, conn chat.Connection)
	SendBroadcast(ctx context.Context, id auth.Identity, conn chat.Connection, text string)
	SendWhisper(ctx context.Context, id auth.Identity, conn chat.Connection, targetName, text string)
}

// Client is one live WebSocket session. It implements chat.Connection: the
// router hands it payloads, the write pump ships them. The send channel is
// buffered and drops on overflow so the router never blocks on a slow
// consumer.
type Client struct {
	router   EventRouter
	conn     *websocket.Conn
	identity auth.Identity

	send chan []byte

	// mu guards closed and the close of send. A fanout that snapshotted the
	// directory before this session unregistered may still call Deliver
	// afterwards; sends and the close must be serialized or that delivery
	// panics on a closed channel.
	mu       sync.Mutex
	closed   bool
	shutOnce sync.Once
}

// Deliver queues one message for transmission. Implements chat.Connection.
func (c *Client) Deliver(m *chat.Message) {
	c.enqueue(outboundEvent{Type: "message", Message: m})
}

// DeliverError queues a caller-only error acknowledgement.
func (c *Client) DeliverError(text string) {
	c.enqueue(outboundEvent{Type: "error", Error: text})
}

func (c *Client) enqueue(event outboundEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		slog.Error("[WS] Failed to marshal outbound event", "user", c.identity.Username, "error", err)
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		// Session already shut down; late deliveries from in-flight fanouts
		// are dropped.
		return
	}
	select {
	case c.send <- payload:
	default:
		slog.Warn("[WS] Send buffer full, dropping event", "user", c.identity.Username, "type", event.Type)
	}
}

// shutdown unregisters the session exactly once and closes the send channel
// under the same lock enqueue takes, so a racing delivery can never hit a
// closed channel.
func (c *Client) shutdown() {
	c.shutOnce.Do(func() {
		c.router.OnDisconnect(context.Background(), c.identity, c)
		c.mu.Lock()
		c.closed = true
		close(c.send)
		c.mu.Unlock()
	})
}

// ReadPump pumps inbound frames from the WebSocket to the router. It owns
// the disconnect: when the read loop exits for any reason, graceful or
// abrupt, the session is unregistered exactly once.
func (c *Client) ReadPump() {
	defer func() {
		c.shutdown()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Warn("[WS] Unexpected close", "user", c.identity.Username, "error", err)
			}
			break
		}
		c.handleInbound(payload)
	}
}

// WritePump pumps queued payloads to the WebSocket and keeps the connection
// alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				slog.Error("[WS] Failed to write message", "user", c.identity.Username, "error", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleInbound(payload []byte) {
	var event inboundEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		slog.Warn("[WS] Malformed inbound event", "user", c.identity.Username, "error", err)
		c.DeliverError("malformed event")
		return
	}

	ctx := context.Background()
	switch event.Type {
	case "broadcast":
		c.router.SendBroadcast(ctx, c.identity, c, event.Content)
	case "whisper":
		c.router.SendWhisper(ctx, c.identity, c, event.Target, event.Content)
	default:
		slog.Warn("[WS] Unknown event type", "type", event.Type, "user", c.identity.Username)
		c.DeliverError("unknown event type")
	}
}
