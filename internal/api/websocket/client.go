package websocket

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Default heartbeat interval. Peers that miss two beats are
	// disconnected.
	defaultHeartbeat = 30 * time.Second

	// Maximum message size allowed from peer. Clients only send pings.
	maxMessageSize = 4 * 1024

	// Per-client sink capacity. Overflow drops the client.
	sendBuffer = 64
)

// Client is one WebSocket connection on one topic.
type Client struct {
	conn  *websocket.Conn
	send  chan []byte
	hub   *Hub
	topic string
	id    string

	// heartbeat is the server ping interval; the read deadline is twice it.
	heartbeat time.Duration

	openedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc

	logger *zap.Logger
}

// NewClient wraps an upgraded connection. heartbeat <= 0 falls back to the
// default interval.
func NewClient(ctx context.Context, hub *Hub, conn *websocket.Conn, topic, id string, heartbeat time.Duration, logger *zap.Logger) *Client {
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	clientCtx, cancel := context.WithCancel(ctx)
	return &Client{
		conn:      conn,
		send:      make(chan []byte, sendBuffer),
		hub:       hub,
		topic:     topic,
		id:        id,
		heartbeat: heartbeat,
		openedAt:  time.Now().UTC(),
		ctx:       clientCtx,
		cancel:    cancel,
		logger:    logger,
	}
}

// readWait is the inbound frame deadline, refreshed on any frame.
func (c *Client) readWait() time.Duration {
	return 2 * c.heartbeat
}

// ReadPump consumes inbound frames. The only meaningful client message is a
// "ping" text frame, answered with a pong envelope.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.readWait()))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.readWait()))
		return nil
	})

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
			_, message, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
					c.logger.Warn("websocket read error",
						zap.String("client_id", c.id), zap.Error(err))
				}
				return
			}
			c.conn.SetReadDeadline(time.Now().Add(c.readWait()))
			c.handleMessage(message)
		}
	}
}

// WritePump drains the sink to the connection and keeps the heartbeat going.
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.heartbeat)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.ctx.Done():
			return

		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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

// Close tears the connection down from the server side.
func (c *Client) Close() {
	c.cancel()
}

func (c *Client) handleMessage(message []byte) {
	if string(message) == "ping" {
		c.enqueue(map[string]interface{}{
			"type":      "pong",
			"timestamp": time.Now().UTC(),
		})
		return
	}
	// Anything else is ignored; topics are pure broadcast.
}

// enqueue serializes a control frame into the sink without blocking.
func (c *Client) enqueue(frame interface{}) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}
