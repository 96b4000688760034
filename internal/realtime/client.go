package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nikhil/projectdesk/internal/auth"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period
	pingPeriod = (pongWait * 9) / 10

	// Maximum inbound frame size
	maxMessageSize = 4096

	sendBuffer = 256

	frameTimeout = 5 * time.Second
)

const PresenceTopic = "presence"

func RoomTopic(roomID int64) string       { return "room:" + strconv.FormatInt(roomID, 10) }
func ProjectTopic(projectID int64) string { return "project:" + strconv.FormatInt(projectID, 10) }
func UserTopic(userID int64) string       { return "user:" + strconv.FormatInt(userID, 10) }

// ParseTopic splits "kind:id" topics. The presence topic has id 0.
func ParseTopic(topic string) (string, int64, error) {
	if topic == PresenceTopic {
		return PresenceTopic, 0, nil
	}
	kind, rawID, ok := strings.Cut(topic, ":")
	if !ok {
		return "", 0, fmt.Errorf("invalid topic %q", topic)
	}
	switch kind {
	case "room", "project", "user":
	default:
		return "", 0, fmt.Errorf("unknown topic kind %q", kind)
	}
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil || id <= 0 {
		return "", 0, fmt.Errorf("invalid topic id in %q", topic)
	}
	return kind, id, nil
}

// Client is one WebSocket connection.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	claims *auth.Claims

	// guarded by hub.mu
	topics map[string]bool
}

// Frame is a client->server control message.
type Frame struct {
	Type   string `json:"type"`
	Topic  string `json:"topic,omitempty"`
	RoomID *int64 `json:"room_id,omitempty"`
}

type reply struct {
	Type  string `json:"type"`
	Topic string `json:"topic,omitempty"`
	Error string `json:"error,omitempty"`
}

// readPump pumps control frames from the connection to the hub.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Debug("WebSocket closed unexpectedly", "user_id", c.claims.UserID, "error", err)
			}
			return
		}

		var frame Frame
		if err := json.Unmarshal(message, &frame); err != nil {
			c.reply(reply{Type: "error", Error: "malformed frame"})
			continue
		}
		c.handle(frame)
	}
}

func (c *Client) handle(frame Frame) {
	ctx, cancel := context.WithTimeout(context.Background(), frameTimeout)
	defer cancel()

	switch frame.Type {
	case "subscribe":
		if _, _, err := ParseTopic(frame.Topic); err != nil {
			c.reply(reply{Type: "error", Topic: frame.Topic, Error: err.Error()})
			return
		}
		if c.hub.authorizer != nil {
			if err := c.hub.authorizer.CanSubscribe(ctx, c.claims, frame.Topic); err != nil {
				c.reply(reply{Type: "error", Topic: frame.Topic, Error: "not allowed to subscribe"})
				return
			}
		}
		if c.hub.subscribe(c, frame.Topic) {
			c.reply(reply{Type: "subscribed", Topic: frame.Topic})
		}

	case "unsubscribe":
		c.hub.unsubscribe(c, frame.Topic)
		c.reply(reply{Type: "unsubscribed", Topic: frame.Topic})

	case "heartbeat":
		if c.hub.heartbeater == nil || c.claims.Kind != auth.KindUser {
			return
		}
		if err := c.hub.heartbeater.Heartbeat(ctx, c.claims.UserID, frame.RoomID); err != nil {
			c.hub.log.Error("Failed to record heartbeat", "user_id", c.claims.UserID, "error", err)
		}

	default:
		c.reply(reply{Type: "error", Error: "unknown frame type"})
	}
}

// reply queues a control response without blocking the read loop.
func (c *Client) reply(r reply) {
	data, err := json.Marshal(r)
	if err != nil {
		return
	}
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if _, ok := c.hub.clients[c]; !ok {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// writePump pumps messages from the hub to the WebSocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
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
