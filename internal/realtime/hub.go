package realtime

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/nikhil/projectdesk/internal/auth"
	"github.com/nikhil/projectdesk/internal/logger"
	"github.com/nikhil/projectdesk/internal/models"
)

// Publisher pushes events to the subscribers of a topic and returns how many
// clients the event was queued for.
type Publisher interface {
	Publish(topic string, ev models.Event) int
}

// Authorizer decides whether a caller may subscribe to a topic.
type Authorizer interface {
	CanSubscribe(ctx context.Context, claims *auth.Claims, topic string) error
}

// Heartbeater records presence heartbeats sent over the socket.
type Heartbeater interface {
	Heartbeat(ctx context.Context, userID int64, roomID *int64) error
}

// Hub maintains the set of active clients and routes events to the clients
// subscribed to each topic.
type Hub struct {
	clients map[*Client]bool
	topics  map[string]map[*Client]bool

	unregister chan *Client

	authorizer  Authorizer
	heartbeater Heartbeater
	log         *logger.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewHub creates a Hub. Call Run before attaching clients.
func NewHub(authorizer Authorizer, heartbeater Heartbeater, log *logger.Logger) *Hub {
	return &Hub{
		clients:     make(map[*Client]bool),
		topics:      make(map[string]map[*Client]bool),
		unregister:  make(chan *Client),
		authorizer:  authorizer,
		heartbeater: heartbeater,
		log:         log,
		done:        make(chan struct{}),
	}
}

// Run processes disconnects until ctx is cancelled, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case client := <-h.unregister:
			h.remove(client)

		case <-ctx.Done():
			h.mu.Lock()
			h.closed = true
			for client := range h.clients {
				h.dropLocked(client)
			}
			h.mu.Unlock()
			return
		}
	}
}

// Done is closed once Run has returned.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	h.dropLocked(client)
	h.mu.Unlock()
}

func (h *Hub) dropLocked(client *Client) {
	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	for topic := range client.topics {
		if subs, ok := h.topics[topic]; ok {
			delete(subs, client)
			if len(subs) == 0 {
				delete(h.topics, topic)
			}
		}
	}
	close(client.send)
}

// Publish queues ev for every subscriber of topic that is still allowed to
// follow it. Subscribers that lost access are unsubscribed, and subscribers
// whose buffer is full are disconnected.
func (h *Hub) Publish(topic string, ev models.Event) int {
	ev.Topic = topic
	message, err := json.Marshal(ev)
	if err != nil {
		h.log.Error("Failed to marshal event", "topic", topic, "error", err)
		return 0
	}

	h.mu.RLock()
	subs := make([]*Client, 0, len(h.topics[topic]))
	for client := range h.topics[topic] {
		subs = append(subs, client)
	}
	h.mu.RUnlock()

	allowed := make(map[*Client]bool, len(subs))
	var revoked []*Client
	for _, client := range subs {
		if h.stillAllowed(client, topic) {
			allowed[client] = true
		} else {
			revoked = append(revoked, client)
		}
	}

	var slow []*Client
	delivered := 0

	h.mu.RLock()
	for client := range h.topics[topic] {
		if !allowed[client] {
			continue
		}
		select {
		case client.send <- message:
			delivered++
		default:
			slow = append(slow, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range revoked {
		h.log.Info("Subscription revoked", "user_id", client.claims.UserID, "topic", topic)
		h.unsubscribe(client, topic)
		client.reply(reply{Type: "unsubscribed", Topic: topic, Error: "access revoked"})
	}
	for _, client := range slow {
		h.log.Warn("Dropping slow client", "user_id", client.claims.UserID, "topic", topic)
		h.remove(client)
	}
	return delivered
}

// stillAllowed re-runs the authorizer so membership and guest access changes
// apply to open sockets.
func (h *Hub) stillAllowed(client *Client, topic string) bool {
	if h.authorizer == nil {
		return true
	}
	ctx, cancel := context.WithTimeout(context.Background(), frameTimeout)
	defer cancel()
	if err := h.authorizer.CanSubscribe(ctx, client.claims, topic); err != nil {
		h.log.Debug("Subscriber denied on publish", "user_id", client.claims.UserID, "topic", topic, "error", err)
		return false
	}
	return true
}

func (h *Hub) subscribe(client *Client, topic string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; !ok {
		return false
	}
	if h.topics[topic] == nil {
		h.topics[topic] = make(map[*Client]bool)
	}
	h.topics[topic][client] = true
	client.topics[topic] = true
	return true
}

func (h *Hub) unsubscribe(client *Client, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(client.topics, topic)
	if subs, ok := h.topics[topic]; ok {
		delete(subs, client)
		if len(subs) == 0 {
			delete(h.topics, topic)
		}
	}
}

// Attach registers an upgraded connection and starts its pumps.
func (h *Hub) Attach(conn *websocket.Conn, claims *auth.Claims) *Client {
	client := &Client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		claims: claims,
		topics: make(map[string]bool),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return nil
	}
	h.clients[client] = true
	// Staff clients receive their own user topic without asking. External
	// ids live in a separate table and never get one.
	if claims.Kind == auth.KindUser {
		userTopic := UserTopic(claims.UserID)
		if h.topics[userTopic] == nil {
			h.topics[userTopic] = make(map[*Client]bool)
		}
		h.topics[userTopic][client] = true
		client.topics[userTopic] = true
	}
	h.mu.Unlock()

	h.log.Debug("Client connected", "user_id", claims.UserID)

	go client.writePump()
	go client.readPump()
	return client
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Subscribers returns the number of clients subscribed to topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

// IsUserConnected checks if a user has any active connection.
func (h *Hub) IsUserConnected(userID int64) bool {
	return h.Subscribers(UserTopic(userID)) > 0
}
