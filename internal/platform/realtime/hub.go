// Package realtime fans database change notifications out to WebSocket
// clients. Clients subscribe to topics; the hub also tracks which users
// have a live connection, which is what presence reports.
package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/wecare/clinic/internal/platform/telemetry"
)

// Event is pushed to subscribers of Topic.
type Event struct {
	Type      string    `json:"type"`
	Topic     string    `json:"topic"`
	Table     string    `json:"table"`
	Op        string    `json:"op"`
	ID        string    `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ClientMessage is what clients send: {"action":"subscribe","topics":[...]}.
type ClientMessage struct {
	Action string   `json:"action"`
	Topics []string `json:"topics"`
}

// Reply acknowledges a ClientMessage.
type Reply struct {
	Type   string   `json:"type"`
	Topics []string `json:"topics,omitempty"`
	Error  string   `json:"error,omitempty"`
}

const (
	tablePrefix = "table:"
	userPrefix  = "user:"
)

var (
	ErrUnknownTopic = errors.New("unknown topic")
	ErrForbidden    = errors.New("not allowed to subscribe to topic")
)

func TableTopic(table string) string    { return tablePrefix + table }
func UserTopic(userID uuid.UUID) string { return userPrefix + userID.String() }

// Client is one WebSocket connection.
type Client struct {
	ID     string
	UserID uuid.UUID
	Staff  bool
	Send   chan []byte

	topics map[string]struct{}
}

func NewClient(userID uuid.UUID, staff bool) *Client {
	return &Client{
		ID:     uuid.New().String(),
		UserID: userID,
		Staff:  staff,
		Send:   make(chan []byte, 256),
		topics: make(map[string]struct{}),
	}
}

// Authorize checks whether c may subscribe to topic. Table topics are for
// staff; a user topic is open to its owner and to staff.
func Authorize(c *Client, topic string) error {
	switch {
	case strings.HasPrefix(topic, tablePrefix) && len(topic) > len(tablePrefix):
		if !c.Staff {
			return ErrForbidden
		}
		return nil
	case strings.HasPrefix(topic, userPrefix):
		id, err := uuid.Parse(strings.TrimPrefix(topic, userPrefix))
		if err != nil {
			return ErrUnknownTopic
		}
		if id != c.UserID && !c.Staff {
			return ErrForbidden
		}
		return nil
	}
	return ErrUnknownTopic
}

// Hub tracks clients, their subscriptions and per-user connection counts.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{}
	all     map[*Client]struct{}
	users   map[uuid.UUID]int
	logger  zerolog.Logger
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
		all:     make(map[*Client]struct{}),
		users:   make(map[uuid.UUID]int),
		logger:  logger.With().Str("component", "realtime_hub").Logger(),
	}
}

// Register adds c and subscribes it to its own user topic.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.all[c] = struct{}{}
	h.users[c.UserID]++
	h.subscribeLocked(c, UserTopic(c.UserID))
	telemetry.WSConnected()
}

// Unregister removes c from every topic and closes its Send channel.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.all[c]; !ok {
		return
	}
	for topic := range c.topics {
		h.unsubscribeLocked(c, topic)
	}
	delete(h.all, c)
	if h.users[c.UserID]--; h.users[c.UserID] <= 0 {
		delete(h.users, c.UserID)
	}
	close(c.Send)
	telemetry.WSDisconnected()
}

func (h *Hub) subscribeLocked(c *Client, topic string) {
	if h.clients[topic] == nil {
		h.clients[topic] = make(map[*Client]struct{})
	}
	h.clients[topic][c] = struct{}{}
	c.topics[topic] = struct{}{}
}

func (h *Hub) unsubscribeLocked(c *Client, topic string) {
	if subs, ok := h.clients[topic]; ok {
		delete(subs, c)
		if len(subs) == 0 {
			delete(h.clients, topic)
		}
	}
	delete(c.topics, topic)
}

// Subscribe adds the topics c is allowed to see. The first refused topic
// is returned as an error; allowed topics before and after it still apply.
func (h *Hub) Subscribe(c *Client, topics []string) ([]string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var (
		added    []string
		firstErr error
	)
	for _, t := range topics {
		if err := Authorize(c, t); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("%s: %w", t, err)
			}
			continue
		}
		h.subscribeLocked(c, t)
		added = append(added, t)
	}
	return added, firstErr
}

func (h *Hub) Unsubscribe(c *Client, topics []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, t := range topics {
		h.unsubscribeLocked(c, t)
	}
}

// Topics lists c's current subscriptions.
func (h *Hub) Topics(c *Client) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(c.topics))
	for t := range c.topics {
		out = append(out, t)
	}
	return out
}

// ProcessMessage applies msg and returns the reply for the client.
func (h *Hub) ProcessMessage(c *Client, msg ClientMessage) Reply {
	switch msg.Action {
	case "subscribe":
		added, err := h.Subscribe(c, msg.Topics)
		r := Reply{Type: "subscribed", Topics: added}
		if err != nil {
			r.Error = err.Error()
		}
		return r
	case "unsubscribe":
		h.Unsubscribe(c, msg.Topics)
		return Reply{Type: "unsubscribed", Topics: msg.Topics}
	}
	return Reply{Type: "error", Error: fmt.Sprintf("unknown action %q", msg.Action)}
}

// Broadcast sends event to every subscriber of event.Topic. Clients whose
// buffer is full miss the event.
func (h *Hub) Broadcast(event Event) int {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error().Err(err).Msg("marshal event")
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	sent := 0
	for c := range h.clients[event.Topic] {
		select {
		case c.Send <- data:
			sent++
		default:
			h.logger.Warn().Str("client_id", c.ID).Str("topic", event.Topic).Msg("client buffer full, event dropped")
		}
	}
	return sent
}

// Online reports whether userID has at least one connection.
func (h *Hub) Online(userID uuid.UUID) bool {
	return h.Connections(userID) > 0
}

func (h *Hub) Connections(userID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.users[userID]
}

// OnlineUsers returns the IDs of every connected user.
func (h *Hub) OnlineUsers() []uuid.UUID {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]uuid.UUID, 0, len(h.users))
	for id := range h.users {
		out = append(out, id)
	}
	return out
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

func (h *Hub) TopicCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[topic])
}
