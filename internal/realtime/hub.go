package realtime

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"aepblueprint/internal/outline"
	"aepblueprint/internal/platform/logger"

	"github.com/google/uuid"
)

// ChannelOutline carries every outline invalidation.
const ChannelOutline = "outline"

const DefaultHeartbeat = 15 * time.Second

type Message struct {
	Channel string `json:"channel"`
	Event   string `json:"event"`
	Data    any    `json:"data,omitempty"`
}

type Client struct {
	ID       uuid.UUID
	UserID   string
	Channels map[string]bool
	Outbound chan Message
	done     chan struct{}
	once     sync.Once
}

type Hub struct {
	mu            sync.RWMutex
	log           *logger.Logger
	heartbeat     time.Duration
	subscriptions map[string]map[*Client]bool
}

func NewHub(log *logger.Logger) *Hub {
	if log == nil {
		log = logger.Nop()
	}
	return &Hub{
		log:           log.With("component", "SSEHub"),
		heartbeat:     DefaultHeartbeat,
		subscriptions: make(map[string]map[*Client]bool),
	}
}

func (h *Hub) SetHeartbeat(d time.Duration) {
	if d > 0 {
		h.heartbeat = d
	}
}

func (h *Hub) NewClient(userID string) *Client {
	return &Client{
		ID:       uuid.New(),
		UserID:   userID,
		Channels: make(map[string]bool),
		Outbound: make(chan Message, 32),
		done:     make(chan struct{}),
	}
}

func (h *Hub) AddChannel(c *Client, channel string) {
	channel = strings.TrimSpace(channel)
	if channel == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	c.Channels[channel] = true
	clients, ok := h.subscriptions[channel]
	if !ok {
		clients = make(map[*Client]bool)
		h.subscriptions[channel] = clients
	}
	clients[c] = true
	h.log.Debug("sse client subscribed", "client_id", c.ID, "channel", channel)
}

func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range c.Channels {
		if subs, ok := h.subscriptions[ch]; ok {
			delete(subs, c)
			if len(subs) == 0 {
				delete(h.subscriptions, ch)
			}
		}
	}
	c.Channels = make(map[string]bool)
}

// Clients reports how many clients listen on channel.
func (h *Hub) Clients(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscriptions[channel])
}

// Broadcast never blocks: a client whose buffer is full misses the message.
func (h *Hub) Broadcast(msg Message) {
	if msg.Channel == "" {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.subscriptions[msg.Channel] {
		select {
		case c.Outbound <- msg:
		default:
			h.log.Warn("dropping sse message, outbound buffer full", "client_id", c.ID, "event", msg.Event)
		}
	}
}

// Attach forwards every invalidation of cache to ChannelOutline. The
// returned func detaches the hub.
func (h *Hub) Attach(cache *outline.Cache) func() {
	return cache.Subscribe(func(inv outline.Invalidation) {
		h.Broadcast(Message{Channel: ChannelOutline, Event: inv.Kind, Data: inv})
	})
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request, c *Client) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-heartbeat.C:
			_, _ = fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case msg, ok := <-c.Outbound:
			if !ok {
				return
			}
			raw, err := json.Marshal(msg)
			if err != nil {
				h.log.Warn("failed to marshal sse message", "error", err)
				continue
			}
			_, _ = fmt.Fprintf(w, "event: message\ndata: %s\n\n", raw)
			flusher.Flush()
		}
	}
}

// CloseClient is safe to call more than once.
func (h *Hub) CloseClient(c *Client) {
	c.once.Do(func() {
		close(c.done)
		h.RemoveClient(c)
		close(c.Outbound)
	})
}
