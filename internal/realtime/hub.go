package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"crm-calls/internal/auth"
	"crm-calls/internal/metrics"
	"crm-calls/internal/rbac"
	"crm-calls/pkg/logger"

	"github.com/gin-gonic/gin"
)

const clientBuffer = 32

type client struct {
	userID string
	// all receives every update regardless of owner.
	all    bool
	events chan CallUpdate
}

// Hub delivers updates to SSE clients connected to this process.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool
}

func NewHub() *Hub {
	return &Hub{clients: make(map[*client]struct{})}
}

func (h *Hub) addClient(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *Hub) removeClient(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.events)
}

// Broadcast never blocks; a client with a full buffer misses the update.
func (h *Hub) Broadcast(ctx context.Context, u CallUpdate) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for c := range h.clients {
		if !c.all && c.userID != u.OwnerID {
			continue
		}
		select {
		case c.events <- u:
			delivered++
		default:
			logger.From(ctx).Warn("realtime: client buffer full", "user_id", c.userID, "call_id", u.CallID)
		}
	}
	logger.From(ctx).Debug("realtime: call update published", "call_id", u.CallID, "event", u.Event, "clients", delivered)
	return nil
}

// Clients returns the number of connected streams.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Handler streams call updates to the authenticated caller. Admins receive
// every update; other roles only updates for leads they own.
func (h *Hub) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := auth.PrincipalFrom(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		c.Writer.Header().Set("Content-Type", "text/event-stream")
		c.Writer.Header().Set("Cache-Control", "no-cache")
		c.Writer.Header().Set("Connection", "keep-alive")
		c.Writer.Header().Set("X-Accel-Buffering", "no")

		cl := &client{
			userID: p.UserID,
			all:    p.Role == rbac.RoleAdmin || rbac.IsSuperAdmin(p.Role),
			events: make(chan CallUpdate, clientBuffer),
		}
		if !h.addClient(cl) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "shutting down"})
			return
		}
		defer h.removeClient(cl)
		metrics.AddStreamConnection()
		defer metrics.RemoveStreamConnection()

		c.SSEvent("connected", gin.H{"userId": p.UserID})
		c.Writer.Flush()

		done := c.Request.Context().Done()
		for {
			select {
			case <-done:
				return
			case u, ok := <-cl.events:
				if !ok {
					return
				}
				data, _ := json.Marshal(u)
				c.SSEvent(ChannelCallUpdate, string(data))
				c.Writer.Flush()
			}
		}
	}
}

// Close disconnects every client and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		close(c.events)
	}
	h.clients = make(map[*client]struct{})
}
