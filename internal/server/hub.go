package server

import (
	"log/slog"
	"sync"

	"github.com/Tyrowin/linechat/internal/chat"
	"github.com/Tyrowin/linechat/internal/protocol"
)

// Hub is the set of live connections and the broadcast engine over it.
type Hub struct {
	mu     sync.RWMutex
	conns  map[*Conn]struct{}
	logger *slog.Logger
}

func newHub(logger *slog.Logger) *Hub {
	return &Hub{
		conns:  make(map[*Conn]struct{}),
		logger: logger,
	}
}

// add inserts c unless limit (when positive) connections are already present.
func (h *Hub) add(c *Conn, limit int) (int, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if limit > 0 && len(h.conns) >= limit {
		return len(h.conns), false
	}
	h.conns[c] = struct{}{}
	return len(h.conns), true
}

func (h *Hub) remove(c *Conn) (int, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[c]; !ok {
		return len(h.conns), false
	}
	delete(h.conns, c)
	return len(h.conns), true
}

// Len returns the number of live connections.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// snapshot copies the set so callers can iterate without holding the lock.
func (h *Hub) snapshot() []*Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()

	conns := make([]*Conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	return conns
}

// BroadcastExcluding pushes update to every open supplemental connection
// whose user is not excluded. Primary and unassociated connections never
// receive updates. It returns how many connections the update was queued on.
func (h *Hub) BroadcastExcluding(excluded *chat.User, update protocol.Update) int {
	line, err := protocol.Encode(update)
	if err != nil {
		h.logger.Error("encode update", "update", update.Key, "error", err)
		return 0
	}

	delivered := 0
	for _, c := range h.snapshot() {
		if c.Closed() {
			continue
		}
		role, user := c.binding()
		if role != RoleSupplemental || user == nil {
			continue
		}
		if excluded != nil && user.ID == excluded.ID {
			continue
		}
		if err := c.SendLine(line); err != nil {
			c.log().Debug("update not delivered", "update", update.Key, "error", err)
			continue
		}
		delivered++
	}

	h.logger.Debug("broadcast", "update", update.Key, "recipients", delivered)
	return delivered
}
