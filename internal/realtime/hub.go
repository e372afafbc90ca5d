// Package realtime keeps the live-connection registry of this instance and
// delivers unread counts to it.
package realtime

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"notifyhub/pkg/metrics"
)

// Conn is one live client connection of a user.
type Conn struct {
	id     uint64
	userID uuid.UUID
	send   chan int64
}

func (c *Conn) ID() uint64 { return c.id }

func (c *Conn) UserID() uuid.UUID { return c.userID }

// Updates delivers unread counts. It is closed when the connection is
// unregistered or the hub shuts down.
func (c *Conn) Updates() <-chan int64 { return c.send }

// connSet is one user's connections. A dead set has been removed from the
// registry and must not receive new connections.
type connSet struct {
	mu    sync.Mutex
	conns map[*Conn]struct{}
	dead  bool
}

// Hub maps user ids to connection sets. The registry lock is only held to
// look up or remove a set; sends happen under the per-user set lock.
type Hub struct {
	mu         sync.RWMutex
	sets       map[uuid.UUID]*connSet
	nextID     atomic.Uint64
	bufferSize int
	logger     *zap.Logger
}

func NewHub(bufferSize int, logger *zap.Logger) *Hub {
	if bufferSize <= 0 {
		bufferSize = 8
	}
	return &Hub{
		sets:       make(map[uuid.UUID]*connSet),
		bufferSize: bufferSize,
		logger:     logger,
	}
}

// Register adds a connection for userID.
func (h *Hub) Register(userID uuid.UUID) *Conn {
	c := &Conn{
		id:     h.nextID.Add(1),
		userID: userID,
		send:   make(chan int64, h.bufferSize),
	}

	for {
		set := h.getOrCreate(userID)
		set.mu.Lock()
		if set.dead {
			// 与 Unregister 删除空集合竞争，重新获取
			set.mu.Unlock()
			continue
		}
		set.conns[c] = struct{}{}
		set.mu.Unlock()
		break
	}

	metrics.LiveConnections.Inc()
	h.logger.Debug("Connection registered",
		zap.String("user_id", userID.String()),
		zap.Uint64("conn_id", c.id),
	)
	return c
}

// Unregister removes c and closes its update channel. Calling it twice is safe.
func (h *Hub) Unregister(c *Conn) {
	set := h.lookup(c.userID)
	if set == nil {
		return
	}

	set.mu.Lock()
	if _, ok := set.conns[c]; !ok {
		set.mu.Unlock()
		return
	}
	delete(set.conns, c)
	close(c.send)
	empty := len(set.conns) == 0
	if empty {
		set.dead = true
	}
	set.mu.Unlock()

	if empty {
		h.mu.Lock()
		if h.sets[c.userID] == set {
			delete(h.sets, c.userID)
		}
		h.mu.Unlock()
	}

	metrics.LiveConnections.Dec()
	h.logger.Debug("Connection unregistered",
		zap.String("user_id", c.userID.String()),
		zap.Uint64("conn_id", c.id),
	)
}

// Push delivers count to every connection of userID. No connection is not an
// error. A connection whose buffer is full drops its oldest pending count so
// the latest value always gets through.
func (h *Hub) Push(_ context.Context, userID uuid.UUID, count int64) error {
	set := h.lookup(userID)
	if set == nil {
		return nil
	}

	set.mu.Lock()
	defer set.mu.Unlock()
	for c := range set.conns {
		select {
		case c.send <- count:
			continue
		default:
		}
		select {
		case <-c.send:
		default:
		}
		select {
		case c.send <- count:
		default:
			h.logger.Warn("Dropping unread count for slow connection",
				zap.String("user_id", userID.String()),
				zap.Uint64("conn_id", c.id),
			)
		}
	}
	return nil
}

// Connections returns the number of live connections of userID.
func (h *Hub) Connections(userID uuid.UUID) int {
	set := h.lookup(userID)
	if set == nil {
		return 0
	}
	set.mu.Lock()
	defer set.mu.Unlock()
	return len(set.conns)
}

// Shutdown closes every connection so stream handlers return.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	sets := h.sets
	h.sets = make(map[uuid.UUID]*connSet)
	h.mu.Unlock()

	for _, set := range sets {
		set.mu.Lock()
		for c := range set.conns {
			close(c.send)
			metrics.LiveConnections.Dec()
		}
		set.conns = map[*Conn]struct{}{}
		set.dead = true
		set.mu.Unlock()
	}
}

func (h *Hub) lookup(userID uuid.UUID) *connSet {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.sets[userID]
}

func (h *Hub) getOrCreate(userID uuid.UUID) *connSet {
	if set := h.lookup(userID); set != nil {
		return set
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.sets[userID]; ok {
		return set
	}
	set := &connSet{conns: make(map[*Conn]struct{})}
	h.sets[userID] = set
	return set
}
