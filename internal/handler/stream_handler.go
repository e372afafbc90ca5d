package handler

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"notifyhub/internal/realtime"
	"notifyhub/pkg/logger"
)

// UnreadCountEvent is the SSE event name carrying the unread count.
const UnreadCountEvent = "ReceiveUnreadCount"

// ConnRegistry is implemented by *realtime.Hub.
type ConnRegistry interface {
	Register(userID uuid.UUID) *realtime.Conn
	Unregister(c *realtime.Conn)
}

type UnreadCounter interface {
	UnreadCount(ctx context.Context, userID uuid.UUID) (int64, error)
}

type StreamHandler struct {
	hub       ConnRegistry
	counter   UnreadCounter
	heartbeat time.Duration
	logger    *zap.Logger
}

func NewStreamHandler(hub ConnRegistry, counter UnreadCounter, heartbeat time.Duration, logger *zap.Logger) *StreamHandler {
	if heartbeat <= 0 {
		heartbeat = 25 * time.Second
	}
	return &StreamHandler{
		hub:       hub,
		counter:   counter,
		heartbeat: heartbeat,
		logger:    logger,
	}
}

// Stream 建立 SSE 连接，连接期间加入用户的连接组
// GET /api/notifications/stream
func (h *StreamHandler) Stream(c *gin.Context) {
	userID := CurrentUserID(c)
	ctx := c.Request.Context()
	log := logger.WithTrace(ctx, h.logger).With(zap.String("user_id", userID.String()))

	conn := h.hub.Register(userID)
	defer h.hub.Unregister(conn)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	// 连接建立时先发送当前未读数
	if count, err := h.counter.UnreadCount(ctx, userID); err != nil {
		log.Warn("Failed to load initial unread count", zap.Error(err))
	} else {
		c.SSEvent(UnreadCountEvent, count)
	}
	c.Writer.Flush()

	log.Info("Stream connected", zap.Uint64("conn_id", conn.ID()))

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case count, ok := <-conn.Updates():
			if !ok {
				return false
			}
			c.SSEvent(UnreadCountEvent, count)
			return true
		case <-ticker.C:
			_, err := io.WriteString(w, ": ping\n\n")
			return err == nil
		}
	})

	log.Info("Stream disconnected", zap.Uint64("conn_id", conn.ID()))
}
