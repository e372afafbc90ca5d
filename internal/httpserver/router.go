package httpserver

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"notifyhub/internal/handler"
	"notifyhub/pkg/otel"
	"notifyhub/pkg/rbac"
	"notifyhub/pkg/util"
)

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Router struct {
	Engine *gin.Engine
}

func NewRouter(
	notificationHandler *handler.NotificationHandler,
	streamHandler *handler.StreamHandler,
	publishHandler *handler.PublishHandler,
	tokenOpts util.TokenOptions,
	policy *rbac.Policy,
	db Pinger,
	logger *zap.Logger,
) *Router {
	r := gin.New()
	r.Use(gin.Recovery(), TraceMiddleware(), otel.GinMiddleware())

	// Health endpoints (放在最前面)
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.HEAD("/healthz", func(c *gin.Context) {
		c.Status(200)
	})

	r.GET("/readyz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 1*time.Second)
		defer cancel()

		if err := db.Ping(ctx); err != nil {
			c.JSON(500, gin.H{"status": "db_not_ready", "error": err.Error()})
			return
		}

		c.JSON(200, gin.H{"status": "ready"})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Protected
	api := r.Group("/api/notifications")
	api.Use(AuthMiddleware(tokenOpts, logger))
	{
		read := RequirePermission(policy, rbac.PermissionReadNotification)
		api.GET("", read, notificationHandler.GetNotifications)
		api.GET("/last-three", read, notificationHandler.GetLastThree)
		api.GET("/unread-count", read, notificationHandler.GetUnreadCount)
		api.GET("/stream", read, streamHandler.Stream)
		api.PUT("/read/:id", RequirePermission(policy, rbac.PermissionUpdateNotification), notificationHandler.MarkAsRead)
		api.POST("/publish", RequirePermission(policy, rbac.PermissionPublishNotification), publishHandler.Publish)
	}

	return &Router{Engine: r}
}
