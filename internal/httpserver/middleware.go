package httpserver

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"notifyhub/internal/handler"
	"notifyhub/pkg/rbac"
	"notifyhub/pkg/trace"
	"notifyhub/pkg/util"
)

// TraceMiddleware 从请求头读取或生成 trace_id，并回写到响应头
func TraceMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := trace.Ensure(c.Request.Context(), c.GetHeader(trace.HeaderName))
		c.Request = c.Request.WithContext(ctx)
		c.Header(trace.HeaderName, trace.FromContext(ctx))
		c.Next()
	}
}

// AuthMiddleware verifies the bearer token and stores the user id in the
// gin context under handler.UserIDKey.
func AuthMiddleware(opts util.TokenOptions, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := util.ExtractToken(c.Request)
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			c.Abort()
			return
		}

		userID, err := util.ParseJWT(token, opts)
		if err != nil {
			logger.Debug("Rejected token", zap.Error(err))
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			c.Abort()
			return
		}

		c.Set(handler.UserIDKey, userID)
		c.Next()
	}
}

// RequirePermission 检查当前用户是否具备 permission，必须放在 AuthMiddleware 之后
func RequirePermission(policy *rbac.Policy, permission string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := policy.CheckPermission(handler.CurrentUserID(c), permission); err != nil {
			c.JSON(http.StatusForbidden, gin.H{"error": "insufficient permissions"})
			c.Abort()
			return
		}
		c.Next()
	}
}
