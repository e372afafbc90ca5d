package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"notifyhub/internal/model"
	"notifyhub/pkg/apperr"
	"notifyhub/pkg/logger"
)

// UserIDKey is the gin context key under which the auth middleware stores
// the caller's uuid.UUID.
const UserIDKey = "user_id"

// NotificationQueryService is implemented by *service.NotificationService.
type NotificationQueryService interface {
	ListPaginated(ctx context.Context, userID uuid.UUID, page, pageSize int) (model.NotificationPage, error)
	LastThree(ctx context.Context, userID uuid.UUID) ([]model.Notification, error)
	UnreadCount(ctx context.Context, userID uuid.UUID) (int64, error)
	MarkAsRead(ctx context.Context, id, userID uuid.UUID) error
}

type notificationResponse struct {
	ID        uuid.UUID  `json:"id"`
	Title     string     `json:"title"`
	Message   string     `json:"message"`
	Type      model.Kind `json:"type"`
	IsRead    bool       `json:"isRead"`
	CreatedAt time.Time  `json:"createdAt"`
}

type paginatedResponse struct {
	Notifications []notificationResponse `json:"notifications"`
	TotalCount    int64                  `json:"totalCount"`
	Page          int                    `json:"page"`
	PageSize      int                    `json:"pageSize"`
}

func toResponses(ns []model.Notification) []notificationResponse {
	out := make([]notificationResponse, 0, len(ns))
	for _, n := range ns {
		out = append(out, notificationResponse{
			ID:        n.ID,
			Title:     n.Title,
			Message:   n.Message,
			Type:      n.Type,
			IsRead:    n.IsRead,
			CreatedAt: n.CreatedAt,
		})
	}
	return out
}

type NotificationHandler struct {
	svc    NotificationQueryService
	logger *zap.Logger
}

func NewNotificationHandler(svc NotificationQueryService, logger *zap.Logger) *NotificationHandler {
	return &NotificationHandler{
		svc:    svc,
		logger: logger,
	}
}

// GetNotifications 分页获取通知
// GET /api/notifications?page=1&pageSize=10
func (h *NotificationHandler) GetNotifications(c *gin.Context) {
	userID := CurrentUserID(c)

	page, err := intQuery(c, "page")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid page parameter"})
		return
	}
	pageSize, err := intQuery(c, "pageSize")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid pageSize parameter"})
		return
	}

	result, err := h.svc.ListPaginated(c.Request.Context(), userID, page, pageSize)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, paginatedResponse{
		Notifications: toResponses(result.Notifications),
		TotalCount:    result.TotalCount,
		Page:          result.Page,
		PageSize:      result.PageSize,
	})
}

// GetLastThree GET /api/notifications/last-three
func (h *NotificationHandler) GetLastThree(c *gin.Context) {
	items, err := h.svc.LastThree(c.Request.Context(), CurrentUserID(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toResponses(items))
}

// GetUnreadCount GET /api/notifications/unread-count
func (h *NotificationHandler) GetUnreadCount(c *gin.Context) {
	count, err := h.svc.UnreadCount(c.Request.Context(), CurrentUserID(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, count)
}

// MarkAsRead PUT /api/notifications/read/:id
func (h *NotificationHandler) MarkAsRead(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid notification id"})
		return
	}

	if err := h.svc.MarkAsRead(c.Request.Context(), id, CurrentUserID(c)); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, true)
}

// writeError maps the error kind to a status code. Internal details are only logged.
func (h *NotificationHandler) writeError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.WithTrace(c.Request.Context(), h.logger).Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}

	var appErr *apperr.Error
	msg := err.Error()
	if errors.As(err, &appErr) && appErr.Msg != "" {
		msg = appErr.Msg
	}
	c.JSON(status, gin.H{"error": msg})
}

func statusFor(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// intQuery returns 0 when the parameter is absent.
func intQuery(c *gin.Context, name string) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}

// CurrentUserID returns the authenticated user set by the auth middleware.
func CurrentUserID(c *gin.Context) uuid.UUID {
	return c.MustGet(UserIDKey).(uuid.UUID)
}
