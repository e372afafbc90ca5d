package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	contractsmq "notifyhub/contracts/mq"
	"notifyhub/pkg/logger"
)

// EventPublisher is implemented by *mq.Publisher.
type EventPublisher interface {
	Publish(ctx context.Context, key string, payload any) error
}

type publishRequest struct {
	UserIDs    []string `json:"userIds" validate:"required,min=1,dive,uuid"`
	Title      string   `json:"title" validate:"required,max=200"`
	Message    string   `json:"message" validate:"required,max=1000"`
	Type       int      `json:"type" validate:"min=0,max=3"`
	TargetType int      `json:"targetType" validate:"min=0,max=2"`
}

type PublishHandler struct {
	publisher EventPublisher
	validate  *validator.Validate
	logger    *zap.Logger
}

func NewPublishHandler(publisher EventPublisher, logger *zap.Logger) *PublishHandler {
	return &PublishHandler{
		publisher: publisher,
		validate:  validator.New(),
		logger:    logger,
	}
}

// Publish 将批量通知事件写入 Kafka，由消费者异步落库和推送
// POST /api/notifications/publish
func (h *PublishHandler) Publish(c *gin.Context) {
	var req publishRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := h.validate.Struct(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// 与消费端使用同一套解码规则，发布前拒绝消费者会跳过的事件
	batch, err := contractsmq.BatchNotificationEvent{
		UserIDs:    req.UserIDs,
		Title:      req.Title,
		Message:    req.Message,
		Type:       req.Type,
		TargetType: req.TargetType,
	}.ToDomain()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	log := logger.WithTrace(ctx, h.logger)
	if err := h.publisher.Publish(ctx, uuid.NewString(), contractsmq.Encode(batch)); err != nil {
		log.Error("Failed to publish batch notification", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "failed to publish event"})
		return
	}

	log.Info("Batch notification published",
		zap.Int("recipients", len(batch.UserIDs)),
		zap.String("requested_by", CurrentUserID(c).String()),
	)
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}
