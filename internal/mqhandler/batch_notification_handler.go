package mqhandler

import (
	"context"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	contractsmq "notifyhub/contracts/mq"
	"notifyhub/internal/model"
	"notifyhub/pkg/apperr"
	"notifyhub/pkg/logger"
	"notifyhub/pkg/util"
)

// BatchSubmitter is implemented by *service.NotificationService.
type BatchSubmitter interface {
	SubmitBatch(ctx context.Context, userIDs []uuid.UUID, title, message string, kind model.Kind, target model.TargetScope) error
}

type BatchNotificationHandler struct {
	svc    BatchSubmitter
	logger *zap.Logger
}

func NewBatchNotificationHandler(svc BatchSubmitter, logger *zap.Logger) *BatchNotificationHandler {
	return &BatchNotificationHandler{
		svc:    svc,
		logger: logger,
	}
}

// Handle decodes one batch event and submits it. Malformed payloads and empty
// recipient lists come back as validation errors so the consumer acknowledges
// and skips them.
func (h *BatchNotificationHandler) Handle(ctx context.Context, msg kafka.Message) error {
	const op = "mqhandler.BatchNotification"
	log := logger.WithTrace(ctx, h.logger).With(
		zap.String("topic", msg.Topic),
		zap.Int("partition", msg.Partition),
		zap.Int64("offset", msg.Offset),
	)

	ev, err := contractsmq.Decode(msg.Value)
	if err != nil {
		log.Warn("Skipping malformed batch notification",
			zap.String("error_type", util.ClassifyError(err)),
			zap.Error(err),
		)
		return apperr.Wrap(apperr.KindValidation, op, err)
	}

	if len(ev.UserIDs) == 0 {
		log.Warn("Skipping batch notification without recipients")
		return apperr.Validation(op, "userIds is empty")
	}

	log.Info("Processing batch notification",
		zap.Int("recipients", len(ev.UserIDs)),
		zap.String("type", ev.Type.String()),
		zap.String("target_type", ev.TargetType.String()),
	)

	if err := h.svc.SubmitBatch(ctx, ev.UserIDs, ev.Title, ev.Message, ev.Type, ev.TargetType); err != nil {
		if apperr.IsPermanent(err) {
			log.Warn("Batch notification rejected", zap.Error(err))
		} else {
			log.Error("Failed to submit batch notification",
				zap.String("error_type", util.ClassifyError(err)),
				zap.Error(err),
			)
		}
		return err
	}

	log.Info("Batch notification processed", zap.Int("recipients", len(ev.UserIDs)))
	return nil
}
