package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"notifyhub/internal/model"
	"notifyhub/pkg/apperr"
	"notifyhub/pkg/logger"
	"notifyhub/pkg/metrics"
)

const (
	defaultPage     = 1
	defaultPageSize = 10
	maxPageSize     = 100
	// offset 上限 = maxPage * maxPageSize，避免 (page-1)*pageSize 溢出
	maxPage        = 100000
	lastThreeLimit = 3
)

// Store is the persistence capability the service needs.
type Store interface {
	InsertBatch(ctx context.Context, notifications []model.Notification) error
	UnreadCount(ctx context.Context, userID uuid.UUID) (int64, error)
	MarkAsRead(ctx context.Context, id, userID uuid.UUID) (bool, error)
	ListByUser(ctx context.Context, userID uuid.UUID, page, pageSize int) ([]model.Notification, error)
	CountByUser(ctx context.Context, userID uuid.UUID) (int64, error)
	ListLatest(ctx context.Context, userID uuid.UUID, limit int) ([]model.Notification, error)
}

// Notifier delivers a user's current unread count to their live connections.
type Notifier interface {
	Push(ctx context.Context, userID uuid.UUID, count int64) error
}

type NotificationService struct {
	store           Store
	notifier        Notifier
	logger          *zap.Logger
	breaker         *gobreaker.CircuitBreaker[struct{}]
	now             func() time.Time
	pushConcurrency int
	pushTimeout     time.Duration
}

type Option func(*NotificationService)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *NotificationService) { s.now = now }
}

func WithPushConcurrency(n int) Option {
	return func(s *NotificationService) {
		if n > 0 {
			s.pushConcurrency = n
		}
	}
}

func WithPushTimeout(d time.Duration) Option {
	return func(s *NotificationService) {
		if d > 0 {
			s.pushTimeout = d
		}
	}
}

// WithBreakerSettings replaces the persistence circuit breaker settings.
func WithBreakerSettings(st gobreaker.Settings) Option {
	return func(s *NotificationService) {
		s.breaker = gobreaker.NewCircuitBreaker[struct{}](st)
	}
}

func NewNotificationService(store Store, notifier Notifier, logger *zap.Logger, opts ...Option) *NotificationService {
	s := &NotificationService{
		store:    store,
		notifier: notifier,
		logger:   logger,
		breaker: gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
			Name:        "notification-store",
			MaxRequests: 1,
			Interval:    60 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures > 5
			},
		}),
		now:             time.Now,
		pushConcurrency: 16,
		pushTimeout:     5 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SubmitBatch persists one notification per user id (duplicates kept) with a
// shared CreatedAt, then pushes the fresh unread count once to every distinct
// user. Nothing is pushed unless persistence succeeded; push failures are
// logged and never fail the call.
func (s *NotificationService) SubmitBatch(ctx context.Context, userIDs []uuid.UUID, title, message string, kind model.Kind, target model.TargetScope) error {
	const op = "service.SubmitBatch"
	log := logger.WithTrace(ctx, s.logger)

	if len(userIDs) == 0 {
		return apperr.Validation(op, "userIds must not be empty")
	}

	createdAt := s.now().UTC()
	notifications := make([]model.Notification, 0, len(userIDs))
	for _, userID := range userIDs {
		notifications = append(notifications, model.Notification{
			ID:         uuid.New(),
			UserID:     userID,
			Title:      title,
			Message:    message,
			Type:       kind,
			IsRead:     false,
			CreatedAt:  createdAt,
			TargetType: target,
		})
	}

	_, err := s.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, s.store.InsertBatch(ctx, notifications)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return apperr.Persistence(op, err)
		}
		return err
	}

	metrics.AddNotificationsPersisted(target.String(), len(notifications))
	log.Info("Batch of notifications added",
		zap.Int("count", len(notifications)),
		zap.String("type", kind.String()),
		zap.String("target_type", target.String()),
	)

	s.pushAll(ctx, distinct(userIDs))
	return nil
}

// pushAll gives every user exactly one push attempt. Failures are isolated.
func (s *NotificationService) pushAll(ctx context.Context, userIDs []uuid.UUID) {
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(s.pushConcurrency)

	for _, userID := range userIDs {
		userID := userID
		g.Go(func() error {
			s.pushUnreadCount(gCtx, userID)
			// 推送失败不影响其他用户
			return nil
		})
	}
	_ = g.Wait()
}

func (s *NotificationService) pushUnreadCount(ctx context.Context, userID uuid.UUID) {
	const op = "service.pushUnreadCount"
	log := logger.WithTrace(ctx, s.logger)

	ctx, cancel := context.WithTimeout(ctx, s.pushTimeout)
	defer cancel()

	count, err := s.store.UnreadCount(ctx, userID)
	if err != nil {
		metrics.IncrementUnreadPush("failed")
		log.Error("Failed to read unread count for push",
			zap.String("user_id", userID.String()),
			zap.Error(apperr.Push(op, err)),
		)
		return
	}

	if err := s.notifier.Push(ctx, userID, count); err != nil {
		metrics.IncrementUnreadPush("failed")
		log.Error("Failed to push unread count",
			zap.String("user_id", userID.String()),
			zap.Int64("count", count),
			zap.Error(apperr.Push(op, err)),
		)
		return
	}
	metrics.IncrementUnreadPush("delivered")
}

func (s *NotificationService) UnreadCount(ctx context.Context, userID uuid.UUID) (int64, error) {
	return s.store.UnreadCount(ctx, userID)
}

// MarkAsRead marks a notification owned by userID as read and pushes the new
// count. A missing or foreign notification yields a forbidden error.
func (s *NotificationService) MarkAsRead(ctx context.Context, id, userID uuid.UUID) error {
	log := logger.WithTrace(ctx, s.logger)

	ok, err := s.store.MarkAsRead(ctx, id, userID)
	if err != nil {
		return err
	}
	if !ok {
		log.Warn("Attempt to mark non-existent or foreign notification as read",
			zap.String("notification_id", id.String()),
			zap.String("user_id", userID.String()),
		)
		return apperr.Forbidden("service.MarkAsRead", "notification not found or not owned by user")
	}

	log.Info("Notification marked as read",
		zap.String("notification_id", id.String()),
		zap.String("user_id", userID.String()),
	)
	s.pushUnreadCount(ctx, userID)
	return nil
}

// ListPaginated returns one page, newest first. Zero values take the defaults
// and pageSize is capped. A page beyond maxPage is a validation error.
func (s *NotificationService) ListPaginated(ctx context.Context, userID uuid.UUID, page, pageSize int) (model.NotificationPage, error) {
	if page > maxPage {
		return model.NotificationPage{}, apperr.Validation("service.ListPaginated", fmt.Sprintf("page must not exceed %d", maxPage))
	}
	if page < 1 {
		page = defaultPage
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	items, err := s.store.ListByUser(ctx, userID, page, pageSize)
	if err != nil {
		return model.NotificationPage{}, err
	}
	total, err := s.store.CountByUser(ctx, userID)
	if err != nil {
		return model.NotificationPage{}, err
	}

	return model.NotificationPage{
		Notifications: items,
		TotalCount:    total,
		Page:          page,
		PageSize:      pageSize,
	}, nil
}

func (s *NotificationService) LastThree(ctx context.Context, userID uuid.UUID) ([]model.Notification, error) {
	return s.store.ListLatest(ctx, userID, lastThreeLimit)
}

// distinct keeps the first occurrence of each id, in input order.
func distinct(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
