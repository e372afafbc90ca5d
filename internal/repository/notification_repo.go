package repository

import (
	"context"
	_ "embed"
	"fmt"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"notifyhub/internal/model"
	"notifyhub/pkg/apperr"
)

//go:embed schema.sql
var schemaSQL string

// DB is satisfied by *pgxpool.Pool.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var notificationColumns = []string{
	"id", "user_id", "title", "message", "type", "is_read", "created_at", "target_type",
}

const selectNotification = `
    SELECT id, user_id, title, message, type, is_read, created_at, target_type
    FROM notifications
`

type NotificationRepository struct {
	db DB
}

func NewNotificationRepository(db DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// EnsureSchema creates the notifications table and its indexes if missing.
func (r *NotificationRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, schemaSQL); err != nil {
		return apperr.Persistence("repository.EnsureSchema", err)
	}
	return nil
}

// InsertBatch writes all rows in one transaction. Any invalid row fails the
// whole batch and nothing is written.
func (r *NotificationRepository) InsertBatch(ctx context.Context, notifications []model.Notification) (err error) {
	const op = "repository.InsertBatch"

	if len(notifications) == 0 {
		return apperr.Validation(op, "empty batch")
	}

	rows := make([][]any, 0, len(notifications))
	for i, n := range notifications {
		if err := checkLengths(n); err != nil {
			return apperr.Persistence(op, fmt.Errorf("notification %d: %w", i, err))
		}
		rows = append(rows, []any{
			n.ID, n.UserID, n.Title, n.Message, int16(n.Type), n.IsRead, n.CreatedAt, int16(n.TargetType),
		})
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return apperr.Persistence(op, fmt.Errorf("begin: %w", err))
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
		}
	}()

	copied, err := tx.CopyFrom(ctx, pgx.Identifier{"notifications"}, notificationColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return apperr.Persistence(op, fmt.Errorf("copy: %w", err))
	}
	if copied != int64(len(rows)) {
		return apperr.Persistence(op, fmt.Errorf("copied %d of %d rows", copied, len(rows)))
	}

	if err = tx.Commit(ctx); err != nil {
		return apperr.Persistence(op, fmt.Errorf("commit: %w", err))
	}
	return nil
}

func checkLengths(n model.Notification) error {
	if utf8.RuneCountInString(n.Title) > model.MaxTitleLength {
		return fmt.Errorf("title exceeds %d characters", model.MaxTitleLength)
	}
	if utf8.RuneCountInString(n.Message) > model.MaxMessageLength {
		return fmt.Errorf("message exceeds %d characters", model.MaxMessageLength)
	}
	return nil
}

// UnreadCount 统计用户未读通知数
func (r *NotificationRepository) UnreadCount(ctx context.Context, userID uuid.UUID) (int64, error) {
	query := `SELECT count(*) FROM notifications WHERE user_id = $1 AND NOT is_read`

	var count int64
	if err := r.db.QueryRow(ctx, query, userID).Scan(&count); err != nil {
		return 0, apperr.Persistence("repository.UnreadCount", err)
	}
	return count, nil
}

// CountByUser 统计用户通知总数
func (r *NotificationRepository) CountByUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	query := `SELECT count(*) FROM notifications WHERE user_id = $1`

	var count int64
	if err := r.db.QueryRow(ctx, query, userID).Scan(&count); err != nil {
		return 0, apperr.Persistence("repository.CountByUser", err)
	}
	return count, nil
}

// MarkAsRead sets is_read only on a row owned by userID. It reports whether
// such a row exists.
func (r *NotificationRepository) MarkAsRead(ctx context.Context, id, userID uuid.UUID) (bool, error) {
	query := `UPDATE notifications SET is_read = true WHERE id = $1 AND user_id = $2`

	tag, err := r.db.Exec(ctx, query, id, userID)
	if err != nil {
		return false, apperr.Persistence("repository.MarkAsRead", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListByUser returns one page, newest first. page starts at 1.
func (r *NotificationRepository) ListByUser(ctx context.Context, userID uuid.UUID, page, pageSize int) ([]model.Notification, error) {
	query := selectNotification + `
    WHERE user_id = $1
    ORDER BY created_at DESC, id
    LIMIT $2 OFFSET $3
`
	offset := (page - 1) * pageSize
	return r.list(ctx, "repository.ListByUser", query, userID, pageSize, offset)
}

// ListLatest returns the newest limit notifications.
func (r *NotificationRepository) ListLatest(ctx context.Context, userID uuid.UUID, limit int) ([]model.Notification, error) {
	query := selectNotification + `
    WHERE user_id = $1
    ORDER BY created_at DESC, id
    LIMIT $2
`
	return r.list(ctx, "repository.ListLatest", query, userID, limit)
}

func (r *NotificationRepository) list(ctx context.Context, op, query string, args ...any) ([]model.Notification, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, apperr.Persistence(op, err)
	}
	defer rows.Close()

	var result []model.Notification
	for rows.Next() {
		var (
			n          model.Notification
			kind       int16
			targetType int16
		)
		if err := rows.Scan(&n.ID, &n.UserID, &n.Title, &n.Message, &kind, &n.IsRead, &n.CreatedAt, &targetType); err != nil {
			return nil, apperr.Persistence(op, err)
		}
		n.Type = model.Kind(kind)
		n.TargetType = model.TargetScope(targetType)
		result = append(result, n)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Persistence(op, err)
	}
	return result, nil
}
