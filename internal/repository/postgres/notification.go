package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ticketry/dispute-api/internal/model"
	"github.com/ticketry/dispute-api/internal/repository"
	apperrors "github.com/ticketry/dispute-api/pkg/errors"
)

var notificationColumns = `
	id, dispute_id, user_id, type, title, message, data, channels, status,
	scheduled_at, sent_at, delivered_at, read_at, created_at
`

type notificationRepository struct {
	*BaseRepository
}

func NewNotificationRepository(base *BaseRepository) repository.NotificationRepository {
	return &notificationRepository{BaseRepository: base}
}

func (r *notificationRepository) Create(ctx context.Context, notification *model.Notification) error {
	query := `
		INSERT INTO notifications (
			id, dispute_id, user_id, type, title, message, data, channels, status,
			scheduled_at, sent_at, delivered_at, read_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err := r.db.ExecContext(ctx, query,
		notification.ID,
		notification.DisputeID,
		notification.UserID,
		notification.Type,
		notification.Title,
		notification.Message,
		notification.Data,
		notification.Channels,
		notification.Status,
		notification.ScheduledAt,
		notification.SentAt,
		notification.DeliveredAt,
		notification.ReadAt,
		notification.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

func (r *notificationRepository) Get(ctx context.Context, id uuid.UUID) (*model.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE id = $1`

	var notification model.Notification
	if err := r.db.GetContext(ctx, &notification, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NotFound("notification", err)
		}
		return nil, fmt.Errorf("failed to get notification: %w", err)
	}
	return &notification, nil
}

func (r *notificationRepository) UpdateStatus(ctx context.Context, notification *model.Notification) error {
	query := `
		UPDATE notifications
		SET status = $1, sent_at = $2, delivered_at = $3, read_at = $4
		WHERE id = $5
	`
	result, err := r.db.ExecContext(ctx, query,
		notification.Status,
		notification.SentAt,
		notification.DeliveredAt,
		notification.ReadAt,
		notification.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update notification: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return apperrors.NotFound("notification", nil)
	}
	return nil
}

func (r *notificationRepository) ListByUser(ctx context.Context, userID uuid.UUID, filter *model.NotificationFilter) ([]*model.Notification, int64, int64, error) {
	where := []string{"user_id = $1"}
	args := []interface{}{userID}
	argCount := 2

	if filter.UnreadOnly {
		where = append(where, "read_at IS NULL")
	}
	if filter.Type != nil {
		where = append(where, fmt.Sprintf("type = $%d", argCount))
		args = append(args, *filter.Type)
		argCount++
	}
	whereClause := strings.Join(where, " AND ")

	var total int64
	countQuery := "SELECT COUNT(*) FROM notifications WHERE " + whereClause
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, 0, fmt.Errorf("failed to count notifications: %w", err)
	}

	var unread int64
	unreadQuery := "SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND read_at IS NULL"
	if err := r.db.GetContext(ctx, &unread, unreadQuery, userID); err != nil {
		return nil, 0, 0, fmt.Errorf("failed to count unread notifications: %w", err)
	}

	filter.Normalize()
	query := fmt.Sprintf(
		"SELECT %s FROM notifications WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d",
		notificationColumns, whereClause, argCount, argCount+1,
	)
	args = append(args, filter.Limit, filter.Offset())

	var notifications []*model.Notification
	if err := r.db.SelectContext(ctx, &notifications, query, args...); err != nil {
		return nil, 0, 0, fmt.Errorf("failed to list notifications: %w", err)
	}
	return notifications, total, unread, nil
}

func (r *notificationRepository) MarkRead(ctx context.Context, id, userID uuid.UUID) (bool, error) {
	// Marking an already-read notification is a no-op success.
	query := `
		UPDATE notifications
		SET read_at = $1
		WHERE id = $2 AND user_id = $3 AND read_at IS NULL
	`
	result, err := r.db.ExecContext(ctx, query, time.Now(), id, userID)
	if err != nil {
		return false, fmt.Errorf("failed to mark notification read: %w", err)
	}
	if rows, err := result.RowsAffected(); err == nil && rows > 0 {
		return true, nil
	}

	var exists bool
	existsQuery := "SELECT EXISTS (SELECT 1 FROM notifications WHERE id = $1 AND user_id = $2)"
	if err := r.db.GetContext(ctx, &exists, existsQuery, id, userID); err != nil {
		return false, fmt.Errorf("failed to check notification: %w", err)
	}
	if !exists {
		return false, apperrors.NotFound("notification", nil)
	}
	return true, nil
}

func (r *notificationRepository) MarkAllRead(ctx context.Context, userID uuid.UUID) (int64, error) {
	query := `
		UPDATE notifications
		SET read_at = $1
		WHERE user_id = $2 AND read_at IS NULL
	`
	result, err := r.db.ExecContext(ctx, query, time.Now(), userID)
	if err != nil {
		return 0, fmt.Errorf("failed to mark notifications read: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows, nil
}

func (r *notificationRepository) CancelPendingForDispute(ctx context.Context, disputeID uuid.UUID) (int64, error) {
	query := `
		UPDATE notifications
		SET status = $1
		WHERE dispute_id = $2 AND status = $3
	`
	result, err := r.db.ExecContext(ctx, query,
		model.NotificationStatusCancelled, disputeID, model.NotificationStatusPending)
	if err != nil {
		return 0, fmt.Errorf("failed to cancel pending notifications: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows, nil
}
