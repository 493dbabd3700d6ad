package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ticketry/dispute-api/internal/model"
)

// DisputeRepository persists dispute cases and their embedded
// evidence, escalation and communication logs.
type DisputeRepository interface {
	Create(ctx context.Context, dispute *model.Dispute) error
	Get(ctx context.Context, id uuid.UUID) (*model.Dispute, error)
	Update(ctx context.Context, dispute *model.Dispute) error
	List(ctx context.Context, filter *model.DisputeFilter) ([]*model.Dispute, int64, error)
	HasActiveDispute(ctx context.Context, ticketID uuid.UUID) (bool, error)
	ListStale(ctx context.Context, cutoff time.Time) ([]*model.Dispute, error)
	Analytics(ctx context.Context, startDate, endDate *time.Time) (*model.DisputeAnalytics, error)
}

// NotificationRepository persists per-user notification entries.
type NotificationRepository interface {
	Create(ctx context.Context, notification *model.Notification) error
	Get(ctx context.Context, id uuid.UUID) (*model.Notification, error)
	UpdateStatus(ctx context.Context, notification *model.Notification) error
	ListByUser(ctx context.Context, userID uuid.UUID, filter *model.NotificationFilter) ([]*model.Notification, int64, int64, error)
	MarkRead(ctx context.Context, id, userID uuid.UUID) (bool, error)
	MarkAllRead(ctx context.Context, userID uuid.UUID) (int64, error)
	CancelPendingForDispute(ctx context.Context, disputeID uuid.UUID) (int64, error)
}
