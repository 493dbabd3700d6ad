package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ticketry/dispute-api/internal/model"
	"github.com/ticketry/dispute-api/internal/repository"
	apperrors "github.com/ticketry/dispute-api/pkg/errors"
	"github.com/ticketry/dispute-api/pkg/logger"
	"github.com/ticketry/dispute-api/pkg/metrics"
)

// Service is the notification dispatcher: it turns a notification
// request into delivery attempts across channels and tracks
// delivery/read state.
type Service interface {
	Create(ctx context.Context, input *model.CreateNotificationInput) (*model.Notification, error)
	Process(ctx context.Context, id uuid.UUID) (bool, error)
	List(ctx context.Context, userID uuid.UUID, filter *model.NotificationFilter) (*model.NotificationPage, error)
	MarkRead(ctx context.Context, id, userID uuid.UUID) (bool, error)
	MarkAllRead(ctx context.Context, userID uuid.UUID) (int64, error)
	CancelForDispute(ctx context.Context, disputeID uuid.UUID) error
}

type service struct {
	repo    repository.NotificationRepository
	senders map[model.NotificationChannel]ChannelSender
	logger  *logger.Logger
	metrics *metrics.Metrics
}

func NewService(repo repository.NotificationRepository, senders []ChannelSender, logger *logger.Logger, metrics *metrics.Metrics) Service {
	byChannel := make(map[model.NotificationChannel]ChannelSender, len(senders))
	for _, s := range senders {
		byChannel[s.Channel()] = s
	}
	return &service{
		repo:    repo,
		senders: byChannel,
		logger:  logger,
		metrics: metrics,
	}
}

func (s *service) Create(ctx context.Context, input *model.CreateNotificationInput) (*model.Notification, error) {
	if err := validateInput(input); err != nil {
		return nil, apperrors.Validation("invalid notification", err)
	}

	channels := make([]string, 0, len(input.Channels))
	for _, c := range input.Channels {
		channels = append(channels, string(c))
	}

	notification := &model.Notification{
		ID:          uuid.New(),
		DisputeID:   input.DisputeID,
		UserID:      input.UserID,
		Type:        input.Type,
		Title:       input.Title,
		Message:     input.Message,
		Data:        input.Data,
		Channels:    channels,
		Status:      model.NotificationStatusPending,
		ScheduledAt: input.ScheduledAt,
		CreatedAt:   time.Now(),
	}
	if notification.Data == nil {
		notification.Data = model.JSONMap{}
	}

	if err := s.repo.Create(ctx, notification); err != nil {
		return nil, fmt.Errorf("failed to create notification: %w", err)
	}
	s.metrics.NotificationsCreated.Inc()

	// Scheduled notifications wait for the external scheduler;
	// everything else goes out now. Delivery happens off the request
	// path so a slow channel never holds up the triggering dispute
	// operation.
	if notification.ScheduledAt == nil {
		go func() {
			if _, err := s.Process(context.Background(), notification.ID); err != nil {
				s.logger.Error(err, "notification delivery failed",
					"notification_id", notification.ID.String())
			}
		}()
	}

	return notification, nil
}

func (s *service) Process(ctx context.Context, id uuid.UUID) (bool, error) {
	notification, err := s.repo.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if notification.Status != model.NotificationStatusPending {
		return false, nil
	}

	timer := prometheus.NewTimer(s.metrics.NotificationProcessingLatency)
	defer timer.ObserveDuration()

	// Every channel is attempted in list order even after a failure;
	// the aggregate outcome is failed if any channel failed.
	var firstErr error
	for _, channel := range notification.ChannelList() {
		if err := s.sendOne(ctx, channel, notification); err != nil {
			s.metrics.NotificationSends.WithLabelValues(string(channel), "failed").Inc()
			s.logger.Error(err, "channel delivery failed",
				"notification_id", notification.ID.String(),
				"channel", string(channel))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		s.metrics.NotificationSends.WithLabelValues(string(channel), "sent").Inc()
	}

	if firstErr != nil {
		notification.Status = model.NotificationStatusFailed
		if err := s.repo.UpdateStatus(ctx, notification); err != nil {
			s.logger.Error(err, "failed to record notification failure",
				"notification_id", notification.ID.String())
		}
		return false, nil
	}

	now := time.Now()
	notification.Status = model.NotificationStatusSent
	notification.SentAt = &now
	if err := s.repo.UpdateStatus(ctx, notification); err != nil {
		return false, fmt.Errorf("failed to mark notification sent: %w", err)
	}
	return true, nil
}

func (s *service) sendOne(ctx context.Context, channel model.NotificationChannel, notification *model.Notification) error {
	sender, ok := s.senders[channel]
	if !ok {
		return fmt.Errorf("unsupported channel: %s", channel)
	}
	return sender.Send(ctx, notification)
}

func (s *service) List(ctx context.Context, userID uuid.UUID, filter *model.NotificationFilter) (*model.NotificationPage, error) {
	notifications, total, unread, err := s.repo.ListByUser(ctx, userID, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	if notifications == nil {
		notifications = []*model.Notification{}
	}
	return &model.NotificationPage{
		Notifications: notifications,
		Total:         total,
		UnreadCount:   unread,
	}, nil
}

func (s *service) MarkRead(ctx context.Context, id, userID uuid.UUID) (bool, error) {
	return s.repo.MarkRead(ctx, id, userID)
}

func (s *service) MarkAllRead(ctx context.Context, userID uuid.UUID) (int64, error) {
	return s.repo.MarkAllRead(ctx, userID)
}

func (s *service) CancelForDispute(ctx context.Context, disputeID uuid.UUID) error {
	cancelled, err := s.repo.CancelPendingForDispute(ctx, disputeID)
	if err != nil {
		return err
	}
	if cancelled > 0 {
		s.logger.Info("cancelled pending notifications",
			"dispute_id", disputeID.String(), "count", cancelled)
	}
	return nil
}

func validateInput(input *model.CreateNotificationInput) error {
	if input.DisputeID == uuid.Nil {
		return fmt.Errorf("dispute ID is required")
	}
	if input.UserID == uuid.Nil {
		return fmt.Errorf("user ID is required")
	}
	if input.Type == "" {
		return fmt.Errorf("type is required")
	}
	if input.Title == "" {
		return fmt.Errorf("title is required")
	}
	if input.Message == "" {
		return fmt.Errorf("message is required")
	}
	if len(input.Channels) == 0 {
		return fmt.Errorf("at least one channel is required")
	}
	return nil
}
