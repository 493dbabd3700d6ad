package notification

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ticketry/dispute-api/internal/model"
	apperrors "github.com/ticketry/dispute-api/pkg/errors"
	"github.com/ticketry/dispute-api/pkg/logger"
	"github.com/ticketry/dispute-api/pkg/metrics"
)

var testMetrics = metrics.NewMetrics("notification_service_test")

// Guarded because Create dispatches delivery on a separate goroutine.
type fakeNotificationRepo struct {
	mu            sync.Mutex
	notifications map[uuid.UUID]*model.Notification
}

func newFakeNotificationRepo() *fakeNotificationRepo {
	return &fakeNotificationRepo{notifications: make(map[uuid.UUID]*model.Notification)}
}

func (r *fakeNotificationRepo) Create(_ context.Context, n *model.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *n
	r.notifications[n.ID] = &copied
	return nil
}

func (r *fakeNotificationRepo) Get(_ context.Context, id uuid.UUID) (*model.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.notifications[id]
	if !ok {
		return nil, apperrors.NotFound("notification", nil)
	}
	copied := *n
	return &copied, nil
}

func (r *fakeNotificationRepo) UpdateStatus(_ context.Context, n *model.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.notifications[n.ID]
	if !ok {
		return apperrors.NotFound("notification", nil)
	}
	stored.Status = n.Status
	stored.SentAt = n.SentAt
	stored.DeliveredAt = n.DeliveredAt
	return nil
}

func (r *fakeNotificationRepo) ListByUser(_ context.Context, userID uuid.UUID, _ *model.NotificationFilter) ([]*model.Notification, int64, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Notification
	var unread int64
	for _, n := range r.notifications {
		if n.UserID != userID {
			continue
		}
		copied := *n
		out = append(out, &copied)
		if n.ReadAt == nil {
			unread++
		}
	}
	return out, int64(len(out)), unread, nil
}

func (r *fakeNotificationRepo) MarkRead(_ context.Context, id, userID uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.notifications[id]
	if !ok || n.UserID != userID {
		return false, apperrors.NotFound("notification", nil)
	}
	if n.ReadAt != nil {
		return true, nil
	}
	now := time.Now()
	n.ReadAt = &now
	return true, nil
}

func (r *fakeNotificationRepo) MarkAllRead(_ context.Context, userID uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	now := time.Now()
	for _, n := range r.notifications {
		if n.UserID == userID && n.ReadAt == nil {
			n.ReadAt = &now
			count++
		}
	}
	return count, nil
}

func (r *fakeNotificationRepo) CancelPendingForDispute(_ context.Context, disputeID uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for _, n := range r.notifications {
		if n.DisputeID == disputeID && n.Status == model.NotificationStatusPending {
			n.Status = model.NotificationStatusCancelled
			count++
		}
	}
	return count, nil
}

func (r *fakeNotificationRepo) status(id uuid.UUID) model.NotificationStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.notifications[id].Status
}

type fakeSender struct {
	channel model.NotificationChannel
	err     error
	mu      sync.Mutex
	sent    []uuid.UUID
}

func (s *fakeSender) Channel() model.NotificationChannel { return s.channel }

func (s *fakeSender) Send(_ context.Context, n *model.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, n.ID)
	return nil
}

func (s *fakeSender) sentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func validInput() *model.CreateNotificationInput {
	return &model.CreateNotificationInput{
		DisputeID: uuid.New(),
		UserID:    uuid.New(),
		Type:      model.NotificationDisputeCreated,
		Title:     "Dispute created",
		Message:   "Your dispute has been received.",
		Channels:  []model.NotificationChannel{model.ChannelEmail, model.ChannelInApp},
	}
}

func newTestService(repo *fakeNotificationRepo, senders ...ChannelSender) Service {
	return NewService(repo, senders, logger.NewLogger(nil), testMetrics)
}

func TestCreateScheduledStaysPending(t *testing.T) {
	repo := newFakeNotificationRepo()
	email := &fakeSender{channel: model.ChannelEmail}
	inApp := &fakeSender{channel: model.ChannelInApp}
	svc := newTestService(repo, email, inApp)

	later := time.Now().Add(time.Hour)
	input := validInput()
	input.ScheduledAt = &later

	n, err := svc.Create(context.Background(), input)
	require.NoError(t, err)

	assert.Equal(t, model.NotificationStatusPending, n.Status)
	assert.Equal(t, 0, email.sentCount())
	assert.Equal(t, 0, inApp.sentCount())
}

func TestCreateValidation(t *testing.T) {
	svc := newTestService(newFakeNotificationRepo())

	input := validInput()
	input.Title = ""
	_, err := svc.Create(context.Background(), input)
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))

	input = validInput()
	input.Channels = nil
	_, err = svc.Create(context.Background(), input)
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))
}

func TestProcessDeliversAllChannels(t *testing.T) {
	repo := newFakeNotificationRepo()
	email := &fakeSender{channel: model.ChannelEmail}
	inApp := &fakeSender{channel: model.ChannelInApp}
	svc := newTestService(repo, email, inApp)

	later := time.Now().Add(time.Hour)
	input := validInput()
	input.ScheduledAt = &later
	n, err := svc.Create(context.Background(), input)
	require.NoError(t, err)

	sent, err := svc.Process(context.Background(), n.ID)
	require.NoError(t, err)
	assert.True(t, sent)

	assert.Equal(t, 1, email.sentCount())
	assert.Equal(t, 1, inApp.sentCount())
	assert.Equal(t, model.NotificationStatusSent, repo.status(n.ID))
}

func TestProcessChannelFailure(t *testing.T) {
	repo := newFakeNotificationRepo()
	email := &fakeSender{channel: model.ChannelEmail, err: fmt.Errorf("smtp down")}
	inApp := &fakeSender{channel: model.ChannelInApp}
	svc := newTestService(repo, email, inApp)

	later := time.Now().Add(time.Hour)
	input := validInput()
	input.ScheduledAt = &later
	n, err := svc.Create(context.Background(), input)
	require.NoError(t, err)

	sent, err := svc.Process(context.Background(), n.ID)
	require.NoError(t, err)
	assert.False(t, sent)

	// The failing channel does not stop the rest of the list.
	assert.Equal(t, 1, inApp.sentCount())
	assert.Equal(t, model.NotificationStatusFailed, repo.status(n.ID))
}

func TestProcessNonPendingIsNoOp(t *testing.T) {
	repo := newFakeNotificationRepo()
	email := &fakeSender{channel: model.ChannelEmail}
	svc := newTestService(repo, email)

	n := &model.Notification{
		ID:        uuid.New(),
		DisputeID: uuid.New(),
		UserID:    uuid.New(),
		Type:      model.NotificationReminder,
		Title:     "t",
		Message:   "m",
		Channels:  []string{"email"},
		Status:    model.NotificationStatusSent,
		CreatedAt: time.Now(),
	}
	require.NoError(t, repo.Create(context.Background(), n))

	sent, err := svc.Process(context.Background(), n.ID)
	require.NoError(t, err)
	assert.False(t, sent)
	assert.Equal(t, 0, email.sentCount())
}

func TestCancelForDispute(t *testing.T) {
	repo := newFakeNotificationRepo()
	svc := newTestService(repo)

	disputeID := uuid.New()
	later := time.Now().Add(time.Hour)
	input := validInput()
	input.DisputeID = disputeID
	input.ScheduledAt = &later
	n, err := svc.Create(context.Background(), input)
	require.NoError(t, err)

	require.NoError(t, svc.CancelForDispute(context.Background(), disputeID))
	assert.Equal(t, model.NotificationStatusCancelled, repo.status(n.ID))
}

func TestListCountsUnread(t *testing.T) {
	repo := newFakeNotificationRepo()
	svc := newTestService(repo)

	userID := uuid.New()
	later := time.Now().Add(time.Hour)
	var first uuid.UUID
	for i := 0; i < 3; i++ {
		input := validInput()
		input.UserID = userID
		input.ScheduledAt = &later
		n, err := svc.Create(context.Background(), input)
		require.NoError(t, err)
		if i == 0 {
			first = n.ID
		}
	}

	read, err := svc.MarkRead(context.Background(), first, userID)
	require.NoError(t, err)
	assert.True(t, read)

	page, err := svc.List(context.Background(), userID, &model.NotificationFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), page.Total)
	assert.Equal(t, int64(2), page.UnreadCount)

	count, err := svc.MarkAllRead(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}
