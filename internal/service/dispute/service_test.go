package dispute

import (
	"context"
	"fmt"
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

// Shared across tests: promauto registers against the default
// registry and a second registration panics.
var testMetrics = metrics.NewMetrics("dispute_service_test")

type fakeDisputeRepo struct {
	disputes map[uuid.UUID]*model.Dispute
	stale    []*model.Dispute
}

func newFakeDisputeRepo() *fakeDisputeRepo {
	return &fakeDisputeRepo{disputes: make(map[uuid.UUID]*model.Dispute)}
}

func (r *fakeDisputeRepo) Create(_ context.Context, d *model.Dispute) error {
	for _, existing := range r.disputes {
		if existing.TicketID == d.TicketID && !existing.Status.Terminal() {
			return apperrors.Conflict("an active dispute already exists for this ticket", nil)
		}
	}
	copied := *d
	r.disputes[d.ID] = &copied
	return nil
}

func (r *fakeDisputeRepo) Get(_ context.Context, id uuid.UUID) (*model.Dispute, error) {
	d, ok := r.disputes[id]
	if !ok {
		return nil, apperrors.NotFound("dispute", nil)
	}
	copied := *d
	return &copied, nil
}

func (r *fakeDisputeRepo) Update(_ context.Context, d *model.Dispute) error {
	if _, ok := r.disputes[d.ID]; !ok {
		return apperrors.NotFound("dispute", nil)
	}
	copied := *d
	copied.UpdatedAt = time.Now()
	r.disputes[d.ID] = &copied
	return nil
}

func (r *fakeDisputeRepo) List(_ context.Context, filter *model.DisputeFilter) ([]*model.Dispute, int64, error) {
	var out []*model.Dispute
	for _, d := range r.disputes {
		if filter.UserID != nil && d.UserID != *filter.UserID {
			continue
		}
		if filter.Status != nil && d.Status != *filter.Status {
			continue
		}
		copied := *d
		out = append(out, &copied)
	}
	return out, int64(len(out)), nil
}

func (r *fakeDisputeRepo) HasActiveDispute(_ context.Context, ticketID uuid.UUID) (bool, error) {
	for _, d := range r.disputes {
		if d.TicketID == ticketID && !d.Status.Terminal() {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeDisputeRepo) ListStale(_ context.Context, _ time.Time) ([]*model.Dispute, error) {
	return r.stale, nil
}

func (r *fakeDisputeRepo) Analytics(_ context.Context, _, _ *time.Time) (*model.DisputeAnalytics, error) {
	return &model.DisputeAnalytics{}, nil
}

type fakeNotifier struct {
	created   []*model.CreateNotificationInput
	cancelled []uuid.UUID
	failTypes map[model.NotificationType]bool
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{failTypes: make(map[model.NotificationType]bool)}
}

func (n *fakeNotifier) Create(_ context.Context, input *model.CreateNotificationInput) (*model.Notification, error) {
	if n.failTypes[input.Type] {
		return nil, fmt.Errorf("notification store unavailable")
	}
	n.created = append(n.created, input)
	return &model.Notification{ID: uuid.New()}, nil
}

func (n *fakeNotifier) Process(context.Context, uuid.UUID) (bool, error) { return true, nil }

func (n *fakeNotifier) List(context.Context, uuid.UUID, *model.NotificationFilter) (*model.NotificationPage, error) {
	return &model.NotificationPage{}, nil
}

func (n *fakeNotifier) MarkRead(context.Context, uuid.UUID, uuid.UUID) (bool, error) {
	return true, nil
}

func (n *fakeNotifier) MarkAllRead(context.Context, uuid.UUID) (int64, error) { return 0, nil }

func (n *fakeNotifier) CancelForDispute(_ context.Context, disputeID uuid.UUID) error {
	n.cancelled = append(n.cancelled, disputeID)
	return nil
}

func (n *fakeNotifier) lastType() model.NotificationType {
	if len(n.created) == 0 {
		return ""
	}
	return n.created[len(n.created)-1].Type
}

type fakeTickets struct {
	tickets map[uuid.UUID]*model.Ticket
}

func (t *fakeTickets) GetTicket(_ context.Context, id uuid.UUID) (*model.Ticket, error) {
	tkt, ok := t.tickets[id]
	if !ok {
		return nil, apperrors.NotFound("ticket", nil)
	}
	return tkt, nil
}

type testEnv struct {
	svc      Service
	repo     *fakeDisputeRepo
	notifier *fakeNotifier
	tickets  *fakeTickets
	userID   uuid.UUID
	ticketID uuid.UUID
}

func newTestEnv(t *testing.T, price float64) *testEnv {
	t.Helper()
	env := &testEnv{
		repo:     newFakeDisputeRepo(),
		notifier: newFakeNotifier(),
		tickets:  &fakeTickets{tickets: make(map[uuid.UUID]*model.Ticket)},
		userID:   uuid.New(),
		ticketID: uuid.New(),
	}
	env.tickets.tickets[env.ticketID] = &model.Ticket{
		ID:      env.ticketID,
		OwnerID: env.userID,
		Price:   price,
		Status:  "confirmed",
	}
	env.svc = NewService(env.repo, env.notifier, env.tickets, logger.NewLogger(nil), testMetrics)
	return env
}

func createRequest(env *testEnv) *model.CreateDisputeRequest {
	return &model.CreateDisputeRequest{
		TicketID:    env.ticketID.String(),
		DisputeType: model.DisputeTypeTechnicalIssue,
		Subject:     "Stream kept buffering",
		Description: "The stream dropped every few minutes during the show.",
	}
}

func TestCreateDispute(t *testing.T) {
	env := newTestEnv(t, 120)

	d, err := env.svc.CreateDispute(context.Background(), env.userID, createRequest(env))
	require.NoError(t, err)

	assert.Equal(t, model.DisputeStatusPending, d.Status)
	assert.Equal(t, model.PriorityMedium, d.Priority)
	assert.Equal(t, model.RefundStatusPending, d.RefundStatus)
	assert.Equal(t, 0, d.EscalationLevel)
	assert.False(t, d.LastActivityAt.IsZero())

	// Opening description is recorded as the first message.
	require.Len(t, d.CommunicationHistory, 1)
	assert.Equal(t, model.CommunicationTypeUserMessage, d.CommunicationHistory[0].Type)
	assert.Equal(t, env.userID, d.CommunicationHistory[0].From)

	require.Len(t, env.notifier.created, 1)
	assert.Equal(t, model.NotificationDisputeCreated, env.notifier.created[0].Type)
}

func TestCreateDisputePriorityOverrides(t *testing.T) {
	t.Run("expensive ticket forces high", func(t *testing.T) {
		env := newTestEnv(t, 750)
		req := createRequest(env)
		req.Priority = model.PriorityLow

		d, err := env.svc.CreateDispute(context.Background(), env.userID, req)
		require.NoError(t, err)
		assert.Equal(t, model.PriorityHigh, d.Priority)
	})

	t.Run("fraud claim forces high", func(t *testing.T) {
		env := newTestEnv(t, 10)
		req := createRequest(env)
		req.DisputeType = model.DisputeTypeFraudulentCharge
		req.Priority = model.PriorityLow

		d, err := env.svc.CreateDispute(context.Background(), env.userID, req)
		require.NoError(t, err)
		assert.Equal(t, model.PriorityHigh, d.Priority)
	})

	t.Run("requested priority honored otherwise", func(t *testing.T) {
		env := newTestEnv(t, 100)
		req := createRequest(env)
		req.Priority = model.PriorityLow

		d, err := env.svc.CreateDispute(context.Background(), env.userID, req)
		require.NoError(t, err)
		assert.Equal(t, model.PriorityLow, d.Priority)
	})
}

func TestCreateDisputeOwnership(t *testing.T) {
	env := newTestEnv(t, 100)

	stranger := uuid.New()
	_, err := env.svc.CreateDispute(context.Background(), stranger, createRequest(env))
	assert.True(t, apperrors.Is(err, apperrors.ErrForbidden))

	// A missing ticket reads the same as a foreign one.
	req := createRequest(env)
	req.TicketID = uuid.New().String()
	_, err = env.svc.CreateDispute(context.Background(), env.userID, req)
	assert.True(t, apperrors.Is(err, apperrors.ErrForbidden))
}

func TestCreateDisputeDuplicateActive(t *testing.T) {
	env := newTestEnv(t, 100)

	_, err := env.svc.CreateDispute(context.Background(), env.userID, createRequest(env))
	require.NoError(t, err)

	_, err = env.svc.CreateDispute(context.Background(), env.userID, createRequest(env))
	assert.True(t, apperrors.Is(err, apperrors.ErrConflict))
}

func TestCreateDisputeInvalidType(t *testing.T) {
	env := newTestEnv(t, 100)
	req := createRequest(env)
	req.DisputeType = "vibes"

	_, err := env.svc.CreateDispute(context.Background(), env.userID, req)
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))
}

func TestGetDisputeScoping(t *testing.T) {
	env := newTestEnv(t, 100)
	d, err := env.svc.CreateDispute(context.Background(), env.userID, createRequest(env))
	require.NoError(t, err)

	// Owner sees it.
	got, err := env.svc.GetDispute(context.Background(), d.ID, &env.userID)
	require.NoError(t, err)
	assert.Equal(t, d.ID, got.ID)

	// A foreign requester gets not-found, not forbidden.
	stranger := uuid.New()
	_, err = env.svc.GetDispute(context.Background(), d.ID, &stranger)
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))

	// Staff (nil requester) see everything.
	got, err = env.svc.GetDispute(context.Background(), d.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, d.ID, got.ID)
}

func TestUpdateDispute(t *testing.T) {
	env := newTestEnv(t, 100)
	d, err := env.svc.CreateDispute(context.Background(), env.userID, createRequest(env))
	require.NoError(t, err)

	subject := "Stream kept buffering badly"
	updated, err := env.svc.UpdateDispute(context.Background(), d.ID, env.userID, &model.UpdateDisputeRequest{
		Subject: &subject,
		Tags:    []string{"streaming"},
	})
	require.NoError(t, err)
	assert.Equal(t, subject, updated.Subject)
	assert.Equal(t, []string{"streaming"}, []string(updated.Tags))

	// Change summary lands in the communication log.
	require.Len(t, updated.CommunicationHistory, 2)
	assert.Contains(t, updated.CommunicationHistory[1].Message, "subject")
	assert.Contains(t, updated.CommunicationHistory[1].Message, "tags")

	assert.Equal(t, model.NotificationDisputeUpdated, env.notifier.lastType())
}

func TestUpdateDisputeTerminal(t *testing.T) {
	env := newTestEnv(t, 100)
	d, err := env.svc.CreateDispute(context.Background(), env.userID, createRequest(env))
	require.NoError(t, err)

	stored := env.repo.disputes[d.ID]
	stored.Status = model.DisputeStatusResolved

	subject := "Too late to change this"
	_, err = env.svc.UpdateDispute(context.Background(), d.ID, env.userID, &model.UpdateDisputeRequest{
		Subject: &subject,
	})
	assert.True(t, apperrors.Is(err, apperrors.ErrBusinessRule))
}

func TestDeleteDispute(t *testing.T) {
	env := newTestEnv(t, 100)
	d, err := env.svc.CreateDispute(context.Background(), env.userID, createRequest(env))
	require.NoError(t, err)

	require.NoError(t, env.svc.DeleteDispute(context.Background(), d.ID, env.userID))

	stored := env.repo.disputes[d.ID]
	assert.Equal(t, model.DisputeStatusCancelled, stored.Status)
	require.NotNil(t, stored.ResolvedAt)
	assert.Equal(t, []uuid.UUID{d.ID}, env.notifier.cancelled)

	// Cancelling is a pending-only transition.
	d2, err := env.svc.CreateDispute(context.Background(), env.userID, createRequest(env))
	require.NoError(t, err)
	env.repo.disputes[d2.ID].Status = model.DisputeStatusUnderReview

	err = env.svc.DeleteDispute(context.Background(), d2.ID, env.userID)
	assert.True(t, apperrors.Is(err, apperrors.ErrBusinessRule))
}

func TestAddCommunication(t *testing.T) {
	env := newTestEnv(t, 100)
	d, err := env.svc.CreateDispute(context.Background(), env.userID, createRequest(env))
	require.NoError(t, err)

	adminID := uuid.New()
	env.repo.disputes[d.ID].AdminID = &adminID

	// User message goes to the assigned admin.
	updated, err := env.svc.AddCommunication(context.Background(), d.ID, env.userID, false, &model.AddCommunicationRequest{
		Message: "Any update on this?",
	})
	require.NoError(t, err)
	last := updated.CommunicationHistory[len(updated.CommunicationHistory)-1]
	assert.Equal(t, model.CommunicationTypeUserMessage, last.Type)
	require.NotNil(t, last.To)
	assert.Equal(t, adminID, *last.To)
	assert.Equal(t, model.NotificationCommunication, env.notifier.lastType())

	// Admin reply pings the complainant.
	before := len(env.notifier.created)
	updated, err = env.svc.AddCommunication(context.Background(), d.ID, adminID, true, &model.AddCommunicationRequest{
		Message: "We are reviewing your case.",
	})
	require.NoError(t, err)
	last = updated.CommunicationHistory[len(updated.CommunicationHistory)-1]
	assert.Equal(t, model.CommunicationTypeAdminMessage, last.Type)
	require.Len(t, env.notifier.created, before+1)
	assert.Equal(t, env.userID, env.notifier.created[before].UserID)

	// Internal notes notify nobody.
	before = len(env.notifier.created)
	_, err = env.svc.AddCommunication(context.Background(), d.ID, adminID, true, &model.AddCommunicationRequest{
		Message:    "Looks like a chargeback candidate.",
		IsInternal: true,
	})
	require.NoError(t, err)
	assert.Len(t, env.notifier.created, before)
}

func TestAddCommunicationTerminal(t *testing.T) {
	env := newTestEnv(t, 100)
	d, err := env.svc.CreateDispute(context.Background(), env.userID, createRequest(env))
	require.NoError(t, err)
	env.repo.disputes[d.ID].Status = model.DisputeStatusClosed

	_, err = env.svc.AddCommunication(context.Background(), d.ID, env.userID, false, &model.AddCommunicationRequest{
		Message: "One more thing",
	})
	assert.True(t, apperrors.Is(err, apperrors.ErrBusinessRule))

	// Staff can still annotate closed cases.
	_, err = env.svc.AddCommunication(context.Background(), d.ID, uuid.New(), true, &model.AddCommunicationRequest{
		Message: "Post-closure note",
	})
	assert.NoError(t, err)
}

func TestAddEvidence(t *testing.T) {
	env := newTestEnv(t, 100)
	d, err := env.svc.CreateDispute(context.Background(), env.userID, createRequest(env))
	require.NoError(t, err)

	files := []model.EvidenceDescriptor{{
		Type:         model.EvidenceTypeImage,
		Filename:     "a1b2.png",
		OriginalName: "screenshot.png",
		MimeType:     "image/png",
		Size:         2048,
		URL:          "https://cdn.example.com/evidence/a1b2.png",
	}}

	updated, err := env.svc.AddEvidence(context.Background(), d.ID, env.userID, files)
	require.NoError(t, err)
	require.Len(t, updated.Evidence, 1)
	assert.Equal(t, "screenshot.png", updated.Evidence[0].OriginalName)
	assert.NotEqual(t, uuid.Nil, updated.Evidence[0].ID)
	assert.False(t, updated.Evidence[0].UploadedAt.IsZero())

	_, err = env.svc.AddEvidence(context.Background(), d.ID, env.userID, nil)
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))

	env.repo.disputes[d.ID].Status = model.DisputeStatusRejected
	_, err = env.svc.AddEvidence(context.Background(), d.ID, env.userID, files)
	assert.True(t, apperrors.Is(err, apperrors.ErrBusinessRule))
}

func TestEscalate(t *testing.T) {
	env := newTestEnv(t, 100)
	d, err := env.svc.CreateDispute(context.Background(), env.userID, createRequest(env))
	require.NoError(t, err)
	env.repo.disputes[d.ID].Status = model.DisputeStatusUnderReview

	adminID := uuid.New()
	updated, err := env.svc.Escalate(context.Background(), d.ID, adminID, &model.EscalateDisputeRequest{
		Reason: "No supplier response in 48h",
	})
	require.NoError(t, err)

	assert.Equal(t, 1, updated.EscalationLevel)
	assert.Equal(t, model.DisputeStatusEscalated, updated.Status)
	require.Len(t, updated.EscalationHistory, 1)
	assert.Equal(t, 1, updated.EscalationHistory[0].Level)
	assert.Equal(t, adminID, updated.EscalationHistory[0].EscalatedBy)
	assert.Equal(t, model.NotificationEscalation, env.notifier.lastType())
}

func TestEscalateAtCeiling(t *testing.T) {
	env := newTestEnv(t, 100)
	d, err := env.svc.CreateDispute(context.Background(), env.userID, createRequest(env))
	require.NoError(t, err)
	env.repo.disputes[d.ID].EscalationLevel = MaxEscalationLevel

	_, err = env.svc.Escalate(context.Background(), d.ID, uuid.New(), &model.EscalateDisputeRequest{
		Reason: "One level too far",
	})
	assert.True(t, apperrors.Is(err, apperrors.ErrBusinessRule))
}

func TestAdminUpdateResolution(t *testing.T) {
	env := newTestEnv(t, 100)
	d, err := env.svc.CreateDispute(context.Background(), env.userID, createRequest(env))
	require.NoError(t, err)

	adminID := uuid.New()
	status := model.DisputeStatusResolved
	response := "Refund approved in full."
	resolution := "full_refund"
	amount := 100.0
	refund := model.RefundStatusApproved

	updated, err := env.svc.AdminUpdate(context.Background(), d.ID, adminID, &model.AdminUpdateDisputeRequest{
		Status:        &status,
		AdminResponse: &response,
		Resolution:    &resolution,
		RefundAmount:  &amount,
		RefundStatus:  &refund,
	})
	require.NoError(t, err)

	assert.Equal(t, model.DisputeStatusResolved, updated.Status)
	require.NotNil(t, updated.AdminID)
	assert.Equal(t, adminID, *updated.AdminID)
	assert.Equal(t, amount, updated.RefundAmount)
	require.NotNil(t, updated.ResolvedAt)
	firstResolved := *updated.ResolvedAt

	// The response is threaded into the conversation.
	last := updated.CommunicationHistory[len(updated.CommunicationHistory)-1]
	assert.Equal(t, model.CommunicationTypeAdminMessage, last.Type)
	assert.Equal(t, response, last.Message)

	assert.Equal(t, model.NotificationStatusChanged, env.notifier.lastType())

	// A later terminal-to-terminal move keeps the original timestamp.
	time.Sleep(5 * time.Millisecond)
	closed := model.DisputeStatusClosed
	updated, err = env.svc.AdminUpdate(context.Background(), d.ID, adminID, &model.AdminUpdateDisputeRequest{
		Status: &closed,
	})
	require.NoError(t, err)
	require.NotNil(t, updated.ResolvedAt)
	assert.Equal(t, firstResolved, *updated.ResolvedAt)
}

func TestAdminUpdateValidation(t *testing.T) {
	env := newTestEnv(t, 100)
	d, err := env.svc.CreateDispute(context.Background(), env.userID, createRequest(env))
	require.NoError(t, err)

	bad := model.DisputeStatus("limbo")
	_, err = env.svc.AdminUpdate(context.Background(), d.ID, uuid.New(), &model.AdminUpdateDisputeRequest{
		Status: &bad,
	})
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))

	level := MaxEscalationLevel + 1
	_, err = env.svc.AdminUpdate(context.Background(), d.ID, uuid.New(), &model.AdminUpdateDisputeRequest{
		EscalationLevel: &level,
	})
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))
}

func TestBulkUpdatePartialFailure(t *testing.T) {
	env := newTestEnv(t, 100)

	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		ticketID := uuid.New()
		env.tickets.tickets[ticketID] = &model.Ticket{ID: ticketID, OwnerID: env.userID, Price: 50}
		req := createRequest(env)
		req.TicketID = ticketID.String()
		d, err := env.svc.CreateDispute(context.Background(), env.userID, req)
		require.NoError(t, err)
		ids = append(ids, d.ID)
	}
	missing := uuid.New()
	ids = append(ids, missing)

	priority := model.PriorityUrgent
	summary, err := env.svc.BulkUpdate(context.Background(), ids, uuid.New(), &model.AdminUpdateDisputeRequest{
		Priority: &priority,
	})
	require.NoError(t, err)

	assert.Equal(t, 3, summary.SuccessCount)
	assert.Equal(t, 1, summary.FailureCount)
	require.Len(t, summary.Results, 4)
	assert.Equal(t, missing, summary.Results[3].ID)
	assert.False(t, summary.Results[3].Success)
	assert.NotEmpty(t, summary.Results[3].Error)

	for _, id := range ids[:3] {
		assert.Equal(t, model.PriorityUrgent, env.repo.disputes[id].Priority)
	}
}

func TestScheduleReminders(t *testing.T) {
	env := newTestEnv(t, 100)

	env.repo.stale = []*model.Dispute{
		{Base: model.Base{ID: uuid.New()}, UserID: env.userID, Subject: "Quiet one"},
		{Base: model.Base{ID: uuid.New()}, UserID: env.userID, Subject: "Another quiet one"},
	}

	created, err := env.svc.ScheduleReminders(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, created)

	require.Len(t, env.notifier.created, 2)
	for _, input := range env.notifier.created {
		assert.Equal(t, model.NotificationReminder, input.Type)
	}
}

func TestScheduleRemindersContinuesOnFailure(t *testing.T) {
	env := newTestEnv(t, 100)
	env.notifier.failTypes[model.NotificationReminder] = true

	env.repo.stale = []*model.Dispute{
		{Base: model.Base{ID: uuid.New()}, UserID: env.userID, Subject: "Quiet one"},
	}

	created, err := env.svc.ScheduleReminders(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, created)
}
