package dispute

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ticketry/dispute-api/internal/model"
	"github.com/ticketry/dispute-api/internal/repository"
	"github.com/ticketry/dispute-api/internal/service/notification"
	"github.com/ticketry/dispute-api/internal/ticket"
	apperrors "github.com/ticketry/dispute-api/pkg/errors"
	"github.com/ticketry/dispute-api/pkg/logger"
	"github.com/ticketry/dispute-api/pkg/metrics"
)

// Business rules
const (
	MaxEscalationLevel = 5
	// Ticket price above which a dispute is always high priority.
	HighPriorityPriceThreshold = 500
	// Inactivity window after which the reminder sweep nudges the
	// complainant.
	ReminderInactivity = 24 * time.Hour
)

// Service is the dispute lifecycle state machine.
type Service interface {
	CreateDispute(ctx context.Context, userID uuid.UUID, req *model.CreateDisputeRequest) (*model.Dispute, error)
	GetDispute(ctx context.Context, id uuid.UUID, requesterID *uuid.UUID) (*model.Dispute, error)
	ListDisputes(ctx context.Context, filter *model.DisputeFilter) (*model.DisputePage, error)
	UpdateDispute(ctx context.Context, id, userID uuid.UUID, req *model.UpdateDisputeRequest) (*model.Dispute, error)
	DeleteDispute(ctx context.Context, id, userID uuid.UUID) error
	AddCommunication(ctx context.Context, id, actorID uuid.UUID, isAdmin bool, req *model.AddCommunicationRequest) (*model.Dispute, error)
	AddEvidence(ctx context.Context, id, userID uuid.UUID, files []model.EvidenceDescriptor) (*model.Dispute, error)
	Escalate(ctx context.Context, id, escalatedBy uuid.UUID, req *model.EscalateDisputeRequest) (*model.Dispute, error)
	AdminUpdate(ctx context.Context, id, adminID uuid.UUID, req *model.AdminUpdateDisputeRequest) (*model.Dispute, error)
	BulkUpdate(ctx context.Context, ids []uuid.UUID, adminID uuid.UUID, req *model.AdminUpdateDisputeRequest) (*model.BulkUpdateSummary, error)
	Analytics(ctx context.Context, startDate, endDate *time.Time) (*model.DisputeAnalytics, error)
	ScheduleReminders(ctx context.Context) (int, error)
}

type service struct {
	repo      repository.DisputeRepository
	notifSvc  notification.Service
	ticketSvc ticket.Service
	logger    *logger.Logger
	metrics   *metrics.Metrics
}

func NewService(repo repository.DisputeRepository, notifSvc notification.Service, ticketSvc ticket.Service, logger *logger.Logger, metrics *metrics.Metrics) Service {
	return &service{
		repo:      repo,
		notifSvc:  notifSvc,
		ticketSvc: ticketSvc,
		logger:    logger,
		metrics:   metrics,
	}
}

func (s *service) CreateDispute(ctx context.Context, userID uuid.UUID, req *model.CreateDisputeRequest) (*model.Dispute, error) {
	if !req.DisputeType.Valid() {
		return nil, apperrors.Validation(fmt.Sprintf("invalid dispute type: %s", req.DisputeType), nil)
	}
	if req.Priority != "" && !req.Priority.Valid() {
		return nil, apperrors.Validation(fmt.Sprintf("invalid priority: %s", req.Priority), nil)
	}

	ticketID, err := uuid.Parse(req.TicketID)
	if err != nil {
		return nil, apperrors.Validation("invalid ticket ID", err)
	}

	tkt, err := s.ticketSvc.GetTicket(ctx, ticketID)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.Forbidden("you do not own this ticket", err)
		}
		return nil, fmt.Errorf("failed to verify ticket: %w", err)
	}
	if tkt.OwnerID != userID {
		return nil, apperrors.Forbidden("you do not own this ticket", nil)
	}

	active, err := s.repo.HasActiveDispute(ctx, ticketID)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing disputes: %w", err)
	}
	if active {
		return nil, apperrors.Conflict("an active dispute already exists for this ticket", nil)
	}

	now := time.Now()
	dispute := &model.Dispute{
		Base: model.Base{
			ID:        uuid.New(),
			CreatedAt: now,
			UpdatedAt: now,
		},
		TicketID:       ticketID,
		UserID:         userID,
		Type:           req.DisputeType,
		Priority:       computePriority(req.Priority, req.DisputeType, tkt.Price),
		Status:         model.DisputeStatusPending,
		Subject:        req.Subject,
		Description:    req.Description,
		Tags:           req.Tags,
		Metadata:       model.JSONMap(req.Metadata),
		Evidence:       model.EvidenceList{},
		EscalationLevel: 0,
		EscalationHistory: model.EscalationLog{},
		CommunicationHistory: model.CommunicationLog{{
			Type:    model.CommunicationTypeUserMessage,
			From:    userID,
			Subject: req.Subject,
			Message: req.Description,
			SentAt:  now,
		}},
		RefundStatus:   model.RefundStatusPending,
		LastActivityAt: now,
	}
	if dispute.Metadata == nil {
		dispute.Metadata = model.JSONMap{}
	}
	if dispute.Tags == nil {
		dispute.Tags = []string{}
	}

	if err := s.repo.Create(ctx, dispute); err != nil {
		return nil, err
	}
	s.metrics.DisputesCreated.Inc()

	s.notify(ctx, dispute, userID, model.NotificationDisputeCreated,
		"Dispute created",
		fmt.Sprintf("Your dispute %q has been received and is pending review.", dispute.Subject),
		nil)

	s.logger.Info("dispute created",
		"dispute_id", dispute.ID.String(),
		"ticket_id", ticketID.String(),
		"user_id", userID.String(),
		"priority", string(dispute.Priority))

	return dispute, nil
}

// computePriority applies the priority override rules: an expensive
// ticket or a fraud claim is always high, whatever was requested.
func computePriority(requested model.DisputePriority, disputeType model.DisputeType, price float64) model.DisputePriority {
	if price > HighPriorityPriceThreshold || disputeType == model.DisputeTypeFraudulentCharge {
		return model.PriorityHigh
	}
	if requested != "" {
		return requested
	}
	return model.PriorityMedium
}

func (s *service) GetDispute(ctx context.Context, id uuid.UUID, requesterID *uuid.UUID) (*model.Dispute, error) {
	dispute, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	// A non-admin requester only ever sees their own disputes; a
	// foreign id looks like a missing record, not a permission error.
	if requesterID != nil && dispute.UserID != *requesterID {
		return nil, apperrors.NotFound("dispute", nil)
	}
	return dispute, nil
}

func (s *service) ListDisputes(ctx context.Context, filter *model.DisputeFilter) (*model.DisputePage, error) {
	filter.Normalize()
	disputes, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	if disputes == nil {
		disputes = []*model.Dispute{}
	}

	totalPages := int((total + int64(filter.Limit) - 1) / int64(filter.Limit))
	return &model.DisputePage{
		Disputes:   disputes,
		Total:      total,
		Page:       filter.Page,
		TotalPages: totalPages,
	}, nil
}

func (s *service) UpdateDispute(ctx context.Context, id, userID uuid.UUID, req *model.UpdateDisputeRequest) (*model.Dispute, error) {
	dispute, err := s.GetDispute(ctx, id, &userID)
	if err != nil {
		return nil, err
	}
	if dispute.Status.Terminal() {
		return nil, apperrors.BusinessRule(fmt.Sprintf("dispute in status %s can no longer be updated", dispute.Status))
	}

	now := time.Now()
	var changed []string
	if req.Subject != nil && *req.Subject != dispute.Subject {
		dispute.Subject = *req.Subject
		changed = append(changed, "subject")
	}
	if req.Description != nil && *req.Description != dispute.Description {
		dispute.Description = *req.Description
		changed = append(changed, "description")
	}
	if req.Tags != nil {
		dispute.Tags = req.Tags
		changed = append(changed, "tags")
	}
	if req.Metadata != nil {
		if dispute.Metadata == nil {
			dispute.Metadata = model.JSONMap{}
		}
		for k, v := range req.Metadata {
			dispute.Metadata[k] = v
		}
		changed = append(changed, "metadata")
	}

	if len(changed) > 0 {
		dispute.CommunicationHistory = append(dispute.CommunicationHistory, model.CommunicationEntry{
			Type:    model.CommunicationTypeUserMessage,
			From:    userID,
			Message: fmt.Sprintf("Dispute details updated: %s", strings.Join(changed, ", ")),
			SentAt:  now,
		})
	}
	dispute.LastActivityAt = now

	if err := s.repo.Update(ctx, dispute); err != nil {
		return nil, err
	}

	s.notify(ctx, dispute, dispute.UserID, model.NotificationDisputeUpdated,
		"Dispute updated",
		fmt.Sprintf("Your dispute %q has been updated.", dispute.Subject),
		model.JSONMap{"changed_fields": changed})

	s.logger.Info("dispute updated",
		"dispute_id", dispute.ID.String(),
		"user_id", userID.String(),
		"changed", strings.Join(changed, ","))

	return dispute, nil
}

func (s *service) DeleteDispute(ctx context.Context, id, userID uuid.UUID) error {
	dispute, err := s.GetDispute(ctx, id, &userID)
	if err != nil {
		return err
	}
	if dispute.Status != model.DisputeStatusPending {
		return apperrors.BusinessRule("only pending disputes can be cancelled")
	}

	now := time.Now()
	dispute.Status = model.DisputeStatusCancelled
	dispute.LastActivityAt = now
	if dispute.ResolvedAt == nil {
		dispute.ResolvedAt = &now
	}

	if err := s.repo.Update(ctx, dispute); err != nil {
		return err
	}
	s.metrics.DisputesResolved.WithLabelValues(string(model.DisputeStatusCancelled)).Inc()

	if err := s.notifSvc.CancelForDispute(ctx, dispute.ID); err != nil {
		s.logger.Error(err, "failed to cancel pending notifications",
			"dispute_id", dispute.ID.String())
	}

	s.logger.Info("dispute cancelled",
		"dispute_id", dispute.ID.String(), "user_id", userID.String())
	return nil
}

func (s *service) AddCommunication(ctx context.Context, id, actorID uuid.UUID, isAdmin bool, req *model.AddCommunicationRequest) (*model.Dispute, error) {
	var dispute *model.Dispute
	var err error
	if isAdmin {
		dispute, err = s.repo.Get(ctx, id)
	} else {
		dispute, err = s.GetDispute(ctx, id, &actorID)
	}
	if err != nil {
		return nil, err
	}
	if !isAdmin && dispute.Status.Terminal() {
		return nil, apperrors.BusinessRule(fmt.Sprintf("dispute in status %s can no longer receive messages", dispute.Status))
	}

	entryType := model.CommunicationTypeUserMessage
	if isAdmin {
		entryType = model.CommunicationTypeAdminMessage
	}

	now := time.Now()
	var to *uuid.UUID
	if isAdmin {
		to = &dispute.UserID
	} else if dispute.AdminID != nil {
		to = dispute.AdminID
	}

	dispute.CommunicationHistory = append(dispute.CommunicationHistory, model.CommunicationEntry{
		Type:        entryType,
		From:        actorID,
		To:          to,
		Message:     req.Message,
		Attachments: req.Attachments,
		SentAt:      now,
		IsInternal:  req.IsInternal,
	})
	dispute.LastActivityAt = now

	if err := s.repo.Update(ctx, dispute); err != nil {
		return nil, err
	}

	// Internal notes stay between staff; everything else pings the
	// other party.
	if !req.IsInternal && to != nil {
		s.notify(ctx, dispute, *to, model.NotificationCommunication,
			"New message on your dispute",
			fmt.Sprintf("A new message was added to dispute %q.", dispute.Subject),
			nil)
	}

	return dispute, nil
}

func (s *service) AddEvidence(ctx context.Context, id, userID uuid.UUID, files []model.EvidenceDescriptor) (*model.Dispute, error) {
	if len(files) == 0 {
		return nil, apperrors.Validation("no evidence files provided", nil)
	}

	dispute, err := s.GetDispute(ctx, id, &userID)
	if err != nil {
		return nil, err
	}
	if dispute.Status.Terminal() {
		return nil, apperrors.BusinessRule(fmt.Sprintf("dispute in status %s can no longer receive evidence", dispute.Status))
	}

	now := time.Now()
	for _, f := range files {
		dispute.Evidence = append(dispute.Evidence, model.Evidence{
			ID:           uuid.New(),
			Type:         f.Type,
			Filename:     f.Filename,
			OriginalName: f.OriginalName,
			MimeType:     f.MimeType,
			Size:         f.Size,
			URL:          f.URL,
			UploadedAt:   now,
			Description:  f.Description,
		})
	}
	dispute.LastActivityAt = now

	if err := s.repo.Update(ctx, dispute); err != nil {
		return nil, err
	}

	s.logger.Info("evidence added",
		"dispute_id", dispute.ID.String(),
		"user_id", userID.String(),
		"files", len(files))

	return dispute, nil
}

func (s *service) Escalate(ctx context.Context, id, escalatedBy uuid.UUID, req *model.EscalateDisputeRequest) (*model.Dispute, error) {
	dispute, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if dispute.EscalationLevel >= MaxEscalationLevel {
		return nil, apperrors.BusinessRule(fmt.Sprintf("dispute is already at maximum escalation level %d", MaxEscalationLevel))
	}

	var escalatedTo *uuid.UUID
	if req.EscalatedTo != nil {
		parsed, err := uuid.Parse(*req.EscalatedTo)
		if err != nil {
			return nil, apperrors.Validation("invalid escalation target", err)
		}
		escalatedTo = &parsed
	}

	now := time.Now()
	dispute.EscalationLevel++
	dispute.EscalationHistory = append(dispute.EscalationHistory, model.EscalationEntry{
		Level:       dispute.EscalationLevel,
		EscalatedBy: escalatedBy,
		EscalatedTo: escalatedTo,
		Reason:      req.Reason,
		EscalatedAt: now,
	})
	// Escalation trumps whatever review state the dispute was in.
	dispute.Status = model.DisputeStatusEscalated
	dispute.LastActivityAt = now

	if err := s.repo.Update(ctx, dispute); err != nil {
		return nil, err
	}
	s.metrics.DisputesEscalated.Inc()

	s.notify(ctx, dispute, dispute.UserID, model.NotificationEscalation,
		"Dispute escalated",
		fmt.Sprintf("Your dispute %q has been escalated to level %d.", dispute.Subject, dispute.EscalationLevel),
		model.JSONMap{"escalation_level": dispute.EscalationLevel, "reason": req.Reason})

	s.logger.Info("dispute escalated",
		"dispute_id", dispute.ID.String(),
		"level", dispute.EscalationLevel,
		"escalated_by", escalatedBy.String())

	return dispute, nil
}

func (s *service) AdminUpdate(ctx context.Context, id, adminID uuid.UUID, req *model.AdminUpdateDisputeRequest) (*model.Dispute, error) {
	dispute, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Status != nil && !req.Status.Valid() {
		return nil, apperrors.Validation(fmt.Sprintf("invalid status: %s", *req.Status), nil)
	}
	if req.Priority != nil && !req.Priority.Valid() {
		return nil, apperrors.Validation(fmt.Sprintf("invalid priority: %s", *req.Priority), nil)
	}
	if req.RefundStatus != nil && !req.RefundStatus.Valid() {
		return nil, apperrors.Validation(fmt.Sprintf("invalid refund status: %s", *req.RefundStatus), nil)
	}
	if req.RefundAmount != nil && *req.RefundAmount < 0 {
		return nil, apperrors.Validation("refund amount must not be negative", nil)
	}
	if req.EscalationLevel != nil && (*req.EscalationLevel < 0 || *req.EscalationLevel > MaxEscalationLevel) {
		return nil, apperrors.Validation(fmt.Sprintf("escalation level must be between 0 and %d", MaxEscalationLevel), nil)
	}

	now := time.Now()
	oldStatus := dispute.Status
	dispute.AdminID = &adminID

	// Admin transitions are deliberately unconstrained: any status may
	// be set from any non-terminal state, including jumping straight
	// to a terminal one.
	if req.Status != nil {
		dispute.Status = *req.Status
	}
	if req.Priority != nil {
		dispute.Priority = *req.Priority
	}
	if req.AdminResponse != nil {
		dispute.AdminResponse = req.AdminResponse
		dispute.CommunicationHistory = append(dispute.CommunicationHistory, model.CommunicationEntry{
			Type:    model.CommunicationTypeAdminMessage,
			From:    adminID,
			To:      &dispute.UserID,
			Message: *req.AdminResponse,
			SentAt:  now,
		})
	}
	if req.Resolution != nil {
		dispute.Resolution = req.Resolution
	}
	if req.RefundAmount != nil {
		dispute.RefundAmount = *req.RefundAmount
	}
	if req.RefundStatus != nil {
		dispute.RefundStatus = *req.RefundStatus
	}
	if req.Tags != nil {
		dispute.Tags = req.Tags
	}
	if req.EscalationLevel != nil {
		dispute.EscalationLevel = *req.EscalationLevel
	}

	statusChanged := req.Status != nil && *req.Status != oldStatus
	if statusChanged && dispute.Status.Terminal() && dispute.ResolvedAt == nil {
		// Set exactly once: a later terminal-to-terminal transition
		// keeps the original resolution timestamp.
		dispute.ResolvedAt = &now
		s.metrics.DisputesResolved.WithLabelValues(string(dispute.Status)).Inc()
	}
	dispute.LastActivityAt = now

	if err := s.repo.Update(ctx, dispute); err != nil {
		return nil, err
	}

	if statusChanged {
		s.notify(ctx, dispute, dispute.UserID, model.NotificationStatusChanged,
			"Dispute status changed",
			fmt.Sprintf("Your dispute %q moved from %s to %s.", dispute.Subject, oldStatus, dispute.Status),
			model.JSONMap{"old_status": string(oldStatus), "new_status": string(dispute.Status)})
	}

	s.logger.Info("dispute updated by admin",
		"dispute_id", dispute.ID.String(),
		"admin_id", adminID.String(),
		"status", string(dispute.Status))

	return dispute, nil
}

func (s *service) BulkUpdate(ctx context.Context, ids []uuid.UUID, adminID uuid.UUID, req *model.AdminUpdateDisputeRequest) (*model.BulkUpdateSummary, error) {
	summary := &model.BulkUpdateSummary{
		Results: make([]model.BulkUpdateResult, 0, len(ids)),
	}

	// Strictly sequential so a partial failure is attributable to a
	// specific id; one bad id never aborts the rest.
	for _, id := range ids {
		if _, err := s.AdminUpdate(ctx, id, adminID, req); err != nil {
			summary.Results = append(summary.Results, model.BulkUpdateResult{
				ID:    id,
				Error: err.Error(),
			})
			summary.FailureCount++
			continue
		}
		summary.Results = append(summary.Results, model.BulkUpdateResult{
			ID:      id,
			Success: true,
		})
		summary.SuccessCount++
	}

	return summary, nil
}

func (s *service) ScheduleReminders(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-ReminderInactivity)
	stale, err := s.repo.ListStale(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to find inactive disputes: %w", err)
	}

	created := 0
	for _, dispute := range stale {
		_, err := s.notifSvc.Create(ctx, &model.CreateNotificationInput{
			DisputeID: dispute.ID,
			UserID:    dispute.UserID,
			Type:      model.NotificationReminder,
			Title:     "Your dispute needs attention",
			Message:   fmt.Sprintf("Dispute %q has had no activity for over 24 hours.", dispute.Subject),
			Channels:  []model.NotificationChannel{model.ChannelEmail, model.ChannelInApp},
		})
		if err != nil {
			s.logger.Error(err, "failed to create reminder",
				"dispute_id", dispute.ID.String())
			continue
		}
		created++
		s.metrics.RemindersCreated.Inc()
	}

	return created, nil
}

// notify requests a state-change notification; a delivery problem is
// logged and never propagates into the dispute operation that
// triggered it.
func (s *service) notify(ctx context.Context, dispute *model.Dispute, userID uuid.UUID, notifType model.NotificationType, title, message string, data model.JSONMap) {
	_, err := s.notifSvc.Create(ctx, &model.CreateNotificationInput{
		DisputeID: dispute.ID,
		UserID:    userID,
		Type:      notifType,
		Title:     title,
		Message:   message,
		Data:      data,
		Channels:  []model.NotificationChannel{model.ChannelEmail, model.ChannelInApp},
	})
	if err != nil {
		s.logger.Error(err, "failed to create notification",
			"dispute_id", dispute.ID.String(),
			"type", string(notifType))
	}
}
