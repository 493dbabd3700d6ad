package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

type DisputeType string

const (
	DisputeTypeRefundRequest    DisputeType = "refund_request"
	DisputeTypeEventCancelled   DisputeType = "event_cancelled"
	DisputeTypeEventPostponed   DisputeType = "event_postponed"
	DisputeTypeVenueChanged     DisputeType = "venue_changed"
	DisputeTypeTechnicalIssue   DisputeType = "technical_issue"
	DisputeTypeFraudulentCharge DisputeType = "fraudulent_charge"
	DisputeTypeDuplicateCharge  DisputeType = "duplicate_charge"
	DisputeTypeServiceIssue     DisputeType = "service_issue"
	DisputeTypeAccessDenied     DisputeType = "access_denied"
	DisputeTypeOther            DisputeType = "other"
)

var disputeTypes = map[DisputeType]bool{
	DisputeTypeRefundRequest:    true,
	DisputeTypeEventCancelled:   true,
	DisputeTypeEventPostponed:   true,
	DisputeTypeVenueChanged:     true,
	DisputeTypeTechnicalIssue:   true,
	DisputeTypeFraudulentCharge: true,
	DisputeTypeDuplicateCharge:  true,
	DisputeTypeServiceIssue:     true,
	DisputeTypeAccessDenied:     true,
	DisputeTypeOther:            true,
}

func (t DisputeType) Valid() bool { return disputeTypes[t] }

type DisputePriority string

const (
	PriorityLow      DisputePriority = "low"
	PriorityMedium   DisputePriority = "medium"
	PriorityHigh     DisputePriority = "high"
	PriorityUrgent   DisputePriority = "urgent"
	PriorityCritical DisputePriority = "critical"
)

var disputePriorities = map[DisputePriority]bool{
	PriorityLow:      true,
	PriorityMedium:   true,
	PriorityHigh:     true,
	PriorityUrgent:   true,
	PriorityCritical: true,
}

func (p DisputePriority) Valid() bool { return disputePriorities[p] }

type DisputeStatus string

const (
	DisputeStatusPending          DisputeStatus = "pending"
	DisputeStatusUnderReview      DisputeStatus = "under_review"
	DisputeStatusInvestigating    DisputeStatus = "investigating"
	DisputeStatusAwaitingResponse DisputeStatus = "awaiting_response"
	DisputeStatusEscalated        DisputeStatus = "escalated"
	DisputeStatusResolved         DisputeStatus = "resolved"
	DisputeStatusRejected         DisputeStatus = "rejected"
	DisputeStatusApproved         DisputeStatus = "approved"
	DisputeStatusCancelled        DisputeStatus = "cancelled"
	DisputeStatusClosed           DisputeStatus = "closed"
)

var disputeStatuses = map[DisputeStatus]bool{
	DisputeStatusPending:          true,
	DisputeStatusUnderReview:      true,
	DisputeStatusInvestigating:    true,
	DisputeStatusAwaitingResponse: true,
	DisputeStatusEscalated:        true,
	DisputeStatusResolved:         true,
	DisputeStatusRejected:         true,
	DisputeStatusApproved:         true,
	DisputeStatusCancelled:        true,
	DisputeStatusClosed:           true,
}

// TerminalStatuses are the statuses from which no further
// complainant-initiated mutation is allowed.
var TerminalStatuses = []DisputeStatus{
	DisputeStatusResolved,
	DisputeStatusRejected,
	DisputeStatusApproved,
	DisputeStatusCancelled,
	DisputeStatusClosed,
}

func (s DisputeStatus) Valid() bool { return disputeStatuses[s] }

func (s DisputeStatus) Terminal() bool {
	for _, t := range TerminalStatuses {
		if s == t {
			return true
		}
	}
	return false
}

type RefundStatus string

const (
	RefundStatusPending   RefundStatus = "pending"
	RefundStatusApproved  RefundStatus = "approved"
	RefundStatusRejected  RefundStatus = "rejected"
	RefundStatusProcessed RefundStatus = "processed"
	RefundStatusFailed    RefundStatus = "failed"
)

var refundStatuses = map[RefundStatus]bool{
	RefundStatusPending:   true,
	RefundStatusApproved:  true,
	RefundStatusRejected:  true,
	RefundStatusProcessed: true,
	RefundStatusFailed:    true,
}

func (s RefundStatus) Valid() bool { return refundStatuses[s] }

type EvidenceType string

const (
	EvidenceTypeImage    EvidenceType = "image"
	EvidenceTypeDocument EvidenceType = "document"
	EvidenceTypeVideo    EvidenceType = "video"
	EvidenceTypeAudio    EvidenceType = "audio"
	EvidenceTypeOther    EvidenceType = "other"
)

// Evidence is a pre-processed file descriptor attached to a dispute.
// The file itself lives with the external file-processing service.
type Evidence struct {
	ID           uuid.UUID    `json:"id"`
	Type         EvidenceType `json:"type"`
	Filename     string       `json:"filename"`
	OriginalName string       `json:"original_name"`
	MimeType     string       `json:"mime_type"`
	Size         int64        `json:"size"`
	URL          string       `json:"url"`
	UploadedAt   time.Time    `json:"uploaded_at"`
	Description  string       `json:"description,omitempty"`
}

type EscalationEntry struct {
	Level       int        `json:"level"`
	EscalatedBy uuid.UUID  `json:"escalated_by"`
	EscalatedTo *uuid.UUID `json:"escalated_to,omitempty"`
	Reason      string     `json:"reason"`
	EscalatedAt time.Time  `json:"escalated_at"`
}

type CommunicationType string

const (
	CommunicationTypeEmail         CommunicationType = "email"
	CommunicationTypeSMS           CommunicationType = "sms"
	CommunicationTypeInternalNote  CommunicationType = "internal_note"
	CommunicationTypeSystemMessage CommunicationType = "system_message"
	CommunicationTypeUserMessage   CommunicationType = "user_message"
	CommunicationTypeAdminMessage  CommunicationType = "admin_message"
)

type CommunicationEntry struct {
	Type        CommunicationType `json:"type"`
	From        uuid.UUID         `json:"from"`
	To          *uuid.UUID        `json:"to,omitempty"`
	Subject     string            `json:"subject,omitempty"`
	Message     string            `json:"message"`
	Attachments []string          `json:"attachments,omitempty"`
	SentAt      time.Time         `json:"sent_at"`
	ReadAt      *time.Time        `json:"read_at,omitempty"`
	IsInternal  bool              `json:"is_internal"`
}

// The embedded logs are stored as JSONB value collections on the
// dispute row. They are append-only: entries are never updated or
// removed in place.

type EvidenceList []Evidence

func (l EvidenceList) Value() (driver.Value, error)  { return marshalList(l) }
func (l *EvidenceList) Scan(src interface{}) error   { return scanList(src, l) }

type EscalationLog []EscalationEntry

func (l EscalationLog) Value() (driver.Value, error) { return marshalList(l) }
func (l *EscalationLog) Scan(src interface{}) error  { return scanList(src, l) }

type CommunicationLog []CommunicationEntry

func (l CommunicationLog) Value() (driver.Value, error) { return marshalList(l) }
func (l *CommunicationLog) Scan(src interface{}) error  { return scanList(src, l) }

func marshalList(v interface{}) (driver.Value, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func scanList(src, dst interface{}) error {
	if src == nil {
		return nil
	}
	b, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("unsupported type for JSON list: %T", src)
	}
	return json.Unmarshal(b, dst)
}

// Dispute is a complainant's formal contest of a ticket purchase.
type Dispute struct {
	Base
	TicketID uuid.UUID       `json:"ticket_id" db:"ticket_id"`
	UserID   uuid.UUID       `json:"user_id" db:"user_id"`
	Type     DisputeType     `json:"dispute_type" db:"dispute_type"`
	Priority DisputePriority `json:"priority" db:"priority"`
	Status   DisputeStatus   `json:"status" db:"status"`

	Subject     string         `json:"subject" db:"subject"`
	Description string         `json:"description" db:"description"`
	Tags        pq.StringArray `json:"tags" db:"tags"`
	Metadata    JSONMap        `json:"metadata" db:"metadata"`

	Evidence             EvidenceList     `json:"evidence" db:"evidence"`
	EscalationLevel      int              `json:"escalation_level" db:"escalation_level"`
	EscalationHistory    EscalationLog    `json:"escalation_history" db:"escalation_history"`
	CommunicationHistory CommunicationLog `json:"communication_history" db:"communication_history"`

	AdminID       *uuid.UUID   `json:"admin_id,omitempty" db:"admin_id"`
	AdminResponse *string      `json:"admin_response,omitempty" db:"admin_response"`
	Resolution    *string      `json:"resolution,omitempty" db:"resolution"`
	RefundAmount  float64      `json:"refund_amount" db:"refund_amount"`
	RefundStatus  RefundStatus `json:"refund_status" db:"refund_status"`

	LastActivityAt time.Time  `json:"last_activity_at" db:"last_activity_at"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty" db:"resolved_at"`
}

// DisputeFilter carries the optional query parameters for dispute
// listings. Nil fields are not applied.
type DisputeFilter struct {
	UserID    *uuid.UUID
	Status    *DisputeStatus
	Type      *DisputeType
	Priority  *DisputePriority
	StartDate *time.Time
	EndDate   *time.Time
	Search    string
	SortBy    string
	SortOrder string
	Pagination
}

// DisputePage is one page of a dispute listing.
type DisputePage struct {
	Disputes   []*Dispute `json:"disputes"`
	Total      int64      `json:"total"`
	Page       int        `json:"page"`
	TotalPages int        `json:"total_pages"`
}

// DisputeAnalytics aggregates the case history over a date window.
type DisputeAnalytics struct {
	TotalDisputes        int64                     `json:"total_disputes"`
	ByStatus             map[DisputeStatus]int64   `json:"by_status"`
	ByType               map[DisputeType]int64     `json:"by_type"`
	ByPriority           map[DisputePriority]int64 `json:"by_priority"`
	AvgResolutionDays    float64                   `json:"avg_resolution_days"`
	MedianResolutionDays float64                   `json:"median_resolution_days"`
	EscalationRate       float64                   `json:"escalation_rate"`
}

// BulkUpdateResult captures the per-id outcome of a bulk admin update.
type BulkUpdateResult struct {
	ID      uuid.UUID `json:"id"`
	Success bool      `json:"success"`
	Error   string    `json:"error,omitempty"`
}

type BulkUpdateSummary struct {
	Results      []BulkUpdateResult `json:"results"`
	SuccessCount int                `json:"success_count"`
	FailureCount int                `json:"failure_count"`
}

// Request DTOs

type CreateDisputeRequest struct {
	TicketID    string                 `json:"ticket_id" binding:"required,uuid"`
	DisputeType DisputeType            `json:"dispute_type" binding:"required"`
	Priority    DisputePriority        `json:"priority"`
	Subject     string                 `json:"subject" binding:"required,min=5,max=200"`
	Description string                 `json:"description" binding:"required,min=10,max=2000"`
	Tags        []string               `json:"tags" binding:"omitempty,max=10,dive,max=50"`
	Metadata    map[string]interface{} `json:"metadata"`
}

type UpdateDisputeRequest struct {
	Subject     *string                `json:"subject" binding:"omitempty,min=5,max=200"`
	Description *string                `json:"description" binding:"omitempty,min=10,max=2000"`
	Tags        []string               `json:"tags" binding:"omitempty,max=10,dive,max=50"`
	Metadata    map[string]interface{} `json:"metadata"`
}

type AddCommunicationRequest struct {
	Message     string   `json:"message" binding:"required,max=2000"`
	IsInternal  bool     `json:"is_internal"`
	Attachments []string `json:"attachments"`
}

type EscalateDisputeRequest struct {
	Reason      string  `json:"reason" binding:"required,max=500"`
	EscalatedTo *string `json:"escalated_to" binding:"omitempty,uuid"`
}

type AdminUpdateDisputeRequest struct {
	Status          *DisputeStatus   `json:"status"`
	Priority        *DisputePriority `json:"priority"`
	AdminResponse   *string          `json:"admin_response" binding:"omitempty,max=2000"`
	Resolution      *string          `json:"resolution" binding:"omitempty,max=2000"`
	RefundAmount    *float64         `json:"refund_amount" binding:"omitempty,gte=0"`
	RefundStatus    *RefundStatus    `json:"refund_status"`
	Tags            []string         `json:"tags" binding:"omitempty,max=10,dive,max=50"`
	EscalationLevel *int             `json:"escalation_level" binding:"omitempty,gte=0,lte=5"`
}

type BulkUpdateDisputesRequest struct {
	DisputeIDs []string                  `json:"dispute_ids" binding:"required,min=1,dive,uuid"`
	Updates    AdminUpdateDisputeRequest `json:"updates" binding:"required"`
}

type AddEvidenceRequest struct {
	Files []EvidenceDescriptor `json:"files" binding:"required,min=1,dive"`
}

// EvidenceDescriptor is the already-processed file metadata handed
// over by the file-processing collaborator.
type EvidenceDescriptor struct {
	Type         EvidenceType `json:"type" binding:"required"`
	Filename     string       `json:"filename" binding:"required"`
	OriginalName string       `json:"original_name" binding:"required"`
	MimeType     string       `json:"mime_type" binding:"required"`
	Size         int64        `json:"size" binding:"required,gt=0"`
	URL          string       `json:"url" binding:"required"`
	Description  string       `json:"description" binding:"omitempty,max=500"`
}
