package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

type NotificationType string

const (
	NotificationDisputeCreated    NotificationType = "dispute_created"
	NotificationDisputeUpdated    NotificationType = "dispute_updated"
	NotificationStatusChanged     NotificationType = "status_changed"
	NotificationEscalation        NotificationType = "escalation"
	NotificationCommunication     NotificationType = "communication"
	NotificationReminder          NotificationType = "reminder"
	NotificationDeadlineApproach  NotificationType = "deadline_approaching"
	NotificationResolutionReached NotificationType = "resolution_reached"
)

type NotificationStatus string

const (
	NotificationStatusPending   NotificationStatus = "pending"
	NotificationStatusSent      NotificationStatus = "sent"
	NotificationStatusDelivered NotificationStatus = "delivered"
	NotificationStatusFailed    NotificationStatus = "failed"
	NotificationStatusCancelled NotificationStatus = "cancelled"
)

type NotificationChannel string

const (
	ChannelEmail   NotificationChannel = "email"
	ChannelSMS     NotificationChannel = "sms"
	ChannelPush    NotificationChannel = "push"
	ChannelInApp   NotificationChannel = "in_app"
	ChannelWebhook NotificationChannel = "webhook"
)

// Notification records one attempt to inform a user of a dispute
// event across one or more channels. Immutable once created except
// for status and the delivery timestamps.
type Notification struct {
	ID        uuid.UUID          `json:"id" db:"id"`
	DisputeID uuid.UUID          `json:"dispute_id" db:"dispute_id"`
	UserID    uuid.UUID          `json:"user_id" db:"user_id"`
	Type      NotificationType   `json:"type" db:"type"`
	Title     string             `json:"title" db:"title"`
	Message   string             `json:"message" db:"message"`
	Data      JSONMap            `json:"data" db:"data"`
	Channels  pq.StringArray     `json:"channels" db:"channels"`
	Status    NotificationStatus `json:"status" db:"status"`

	ScheduledAt *time.Time `json:"scheduled_at,omitempty" db:"scheduled_at"`
	SentAt      *time.Time `json:"sent_at,omitempty" db:"sent_at"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty" db:"delivered_at"`
	ReadAt      *time.Time `json:"read_at,omitempty" db:"read_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
}

// ChannelList returns the typed channel set for dispatch.
func (n *Notification) ChannelList() []NotificationChannel {
	channels := make([]NotificationChannel, 0, len(n.Channels))
	for _, c := range n.Channels {
		channels = append(channels, NotificationChannel(c))
	}
	return channels
}

// NotificationFilter carries the optional listing parameters.
type NotificationFilter struct {
	UnreadOnly bool
	Type       *NotificationType
	Pagination
}

// NotificationPage is one page of a user's notification feed.
type NotificationPage struct {
	Notifications []*Notification `json:"notifications"`
	Total         int64           `json:"total"`
	UnreadCount   int64           `json:"unread_count"`
}

// CreateNotificationInput is the dispatcher's creation contract.
type CreateNotificationInput struct {
	DisputeID   uuid.UUID
	UserID      uuid.UUID
	Type        NotificationType
	Title       string
	Message     string
	Data        JSONMap
	Channels    []NotificationChannel
	ScheduledAt *time.Time
}

// NotificationEvent is what the in-app channel publishes to the
// message broker for connected clients.
type NotificationEvent struct {
	ID             uuid.UUID        `json:"id"`
	NotificationID uuid.UUID        `json:"notification_id"`
	DisputeID      uuid.UUID        `json:"dispute_id"`
	UserID         uuid.UUID        `json:"user_id"`
	Type           NotificationType `json:"type"`
	Title          string           `json:"title"`
	Message        string           `json:"message"`
	CreatedAt      time.Time        `json:"created_at"`
}
