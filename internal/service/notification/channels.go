package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/ticketry/dispute-api/internal/email"
	"github.com/ticketry/dispute-api/internal/model"
	"github.com/ticketry/dispute-api/pkg/messaging"
)

// ChannelSender delivers a notification over one channel. The
// dispatcher iterates a list of senders rather than switching on the
// channel name at each call site.
type ChannelSender interface {
	Channel() model.NotificationChannel
	Send(ctx context.Context, notification *model.Notification) error
}

// RecipientResolver maps a user id to a deliverable address. User
// records live with the external user service.
type RecipientResolver interface {
	EmailFor(ctx context.Context, userID uuid.UUID) (string, error)
	PhoneFor(ctx context.Context, userID uuid.UUID) (string, error)
}

// Transport is the external delivery collaborator contract for
// channels whose providers live outside this service.
type Transport interface {
	Send(ctx context.Context, notification *model.Notification) error
}

type emailSender struct {
	svc      email.Service
	resolver RecipientResolver
}

func NewEmailSender(svc email.Service, resolver RecipientResolver) ChannelSender {
	return &emailSender{svc: svc, resolver: resolver}
}

func (s *emailSender) Channel() model.NotificationChannel { return model.ChannelEmail }

func (s *emailSender) Send(ctx context.Context, n *model.Notification) error {
	recipient, err := s.resolver.EmailFor(ctx, n.UserID)
	if err != nil {
		return fmt.Errorf("failed to resolve recipient: %w", err)
	}
	return s.svc.SendCustom(ctx, recipient, n.Title, n.Message)
}

type inAppSender struct {
	broker messaging.Broker
}

func NewInAppSender(broker messaging.Broker) ChannelSender {
	return &inAppSender{broker: broker}
}

func (s *inAppSender) Channel() model.NotificationChannel { return model.ChannelInApp }

func (s *inAppSender) Send(ctx context.Context, n *model.Notification) error {
	event := &model.NotificationEvent{
		ID:             uuid.New(),
		NotificationID: n.ID,
		DisputeID:      n.DisputeID,
		UserID:         n.UserID,
		Type:           n.Type,
		Title:          n.Title,
		Message:        n.Message,
		CreatedAt:      time.Now(),
	}
	return s.broker.Publish(ctx, "notifications", event)
}

type webhookSender struct {
	url  string
	http *http.Client
}

func NewWebhookSender(url string, timeout time.Duration) ChannelSender {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &webhookSender{
		url:  url,
		http: &http.Client{Timeout: timeout},
	}
}

func (s *webhookSender) Channel() model.NotificationChannel { return model.ChannelWebhook }

func (s *webhookSender) Send(ctx context.Context, n *model.Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to deliver webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

type transportSender struct {
	channel   model.NotificationChannel
	transport Transport
}

// NewTransportSender adapts an external delivery collaborator (SMS or
// push provider) into a channel sender.
func NewTransportSender(channel model.NotificationChannel, transport Transport) ChannelSender {
	return &transportSender{channel: channel, transport: transport}
}

func (s *transportSender) Channel() model.NotificationChannel { return s.channel }

func (s *transportSender) Send(ctx context.Context, n *model.Notification) error {
	return s.transport.Send(ctx, n)
}

// UnconfiguredTransport stands in for a provider that has not been
// wired up in this deployment.
type UnconfiguredTransport struct {
	Name string
}

func (t UnconfiguredTransport) Send(context.Context, *model.Notification) error {
	return fmt.Errorf("%s provider not configured", t.Name)
}
