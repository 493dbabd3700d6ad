package user

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	apperrors "github.com/ticketry/dispute-api/pkg/errors"
)

// Contact is the slice of a user record this service needs for
// notification delivery. User accounts live with the external user
// service.
type Contact struct {
	ID    uuid.UUID `json:"id"`
	Email string    `json:"email"`
	Phone string    `json:"phone"`
}

// Resolver looks up deliverable addresses for a user.
type Resolver interface {
	EmailFor(ctx context.Context, userID uuid.UUID) (string, error)
	PhoneFor(ctx context.Context, userID uuid.UUID) (string, error)
}

type Config struct {
	BaseURL  string
	Timeout  time.Duration
	CacheTTL time.Duration
}

type client struct {
	baseURL string
	http    *http.Client
	cache   *gocache.Cache
}

// NewClient returns a user service client with a short-lived in-memory
// cache over contact lookups.
func NewClient(cfg Config) Resolver {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Minute
	}
	return &client{
		baseURL: cfg.BaseURL,
		http:    &http.Client{Timeout: cfg.Timeout},
		cache:   gocache.New(cfg.CacheTTL, 5*time.Minute),
	}
}

func (c *client) EmailFor(ctx context.Context, userID uuid.UUID) (string, error) {
	contact, err := c.getContact(ctx, userID)
	if err != nil {
		return "", err
	}
	if contact.Email == "" {
		return "", fmt.Errorf("user %s has no email on file", userID)
	}
	return contact.Email, nil
}

func (c *client) PhoneFor(ctx context.Context, userID uuid.UUID) (string, error) {
	contact, err := c.getContact(ctx, userID)
	if err != nil {
		return "", err
	}
	if contact.Phone == "" {
		return "", fmt.Errorf("user %s has no phone on file", userID)
	}
	return contact.Phone, nil
}

func (c *client) getContact(ctx context.Context, userID uuid.UUID) (*Contact, error) {
	if cached, ok := c.cache.Get(userID.String()); ok {
		return cached.(*Contact), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/users/%s/contact", c.baseURL, userID), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build user request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user contact: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, apperrors.NotFound("user", nil)
	default:
		return nil, fmt.Errorf("user service returned status %d", resp.StatusCode)
	}

	var envelope struct {
		Data Contact `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("failed to decode user response: %w", err)
	}

	contact := envelope.Data
	c.cache.Set(userID.String(), &contact, gocache.DefaultExpiration)
	return &contact, nil
}
