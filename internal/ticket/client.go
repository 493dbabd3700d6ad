package ticket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"github.com/ticketry/dispute-api/internal/model"
	apperrors "github.com/ticketry/dispute-api/pkg/errors"
)

// Service resolves ticket records from the external ticketing
// service. Ticket CRUD and ownership live there; this client only
// reads.
type Service interface {
	GetTicket(ctx context.Context, id uuid.UUID) (*model.Ticket, error)
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

// NewClient returns a ticket service client with a short-lived
// in-memory cache over ownership lookups.
func NewClient(cfg Config) Service {
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

func (c *client) GetTicket(ctx context.Context, id uuid.UUID) (*model.Ticket, error) {
	if cached, ok := c.cache.Get(id.String()); ok {
		return cached.(*model.Ticket), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/tickets/%s", c.baseURL, id), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build ticket request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch ticket: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, apperrors.NotFound("ticket", nil)
	default:
		return nil, fmt.Errorf("ticket service returned status %d", resp.StatusCode)
	}

	var envelope struct {
		Data model.Ticket `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("failed to decode ticket response: %w", err)
	}

	ticket := envelope.Data
	c.cache.Set(id.String(), &ticket, gocache.DefaultExpiration)
	return &ticket, nil
}
