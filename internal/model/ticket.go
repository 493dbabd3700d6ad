package model

import (
	"github.com/google/uuid"
)

// Ticket is the slice of the ticketing service's record this system
// needs for ownership checks and priority rules. Ticket CRUD itself
// lives in the external ticketing service.
type Ticket struct {
	ID      uuid.UUID `json:"id"`
	EventID uuid.UUID `json:"event_id"`
	OwnerID uuid.UUID `json:"owner_id"`
	Price   float64   `json:"price"`
	Status  string    `json:"status"`
}
