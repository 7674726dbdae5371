package models

import (
	"github.com/google/uuid"
)

// Account is the identity record consulted when a connection authenticates.
type Account struct {
	ID     uuid.UUID `json:"id"`
	Active bool      `json:"active"`
}
