package models

import (
	"time"

	"github.com/google/uuid"
)

// Template is a marketplace template whose usage revenue is shared with its creator.
type Template struct {
	ID         uuid.UUID `json:"id"`
	CreatorID  uuid.UUID `json:"creator_id"`
	Name       string    `json:"name"`
	PriceCents int64     `json:"price_cents"`
	CreatedAt  time.Time `json:"created_at"`
}
