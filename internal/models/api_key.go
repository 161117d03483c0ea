package models

import (
	"time"

	"github.com/google/uuid"
)

// APIKey authenticates the upstream web layer when it delivers events.
type APIKey struct {
	ID        uuid.UUID `json:"id"`
	Label     string    `json:"label"`
	KeyHash   string    `json:"-"`
	KeyPrefix string    `json:"key_prefix"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}
