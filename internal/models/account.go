package models

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

const (
	RoleAffiliate = "affiliate"
	RoleCreator   = "creator"
	RoleBuyer     = "buyer"
	RoleAdmin     = "admin"
)

// ValidRole reports whether r is one of the known roles.
func ValidRole(r string) bool {
	switch r {
	case RoleAffiliate, RoleCreator, RoleBuyer, RoleAdmin:
		return true
	}
	return false
}

type Account struct {
	ID                uuid.UUID  `json:"id"`
	Email             string     `json:"email"`
	Name              string     `json:"name"`
	PasswordHash      string     `json:"-"`
	Roles             []string   `json:"roles"`
	CommissionRateBps *int64     `json:"commission_rate_bps,omitempty"`
	PayoutDestination string     `json:"payout_destination,omitempty"`
	BalanceCents      int64      `json:"balance_cents"`
	Version           int64      `json:"-"`
	DisabledAt        *time.Time `json:"disabled_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

func (a *Account) HasRole(role string) bool {
	return slices.Contains(a.Roles, role)
}

func (a *Account) Disabled() bool {
	return a.DisabledAt != nil
}

// EffectiveCommissionBps returns the per-account override when an admin has
// set one, otherwise the global default.
func (a *Account) EffectiveCommissionBps(defaultBps int64) int64 {
	if a.CommissionRateBps != nil {
		return *a.CommissionRateBps
	}
	return defaultBps
}
