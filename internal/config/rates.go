package config

import (
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/waitflo/backend/internal/money"
)

// Rates is the versioned set of business constants applied to accruals and
// payouts. Every ledger entry records the Version it was computed under.
type Rates struct {
	Version            int   `yaml:"version" json:"version"`
	CommissionBps      int64 `yaml:"commission_bps" json:"commission_bps"`
	CreatorShareBps    int64 `yaml:"creator_share_bps" json:"creator_share_bps"`
	MinimumPayoutCents int64 `yaml:"minimum_payout_cents" json:"minimum_payout_cents"`
	ReferralWindowDays int   `yaml:"referral_window_days" json:"referral_window_days"`
}

// DefaultRates: 30% affiliate commission, 70% creator share, $50.00
// minimum payout, 60 day referral window.
func DefaultRates() Rates {
	return Rates{
		Version:            1,
		CommissionBps:      3000,
		CreatorShareBps:    7000,
		MinimumPayoutCents: 5000,
		ReferralWindowDays: 60,
	}
}

// ReferralWindow returns the token validity window as a duration.
func (r Rates) ReferralWindow() time.Duration {
	return time.Duration(r.ReferralWindowDays) * 24 * time.Hour
}

func (r Rates) Validate() error {
	if r.Version <= 0 {
		return errors.New("rates: version must be positive")
	}
	if err := money.ValidateRate(r.CommissionBps); err != nil {
		return fmt.Errorf("rates: commission_bps: %w", err)
	}
	if err := money.ValidateRate(r.CreatorShareBps); err != nil {
		return fmt.Errorf("rates: creator_share_bps: %w", err)
	}
	if r.MinimumPayoutCents <= 0 {
		return errors.New("rates: minimum_payout_cents must be positive")
	}
	if r.ReferralWindowDays <= 0 {
		return errors.New("rates: referral_window_days must be positive")
	}
	return nil
}

// LoadRates reads a YAML rates file. Missing keys keep their defaults.
func LoadRates(path string) (Rates, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Rates{}, fmt.Errorf("read rates file %q: %w", path, err)
	}
	return ParseRates(data)
}

func ParseRates(data []byte) (Rates, error) {
	r := DefaultRates()
	if err := yaml.Unmarshal(data, &r); err != nil {
		return Rates{}, fmt.Errorf("parse rates: %w", err)
	}
	if err := r.Validate(); err != nil {
		return Rates{}, err
	}
	return r, nil
}

// RatesStore holds the rates currently in effect. Callers read a snapshot
// once per operation and pass it down, so a reload never splits a single
// accrual across two versions.
type RatesStore struct {
	v atomic.Pointer[Rates]
}

func NewRatesStore(r Rates) *RatesStore {
	s := &RatesStore{}
	s.v.Store(&r)
	return s
}

func (s *RatesStore) Current() Rates {
	return *s.v.Load()
}

// Replace swaps in new rates. The version must move forward.
func (s *RatesStore) Replace(r Rates) error {
	if err := r.Validate(); err != nil {
		return err
	}
	cur := s.Current()
	if r.Version <= cur.Version {
		return fmt.Errorf("rates: version %d is not newer than %d", r.Version, cur.Version)
	}
	s.v.Store(&r)
	return nil
}
