// Package attribution maps referral tokens to affiliate accounts. Resolution
// fails closed: anything other than a known, unexpired token owned by an
// active account means "no attribution".
package attribution

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/waitflo/backend/internal/models"
	"github.com/waitflo/backend/internal/repository"
)

const (
	tokenPrefix   = "ref_"
	tokenHexBytes = 12
)

type TokenStore interface {
	GetByToken(ctx context.Context, token string) (*models.ReferralToken, error)
}

type TokenCreator interface {
	Create(ctx context.Context, t *models.ReferralToken) error
}

// randRead is swapped in tests.
var randRead = rand.Read

type Resolver struct {
	tokens TokenStore
	log    *slog.Logger
}

func NewResolver(tokens TokenStore, log *slog.Logger) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{tokens: tokens, log: log}
}

// Resolve returns the affiliate a token attributes to at now. A token is
// still valid at exactly its expiry instant.
func (r *Resolver) Resolve(ctx context.Context, token string, now time.Time) (uuid.UUID, bool) {
	if !WellFormed(token) {
		if token != "" {
			r.log.Debug("referral token malformed", "token", token)
		}
		return uuid.Nil, false
	}
	t, err := r.tokens.GetByToken(ctx, token)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			r.log.Warn("referral token lookup failed", "token", token, "error", err)
		}
		return uuid.Nil, false
	}
	if t.AccountDisabled {
		r.log.Info("referral token owner disabled", "token", token, "account_id", t.AccountID)
		return uuid.Nil, false
	}
	if !t.Active(now) {
		r.log.Debug("referral token expired", "token", token, "expires_at", t.ExpiresAt)
		return uuid.Nil, false
	}
	return t.AccountID, true
}

// ResolveLast applies last-valid-token-wins to tokens ordered oldest first.
// It returns the winning token alongside the affiliate.
func (r *Resolver) ResolveLast(ctx context.Context, tokens []string, now time.Time) (uuid.UUID, string, bool) {
	for i := len(tokens) - 1; i >= 0; i-- {
		if id, ok := r.Resolve(ctx, tokens[i], now); ok {
			return id, tokens[i], true
		}
	}
	return uuid.Nil, "", false
}

// WellFormed reports whether token has the issued shape: "ref_" followed by
// 24 lowercase hex characters.
func WellFormed(token string) bool {
	rest, ok := strings.CutPrefix(token, tokenPrefix)
	if !ok || len(rest) != tokenHexBytes*2 {
		return false
	}
	for _, c := range rest {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

type Issuer struct {
	tokens TokenCreator
	now    func() time.Time
}

func NewIssuer(tokens TokenCreator) *Issuer {
	return &Issuer{tokens: tokens, now: time.Now}
}

// Issue mints a fresh token for an affiliate, valid for window from now.
// Tokens are never reused; a collision with an existing token is retried
// with new randomness.
func (i *Issuer) Issue(ctx context.Context, accountID uuid.UUID, window time.Duration) (*models.ReferralToken, error) {
	if window <= 0 {
		return nil, fmt.Errorf("referral window must be positive, got %s", window)
	}
	for attempt := 0; attempt < 3; attempt++ {
		buf := make([]byte, tokenHexBytes)
		if _, err := randRead(buf); err != nil {
			return nil, fmt.Errorf("generate referral token: %w", err)
		}
		issuedAt := i.now().UTC()
		t := &models.ReferralToken{
			Token:     tokenPrefix + hex.EncodeToString(buf),
			AccountID: accountID,
			IssuedAt:  issuedAt,
			ExpiresAt: issuedAt.Add(window),
		}
		err := i.tokens.Create(ctx, t)
		if errors.Is(err, repository.ErrTokenTaken) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return t, nil
	}
	return nil, repository.ErrTokenTaken
}
