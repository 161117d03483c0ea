package auth

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/waitflo/backend/internal/models"
	"github.com/waitflo/backend/internal/repository"
)

const tokenTTL = 24 * time.Hour

var (
	// ErrDuplicateEmail is returned when registering with an email that already exists.
	ErrDuplicateEmail     = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidRole        = errors.New("invalid role")
	ErrInvalidToken       = errors.New("invalid token")
	ErrAccountDisabled    = errors.New("account is disabled")
)

// Principal is the authenticated caller carried by a bearer token.
type Principal struct {
	AccountID uuid.UUID
	Roles     []string
}

func (p *Principal) HasRole(role string) bool {
	return slices.Contains(p.Roles, role)
}

type Service interface {
	Register(ctx context.Context, email, password, name string, roles []string) (*models.Account, error)
	CreateAdmin(ctx context.Context, email, password, name string) (*models.Account, error)
	Login(ctx context.Context, email, password string) (string, error)
	ValidateToken(ctx context.Context, token string) (*Principal, error)
}

type service struct {
	repo   Repository
	secret []byte
	now    func() time.Time
}

// NewService signs tokens with secret, falling back to the development secret.
func NewService(repo Repository, secret string) *service {
	if secret == "" {
		secret = "supersecretmvp"
	}
	return &service{repo: repo, secret: []byte(secret), now: time.Now}
}

// Ensure service implements Service at compile time.
var _ Service = (*service)(nil)

type claims struct {
	jwt.RegisteredClaims
	Roles []string `json:"roles"`
}

// Register creates a self-service account. Admin cannot be self-assigned.
func (s *service) Register(ctx context.Context, email, password, name string, roles []string) (*models.Account, error) {
	if len(roles) == 0 {
		return nil, ErrInvalidRole
	}
	for _, r := range roles {
		if !models.ValidRole(r) || r == models.RoleAdmin {
			return nil, ErrInvalidRole
		}
	}
	return s.create(ctx, email, password, name, dedupe(roles))
}

// CreateAdmin is used by the operator CLI only.
func (s *service) CreateAdmin(ctx context.Context, email, password, name string) (*models.Account, error) {
	return s.create(ctx, email, password, name, []string{models.RoleAdmin})
}

func (s *service) create(ctx context.Context, email, password, name string, roles []string) (*models.Account, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	acc := &models.Account{
		Email:        strings.ToLower(strings.TrimSpace(email)),
		Name:         name,
		PasswordHash: string(hash),
		Roles:        roles,
	}
	if err := s.repo.Create(ctx, acc); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrDuplicateEmail
		}
		return nil, err
	}
	return acc, nil
}

func (s *service) Login(ctx context.Context, email, password string) (string, error) {
	acc, err := s.repo.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if errors.Is(err, repository.ErrNotFound) {
		return "", ErrInvalidCredentials
	}
	if err != nil {
		return "", err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(acc.PasswordHash), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}
	if acc.Disabled() {
		return "", ErrAccountDisabled
	}
	return s.issueToken(acc.ID, acc.Roles)
}

func (s *service) issueToken(accountID uuid.UUID, roles []string) (string, error) {
	now := s.now()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		Roles: roles,
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return tok.SignedString(s.secret)
}

func (s *service) ValidateToken(ctx context.Context, token string) (*Principal, error) {
	tok, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, errors.Join(ErrInvalidToken, err)
	}
	c, ok := tok.Claims.(*claims)
	if !ok || !tok.Valid {
		return nil, ErrInvalidToken
	}
	id, err := uuid.Parse(c.Subject)
	if err != nil {
		return nil, errors.Join(ErrInvalidToken, err)
	}
	return &Principal{AccountID: id, Roles: c.Roles}, nil
}

func dedupe(roles []string) []string {
	out := make([]string, 0, len(roles))
	for _, r := range roles {
		if !slices.Contains(out, r) {
			out = append(out, r)
		}
	}
	return out
}
