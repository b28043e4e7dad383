package identity

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/minipay/onboarding/internal/config"
	"github.com/minipay/onboarding/internal/dbpool"
	"golang.org/x/crypto/bcrypt"
)

// Common errors returned by providers.
var (
	ErrAlreadyExists     = errors.New("identity: email already registered")
	ErrInvalidCredential = errors.New("identity: invalid email or credential")
	ErrNotFound          = errors.New("identity: not found")
)

// MinPasswordLength is the shortest credential a provider accepts.
const MinPasswordLength = 6

// Identity is an authentication principal. Credential material never leaves
// the provider.
type Identity struct {
	ID            string            `json:"id"`
	Email         string            `json:"email"`
	Claims        map[string]string `json:"claims,omitempty"`
	EmailVerified bool              `json:"emailVerified"`
	CreatedAt     time.Time         `json:"createdAt"`
}

// Provider registers and manages identities. Email uniqueness is enforced by
// the provider, case-insensitively.
type Provider interface {
	CreateIdentity(ctx context.Context, email, password string) (Identity, error)
	DeleteIdentity(ctx context.Context, id string) error
	SetClaims(ctx context.Context, id string, claims map[string]string) error
	GetIdentity(ctx context.Context, id string) (Identity, error)
	// ListIdentities pages through identities ordered by ID.
	ListIdentities(ctx context.Context, after string, limit int) ([]Identity, error)
	Close() error
}

// NewProvider creates a provider for the configured backend.
func NewProvider(ctx context.Context, cfg config.IdentityConfig, pools *dbpool.Registry) (Provider, error) {
	switch cfg.Backend {
	case "memory", "":
		return NewMemoryProvider(WithBcryptCost(cfg.BcryptCost)), nil
	case "postgres":
		pool, err := pools.Get(ctx, cfg.PostgresURL, cfg.PostgresPool)
		if err != nil {
			return nil, err
		}
		return NewPostgresProvider(ctx, pool.DB(), cfg.TableName, cfg.BcryptCost)
	default:
		return nil, fmt.Errorf("identity: unsupported backend %q", cfg.Backend)
	}
}

// normalizeEmail lowercases and validates an email address.
func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", ErrInvalidCredential
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", ErrInvalidCredential
	}
	return email, nil
}

func hashPassword(password string, cost int) ([]byte, error) {
	if len(password) < MinPasswordLength {
		return nil, ErrInvalidCredential
	}
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("identity: bcrypt cost %d out of range", cost)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return nil, ErrInvalidCredential
	}
	return hash, err
}

func copyClaims(claims map[string]string) map[string]string {
	if claims == nil {
		return nil
	}
	out := make(map[string]string, len(claims))
	for k, v := range claims {
		out[k] = v
	}
	return out
}
