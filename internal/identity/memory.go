package identity

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

type memoryRecord struct {
	identity Identity
	hash     []byte
}

// MemoryProvider implements Provider in process memory.
type MemoryProvider struct {
	mu         sync.RWMutex
	byID       map[string]*memoryRecord
	byEmail    map[string]string
	newID      func() string
	bcryptCost int
}

// MemoryOption customizes a MemoryProvider.
type MemoryOption func(*MemoryProvider)

// WithIDGenerator overrides identity ID generation.
func WithIDGenerator(fn func() string) MemoryOption {
	return func(p *MemoryProvider) {
		p.newID = fn
	}
}

// WithBcryptCost sets the bcrypt cost; 0 keeps the default.
func WithBcryptCost(cost int) MemoryOption {
	return func(p *MemoryProvider) {
		if cost != 0 {
			p.bcryptCost = cost
		}
	}
}

// NewMemoryProvider creates an empty in-memory identity provider.
func NewMemoryProvider(opts ...MemoryOption) *MemoryProvider {
	p := &MemoryProvider{
		byID:       make(map[string]*memoryRecord),
		byEmail:    make(map[string]string),
		newID:      uuid.NewString,
		bcryptCost: bcrypt.MinCost,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *MemoryProvider) CreateIdentity(_ context.Context, email, password string) (Identity, error) {
	normalized, err := normalizeEmail(email)
	if err != nil {
		return Identity{}, err
	}
	hash, err := hashPassword(password, p.bcryptCost)
	if err != nil {
		return Identity{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.byEmail[normalized]; exists {
		return Identity{}, ErrAlreadyExists
	}

	id := p.newID()
	if _, exists := p.byID[id]; exists {
		return Identity{}, ErrAlreadyExists
	}
	ident := Identity{ID: id, Email: normalized, CreatedAt: time.Now().UTC()}
	p.byID[id] = &memoryRecord{identity: ident, hash: hash}
	p.byEmail[normalized] = id
	return ident, nil
}

func (p *MemoryProvider) DeleteIdentity(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec, ok := p.byID[id]
	if !ok {
		return ErrNotFound
	}
	delete(p.byEmail, rec.identity.Email)
	delete(p.byID, id)
	return nil
}

func (p *MemoryProvider) SetClaims(_ context.Context, id string, claims map[string]string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec, ok := p.byID[id]
	if !ok {
		return ErrNotFound
	}
	rec.identity.Claims = copyClaims(claims)
	return nil
}

func (p *MemoryProvider) GetIdentity(_ context.Context, id string) (Identity, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	rec, ok := p.byID[id]
	if !ok {
		return Identity{}, ErrNotFound
	}
	ident := rec.identity
	ident.Claims = copyClaims(ident.Claims)
	return ident, nil
}

func (p *MemoryProvider) ListIdentities(_ context.Context, after string, limit int) ([]Identity, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]Identity, 0, len(p.byID))
	for id, rec := range p.byID {
		if after != "" && id <= after {
			continue
		}
		ident := rec.identity
		ident.Claims = copyClaims(ident.Claims)
		out = append(out, ident)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// VerifyPassword reports whether password matches the identity's credential.
func (p *MemoryProvider) VerifyPassword(id, password string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	rec, ok := p.byID[id]
	if !ok {
		return false
	}
	return bcrypt.CompareHashAndPassword(rec.hash, []byte(password)) == nil
}

// Count returns the number of identities.
func (p *MemoryProvider) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.byID)
}

func (p *MemoryProvider) Close() error {
	return nil
}
