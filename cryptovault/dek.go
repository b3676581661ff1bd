package cryptovault

import (
	"context"
	"crypto/rand"
	"sync"

	"github.com/google/uuid"
	"github.com/trysoma/soma-sub005/infrastructure/errors"
)

// DEK is a data encryption key wrapped by exactly one KEK.
type DEK struct {
	ID          string
	ParentKEKID string
	Ciphertext  []byte
}

// DEKAlias points at a DEK id. Alias -> DEK is many-to-one; the alias
// string is unique.
type DEKAlias struct {
	Alias     string
	TargetID  string
}

// Repository owns the durable DEK/alias/KEK records. A real deployment
// backs this with the ordered key-value/relational store named in §1's
// Non-goals; MemoryRepository is the in-process reference implementation.
type Repository interface {
	GetKEK(ctx context.Context, kekID string) (KEK, error)
	GetDEK(ctx context.Context, dekID string) (DEK, error)
	PutDEK(ctx context.Context, dek DEK) error
	ResolveAlias(ctx context.Context, alias string) (string, error)
	PutAlias(ctx context.Context, alias DEKAlias) error
	DeleteAlias(ctx context.Context, alias string) error
}

// MemoryRepository is an in-process Repository guarded by a single mutex;
// adequate for a single instance or for tests.
type MemoryRepository struct {
	mu      sync.RWMutex
	keks    map[string]KEK
	deks    map[string]DEK
	aliases map[string]string // alias -> dek id
}

// NewMemoryRepository creates an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		keks:    make(map[string]KEK),
		deks:    make(map[string]DEK),
		aliases: make(map[string]string),
	}
}

// PutKEK registers a KEK for later lookup by id.
func (r *MemoryRepository) PutKEK(kek KEK) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keks[kek.ID()] = kek
}

func (r *MemoryRepository) GetKEK(ctx context.Context, kekID string) (KEK, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kek, ok := r.keks[kekID]
	if !ok {
		return KEK{}, errors.NotFound("kek", kekID)
	}
	return kek, nil
}

func (r *MemoryRepository) GetDEK(ctx context.Context, dekID string) (DEK, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	dek, ok := r.deks[dekID]
	if !ok {
		return DEK{}, errors.NotFound("dek", dekID)
	}
	return dek, nil
}

func (r *MemoryRepository) PutDEK(ctx context.Context, dek DEK) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deks[dek.ID] = dek
	return nil
}

func (r *MemoryRepository) ResolveAlias(ctx context.Context, alias string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.aliases[alias]
	if !ok {
		return "", errors.NotFound("dek_alias", alias)
	}
	return id, nil
}

func (r *MemoryRepository) PutAlias(ctx context.Context, alias DEKAlias) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.aliases[alias.Alias] = alias.TargetID
	return nil
}

func (r *MemoryRepository) DeleteAlias(ctx context.Context, alias string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.aliases, alias)
	return nil
}

// CreateDEK generates fresh key material, wraps it under kek, and persists
// the resulting DEK record.
func CreateDEK(ctx context.Context, repo Repository, materializer *Materializer, kek KEK) (DEK, error) {
	plaintext := make([]byte, dekKeyLength)
	if _, err := rand.Read(plaintext); err != nil {
		return DEK{}, errors.Wrap(errors.KindInternal, "generate DEK material", err)
	}
	wrapped, err := materializer.Wrap(ctx, kek, plaintext)
	if err != nil {
		return DEK{}, err
	}
	dek := DEK{ID: uuid.NewString(), ParentKEKID: kek.ID(), Ciphertext: wrapped}
	if err := repo.PutDEK(ctx, dek); err != nil {
		return DEK{}, err
	}
	return dek, nil
}
