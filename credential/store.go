package credential

import (
	"context"
	"sync"

	"github.com/trysoma/soma-sub005/infrastructure/errors"
)

// Repository owns the durable CredentialTriple records, keyed by tool
// group instance id.
type Repository interface {
	Get(ctx context.Context, instanceID string) (CredentialTriple, error)
	Put(ctx context.Context, triple CredentialTriple) error
	Delete(ctx context.Context, instanceID string) error
	List(ctx context.Context) ([]CredentialTriple, error)
}

// MemoryRepository is an in-process Repository guarded by a single mutex.
type MemoryRepository struct {
	mu      sync.RWMutex
	triples map[string]CredentialTriple
}

// NewMemoryRepository creates an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{triples: make(map[string]CredentialTriple)}
}

func (r *MemoryRepository) Get(ctx context.Context, instanceID string) (CredentialTriple, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.triples[instanceID]
	if !ok {
		return CredentialTriple{}, errors.NotFound("credential_triple", instanceID)
	}
	return t, nil
}

func (r *MemoryRepository) Put(ctx context.Context, triple CredentialTriple) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.triples[triple.InstanceID] = triple
	return nil
}

func (r *MemoryRepository) Delete(ctx context.Context, instanceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.triples, instanceID)
	return nil
}

func (r *MemoryRepository) List(ctx context.Context) ([]CredentialTriple, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]CredentialTriple, 0, len(r.triples))
	for _, t := range r.triples {
		out = append(out, t)
	}
	return out, nil
}
