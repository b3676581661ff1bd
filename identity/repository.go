package identity

import (
	"context"
	"sync"
	"time"

	"github.com/trysoma/soma-sub005/infrastructure/errors"
)

// Repository owns the durable STSConfig and JWKSigningKey records. A real
// deployment backs this with the ordered store named in the concurrency
// model's Non-goals; MemoryRepository is the in-process reference.
type Repository interface {
	GetSTSConfig(ctx context.Context, id string) (STSConfig, error)
	PutSTSConfig(ctx context.Context, cfg STSConfig) error

	ListSigningKeys(ctx context.Context) ([]JWKSigningKey, error)
	PutSigningKey(ctx context.Context, key JWKSigningKey) error
	InvalidateSigningKey(ctx context.Context, kid string) error
}

// MemoryRepository is an in-process Repository guarded by a single mutex.
type MemoryRepository struct {
	mu          sync.RWMutex
	stsConfigs  map[string]STSConfig
	signingKeys map[string]JWKSigningKey
}

// NewMemoryRepository creates an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		stsConfigs:  make(map[string]STSConfig),
		signingKeys: make(map[string]JWKSigningKey),
	}
}

func (r *MemoryRepository) GetSTSConfig(ctx context.Context, id string) (STSConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.stsConfigs[id]
	if !ok {
		return STSConfig{}, errors.NotFound("sts_config", id)
	}
	return cfg, nil
}

func (r *MemoryRepository) PutSTSConfig(ctx context.Context, cfg STSConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stsConfigs[cfg.ID] = cfg
	return nil
}

func (r *MemoryRepository) ListSigningKeys(ctx context.Context) ([]JWKSigningKey, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]JWKSigningKey, 0, len(r.signingKeys))
	for _, k := range r.signingKeys {
		keys = append(keys, k)
	}
	return keys, nil
}

func (r *MemoryRepository) PutSigningKey(ctx context.Context, key JWKSigningKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signingKeys[key.KID] = key
	return nil
}

func (r *MemoryRepository) InvalidateSigningKey(ctx context.Context, kid string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key, ok := r.signingKeys[kid]
	if !ok {
		return errors.NotFound("signing_key", kid)
	}
	key.Invalidated = true
	r.signingKeys[kid] = key
	return nil
}

// selectSigningKey picks the one key usable for new signatures. Exactly one
// such key is expected to exist at a time; if more than one qualifies
// (mid-rotation), the one expiring furthest in the future is chosen so
// rotation is deterministic.
func selectSigningKey(keys []JWKSigningKey, now time.Time) (JWKSigningKey, error) {
	var best JWKSigningKey
	found := false
	for _, k := range keys {
		if !k.Usable(now) {
			continue
		}
		if !found || k.ExpiresAt.After(best.ExpiresAt) {
			best = k
			found = true
		}
	}
	if !found {
		return JWKSigningKey{}, errors.Internal("no valid signing key available", nil)
	}
	return best, nil
}

// findSigningKey looks up a key by kid among keys still valid for
// verification (invalidated keys remain valid until expiry).
func findSigningKey(keys []JWKSigningKey, kid string, now time.Time) (JWKSigningKey, error) {
	for _, k := range keys {
		if k.KID == kid && k.VerifiableUntil(now) {
			return k, nil
		}
	}
	return JWKSigningKey{}, errors.Authentication("unknown or expired signing key: " + kid)
}
