package cryptovault

import (
	"context"

	"github.com/trysoma/soma-sub005/infrastructure/cache"
	"github.com/trysoma/soma-sub005/infrastructure/errors"
	"github.com/trysoma/soma-sub005/infrastructure/metrics"
)

// dekHandle is what the cache actually stores: decrypted key material plus
// enough provenance to know which KEK variant unwrapped it.
type dekHandle struct {
	dek       DEK
	plaintext []byte
	kekID     string
}

// CryptoCache is the on-demand decrypting, event-invalidated cache described
// in §4.5. Its key space is the union of DEK ids and DEK aliases.
type CryptoCache struct {
	cache        *cache.Cache
	repo         Repository
	materializer *Materializer
	metrics      *metrics.Metrics
	service      string
}

// New builds a CryptoCache over repo, decrypting with materializer.
func New(repo Repository, materializer *Materializer, m *metrics.Metrics, serviceName string) *CryptoCache {
	return &CryptoCache{
		cache:        cache.NewCache(cache.DefaultConfig()),
		repo:         repo,
		materializer: materializer,
		metrics:      m,
		service:      serviceName,
	}
}

func (c *CryptoCache) recordHit(keyKind string, hit bool) {
	if c.metrics != nil {
		c.metrics.RecordCryptoCacheHit(c.service, keyKind, hit)
	}
}

// resolve looks up key (a DEK id or a DEK alias) in the cache; on miss it
// falls back to the repository, decrypts via the owning KEK, and populates
// both the id entry and the alias entry (if key was an alias).
func (c *CryptoCache) resolve(ctx context.Context, key string, keyKind string) (*dekHandle, error) {
	if v, ok := c.cache.Get(key); ok {
		c.recordHit(keyKind, true)
		return v.(*dekHandle), nil
	}
	c.recordHit(keyKind, false)

	dek, err := c.repo.GetDEK(ctx, key)
	if err != nil {
		targetID, aliasErr := c.repo.ResolveAlias(ctx, key)
		if aliasErr != nil {
			return nil, errors.NotFound("dek_or_alias", key)
		}
		dek, err = c.repo.GetDEK(ctx, targetID)
		if err != nil {
			return nil, err
		}
	}

	kek, err := c.repo.GetKEK(ctx, dek.ParentKEKID)
	if err != nil {
		return nil, err
	}
	plaintext, err := c.materializer.Unwrap(ctx, kek, dek.Ciphertext)
	if err != nil {
		return nil, err
	}

	handle := &dekHandle{dek: dek, plaintext: plaintext, kekID: kek.ID()}
	c.cache.Set(dek.ID, handle, 0)
	if key != dek.ID {
		c.cache.Set(key, handle, 0)
	}
	return handle, nil
}

// GetByIDOrAlias resolves a DEK by id or alias, per the §5 property.
func (c *CryptoCache) GetByIDOrAlias(ctx context.Context, key string) (DEK, error) {
	handle, err := c.resolve(ctx, key, "dek_alias")
	if err != nil {
		return DEK{}, err
	}
	return handle.dek, nil
}

// OnKEKChange clears the entire cache: entries carry a reference to the KEK
// variant they were unwrapped with, and that reference is now stale.
func (c *CryptoCache) OnKEKChange() {
	c.cache.InvalidateVersion()
}

// invalidateAliasEntries drops both the alias key and the DEK-id key it
// currently points to, if cached.
func (c *CryptoCache) invalidateAliasEntries(alias string) {
	if v, ok := c.cache.Get(alias); ok {
		if h, ok2 := v.(*dekHandle); ok2 {
			c.cache.Invalidate(h.dek.ID)
		}
	}
	c.cache.Invalidate(alias)
}

// InvalidateAlias drops the cached plaintext for alias (and the DEK-id it
// currently resolves to) without repointing it. Callers use this when an
// external change event (e.g. a credential rotation) may have altered what
// the alias's ciphertext decrypts to, without the alias target itself
// changing.
func (c *CryptoCache) InvalidateAlias(alias string) {
	c.invalidateAliasEntries(alias)
}

// CreateAlias points a new alias at dekID.
func (c *CryptoCache) CreateAlias(ctx context.Context, alias, dekID string) error {
	if err := c.repo.PutAlias(ctx, DEKAlias{Alias: alias, TargetID: dekID}); err != nil {
		return err
	}
	c.invalidateAliasEntries(alias)
	return nil
}

// UpdateAlias repoints an existing alias at a new DEK id. Ciphertext
// already encrypted under the old DEK remains decryptable: its envelope
// embeds the old DEK's id directly and never consults the alias again.
func (c *CryptoCache) UpdateAlias(ctx context.Context, alias, newDEKID string) error {
	c.invalidateAliasEntries(alias)
	return c.repo.PutAlias(ctx, DEKAlias{Alias: alias, TargetID: newDEKID})
}

// DeleteAlias removes an alias entirely.
func (c *CryptoCache) DeleteAlias(ctx context.Context, alias string) error {
	c.invalidateAliasEntries(alias)
	return c.repo.DeleteAlias(ctx, alias)
}
