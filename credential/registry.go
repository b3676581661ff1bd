package credential

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/trysoma/soma-sub005/cryptovault"
	"github.com/trysoma/soma-sub005/infrastructure/errors"
)

// resolvedCacheSize bounds how many instances' decrypted credentials the
// Registry keeps warm at once. ToolInvoker may call Resolve on every
// invocation of a hot tool deployment; this avoids re-running the AEAD open
// for the same instance back to back while staying bounded under a large
// fleet of tool deployments.
const resolvedCacheSize = 4096

// ChangeEventKind names the three lifecycle events a tool group instance's
// credential triple can raise.
type ChangeEventKind string

const (
	ChangeEventAdded   ChangeEventKind = "tool_group_instance_added"
	ChangeEventUpdated ChangeEventKind = "tool_group_instance_updated"
	ChangeEventRemoved ChangeEventKind = "tool_group_instance_removed"
)

// Registry owns the pluggable credential-source variants and the
// persistence of credential triples. On any change event it invalidates
// the CryptoCache's cached plaintext for the affected DEK aliases.
type Registry struct {
	mu      sync.RWMutex
	sources map[VariantKind]Source

	repo  Repository
	vault *cryptovault.CryptoCache

	resolvedCache *lru.Cache[string, ResolvedCredentials]
}

// New builds a Registry backed by repo for persistence and vault for
// envelope encryption/decryption.
func New(repo Repository, vault *cryptovault.CryptoCache) *Registry {
	resolvedCache, _ := lru.New[string, ResolvedCredentials](resolvedCacheSize)
	return &Registry{
		sources:       make(map[VariantKind]Source),
		repo:          repo,
		vault:         vault,
		resolvedCache: resolvedCache,
	}
}

// RegisterSource adds a credential-source variant, keyed by its TypeID.
func (r *Registry) RegisterSource(source Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[source.TypeID()] = source
}

// Source looks up a registered credential-source variant.
func (r *Registry) Source(typeID VariantKind) (Source, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sources[typeID]
	if !ok {
		return nil, errors.NotFound("credential_source", string(typeID))
	}
	return s, nil
}

func (r *Registry) onChange(kind ChangeEventKind, triple CredentialTriple) {
	if r.resolvedCache != nil {
		r.resolvedCache.Remove(triple.InstanceID)
	}
	if r.vault == nil {
		return
	}
	if triple.ResourceServerDEKAlias != "" {
		r.vault.InvalidateAlias(triple.ResourceServerDEKAlias)
	}
	if triple.UserDEKAlias != "" {
		r.vault.InvalidateAlias(triple.UserDEKAlias)
	}
}

// CreateTriple encrypts raw resource-server/user credential configuration
// under the given source variant and persists the resulting triple.
func (r *Registry) CreateTriple(ctx context.Context, instanceID string, typeID VariantKind, staticConfig map[string]interface{}, resourceServerRaw, userRaw map[string]interface{}, resourceDEKAlias, userDEKAlias string) (CredentialTriple, error) {
	source, err := r.Source(typeID)
	if err != nil {
		return CredentialTriple{}, err
	}

	resourceEncrypted, err := source.EncryptResourceServerConfiguration(ctx, r.vault, resourceDEKAlias, resourceServerRaw)
	if err != nil {
		return CredentialTriple{}, err
	}
	userEncrypted, err := source.EncryptUserCredentialConfiguration(ctx, r.vault, userDEKAlias, userRaw)
	if err != nil {
		return CredentialTriple{}, err
	}

	now := time.Now()
	triple := CredentialTriple{
		InstanceID:               instanceID,
		TypeID:                   typeID,
		StaticConfig:             staticConfig,
		ResourceServerCredential: resourceEncrypted,
		ResourceServerDEKAlias:   resourceDEKAlias,
		UserCredential:           userEncrypted,
		UserDEKAlias:             userDEKAlias,
		ResourceServerRotatedAt:  now,
		UserRotatedAt:            now,
	}
	if err := r.repo.Put(ctx, triple); err != nil {
		return CredentialTriple{}, err
	}
	r.onChange(ChangeEventAdded, triple)
	return triple, nil
}

// UpdateTriple replaces an existing triple's encrypted parts atomically
// and invalidates any cached plaintext for the affected aliases. In-flight
// invocations that already read the prior snapshot are unaffected.
func (r *Registry) UpdateTriple(ctx context.Context, instanceID string, resourceServerRaw, userRaw map[string]interface{}) (CredentialTriple, error) {
	existing, err := r.repo.Get(ctx, instanceID)
	if err != nil {
		return CredentialTriple{}, err
	}
	source, err := r.Source(existing.TypeID)
	if err != nil {
		return CredentialTriple{}, err
	}

	updated := existing
	now := time.Now()
	if resourceServerRaw != nil {
		enc, err := source.EncryptResourceServerConfiguration(ctx, r.vault, existing.ResourceServerDEKAlias, resourceServerRaw)
		if err != nil {
			return CredentialTriple{}, err
		}
		updated.ResourceServerCredential = enc
		updated.ResourceServerRotatedAt = now
	}
	if userRaw != nil {
		enc, err := source.EncryptUserCredentialConfiguration(ctx, r.vault, existing.UserDEKAlias, userRaw)
		if err != nil {
			return CredentialTriple{}, err
		}
		updated.UserCredential = enc
		updated.UserRotatedAt = now
	}

	if err := r.repo.Put(ctx, updated); err != nil {
		return CredentialTriple{}, err
	}
	r.onChange(ChangeEventUpdated, updated)
	return updated, nil
}

// RemoveTriple deletes a triple and invalidates its cached plaintext.
func (r *Registry) RemoveTriple(ctx context.Context, instanceID string) error {
	existing, err := r.repo.Get(ctx, instanceID)
	if err != nil {
		return err
	}
	if err := r.repo.Delete(ctx, instanceID); err != nil {
		return err
	}
	r.onChange(ChangeEventRemoved, existing)
	return nil
}

// ResolvedCredentials is what ToolInvoker needs after decrypting the
// subset its credential-source variant requires.
type ResolvedCredentials struct {
	StaticConfig              map[string]interface{}
	ResourceServerAccessToken string
	UserAccessToken           string
}

// Resolve decrypts exactly the parts of instanceID's triple that its
// variant requires, per spec.md §4.3: NoAuth decrypts nothing; ApiKey
// decrypts the resource-server credential; the two OAuth variants decrypt
// the user credential.
func (r *Registry) Resolve(ctx context.Context, instanceID string) (ResolvedCredentials, error) {
	if r.resolvedCache != nil {
		if cached, ok := r.resolvedCache.Get(instanceID); ok {
			return cached, nil
		}
	}

	triple, err := r.repo.Get(ctx, instanceID)
	if err != nil {
		return ResolvedCredentials{}, err
	}

	resolved := ResolvedCredentials{StaticConfig: triple.StaticConfig}
	switch triple.TypeID {
	case VariantNoAuth:
		// no secrets needed
	case VariantApiKey:
		cred, err := decryptJSON(ctx, r.vault, triple.ResourceServerCredential)
		if err != nil {
			return ResolvedCredentials{}, err
		}
		resolved.ResourceServerAccessToken = cred.AccessToken
	case VariantOauth2AuthorizationCodeFlow, VariantOauth2JwtBearerAssertion:
		cred, err := decryptJSON(ctx, r.vault, triple.UserCredential)
		if err != nil {
			return ResolvedCredentials{}, err
		}
		resolved.UserAccessToken = cred.AccessToken
	default:
		return ResolvedCredentials{}, errors.Internal("unknown credential variant: "+string(triple.TypeID), nil)
	}
	if r.resolvedCache != nil {
		r.resolvedCache.Add(instanceID, resolved)
	}
	return resolved, nil
}
