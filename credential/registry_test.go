package credential

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/trysoma/soma-sub005/cryptovault"
	svcerrors "github.com/trysoma/soma-sub005/infrastructure/errors"
)

type testVault struct {
	cache        *cryptovault.CryptoCache
	repo         *cryptovault.MemoryRepository
	materializer *cryptovault.Materializer
	kek          cryptovault.KEK
}

func newTestVault(t *testing.T) *testVault {
	t.Helper()
	vaultRepo := cryptovault.NewMemoryRepository()
	materializer := cryptovault.NewMaterializer(nil)
	kek := cryptovault.KEK{Kind: cryptovault.KEKVariantLocal, FileName: filepath.Join(t.TempDir(), "kek.bin")}
	vaultRepo.PutKEK(kek)
	return &testVault{
		cache:        cryptovault.New(vaultRepo, materializer, nil, "test"),
		repo:         vaultRepo,
		materializer: materializer,
		kek:          kek,
	}
}

func newTestDEKAlias(t *testing.T, v *testVault, alias string) {
	t.Helper()
	ctx := context.Background()
	dek, err := cryptovault.CreateDEK(ctx, v.repo, v.materializer, v.kek)
	if err != nil {
		t.Fatalf("CreateDEK() error = %v", err)
	}
	if err := v.cache.CreateAlias(ctx, alias, dek.ID); err != nil {
		t.Fatalf("CreateAlias() error = %v", err)
	}
}

func TestRegistryCreateAndResolveApiKey(t *testing.T) {
	vault := newTestVault(t)
	newTestDEKAlias(t, vault, "resource-alias")

	registry := New(NewMemoryRepository(), vault.cache)
	registry.RegisterSource(ApiKeySource{})

	ctx := context.Background()
	_, err := registry.CreateTriple(ctx, "instance-1", VariantApiKey, map[string]interface{}{"base_url": "https://api.example.com"},
		map[string]interface{}{"access_token": "secret-key"}, nil, "resource-alias", "")
	if err != nil {
		t.Fatalf("CreateTriple() error = %v", err)
	}

	resolved, err := registry.Resolve(ctx, "instance-1")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if resolved.ResourceServerAccessToken != "secret-key" {
		t.Fatalf("ResourceServerAccessToken = %q, want secret-key", resolved.ResourceServerAccessToken)
	}
	if resolved.StaticConfig["base_url"] != "https://api.example.com" {
		t.Fatalf("StaticConfig not preserved: %+v", resolved.StaticConfig)
	}
}

func TestRegistryNoAuthResolvesNothing(t *testing.T) {
	vault := newTestVault(t)
	registry := New(NewMemoryRepository(), vault.cache)
	registry.RegisterSource(NoAuthSource{})

	ctx := context.Background()
	_, err := registry.CreateTriple(ctx, "instance-2", VariantNoAuth, nil, nil, nil, "", "")
	if err != nil {
		t.Fatalf("CreateTriple() error = %v", err)
	}

	resolved, err := registry.Resolve(ctx, "instance-2")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if resolved.ResourceServerAccessToken != "" || resolved.UserAccessToken != "" {
		t.Fatalf("expected no secrets for no_auth, got %+v", resolved)
	}
}

func TestRegistryUpdateTripleInvalidatesCache(t *testing.T) {
	vault := newTestVault(t)
	newTestDEKAlias(t, vault, "resource-alias")

	registry := New(NewMemoryRepository(), vault.cache)
	registry.RegisterSource(ApiKeySource{})

	ctx := context.Background()
	if _, err := registry.CreateTriple(ctx, "instance-3", VariantApiKey, nil,
		map[string]interface{}{"access_token": "first-key"}, nil, "resource-alias", ""); err != nil {
		t.Fatalf("CreateTriple() error = %v", err)
	}

	// prime the cache
	if _, err := registry.Resolve(ctx, "instance-3"); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	if _, err := registry.UpdateTriple(ctx, "instance-3", map[string]interface{}{"access_token": "second-key"}, nil); err != nil {
		t.Fatalf("UpdateTriple() error = %v", err)
	}

	resolved, err := registry.Resolve(ctx, "instance-3")
	if err != nil {
		t.Fatalf("Resolve() after update error = %v", err)
	}
	if resolved.ResourceServerAccessToken != "second-key" {
		t.Fatalf("ResourceServerAccessToken = %q, want second-key (stale cache not invalidated)", resolved.ResourceServerAccessToken)
	}
}

func TestRegistryRemoveTripleThenResolveFails(t *testing.T) {
	vault := newTestVault(t)
	newTestDEKAlias(t, vault, "resource-alias")

	registry := New(NewMemoryRepository(), vault.cache)
	registry.RegisterSource(ApiKeySource{})

	ctx := context.Background()
	if _, err := registry.CreateTriple(ctx, "instance-4", VariantApiKey, nil,
		map[string]interface{}{"access_token": "key"}, nil, "resource-alias", ""); err != nil {
		t.Fatalf("CreateTriple() error = %v", err)
	}

	if err := registry.RemoveTriple(ctx, "instance-4"); err != nil {
		t.Fatalf("RemoveTriple() error = %v", err)
	}

	if _, err := registry.Resolve(ctx, "instance-4"); err == nil {
		t.Fatal("Resolve() after RemoveTriple() expected error, got nil")
	} else if se := svcerrors.GetServiceError(err); se == nil || se.Kind != svcerrors.KindNotFound {
		t.Fatalf("expected a not_found ServiceError, got %v", err)
	}
}

func TestOauth2AuthorizationCodeFlowBrokerAndRotate(t *testing.T) {
	vault := newTestVault(t)
	newTestDEKAlias(t, vault, "user-alias")

	source := Oauth2AuthorizationCodeFlowSource{
		Exchange: func(ctx context.Context, authCode string) (string, string, error) {
			if authCode != "the-code" {
				return "", "", errors.New("unexpected code")
			}
			return "access-1", "refresh-1", nil
		},
		Refresh: func(ctx context.Context, refreshToken string) (string, error) {
			return "access-2", nil
		},
	}

	registry := New(NewMemoryRepository(), vault.cache)
	registry.RegisterSource(source)

	ctx := context.Background()
	brokered, err := source.BrokerUserCredential(ctx, "the-code")
	if err != nil {
		t.Fatalf("BrokerUserCredential() error = %v", err)
	}

	if _, err := registry.CreateTriple(ctx, "instance-5", VariantOauth2AuthorizationCodeFlow, nil, nil, brokered, "", "user-alias"); err != nil {
		t.Fatalf("CreateTriple() error = %v", err)
	}

	resolved, err := registry.Resolve(ctx, "instance-5")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if resolved.UserAccessToken != "access-1" {
		t.Fatalf("UserAccessToken = %q, want access-1", resolved.UserAccessToken)
	}

	triple, err := registry.repo.Get(ctx, "instance-5")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	rotated, err := source.RotateUserCredential(ctx, vault.cache, triple.UserDEKAlias, triple.UserCredential)
	if err != nil {
		t.Fatalf("RotateUserCredential() error = %v", err)
	}
	triple.UserCredential = rotated
	triple.UserRotatedAt = time.Now()
	if err := registry.repo.Put(ctx, triple); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	vault.cache.InvalidateAlias("user-alias")
	registry.onChange(ChangeEventUpdated, triple)

	resolved, err = registry.Resolve(ctx, "instance-5")
	if err != nil {
		t.Fatalf("Resolve() after rotate error = %v", err)
	}
	if resolved.UserAccessToken != "access-2" {
		t.Fatalf("UserAccessToken after rotate = %q, want access-2", resolved.UserAccessToken)
	}
}
