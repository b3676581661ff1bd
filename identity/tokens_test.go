package identity

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/trysoma/soma-sub005/cryptovault"
	"github.com/trysoma/soma-sub005/infrastructure/errors"
	"github.com/trysoma/soma-sub005/infrastructure/serviceauth"
)

func newTestExchange(t *testing.T) (*TokenExchange, *MemoryRepository, string) {
	t.Helper()

	vaultRepo := cryptovault.NewMemoryRepository()
	materializer := cryptovault.NewMaterializer(nil)
	kek := cryptovault.KEK{Kind: cryptovault.KEKVariantLocal, FileName: filepath.Join(t.TempDir(), "kek.bin")}
	vaultRepo.PutKEK(kek)
	vault := cryptovault.New(vaultRepo, materializer, nil, "test")

	ctx := context.Background()
	dek, err := cryptovault.CreateDEK(ctx, vaultRepo, materializer, kek)
	if err != nil {
		t.Fatalf("CreateDEK() error = %v", err)
	}

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	privPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(priv)})
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: mustMarshalPKIX(t, &priv.PublicKey)})

	enc, err := vault.EncryptionServiceFor(dek.ID).EncryptData(ctx, privPEM)
	if err != nil {
		t.Fatalf("EncryptData() error = %v", err)
	}

	repo := NewMemoryRepository()
	kid := uuid.NewString()
	if err := repo.PutSigningKey(ctx, JWKSigningKey{
		KID:                 kid,
		EncryptedPrivateKey: string(enc),
		PublicKeyPEM:        string(pubPEM),
		DEKAlias:            dek.ID,
		ExpiresAt:           time.Now().Add(24 * time.Hour),
	}); err != nil {
		t.Fatalf("PutSigningKey() error = %v", err)
	}

	return NewTokenExchange(repo, vault), repo, kid
}

func mustMarshalPKIX(t *testing.T, pub *rsa.PublicKey) []byte {
	t.Helper()
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		t.Fatalf("MarshalPKIXPublicKey() error = %v", err)
	}
	return der
}

func TestIssueAndValidateAccessToken(t *testing.T) {
	// internal token issuance and validation round trip.
	exchange, _, _ := newTestExchange(t)
	ctx := context.Background()

	tokens, err := exchange.Issue(ctx, Human{Subject: "user-1", Groups: []string{"eng"}, Role: RoleAdmin})
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	claims, err := exchange.ValidateAccessToken(ctx, tokens.AccessToken)
	if err != nil {
		t.Fatalf("ValidateAccessToken() error = %v", err)
	}
	if claims.Issuer != Issuer {
		t.Errorf("Issuer = %q, want %q", claims.Issuer, Issuer)
	}
	if len(claims.Audience) != 1 || claims.Audience[0] != Audience {
		t.Errorf("Audience = %v, want [%q]", claims.Audience, Audience)
	}
	if claims.ExpiresAt == nil || !claims.ExpiresAt.After(time.Now()) {
		t.Errorf("expected exp in the future, got %v", claims.ExpiresAt)
	}
	if _, err := uuid.Parse(claims.ID); err != nil {
		t.Errorf("jti %q is not a UUID: %v", claims.ID, err)
	}
	if claims.TokenType != tokenTypeAccess {
		t.Errorf("token_type = %q, want %q", claims.TokenType, tokenTypeAccess)
	}
}

func TestValidationSurvivesKeyInvalidationButIssuanceFails(t *testing.T) {
	exchange, repo, kid := newTestExchange(t)
	ctx := context.Background()

	tokens, err := exchange.Issue(ctx, Human{Subject: "user-1", Role: RoleUser})
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	if err := repo.InvalidateSigningKey(ctx, kid); err != nil {
		t.Fatalf("InvalidateSigningKey() error = %v", err)
	}

	if _, err := exchange.ValidateAccessToken(ctx, tokens.AccessToken); err != nil {
		t.Errorf("validation after invalidation should still succeed until exp, got %v", err)
	}

	if _, err := exchange.Issue(ctx, Human{Subject: "user-2", Role: RoleUser}); err == nil {
		t.Fatal("expected issuance to fail with no valid signing key")
	} else if svcErr := errors.GetServiceError(err); svcErr == nil || svcErr.Kind != errors.KindInternal {
		t.Errorf("expected Internal error, got %v", err)
	}
}

func TestRefreshDoesNotRotateRefreshToken(t *testing.T) {
	exchange, _, _ := newTestExchange(t)
	ctx := context.Background()

	tokens, err := exchange.Issue(ctx, Human{Subject: "user-1", Groups: []string{"eng"}, Role: RoleUser})
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	newAccess, err := exchange.Refresh(ctx, tokens.RefreshToken, []string{"eng"}, RoleUser, "")
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if newAccess == tokens.AccessToken {
		t.Error("expected a freshly issued access token")
	}
	if _, err := exchange.ValidateAccessToken(ctx, newAccess); err != nil {
		t.Errorf("ValidateAccessToken(refreshed) error = %v", err)
	}
}
