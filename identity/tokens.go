package identity

import (
	"context"
	"crypto/rsa"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/trysoma/soma-sub005/cryptovault"
	"github.com/trysoma/soma-sub005/infrastructure/errors"
	"github.com/trysoma/soma-sub005/infrastructure/serviceauth"
)

const (
	// Issuer is the iss claim on every internal token this system issues.
	Issuer = "soma-identity"
	// Audience is the aud claim on every internal token this system issues.
	Audience = "soma"

	accessTokenTTL  = time.Hour
	refreshTokenTTL = 7 * 24 * time.Hour

	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

// AccessClaims are the claims carried by an internally issued access token.
type AccessClaims struct {
	Email     string   `json:"email,omitempty"`
	Groups    []string `json:"groups"`
	Role      Role     `json:"role"`
	TokenType string   `json:"token_type"`
	jwt.RegisteredClaims
}

// RefreshClaims are the claims carried by an internally issued refresh
// token. It carries no groups/role: refreshing re-derives an access token
// with whatever groups/role the issuing path supplies.
type RefreshClaims struct {
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

// IssuedTokens is the pair returned by token issuance.
type IssuedTokens struct {
	AccessToken  string
	RefreshToken string
}

// TokenExchange issues and validates this system's own access/refresh
// tokens, signed by a JWKSigningKey drawn from Repository.
type TokenExchange struct {
	repo  Repository
	vault *cryptovault.CryptoCache
}

// NewTokenExchange builds a TokenExchange backed by repo for key material
// and vault for decrypting signing keys' private key PEM.
func NewTokenExchange(repo Repository, vault *cryptovault.CryptoCache) *TokenExchange {
	return &TokenExchange{repo: repo, vault: vault}
}

func (t *TokenExchange) activeSigningKey(ctx context.Context) (JWKSigningKey, *rsa.PrivateKey, error) {
	keys, err := t.repo.ListSigningKeys(ctx)
	if err != nil {
		return JWKSigningKey{}, nil, err
	}
	key, err := selectSigningKey(keys, time.Now())
	if err != nil {
		return JWKSigningKey{}, nil, err
	}

	plaintext, err := t.vault.DecryptionService().DecryptData(ctx, cryptovault.EncryptedString(key.EncryptedPrivateKey))
	if err != nil {
		return JWKSigningKey{}, nil, errors.Internal("decrypt signing key", err)
	}
	priv, err := serviceauth.ParseRSAPrivateKeyFromPEM(plaintext)
	if err != nil {
		return JWKSigningKey{}, nil, errors.Internal("parse signing key", err)
	}
	return key, priv, nil
}

func (t *TokenExchange) verifyingKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	keys, err := t.repo.ListSigningKeys(ctx)
	if err != nil {
		return nil, err
	}
	key, err := findSigningKey(keys, kid, time.Now())
	if err != nil {
		return nil, err
	}
	pub, err := serviceauth.ParseRSAPublicKeyFromPEM([]byte(key.PublicKeyPEM))
	if err != nil {
		return nil, errors.Internal("parse signing key public material", err)
	}
	return pub, nil
}

// Issue mints a fresh access/refresh token pair for a normalized identity.
func (t *TokenExchange) Issue(ctx context.Context, human Human) (IssuedTokens, error) {
	key, priv, err := t.activeSigningKey(ctx)
	if err != nil {
		return IssuedTokens{}, err
	}

	now := time.Now()
	access := jwt.NewWithClaims(jwt.SigningMethodRS256, AccessClaims{
		Email:     human.Email,
		Groups:    human.Groups,
		Role:      human.Role,
		TokenType: tokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   human.Subject,
			Issuer:    Issuer,
			Audience:  jwt.ClaimStrings{Audience},
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(accessTokenTTL)),
		},
	})
	access.Header["kid"] = key.KID
	accessSigned, err := access.SignedString(priv)
	if err != nil {
		return IssuedTokens{}, errors.Internal("sign access token", err)
	}

	refresh := jwt.NewWithClaims(jwt.SigningMethodRS256, RefreshClaims{
		TokenType: tokenTypeRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   human.Subject,
			Issuer:    Issuer,
			Audience:  jwt.ClaimStrings{Audience},
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(refreshTokenTTL)),
		},
	})
	refresh.Header["kid"] = key.KID
	refreshSigned, err := refresh.SignedString(priv)
	if err != nil {
		return IssuedTokens{}, errors.Internal("sign refresh token", err)
	}

	return IssuedTokens{AccessToken: accessSigned, RefreshToken: refreshSigned}, nil
}

// ValidateAccessToken verifies and decodes an internally issued access
// token, enforcing issuer/audience/type and expiry (invalidation of the
// signing key does not retroactively break verification, per Usable vs
// VerifiableUntil).
func (t *TokenExchange) ValidateAccessToken(ctx context.Context, tokenString string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	parsed, err := jwt.ParseWithClaims(tokenString, claims, func(tok *jwt.Token) (interface{}, error) {
		kid, _ := tok.Header["kid"].(string)
		return t.verifyingKey(ctx, kid)
	}, jwt.WithValidMethods([]string{"RS256"}), jwt.WithIssuer(Issuer), jwt.WithAudience(Audience))
	if err != nil {
		return nil, errors.AuthenticationWrap("validate access token", err)
	}
	if !parsed.Valid || claims.TokenType != tokenTypeAccess {
		return nil, errors.Authentication("not an access token")
	}
	return claims, nil
}

// Refresh validates a refresh token and issues a new access token only;
// the refresh token itself is never rotated.
func (t *TokenExchange) Refresh(ctx context.Context, refreshToken string, groups []string, role Role, email string) (string, error) {
	claims := &RefreshClaims{}
	parsed, err := jwt.ParseWithClaims(refreshToken, claims, func(tok *jwt.Token) (interface{}, error) {
		kid, _ := tok.Header["kid"].(string)
		return t.verifyingKey(ctx, kid)
	}, jwt.WithValidMethods([]string{"RS256"}), jwt.WithIssuer(Issuer), jwt.WithAudience(Audience))
	if err != nil {
		return "", errors.AuthenticationWrap("validate refresh token", err)
	}
	if !parsed.Valid || claims.TokenType != tokenTypeRefresh {
		return "", errors.Authentication("not a refresh token")
	}

	key, priv, err := t.activeSigningKey(ctx)
	if err != nil {
		return "", err
	}
	now := time.Now()
	access := jwt.NewWithClaims(jwt.SigningMethodRS256, AccessClaims{
		Email:     email,
		Groups:    groups,
		Role:      role,
		TokenType: tokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   claims.Subject,
			Issuer:    Issuer,
			Audience:  jwt.ClaimStrings{Audience},
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(accessTokenTTL)),
		},
	})
	access.Header["kid"] = key.KID
	signed, err := access.SignedString(priv)
	if err != nil {
		return "", errors.Internal("sign access token", err)
	}
	return signed, nil
}
