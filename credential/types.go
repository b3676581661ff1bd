// Package credential implements the pluggable credential-source registry
// and the per-tool-group-instance credential triples it persists.
package credential

import (
	"context"
	"encoding/json"
	"time"

	"github.com/trysoma/soma-sub005/cryptovault"
	"github.com/trysoma/soma-sub005/infrastructure/errors"
)

// VariantKind names one of the four credential-source variants a tool
// group instance may be configured with.
type VariantKind string

const (
	VariantNoAuth                      VariantKind = "no_auth"
	VariantApiKey                      VariantKind = "api_key"
	VariantOauth2AuthorizationCodeFlow VariantKind = "oauth2_authorization_code_flow"
	VariantOauth2JwtBearerAssertion    VariantKind = "oauth2_jwt_bearer_assertion"
)

// CredentialTriple is the durable record for one tool group instance: a
// non-secret static config plus two independently encrypted parts. Each
// encrypted part carries the DEK alias it was encrypted under, so a later
// rotation that repoints the alias does not orphan existing triples
// (ciphertext embeds its own DEK id, per the cryptovault envelope format).
type CredentialTriple struct {
	InstanceID   string
	TypeID       VariantKind
	StaticConfig map[string]interface{}

	ResourceServerCredential cryptovault.EncryptedString
	ResourceServerDEKAlias   string

	UserCredential cryptovault.EncryptedString
	UserDEKAlias   string

	ResourceServerRotatedAt time.Time
	UserRotatedAt           time.Time
}

// Source is the pluggable behavior of a credential variant: how it
// documents itself, validates its configuration shape, and encrypts the
// two secret-bearing parts of a triple.
type Source interface {
	TypeID() VariantKind
	Documentation() string
	Name() string
	ConfigurationSchema() map[string]interface{}

	EncryptResourceServerConfiguration(ctx context.Context, vault *cryptovault.CryptoCache, dekAlias string, raw map[string]interface{}) (cryptovault.EncryptedString, error)
	EncryptUserCredentialConfiguration(ctx context.Context, vault *cryptovault.CryptoCache, dekAlias string, raw map[string]interface{}) (cryptovault.EncryptedString, error)
}

// ResourceServerRotator is implemented by sources that can refresh the
// resource-server credential on a schedule (e.g. a client secret).
type ResourceServerRotator interface {
	RotateResourceServerCredential(ctx context.Context, vault *cryptovault.CryptoCache, dekAlias string, current cryptovault.EncryptedString) (cryptovault.EncryptedString, error)
}

// UserCredentialRotator is implemented by sources that can refresh the
// user credential (e.g. an OAuth refresh-token exchange).
type UserCredentialRotator interface {
	RotateUserCredential(ctx context.Context, vault *cryptovault.CryptoCache, dekAlias string, current cryptovault.EncryptedString) (cryptovault.EncryptedString, error)
}

// ScheduledRotator is implemented by sources whose rotation the background
// scheduler should drive automatically, rather than only on demand.
type ScheduledRotator interface {
	NextRotationTime(triple CredentialTriple) (time.Time, bool)
}

// Broker is implemented by OAuth-flow sources that can exchange an
// authorization code or bearer assertion for a user credential.
type Broker interface {
	BrokerUserCredential(ctx context.Context, authCodeOrAssertion string) (map[string]interface{}, error)
}

// decryptedCredential is the plaintext shape a resource-server or user
// credential decrypts to: a bearer access token, per spec.md §4.3, plus the
// refresh token an OAuth2 user credential carries.
type decryptedCredential struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// encryptJSON is the shared encrypt helper every concrete Source uses:
// marshal raw to JSON and seal it under dekAlias's current DEK.
func encryptJSON(ctx context.Context, vault *cryptovault.CryptoCache, dekAlias string, raw map[string]interface{}) (cryptovault.EncryptedString, error) {
	if len(raw) == 0 {
		return "", nil
	}
	body, err := json.Marshal(raw)
	if err != nil {
		return "", errors.Wrap(errors.KindInternal, "marshal credential configuration", err)
	}
	return vault.EncryptionServiceFor(dekAlias).EncryptData(ctx, body)
}

// decryptJSON reverses encryptJSON, returning the decrypted bearer
// credential. An empty EncryptedString (NoAuth's case) decodes to zero
// value with no error.
func decryptJSON(ctx context.Context, vault *cryptovault.CryptoCache, encrypted cryptovault.EncryptedString) (decryptedCredential, error) {
	if encrypted == "" {
		return decryptedCredential{}, nil
	}
	plaintext, err := vault.DecryptionService().DecryptData(ctx, encrypted)
	if err != nil {
		return decryptedCredential{}, err
	}
	var cred decryptedCredential
	if err := json.Unmarshal(plaintext, &cred); err != nil {
		return decryptedCredential{}, errors.Wrap(errors.KindInternal, "unmarshal decrypted credential", err)
	}
	return cred, nil
}
