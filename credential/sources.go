package credential

import (
	"context"

	"github.com/trysoma/soma-sub005/cryptovault"
	"github.com/trysoma/soma-sub005/infrastructure/errors"
)

// NoAuthSource requires no secrets: both encrypted parts are always empty
// and ToolInvoker passes through static configuration only.
type NoAuthSource struct{}

func (NoAuthSource) TypeID() VariantKind      { return VariantNoAuth }
func (NoAuthSource) Name() string             { return "No Authentication" }
func (NoAuthSource) Documentation() string {
	return "No credentials are required; only the static tool configuration is used."
}
func (NoAuthSource) ConfigurationSchema() map[string]interface{} { return map[string]interface{}{} }

func (NoAuthSource) EncryptResourceServerConfiguration(ctx context.Context, vault *cryptovault.CryptoCache, dekAlias string, raw map[string]interface{}) (cryptovault.EncryptedString, error) {
	return "", nil
}

func (NoAuthSource) EncryptUserCredentialConfiguration(ctx context.Context, vault *cryptovault.CryptoCache, dekAlias string, raw map[string]interface{}) (cryptovault.EncryptedString, error) {
	return "", nil
}

// ApiKeySource authenticates with a single static bearer key stored as the
// resource-server credential; the user credential is unused.
type ApiKeySource struct{}

func (ApiKeySource) TypeID() VariantKind { return VariantApiKey }
func (ApiKeySource) Name() string        { return "API Key" }
func (ApiKeySource) Documentation() string {
	return "A single API key is encrypted as the resource-server credential and sent as a bearer token."
}
func (ApiKeySource) ConfigurationSchema() map[string]interface{} {
	return map[string]interface{}{"access_token": "string"}
}

func (ApiKeySource) EncryptResourceServerConfiguration(ctx context.Context, vault *cryptovault.CryptoCache, dekAlias string, raw map[string]interface{}) (cryptovault.EncryptedString, error) {
	if _, ok := raw["access_token"]; !ok {
		return "", errors.InvalidParams("api_key configuration requires access_token")
	}
	return encryptJSON(ctx, vault, dekAlias, raw)
}

func (ApiKeySource) EncryptUserCredentialConfiguration(ctx context.Context, vault *cryptovault.CryptoCache, dekAlias string, raw map[string]interface{}) (cryptovault.EncryptedString, error) {
	return "", nil
}

// ApiKeySource implements neither ResourceServerRotator nor
// UserCredentialRotator, so the scheduler never rotates it; a new key
// replaces the stored one only through Registry.UpdateTriple.

// Oauth2AuthorizationCodeFlowSource exchanges an authorization code (via
// Broker) for a user credential carrying an access (and refresh) token;
// the resource-server credential holds the client id/secret used to talk
// to the IdP's token endpoint.
type Oauth2AuthorizationCodeFlowSource struct {
	// Exchange performs the authorization_code -> token exchange against
	// the configured IdP. Injected so tests can stub the network call.
	Exchange func(ctx context.Context, authCode string) (accessToken, refreshToken string, err error)
	// Refresh performs a refresh_token -> access_token exchange.
	Refresh func(ctx context.Context, refreshToken string) (accessToken string, err error)
}

func (Oauth2AuthorizationCodeFlowSource) TypeID() VariantKind { return VariantOauth2AuthorizationCodeFlow }
func (Oauth2AuthorizationCodeFlowSource) Name() string        { return "OAuth2 Authorization Code" }
func (Oauth2AuthorizationCodeFlowSource) Documentation() string {
	return "Brokers an authorization code for a user access/refresh token pair against the configured IdP."
}
func (Oauth2AuthorizationCodeFlowSource) ConfigurationSchema() map[string]interface{} {
	return map[string]interface{}{"client_id": "string", "client_secret": "string"}
}

func (Oauth2AuthorizationCodeFlowSource) EncryptResourceServerConfiguration(ctx context.Context, vault *cryptovault.CryptoCache, dekAlias string, raw map[string]interface{}) (cryptovault.EncryptedString, error) {
	return encryptJSON(ctx, vault, dekAlias, raw)
}

func (Oauth2AuthorizationCodeFlowSource) EncryptUserCredentialConfiguration(ctx context.Context, vault *cryptovault.CryptoCache, dekAlias string, raw map[string]interface{}) (cryptovault.EncryptedString, error) {
	return encryptJSON(ctx, vault, dekAlias, raw)
}

func (s Oauth2AuthorizationCodeFlowSource) BrokerUserCredential(ctx context.Context, authCode string) (map[string]interface{}, error) {
	if s.Exchange == nil {
		return nil, errors.Internal("oauth2 authorization code exchange not configured", nil)
	}
	access, refresh, err := s.Exchange(ctx, authCode)
	if err != nil {
		return nil, errors.Wrap(errors.KindInternal, "exchange authorization code", err)
	}
	out := map[string]interface{}{"access_token": access}
	if refresh != "" {
		out["refresh_token"] = refresh
	}
	return out, nil
}

func (s Oauth2AuthorizationCodeFlowSource) RotateUserCredential(ctx context.Context, vault *cryptovault.CryptoCache, dekAlias string, current cryptovault.EncryptedString) (cryptovault.EncryptedString, error) {
	if s.Refresh == nil {
		return current, errors.Internal("oauth2 refresh not configured", nil)
	}
	cred, err := decryptJSON(ctx, vault, current)
	if err != nil {
		return current, err
	}
	newAccess, err := s.Refresh(ctx, cred.RefreshToken)
	if err != nil {
		return current, errors.Wrap(errors.KindInternal, "refresh user credential", err)
	}
	out := map[string]interface{}{"access_token": newAccess}
	if cred.RefreshToken != "" {
		out["refresh_token"] = cred.RefreshToken
	}
	return encryptJSON(ctx, vault, dekAlias, out)
}

// Oauth2JwtBearerAssertionSource exchanges a signed JWT assertion for a
// user credential; structurally identical to the authorization-code flow
// from ToolInvoker's point of view (both decrypt to {access_token}).
type Oauth2JwtBearerAssertionSource struct {
	Exchange func(ctx context.Context, assertion string) (accessToken string, err error)
}

func (Oauth2JwtBearerAssertionSource) TypeID() VariantKind { return VariantOauth2JwtBearerAssertion }
func (Oauth2JwtBearerAssertionSource) Name() string        { return "OAuth2 JWT Bearer Assertion" }
func (Oauth2JwtBearerAssertionSource) Documentation() string {
	return "Brokers a signed JWT assertion for a user access token against the configured IdP."
}
func (Oauth2JwtBearerAssertionSource) ConfigurationSchema() map[string]interface{} {
	return map[string]interface{}{"assertion_signing_key": "string"}
}

func (Oauth2JwtBearerAssertionSource) EncryptResourceServerConfiguration(ctx context.Context, vault *cryptovault.CryptoCache, dekAlias string, raw map[string]interface{}) (cryptovault.EncryptedString, error) {
	return encryptJSON(ctx, vault, dekAlias, raw)
}

func (Oauth2JwtBearerAssertionSource) EncryptUserCredentialConfiguration(ctx context.Context, vault *cryptovault.CryptoCache, dekAlias string, raw map[string]interface{}) (cryptovault.EncryptedString, error) {
	return encryptJSON(ctx, vault, dekAlias, raw)
}

func (s Oauth2JwtBearerAssertionSource) BrokerUserCredential(ctx context.Context, assertion string) (map[string]interface{}, error) {
	if s.Exchange == nil {
		return nil, errors.Internal("oauth2 jwt bearer exchange not configured", nil)
	}
	access, err := s.Exchange(ctx, assertion)
	if err != nil {
		return nil, errors.Wrap(errors.KindInternal, "exchange jwt bearer assertion", err)
	}
	return map[string]interface{}{"access_token": access}, nil
}
