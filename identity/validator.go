package identity

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/trysoma/soma-sub005/infrastructure/errors"
	"github.com/trysoma/soma-sub005/infrastructure/security"
)

// replayWindow bounds how long a validated external token's jti is
// remembered for replay rejection.
const replayWindow = 5 * time.Minute

// ExternalTokenSet bundles the raw token material an IdentityValidator may
// need: the ID token is always verified; the access token and userinfo
// document are optional and only consulted if the STSConfig's mapping
// template names a MappingSource against them.
type ExternalTokenSet struct {
	IDToken          string
	RawAccessToken   string
	UserinfoDocument map[string]interface{}
}

// IdentityValidator validates external IdP tokens against an STSConfig and
// applies its mapping template to produce a normalized Human.
type IdentityValidator struct {
	jwks   *JWKSCache
	replay *security.ReplayProtection
}

// NewIdentityValidator builds an IdentityValidator backed by jwks. Tokens
// carrying a jti claim are tracked for replayWindow and rejected on reuse.
func NewIdentityValidator(jwks *JWKSCache) *IdentityValidator {
	return &IdentityValidator{
		jwks:   jwks,
		replay: security.NewReplayProtection(replayWindow, nil),
	}
}

// Validate runs the external JWT validation pipeline against cfg and
// returns the normalized identity.
//
//  1. Decode the ID token header to obtain kid; fail with Authentication if
//     absent.
//  2. Resolve kid against cfg's IdP JWKS (cached with TTL, refetched on
//     miss).
//  3. Verify the signature with RS256.
//  4. Enforce issuer and audience; enforce required scopes/groups if
//     configured.
//  5. Apply the mapping template to produce a normalized Human.
func (v *IdentityValidator) Validate(ctx context.Context, cfg STSConfig, tokens ExternalTokenSet) (Human, error) {
	if cfg.Kind == STSConfigDevMode {
		if cfg.DevModeIdentity == nil {
			return Human{}, errors.Internal("dev mode STSConfig has no fixed identity", nil)
		}
		return *cfg.DevModeIdentity, nil
	}

	unverified, _, err := jwt.NewParser().ParseUnverified(tokens.IDToken, jwt.MapClaims{})
	if err != nil {
		return Human{}, errors.AuthenticationWrap("decode external token header", err)
	}
	kid, ok := unverified.Header["kid"].(string)
	if !ok || kid == "" {
		return Human{}, errors.Authentication("external token header missing kid")
	}

	idClaims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(tokens.IDToken, idClaims, func(tok *jwt.Token) (interface{}, error) {
		return v.jwks.PublicKey(ctx, cfg.Validation.IdPDiscoveryURL, kid)
	}, jwt.WithValidMethods([]string{"RS256"}), jwt.WithIssuer(cfg.Validation.Issuer))
	if err != nil {
		return Human{}, errors.AuthenticationWrap("validate external token", err)
	}
	if !parsed.Valid {
		return Human{}, errors.Authentication("external token failed validation")
	}
	if len(cfg.Validation.Audiences) > 0 && !audienceMatches(idClaims, cfg.Validation.Audiences) {
		return Human{}, errors.Authentication("external token audience not accepted")
	}

	if jti, ok := idClaims["jti"].(string); ok && jti != "" {
		if !v.replay.ValidateAndMark(jti) {
			return Human{}, errors.Authentication("external token already used (replay detected)")
		}
	}

	var accessClaims jwt.MapClaims
	if tokens.RawAccessToken != "" {
		accessClaims = jwt.MapClaims{}
		if _, _, err := jwt.NewParser().ParseUnverified(tokens.RawAccessToken, accessClaims); err != nil {
			accessClaims = nil
		}
	}

	sources := DecodedTokenSources{
		IDToken:     map[string]interface{}(idClaims),
		Userinfo:    tokens.UserinfoDocument,
		AccessToken: map[string]interface{}(accessClaims),
	}

	normalized, err := ApplyMappingTemplate(sources, cfg.Mapping)
	if err != nil {
		return Human{}, err
	}

	if len(cfg.Validation.RequiredScopes) > 0 && !anyPresent(normalized.Scopes, cfg.Validation.RequiredScopes) {
		return Human{}, errors.Authorization("external token missing a required scope")
	}
	if len(cfg.Validation.RequiredGroups) > 0 && !anyPresent(normalized.Groups, cfg.Validation.RequiredGroups) {
		return Human{}, errors.Authorization("external token missing a required group")
	}

	return Human{
		Subject: normalized.Subject,
		Email:   normalized.Email,
		Groups:  normalized.Groups,
		Role:    normalized.Role,
	}, nil
}

func audienceMatches(claims jwt.MapClaims, allowed []string) bool {
	aud, err := claims.GetAudience()
	if err != nil {
		return false
	}
	for _, a := range aud {
		if containsString(allowed, a) {
			return true
		}
	}
	return false
}

func anyPresent(have []string, required []string) bool {
	for _, r := range required {
		if containsString(have, r) {
			return true
		}
	}
	return false
}
