// Package identity implements external token validation, the normalized
// mapping template, and internal access/refresh token issuance described in
// the token exchange core.
package identity

import "time"

// Role is the permission level assigned to an identity.
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleMaintainer Role = "maintainer"
	RoleAgent      Role = "agent"
	RoleUser       Role = "user"
)

// UserType distinguishes machine (API key) from human (token) callers.
type UserType string

const (
	UserTypeMachine UserType = "machine"
	UserTypeHuman   UserType = "human"
)

// Machine is an authenticated service/API-key identity.
type Machine struct {
	Subject string
	Role    Role
}

// Human is an authenticated end-user identity derived from an internal or
// external token after mapping.
type Human struct {
	Subject string
	Email   string
	Groups  []string
	Role    Role
}

// Identity is the caller of a request, after authentication. Exactly one of
// Machine, Human, or both (MachineOnBehalfOfHuman) is populated unless the
// request is unauthenticated.
type Identity struct {
	Machine *Machine
	Human   *Human
}

// Unauthenticated is the zero Identity.
func Unauthenticated() Identity { return Identity{} }

// IsAuthenticated reports whether either credential was established.
func (i Identity) IsAuthenticated() bool {
	return i.Machine != nil || i.Human != nil
}

// MachineOnBehalfOfHuman builds a combined identity: the effective role is
// the machine's, but the human's subject and groups are retained for
// authorization decisions that need them.
func MachineOnBehalfOfHuman(machine Machine, human Human) Identity {
	return Identity{Machine: &machine, Human: &human}
}

// EffectiveRole returns the role that authorization decisions should use:
// the machine's role when a machine credential is present (even combined
// with a human one), otherwise the human's.
func (i Identity) EffectiveRole() (Role, bool) {
	switch {
	case i.Machine != nil:
		return i.Machine.Role, true
	case i.Human != nil:
		return i.Human.Role, true
	default:
		return "", false
	}
}

// Subject returns the subject identifier associated with the identity,
// preferring the machine's when both are present.
func (i Identity) Subject() (string, bool) {
	switch {
	case i.Machine != nil:
		return i.Machine.Subject, true
	case i.Human != nil:
		return i.Human.Subject, true
	default:
		return "", false
	}
}

// MappingSourceKind names which part of the external token a field is
// drawn from.
type MappingSourceKind string

const (
	MappingSourceIDToken      MappingSourceKind = "id_token"
	MappingSourceUserinfo     MappingSourceKind = "userinfo"
	MappingSourceAccessToken  MappingSourceKind = "access_token"
)

// MappingSource names a field within one of the three token surfaces.
type MappingSource struct {
	Kind  MappingSourceKind
	Field string
}

// ScopeToGroupMapping adds a standardized group to the normalized result
// whenever its Scope is present among the extracted scopes.
type ScopeToGroupMapping struct {
	Scope string
	Group string
}

// ScopeToRoleMapping resolves a role whenever its Scope is present.
// Mappings are evaluated in slice order; the first match wins.
type ScopeToRoleMapping struct {
	Scope string
	Role  Role
}

// GroupToRoleMapping resolves a role whenever its (standardized) Group is
// present. Mappings are evaluated in slice order; the first match wins.
type GroupToRoleMapping struct {
	Group string
	Role  Role
}

// JwtTokenMappingConfig describes how to derive a normalized identity from
// a validated external JWT's claims.
type JwtTokenMappingConfig struct {
	SubField    MappingSource
	EmailField  *MappingSource
	GroupsField *MappingSource
	ScopesField *MappingSource

	ScopeToGroupMappings []ScopeToGroupMapping
	ScopeToRoleMappings  []ScopeToRoleMapping
	GroupToRoleMappings  []GroupToRoleMapping
}

// STSConfigKind tags the two STSConfig variants.
type STSConfigKind string

const (
	STSConfigJwtTemplate STSConfigKind = "jwt_template"
	STSConfigDevMode     STSConfigKind = "dev_mode"
)

// STSValidationParams constrains which externally-issued tokens are
// accepted.
type STSValidationParams struct {
	Issuer          string
	Audiences       []string
	RequiredScopes  []string
	RequiredGroups  []string
	IdPDiscoveryURL string
}

// STSConfig is exactly one of a JwtTemplate (real external IdP validation
// plus mapping) or DevMode (accepts a fixed, unsigned identity — local
// development only).
type STSConfig struct {
	ID   string
	Kind STSConfigKind

	Validation STSValidationParams
	Mapping    JwtTokenMappingConfig

	DevModeIdentity *Human
}

// NormalizedMappingResult is the output of applying a mapping template to a
// validated external token's claim sources.
type NormalizedMappingResult struct {
	Subject string
	Email   string
	Groups  []string
	Scopes  []string
	Role    Role
}

// DecodedTokenSources bundles the three JSON surfaces a MappingSource can
// draw from.
type DecodedTokenSources struct {
	AccessToken map[string]interface{}
	IDToken     map[string]interface{}
	Userinfo    map[string]interface{}
}

// JWKSigningKey is an internally-held asymmetric key used to sign internal
// access/refresh tokens. Exactly one non-invalidated, non-expired key may
// be selected for new signatures; invalidated keys remain valid for
// verification until ExpiresAt.
type JWKSigningKey struct {
	KID               string
	EncryptedPrivateKey string // envelope-encrypted PEM, keyed by DEKAlias
	PublicKeyPEM      string
	DEKAlias          string
	ExpiresAt         time.Time
	Invalidated       bool
}

// Usable reports whether the key may be used to sign new tokens.
func (k JWKSigningKey) Usable(now time.Time) bool {
	return !k.Invalidated && now.Before(k.ExpiresAt)
}

// VerifiableUntil reports whether the key may still verify previously
// issued signatures: invalidated keys remain verifiable until expiry.
func (k JWKSigningKey) VerifiableUntil(now time.Time) bool {
	return now.Before(k.ExpiresAt)
}
