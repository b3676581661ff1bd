package identity

import (
	"strings"

	"github.com/trysoma/soma-sub005/infrastructure/errors"
)

// StandardizeGroup normalizes a raw group name: ASCII-alphanumeric
// characters are kept and lowercased; '_', '-', and ' ' all collapse to a
// single '-'; any other character is dropped entirely (not replaced).
// Consecutive dashes collapse to one, and leading/trailing dashes are
// trimmed. StandardizeGroup is idempotent: standardizing an already
// standardized name returns it unchanged.
func StandardizeGroup(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, c := range name {
		switch {
		case c >= 'a' && c <= 'z' || c >= '0' && c <= '9':
			b.WriteRune(c)
		case c >= 'A' && c <= 'Z':
			b.WriteRune(c - 'A' + 'a')
		case c == '_' || c == '-' || c == ' ':
			b.WriteByte('-')
		}
	}

	kept := b.String()
	collapsed := make([]byte, 0, len(kept))
	lastDash := false
	for i := 0; i < len(kept); i++ {
		c := kept[i]
		if c == '-' {
			if !lastDash {
				collapsed = append(collapsed, c)
			}
			lastDash = true
		} else {
			collapsed = append(collapsed, c)
			lastDash = false
		}
	}
	return strings.Trim(string(collapsed), "-")
}

func resolveSource(sources DecodedTokenSources, src MappingSource) (interface{}, bool) {
	var surface map[string]interface{}
	switch src.Kind {
	case MappingSourceIDToken:
		surface = sources.IDToken
	case MappingSourceUserinfo:
		surface = sources.Userinfo
	case MappingSourceAccessToken:
		surface = sources.AccessToken
	}
	if surface == nil {
		return nil, false
	}
	v, ok := surface[src.Field]
	return v, ok
}

// extractStringField resolves a required string field, failing if it is
// absent or not a JSON string.
func extractStringField(sources DecodedTokenSources, src MappingSource) (string, error) {
	v, ok := resolveSource(sources, src)
	if !ok {
		return "", errors.Authentication("required mapping field missing: " + src.Field)
	}
	s, ok := v.(string)
	if !ok {
		return "", errors.Authentication("required mapping field is not a string: " + src.Field)
	}
	return s, nil
}

// extractOptionalStringField resolves an optional string field, returning
// ("", false) on any failure rather than an error.
func extractOptionalStringField(sources DecodedTokenSources, src *MappingSource) (string, bool) {
	if src == nil {
		return "", false
	}
	v, ok := resolveSource(sources, *src)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	return s, true
}

// extractGroups resolves the groups field: an array is standardized
// element-wise (dropping entries that become empty); a single string is
// standardized as one group (dropped if empty); anything else yields none.
// The result is deduplicated, preserving first-seen order.
func extractGroups(sources DecodedTokenSources, src *MappingSource) []string {
	if src == nil {
		return nil
	}
	v, ok := resolveSource(sources, *src)
	if !ok {
		return nil
	}

	var raw []string
	switch val := v.(type) {
	case []interface{}:
		for _, item := range val {
			if s, ok := item.(string); ok {
				if std := StandardizeGroup(s); std != "" {
					raw = append(raw, std)
				}
			}
		}
	case string:
		if std := StandardizeGroup(val); std != "" {
			raw = append(raw, std)
		}
	}

	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, g := range raw {
		if _, dup := seen[g]; dup {
			continue
		}
		seen[g] = struct{}{}
		out = append(out, g)
	}
	return out
}

// extractScopes resolves the scopes field: an array is collected as-is
// (not standardized); a single string is split on whitespace, matching the
// OAuth2 space-separated scopes convention; anything else yields none.
func extractScopes(sources DecodedTokenSources, src *MappingSource) []string {
	if src == nil {
		return nil
	}
	v, ok := resolveSource(sources, *src)
	if !ok {
		return nil
	}

	switch val := v.(type) {
	case []interface{}:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		return strings.Fields(val)
	default:
		return nil
	}
}

func containsString(items []string, target string) bool {
	for _, s := range items {
		if s == target {
			return true
		}
	}
	return false
}

// mapScopesToGroups appends the standardized group of every mapping whose
// scope is present in scopes, skipping groups already present, in mapping
// order. It mutates and returns the updated slice.
func mapScopesToGroups(groups []string, scopes []string, mappings []ScopeToGroupMapping) []string {
	for _, m := range mappings {
		if !containsString(scopes, m.Scope) {
			continue
		}
		std := StandardizeGroup(m.Group)
		if std == "" || containsString(groups, std) {
			continue
		}
		groups = append(groups, std)
	}
	return groups
}

// determineRoleFromScopes returns the role of the first mapping (in
// configured order) whose scope is present in scopes.
func determineRoleFromScopes(scopes []string, mappings []ScopeToRoleMapping) (Role, bool) {
	for _, m := range mappings {
		if containsString(scopes, m.Scope) {
			return m.Role, true
		}
	}
	return "", false
}

// determineRoleFromGroups returns the role of the first mapping (in
// configured order) whose standardized group is present in groups,
// defaulting to RoleUser if nothing matches.
func determineRoleFromGroups(groups []string, mappings []GroupToRoleMapping) Role {
	for _, m := range mappings {
		if containsString(groups, StandardizeGroup(m.Group)) {
			return m.Role
		}
	}
	return RoleUser
}

// ApplyMappingTemplate derives a NormalizedMappingResult from validated
// token claim sources per cfg: extract subject (required) and email
// (optional), extract and standardize groups, extract scopes, fold
// scope-to-group mappings into the group list, then resolve role by
// scope-to-role mapping (first match) falling back to group-to-role
// mapping (first match, else RoleUser).
func ApplyMappingTemplate(sources DecodedTokenSources, cfg JwtTokenMappingConfig) (NormalizedMappingResult, error) {
	subject, err := extractStringField(sources, cfg.SubField)
	if err != nil {
		return NormalizedMappingResult{}, err
	}
	email, _ := extractOptionalStringField(sources, cfg.EmailField)

	groups := extractGroups(sources, cfg.GroupsField)
	scopes := extractScopes(sources, cfg.ScopesField)
	groups = mapScopesToGroups(groups, scopes, cfg.ScopeToGroupMappings)

	role, ok := determineRoleFromScopes(scopes, cfg.ScopeToRoleMappings)
	if !ok {
		role = determineRoleFromGroups(groups, cfg.GroupToRoleMappings)
	}

	return NormalizedMappingResult{
		Subject: subject,
		Email:   email,
		Groups:  groups,
		Scopes:  scopes,
		Role:    role,
	}, nil
}
