package identity

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/trysoma/soma-sub005/infrastructure/errors"
)

// stsConfigFile is the on-disk YAML shape operators author one STSConfig
// per registered external IdP in. It is deliberately flatter than STSConfig
// itself so the file stays readable; LoadSTSConfigsFromYAML expands it.
type stsConfigFile struct {
	Configs []stsConfigEntry `yaml:"configs"`
}

type stsConfigEntry struct {
	ID       string `yaml:"id"`
	DevMode  bool   `yaml:"dev_mode"`
	DevUser  string `yaml:"dev_subject"`
	DevEmail string `yaml:"dev_email"`
	DevRole  string `yaml:"dev_role"`

	Issuer          string   `yaml:"issuer"`
	Audiences       []string `yaml:"audiences"`
	RequiredScopes  []string `yaml:"required_scopes"`
	RequiredGroups  []string `yaml:"required_groups"`
	IdPDiscoveryURL string   `yaml:"idp_discovery_url"`

	Mapping struct {
		SubField    mappingSourceEntry  `yaml:"sub_field"`
		EmailField  *mappingSourceEntry `yaml:"email_field"`
		GroupsField *mappingSourceEntry `yaml:"groups_field"`
		ScopesField *mappingSourceEntry `yaml:"scopes_field"`

		ScopeToGroups []struct {
			Scope string `yaml:"scope"`
			Group string `yaml:"group"`
		} `yaml:"scope_to_groups"`
		ScopeToRoles []struct {
			Scope string `yaml:"scope"`
			Role  string `yaml:"role"`
		} `yaml:"scope_to_roles"`
		GroupToRoles []struct {
			Group string `yaml:"group"`
			Role  string `yaml:"role"`
		} `yaml:"group_to_roles"`
	} `yaml:"mapping"`
}

type mappingSourceEntry struct {
	Kind  string `yaml:"kind"`
	Field string `yaml:"field"`
}

func (e mappingSourceEntry) toMappingSource() MappingSource {
	return MappingSource{Kind: MappingSourceKind(e.Kind), Field: e.Field}
}

// LoadSTSConfigsFromYAML parses a YAML document of externally-issued IdP
// definitions (one per registered STSConfig.ID) into STSConfig values ready
// to hand to a Repository's PutSTSConfig. This is how an operator
// provisions which external identity providers this deployment trusts; it
// is not the general application-configuration loading this system leaves
// out of scope.
func LoadSTSConfigsFromYAML(data []byte) ([]STSConfig, error) {
	var file stsConfigFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, errors.Wrap(errors.KindInvalidParams, "parse sts config yaml", err)
	}

	configs := make([]STSConfig, 0, len(file.Configs))
	for _, entry := range file.Configs {
		if entry.ID == "" {
			return nil, errors.InvalidParams("sts config entry missing id")
		}

		if entry.DevMode {
			configs = append(configs, STSConfig{
				ID:   entry.ID,
				Kind: STSConfigDevMode,
				DevModeIdentity: &Human{
					Subject: entry.DevUser,
					Email:   entry.DevEmail,
					Role:    Role(entry.DevRole),
				},
			})
			continue
		}

		cfg := STSConfig{
			ID:   entry.ID,
			Kind: STSConfigJwtTemplate,
			Validation: STSValidationParams{
				Issuer:          entry.Issuer,
				Audiences:       entry.Audiences,
				RequiredScopes:  entry.RequiredScopes,
				RequiredGroups:  entry.RequiredGroups,
				IdPDiscoveryURL: entry.IdPDiscoveryURL,
			},
			Mapping: JwtTokenMappingConfig{
				SubField: entry.Mapping.SubField.toMappingSource(),
			},
		}
		if entry.Mapping.EmailField != nil {
			f := entry.Mapping.EmailField.toMappingSource()
			cfg.Mapping.EmailField = &f
		}
		if entry.Mapping.GroupsField != nil {
			f := entry.Mapping.GroupsField.toMappingSource()
			cfg.Mapping.GroupsField = &f
		}
		if entry.Mapping.ScopesField != nil {
			f := entry.Mapping.ScopesField.toMappingSource()
			cfg.Mapping.ScopesField = &f
		}
		for _, m := range entry.Mapping.ScopeToGroups {
			cfg.Mapping.ScopeToGroupMappings = append(cfg.Mapping.ScopeToGroupMappings, ScopeToGroupMapping{Scope: m.Scope, Group: m.Group})
		}
		for _, m := range entry.Mapping.ScopeToRoles {
			cfg.Mapping.ScopeToRoleMappings = append(cfg.Mapping.ScopeToRoleMappings, ScopeToRoleMapping{Scope: m.Scope, Role: Role(m.Role)})
		}
		for _, m := range entry.Mapping.GroupToRoles {
			cfg.Mapping.GroupToRoleMappings = append(cfg.Mapping.GroupToRoleMappings, GroupToRoleMapping{Group: m.Group, Role: Role(m.Role)})
		}

		if entry.Issuer == "" {
			return nil, errors.InvalidParams(fmt.Sprintf("sts config %q missing issuer", entry.ID))
		}
		configs = append(configs, cfg)
	}
	return configs, nil
}
