package authz

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/felixgeelhaar/kbadmin/internal/errors"
)

// policyFile is the on-disk form of a Policy:
//
//	roles:
//	  superuser: [dashboard, knowledge-base, users]
//	  assistant: [dashboard]
type policyFile struct {
	Roles map[string][]string `yaml:"roles"`
}

// ParsePolicy decodes a YAML role table.
func ParsePolicy(data []byte) (*Policy, error) {
	var f policyFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrap(errors.ErrCodePolicyLoad, "failed to parse policy", err)
	}
	if len(f.Roles) == 0 {
		return nil, errors.New(errors.ErrCodePolicyLoad, "policy defines no roles")
	}

	grants := make(map[Role][]Resource, len(f.Roles))
	for role, resources := range f.Roles {
		role = strings.TrimSpace(role)
		if role == "" {
			return nil, errors.New(errors.ErrCodePolicyLoad, "policy contains an empty role name")
		}
		for _, r := range resources {
			if strings.TrimSpace(r) == "" {
				return nil, errors.New(errors.ErrCodePolicyLoad, fmt.Sprintf("role %q lists an empty resource", role))
			}
			grants[Role(role)] = append(grants[Role(role)], Resource(strings.TrimSpace(r)))
		}
		if _, ok := grants[Role(role)]; !ok {
			grants[Role(role)] = nil
		}
	}
	return NewPolicy(grants), nil
}

// LoadPolicyFile reads a YAML role table from path.
func LoadPolicyFile(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodePolicyLoad, "failed to read policy file", err).
			WithSuggestion("Check policy.file (KBADMIN_POLICY_FILE)")
	}
	return ParsePolicy(data)
}

// MarshalYAML renders the policy in file form.
func (p *Policy) MarshalYAML() (any, error) {
	f := policyFile{Roles: make(map[string][]string)}
	for _, role := range p.Roles() {
		resources := p.Resources(role)
		names := make([]string, len(resources))
		for i, r := range resources {
			names[i] = string(r)
		}
		f.Roles[string(role)] = names
	}
	return f, nil
}
