// Package authz holds the console's role based authorization policy and the
// route guard that applies it.
//
// There is exactly one table mapping roles to permitted resources. The route
// guard and menu rendering both read it, so nothing is ever offered in a
// menu that the guard would then refuse. Unknown roles and unknown resources
// are denied.
package authz

import (
	"slices"
	"sort"
)

// Role is a provider supplied role tag. The set is open.
type Role string

const (
	RoleSuperuser Role = "superuser" // Tenant owner, manages users
	RoleAdmin     Role = "admin"     // Manages the knowledge base
	RoleAssistant Role = "assistant" // Reads the knowledge base and queries
	RoleViewer    Role = "viewer"    // Read-only; the provider's default role
	RoleAnalyser  Role = "analyser"  // No read access to tenant content
)

// Resource identifies a protected console surface.
type Resource string

const (
	ResourceDashboard          Resource = "dashboard"
	ResourceKnowledgeBase      Resource = "knowledge-base"
	ResourceUpload             Resource = "upload"
	ResourceText               Resource = "text"
	ResourceBatch              Resource = "batch"
	ResourceArchive            Resource = "archive"
	ResourceQueries            Resource = "queries"
	ResourceSystemInstructions Resource = "system-instructions"
	ResourceUserSettings       Resource = "user-settings"
	ResourceUsers              Resource = "users"
)

// Policy maps roles to the resources they may access. A Policy never
// changes after construction and is safe for concurrent use.
type Policy struct {
	grants map[Role]map[Resource]struct{}
}

// NewPolicy copies grants into a Policy.
func NewPolicy(grants map[Role][]Resource) *Policy {
	p := &Policy{grants: make(map[Role]map[Resource]struct{}, len(grants))}
	for role, resources := range grants {
		set := make(map[Resource]struct{}, len(resources))
		for _, r := range resources {
			set[r] = struct{}{}
		}
		p.grants[role] = set
	}
	return p
}

// DefaultPolicy returns the built-in role table.
func DefaultPolicy() *Policy {
	adminResources := []Resource{
		ResourceDashboard,
		ResourceKnowledgeBase,
		ResourceUpload,
		ResourceText,
		ResourceBatch,
		ResourceArchive,
		ResourceQueries,
		ResourceSystemInstructions,
		ResourceUserSettings,
	}

	return NewPolicy(map[Role][]Resource{
		RoleSuperuser: append(slices.Clone(adminResources), ResourceUsers),
		RoleAdmin:     adminResources,
		RoleAssistant: {
			ResourceDashboard,
			ResourceKnowledgeBase,
			ResourceQueries,
			ResourceUserSettings,
		},
		// The provider grants viewers every read endpoint but no writes, so
		// upload and user management stay hidden.
		RoleViewer: {
			ResourceDashboard,
			ResourceKnowledgeBase,
			ResourceText,
			ResourceBatch,
			ResourceArchive,
			ResourceSystemInstructions,
			ResourceQueries,
			ResourceUserSettings,
		},
		// Analysers are refused by every read endpoint; only their own
		// account settings remain.
		RoleAnalyser: {
			ResourceUserSettings,
		},
	})
}

// Allows reports whether role may access resource. It is a pure function of
// its arguments.
func (p *Policy) Allows(role Role, resource Resource) bool {
	if p == nil {
		return false
	}
	_, ok := p.grants[role][resource]
	return ok
}

// Visible filters candidates down to those role may access, keeping order.
func (p *Policy) Visible(role Role, candidates []Resource) []Resource {
	var out []Resource
	for _, r := range candidates {
		if p.Allows(role, r) {
			out = append(out, r)
		}
	}
	return out
}

// Roles lists the roles with at least one grant table entry, sorted.
func (p *Policy) Roles() []Role {
	if p == nil {
		return nil
	}
	roles := make([]Role, 0, len(p.grants))
	for r := range p.grants {
		roles = append(roles, r)
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i] < roles[j] })
	return roles
}

// Resources lists what role may access, sorted.
func (p *Policy) Resources(role Role) []Resource {
	if p == nil {
		return nil
	}
	out := make([]Resource, 0, len(p.grants[role]))
	for r := range p.grants[role] {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
