package health

import (
	"context"
	"fmt"

	"github.com/felixgeelhaar/kbadmin/internal/auth"
	"github.com/felixgeelhaar/kbadmin/internal/authz"
	"github.com/felixgeelhaar/kbadmin/internal/errors"
	"github.com/felixgeelhaar/kbadmin/internal/storage"
)

// ProbeOrgID is the organisation id the provider check asks about.
const ProbeOrgID = "kbadmin-doctor"

// OrgIDChecker is the anonymous provider call the provider check uses.
type OrgIDChecker interface {
	CheckOrgID(ctx context.Context, orgID string) (bool, error)
	BaseURL() string
}

// ProviderChecker verifies the identity provider answers and honours its
// response contract.
func ProviderChecker(client OrgIDChecker) Checker {
	return CheckFunc{CheckName: "identity-provider", Fn: func(ctx context.Context) *Result {
		_, err := client.CheckOrgID(ctx, ProbeOrgID)
		switch errors.CodeOf(err) {
		case "":
			if err != nil {
				return Unhealthy(err.Error()).WithDetail("url", client.BaseURL())
			}
			return Healthy("provider reachable").WithDetail("url", client.BaseURL())
		case errors.ErrCodeProviderUnreachable:
			return Unhealthy("provider unreachable").WithDetail("url", client.BaseURL()).WithDetail("error", err.Error())
		default:
			return Degraded("provider answered unexpectedly").WithDetail("url", client.BaseURL()).WithDetail("error", err.Error())
		}
	}}
}

const checkKey = "doctor-check"

// StorageChecker verifies a session tier accepts a write.
func StorageChecker(tier storage.Tier, backend storage.Backend) Checker {
	return CheckFunc{CheckName: tier.String() + "-tier", Fn: func(ctx context.Context) *Result {
		detail := func(r *Result) *Result {
			if fb, ok := backend.(*storage.FileBackend); ok {
				r.WithDetail("dir", fb.Dir())
			}
			return r
		}
		if err := backend.Put(checkKey, []byte("ok")); err != nil {
			return detail(Unhealthy(fmt.Sprintf("%s tier is not writable: %v", tier, err)))
		}
		if err := backend.Delete(checkKey); err != nil {
			return detail(Degraded(fmt.Sprintf("%s tier check key not removed: %v", tier, err)))
		}
		return detail(Healthy(tier.String() + " tier writable"))
	}}
}

// PolicyChecker flags role tables that lock a role out of everything.
func PolicyChecker(policy *authz.Policy) Checker {
	return CheckFunc{CheckName: "policy", Fn: func(ctx context.Context) *Result {
		roles := policy.Roles()
		if len(roles) == 0 {
			return Unhealthy("policy grants nothing; every navigation is denied")
		}

		var empty []string
		for _, role := range roles {
			if len(policy.Resources(role)) == 0 {
				empty = append(empty, string(role))
			}
		}
		if len(empty) > 0 {
			return Degraded("roles without any surface").WithDetail("roles", empty)
		}
		return Healthy(fmt.Sprintf("%d roles", len(roles)))
	}}
}

// SessionSource is the part of auth.Store the session check reads.
type SessionSource interface {
	Current() (auth.Session, bool)
	Remembered() bool
}

// SessionChecker reports whether this terminal session is signed in.
func SessionChecker(store SessionSource) Checker {
	return CheckFunc{CheckName: "session", Fn: func(ctx context.Context) *Result {
		sess, ok := store.Current()
		if !ok {
			return Degraded("not logged in")
		}
		r := Healthy("logged in as " + sess.Profile.DisplayName()).
			WithDetail("role", sess.Profile.Role).
			WithDetail("remembered", store.Remembered())
		if exp, ok := auth.TokenExpiry(sess.Token); ok {
			r.WithDetail("expires_at", exp)
		}
		return r
	}}
}
