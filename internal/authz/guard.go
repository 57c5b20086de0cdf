package authz

import (
	"context"
	"fmt"
	"strings"

	"github.com/felixgeelhaar/kbadmin/internal/auth"
	"github.com/felixgeelhaar/kbadmin/internal/errors"
	"github.com/felixgeelhaar/kbadmin/internal/log"
)

// Public surfaces the guard redirects to.
const (
	LoginPath        = "/login"
	UnauthorizedPath = "/unauthorized"
)

// Route binds a surface path to the resource that protects it.
type Route struct {
	Path     string
	Resource Resource
	Title    string
}

// DefaultRoutes lists the protected console surfaces in menu order.
func DefaultRoutes() []Route {
	return []Route{
		{Path: "/dashboard", Resource: ResourceDashboard, Title: "Dashboard"},
		{Path: "/kb", Resource: ResourceKnowledgeBase, Title: "Knowledge base"},
		{Path: "/kb/upload", Resource: ResourceUpload, Title: "Upload documents"},
		{Path: "/kb/text", Resource: ResourceText, Title: "Add text"},
		{Path: "/kb/batch", Resource: ResourceBatch, Title: "Batch import"},
		{Path: "/archive", Resource: ResourceArchive, Title: "Archive"},
		{Path: "/queries", Resource: ResourceQueries, Title: "Bot queries"},
		{Path: "/system-instructions", Resource: ResourceSystemInstructions, Title: "System instructions"},
		{Path: "/settings", Resource: ResourceUserSettings, Title: "Settings"},
		{Path: "/users", Resource: ResourceUsers, Title: "Users"},
	}
}

// Outcome is the verdict of a navigation check.
type Outcome int

const (
	// OutcomePending means the session store has not finished loading.
	OutcomePending Outcome = iota
	OutcomeAllow
	// OutcomeLogin redirects to the login surface.
	OutcomeLogin
	// OutcomeUnauthorized redirects to the unauthorized surface: the user is
	// known but the role does not permit the resource.
	OutcomeUnauthorized
	OutcomeNotFound
)

// String returns the outcome name.
func (o Outcome) String() string {
	switch o {
	case OutcomePending:
		return "pending"
	case OutcomeAllow:
		return "allow"
	case OutcomeLogin:
		return "login"
	case OutcomeUnauthorized:
		return "unauthorized"
	case OutcomeNotFound:
		return "not-found"
	default:
		return "unknown"
	}
}

// Decision is the result of Guard.Check.
type Decision struct {
	Outcome  Outcome
	Path     string
	Resource Resource
	Role     Role
	// Redirect is the surface to show instead, empty for allow and pending.
	Redirect string
}

// Allowed reports whether the requested surface may be shown.
func (d Decision) Allowed() bool {
	return d.Outcome == OutcomeAllow
}

// Err describes a refusal as a coded error, nil when allowed.
func (d Decision) Err() error {
	switch d.Outcome {
	case OutcomeAllow:
		return nil
	case OutcomeLogin:
		return errors.NewNotAuthenticatedError()
	case OutcomeUnauthorized:
		return errors.NewPolicyDeniedError(string(d.Role), string(d.Resource))
	case OutcomeNotFound:
		return errors.New(errors.ErrCodeRouteNotFound, fmt.Sprintf("no such surface: %s", d.Path))
	default:
		return errors.New(errors.ErrCodeNotAuthenticated, "session is still loading")
	}
}

// SessionSource is the part of auth.Store the guard reads.
type SessionSource interface {
	Current() (auth.Session, bool)
	Loading() bool
	Ready() <-chan struct{}
}

// Guard decides every navigation to a protected surface.
type Guard struct {
	policy   *Policy
	routes   []Route
	byPath   map[string]Route
	sessions SessionSource
	logger   *log.Logger
}

// NewGuard creates a guard over routes. A nil policy denies everything.
func NewGuard(policy *Policy, routes []Route, sessions SessionSource, logger *log.Logger) *Guard {
	if logger == nil {
		logger = log.Nop()
	}
	g := &Guard{
		policy:   policy,
		routes:   append([]Route(nil), routes...),
		byPath:   make(map[string]Route, len(routes)),
		sessions: sessions,
		logger:   logger.Component("guard"),
	}
	for _, r := range g.routes {
		g.byPath[NormalizePath(r.Path)] = r
	}
	return g
}

// Policy returns the policy the guard enforces.
func (g *Guard) Policy() *Policy {
	return g.policy
}

// NormalizePath turns "KB/upload/" into "/kb/upload".
func NormalizePath(path string) string {
	path = strings.ToLower(strings.TrimSpace(path))
	path = strings.TrimRight(path, "/")
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return path
}

// Resolve returns the route serving path.
func (g *Guard) Resolve(path string) (Route, bool) {
	r, ok := g.byPath[NormalizePath(path)]
	return r, ok
}

// Check decides a navigation to path: login when unauthenticated, then
// unauthorized when the role does not grant the route's resource.
func (g *Guard) Check(path string) Decision {
	d := Decision{Path: NormalizePath(path)}

	if g.sessions.Loading() {
		d.Outcome = OutcomePending
		return d
	}

	sess, ok := g.sessions.Current()
	if !ok {
		d.Outcome = OutcomeLogin
		d.Redirect = LoginPath
		return d
	}
	d.Role = Role(sess.Profile.Role)

	route, ok := g.byPath[d.Path]
	if !ok {
		d.Outcome = OutcomeNotFound
		return d
	}
	d.Resource = route.Resource

	if !g.policy.Allows(d.Role, route.Resource) {
		g.logger.Debug("navigation denied", "role", string(d.Role), "resource", string(route.Resource))
		d.Outcome = OutcomeUnauthorized
		d.Redirect = UnauthorizedPath
		return d
	}

	d.Outcome = OutcomeAllow
	return d
}

// Await waits for the session store to settle and then checks path.
func (g *Guard) Await(ctx context.Context, path string) (Decision, error) {
	select {
	case <-g.sessions.Ready():
		return g.Check(path), nil
	case <-ctx.Done():
		return Decision{Path: NormalizePath(path), Outcome: OutcomePending}, ctx.Err()
	}
}

// Menu returns the routes role may navigate to, in route order.
func (g *Guard) Menu(role Role) []Route {
	var items []Route
	for _, r := range g.routes {
		if g.policy.Allows(role, r.Resource) {
			items = append(items, r)
		}
	}
	return items
}

// Routes returns every known route.
func (g *Guard) Routes() []Route {
	return append([]Route(nil), g.routes...)
}
