// Package session defines the session model shared by every lifecycle
// component: persisted key names, public routes, and role resolution.
package session

import (
	"strings"

	"github.com/vinayprograms/sessionkit/store"
)

// Persisted session store keys.
const (
	KeyToken      = "token"
	KeyUser       = "user"
	KeyAdminToken = "adminToken"
	KeyAdminUser  = "adminUser"
	KeyIsAdmin    = "isAdmin"

	// KeySettingsUpdated is written only to signal other tabs that the
	// system settings changed. Its value is a millisecond timestamp.
	KeySettingsUpdated = "settingsUpdatedAt"
)

// AdminKeys are cleared when an admin session ends.
var AdminKeys = []string{KeyAdminToken, KeyAdminUser, KeyIsAdmin}

// UserKeys are cleared when a standard session ends.
var UserKeys = []string{KeyToken, KeyUser}

// Role identifies whose token governs the current route.
type Role int

const (
	// RoleNone means no tracked session applies.
	RoleNone Role = iota
	// RoleStandard is a regular user session.
	RoleStandard
	// RoleAdmin is an administrator session.
	RoleAdmin
)

// String returns the role name.
func (r Role) String() string {
	switch r {
	case RoleAdmin:
		return "admin"
	case RoleStandard:
		return "standard"
	default:
		return "none"
	}
}

// Session is the per-tab view of the active session.
type Session struct {
	Role  Role
	Token string
	Route string
}

// Default route configuration.
const (
	LandingRoute    = "/"
	AdminLoginRoute = "/admin/login"
	adminPrefix     = "/admin"
)

// DefaultPublicRoutes lists paths that never require session tracking.
var DefaultPublicRoutes = []string{
	LandingRoute,
	"/login",
	"/signup",
	"/forgot-password",
	AdminLoginRoute,
}

// RouteSet is an immutable set of public routes.
type RouteSet struct {
	routes map[string]struct{}
}

// NewRouteSet builds a RouteSet. Trailing slashes are ignored.
func NewRouteSet(routes ...string) RouteSet {
	rs := RouteSet{routes: make(map[string]struct{}, len(routes))}
	for _, r := range routes {
		rs.routes[normalize(r)] = struct{}{}
	}
	return rs
}

// DefaultRouteSet returns the set built from DefaultPublicRoutes.
func DefaultRouteSet() RouteSet {
	return NewRouteSet(DefaultPublicRoutes...)
}

// IsPublic reports whether route is in the set.
func (rs RouteSet) IsPublic(route string) bool {
	_, ok := rs.routes[normalize(route)]
	return ok
}

// Routes returns the members of the set in no particular order.
func (rs RouteSet) Routes() []string {
	out := make([]string, 0, len(rs.routes))
	for r := range rs.routes {
		out = append(out, r)
	}
	return out
}

func normalize(route string) string {
	if i := strings.IndexAny(route, "?#"); i >= 0 {
		route = route[:i]
	}
	if route == "" {
		return LandingRoute
	}
	if len(route) > 1 {
		route = strings.TrimRight(route, "/")
	}
	return route
}

// IsAdminRoute reports whether route belongs to the admin console.
func IsAdminRoute(route string) bool {
	route = normalize(route)
	return route == adminPrefix || strings.HasPrefix(route, adminPrefix+"/")
}

// ResolveRole decides which session governs route.
//
// Public routes never resolve to a role. Admin console routes resolve to
// RoleAdmin when an admin token exists; other routes resolve to
// RoleStandard when a user token exists. A tab carrying only an admin
// session with the isAdmin flag set still resolves to RoleAdmin off the
// admin console.
func ResolveRole(s store.Store, public RouteSet, route string) Role {
	if public.IsPublic(route) {
		return RoleNone
	}

	hasAdmin := store.Has(s, KeyAdminToken)
	hasUser := store.Has(s, KeyToken)

	if IsAdminRoute(route) {
		if hasAdmin {
			return RoleAdmin
		}
		return RoleNone
	}
	if hasUser {
		return RoleStandard
	}
	if hasAdmin && store.Lookup(s, KeyIsAdmin) == "true" {
		return RoleAdmin
	}
	return RoleNone
}

// Resolve returns the full Session for route.
func Resolve(s store.Store, public RouteSet, route string) Session {
	role := ResolveRole(s, public, route)
	return Session{Role: role, Token: TokenFor(s, role), Route: route}
}

// TokenFor returns the persisted token for role, or "".
func TokenFor(s store.Store, role Role) string {
	switch role {
	case RoleAdmin:
		return store.Lookup(s, KeyAdminToken)
	case RoleStandard:
		return store.Lookup(s, KeyToken)
	default:
		return ""
	}
}
