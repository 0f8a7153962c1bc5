package routegroups

import "net/http"

// Guards wraps handlers with identity resolution and a permission check.
type Guards struct {
	WithIdentity      func(http.HandlerFunc) http.HandlerFunc
	RequirePermission func(string) func(http.HandlerFunc) http.HandlerFunc
}

func (g Guards) SessionPerm(perm string, h http.HandlerFunc) http.HandlerFunc {
	return g.WithIdentity(g.RequirePermission(perm)(h))
}
