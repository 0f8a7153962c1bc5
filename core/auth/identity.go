// Package auth resolves the caller identity forwarded by the fronting proxy.
package auth

import (
	"context"
	"net/http"
	"strings"

	"incident-desk/config"
)

type contextKey string

const IdentityContextKey contextKey = "identity"

type Identity struct {
	User  string
	Roles []string
}

// FromHeaders reads the user and roles headers configured in cfg. The caller
// decides whether the peer is allowed to assert them.
func FromHeaders(h http.Header, cfg config.SecurityConfig) (*Identity, bool) {
	userHeader := cfg.UserHeader
	if userHeader == "" {
		userHeader = "X-Remote-User"
	}
	rolesHeader := cfg.RolesHeader
	if rolesHeader == "" {
		rolesHeader = "X-Remote-Roles"
	}
	user := strings.TrimSpace(h.Get(userHeader))
	if user == "" {
		return nil, false
	}
	return &Identity{User: user, Roles: ParseRoles(h.Get(rolesHeader))}, true
}

// ParseRoles splits a comma or space separated role list, lower-cased and
// without duplicates.
func ParseRoles(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == ' ' || r == ';' })
	seen := map[string]struct{}{}
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		role := strings.ToLower(strings.TrimSpace(f))
		if role == "" {
			continue
		}
		if _, ok := seen[role]; ok {
			continue
		}
		seen[role] = struct{}{}
		out = append(out, role)
	}
	return out
}

func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, IdentityContextKey, id)
}

func FromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(IdentityContextKey).(*Identity)
	return id, ok && id != nil
}
