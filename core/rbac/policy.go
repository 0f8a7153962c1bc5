// Package rbac maps caller roles to permissions through a casbin enforcer.
package rbac

import (
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
)

type Permission string

const (
	PermIncidentsView   Permission = "incidents.view"
	PermIncidentsEdit   Permission = "incidents.edit"
	PermIncidentsDelete Permission = "incidents.delete"
	PermCustomersView   Permission = "customers.view"
)

// Role grants its own permissions plus those of every role it inherits.
type Role struct {
	Name        string
	Permissions []Permission
	Inherits    []string
}

const modelText = `
[request_definition]
r = sub, act

[policy_definition]
p = sub, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && r.act == p.act
`

type Policy struct {
	enforcer *casbin.Enforcer
}

func DefaultRoles() []Role {
	return []Role{
		{Name: "viewer", Permissions: []Permission{PermIncidentsView, PermCustomersView}},
		{Name: "support", Permissions: []Permission{PermIncidentsEdit}, Inherits: []string{"viewer"}},
		{Name: "admin", Permissions: []Permission{PermIncidentsDelete}, Inherits: []string{"support"}},
	}
}

// NewPolicy builds an in-memory enforcer. An invalid model is a programming
// error, so it panics.
func NewPolicy(roles []Role) *Policy {
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		panic(err)
	}
	e, err := casbin.NewEnforcer(m)
	if err != nil {
		panic(err)
	}
	for _, role := range roles {
		name := normalizeRole(role.Name)
		if name == "" {
			continue
		}
		for _, perm := range role.Permissions {
			_, _ = e.AddPolicy(name, string(perm))
		}
		for _, parent := range role.Inherits {
			if parent = normalizeRole(parent); parent != "" {
				_, _ = e.AddGroupingPolicy(name, parent)
			}
		}
	}
	return &Policy{enforcer: e}
}

// Allowed reports whether any of roles grants perm.
func (p *Policy) Allowed(roles []string, perm Permission) bool {
	if p == nil || p.enforcer == nil || perm == "" {
		return false
	}
	for _, role := range roles {
		role = normalizeRole(role)
		if role == "" {
			continue
		}
		ok, err := p.enforcer.Enforce(role, string(perm))
		if err == nil && ok {
			return true
		}
	}
	return false
}

func normalizeRole(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
