package auth

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"incident-desk/config"
)

func TestFromHeadersUsesConfiguredNames(t *testing.T) {
	h := http.Header{}
	h.Set("X-Auth-User", " alice ")
	h.Set("X-Auth-Groups", "Support, admin support")
	id, ok := FromHeaders(h, config.SecurityConfig{UserHeader: "X-Auth-User", RolesHeader: "X-Auth-Groups"})
	if !ok {
		t.Fatalf("expected identity")
	}
	if id.User != "alice" || strings.Join(id.Roles, ",") != "support,admin" {
		t.Fatalf("unexpected identity %+v", id)
	}
}

func TestFromHeadersRequiresUser(t *testing.T) {
	h := http.Header{}
	h.Set("X-Remote-Roles", "admin")
	if _, ok := FromHeaders(h, config.SecurityConfig{}); ok {
		t.Fatalf("roles without a user must not produce an identity")
	}
}

func TestIdentityContextRoundTrip(t *testing.T) {
	ctx := WithIdentity(context.Background(), &Identity{User: "bob"})
	id, ok := FromContext(ctx)
	if !ok || id.User != "bob" {
		t.Fatalf("identity not found in context")
	}
	if _, ok := FromContext(context.Background()); ok {
		t.Fatalf("empty context must not carry an identity")
	}
}
