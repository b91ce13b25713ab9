package server

import (
	"fmt"
	"net/http"

	"authsvc/internal/auth"
)

const RolePublic = "PUBLIC"

var anyAuthenticated = []string{auth.RoleUser, auth.RoleStudent, auth.RoleTeacher, auth.RoleAdmin}

type AccessRule struct {
	Method string
	Path   string
	Roles  []string
}

var endpointAccess = []AccessRule{
	{Method: http.MethodPost, Path: "/auth/register", Roles: []string{RolePublic}},
	{Method: http.MethodPost, Path: "/auth/login", Roles: []string{RolePublic}},
	{Method: http.MethodPost, Path: "/auth/logout", Roles: []string{RolePublic}},
	{Method: http.MethodPost, Path: "/auth/verify/email", Roles: []string{RolePublic}},
	{Method: http.MethodGet, Path: "/auth/verify/email", Roles: []string{RolePublic}},
	{Method: http.MethodPost, Path: "/auth/forgot-password", Roles: []string{RolePublic}},
	{Method: http.MethodPost, Path: "/auth/reset-password", Roles: []string{RolePublic}},
	{Method: http.MethodGet, Path: "/auth/oauth/{provider}/start", Roles: []string{RolePublic}},
	{Method: http.MethodGet, Path: "/auth/oauth/{provider}/callback", Roles: []string{RolePublic}},

	{Method: http.MethodGet, Path: "/auth/user/me", Roles: anyAuthenticated},
	{Method: http.MethodPut, Path: "/auth/user", Roles: anyAuthenticated},
	{Method: http.MethodGet, Path: "/auth/admin/users", Roles: []string{auth.RoleAdmin}},
}

func accessRoles(method, path string) []string {
	for _, rule := range endpointAccess {
		if rule.Method == method && rule.Path == path {
			return rule.Roles
		}
	}
	panic(fmt.Sprintf("missing access roles for %s %s", method, path))
}

func roleAllowed(roles []string, role string) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

func isPublicAccess(roles []string) bool {
	return roleAllowed(roles, RolePublic)
}
