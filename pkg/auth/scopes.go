// Package auth implements the dual-mode auth module (C8): API-key and OIDC
// bearer-token validation, precedence, a path skip list, and the device
// authorization discovery document. Scope naming is adapted from the
// teacher's pkg/rbac permission constants (resource:action pattern,
// trailing "*" wildcard), trimmed to what a debug/inspection control plane
// actually needs.
package auth

import "github.com/kubently/kubently/pkg/kubently"

// Kubently permission scopes, attached to an AuthContext on successful
// authentication.
const (
	ScopeClusterView Permission = "cluster:view"
	ScopeClusterExec Permission = "cluster:exec"
	ScopeAdmin       Permission = "admin:*"
)

// Permission mirrors the teacher's rbac.Permission: a resource:action
// string, or a resource:* wildcard.
type Permission = string

// Allow reports whether ac is entitled to scope. ScopeAdmin is a
// superuser bypass: any identity holding it is entitled to every scope,
// not just ones with an "admin:" prefix.
func Allow(ac kubently.AuthContext, scope Permission) bool {
	if ac.HasPermission(ScopeAdmin) {
		return true
	}
	return ac.HasPermission(scope)
}
