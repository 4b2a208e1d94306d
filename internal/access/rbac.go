package access

import "strings"

// Role is one of the fixed roles in the identity model.
type Role string

const (
	RoleCustomer        Role = "customer"
	RoleDriver          Role = "driver"
	RoleDispatcher      Role = "dispatcher"
	RoleSecurityOfficer Role = "security_officer"
	RoleAdmin           Role = "admin"
	RoleSystem          Role = "system"
)

// Valid reports whether r is one of the fixed roles.
func (r Role) Valid() bool {
	switch r {
	case RoleCustomer, RoleDriver, RoleDispatcher, RoleSecurityOfficer, RoleAdmin, RoleSystem:
		return true
	default:
		return false
	}
}

// Permission is a two-segment "action:resource" string, e.g.
// "read:own_delivery".
type Permission string

const wildcard Permission = "*"

var grants = map[Role][]Permission{
	RoleCustomer: {
		"read:own_delivery",
		"write:own_delivery_consent",
		"read:own_notification",
	},
	RoleDriver: {
		"read:assigned_delivery",
		"write:delivery_status",
		"read:emergency",
		"write:emergency",
	},
	RoleDispatcher: {
		"read:all_delivery",
		"write:delivery_assignment",
		"read:emergency",
		"read:audit",
	},
	RoleSecurityOfficer: {
		"read:security_alert",
		"write:security_alert",
		"read:emergency",
		"read:audit",
		"read:location_history",
	},
	RoleAdmin:  {wildcard},
	RoleSystem: {wildcard},
}

// HasPermission reports whether role has been granted perm, either directly
// or via the wildcard "*" grant.
func HasPermission(role Role, perm Permission) bool {
	for _, g := range grants[role] {
		if g == wildcard || g == perm {
			return true
		}
	}
	return false
}

// Grants returns the permissions granted to role, for introspection
// endpoints like GET /privacy/permissions.
func Grants(role Role) []Permission {
	out := grants[role]
	cp := make([]Permission, len(out))
	copy(cp, out)
	return cp
}

// ParsePermission builds a Permission from an action and resource, e.g.
// ParsePermission("read", "own_delivery") == "read:own_delivery".
func ParsePermission(action, resource string) Permission {
	return Permission(strings.TrimSpace(action) + ":" + strings.TrimSpace(resource))
}
