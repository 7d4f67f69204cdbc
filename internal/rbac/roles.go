package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	RoleAdmin      = "admin"
	RoleSalesAgent = "sales_agent"
	RoleViewer     = "viewer"
	RoleSuperAdmin = "super_admin"
	RoleSupport    = "support" // hidden role
)

func IsSuperAdmin(role string) bool { return role == RoleSuperAdmin }

// KnownRole reports whether role is one of the roles above.
func KnownRole(role string) bool {
	switch role {
	case RoleAdmin, RoleSalesAgent, RoleViewer, RoleSuperAdmin, RoleSupport:
		return true
	}
	return false
}
