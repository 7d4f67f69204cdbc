package rbac

import (
	"crm-calls/internal/auth"
	"crm-calls/pkg/apperr"
	"crm-calls/pkg/httpkit"

	"github.com/gin-gonic/gin"
)

var (
	errNoRole    = apperr.New(apperr.KindUnauthorized, "Authentication required").WithCode("AUTH_REQUIRED")
	errForbidden = apperr.New(apperr.KindForbidden, "You are not allowed to perform this action").WithCode("FORBIDDEN")
)

// Allowed reports whether role passes a check for the allowed roles.
// super_admin always passes; the hidden support role only when listed.
func Allowed(role string, allowed ...string) bool {
	if IsSuperAdmin(role) {
		return true
	}
	for _, r := range allowed {
		if r == role {
			return true
		}
	}
	return false
}

// RequireAnyRole aborts with 403 unless the authenticated caller's role
// passes Allowed. It must run after auth.RequireAccessToken.
func RequireAnyRole(allowed ...string) gin.HandlerFunc {
	allowed = append([]string(nil), allowed...)
	return func(c *gin.Context) {
		role, err := auth.Role(c.Request.Context())
		if err != nil {
			httpkit.WriteError(c, errNoRole, false)
			return
		}
		if !Allowed(role, allowed...) {
			httpkit.WriteError(c, errForbidden, false)
			return
		}
		c.Next()
	}
}

// CanInitiateCalls lists the roles allowed to dial leads.
func CanInitiateCalls() []string {
	return []string{RoleAdmin, RoleSalesAgent}
}
