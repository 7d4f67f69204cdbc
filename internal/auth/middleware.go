package auth

import (
	"strings"
	"time"

	"crm-calls/pkg/apperr"
	"crm-calls/pkg/httpkit"

	"github.com/gin-gonic/gin"
)

const (
	authorizationHeader = "Authorization"
	bearerPrefix        = "Bearer "

	// QueryTokenParam carries the access token for clients that cannot set
	// headers, such as a browser EventSource.
	QueryTokenParam = "access_token"
)

var (
	errMissingToken = apperr.New(apperr.KindUnauthorized, "Authentication required").WithCode("AUTH_REQUIRED")
	errInvalidToken = apperr.New(apperr.KindUnauthorized, "Invalid or expired token").WithCode("AUTH_INVALID_TOKEN")
)

// RequireAccessToken verifies a bearer access token and stores the caller's
// Principal on the request context. Role checks live in internal/rbac.
func RequireAccessToken(m *Manager) gin.HandlerFunc {
	return authenticate(m, false)
}

// RequireStreamToken is RequireAccessToken that also accepts the token in
// the access_token query parameter. Only mount it on GET stream routes.
func RequireStreamToken(m *Manager) gin.HandlerFunc {
	return authenticate(m, true)
}

func authenticate(m *Manager, allowQuery bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		tok := bearerToken(c.GetHeader(authorizationHeader))
		if tok == "" && allowQuery {
			tok = strings.TrimSpace(c.Query(QueryTokenParam))
		}
		if tok == "" {
			httpkit.WriteError(c, errMissingToken, false)
			return
		}

		claims, err := m.Verify(tok, TokenTypeAccess, time.Now())
		if err != nil {
			httpkit.WriteError(c, errInvalidToken, false)
			return
		}

		p := claims.Principal()
		c.Request = c.Request.WithContext(WithPrincipal(c.Request.Context(), p))
		c.Set("user_id", p.UserID)
		c.Set("role", p.Role)
		c.Next()
	}
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if len(header) <= len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(header[len(bearerPrefix):])
}
