package rbac

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"crm-calls/internal/auth"

	"github.com/gin-gonic/gin"
)

func serveWithRole(role string, allowed ...string) int {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.GET("/x", func(c *gin.Context) {
		ctx := auth.WithPrincipal(c.Request.Context(), auth.Principal{UserID: "u", Role: role})
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}, RequireAnyRole(allowed...), func(c *gin.Context) {
		c.Status(200)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	return w.Code
}

func TestRequireAnyRole_SuperAdminBypasses(t *testing.T) {
	if code := serveWithRole(RoleSuperAdmin, RoleAdmin); code != 200 {
		t.Fatalf("expected 200, got %d", code)
	}
}

func TestRequireAnyRole_HiddenRoleDeniedUnlessAllowed(t *testing.T) {
	if code := serveWithRole(RoleSupport, RoleAdmin); code != 403 {
		t.Fatalf("expected 403, got %d", code)
	}
	if code := serveWithRole(RoleSupport, RoleSupport); code != 200 {
		t.Fatalf("expected 200 when explicitly allowed, got %d", code)
	}
}

func TestRequireAnyRole_ViewerCannotDial(t *testing.T) {
	if code := serveWithRole(RoleViewer, CanInitiateCalls()...); code != 403 {
		t.Fatalf("expected 403, got %d", code)
	}
	if code := serveWithRole(RoleSalesAgent, CanInitiateCalls()...); code != 200 {
		t.Fatalf("expected 200, got %d", code)
	}
}

func TestRequireAnyRole_MissingPrincipal(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/x", RequireAnyRole(RoleAdmin), func(c *gin.Context) { c.Status(200) })
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	if w.Code != 401 {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestAllowed(t *testing.T) {
	cases := []struct {
		role    string
		allowed []string
		want    bool
	}{
		{RoleAdmin, CanInitiateCalls(), true},
		{RoleViewer, CanInitiateCalls(), false},
		{RoleSuperAdmin, nil, true},
		{"", []string{RoleAdmin}, false},
	}
	for _, tc := range cases {
		if got := Allowed(tc.role, tc.allowed...); got != tc.want {
			t.Errorf("Allowed(%q, %v) = %v, want %v", tc.role, tc.allowed, got, tc.want)
		}
	}
}

func TestRequireAnyRole_ForbiddenEnvelope(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/x", func(c *gin.Context) {
		c.Request = c.Request.WithContext(auth.WithPrincipal(c.Request.Context(), auth.Principal{UserID: "u", Role: RoleViewer}))
		c.Next()
	}, RequireAnyRole(RoleAdmin), func(c *gin.Context) { c.Status(200) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"code":"FORBIDDEN"`) || !strings.Contains(w.Body.String(), `"success":false`) {
		t.Fatalf("unexpected body: %s", w.Body.String())
	}
}
