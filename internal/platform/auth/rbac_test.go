package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func contextWithRoles(userID string, roles ...string) context.Context {
	return WithPrincipal(context.Background(), userID, roles)
}

func TestRequireRole(t *testing.T) {
	tests := []struct {
		name    string
		roles   []string
		require []string
		allowed bool
	}{
		{"matching role", []string{RoleDoctor}, []string{RoleDoctor, RoleReceptionist}, true},
		{"admin bypass", []string{RoleAdmin}, []string{RoleDoctor}, true},
		{"wrong role", []string{RolePatient}, []string{RoleDoctor, RoleReceptionist}, false},
		{"no roles", nil, []string{RolePatient}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req = req.WithContext(contextWithRoles("u1", tt.roles...))
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			err := RequireRole(tt.require...)(func(c echo.Context) error {
				return c.String(http.StatusOK, "ok")
			})(c)

			if tt.allowed {
				if err != nil {
					t.Fatalf("expected no error, got %v", err)
				}
				if rec.Code != http.StatusOK {
					t.Errorf("expected 200, got %d", rec.Code)
				}
				return
			}
			httpErr, ok := err.(*echo.HTTPError)
			if !ok || httpErr.Code != http.StatusForbidden {
				t.Errorf("expected 403, got %v", err)
			}
		})
	}
}

func TestCanActForPatient(t *testing.T) {
	tests := []struct {
		name string
		ctx  context.Context
		want bool
	}{
		{"receptionist", contextWithRoles("staff-1", RoleReceptionist), true},
		{"doctor", contextWithRoles("doc-1", RoleDoctor), true},
		{"patient self", contextWithRoles("p-1", RolePatient), true},
		{"other patient", contextWithRoles("p-2", RolePatient), false},
		{"anonymous", context.Background(), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanActForPatient(tt.ctx, "p-1"); got != tt.want {
				t.Errorf("CanActForPatient() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestUserIDFromContext_Empty(t *testing.T) {
	if uid := UserIDFromContext(context.Background()); uid != "" {
		t.Errorf("expected empty user id, got %q", uid)
	}
}
