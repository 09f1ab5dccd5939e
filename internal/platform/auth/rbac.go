package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

const (
	RoleAdmin        = "admin"
	RoleDoctor       = "doctor"
	RoleReceptionist = "receptionist"
	RolePatient      = "patient"
)

// StaffRoles may act on any patient's appointments.
var StaffRoles = []string{RoleAdmin, RoleDoctor, RoleReceptionist}

// RequireRole admits callers holding at least one of roles. Admin always passes.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if HasRole(c.Request().Context(), roles...) {
				return next(c)
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(roles, " or ")))
		}
	}
}

// HasRole reports whether the caller holds one of roles or is an admin.
func HasRole(ctx context.Context, roles ...string) bool {
	for _, has := range RolesFromContext(ctx) {
		if has == RoleAdmin {
			return true
		}
		for _, want := range roles {
			if has == want {
				return true
			}
		}
	}
	return false
}

// CanActForPatient reports whether the caller may read or change the
// appointments of patientID: staff always, patients only for themselves.
func CanActForPatient(ctx context.Context, patientID string) bool {
	if HasRole(ctx, StaffRoles...) {
		return true
	}
	return HasRole(ctx, RolePatient) && UserIDFromContext(ctx) == patientID
}
