package middleware // middleware provides shared request processing for handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/vetrinaimmobilihandmade/portale-immobili-handmade-sub001/internal/model"
	"github.com/vetrinaimmobilihandmade/portale-immobili-handmade-sub001/internal/roles"
)

// ContextRoles is the echo context key holding the request's *roles.Tracker.
const ContextRoles = "roles"

// RoleState runs a role tracker for the duration of the request.  It must
// be mounted after SessionBridge, whose session client the tracker
// subscribes to.  The subscription is released when the handler returns.
func RoleState(profiles roles.ProfileReader, logger *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			sc, ok := SessionClientFrom(c)
			if !ok {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
			}
			tracker := roles.NewTracker(sc, profiles, logger)
			defer tracker.Close()
			tracker.Start(c.Request().Context())
			c.Set(ContextRoles, tracker)
			return next(c)
		}
	}
}

// TrackerFrom returns the tracker stored by RoleState.
func TrackerFrom(c echo.Context) (*roles.Tracker, bool) {
	t, ok := c.Get(ContextRoles).(*roles.Tracker)
	return t, ok && t != nil
}

// RequireCapability returns a middleware that rejects the request with 403
// unless the tracked role satisfies allowed.  It assumes RoleState ran
// before it.  name appears in the error body so clients know what is
// missing.
func RequireCapability(name string, allowed func(model.Role) bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			t, ok := TrackerFrom(c)
			if !ok {
				return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
			}
			if !allowed(t.State().Role) {
				return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden", "missing": name})
			}
			return next(c)
		}
	}
}
