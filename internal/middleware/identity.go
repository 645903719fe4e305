package middleware

// identity.go defines helpers shared across middleware files.  userID pulls
// the authenticated user id stored by SessionBridge; when no session is
// present "guest" is returned so it can still be used as a key part.

import "github.com/labstack/echo/v4"

// userID extracts the user identifier from the echo context.  It returns
// "guest" when no user is authenticated.
func userID(c echo.Context) string {
	if v, ok := c.Get(ContextUserID).(string); ok && v != "" {
		return v
	}
	return "guest"
}
