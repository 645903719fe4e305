package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/vetrinaimmobilihandmade/portale-immobili-handmade-sub001/internal/authclient"
	"github.com/vetrinaimmobilihandmade/portale-immobili-handmade-sub001/internal/metrics"
	"github.com/vetrinaimmobilihandmade/portale-immobili-handmade-sub001/internal/model"
	"github.com/vetrinaimmobilihandmade/portale-immobili-handmade-sub001/internal/roles"
	"github.com/vetrinaimmobilihandmade/portale-immobili-handmade-sub001/internal/session"
)

// Context keys set by SessionBridge for downstream handlers.
const (
	ContextSessionClient = "session_client" // *authclient.SessionClient
	ContextUser          = "user"           // *authclient.User (absent when anonymous)
	ContextUserID        = "user_id"        // string
)

// Redirect targets of the session bridge.
const (
	LoginPath     = "/auth/login"
	DashboardPath = "/dashboard"
)

var (
	protectedPrefixes = []string{"/dashboard", "/messages", "/admin"}
	authEntryPaths    = []string{"/auth/login", "/auth/register"}
	adminPrefixes     = []string{"/admin"}
)

// hasPathPrefix matches prefix as a whole path segment: "/admin" matches
// "/admin" and "/admin/x" but not "/administrator".
func hasPathPrefix(path, prefix string) bool {
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	return len(path) == len(prefix) || path[len(prefix)] == '/'
}

func matchesAny(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if hasPathPrefix(path, p) {
			return true
		}
	}
	return false
}

func isAuthEntry(path string) bool {
	path = strings.TrimSuffix(path, "/")
	for _, p := range authEntryPaths {
		if path == p {
			return true
		}
	}
	return false
}

// IsProtectedPath reports whether path requires an authenticated session.
func IsProtectedPath(path string) bool { return matchesAny(path, protectedPrefixes) }

// IsAdminPath reports whether path is restricted to editors and admins.
func IsAdminPath(path string) bool { return matchesAny(path, adminPrefixes) }

// MatchesSessionRoute reports whether the session bridge applies to path:
// /dashboard/*, /messages/*, /admin/*, /auth/login and /auth/register.
func MatchesSessionRoute(path string) bool {
	return IsProtectedPath(path) || isAuthEntry(path)
}

// Decision is the outcome of the session bridge for one request.
type Decision string

const (
	DecisionPass        Decision = "pass"
	DecisionLogin       Decision = "login"
	DecisionDashboard   Decision = "dashboard"
	DecisionAdminDenied Decision = "admin_denied"
)

// Target returns the redirect location of d, or "" for DecisionPass.
func (d Decision) Target() string {
	switch d {
	case DecisionLogin:
		return LoginPath
	case DecisionDashboard, DecisionAdminDenied:
		return DashboardPath
	}
	return ""
}

// Decide applies the session bridge decision table.  lookupRole is only
// called for admin paths with an authenticated user; a lookup error counts
// as "no role".
func Decide(ctx context.Context, path string, authenticated bool, lookupRole func(context.Context) (model.Role, error)) Decision {
	switch {
	case IsProtectedPath(path) && !authenticated:
		return DecisionLogin
	case authenticated && isAuthEntry(path):
		return DecisionDashboard
	case IsAdminPath(path) && authenticated:
		role := model.RoleNone
		if lookupRole != nil {
			if r, err := lookupRole(ctx); err == nil {
				role = r
			}
		}
		if !role.CanModerate() {
			return DecisionAdminDenied
		}
	}
	return DecisionPass
}

// SessionBridgeConfig configures SessionBridge.
type SessionBridgeConfig struct {
	// Skipper defines a function to skip the middleware.  The default skips
	// every path MatchesSessionRoute rejects.
	Skipper echomw.Skipper
	// Client is the hosted auth client.  Required.
	Client *authclient.Client
	// Profiles resolves roles for the admin check.  Required.
	Profiles roles.ProfileReader
	Logger   *zap.Logger
}

// SessionBridge refreshes the session cookies of every matching request and
// decides whether to let it through or redirect it.  Cookie mutations made
// by the auth client are mirrored onto the request (for downstream
// handlers) and onto the response (for the browser), so redirects carry the
// refreshed session too.  Any error while resolving the user is treated as
// "not authenticated".
func SessionBridge(cfg SessionBridgeConfig) echo.MiddlewareFunc {
	if cfg.Client == nil || cfg.Profiles == nil {
		panic("session bridge requires an auth client and a profile reader")
	}
	if cfg.Skipper == nil {
		cfg.Skipper = func(c echo.Context) bool { return !MatchesSessionRoute(c.Request().URL.Path) }
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("session")

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if cfg.Skipper(c) {
				return next(c)
			}
			req := c.Request()
			ctx := req.Context()
			path := req.URL.Path

			jar := session.NewLiveJar(req, c.Response())
			sc := cfg.Client.ForRequest(jar)
			c.Set(ContextSessionClient, sc)

			user, err := sc.GetUser(ctx)
			if err != nil {
				logger.Debug("session lookup failed, treating request as anonymous",
					zap.String("path", path), zap.Error(err))
				user = nil
			}
			if user != nil {
				c.Set(ContextUser, user)
				c.Set(ContextUserID, user.ID)
			}

			decision := Decide(ctx, path, user != nil, func(ctx context.Context) (model.Role, error) {
				role, err := cfg.Profiles.GetRole(ctx, user.ID)
				if err != nil {
					logger.Info("admin role lookup failed, denying",
						zap.String("user_id", user.ID), zap.Error(err))
				}
				return role, err
			})
			metrics.SessionDecisionsTotal.WithLabelValues(string(decision)).Inc()

			if target := decision.Target(); target != "" {
				return c.Redirect(http.StatusTemporaryRedirect, target)
			}
			return next(c)
		}
	}
}

// SessionClientFrom returns the session client stored by SessionBridge or
// by a handler that bound its own jar.
func SessionClientFrom(c echo.Context) (*authclient.SessionClient, bool) {
	sc, ok := c.Get(ContextSessionClient).(*authclient.SessionClient)
	return sc, ok && sc != nil
}

// UserFrom returns the authenticated user stored by SessionBridge.
func UserFrom(c echo.Context) (*authclient.User, bool) {
	u, ok := c.Get(ContextUser).(*authclient.User)
	return u, ok && u != nil
}
