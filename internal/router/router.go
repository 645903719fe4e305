// Package router registers the HTTP routes of the marketplace on an Echo
// instance.  Route groups mirror the access levels: public browsing, the
// auth flow, the authenticated dashboard and the moderation area.
package router

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/vetrinaimmobilihandmade/portale-immobili-handmade-sub001/internal/handler"
	"github.com/vetrinaimmobilihandmade/portale-immobili-handmade-sub001/internal/middleware"
	"github.com/vetrinaimmobilihandmade/portale-immobili-handmade-sub001/internal/model"
	"github.com/vetrinaimmobilihandmade/portale-immobili-handmade-sub001/internal/roles"
)

// RegisterRoutes registers the unauthenticated operational endpoints.
func RegisterRoutes(e *echo.Echo, db handler.Pinger) {
	e.GET("/healthz", handler.Health)
	e.GET("/readyz", handler.Ready(db))
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

// RegisterAuth registers the auth flow.  /auth/login and /auth/register
// pass through the session bridge (mounted globally), which sends signed-in
// users to the dashboard.  limit guards the credential endpoints.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, limit echo.MiddlewareFunc) {
	g := e.Group("/auth")
	g.GET("/callback", a.Callback)
	g.GET("/login", a.LoginPage)
	g.POST("/login", a.Login, limit)
	g.GET("/register", a.RegisterPage)
	g.POST("/register", a.Register, limit)
	g.POST("/magic-link", a.MagicLink, limit)
	g.POST("/logout", a.Logout)
}

// RegisterPublic registers the public listing browse endpoints behind the
// response cache.
func RegisterPublic(e *echo.Echo, l *handler.ListingHandler, cache echo.MiddlewareFunc) {
	g := e.Group("/listings", cache)
	g.GET("", l.List)
	g.GET("/:id", l.Get)
}

// RegisterDashboard registers the authenticated area.  The session bridge
// has already redirected anonymous requests; RoleState attaches the role
// tracker the handlers read.
func RegisterDashboard(e *echo.Echo, d *handler.DashboardHandler, l *handler.ListingHandler,
	profiles roles.ProfileReader, logger *zap.Logger, limit echo.MiddlewareFunc) {
	g := e.Group("/dashboard", middleware.RoleState(profiles, logger))
	g.GET("", d.Dashboard)
	g.POST("/upgrade-role", d.UpgradeRole)

	publish := middleware.RequireCapability("can_publish_listings", model.Role.CanPublishListings)
	lg := g.Group("/listings", publish)
	lg.GET("", l.Mine)
	lg.POST("", l.Create, limit)
	lg.PUT("/:id", l.Update)
	lg.PATCH("/:id", l.Update)
	lg.DELETE("/:id", l.Delete)
}

// RegisterAdmin registers the moderation area.  The session bridge already
// denies non-moderators; RequireCapability repeats the check for API
// clients and adds the admin-only role management.
func RegisterAdmin(e *echo.Echo, a *handler.AdminHandler, profiles roles.ProfileReader, logger *zap.Logger) {
	g := e.Group("/admin",
		middleware.RoleState(profiles, logger),
		middleware.RequireCapability("can_moderate", model.Role.CanModerate),
	)
	g.GET("/listings", a.Queue)
	g.POST("/listings/:id/approve", a.Approve)
	g.POST("/listings/:id/reject", a.Reject)

	isAdmin := func(r model.Role) bool { return r == model.RoleAdmin }
	g.POST("/users/:id/role", a.SetRole, middleware.RequireCapability("is_admin", isAdmin))
}
