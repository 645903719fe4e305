// Package handler defines the HTTP handlers of the marketplace: the auth
// flow around the hosted auth service, the user dashboard, listing
// management for inserzionisti and moderation for editors and admins.
package handler

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/vetrinaimmobilihandmade/portale-immobili-handmade-sub001/internal/model"
)

// Redirect targets shared by the auth and dashboard handlers.
const (
	LoginPath     = "/auth/login"
	DashboardPath = "/dashboard"
	CallbackPath  = "/auth/callback"
)

// ProfileStore is the slice of the profile repository the handlers use.
type ProfileStore interface {
	GetRole(ctx context.Context, userID string) (model.Role, error)
	GetByID(ctx context.Context, userID string) (model.Profile, error)
	EnsureViewer(ctx context.Context, userID string) error
	UpgradeToInserzionista(ctx context.Context, userID string) (model.Role, error)
	SetRole(ctx context.Context, userID string, role model.Role) error
}

// ListingStore is the slice of the listing repository the handlers use.
type ListingStore interface {
	Create(ctx context.Context, l *model.Listing) error
	GetByID(ctx context.Context, id uint64) (*model.Listing, error)
	ListPublished(ctx context.Context, f model.ListingFilter) ([]*model.Listing, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*model.Listing, error)
	ListByStatus(ctx context.Context, status model.ListingStatus) ([]*model.Listing, error)
	Update(ctx context.Context, l *model.Listing) error
	DeleteByIDAndOwner(ctx context.Context, id uint64, ownerID string) error
	SetStatus(ctx context.Context, id uint64, status model.ListingStatus) error
}

// EventPublisher publishes domain events to the message broker.
type EventPublisher interface {
	Publish(ctx context.Context, eventType string, event any) error
}

// safeNext restricts a post-login destination to a same-origin relative
// path.  Anything else (absolute URLs, protocol-relative "//host" forms,
// backslash tricks, control characters) falls back to the dashboard.
func safeNext(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || !strings.HasPrefix(raw, "/") {
		return DashboardPath
	}
	if strings.HasPrefix(raw, "//") || strings.HasPrefix(raw, `/\`) {
		return DashboardPath
	}
	if strings.ContainsAny(raw, "\r\n\t\\") {
		return DashboardPath
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "" || u.Host != "" || u.User != nil {
		return DashboardPath
	}
	return raw
}

// requestOrigin returns scheme://host of the inbound request.
func requestOrigin(c echo.Context) string {
	return c.Scheme() + "://" + c.Request().Host
}

// loginWithError is the login page URL carrying an error code or message.
func loginWithError(msg string) string {
	return LoginPath + "?error=" + url.QueryEscape(msg)
}

// parseID reads a positive numeric path parameter.
func parseID(c echo.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}

// isBrowserForm reports whether the request body is an HTML form post;
// those get redirects while JSON clients get JSON.
func isBrowserForm(c echo.Context) bool {
	ct := c.Request().Header.Get(echo.HeaderContentType)
	return strings.HasPrefix(ct, echo.MIMEApplicationForm) || strings.HasPrefix(ct, echo.MIMEMultipartForm)
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, echo.Map{"error": msg})
}
