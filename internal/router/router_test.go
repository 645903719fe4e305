package router

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vetrinaimmobilihandmade/portale-immobili-handmade-sub001/internal/authclient"
	"github.com/vetrinaimmobilihandmade/portale-immobili-handmade-sub001/internal/authclient/authtest"
	"github.com/vetrinaimmobilihandmade/portale-immobili-handmade-sub001/internal/config"
	"github.com/vetrinaimmobilihandmade/portale-immobili-handmade-sub001/internal/handler"
	"github.com/vetrinaimmobilihandmade/portale-immobili-handmade-sub001/internal/middleware"
	"github.com/vetrinaimmobilihandmade/portale-immobili-handmade-sub001/internal/model"
	"github.com/vetrinaimmobilihandmade/portale-immobili-handmade-sub001/internal/queue"
)

const (
	viewerID = "11111111-1111-4111-8111-111111111111"
	sellerID = "22222222-2222-4222-8222-222222222222"
	editorID = "33333333-3333-4333-8333-333333333333"
	adminID  = "44444444-4444-4444-8444-444444444444"
)

type app struct {
	srv      *authtest.Server
	profiles *memProfiles
	listings *memListings
	events   *memEvents
	e        *echo.Echo
}

func newApp(t *testing.T) *app {
	t.Helper()
	srv := authtest.New(t)
	for id, email := range map[string]string{viewerID: "v@example.it", sellerID: "s@example.it", editorID: "e@example.it", adminID: "a@example.it"} {
		srv.AddUser(id, email, "secret12")
	}
	client, err := authclient.New(authclient.Config{URL: srv.URL, AnonKey: authtest.AnonKey})
	require.NoError(t, err)

	a := &app{
		srv: srv,
		profiles: &memProfiles{roles: map[string]model.Role{
			viewerID: model.RoleViewer,
			sellerID: model.RoleInserzionista,
			editorID: model.RoleEditor,
			adminID:  model.RoleAdmin,
		}, created: map[string]time.Time{
			viewerID: time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC),
		}},
		listings: newMemListings(),
		events:   &memEvents{},
		e:        echo.New(),
	}
	a.e.Use(middleware.SessionBridge(middleware.SessionBridgeConfig{Client: client, Profiles: a.profiles}))
	limit := middleware.NewTokenBucket(config.RateLimitConfig{}, nil, nil)
	cache := middleware.NewRedisCache(config.CacheConfig{}, nil, nil)

	listingH := handler.NewListingHandler(a.listings, a.profiles, a.events, client, nil)
	RegisterRoutes(a.e, nil)
	RegisterAuth(a.e, handler.NewAuthHandler(client, a.profiles, nil), limit)
	RegisterPublic(a.e, listingH, cache)
	RegisterDashboard(a.e, handler.NewDashboardHandler(a.profiles, a.listings, a.events, nil), listingH, a.profiles, nil, limit)
	RegisterAdmin(a.e, handler.NewAdminHandler(a.listings, a.profiles, a.events, nil), a.profiles, nil)
	return a
}

func (a *app) cookies(userID string) []*http.Cookie {
	access, refresh := a.srv.IssueSession(userID, time.Hour)
	return []*http.Cookie{
		{Name: authclient.AccessTokenCookie, Value: access},
		{Name: authclient.RefreshTokenCookie, Value: refresh},
	}
}

func (a *app) do(method, target, body string, cookies []*http.Cookie, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set(echo.HeaderContentType, contentType)
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

const vaseJSON = `{"kind":"handmade","title":"Vaso in ceramica","city":"Faenza","price_cents":4500,"material":"ceramica","contact_phone":"333 123 4567"}`

func TestOperationalEndpoints(t *testing.T) {
	a := newApp(t)
	assert.Equal(t, http.StatusOK, a.do(http.MethodGet, "/healthz", "", nil, "").Code)
	assert.Equal(t, http.StatusOK, a.do(http.MethodGet, "/readyz", "", nil, "").Code)

	a.do(http.MethodGet, "/dashboard", "", nil, "")
	rec := a.do(http.MethodGet, "/metrics", "", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "marketplace_session_decisions_total")
}

func TestDashboardShowsTrackedRole(t *testing.T) {
	a := newApp(t)

	rec := a.do(http.MethodGet, "/dashboard", "", a.cookies(viewerID), "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		UserID       string            `json:"user_id"`
		Role         string            `json:"role"`
		MemberSince  string            `json:"member_since"`
		Capabilities map[string]bool   `json:"capabilities"`
		Listings     []json.RawMessage `json:"listings"`
	}
	decode(t, rec, &body)
	assert.Equal(t, viewerID, body.UserID)
	assert.Equal(t, "viewer", body.Role)
	assert.Equal(t, "05/03/2024", body.MemberSince)
	assert.True(t, body.Capabilities["is_viewer"])
	assert.False(t, body.Capabilities["can_publish_listings"])

	rec = a.do(http.MethodGet, "/dashboard", "", a.cookies(editorID), "")
	decode(t, rec, &body)
	assert.True(t, body.Capabilities["can_moderate"])
	assert.True(t, body.Capabilities["can_publish_listings"])
}

func TestViewerCannotPublishUntilUpgraded(t *testing.T) {
	a := newApp(t)
	cookies := a.cookies(viewerID)

	rec := a.do(http.MethodPost, "/dashboard/listings", vaseJSON, cookies, echo.MIMEApplicationJSON)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "can_publish_listings")

	rec = a.do(http.MethodPost, "/dashboard/upgrade-role", "", cookies, echo.MIMEApplicationJSON)
	require.Equal(t, http.StatusOK, rec.Code)
	var up struct {
		Role         string          `json:"role"`
		Capabilities map[string]bool `json:"capabilities"`
	}
	decode(t, rec, &up)
	assert.Equal(t, "inserzionista", up.Role, "tracker reloads after the forced refresh")
	assert.True(t, up.Capabilities["can_publish_listings"])
	assert.Contains(t, a.srv.Calls(), "POST /auth/v1/token?grant_type=refresh_token")
	assert.Equal(t, []string{queue.TypeRoleChanged}, a.events.types())

	var refreshed []*http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.MaxAge > 0 {
			refreshed = append(refreshed, c)
		}
	}
	require.Len(t, refreshed, 2, "rotated session reaches the browser")

	rec = a.do(http.MethodPost, "/dashboard/listings", vaseJSON, refreshed, echo.MIMEApplicationJSON)
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestUpgradeFormRedirectsAndConflicts(t *testing.T) {
	a := newApp(t)

	rec := a.do(http.MethodPost, "/dashboard/upgrade-role", "", a.cookies(viewerID), echo.MIMEApplicationForm)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/dashboard", rec.Header().Get(echo.HeaderLocation))

	rec = a.do(http.MethodPost, "/dashboard/upgrade-role", "", a.cookies(editorID), echo.MIMEApplicationForm)
	assert.Equal(t, http.StatusConflict, rec.Code)
	role, _ := a.profiles.GetRole(context.Background(), editorID)
	assert.Equal(t, model.RoleEditor, role)
}

func TestListingLifecycle(t *testing.T) {
	a := newApp(t)
	seller := a.cookies(sellerID)

	rec := a.do(http.MethodPost, "/dashboard/listings", vaseJSON, seller, echo.MIMEApplicationJSON)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created model.Listing
	decode(t, rec, &created)
	assert.Equal(t, model.StatusPending, created.Status)
	assert.Equal(t, "vaso-in-ceramica", created.Slug)
	assert.Equal(t, "+393331234567", created.ContactPhone)
	id := created.ID

	// Pending listings are hidden from the public but visible to the owner.
	var page struct {
		Items []model.Listing `json:"items"`
	}
	decode(t, a.do(http.MethodGet, "/listings", "", nil, ""), &page)
	assert.Empty(t, page.Items)
	assert.Equal(t, http.StatusNotFound, a.do(http.MethodGet, "/listings/1", "", nil, "").Code)
	assert.Equal(t, http.StatusOK, a.do(http.MethodGet, "/listings/1", "", seller, "").Code)
	assert.Equal(t, http.StatusNotFound, a.do(http.MethodGet, "/listings/1", "", a.cookies(viewerID), "").Code)

	// Moderation.
	assert.Equal(t, http.StatusTemporaryRedirect, a.do(http.MethodGet, "/admin/listings", "", seller, "").Code)
	editor := a.cookies(editorID)
	rec = a.do(http.MethodGet, "/admin/listings", "", editor, "")
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &page)
	require.Len(t, page.Items, 1)
	rec = a.do(http.MethodPost, "/admin/listings/1/approve", "", editor, "")
	require.Equal(t, http.StatusOK, rec.Code)

	decode(t, a.do(http.MethodGet, "/listings?kind=handmade", "", nil, ""), &page)
	require.Len(t, page.Items, 1)
	assert.Equal(t, id, page.Items[0].ID)
	assert.Equal(t, http.StatusBadRequest, a.do(http.MethodGet, "/listings?kind=boat", "", nil, "").Code)

	// Editing sends the listing back to moderation; others cannot edit it.
	edit := `{"title":"Vaso grande","city":"Faenza","price_cents":6000,"material":"ceramica"}`
	assert.Equal(t, http.StatusForbidden, a.do(http.MethodPut, "/dashboard/listings/1", edit, editor, echo.MIMEApplicationJSON).Code)
	rec = a.do(http.MethodPatch, "/dashboard/listings/1", edit, seller, echo.MIMEApplicationJSON)
	require.Equal(t, http.StatusOK, rec.Code)
	var edited model.Listing
	decode(t, rec, &edited)
	assert.Equal(t, model.StatusPending, edited.Status)
	assert.Equal(t, "vaso-grande", edited.Slug)
	assert.Equal(t, http.StatusBadRequest,
		a.do(http.MethodPut, "/dashboard/listings/1", `{"kind":"real_estate","title":"x"}`, seller, echo.MIMEApplicationJSON).Code)

	rec = a.do(http.MethodPost, "/admin/listings/1/reject", "", editor, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, http.StatusNotFound, a.do(http.MethodPost, "/admin/listings/99/approve", "", editor, "").Code)

	var mine struct {
		Items []model.Listing `json:"items"`
	}
	decode(t, a.do(http.MethodGet, "/dashboard/listings", "", seller, ""), &mine)
	require.Len(t, mine.Items, 1)
	assert.Equal(t, model.StatusRejected, mine.Items[0].Status)

	assert.Equal(t, http.StatusForbidden, a.do(http.MethodDelete, "/dashboard/listings/1", "", editor, "").Code)
	assert.Equal(t, http.StatusNoContent, a.do(http.MethodDelete, "/dashboard/listings/1", "", seller, "").Code)
	assert.Equal(t, http.StatusNotFound, a.do(http.MethodDelete, "/dashboard/listings/1", "", seller, "").Code)

	assert.Equal(t, []string{
		queue.TypeListingChanged, // created
		queue.TypeListingChanged, // approved
		queue.TypeListingChanged, // updated
		queue.TypeListingChanged, // rejected
		queue.TypeListingChanged, // deleted
	}, a.events.types())
}

func TestRoleManagementIsAdminOnly(t *testing.T) {
	a := newApp(t)
	body := `{"role":"editor"}`
	target := "/admin/users/" + viewerID + "/role"

	rec := a.do(http.MethodPost, target, body, a.cookies(editorID), echo.MIMEApplicationJSON)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "is_admin")

	rec = a.do(http.MethodPost, target, body, a.cookies(adminID), echo.MIMEApplicationJSON)
	require.Equal(t, http.StatusOK, rec.Code)
	role, _ := a.profiles.GetRole(context.Background(), viewerID)
	assert.Equal(t, model.RoleEditor, role)

	rec = a.do(http.MethodPost, target, `{"role":"owner"}`, a.cookies(adminID), echo.MIMEApplicationJSON)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAnonymousFlowThroughTheApp(t *testing.T) {
	a := newApp(t)

	rec := a.do(http.MethodGet, "/dashboard/listings", "", nil, "")
	assert.Equal(t, http.StatusTemporaryRedirect, rec.Code)
	assert.Equal(t, "/auth/login", rec.Header().Get(echo.HeaderLocation))

	form := url.Values{"email": {"s@example.it"}, "password": {"secret12"}}
	rec = a.do(http.MethodPost, "/auth/login", form.Encode(), nil, echo.MIMEApplicationForm)
	require.Equal(t, http.StatusSeeOther, rec.Code)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 2)

	rec = a.do(http.MethodGet, "/auth/login", "", cookies, "")
	assert.Equal(t, http.StatusTemporaryRedirect, rec.Code)
	assert.Equal(t, "/dashboard", rec.Header().Get(echo.HeaderLocation))

	assert.Equal(t, http.StatusOK, a.do(http.MethodGet, "/dashboard/listings", "", cookies, "").Code)
}
