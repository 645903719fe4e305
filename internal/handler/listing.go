package handler

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/vetrinaimmobilihandmade/portale-immobili-handmade-sub001/internal/authclient"
	"github.com/vetrinaimmobilihandmade/portale-immobili-handmade-sub001/internal/middleware"
	"github.com/vetrinaimmobilihandmade/portale-immobili-handmade-sub001/internal/model"
	"github.com/vetrinaimmobilihandmade/portale-immobili-handmade-sub001/internal/queue"
	"github.com/vetrinaimmobilihandmade/portale-immobili-handmade-sub001/internal/repository"
	"github.com/vetrinaimmobilihandmade/portale-immobili-handmade-sub001/internal/session"
	"github.com/vetrinaimmobilihandmade/portale-immobili-handmade-sub001/internal/utils"
)

// ListingHandler serves public browsing and owner management of listings.
type ListingHandler struct {
	Listings ListingStore
	Profiles ProfileStore
	Events   EventPublisher
	Client   *authclient.Client // optional; lets owners preview unpublished listings
	Logger   *zap.Logger
}

func NewListingHandler(listings ListingStore, profiles ProfileStore, events EventPublisher, client *authclient.Client, logger *zap.Logger) *ListingHandler {
	if listings == nil || profiles == nil || events == nil {
		panic("nil dependency passed to NewListingHandler")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ListingHandler{Listings: listings, Profiles: profiles, Events: events, Client: client, Logger: logger.Named("listings")}
}

// ----- DTOs -----

type listingReq struct {
	Kind         string `json:"kind"`
	Title        string `json:"title"`
	Description  string `json:"description"`
	PriceCents   uint64 `json:"price_cents"`
	City         string `json:"city"`
	ContactPhone string `json:"contact_phone"`
	SquareMeters uint32 `json:"square_meters"`
	Rooms        uint8  `json:"rooms"`
	Material     string `json:"material"`
	Quantity     uint32 `json:"quantity"`
}

type listingPage struct {
	Items  []*model.Listing `json:"items"`
	Limit  int              `json:"limit"`
	Offset int              `json:"offset"`
}

// toListing validates req for kind and copies it into a model value.  The
// returned string is a client-facing error, empty when req is valid.
func (req listingReq) toListing(kind model.ListingKind) (*model.Listing, string) {
	title := strings.TrimSpace(req.Title)
	switch {
	case !kind.Valid():
		return nil, "kind must be real_estate or handmade"
	case title == "":
		return nil, "title required"
	case utf8.RuneCountInString(title) > 200:
		return nil, "title too long"
	case strings.TrimSpace(req.City) == "":
		return nil, "city required"
	case req.PriceCents == 0:
		return nil, "price_cents must be positive"
	}
	l := &model.Listing{
		Kind:         kind,
		Title:        title,
		Slug:         utils.Slugify(title),
		Description:  strings.TrimSpace(req.Description),
		PriceCents:   req.PriceCents,
		City:         strings.TrimSpace(req.City),
		ContactPhone: utils.NormalizePhone(req.ContactPhone),
	}
	if l.Slug == "" {
		return nil, "title must contain letters or digits"
	}
	if kind == model.KindRealEstate {
		if req.SquareMeters == 0 {
			return nil, "square_meters required for real estate"
		}
		l.SquareMeters, l.Rooms = req.SquareMeters, req.Rooms
	} else {
		if strings.TrimSpace(req.Material) == "" {
			return nil, "material required for handmade items"
		}
		l.Material = strings.TrimSpace(req.Material)
		l.Quantity = req.Quantity
		if l.Quantity == 0 {
			l.Quantity = 1
		}
	}
	return l, ""
}

func (h *ListingHandler) publish(ctx context.Context, l *model.Listing, actorID, action string) {
	ev := queue.ListingChangedEvent{
		ListingID: l.ID,
		OwnerID:   l.OwnerID,
		ActorID:   actorID,
		Kind:      string(l.Kind),
		Action:    action,
		Status:    string(l.Status),
		Title:     l.Title,
		ChangedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if err := h.Events.Publish(ctx, queue.TypeListingChanged, ev); err != nil {
		h.Logger.Warn("publish listing change failed", zap.Uint64("listing_id", l.ID), zap.Error(err))
	}
}

// List handles GET /listings?kind=&city=&q=&limit=&offset=.  Only published
// listings are returned.
func (h *ListingHandler) List(c echo.Context) error {
	f := model.ListingFilter{
		City:  c.QueryParam("city"),
		Query: c.QueryParam("q"),
	}
	if k := strings.TrimSpace(c.QueryParam("kind")); k != "" {
		f.Kind = model.ListingKind(k)
		if !f.Kind.Valid() {
			return badRequest(c, "invalid kind")
		}
	}
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 100 {
			return badRequest(c, "limit must be between 1 and 100")
		}
		f.Limit = n
	} else {
		f.Limit = 20
	}
	if v := c.QueryParam("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return badRequest(c, "invalid offset")
		}
		f.Offset = n
	}
	items, err := h.Listings.ListPublished(c.Request().Context(), f)
	if err != nil {
		h.Logger.Error("list published failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to list listings"})
	}
	return c.JSON(http.StatusOK, listingPage{Items: items, Limit: f.Limit, Offset: f.Offset})
}

// Get handles GET /listings/:id.  Unpublished listings are only shown to
// their owner and to moderators; everyone else gets 404.
func (h *ListingHandler) Get(c echo.Context) error {
	id, ok := parseID(c, "id")
	if !ok {
		return badRequest(c, "invalid id")
	}
	ctx := c.Request().Context()
	l, err := h.Listings.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrListingNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "listing not found"})
		}
		h.Logger.Error("get listing failed", zap.Uint64("id", id), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to load listing"})
	}
	if l.Status != model.StatusPublished && !h.canPreview(c, l) {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "listing not found"})
	}
	return c.JSON(http.StatusOK, l)
}

// canPreview resolves the caller's session, if any, and reports whether
// they own l or may moderate.
func (h *ListingHandler) canPreview(c echo.Context, l *model.Listing) bool {
	sc, ok := middleware.SessionClientFrom(c)
	if !ok {
		if h.Client == nil {
			return false
		}
		sc = h.Client.ForRequest(session.NewLiveJar(c.Request(), c.Response()))
	}
	ctx := c.Request().Context()
	user, err := sc.GetUser(ctx)
	if err != nil || user == nil {
		return false
	}
	if user.ID == l.OwnerID {
		return true
	}
	role, err := h.Profiles.GetRole(ctx, user.ID)
	return err == nil && role.CanModerate()
}

func ownerID(c echo.Context) (string, bool) {
	t, ok := middleware.TrackerFrom(c)
	if !ok {
		return "", false
	}
	id := t.State().UserID
	return id, id != ""
}

// Mine handles GET /dashboard/listings.
func (h *ListingHandler) Mine(c echo.Context) error {
	owner, ok := ownerID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	items, err := h.Listings.ListByOwner(c.Request().Context(), owner)
	if err != nil {
		h.Logger.Error("list own listings failed", zap.String("owner_id", owner), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to list listings"})
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items})
}

// Create handles POST /dashboard/listings.  New listings wait for
// moderation.
func (h *ListingHandler) Create(c echo.Context) error {
	owner, ok := ownerID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var req listingReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	l, msg := req.toListing(model.ListingKind(strings.TrimSpace(req.Kind)))
	if msg != "" {
		return badRequest(c, msg)
	}
	l.OwnerID = owner

	ctx := c.Request().Context()
	if err := h.Listings.Create(ctx, l); err != nil {
		h.Logger.Error("create listing failed", zap.String("owner_id", owner), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to create listing"})
	}
	h.publish(ctx, l, owner, "created")
	return c.JSON(http.StatusCreated, l)
}

// Update handles PUT/PATCH /dashboard/listings/:id.  The kind of a listing
// cannot change; edits send it back to moderation.
func (h *ListingHandler) Update(c echo.Context) error {
	owner, ok := ownerID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	id, ok := parseID(c, "id")
	if !ok {
		return badRequest(c, "invalid id")
	}
	ctx := c.Request().Context()
	existing, err := h.Listings.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrListingNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "listing not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "update failed"})
	}
	if existing.OwnerID != owner {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
	}

	var req listingReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	if k := strings.TrimSpace(req.Kind); k != "" && model.ListingKind(k) != existing.Kind {
		return badRequest(c, "kind cannot be changed")
	}
	l, msg := req.toListing(existing.Kind)
	if msg != "" {
		return badRequest(c, msg)
	}
	l.ID, l.OwnerID = id, owner

	if err := h.Listings.Update(ctx, l); err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows), errors.Is(err, repository.ErrListingNotFound):
			return c.JSON(http.StatusNotFound, echo.Map{"error": "listing not found"})
		case errors.Is(err, repository.ErrForbidden):
			return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
		default:
			h.Logger.Error("update listing failed", zap.Uint64("id", id), zap.Error(err))
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "update failed"})
		}
	}
	h.publish(ctx, l, owner, "updated")
	return c.JSON(http.StatusOK, l)
}

// Delete handles DELETE /dashboard/listings/:id.
func (h *ListingHandler) Delete(c echo.Context) error {
	owner, ok := ownerID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	id, ok := parseID(c, "id")
	if !ok {
		return badRequest(c, "invalid id")
	}
	ctx := c.Request().Context()
	if err := h.Listings.DeleteByIDAndOwner(ctx, id, owner); err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows), errors.Is(err, repository.ErrListingNotFound):
			return c.JSON(http.StatusNotFound, echo.Map{"error": "listing not found"})
		case errors.Is(err, repository.ErrForbidden):
			return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
		default:
			h.Logger.Error("delete listing failed", zap.Uint64("id", id), zap.Error(err))
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "delete failed"})
		}
	}
	h.publish(ctx, &model.Listing{ID: id, OwnerID: owner}, owner, "deleted")
	return c.NoContent(http.StatusNoContent)
}
